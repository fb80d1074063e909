// Package limiter provides a distributed rate limiter based on the Token
// Bucket algorithm: many independent processes share one bucket in an
// external store and agree on a single permit-issuing schedule.
//
// The primary entry point is the RateLimiter interface:
//
//	granted, err := limiter.Acquire(ctx, blocking)
//
// With blocking false, Acquire makes exactly one debit attempt against the
// store and returns the outcome immediately. With blocking true, it re-polls
// at the configured CheckEvery interval until a token is granted or ctx is
// done. AcquireAsync has identical semantics but runs the loop in its own
// goroutine and delivers the outcome on a channel the caller can select on.
//
// # Overview
//
// Each limiter owns one bucket, identified by its KeyPrefix:
//
//   - The bucket holds up to MaxBucketSize tokens and refills continuously
//     at RequestsPerSecond. Fractional values are valid for both.
//   - Each granted acquisition consumes 1 token.
//   - Every limiter constructed with the same KeyPrefix against the same
//     store shares the same bucket; distinct prefixes never interfere.
//
// Unlike fixed-window counters, token buckets naturally support bursts while
// still enforcing a long-term average rate.
//
// # Backends
//
// Three implementations share the contract and the arithmetic:
//
//   - RedisLimiter: the distributed backend. The whole read/refill/debit/write
//     cycle runs as a Lua script inside Redis, so it is atomic per key no
//     matter how many processes race on the bucket, and it uses the Redis
//     server's clock rather than any caller's.
//
//   - MongoLimiter: a distributed backend for deployments without Redis. It
//     replaces the atomic script with optimistic locking: versioned bucket
//     documents and compare-and-swap updates, retried with jitter on
//     conflict. Timing comes from the Mongo server's clock.
//
//   - MemoryLimiter: an in-process bucket behind a mutex. Its state is local
//     to the process, so it cannot enforce a global limit across replicas;
//     use it in tests and single-instance deployments.
//
// # Concurrency
//
// Caller-side code holds no locks on the distributed paths; correctness
// rests on the store serializing updates per key (Lua execution for Redis,
// version filters for Mongo). No ordering is promised between callers racing
// on one bucket: tokens are granted in store arrival order, with no fairness
// or FIFO queuing.
//
// Blocking acquisitions suspend only between failed attempts, never inside
// one; an attempt is a single store round trip. There is no caller-side
// caching of token state, so every decision is authoritative.
//
// # Context and Error Policy
//
// Blocking acquisition has no attempt cap or timeout of its own, but the
// wait is cancellable: Acquire returns ctx.Err() when the context is done,
// which is the only way to abandon a blocking acquisition.
//
// Store errors (unreachable server, script failure) surface immediately from
// the current attempt and are never retried by the acquisition loop; only
// token unavailability re-polls. There is no fallback to local limiting when
// the store is down; callers decide their availability vs protection
// tradeoff.
//
// # Storage Details
//
// The bucket key is the configured KeyPrefix plus a fixed ":rate_limit"
// suffix. RedisLimiter stores a hash with two fields:
//
//   - "tokens": current token balance (float)
//   - "last_refill": last update time as seconds since epoch (float)
//
// MongoLimiter stores one document per bucket with the same two values plus
// a version token and an expiry timestamp. Both backends refresh a TTL
// (StateTTL, default 24h) on every attempt, granted or not, so idle buckets
// are reclaimed by the store without explicit deletion logic.
//
// # Limitations and Notes
//
//   - A non-positive RequestsPerSecond is rejected at construction; a bucket
//     that never refills would otherwise deny forever with no error.
//   - Each acquisition has a fixed cost of 1 token.
//   - RedisLimiter uses EVALSHA with an EVAL fallback, so a flushed script
//     cache (for example after a Redis restart) costs one extra round trip
//     rather than an error.
//
// # Configuration
//
// Backends take a Config plus functional options:
//
//	l, err := limiter.NewRedisLimiter("redis://localhost:6379", limiter.Config{
//		KeyPrefix:         "myapp",
//		RequestsPerSecond: 10,
//		MaxBucketSize:     25,
//		CheckEvery:        50 * time.Millisecond,
//	}, limiter.WithRecorder(myMetrics))
//
// Zero-valued Config fields take the package defaults. Supported options:
//
//   - WithClient(RedisClient): reuse an existing go-redis client instead of
//     dialing the URL (also the unit-test seam).
//   - WithConnectTimeout(time.Duration): bounds the construction-time
//     connectivity check (default 5s).
//   - WithRecorder(MetricsRecorder): injects a custom metrics backend.
//   - WithDatabase/WithCollection(string): Mongo naming overrides.
package limiter
