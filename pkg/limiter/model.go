package limiter

import (
	"context"
	"fmt"
	"time"
)

// bucketKeySuffix terminates every derived store key. Two limiters share a
// bucket exactly when they share a KeyPrefix.
const bucketKeySuffix = ":rate_limit"

// Defaults substituted for zero-valued Config fields.
const (
	DefaultKeyPrefix         = "ratelimiter"
	DefaultRequestsPerSecond = 1.0
	DefaultMaxBucketSize     = 1.0
	DefaultCheckEvery        = 100 * time.Millisecond
	DefaultStateTTL          = 24 * time.Hour
)

// Config is the bucket policy a limiter is constructed with. All backends
// share it; the zero value means "defaults everywhere".
type Config struct {
	// KeyPrefix scopes the bucket in the store. Limiters with distinct
	// prefixes never observe each other's state.
	KeyPrefix string

	// RequestsPerSecond is the sustained refill rate. Fractional rates are
	// valid (0.5 means one token every two seconds).
	RequestsPerSecond float64

	// MaxBucketSize is the bucket capacity, which is also the maximum burst.
	// Fractional capacities are valid.
	MaxBucketSize float64

	// CheckEvery is the fixed interval blocking acquisitions sleep between
	// attempts while the bucket is empty.
	CheckEvery time.Duration

	// StateTTL bounds how long idle bucket state survives in the store. It is
	// refreshed on every attempt, so only abandoned buckets expire.
	StateTTL time.Duration
}

// bucketKey derives the store key for this configuration.
func (c Config) bucketKey() string {
	return c.KeyPrefix + bucketKeySuffix
}

// withDefaults resolves zero fields to their defaults and rejects values that
// could only produce a limiter that never grants or spins without pause.
func (c Config) withDefaults() (Config, error) {
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if c.RequestsPerSecond < 0 {
		return c, fmt.Errorf("requests per second must not be negative, got %v", c.RequestsPerSecond)
	}
	if c.MaxBucketSize == 0 {
		c.MaxBucketSize = DefaultMaxBucketSize
	}
	if c.MaxBucketSize < 0 {
		return c, fmt.Errorf("max bucket size must not be negative, got %v", c.MaxBucketSize)
	}
	if c.CheckEvery == 0 {
		c.CheckEvery = DefaultCheckEvery
	}
	if c.CheckEvery < 0 {
		return c, fmt.Errorf("check interval must not be negative, got %v", c.CheckEvery)
	}
	if c.StateTTL == 0 {
		c.StateTTL = DefaultStateTTL
	}
	if c.StateTTL < time.Millisecond {
		return c, fmt.Errorf("state TTL must be at least 1ms, got %v", c.StateTTL)
	}
	return c, nil
}

// AcquireResult is delivered on the channel returned by AcquireAsync.
type AcquireResult struct {
	Granted bool
	Err     error
}

// RateLimiter is the contract orchestration code programs against. A permit
// must be acquired before each rate-limited operation; implementations decide
// against shared or process-local state.
type RateLimiter interface {
	// Acquire attempts to obtain a permit. When blocking is false it returns
	// the outcome of a single attempt immediately. When blocking is true it
	// polls until a permit is granted or ctx is done.
	Acquire(ctx context.Context, blocking bool) (bool, error)

	// AcquireAsync is Acquire running in its own goroutine; the outcome is
	// delivered on the returned channel.
	AcquireAsync(ctx context.Context, blocking bool) <-chan AcquireResult
}
