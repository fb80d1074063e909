package limiter

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed token_bucket.lua
var tokenBucketScript string

// RedisClient is the slice of the go-redis client surface the limiter uses.
// *redis.Client satisfies it; tests inject fakes through WithClient.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	ScriptLoad(ctx context.Context, script string) *redis.StringCmd
	EvalSha(ctx context.Context, sha string, keys []string, args ...interface{}) *redis.Cmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	Close() error
}

// RedisLimiter enforces one token bucket shared by every process that
// constructs a limiter with the same key prefix against the same Redis.
// Each attempt is a single EVALSHA round trip; the script runs atomically on
// the server and reads the server clock, so concurrent callers on skewed
// machines can never double-spend a token.
type RedisLimiter struct {
	client     RedisClient
	ownsClient bool
	cfg        Config
	key        string
	scriptSHA  string
	recorder   MetricsRecorder
}

// NewRedisLimiter connects to redisURL, verifies the server is reachable, and
// preloads the token bucket script. Use WithClient to reuse an existing
// client instead of dialing; the limiter then does not close it.
func NewRedisLimiter(redisURL string, cfg Config, opts ...Option) (*RedisLimiter, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	s := newSettings(opts)

	client := s.client
	ownsClient := false
	if client == nil {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
		ownsClient = true
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.connectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		if ownsClient {
			client.Close()
		}
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	sha, err := client.ScriptLoad(ctx, tokenBucketScript).Result()
	if err != nil {
		if ownsClient {
			client.Close()
		}
		return nil, fmt.Errorf("load token bucket script: %w", err)
	}

	return &RedisLimiter{
		client:     client,
		ownsClient: ownsClient,
		cfg:        cfg,
		key:        cfg.bucketKey(),
		scriptSHA:  sha,
		recorder:   s.recorder,
	}, nil
}

// Acquire attempts to obtain a permit. See RateLimiter.
func (r *RedisLimiter) Acquire(ctx context.Context, blocking bool) (bool, error) {
	return acquire(ctx, blocking, r.cfg.CheckEvery, r.consume)
}

// AcquireAsync delivers the outcome of Acquire on a channel. See RateLimiter.
func (r *RedisLimiter) AcquireAsync(ctx context.Context, blocking bool) <-chan AcquireResult {
	return acquireAsync(ctx, blocking, r.cfg.CheckEvery, r.consume)
}

// Allow makes a single debit attempt and reports the outcome immediately.
func (r *RedisLimiter) Allow(ctx context.Context) (bool, error) {
	return r.Acquire(ctx, false)
}

// Wait polls until a permit is granted or ctx is done.
func (r *RedisLimiter) Wait(ctx context.Context) error {
	_, err := r.Acquire(ctx, true)
	return err
}

// Close releases the underlying client unless it was injected by the caller.
func (r *RedisLimiter) Close() error {
	if !r.ownsClient {
		return nil
	}
	return r.client.Close()
}

// consume runs the token bucket script once. The script cache can be flushed
// behind our back (SCRIPT FLUSH, server restart); on NOSCRIPT the full script
// is sent instead, which also re-primes the cache for later attempts.
func (r *RedisLimiter) consume(ctx context.Context) (bool, error) {
	start := time.Now()

	args := []interface{}{r.cfg.MaxBucketSize, r.cfg.RequestsPerSecond, r.cfg.StateTTL.Milliseconds()}
	result, err := r.client.EvalSha(ctx, r.scriptSHA, []string{r.key}, args...).Result()
	if err != nil && redis.HasErrorPrefix(err, "NOSCRIPT") {
		result, err = r.client.Eval(ctx, tokenBucketScript, []string{r.key}, args...).Result()
	}
	if err != nil {
		observeAttempt(r.recorder, start, outcomeError)
		return false, fmt.Errorf("token bucket script: %w", err)
	}

	granted, ok := result.(int64)
	if !ok {
		observeAttempt(r.recorder, start, outcomeError)
		return false, fmt.Errorf("invalid lua response format: %T", result)
	}
	if granted == 1 {
		observeAttempt(r.recorder, start, outcomeGranted)
		return true, nil
	}
	observeAttempt(r.recorder, start, outcomeDenied)
	return false, nil
}
