package limiter

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is an in-process token bucket with the same contract and the
// same arithmetic as RedisLimiter. Its state is local to the process, so it
// cannot enforce a limit across replicas; it stands in for the distributed
// backend in tests and single-instance deployments.
type MemoryLimiter struct {
	cfg      Config
	recorder MetricsRecorder

	// now is the bucket's clock. Tests swap it for a fixed clock so refill
	// behavior can be asserted without sleeping.
	now func() time.Time

	mu          sync.Mutex
	initialized bool
	tokens      float64
	lastRefill  float64
}

// NewMemoryLimiter constructs a MemoryLimiter with a full bucket materialized
// on first use.
func NewMemoryLimiter(cfg Config, opts ...Option) (*MemoryLimiter, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	s := newSettings(opts)
	return &MemoryLimiter{
		cfg:      cfg,
		recorder: s.recorder,
		now:      time.Now,
	}, nil
}

// Acquire attempts to obtain a permit. See RateLimiter.
func (m *MemoryLimiter) Acquire(ctx context.Context, blocking bool) (bool, error) {
	return acquire(ctx, blocking, m.cfg.CheckEvery, m.consume)
}

// AcquireAsync delivers the outcome of Acquire on a channel. See RateLimiter.
func (m *MemoryLimiter) AcquireAsync(ctx context.Context, blocking bool) <-chan AcquireResult {
	return acquireAsync(ctx, blocking, m.cfg.CheckEvery, m.consume)
}

// Allow makes a single debit attempt and reports the outcome immediately.
func (m *MemoryLimiter) Allow(ctx context.Context) (bool, error) {
	return m.Acquire(ctx, false)
}

// Wait polls until a permit is granted or ctx is done.
func (m *MemoryLimiter) Wait(ctx context.Context) error {
	_, err := m.Acquire(ctx, true)
	return err
}

func (m *MemoryLimiter) consume(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	start := time.Now()

	m.mu.Lock()
	now := epochSeconds(m.now())
	if !m.initialized {
		m.tokens = m.cfg.MaxBucketSize
		m.lastRefill = now
		m.initialized = true
	}
	var granted bool
	m.tokens, m.lastRefill, granted = refillAndDebit(
		m.tokens, m.lastRefill, now, m.cfg.MaxBucketSize, m.cfg.RequestsPerSecond)
	m.mu.Unlock()

	if granted {
		observeAttempt(m.recorder, start, outcomeGranted)
	} else {
		observeAttempt(m.recorder, start, outcomeDenied)
	}
	return granted, nil
}
