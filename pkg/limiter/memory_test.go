package limiter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fixedClock drives a MemoryLimiter deterministically; Advance moves time
// forward (or backward, for clock anomaly tests) without sleeping.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{t: time.Unix(1700000000, 0)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newClockedLimiter(t *testing.T, cfg Config) (*MemoryLimiter, *fixedClock) {
	t.Helper()
	l, err := NewMemoryLimiter(cfg)
	if err != nil {
		t.Fatalf("NewMemoryLimiter: %v", err)
	}
	clock := newFixedClock()
	l.now = clock.Now
	return l, clock
}

func TestMemoryLimiter_BurstThenDeny(t *testing.T) {
	ctx := context.Background()
	l, _ := newClockedLimiter(t, Config{MaxBucketSize: 5, RequestsPerSecond: 1})

	for i := 0; i < 5; i++ {
		granted, err := l.Allow(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !granted {
			t.Fatalf("attempt %d unexpectedly denied; a fresh bucket holds 5 tokens", i+1)
		}
	}

	granted, err := l.Allow(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if granted {
		t.Error("6th instantaneous attempt should be denied")
	}
}

func TestMemoryLimiter_RefillAfterInverseRate(t *testing.T) {
	ctx := context.Background()
	l, clock := newClockedLimiter(t, Config{MaxBucketSize: 1, RequestsPerSecond: 4})

	if granted, _ := l.Allow(ctx); !granted {
		t.Fatal("fresh bucket should grant")
	}
	if granted, _ := l.Allow(ctx); granted {
		t.Fatal("drained bucket should deny")
	}

	// 1/r = 250ms buys exactly one token back.
	clock.Advance(250 * time.Millisecond)
	if granted, _ := l.Allow(ctx); !granted {
		t.Error("attempt after 1/r seconds should be granted")
	}
}

func TestMemoryLimiter_RefillSaturates(t *testing.T) {
	ctx := context.Background()
	l, clock := newClockedLimiter(t, Config{MaxBucketSize: 3, RequestsPerSecond: 1})

	if granted, _ := l.Allow(ctx); !granted {
		t.Fatal("fresh bucket should grant")
	}

	// Hours of idle time must not mint more than capacity.
	clock.Advance(5 * time.Hour)
	for i := 0; i < 3; i++ {
		granted, _ := l.Allow(ctx)
		if !granted {
			t.Fatalf("attempt %d should draw from the refilled bucket", i+1)
		}
	}
	if granted, _ := l.Allow(ctx); granted {
		t.Error("4th attempt should be denied; refill saturates at max bucket size")
	}
}

func TestMemoryLimiter_ClockStepBackward(t *testing.T) {
	ctx := context.Background()
	l, clock := newClockedLimiter(t, Config{MaxBucketSize: 1, RequestsPerSecond: 1})

	if granted, _ := l.Allow(ctx); !granted {
		t.Fatal("fresh bucket should grant")
	}

	// A backward step must not mint tokens or rewind the refill horizon.
	clock.Advance(-10 * time.Second)
	if granted, _ := l.Allow(ctx); granted {
		t.Error("backward clock step granted a free token")
	}

	clock.Advance(11 * time.Second) // 1s past the original drain
	if granted, _ := l.Allow(ctx); !granted {
		t.Error("refill should resume from the original horizon")
	}
}

func TestMemoryLimiter_GrantDenyRefillScenario(t *testing.T) {
	ctx := context.Background()
	l, clock := newClockedLimiter(t, Config{MaxBucketSize: 1, RequestsPerSecond: 1})

	if granted, _ := l.Acquire(ctx, false); !granted {
		t.Fatal("first non-blocking acquire on a fresh bucket should return true")
	}
	if granted, _ := l.Acquire(ctx, false); granted {
		t.Fatal("immediate second acquire should return false")
	}
	clock.Advance(time.Second)
	if granted, _ := l.Acquire(ctx, false); !granted {
		t.Error("acquire after one second should return true")
	}
}

func TestMemoryLimiter_SingleTokenRace(t *testing.T) {
	ctx := context.Background()
	l, _ := newClockedLimiter(t, Config{MaxBucketSize: 1, RequestsPerSecond: 1})

	const racers = 100
	var granted atomic.Int64
	var wg sync.WaitGroup
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func() {
			defer wg.Done()
			ok, err := l.Allow(ctx)
			if err != nil {
				t.Errorf("racer failed: %v", err)
				return
			}
			if ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	if n := granted.Load(); n != 1 {
		t.Errorf("%d racers won a single-token bucket, want exactly 1", n)
	}
}

func TestMemoryLimiter_BlockingAcquire(t *testing.T) {
	l, err := NewMemoryLimiter(Config{
		MaxBucketSize:     1,
		RequestsPerSecond: 50, // one token every 20ms
		CheckEvery:        5 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if granted, _ := l.Allow(ctx); !granted {
		t.Fatal("fresh bucket should grant")
	}

	// The bucket is empty; blocking must poll until the refill lands.
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("blocking acquire failed: %v", err)
	}
}

func BenchmarkMemoryLimiter_Allow(b *testing.B) {
	l, err := NewMemoryLimiter(Config{
		MaxBucketSize:     1e9,
		RequestsPerSecond: 1e6,
	})
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()

	for i := 0; i < b.N; i++ {
		l.Allow(ctx)
	}
}
