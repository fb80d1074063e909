package limiter

import (
	"context"
	"time"
)

// tryFunc performs a single debit attempt against a backend. A false result
// with a nil error means the bucket was empty, not that something failed.
type tryFunc func(ctx context.Context) (bool, error)

// acquire is the debit-and-poll protocol shared by every backend. Non-blocking
// calls make exactly one attempt. Blocking calls re-attempt after a fixed
// interval, forever; the suspension itself is cancellable through ctx. Backend
// errors end the loop immediately in both modes.
func acquire(ctx context.Context, blocking bool, every time.Duration, try tryFunc) (bool, error) {
	granted, err := try(ctx)
	if granted || err != nil || !blocking {
		return granted, err
	}

	timer := time.NewTimer(every)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
		granted, err = try(ctx)
		if granted || err != nil {
			return granted, err
		}
		timer.Reset(every)
	}
}

// acquireAsync runs acquire in its own goroutine so callers can select on the
// outcome alongside other work. The channel is buffered; the result is
// delivered even if nobody is receiving yet, and the channel is closed after.
func acquireAsync(ctx context.Context, blocking bool, every time.Duration, try tryFunc) <-chan AcquireResult {
	ch := make(chan AcquireResult, 1)
	go func() {
		granted, err := acquire(ctx, blocking, every, try)
		ch <- AcquireResult{Granted: granted, Err: err}
		close(ch)
	}()
	return ch
}
