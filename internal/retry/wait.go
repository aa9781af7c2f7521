package retry

import (
	"context"
	"time"
)

// Condition is polled by WaitFor and PollAttempts.
type Condition func(ctx context.Context) (bool, error)

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WaitFor polls cond every interval until it holds or timeout elapses. The
// condition is checked once before the first sleep. A timeout is reported as
// (false, nil); an error from cond stops the wait.
func WaitFor(ctx context.Context, timeout, interval time.Duration, cond Condition) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := cond(ctx)
		if err != nil || ok {
			return ok, err
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		if err := Sleep(ctx, interval); err != nil {
			return false, err
		}
	}
}

// PollAttempts checks cond up to attempts times, sleeping interval after each miss.
func PollAttempts(ctx context.Context, attempts int, interval time.Duration, cond Condition) (bool, error) {
	for i := 0; i < attempts; i++ {
		ok, err := cond(ctx)
		if err != nil || ok {
			return ok, err
		}
		if err := Sleep(ctx, interval); err != nil {
			return false, err
		}
	}
	return false, nil
}
