package common

import (
	"context"
	"time"
)

// Predicate reports whether the awaited condition currently holds. A non-nil
// error aborts the wait immediately.
type Predicate func(ctx context.Context) (bool, error)

// WaitUntil polls predicate at the given interval until it returns true, the
// timeout elapses, or the context is cancelled.
//
// Timeout is not a failure: WaitUntil returns (false, nil) when the condition
// never held within the window, and the caller decides whether to proceed or
// abort. Context cancellation is reported as an error.
func WaitUntil(ctx context.Context, predicate Predicate, timeout, interval time.Duration) (bool, error) {
	if interval <= 0 {
		interval = time.Second
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := predicate(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sleeper abstracts fixed delays so workflows can be tested without real
// waiting. The zero value sleeps for real.
type Sleeper struct {
	// Fn overrides the sleep implementation when non-nil.
	Fn func(d time.Duration)
}

// Sleep pauses for d, honoring the override when set.
func (s Sleeper) Sleep(d time.Duration) {
	if s.Fn != nil {
		s.Fn(d)
		return
	}
	time.Sleep(d)
}
