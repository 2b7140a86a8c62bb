package handshake

import (
	"context"
	"fmt"
	"time"
)

// Waiter suspends a handshake step until its confirmation arrives.
type Waiter struct {
	Table *Table
	// Post runs fn on the session loop; false means the loop is gone.
	Post func(fn func()) bool
	// Done is closed when the session loop stops.
	Done    <-chan struct{}
	Timeout time.Duration
	// Retry reports whether a timed out attempt should be repeated.
	Retry   func(step Step, attempt int) bool
	OnRetry func(key Key, attempt int)
	// Observe, if set, sees the duration and outcome of every Await.
	Observe func(step Step, d time.Duration, err error)
}

// Await registers key, runs send on the loop and blocks the calling
// goroutine until the matching confirmation, ctx, the session end, or the
// timeout. It must not be called from the loop itself.
func (w *Waiter) Await(ctx context.Context, key Key, send func() error) (v any, err error) {
	if w.Observe != nil {
		start := time.Now()
		defer func() { w.Observe(key.Step, time.Since(start), err) }()
	}
	for attempt := 1; ; attempt++ {
		ch := make(chan Result, 1)
		posted := w.Post(func() {
			w.Table.Register(key, ch)
			if err := send(); err != nil {
				w.Table.Reject(key, err)
			}
		})
		if !posted {
			return nil, ErrCancelled
		}

		var (
			timer   *time.Timer
			timeout <-chan time.Time
		)
		if w.Timeout > 0 {
			timer = time.NewTimer(w.Timeout)
			timeout = timer.C
		}

		select {
		case r := <-ch:
			stopTimer(timer)
			return r.Value, r.Err
		case <-ctx.Done():
			stopTimer(timer)
			w.Post(func() { w.Table.Forget(key, ch) })
			return nil, ctx.Err()
		case <-w.Done:
			stopTimer(timer)
			return nil, ErrCancelled
		case <-timeout:
		}

		if err := w.forget(ctx, key, ch); err != nil {
			return nil, err
		}
		// The confirmation may have landed between the timeout and Forget.
		select {
		case r := <-ch:
			return r.Value, r.Err
		default:
		}

		if w.Retry == nil || !w.Retry(key.Step, attempt) {
			return nil, fmt.Errorf("%w: %s %s after %d attempt(s)", ErrTimeout, key.Step, key.ID, attempt)
		}
		if w.OnRetry != nil {
			w.OnRetry(key, attempt)
		}
	}
}

func (w *Waiter) forget(ctx context.Context, key Key, ch chan Result) error {
	forgotten := make(chan struct{})
	if !w.Post(func() {
		w.Table.Forget(key, ch)
		close(forgotten)
	}) {
		return ErrCancelled
	}
	select {
	case <-forgotten:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.Done:
		return ErrCancelled
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
