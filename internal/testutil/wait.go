// Package testutil provides helpers for tests that wait on background
// trackers, dispatchers and watch streams.
package testutil

import (
	"sync/atomic"
	"testing"
	"time"
)

// WaitOptions configures how long and how often helpers poll.
type WaitOptions struct {
	Timeout  time.Duration
	Interval time.Duration
}

// WaitOption is a functional option for the wait helpers.
type WaitOption func(*WaitOptions)

// WithTimeout sets the maximum wait time (default: 5s).
func WithTimeout(d time.Duration) WaitOption {
	return func(o *WaitOptions) {
		o.Timeout = d
	}
}

// WithInterval sets the polling interval (default: 10ms).
func WithInterval(d time.Duration) WaitOption {
	return func(o *WaitOptions) {
		o.Interval = d
	}
}

func resolve(opts []WaitOption) WaitOptions {
	o := WaitOptions{
		Timeout:  5 * time.Second,
		Interval: 10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WaitFor polls until condition returns true or timeout is reached.
// Returns true if condition was met, false on timeout.
func WaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) bool {
	tb.Helper()
	_, ok := WaitForValue(tb, func() (struct{}, bool) {
		return struct{}{}, condition()
	}, opts...)
	return ok
}

// WaitForValue polls fn until it reports ok and returns the value it produced.
func WaitForValue[T any](tb testing.TB, fn func() (T, bool), opts ...WaitOption) (T, bool) {
	tb.Helper()
	o := resolve(opts)

	deadline := time.Now().Add(o.Timeout)
	for {
		if v, ok := fn(); ok {
			return v, true
		}
		if !time.Now().Before(deadline) {
			var zero T
			return zero, false
		}
		time.Sleep(o.Interval)
	}
}

// WaitForCount polls until counter reaches the target value or timeout is reached.
func WaitForCount(tb testing.TB, counter *atomic.Int64, target int64, opts ...WaitOption) bool {
	tb.Helper()
	return WaitFor(tb, func() bool {
		return counter.Load() >= target
	}, opts...)
}

// MustWaitFor polls until condition returns true or fails the test on timeout.
func MustWaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) {
	tb.Helper()
	if !WaitFor(tb, condition, opts...) {
		tb.Fatal("timed out waiting for condition")
	}
}

// MustWaitForValue is WaitForValue that fails the test on timeout.
func MustWaitForValue[T any](tb testing.TB, fn func() (T, bool), opts ...WaitOption) T {
	tb.Helper()
	v, ok := WaitForValue(tb, fn, opts...)
	if !ok {
		tb.Fatal("timed out waiting for value")
	}
	return v
}

// MustWaitForCount polls until counter reaches the target value or fails the test on timeout.
func MustWaitForCount(tb testing.TB, counter *atomic.Int64, target int64, opts ...WaitOption) {
	tb.Helper()
	if !WaitForCount(tb, counter, target, opts...) {
		tb.Fatalf("timed out waiting for counter to reach %d (current: %d)", target, counter.Load())
	}
}

// MustReceive returns the next value from ch. ok is false if ch was closed.
// The test fails if nothing arrives before the timeout.
func MustReceive[T any](tb testing.TB, ch <-chan T, opts ...WaitOption) (v T, ok bool) {
	tb.Helper()
	timer := time.NewTimer(resolve(opts).Timeout)
	defer timer.Stop()

	select {
	case v, ok = <-ch:
		return v, ok
	case <-timer.C:
		tb.Fatal("timed out waiting to receive")
		return v, false
	}
}

// MustCollect reads ch until it is closed and returns everything received.
// The test fails if ch is still open when the timeout expires.
func MustCollect[T any](tb testing.TB, ch <-chan T, opts ...WaitOption) []T {
	tb.Helper()
	timer := time.NewTimer(resolve(opts).Timeout)
	defer timer.Stop()

	var got []T
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, v)
		case <-timer.C:
			tb.Fatalf("timed out waiting for channel to close (%d values received)", len(got))
			return got
		}
	}
}

// MustClose waits for done to be closed, as goroutines signal completion.
func MustClose(tb testing.TB, done <-chan struct{}, opts ...WaitOption) {
	tb.Helper()
	timer := time.NewTimer(resolve(opts).Timeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		tb.Fatal("timed out waiting for completion")
	}
}
