// Package backoff computes retry delays and waits on them.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Policy describes a capped exponential backoff. The zero value starts at
// 100ms, doubles per attempt and stops growing at 5s.
type Policy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter spreads each delay by up to this fraction in either
	// direction. 0 keeps delays exact.
	Jitter float64
}

func (p Policy) normalized() Policy {
	if p.Initial <= 0 {
		p.Initial = 100 * time.Millisecond
	}
	if p.Max <= 0 {
		p.Max = 5 * time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	p.Jitter = min(max(p.Jitter, 0), 1)
	return p
}

// Delay returns the wait before retry number attempt, counting from 1.
// Attempts below 1 get the initial delay.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	attempt = max(attempt, 1)

	d := min(float64(p.Initial)*math.Pow(p.Multiplier, float64(attempt-1)), float64(p.Max))
	if p.Jitter > 0 {
		d += d * p.Jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(d)
}

// Sleep blocks for d unless ctx ends first, in which case it returns ctx.Err().
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
