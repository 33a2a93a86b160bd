// Package health answers the liveness and readiness checks. Readiness is
// a set of named checks: a failing critical check (the runner backend)
// makes the service unhealthy, any other failure only degrades it.
package health

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"rombuilder/internal/dispatcher"
)

// ReadinessChecker is implemented by runners to report whether their
// backend accepts work.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// QueueStats reports notification queue statistics.
type QueueStats interface {
	Stats() dispatcher.Stats
}

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckResult contains the result of a health check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the health check response.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// IsHealthy reports whether every check passed.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// IsReady returns true unless the service is unhealthy. A degraded service
// still accepts conversions.
func (r *Response) IsReady() bool {
	return r.Status != StatusUnhealthy
}

type check struct {
	name     string
	critical bool
	run      func(ctx context.Context) CheckResult
}

// Checker runs the readiness checks and caches the answer for ttl.
type Checker struct {
	timeout time.Duration
	ttl     time.Duration

	mu           sync.RWMutex
	checks       []check
	lastCheck    time.Time
	cachedReady  *Response
	shuttingDown bool
}

// NewChecker creates a checker with a critical "runner" check and, when
// queue is non-nil, a "notifications" check on open delivery breakers.
func NewChecker(runner ReadinessChecker, queue QueueStats) *Checker {
	c := &Checker{
		timeout: 5 * time.Second,
		// GitHub counts every readiness check against the API quota.
		ttl: 10 * time.Second,
	}

	c.checks = append(c.checks, check{name: "runner", critical: true, run: func(ctx context.Context) CheckResult {
		if runner == nil {
			return CheckResult{Status: StatusUnhealthy, Message: "runner not configured"}
		}
		return fromError(runner.Ready(ctx))
	}})
	if queue != nil {
		c.checks = append(c.checks, check{name: "notifications", run: func(context.Context) CheckResult {
			return breakerCheck(queue.Stats())
		}})
	}
	return c
}

// Register adds a readiness check. A non-critical check that fails is
// reported as degraded.
func (c *Checker) Register(name string, critical bool, fn func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, check{name: name, critical: critical, run: func(ctx context.Context) CheckResult {
		return fromError(fn(ctx))
	}})
	c.cachedReady = nil
}

func fromError(err error) CheckResult {
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Message: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

func breakerCheck(stats dispatcher.Stats) CheckResult {
	if stats.BreakersOpen == 0 {
		return CheckResult{Status: StatusHealthy}
	}
	msg := fmt.Sprintf("%d notification destination(s) failing", stats.BreakersOpen)
	if len(stats.OpenDestinations) > 0 {
		msg += ": " + strings.Join(stats.OpenDestinations, ", ")
	}
	return CheckResult{Status: StatusDegraded, Message: msg}
}

// Liveness only reports that the process is serving; it never touches
// a dependency.
func (c *Checker) Liveness(ctx context.Context) *Response {
	return &Response{Status: StatusHealthy}
}

// Readiness runs every check concurrently, each bounded by the checker's
// timeout, unless a recent answer is cached.
func (c *Checker) Readiness(ctx context.Context) *Response {
	c.mu.RLock()
	if c.shuttingDown {
		c.mu.RUnlock()
		return &Response{
			Status: StatusUnhealthy,
			Checks: map[string]CheckResult{
				"shutdown": {Status: StatusUnhealthy, Message: "service is shutting down"},
			},
		}
	}
	if c.cachedReady != nil && time.Since(c.lastCheck) < c.ttl {
		cached := c.cachedReady
		c.mu.RUnlock()
		return cached
	}
	checks := append([]check(nil), c.checks...)
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, chk := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = chk.run(ctx)
		}()
	}
	wg.Wait()

	response := &Response{Status: StatusHealthy, Checks: make(map[string]CheckResult, len(checks))}
	for i, chk := range checks {
		result := results[i]
		if result.Status != StatusHealthy {
			if chk.critical {
				response.Status = StatusUnhealthy
			} else {
				result.Status = StatusDegraded
				if response.Status == StatusHealthy {
					response.Status = StatusDegraded
				}
			}
		}
		response.Checks[chk.name] = result
	}

	c.mu.Lock()
	c.cachedReady = response
	c.lastCheck = time.Now()
	c.mu.Unlock()

	return response
}

// SetShuttingDown makes readiness fail from now on so load balancers stop
// sending new conversions.
func (c *Checker) SetShuttingDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuttingDown = true
	c.cachedReady = nil
}
