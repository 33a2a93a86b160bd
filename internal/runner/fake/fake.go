// Package fake provides an in-process job.Runner for local development and
// demos. Runs succeed after a fixed number of polls unless the source URL
// asks otherwise.
package fake

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"rombuilder/internal/apperrors"
	"rombuilder/internal/config"
	"rombuilder/internal/job"
)

// Config controls simulated runs.
type Config struct {
	PendingPolls int    // polls reported as pending before the run finishes (default: 2)
	ResultBase   string // download links are ResultBase + "/" + job ID + ".zip"
}

// LoadConfigFromEnv loads fake runner configuration from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		PendingPolls: config.GetIntEnv("FAKE_PENDING_POLLS", 2),
		ResultBase:   config.GetEnv("FAKE_RESULT_BASE", "https://drive.example.com/roms"),
	}
}

type run struct {
	jobID  string
	polls  int
	fail   bool
	done   bool
	cancel bool
}

// Runner simulates an external executor.
type Runner struct {
	cfg  Config
	next atomic.Int64

	mu   sync.Mutex
	runs map[string]*run
}

// NewRunner creates a fake runner.
func NewRunner(cfg Config) *Runner {
	if cfg.PendingPolls < 0 {
		cfg.PendingPolls = 0
	}
	if cfg.ResultBase == "" {
		cfg.ResultBase = "https://drive.example.com/roms"
	}
	return &Runner{cfg: cfg, runs: make(map[string]*run)}
}

// Start records a new simulated run. Sources containing "fail" end in failure.
func (r *Runner) Start(ctx context.Context, req job.StartRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := strconv.FormatInt(r.next.Add(1), 10)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[id] = &run{jobID: req.JobID, fail: strings.Contains(req.Source, "fail")}
	return id, nil
}

// Poll advances the simulated run by one step.
func (r *Runner) Poll(ctx context.Context, runID string) (job.RunStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rn, ok := r.runs[runID]
	if !ok {
		return job.RunStatus{}, apperrors.NotFound("run", runID)
	}
	switch {
	case rn.cancel:
		return job.RunStatus{State: job.RunFailed, Conclusion: "cancelled"}, nil
	case rn.polls < r.cfg.PendingPolls:
		rn.polls++
		return job.RunStatus{State: job.RunPending}, nil
	case rn.fail:
		rn.done = true
		return job.RunStatus{State: job.RunFailed, Conclusion: "failure"}, nil
	default:
		rn.done = true
		return job.RunStatus{State: job.RunSucceeded, Conclusion: "success"}, nil
	}
}

// FetchResult returns the simulated download link.
func (r *Runner) FetchResult(ctx context.Context, runID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rn, ok := r.runs[runID]
	if !ok {
		return "", apperrors.NotFound("run", runID)
	}
	if !rn.done || rn.fail {
		return "", fmt.Errorf("run %s has no result", runID)
	}
	return r.cfg.ResultBase + "/" + rn.jobID + ".zip", nil
}

// Cancel marks the run as cancelled.
func (r *Runner) Cancel(ctx context.Context, runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rn, ok := r.runs[runID]
	if !ok {
		return apperrors.NotFound("run", runID)
	}
	rn.cancel = true
	return nil
}

// Ready always succeeds.
func (r *Runner) Ready(context.Context) error { return nil }

var (
	_ job.Runner   = (*Runner)(nil)
	_ job.Canceler = (*Runner)(nil)
)
