// Package job tracks ROM conversion jobs from submission to their terminal notification.
package job

import "context"

// RunState is the tri-state reported by a runner for an external run.
type RunState string

// Run states
const (
	RunPending   RunState = "pending"
	RunSucceeded RunState = "succeeded"
	RunFailed    RunState = "failed"
)

// RunStatus is a single observation of an external run.
type RunStatus struct {
	State      RunState
	Conclusion string // upstream conclusion, e.g. "failure" or "cancelled"
}

// StartRequest carries everything a runner needs to launch a conversion.
type StartRequest struct {
	JobID   string
	Channel string
	Parameters
}

// Runner is the client for the system that performs the conversion.
// Implementations wrap unreliable network I/O and hold no per-job state,
// so one runner serves every tracker concurrently.
type Runner interface {
	// Start launches an external run and returns its opaque identifier.
	Start(ctx context.Context, req StartRequest) (string, error)

	// Poll reports the current state of an external run.
	Poll(ctx context.Context, runID string) (RunStatus, error)

	// FetchResult returns a reference to the output artifact of a finished run.
	FetchResult(ctx context.Context, runID string) (string, error)

	// Ready checks if the runner backend is reachable.
	Ready(ctx context.Context) error
}

// Canceler is implemented by runners that can abort an external run.
type Canceler interface {
	Cancel(ctx context.Context, runID string) error
}
