package job

import (
	"time"
)

// State is the lifecycle state of a job.
type State string

// State constants
const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Variant is the target ROM layout produced by the converter.
type Variant string

// Supported variants
const (
	VariantSuper  Variant = "super"
	VariantHybrid Variant = "hybrid"
)

// Variants lists every accepted variant.
var Variants = []Variant{VariantSuper, VariantHybrid}

// Cause classifies why a job failed.
type Cause string

// Failure causes
const (
	CauseExternal  Cause = "external_failure" // the CI run itself failed
	CausePollError Cause = "poll_error"       // status checks kept failing
	CauseTimeout   Cause = "timeout"
	CauseCancelled Cause = "cancelled"
	CauseShutdown  Cause = "shutdown" // the service stopped before tracking began
)

// Error details for failures that have no upstream message.
const (
	ErrorTimeout   = "timeout"
	ErrorCancelled = "cancelled"
	ErrorShutdown  = "service shutting down"
)

// Parameters is the conversion request handed to the runner.
type Parameters struct {
	Source    string  `json:"source"`
	Variant   Variant `json:"variant"`
	Requester string  `json:"requester,omitempty"`
}

// Job is one tracked conversion, from submission to its terminal notification.
type Job struct {
	ID      string `json:"id"`
	RunID   string `json:"runId"`
	Channel string `json:"channel,omitempty"` // where the terminal notification goes
	Parameters
	State      State      `json:"status"`
	Result     string     `json:"result,omitempty"` // set iff completed
	Error      string     `json:"error,omitempty"`  // set iff failed
	Cause      Cause      `json:"cause,omitempty"`
	Conclusion string     `json:"conclusion,omitempty"` // external conclusion for CauseExternal
	Polls      int        `json:"polls"`
	CreatedAt  time.Time  `json:"createdAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// complete moves the job to completed with the given result reference.
func (j *Job) complete(result string, at time.Time) {
	j.State = StateCompleted
	j.Result = result
	j.Error = ""
	j.Cause = ""
	j.FinishedAt = &at
}

// fail moves the job to failed with a human-readable detail.
func (j *Job) fail(cause Cause, detail string, at time.Time) {
	j.State = StateFailed
	j.Result = ""
	j.Error = detail
	j.Cause = cause
	j.FinishedAt = &at
}

// SubmitRequest is the inbound conversion request.
type SubmitRequest struct {
	Source    string `json:"source"`
	Variant   string `json:"variant"`
	Channel   string `json:"channel"`
	Requester string `json:"requester"`
}

// Response is returned as soon as a job is accepted.
type Response struct {
	ID     string `json:"id"`
	Status State  `json:"status"`
	RunID  string `json:"runId"`
}

// ListResponse represents the response for listing jobs
type ListResponse struct {
	Jobs []Job `json:"jobs"`
}
