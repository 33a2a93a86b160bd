package job

import (
	"context"

	"rombuilder/pkg/cloudevent"

	"github.com/google/uuid"
)

// Event types for terminal job notifications
const (
	EventTypeCompleted = "rombuilder.job.completed"
	EventTypeFailed    = "rombuilder.job.failed"
)

// EventSource identifies this service in emitted events.
const EventSource = "rombuilder"

// Outcome is what a requester learns when their job finishes.
type Outcome struct {
	JobID      string
	Variant    Variant
	Source     string
	State      State
	Result     string
	Error      string
	Cause      Cause
	Conclusion string
}

// OutcomeOf derives the notification outcome from a finished job.
func OutcomeOf(j Job) Outcome {
	return Outcome{
		JobID:      j.ID,
		Variant:    j.Variant,
		Source:     j.Source,
		State:      j.State,
		Result:     j.Result,
		Error:      j.Error,
		Cause:      j.Cause,
		Conclusion: j.Conclusion,
	}
}

// Notifier delivers the terminal outcome of a job to its requester.
// Delivery is best-effort: the tracker logs a returned error and moves on.
type Notifier interface {
	Notify(ctx context.Context, channel string, outcome Outcome) error
}

// NewOutcomeEvent builds the CloudEvent published for a finished job.
func NewOutcomeEvent(o Outcome) *cloudevent.CloudEvent {
	eventType := EventTypeCompleted
	data := map[string]any{
		"jobId":   o.JobID,
		"status":  string(o.State),
		"variant": string(o.Variant),
		"source":  o.Source,
	}
	if o.State == StateCompleted {
		data["result"] = o.Result
	} else {
		eventType = EventTypeFailed
		data["error"] = o.Error
		data["cause"] = string(o.Cause)
		if o.Conclusion != "" {
			data["conclusion"] = o.Conclusion
		}
	}
	return cloudevent.New(eventType, EventSource, o.JobID, uuid.NewString(), data)
}
