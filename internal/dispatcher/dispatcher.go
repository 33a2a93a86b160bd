// Package dispatcher delivers job notifications in the background. Callers
// hand off an Event and move on; delivery, retries and per-destination
// circuit breaking happen on the dispatcher's workers.
package dispatcher

import (
	"context"
	"errors"

	"rombuilder/pkg/cloudevent"
)

var (
	// ErrBufferFull means the queue was full and the event was dropped.
	ErrBufferFull = errors.New("dispatcher buffer full, event dropped")
	// ErrClosed is returned by Dispatch once Close has been called.
	ErrClosed = errors.New("dispatcher is closed")
)

// Dispatcher queues notifications for asynchronous delivery.
type Dispatcher interface {
	// Dispatch never blocks.
	Dispatch(event *Event) error
	Stats() Stats
	// Close stops intake and delivers what is queued until ctx ends.
	Close(ctx context.Context) error
}

// Deliverer makes one delivery attempt.
type Deliverer interface {
	Deliver(ctx context.Context, event *Event) error
}

// DelivererFunc is a function Deliverer.
type DelivererFunc func(ctx context.Context, event *Event) error

func (f DelivererFunc) Deliver(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// Event is one notification for one requester channel.
type Event struct {
	Payload *cloudevent.CloudEvent
	// Message is the text sent to chat channels.
	Message string
	// Destination is the requester channel: a webhook URL, "telegram:<chat
	// id>" or "redis:<channel>".
	Destination string
	// Requeues counts trips back to the queue while the destination's
	// breaker was open.
	Requeues int
}

// Stats is a point-in-time view of a dispatcher.
type Stats struct {
	QueueDepth   int
	Queued       int64
	Delivered    int64
	Failed       int64
	Dropped      int64 // buffer full or requeue limit reached
	Requeued     int64
	RetriesTotal int64

	BreakersTotal    int
	BreakersOpen     int
	OpenDestinations []string // breaker keys, e.g. "telegram" or a webhook host
}

type permanentError struct{ error }

func (e permanentError) Unwrap() error { return e.error }

// Permanent marks err as final for this event, e.g. an unknown chat. The
// dispatcher neither retries it nor counts it against the destination.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err}
}

// IsPermanent reports whether err was marked Permanent or is a 4xx
// webhook response.
func IsPermanent(err error) bool {
	return errors.As(err, new(permanentError)) || cloudevent.IsClientError(err)
}
