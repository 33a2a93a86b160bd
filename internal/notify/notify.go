// Package notify tells requesters how their conversion ended.
//
// Outcomes are queued on the dispatcher and delivered by a Mux that routes on
// the channel's scheme: http(s) URLs receive a CloudEvent webhook,
// "redis:<channel>" is a pub/sub publish, "telegram:<chat id>" is a bot
// message. Anything else is written to the log.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"rombuilder/internal/dispatcher"
	"rombuilder/internal/job"
)

// Channel kinds, also used as the metric label.
const (
	KindWebhook  = "webhook"
	KindRedis    = "redis"
	KindTelegram = "telegram"
	KindLog      = "log"
)

// Notifier queues terminal job outcomes for delivery.
type Notifier struct {
	dispatcher dispatcher.Dispatcher
	logger     *slog.Logger
}

// New creates a notifier that hands events to d.
func New(d dispatcher.Dispatcher) *Notifier {
	return &Notifier{
		dispatcher: d,
		logger:     slog.With("component", "notifier"),
	}
}

// Notify queues the outcome for the requester's channel. It never blocks on
// delivery; an error means the event could not be queued.
func (n *Notifier) Notify(ctx context.Context, channel string, outcome job.Outcome) error {
	if channel == "" {
		n.logger.InfoContext(ctx, "No channel, outcome not delivered",
			"jobId", outcome.JobID,
			"status", outcome.State,
		)
		return nil
	}

	event := &dispatcher.Event{
		Payload:     job.NewOutcomeEvent(outcome),
		Message:     Message(outcome),
		Destination: channel,
	}
	if err := n.dispatcher.Dispatch(event); err != nil {
		return fmt.Errorf("queue notification for %s: %w", KindOf(channel), err)
	}
	return nil
}

// KindOf classifies a requester channel.
func KindOf(channel string) string {
	lower := strings.ToLower(channel)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return KindWebhook
	case strings.HasPrefix(lower, KindRedis+":"):
		return KindRedis
	case strings.HasPrefix(lower, KindTelegram+":"):
		return KindTelegram
	default:
		return KindLog
	}
}

// target strips the kind prefix from a chat or pub/sub channel.
func target(channel string) string {
	if i := strings.IndexByte(channel, ':'); i >= 0 {
		return channel[i+1:]
	}
	return channel
}

var _ job.Notifier = (*Notifier)(nil)
