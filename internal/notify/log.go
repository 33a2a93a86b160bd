package notify

import (
	"context"
	"log/slog"

	"rombuilder/internal/dispatcher"
)

// Log writes notifications to the service log. It stands in for channels
// this instance has no credentials for.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a log deliverer.
func NewLog() *Log {
	return &Log{logger: slog.With("component", "notifier")}
}

// Deliver implements dispatcher.Deliverer.
func (l *Log) Deliver(ctx context.Context, event *dispatcher.Event) error {
	attrs := []any{"channel", event.Destination, "message", event.Message}
	if event.Payload != nil {
		attrs = append(attrs, "type", event.Payload.Type, "jobId", event.Payload.Subject)
	}
	l.logger.InfoContext(ctx, "Job notification", attrs...)
	return nil
}
