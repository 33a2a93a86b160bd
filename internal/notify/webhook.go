package notify

import (
	"context"
	"errors"
	"time"

	"rombuilder/internal/dispatcher"
	"rombuilder/pkg/cloudevent"
)

// Webhook posts the outcome CloudEvent to http(s) channels.
type Webhook struct {
	sender     *cloudevent.Sender
	signingKey string
}

// NewWebhook creates a webhook deliverer. An empty signingKey sends unsigned events.
func NewWebhook(timeout time.Duration, signingKey string) *Webhook {
	return &Webhook{
		sender:     cloudevent.NewSender(timeout),
		signingKey: signingKey,
	}
}

// Deliver implements dispatcher.Deliverer.
func (w *Webhook) Deliver(ctx context.Context, event *dispatcher.Event) error {
	err := w.sender.Send(ctx, event.Destination, event.Payload, cloudevent.SendOptions{
		SigningKey: w.signingKey,
	})
	if errors.Is(err, cloudevent.ErrInvalidEvent) {
		return dispatcher.Permanent(err)
	}
	return err
}
