package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"rombuilder/internal/dispatcher"
	"rombuilder/internal/observability"
)

// Mux routes each event to the deliverer registered for its channel kind.
type Mux struct {
	mu       sync.RWMutex
	routes   map[string]dispatcher.Deliverer
	fallback dispatcher.Deliverer
	metrics  *observability.Metrics
}

// NewMux creates a mux that logs events for unregistered kinds.
// metrics may be nil.
func NewMux(metrics *observability.Metrics) *Mux {
	return &Mux{
		routes:   make(map[string]dispatcher.Deliverer),
		fallback: NewLog(),
		metrics:  metrics,
	}
}

// Handle registers d for channels of the given kind.
func (m *Mux) Handle(kind string, d dispatcher.Deliverer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[kind] = d
}

// Deliver implements dispatcher.Deliverer.
func (m *Mux) Deliver(ctx context.Context, event *dispatcher.Event) error {
	kind := KindOf(event.Destination)

	m.mu.RLock()
	d, ok := m.routes[kind]
	m.mu.RUnlock()
	if !ok {
		if kind != KindLog {
			slog.DebugContext(ctx, "No deliverer for channel kind, logging instead", "kind", kind)
		}
		kind, d = KindLog, m.fallback
	}

	err := d.Deliver(ctx, event)
	if m.metrics != nil {
		m.metrics.RecordNotification(ctx, kind, err == nil)
	}
	return err
}

// Close releases deliverers that hold connections.
func (m *Mux) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, d := range m.routes {
		if c, ok := d.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// Ready pings every deliverer that talks to a long-lived backend, such as
// Redis, and joins their errors.
func (m *Mux) Ready(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for kind, d := range m.routes {
		if p, ok := d.(interface{ Ping(context.Context) error }); ok {
			if err := p.Ping(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			}
		}
	}
	return errors.Join(errs...)
}

// NewMuxFromConfig registers a deliverer for every channel kind cfg
// carries credentials for. Webhooks need none and are always enabled.
func NewMuxFromConfig(ctx context.Context, cfg Config, metrics *observability.Metrics) (*Mux, error) {
	cfg = cfg.withDefaults()
	m := NewMux(metrics)
	m.Handle(KindWebhook, NewWebhook(cfg.HTTPTimeout, cfg.WebhookSecret))

	if cfg.TelegramToken != "" {
		m.Handle(KindTelegram, NewTelegram(cfg.TelegramAPIURL, cfg.TelegramToken, cfg.TelegramRate, cfg.HTTPTimeout))
	}

	if cfg.RedisURL != "" {
		r, err := NewRedis(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		if err := r.Ping(ctx); err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("redis notifier: %w", err)
		}
		m.Handle(KindRedis, r)
	}

	return m, nil
}

var _ dispatcher.Deliverer = (*Mux)(nil)
