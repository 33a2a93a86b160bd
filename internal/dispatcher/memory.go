package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"rombuilder/pkg/backoff"
	"rombuilder/pkg/circuitbreaker"
	"rombuilder/pkg/cloudevent"
)

// MetricsRecorder receives dispatcher metrics. It may be nil.
type MetricsRecorder interface {
	RecordDispatcherDelivered(ctx context.Context, durationSeconds float64)
	RecordDispatcherFailed(ctx context.Context)
	RecordDispatcherDropped(ctx context.Context)
	RecordDispatcherRequeued(ctx context.Context)
	RecordDispatcherQueueSize(ctx context.Context, size int64)
}

type nopMetrics struct{}

func (nopMetrics) RecordDispatcherDelivered(context.Context, float64) {}
func (nopMetrics) RecordDispatcherFailed(context.Context)             {}
func (nopMetrics) RecordDispatcherDropped(context.Context)            {}
func (nopMetrics) RecordDispatcherRequeued(context.Context)           {}
func (nopMetrics) RecordDispatcherQueueSize(context.Context, int64)   {}

var retryPolicy = backoff.Policy{Jitter: 0.2}

// counters backs Stats and mirrors every change to the metrics recorder.
type counters struct {
	metrics MetricsRecorder

	queued, delivered, failed, dropped, requeued, retries atomic.Int64
}

func (c *counters) deliveredIn(d time.Duration) {
	c.delivered.Add(1)
	c.metrics.RecordDispatcherDelivered(context.Background(), d.Seconds())
}

func (c *counters) fail() {
	c.failed.Add(1)
	c.metrics.RecordDispatcherFailed(context.Background())
}

func (c *counters) drop() {
	c.dropped.Add(1)
	c.metrics.RecordDispatcherDropped(context.Background())
}

func (c *counters) requeue() {
	c.requeued.Add(1)
	c.metrics.RecordDispatcherRequeued(context.Background())
}

// MemoryDispatcher delivers notifications from a bounded in-memory queue
// with a fixed pool of workers. Dispatch never blocks: when the queue is
// full the notification is dropped and counted. Each destination has its
// own circuit breaker; notifications for a paused destination wait and
// are requeued until it recovers or MaxRequeues is reached.
type MemoryDispatcher struct {
	cfg       MemoryConfig
	queue     chan *Event
	deliverer Deliverer
	breakers  *circuitbreaker.Registry
	stats     counters
	logger    *slog.Logger

	minRequeueDelay time.Duration
	workers         sync.WaitGroup
	stop            chan struct{}
	closed          atomic.Bool
}

// NewMemory starts a dispatcher delivering through deliverer.
func NewMemory(cfg MemoryConfig, deliverer Deliverer, metrics MetricsRecorder) *MemoryDispatcher {
	cfg = cfg.withDefaults()
	if metrics == nil {
		metrics = nopMetrics{}
	}

	d := &MemoryDispatcher{
		cfg:             cfg,
		queue:           make(chan *Event, cfg.BufferSize),
		deliverer:       deliverer,
		stats:           counters{metrics: metrics},
		logger:          slog.With("component", "dispatcher"),
		minRequeueDelay: defaultMinRequeueDelay,
		stop:            make(chan struct{}),
	}
	d.setBreakers(circuitbreaker.NewRegistry(circuitbreaker.Config{
		Threshold: cfg.BreakerThreshold,
		Cooldown:  cfg.BreakerCooldown,
	}))

	d.workers.Add(cfg.Workers)
	for range cfg.Workers {
		go d.work()
	}
	if _, ok := metrics.(nopMetrics); !ok {
		go d.reportQueueSize(5 * time.Second)
	}

	d.logger.Info("Dispatcher started",
		"workers", cfg.Workers,
		"buffer", cfg.BufferSize,
		"maxRetries", cfg.MaxRetries,
		"breakerThreshold", cfg.BreakerThreshold,
		"breakerCooldown", cfg.BreakerCooldown,
	)
	return d
}

// setBreakers installs the per-destination breakers and logs their transitions.
func (d *MemoryDispatcher) setBreakers(r *circuitbreaker.Registry) {
	r.OnStateChange(func(key string, from, to circuitbreaker.State) {
		switch to {
		case circuitbreaker.Open:
			d.logger.Warn("Notification destination unavailable, pausing deliveries", "destination", key, "from", from.String())
		case circuitbreaker.Closed:
			d.logger.Info("Notification destination recovered", "destination", key)
		}
	})
	d.breakers = r
}

// Dispatch queues an event for delivery.
func (d *MemoryDispatcher) Dispatch(event *Event) error {
	if d.closed.Load() {
		return ErrClosed
	}

	select {
	case d.queue <- event:
		d.stats.queued.Add(1)
		return nil
	default:
		d.stats.drop()
		d.logEvent(slog.LevelWarn, "Event dropped, buffer full", event)
		return ErrBufferFull
	}
}

// Stats returns a snapshot of the counters and breaker states.
func (d *MemoryDispatcher) Stats() Stats {
	breakers := d.breakers.Stats()
	return Stats{
		QueueDepth:       len(d.queue),
		Queued:           d.stats.queued.Load(),
		Delivered:        d.stats.delivered.Load(),
		Failed:           d.stats.failed.Load(),
		Dropped:          d.stats.dropped.Load(),
		Requeued:         d.stats.requeued.Load(),
		RetriesTotal:     d.stats.retries.Load(),
		BreakersTotal:    breakers.Total,
		BreakersOpen:     breakers.Open,
		OpenDestinations: d.breakers.Open(),
	}
}

// Close stops accepting events and waits, up to ctx, for the workers to
// deliver what is queued. Notifications waiting to be requeued are dropped.
func (d *MemoryDispatcher) Close(ctx context.Context) error {
	if d.closed.Swap(true) {
		return nil
	}
	d.logger.Info("Dispatcher shutting down", "queued", len(d.queue))
	close(d.stop)

	done := make(chan struct{})
	go func() {
		d.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Dispatcher shutdown complete",
			"delivered", d.stats.delivered.Load(),
			"failed", d.stats.failed.Load(),
			"dropped", d.stats.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		d.logger.Warn("Dispatcher shutdown timed out", "remaining", len(d.queue))
		return ctx.Err()
	}
}

func (d *MemoryDispatcher) work() {
	defer d.workers.Done()
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.stop:
			// Drain what was accepted before Close.
			for {
				select {
				case event := <-d.queue:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *MemoryDispatcher) reportQueueSize(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.stats.metrics.RecordDispatcherQueueSize(context.Background(), int64(len(d.queue)))
		}
	}
}

// deliver makes one delivery, with retries, through the destination's
// breaker. Permanent errors fail the event without counting against the
// destination.
func (d *MemoryDispatcher) deliver(event *Event) {
	key := breakerKey(event.Destination)
	breaker := d.breakers.Get(key)

	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	start := time.Now()
	err := breaker.Execute(func() error {
		return d.attempt(ctx, event)
	}, func(err error) bool { return !IsPermanent(err) })

	switch {
	case err == nil:
		d.stats.deliveredIn(time.Since(start))
	case errors.Is(err, circuitbreaker.ErrOpen):
		d.requeue(event, key, breaker.RetryAfter())
	default:
		d.stats.fail()
		d.logEvent(slog.LevelWarn, "Delivery failed", event, "error", err, "permanent", IsPermanent(err))
	}
}

// attempt calls the deliverer up to MaxRetries+1 times, backing off
// between tries or waiting as long as the receiver's Retry-After asks.
func (d *MemoryDispatcher) attempt(ctx context.Context, event *Event) error {
	var err error
	for try := range d.cfg.MaxRetries + 1 {
		if try > 0 {
			d.stats.retries.Add(1)
			wait := max(retryPolicy.Delay(try), cloudevent.RetryDelay(err))
			if sleepErr := backoff.Sleep(ctx, wait); sleepErr != nil {
				return sleepErr
			}
		}
		if err = d.deliverer.Deliver(ctx, event); err == nil || IsPermanent(err) {
			return err
		}
	}
	return err
}

// requeue puts an event back once its destination's breaker admits a
// trial call, waiting at least minRequeueDelay so events queued behind an
// in-flight trial do not spin.
func (d *MemoryDispatcher) requeue(event *Event, key string, wait time.Duration) {
	if event.Requeues >= d.cfg.MaxRequeues {
		d.stats.drop()
		d.logEvent(slog.LevelWarn, "Event dropped, max requeues reached", event, "requeues", event.Requeues)
		return
	}
	event.Requeues++
	d.stats.requeue()

	time.AfterFunc(max(wait, d.minRequeueDelay), func() {
		if d.closed.Load() {
			return
		}
		select {
		case d.queue <- event:
			d.logger.Debug("Event requeued", "destination", key, "requeues", event.Requeues)
		default:
			d.stats.drop()
			d.logEvent(slog.LevelWarn, "Event dropped on requeue, buffer full", event)
		}
	})
}

func (d *MemoryDispatcher) logEvent(level slog.Level, msg string, event *Event, attrs ...any) {
	attrs = append(attrs, "destination", breakerKey(event.Destination))
	if event.Payload != nil {
		attrs = append(attrs, "type", event.Payload.Type, "jobId", event.Payload.Subject)
	}
	d.logger.Log(context.Background(), level, msg, attrs...)
}

// breakerKey groups destinations that share fate: the host for URLs,
// the scheme for chat and pub/sub channels ("telegram:42" -> "telegram").
func breakerKey(destination string) string {
	parsed, err := url.Parse(destination)
	if err != nil {
		return destination
	}
	if parsed.Host != "" {
		return parsed.Host
	}
	if parsed.Scheme != "" {
		return parsed.Scheme
	}
	return destination
}

var _ Dispatcher = (*MemoryDispatcher)(nil)
