package observability

import (
	"context"
	"errors"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics covers the golden signals of the service:
//   - latency of API requests, conversions and notification deliveries
//   - traffic in requests, jobs and runner polls
//   - errors by route, failure cause and channel
//   - saturation as active jobs, queued notifications and open breakers
type Metrics struct {
	meter metric.Meter

	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	JobDuration    metric.Float64Histogram
	JobsTotal      metric.Int64Counter
	JobErrorsTotal metric.Int64Counter
	JobsActive     metric.Int64UpDownCounter
	PollsTotal     metric.Int64Counter

	NotificationsTotal metric.Int64Counter

	DispatcherDuration  metric.Float64Histogram
	DispatcherDelivered metric.Int64Counter
	DispatcherFailed    metric.Int64Counter
	DispatcherDropped   metric.Int64Counter
	DispatcherRequeued  metric.Int64Counter
	DispatcherQueueSize metric.Int64Gauge
	BreakersOpen        metric.Int64ObservableGauge
}

// builder creates instruments and joins their creation errors.
type builder struct {
	meter metric.Meter
	err   error
}

func (b *builder) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.err = errors.Join(b.err, err)
	return c
}

func (b *builder) upDownCounter(name, desc string) metric.Int64UpDownCounter {
	c, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.err = errors.Join(b.err, err)
	return c
}

func (b *builder) seconds(name, desc string, buckets ...float64) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(buckets...),
	)
	b.err = errors.Join(b.err, err)
	return h
}

func (b *builder) gauge(name, desc string) metric.Int64Gauge {
	g, err := b.meter.Int64Gauge(name, metric.WithDescription(desc))
	b.err = errors.Join(b.err, err)
	return g
}

func (b *builder) observableGauge(name, desc string) metric.Int64ObservableGauge {
	g, err := b.meter.Int64ObservableGauge(name, metric.WithDescription(desc))
	b.err = errors.Join(b.err, err)
	return g
}

// NewMetrics creates all instruments on a dedicated Prometheus registry,
// alongside the Go runtime and process collectors, and returns the
// handler that serves it.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	registry := promclient.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("rombuilder")
	b := &builder{meter: meter}
	m := &Metrics{meter: meter}

	m.HTTPRequestDuration = b.seconds("http_request_duration_seconds", "HTTP request latency in seconds",
		0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10)
	m.HTTPRequestsTotal = b.counter("http_requests_total", "Total number of HTTP requests")
	m.HTTPErrorsTotal = b.counter("http_errors_total", "Total number of HTTP errors (4xx and 5xx)")

	// Conversions run for tens of minutes, hence the wide buckets.
	m.JobDuration = b.seconds("job_duration_seconds", "Time from submission to terminal state in seconds",
		30, 60, 300, 600, 1200, 1800, 2700, 3600, 5400, 7200)
	m.JobsTotal = b.counter("jobs_total", "Total number of jobs submitted")
	m.JobErrorsTotal = b.counter("job_errors_total", "Total number of failed jobs by cause")
	m.JobsActive = b.upDownCounter("jobs_active", "Number of jobs currently being tracked")
	m.PollsTotal = b.counter("job_polls_total", "Total status checks against the runner by result")

	m.NotificationsTotal = b.counter("notifications_total", "Terminal notifications handed to a channel")

	m.DispatcherDuration = b.seconds("dispatcher_duration_seconds", "Notification delivery latency in seconds",
		0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10)
	m.DispatcherDelivered = b.counter("dispatcher_delivered_total", "Total notifications delivered")
	m.DispatcherFailed = b.counter("dispatcher_failed_total", "Total notifications that could not be delivered")
	m.DispatcherDropped = b.counter("dispatcher_dropped_total", "Total notifications dropped (buffer full or max requeues)")
	m.DispatcherRequeued = b.counter("dispatcher_requeued_total", "Total notifications requeued behind an open circuit")
	m.DispatcherQueueSize = b.gauge("dispatcher_queue_size", "Notifications waiting for delivery")
	m.BreakersOpen = b.observableGauge("notification_breakers_open", "Notification destinations whose circuit is open")

	if b.err != nil {
		return nil, nil, b.err
	}
	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// ObserveOpenBreakers reports open() as notification_breakers_open on every scrape.
func (m *Metrics) ObserveOpenBreakers(open func() int) error {
	_, err := m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.BreakersOpen, int64(open()))
		return nil
	}, m.BreakersOpen)
	return err
}

// RecordHTTPRequest records one served request. route is the matched
// ServeMux pattern, e.g. "GET /v1/jobs/{jobId}".
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		routeAttr(route),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordJobSubmitted records a job accepted for tracking.
func (m *Metrics) RecordJobSubmitted(ctx context.Context, variant string) {
	attrs := metric.WithAttributes(variantAttr(variant))
	m.JobsTotal.Add(ctx, 1, attrs)
	m.JobsActive.Add(ctx, 1, attrs)
}

// RecordJobFinished records a job reaching a terminal state.
// cause is empty for completed jobs.
func (m *Metrics) RecordJobFinished(ctx context.Context, variant, cause string, durationSeconds float64) {
	success := cause == ""
	m.JobDuration.Record(ctx, durationSeconds, metric.WithAttributes(variantAttr(variant), successAttr(success)))
	m.JobsActive.Add(ctx, -1, metric.WithAttributes(variantAttr(variant)))
	if !success {
		m.JobErrorsTotal.Add(ctx, 1, metric.WithAttributes(variantAttr(variant), causeAttr(cause)))
	}
}

// RecordPoll records one status check. result is the run state or "error".
func (m *Metrics) RecordPoll(ctx context.Context, result string) {
	m.PollsTotal.Add(ctx, 1, metric.WithAttributes(resultAttr(result)))
}

// RecordNotification records a terminal notification handed to a channel kind.
func (m *Metrics) RecordNotification(ctx context.Context, channel string, success bool) {
	m.NotificationsTotal.Add(ctx, 1, metric.WithAttributes(channelAttr(channel), successAttr(success)))
}

func (m *Metrics) RecordDispatcherDelivered(ctx context.Context, durationSeconds float64) {
	m.DispatcherDelivered.Add(ctx, 1)
	m.DispatcherDuration.Record(ctx, durationSeconds)
}

func (m *Metrics) RecordDispatcherFailed(ctx context.Context) {
	m.DispatcherFailed.Add(ctx, 1)
}

func (m *Metrics) RecordDispatcherDropped(ctx context.Context) {
	m.DispatcherDropped.Add(ctx, 1)
}

func (m *Metrics) RecordDispatcherRequeued(ctx context.Context) {
	m.DispatcherRequeued.Add(ctx, 1)
}

func (m *Metrics) RecordDispatcherQueueSize(ctx context.Context, size int64) {
	m.DispatcherQueueSize.Record(ctx, size)
}
