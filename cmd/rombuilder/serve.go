package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"rombuilder/internal/api"
	"rombuilder/internal/config"
	"rombuilder/internal/dispatcher"
	"rombuilder/internal/health"
	"rombuilder/internal/job"
	"rombuilder/internal/notify"
	"rombuilder/internal/observability"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and job trackers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := newService(ctx, config.LoadServiceConfig())
			if err != nil {
				return err
			}
			defer svc.close()
			return svc.run(ctx)
		},
	}
}

// service is the wired serve command: job bookkeeping, notification
// delivery and the two HTTP listeners.
type service struct {
	cfg *config.ServiceConfig

	supervisor *job.Supervisor
	dispatcher *dispatcher.MemoryDispatcher
	health     *health.Checker
	servers    []*http.Server

	closers []func() error
}

func newService(ctx context.Context, cfg *config.ServiceConfig) (_ *service, err error) {
	s := &service{cfg: cfg}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return nil, err
	}

	runner, runnerCloser, err := newRunner(cfg.Runner)
	if err != nil {
		return nil, err
	}
	if runnerCloser != nil {
		s.closers = append(s.closers, runnerCloser.Close)
	}
	slog.Info("Runner configured", "runner", cfg.Runner)

	dispatcherCfg := dispatcher.LoadConfigFromEnv()
	notifyCfg := notify.LoadConfigFromEnv()
	notifyCfg.HTTPTimeout = dispatcherCfg.HTTPTimeout

	mux, err := notify.NewMuxFromConfig(ctx, notifyCfg, metrics)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, mux.Close)

	s.dispatcher = dispatcher.NewMemory(dispatcherCfg, mux, metrics)
	if err := metrics.ObserveOpenBreakers(func() int { return s.dispatcher.Stats().BreakersOpen }); err != nil {
		return nil, err
	}

	store := job.NewStore()
	tracker := job.NewTracker(store, runner, notify.New(s.dispatcher), metrics, job.LoadTrackerConfigFromEnv())
	s.supervisor = job.NewSupervisor(tracker)

	s.health = health.NewChecker(runner, s.dispatcher)
	s.health.Register("channels", false, mux.Ready)

	if cfg.APIKey == "" {
		slog.Warn("API authentication disabled, no API_KEY_FILE configured")
	}

	router := api.NewRouter(api.RouterConfig{
		JobService:    job.NewService(store, runner, s.supervisor, metrics, cfg.MaxConcurrentJobs),
		Metrics:       metrics,
		HealthChecker: s.health,
		APIKey:        cfg.APIKey,
		Version:       Version,
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)

	s.servers = []*http.Server{
		// No WriteTimeout: watch connections stay open for the whole
		// conversion and set their own write deadlines.
		{
			Addr:              ":" + cfg.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		{
			Addr:         ":" + cfg.MetricsPort,
			Handler:      metricsMux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
	return s, nil
}

// run serves until ctx is cancelled or a listener fails, then shuts down:
// fail readiness, let the load balancer drain, stop the listeners, abandon
// trackers and flush queued notifications. External runs keep going.
func (s *service) run(ctx context.Context) error {
	serveErr := make(chan error, len(s.servers))
	for _, srv := range s.servers {
		go func() {
			slog.Info("Listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
		}()
	}

	var failure error
	select {
	case <-ctx.Done():
		slog.Info("Shutdown requested")
	case failure = <-serveErr:
		slog.Error("Server failed", "error", failure)
	}

	s.health.SetShuttingDown()
	if failure == nil && s.cfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", s.cfg.ShutdownDrainWait)
		time.Sleep(s.cfg.ShutdownDrainWait)
	}

	s.stopServers(s.cfg.ShutdownTimeout)
	s.stopTrackers()

	slog.Info("Shutdown complete")
	return failure
}

func (s *service) stopServers(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, srv := range s.servers {
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown error", "addr", srv.Addr, "error", err)
		}
	}
}

func (s *service) stopTrackers() {
	slog.Info("Stopping job trackers", "running", s.supervisor.Running())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.supervisor.Shutdown(ctx); err != nil {
		slog.Warn("Tracker shutdown error", "error", err)
	}

	dctx, dcancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dcancel()
	if err := s.dispatcher.Close(dctx); err != nil {
		slog.Warn("Dispatcher shutdown error", "error", err)
	}
	stats := s.dispatcher.Stats()
	slog.Info("Notifications flushed",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
		"requeued", stats.Requeued,
	)
}

// close releases the runner and channels in reverse order of creation.
func (s *service) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Warn("Close error", "error", err)
		}
	}
	s.closers = nil
}
