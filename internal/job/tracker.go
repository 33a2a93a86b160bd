package job

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"rombuilder/internal/config"
	"rombuilder/internal/observability"
	"rombuilder/pkg/backoff"
)

// FallbackResult is reported when a run succeeded but its download link
// could not be retrieved. The converted ROM is still in the Drive folder.
const FallbackResult = "Download link unavailable - check the Drive folder"

// cancelTimeout bounds the best-effort abort of an external run.
const cancelTimeout = 15 * time.Second

// TrackerConfig controls the polling schedule.
type TrackerConfig struct {
	Interval    time.Duration // time between polls (default: 30s)
	MaxPolls    int           // polls before the job times out (default: 240)
	PollRetries int           // consecutive poll errors tolerated; 0 fails on the first
}

// LoadTrackerConfigFromEnv loads the polling schedule from environment variables.
func LoadTrackerConfigFromEnv() TrackerConfig {
	cfg := TrackerConfig{
		Interval:    config.GetDurationEnv("POLL_INTERVAL", 30*time.Second),
		MaxPolls:    config.GetIntEnv("POLL_MAX_ATTEMPTS", 240),
		PollRetries: config.GetIntEnv("POLL_RETRIES", 3),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults.
func (c TrackerConfig) withDefaults() TrackerConfig {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.MaxPolls <= 0 {
		c.MaxPolls = 240
	}
	if c.PollRetries < 0 {
		c.PollRetries = 0
	}
	return c
}

// Tracker drives a single job from its first poll to its terminal state.
// The store is the gate for exactly-once notification: only the caller
// whose Update performs the terminal transition notifies.
type Tracker struct {
	store    *Store
	runner   Runner
	notifier Notifier
	metrics  *observability.Metrics
	cfg      TrackerConfig
	logger   *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewTracker creates a tracker. notifier and metrics may be nil.
func NewTracker(store *Store, runner Runner, notifier Notifier, metrics *observability.Metrics, cfg TrackerConfig) *Tracker {
	return &Tracker{
		store:    store,
		runner:   runner,
		notifier: notifier,
		metrics:  metrics,
		cfg:      cfg.withDefaults(),
		logger:   slog.With("component", "tracker"),
		now:      time.Now,
		sleep:    backoff.Sleep,
	}
}

// Track polls the job's external run until it finishes, fails, times out
// or ctx is cancelled. Outcomes are reported only through the store and the
// notifier. A cancelled ctx abandons the job without touching it.
func (t *Tracker) Track(ctx context.Context, jobID string) {
	j, err := t.store.Get(jobID)
	if err != nil {
		t.logger.Warn("Job not found, tracking skipped", "jobId", jobID)
		return
	}
	if j.State.Terminal() {
		return
	}

	logger := t.logger.With("jobId", jobID, "runId", j.RunID)
	logger.Debug("Tracking started", "interval", t.cfg.Interval, "maxPolls", t.cfg.MaxPolls)

	retryBackoff := backoff.Policy{Initial: time.Second, Max: t.cfg.Interval}
	failures := 0

	for poll := 1; poll <= t.cfg.MaxPolls; poll++ {
		status, err := t.runner.Poll(ctx, j.RunID)
		if ctx.Err() != nil {
			logger.Debug("Tracking abandoned", "cause", context.Cause(ctx))
			return
		}
		if !t.countPoll(jobID) {
			logger.Debug("Job finished elsewhere, tracking stopped")
			return
		}

		wait := t.cfg.Interval
		if err != nil {
			failures++
			t.recordPoll(ctx, "error")
			if failures > t.cfg.PollRetries {
				logger.Error("Polling failed", "error", err, "attempts", failures)
				t.fail(ctx, jobID, CausePollError, err.Error(), "")
				return
			}
			wait = min(retryBackoff.Delay(failures), t.cfg.Interval)
			logger.Warn("Poll failed, retrying", "error", err, "attempt", failures, "backoff", wait)
		} else {
			failures = 0
			t.recordPoll(ctx, string(status.State))

			switch status.State {
			case RunSucceeded:
				t.succeed(ctx, jobID, j.RunID, logger)
				return
			case RunFailed:
				detail := fmt.Sprintf("workflow failed with conclusion: %s", status.Conclusion)
				t.fail(ctx, jobID, CauseExternal, detail, status.Conclusion)
				return
			}
		}

		if poll == t.cfg.MaxPolls {
			break
		}
		if err := t.sleep(ctx, wait); err != nil {
			logger.Debug("Tracking abandoned", "cause", context.Cause(ctx))
			return
		}
	}

	logger.Warn("Job timed out", "polls", t.cfg.MaxPolls)
	t.fail(ctx, jobID, CauseTimeout, ErrorTimeout, "")
}

// Cancel fails a running job with the cancelled cause and asks the runner
// to abort the external run. It returns NotFound or Conflict from the store
// when there is nothing to cancel.
func (t *Tracker) Cancel(ctx context.Context, jobID string) error {
	return t.abort(ctx, jobID, CauseCancelled, ErrorCancelled)
}

// abort fails a running job, notifies its requester and stops the external
// run when the runner supports it.
func (t *Tracker) abort(ctx context.Context, jobID string, cause Cause, detail string) error {
	j, err := t.finish(ctx, jobID, func(j *Job, at time.Time) {
		j.fail(cause, detail, at)
	})
	if err != nil {
		return err
	}

	if c, ok := t.runner.(Canceler); ok {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
		defer cancel()
		if err := c.Cancel(cctx, j.RunID); err != nil {
			t.logger.Warn("External run cancellation failed", "jobId", jobID, "runId", j.RunID, "error", err)
		}
	}
	return nil
}

func (t *Tracker) succeed(ctx context.Context, jobID, runID string, logger *slog.Logger) {
	result, err := t.runner.FetchResult(ctx, runID)
	if ctx.Err() != nil {
		return
	}
	if err != nil || result == "" {
		logger.Warn("Result unavailable, using fallback", "error", err)
		result = FallbackResult
	}

	_, _ = t.finish(ctx, jobID, func(j *Job, at time.Time) {
		j.complete(result, at)
	})
}

func (t *Tracker) fail(ctx context.Context, jobID string, cause Cause, detail, conclusion string) {
	if detail == "" {
		detail = string(cause)
	}
	_, _ = t.finish(ctx, jobID, func(j *Job, at time.Time) {
		j.fail(cause, detail, at)
		j.Conclusion = conclusion
	})
}

// finish performs the terminal transition and, only if it happened here,
// records metrics and notifies the requester.
func (t *Tracker) finish(ctx context.Context, jobID string, apply func(*Job, time.Time)) (Job, error) {
	j, err := t.store.Update(jobID, func(j *Job) error {
		apply(j, t.now())
		return nil
	})
	if err != nil {
		t.logger.Debug("Terminal transition skipped", "jobId", jobID, "error", err)
		return j, err
	}

	t.logger.Info("Job finished", "jobId", j.ID, "status", j.State, "cause", j.Cause, "polls", j.Polls)

	// The outcome is already recorded; deliver it even if tracking was interrupted.
	nctx := context.WithoutCancel(ctx)
	if t.metrics != nil {
		t.metrics.RecordJobFinished(nctx, string(j.Variant), string(j.Cause), j.FinishedAt.Sub(j.CreatedAt).Seconds())
	}
	t.notify(nctx, j)
	return j, nil
}

func (t *Tracker) notify(ctx context.Context, j Job) {
	if t.notifier == nil {
		return
	}
	if err := t.notifier.Notify(ctx, j.Channel, OutcomeOf(j)); err != nil {
		t.logger.Error("Notification failed", "jobId", j.ID, "channel", j.Channel, "error", err)
	}
}

// countPoll reports false once the job is no longer running, e.g. after a cancel.
func (t *Tracker) countPoll(jobID string) bool {
	_, err := t.store.Update(jobID, func(j *Job) error {
		j.Polls++
		return nil
	})
	return err == nil
}

func (t *Tracker) recordPoll(ctx context.Context, result string) {
	if t.metrics != nil {
		t.metrics.RecordPoll(ctx, result)
	}
}
