package job

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrSupervisorClosed is returned by Schedule after Shutdown.
var ErrSupervisorClosed = errors.New("supervisor is shut down")

var (
	errCancelled = errors.New("job cancelled")
	errShutdown  = errors.New("supervisor shutting down")
)

// Supervisor runs one tracker goroutine per job, keyed by job ID.
// Schedule only registers the task and returns; execution happens on the
// task's own goroutine, so callers never wait on tracking.
type Supervisor struct {
	tracker *Tracker
	logger  *slog.Logger

	mu     sync.Mutex
	tasks  map[string]context.CancelCauseFunc
	closed bool
	wg     sync.WaitGroup
}

// NewSupervisor creates a supervisor for the given tracker.
func NewSupervisor(tracker *Tracker) *Supervisor {
	return &Supervisor{
		tracker: tracker,
		logger:  slog.With("component", "supervisor"),
		tasks:   make(map[string]context.CancelCauseFunc),
	}
}

// Schedule starts tracking jobID in the background. Scheduling a job that
// is already tracked is a no-op.
func (s *Supervisor) Schedule(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSupervisorClosed
	}
	if _, exists := s.tasks[jobID]; exists {
		return nil
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	s.tasks[jobID] = cancel
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer s.release(jobID)
		s.tracker.Track(ctx, jobID)
	}()
	return nil
}

func (s *Supervisor) release(jobID string) {
	s.mu.Lock()
	cancel, ok := s.tasks[jobID]
	delete(s.tasks, jobID)
	s.mu.Unlock()

	if ok {
		cancel(nil)
	}
}

// Cancel fails a running job as cancelled, notifies its requester and stops
// its tracker. It returns NotFound for unknown jobs and Conflict for jobs
// that already finished.
func (s *Supervisor) Cancel(ctx context.Context, jobID string) error {
	if err := s.tracker.Cancel(ctx, jobID); err != nil {
		return err
	}

	s.mu.Lock()
	cancel, ok := s.tasks[jobID]
	s.mu.Unlock()
	if ok {
		cancel(errCancelled)
	}
	return nil
}

// Accepting reports whether Schedule can still take new jobs.
func (s *Supervisor) Accepting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Reject fails a job that could not be scheduled because the supervisor
// shut down after its external run started. The requester is notified and
// the run is cancelled.
func (s *Supervisor) Reject(ctx context.Context, jobID string) error {
	return s.tracker.abort(ctx, jobID, CauseShutdown, ErrorShutdown)
}

// Running returns the number of live tracker goroutines.
func (s *Supervisor) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Shutdown stops accepting work and abandons in-flight trackers. Jobs keep
// their current state; nothing is notified. It waits for the goroutines to
// exit or for ctx to expire.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	abandoned := len(s.tasks)
	for _, cancel := range s.tasks {
		cancel(errShutdown)
	}
	s.mu.Unlock()

	if abandoned > 0 {
		s.logger.Info("Abandoning in-flight trackers", "count", abandoned)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every scheduled tracker has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
