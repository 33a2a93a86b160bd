package job

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"rombuilder/internal/apperrors"
	"rombuilder/internal/observability"
)

// Validation limits
const (
	maxSourceLength    = 2048
	maxChannelLength   = 512
	maxRequesterIDSize = 128
)

// Service accepts conversion requests and owns the job registry.
//
// Submit returns as soon as the external run is started and the tracker is
// scheduled; every later change to a job happens on its tracker goroutine.
type Service struct {
	store      *Store
	runner     Runner
	supervisor *Supervisor
	metrics    *observability.Metrics
	maxActive  int // 0 disables the limit
	now        func() time.Time

	// starting counts submissions between the limit check and Put so
	// concurrent requests cannot overshoot maxActive.
	mu       sync.Mutex
	starting int
}

// NewService creates a new job service.
func NewService(store *Store, runner Runner, supervisor *Supervisor, metrics *observability.Metrics, maxActive int) *Service {
	return &Service{
		store:      store,
		runner:     runner,
		supervisor: supervisor,
		metrics:    metrics,
		maxActive:  maxActive,
		now:        time.Now,
	}
}

// Submit validates the request, starts the external run and schedules its
// tracker. No job is created when validation or the start fails.
func (s *Service) Submit(ctx context.Context, req *SubmitRequest) (*Response, error) {
	params, err := validate(req)
	if err != nil {
		return nil, err
	}

	if !s.supervisor.Accepting() {
		return nil, apperrors.Unavailable("service shutting down")
	}

	release, err := s.reserve()
	if err != nil {
		return nil, err
	}
	defer release()

	created := s.now().UTC()
	id := NewID(params.Requester, created)
	logger := slog.With("jobId", id, "variant", params.Variant)

	runID, err := s.runner.Start(ctx, StartRequest{
		JobID:      id,
		Channel:    req.Channel,
		Parameters: params,
	})
	if err != nil || runID == "" {
		if err == nil {
			err = fmt.Errorf("runner returned no run ID")
		}
		logger.Error("External run failed to start", "error", err)
		return nil, apperrors.StartFailed("runner.start", err)
	}

	j := Job{
		ID:         id,
		RunID:      runID,
		Channel:    req.Channel,
		Parameters: params,
		State:      StateRunning,
		CreatedAt:  created,
	}
	if err := s.store.Put(j); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordJobSubmitted(ctx, string(params.Variant))
	}

	if err := s.supervisor.Schedule(id); err != nil {
		// Shutdown began after the run started: fail the job through the
		// tracker so the requester hears about it and the run is stopped.
		logger.Error("Tracker not scheduled", "error", err)
		if rerr := s.supervisor.Reject(ctx, id); rerr != nil {
			logger.Warn("Unscheduled job not failed", "error", rerr)
		}
		return nil, apperrors.Unavailable("service shutting down")
	}

	logger.Info("Job submitted", "runId", runID)

	return &Response{
		ID:     id,
		Status: StateRunning,
		RunID:  runID,
	}, nil
}

// reserve claims a slot under the concurrency limit. The returned release
// must be called once the job is stored (or abandoned).
func (s *Service) reserve() (func(), error) {
	if s.maxActive <= 0 {
		return func() {}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store.Active()+s.starting >= s.maxActive {
		return nil, apperrors.Limit("job", s.maxActive)
	}
	s.starting++
	return func() {
		s.mu.Lock()
		s.starting--
		s.mu.Unlock()
	}, nil
}

// Get returns the current record of a job.
func (s *Service) Get(_ context.Context, jobID string) (Job, error) {
	return s.store.Get(jobID)
}

// List returns all jobs, oldest first.
func (s *Service) List(_ context.Context) *ListResponse {
	return &ListResponse{Jobs: s.store.List()}
}

// Watch streams snapshots of a job until it finishes.
func (s *Service) Watch(_ context.Context, jobID string) (<-chan Job, func(), error) {
	return s.store.Watch(jobID)
}

// Cancel fails a running job as cancelled.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	logger := slog.With("jobId", jobID)
	if err := s.supervisor.Cancel(ctx, jobID); err != nil {
		logger.Warn("Job cancellation rejected", "error", err)
		return err
	}
	logger.Info("Job cancelled")
	return nil
}

// ParseVariant normalises and checks a variant name.
func ParseVariant(raw string) (Variant, error) {
	v := Variant(strings.ToLower(strings.TrimSpace(raw)))
	if !slices.Contains(Variants, v) {
		return "", apperrors.Validation("variant", apperrors.ReasonInvalidVariant,
			fmt.Sprintf("invalid variant %q: must be one of super, hybrid", raw))
	}
	return v, nil
}

// validate validates a submit request. Does not modify the request.
func validate(req *SubmitRequest) (Parameters, error) {
	variant, err := ParseVariant(req.Variant)
	if err != nil {
		return Parameters{}, err
	}

	source := strings.TrimSpace(req.Source)
	if source == "" {
		return Parameters{}, apperrors.Validation("source", apperrors.ReasonInvalidSource, "source URL is required")
	}
	if len(source) > maxSourceLength {
		return Parameters{}, apperrors.Validation("source", apperrors.ReasonInvalidSource,
			fmt.Sprintf("source URL exceeds maximum length of %d", maxSourceLength))
	}
	if err := validateURL(source); err != nil {
		return Parameters{}, apperrors.Validation("source", apperrors.ReasonInvalidSource,
			fmt.Sprintf("invalid source URL: %v", err))
	}

	if len(req.Channel) > maxChannelLength {
		return Parameters{}, apperrors.Validation("channel", "",
			fmt.Sprintf("channel exceeds maximum length of %d", maxChannelLength))
	}
	if len(req.Requester) > maxRequesterIDSize {
		return Parameters{}, apperrors.Validation("requester", "",
			fmt.Sprintf("requester exceeds maximum length of %d", maxRequesterIDSize))
	}

	return Parameters{
		Source:    source,
		Variant:   variant,
		Requester: strings.TrimSpace(req.Requester),
	}, nil
}

func validateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed URL")
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
