package job

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"rombuilder/internal/apperrors"
	"rombuilder/internal/testutil"
)

type testEnv struct {
	store      *Store
	runner     *fakeRunner
	notifier   *recordingNotifier
	supervisor *Supervisor
	svc        *Service
}

func newTestEnv(t *testing.T, runner *fakeRunner, maxActive int) *testEnv {
	t.Helper()
	store := NewStore()
	notifier := &recordingNotifier{}
	tracker, _ := newTestTracker(store, runner, notifier, TrackerConfig{})
	supervisor := NewSupervisor(tracker)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = supervisor.Shutdown(ctx)
	})
	return &testEnv{
		store:      store,
		runner:     runner,
		notifier:   notifier,
		supervisor: supervisor,
		svc:        NewService(store, runner, supervisor, nil, maxActive),
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		req        *SubmitRequest
		wantReason string
		errMsg     string
	}{
		{
			name:       "unknown variant",
			req:        &SubmitRequest{Source: "https://x/rom.zip", Variant: "foo"},
			wantReason: apperrors.ReasonInvalidVariant,
			errMsg:     "invalid variant",
		},
		{
			name:       "empty variant",
			req:        &SubmitRequest{Source: "https://x/rom.zip"},
			wantReason: apperrors.ReasonInvalidVariant,
			errMsg:     "must be one of super, hybrid",
		},
		{
			name:       "empty source",
			req:        &SubmitRequest{Variant: "super"},
			wantReason: apperrors.ReasonInvalidSource,
			errMsg:     "source URL is required",
		},
		{
			name:       "ftp source",
			req:        &SubmitRequest{Source: "ftp://x/rom.zip", Variant: "super"},
			wantReason: apperrors.ReasonInvalidSource,
			errMsg:     "scheme must be http or https",
		},
		{
			name:       "relative source",
			req:        &SubmitRequest{Source: "rom.zip", Variant: "super"},
			wantReason: apperrors.ReasonInvalidSource,
			errMsg:     "scheme must be http or https",
		},
		{
			name:       "source without host",
			req:        &SubmitRequest{Source: "https:///rom.zip", Variant: "super"},
			wantReason: apperrors.ReasonInvalidSource,
			errMsg:     "must have a host",
		},
		{
			name:       "malformed source",
			req:        &SubmitRequest{Source: "http://[::1", Variant: "super"},
			wantReason: apperrors.ReasonInvalidSource,
			errMsg:     "malformed URL",
		},
		{
			name:       "oversized source",
			req:        &SubmitRequest{Source: "https://x/" + strings.Repeat("a", maxSourceLength), Variant: "super"},
			wantReason: apperrors.ReasonInvalidSource,
			errMsg:     "exceeds maximum length",
		},
		{
			name:   "oversized channel",
			req:    &SubmitRequest{Source: "https://x/rom.zip", Variant: "super", Channel: strings.Repeat("c", maxChannelLength+1)},
			errMsg: "channel exceeds maximum length",
		},
		{
			name: "valid request",
			req:  &SubmitRequest{Source: "https://x/rom.zip", Variant: "hybrid"},
		},
		{
			name: "variant is case-insensitive",
			req:  &SubmitRequest{Source: " https://x/rom.zip ", Variant: " SUPER "},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := validate(tt.req)
			if tt.errMsg == "" {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, apperrors.ErrValidation) {
				t.Fatalf("Expected validation error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Expected error containing %q, got %q", tt.errMsg, err.Error())
			}
			if got := apperrors.ReasonOf(err); got != tt.wantReason {
				t.Errorf("Expected reason %q, got %q", tt.wantReason, got)
			}
		})
	}
}

func TestValidate_Normalises(t *testing.T) {
	t.Parallel()
	params, err := validate(&SubmitRequest{Source: " https://x/rom.zip ", Variant: "Hybrid", Requester: " bob "})
	if err != nil {
		t.Fatal(err)
	}
	if params.Variant != VariantHybrid || params.Source != "https://x/rom.zip" || params.Requester != "bob" {
		t.Errorf("unexpected params: %+v", params)
	}
}

func TestSubmit_InvalidVariantCreatesNoJob(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &fakeRunner{runID: "42"}, 0)
	before := env.store.Len()

	_, err := env.svc.Submit(context.Background(), &SubmitRequest{
		Source:  "https://x/rom.zip",
		Variant: "foo",
		Channel: "telegram:1",
	})
	if !errors.Is(err, apperrors.ErrValidation) || apperrors.ReasonOf(err) != apperrors.ReasonInvalidVariant {
		t.Fatalf("expected invalid_variant validation error, got %v", err)
	}
	if env.store.Len() != before {
		t.Errorf("store size changed: %d -> %d", before, env.store.Len())
	}
	if env.runner.startCount() != 0 {
		t.Error("runner must not be started for an invalid request")
	}
}

func TestSubmit_StartFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		runner *fakeRunner
	}{
		{"runner error", &fakeRunner{startErr: errors.New("HTTP 422")}},
		{"no run handle", &fakeRunner{runID: ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, tt.runner, 0)

			_, err := env.svc.Submit(context.Background(), &SubmitRequest{Source: "https://x/rom.zip", Variant: "super"})
			if !errors.Is(err, apperrors.ErrUpstream) || apperrors.ReasonOf(err) != apperrors.ReasonStartFailed {
				t.Fatalf("expected start_failed, got %v", err)
			}
			if env.store.Len() != 0 {
				t.Errorf("expected no job, store has %d", env.store.Len())
			}
			if env.supervisor.Running() != 0 {
				t.Error("no tracker should be scheduled")
			}
		})
	}
}

func TestSubmit_ReturnsBeforeTrackingFinishes(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{runID: "42", block: make(chan struct{})}
	env := newTestEnv(t, runner, 0)

	resp, err := env.svc.Submit(context.Background(), &SubmitRequest{
		Source:    "https://x/rom.zip",
		Variant:   "hybrid",
		Channel:   "telegram:99",
		Requester: "alice",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if resp.Status != StateRunning || resp.RunID != "42" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if !strings.HasPrefix(resp.ID, "alice_") {
		t.Errorf("expected job ID derived from requester, got %q", resp.ID)
	}

	j, err := env.svc.Get(context.Background(), resp.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if j.State != StateRunning || j.Channel != "telegram:99" || j.Variant != VariantHybrid {
		t.Errorf("unexpected job: %+v", j)
	}

	start := env.runner.starts[0]
	if start.JobID != resp.ID || start.Channel != "telegram:99" || start.Source != "https://x/rom.zip" {
		t.Errorf("runner received unexpected start request: %+v", start)
	}

	close(runner.block)
	env.supervisor.Wait()

	j, _ = env.svc.Get(context.Background(), resp.ID)
	if j.State != StateFailed || j.Error != "timeout" {
		t.Errorf("expected the always-pending run to time out, got %+v", j)
	}
}

func TestSubmit_SuccessScenario(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{
		runID: "42",
		pollFn: scripted(
			RunStatus{State: RunPending},
			RunStatus{State: RunPending},
			RunStatus{State: RunSucceeded},
		),
		result: "https://drive/out.zip",
	}
	env := newTestEnv(t, runner, 0)

	resp, err := env.svc.Submit(context.Background(), &SubmitRequest{
		Source:  "https://x/rom.zip",
		Variant: "hybrid",
		Channel: "telegram:7",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	testutil.MustWaitFor(t, func() bool {
		j, _ := env.store.Get(resp.ID)
		return j.State.Terminal()
	}, testutil.WithTimeout(5*time.Second), testutil.WithInterval(5*time.Millisecond))
	env.supervisor.Wait()

	j, _ := env.svc.Get(context.Background(), resp.ID)
	if j.State != StateCompleted || j.Result != "https://drive/out.zip" {
		t.Errorf("expected completed with result, got %+v", j)
	}
	if env.notifier.count() != 1 || env.notifier.last(t).Result != "https://drive/out.zip" {
		t.Errorf("expected one notification carrying the result, got %d", env.notifier.count())
	}
}

func TestSubmit_ConcurrencyLimit(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{runID: "42", block: make(chan struct{})}
	env := newTestEnv(t, runner, 1)
	defer close(runner.block)

	req := &SubmitRequest{Source: "https://x/rom.zip", Variant: "super"}
	if _, err := env.svc.Submit(context.Background(), req); err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}

	_, err := env.svc.Submit(context.Background(), req)
	if !errors.Is(err, apperrors.ErrLimit) {
		t.Fatalf("expected ErrLimit, got %v", err)
	}
	if apperrors.HTTPStatus(err) != 429 {
		t.Errorf("expected 429, got %d", apperrors.HTTPStatus(err))
	}
	if env.runner.startCount() != 1 {
		t.Errorf("limit must be enforced before starting a run, got %d starts", env.runner.startCount())
	}
}

func TestService_Cancel(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{runID: "42", block: make(chan struct{})}
	env := newTestEnv(t, runner, 0)

	resp, err := env.svc.Submit(context.Background(), &SubmitRequest{Source: "https://x/rom.zip", Variant: "super", Channel: "telegram:1"})
	if err != nil {
		t.Fatal(err)
	}

	if err := env.svc.Cancel(context.Background(), resp.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	env.supervisor.Wait()

	j, _ := env.svc.Get(context.Background(), resp.ID)
	if j.State != StateFailed || j.Error != ErrorCancelled {
		t.Errorf("expected cancelled job, got %+v", j)
	}
	if env.notifier.count() != 1 {
		t.Errorf("expected exactly 1 notification, got %d", env.notifier.count())
	}
	if env.supervisor.Running() != 0 {
		t.Errorf("expected tracker to exit, %d running", env.supervisor.Running())
	}

	if err := env.svc.Cancel(context.Background(), resp.ID); !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("expected ErrConflict for finished job, got %v", err)
	}
	if err := env.svc.Cancel(context.Background(), "ghost"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSupervisor_ShutdownAbandonsTrackers(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{runID: "42", block: make(chan struct{})}
	env := newTestEnv(t, runner, 0)

	resp, err := env.svc.Submit(context.Background(), &SubmitRequest{Source: "https://x/rom.zip", Variant: "super"})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := env.supervisor.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	j, _ := env.store.Get(resp.ID)
	if j.State != StateRunning {
		t.Errorf("abandoned job must keep its state, got %s", j.State)
	}
	if env.notifier.count() != 0 {
		t.Errorf("shutdown must not notify, got %d", env.notifier.count())
	}

	if err := env.supervisor.Schedule("late"); !errors.Is(err, ErrSupervisorClosed) {
		t.Errorf("expected ErrSupervisorClosed, got %v", err)
	}

	_, err = env.svc.Submit(context.Background(), &SubmitRequest{Source: "https://x/rom.zip", Variant: "super"})
	if !errors.Is(err, apperrors.ErrUnavailable) {
		t.Errorf("expected unavailable after shutdown, got %v", err)
	}
	if runner.startCount() != 1 || env.store.Len() != 1 {
		t.Errorf("submit after shutdown must not start a run, starts=%d jobs=%d", runner.startCount(), env.store.Len())
	}
}

func TestSubmit_ShutdownDuringStart(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{runID: "42"}
	env := newTestEnv(t, runner, 0)
	runner.onStart = func() {
		_ = env.supervisor.Shutdown(context.Background())
	}

	_, err := env.svc.Submit(context.Background(), &SubmitRequest{
		Source:    "https://x/rom.zip",
		Variant:   "hybrid",
		Channel:   "telegram:1234",
		Requester: "alice",
	})
	if !errors.Is(err, apperrors.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}

	jobs := env.store.List()
	if len(jobs) != 1 {
		t.Fatalf("expected the started job to be recorded, got %d", len(jobs))
	}
	j := jobs[0]
	if j.State != StateFailed || j.Cause != CauseShutdown || j.Error != ErrorShutdown {
		t.Errorf("expected a shutdown failure, got %+v", j)
	}
	if env.notifier.count() != 1 {
		t.Errorf("expected exactly 1 notification, got %d", env.notifier.count())
	}
	if got := env.notifier.last(t); got.Cause != CauseShutdown {
		t.Errorf("notified cause = %q, want %q", got.Cause, CauseShutdown)
	}

	runner.mu.Lock()
	cancelled := append([]string(nil), runner.cancelled...)
	runner.mu.Unlock()
	if len(cancelled) != 1 || cancelled[0] != "42" {
		t.Errorf("expected run 42 to be cancelled, got %v", cancelled)
	}
}

func TestService_List(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{runID: "42", block: make(chan struct{})}
	env := newTestEnv(t, runner, 0)
	defer close(runner.block)

	for _, requester := range []string{"a", "b", "c"} {
		if _, err := env.svc.Submit(context.Background(), &SubmitRequest{Source: "https://x/rom.zip", Variant: "super", Requester: requester}); err != nil {
			t.Fatal(err)
		}
	}
	if got := len(env.svc.List(context.Background()).Jobs); got != 3 {
		t.Errorf("expected 3 jobs, got %d", got)
	}
}
