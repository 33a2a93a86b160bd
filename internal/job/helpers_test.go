package job

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeRunner is a scriptable Runner. Poll answers come from pollFn, called
// with the 1-based poll number.
type fakeRunner struct {
	mu sync.Mutex

	runID     string
	startErr  error
	pollFn    func(n int) (RunStatus, error)
	result    string
	resultErr error
	block     chan struct{} // when set, Poll waits for it to close
	onStart   func()        // runs inside Start, outside the lock

	starts    []StartRequest
	polls     int
	fetches   int
	cancelled []string
}

func (f *fakeRunner) Start(_ context.Context, req StartRequest) (string, error) {
	if f.onStart != nil {
		f.onStart()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, req)
	if f.startErr != nil {
		return "", f.startErr
	}
	return f.runID, nil
}

func (f *fakeRunner) Poll(ctx context.Context, _ string) (RunStatus, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return RunStatus{}, ctx.Err()
		}
	}

	f.mu.Lock()
	f.polls++
	n := f.polls
	fn := f.pollFn
	f.mu.Unlock()

	if fn == nil {
		return RunStatus{State: RunPending}, nil
	}
	return fn(n)
}

func (f *fakeRunner) FetchResult(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.result, f.resultErr
}

func (f *fakeRunner) Ready(context.Context) error { return nil }

func (f *fakeRunner) Cancel(_ context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, runID)
	return nil
}

func (f *fakeRunner) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func (f *fakeRunner) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

// recordingNotifier captures every outcome it is asked to deliver.
type recordingNotifier struct {
	mu       sync.Mutex
	channels []string
	outcomes []Outcome
	err      error
}

func (n *recordingNotifier) Notify(_ context.Context, channel string, o Outcome) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channels = append(n.channels, channel)
	n.outcomes = append(n.outcomes, o)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.outcomes)
}

func (n *recordingNotifier) last(t *testing.T) Outcome {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.outcomes) == 0 {
		t.Fatal("no notification recorded")
	}
	return n.outcomes[len(n.outcomes)-1]
}

// newTestTracker returns a tracker whose sleeps return immediately and
// are counted in *sleeps.
func newTestTracker(store *Store, runner Runner, notifier Notifier, cfg TrackerConfig) (*Tracker, *[]time.Duration) {
	tr := NewTracker(store, runner, notifier, nil, cfg)
	var (
		mu     sync.Mutex
		sleeps []time.Duration
	)
	tr.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		sleeps = append(sleeps, d)
		mu.Unlock()
		return ctx.Err()
	}
	return tr, &sleeps
}

func putRunning(t *testing.T, store *Store, id, runID string) Job {
	t.Helper()
	j := Job{
		ID:         id,
		RunID:      runID,
		Channel:    "telegram:1234",
		Parameters: Parameters{Source: "https://x/rom.zip", Variant: VariantHybrid, Requester: "alice"},
		State:      StateRunning,
		CreatedAt:  time.Now().UTC(),
	}
	if err := store.Put(j); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	return j
}

func scripted(statuses ...RunStatus) func(int) (RunStatus, error) {
	return func(n int) (RunStatus, error) {
		if n > len(statuses) {
			return statuses[len(statuses)-1], nil
		}
		return statuses[n-1], nil
	}
}
