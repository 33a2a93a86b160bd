package job

import (
	"fmt"
	"slices"
	"sync"

	"rombuilder/internal/apperrors"
)

// watchBuffer is the number of snapshots a slow watcher may lag behind.
const watchBuffer = 16

// Store is the in-memory job registry. It is the only shared mutable state:
// every read returns a copy and every change goes through Update.
type Store struct {
	mu       sync.RWMutex
	jobs     map[string]*Job
	watchers map[string][]*watcher
}

type watcher struct {
	ch     chan Job
	closed bool
}

// offer delivers j without blocking. When the buffer is full the oldest
// snapshot is discarded so the latest one always gets through.
// Must be called with the store lock held.
func (w *watcher) offer(j Job) {
	select {
	case w.ch <- j:
		return
	default:
	}
	select {
	case <-w.ch:
	default:
	}
	select {
	case w.ch <- j:
	default:
	}
}

func (w *watcher) close() {
	if !w.closed {
		w.closed = true
		close(w.ch)
	}
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		jobs:     make(map[string]*Job),
		watchers: make(map[string][]*watcher),
	}
}

// Put adds a new job. Job IDs are never reused.
func (s *Store) Put(j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[j.ID]; exists {
		return apperrors.Conflict("job", j.ID, fmt.Sprintf("job %s already exists", j.ID))
	}
	stored := j
	s.jobs[j.ID] = &stored
	return nil
}

// Get returns a copy of the job.
func (s *Store) Get(id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return Job{}, apperrors.NotFound("job", id)
	}
	return *j, nil
}

// Update applies mutate to a copy of the job and swaps the copy in atomically,
// so readers see either the old record or the new one, never a mix.
// Finished jobs are immutable and a mutator may not break the
// result/error pairing of the state it sets.
func (s *Store) Update(id string, mutate func(*Job) error) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[id]
	if !ok {
		return Job{}, apperrors.NotFound("job", id)
	}
	if current.State.Terminal() {
		return *current, apperrors.Conflict("job", id, fmt.Sprintf("job %s already %s", id, current.State))
	}

	next := *current
	if err := mutate(&next); err != nil {
		return *current, err
	}
	if next.ID != current.ID {
		return *current, apperrors.Internal("store.update", fmt.Errorf("job ID is immutable"))
	}
	if err := checkConsistent(next); err != nil {
		return *current, apperrors.Internal("store.update", err)
	}

	s.jobs[id] = &next
	s.broadcast(next)
	return next, nil
}

// checkConsistent enforces that result is present only on completed jobs
// and an error detail only on failed ones.
func checkConsistent(j Job) error {
	switch j.State {
	case StateRunning:
		if j.Result != "" || j.Error != "" {
			return fmt.Errorf("running job %s carries a result or error", j.ID)
		}
	case StateCompleted:
		if j.Result == "" || j.Error != "" {
			return fmt.Errorf("completed job %s needs a result and no error", j.ID)
		}
	case StateFailed:
		if j.Error == "" || j.Result != "" {
			return fmt.Errorf("failed job %s needs an error and no result", j.ID)
		}
	default:
		return fmt.Errorf("unknown state %q", j.State)
	}
	return nil
}

// broadcast must be called with the write lock held.
func (s *Store) broadcast(j Job) {
	subs := s.watchers[j.ID]
	for _, w := range subs {
		w.offer(j)
		if j.State.Terminal() {
			w.close()
		}
	}
	if j.State.Terminal() {
		delete(s.watchers, j.ID)
	}
}

// List returns copies of all jobs, oldest first.
func (s *Store) List() []Job {
	s.mu.RLock()
	jobs := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, *j)
	}
	s.mu.RUnlock()

	slices.SortFunc(jobs, func(a, b Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return jobs
}

// Len returns the number of jobs ever stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Active returns the number of running jobs.
func (s *Store) Active() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, j := range s.jobs {
		if j.State == StateRunning {
			n++
		}
	}
	return n
}

// Watch subscribes to snapshots of a job. The current snapshot is delivered
// first; the channel is closed after the terminal snapshot. The returned
// stop function releases the subscription and is safe to call more than once.
func (s *Store) Watch(id string) (<-chan Job, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, nil, apperrors.NotFound("job", id)
	}

	w := &watcher{ch: make(chan Job, watchBuffer)}
	w.offer(*j)
	if j.State.Terminal() {
		w.close()
		return w.ch, func() {}, nil
	}
	s.watchers[id] = append(s.watchers[id], w)

	stop := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.watchers[id] = slices.DeleteFunc(s.watchers[id], func(other *watcher) bool {
			return other == w
		})
		if len(s.watchers[id]) == 0 {
			delete(s.watchers, id)
		}
		w.close()
	}
	return w.ch, stop, nil
}
