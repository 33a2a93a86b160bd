package circuitbreaker

import (
	"slices"
	"sync"
)

// Registry holds one breaker per key, such as a webhook host or a chat
// service, so one failing destination never blocks the others.
type Registry struct {
	cfg      Config
	onChange func(key string, from, to State)

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry. Breakers are created on first use
// with cfg; cfg.OnStateChange is ignored in favour of OnStateChange.
func NewRegistry(cfg Config) *Registry {
	cfg.OnStateChange = nil
	return &Registry{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

// OnStateChange sets a hook called with the key of every breaker that
// changes state. It only affects breakers created afterwards.
func (r *Registry) OnStateChange(fn func(key string, from, to State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// Get returns the breaker for key, creating it if needed.
func (r *Registry) Get(key string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[key]; ok {
		return b
	}

	cfg := r.cfg
	if hook := r.onChange; hook != nil {
		cfg.OnStateChange = func(from, to State) { hook(key, from, to) }
	}
	b := New(cfg)
	r.breakers[key] = b
	return b
}

// Open returns the sorted keys of breakers that are currently open.
func (r *Registry) Open() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var keys []string
	for key, b := range r.breakers {
		if b.State() == Open {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys
}

// Stats holds registry statistics.
type Stats struct {
	Total    int
	Open     int
	HalfOpen int
	Closed   int
}

// Stats counts breakers by state.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{Total: len(r.breakers)}
	for _, b := range r.breakers {
		switch b.State() {
		case Open:
			stats.Open++
		case HalfOpen:
			stats.HalfOpen++
		default:
			stats.Closed++
		}
	}
	return stats
}
