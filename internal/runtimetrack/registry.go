// Package runtimetrack holds the in-process resource registry and the
// runtime leak analyzer. Static analysis inspects source text; this
// package inspects the live process the engine is embedded in, as an
// independent, orthogonal signal.
package runtimetrack

import (
	"sync"
	"time"

	"leakhound/internal/leak"
)

// TimerKind distinguishes recurring from one-shot timers.
type TimerKind string

const (
	TimerInterval TimerKind = "interval"
	TimerTimeout  TimerKind = "timeout"
)

// TrackedTimer is one live timer registered with the registry.
type TrackedTimer struct {
	Handle    string
	Kind      TimerKind
	Context   string
	CreatedAt time.Time
}

// Age returns how long the timer has been alive relative to now.
func (t TrackedTimer) Age(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}

// ResourceKind names the non-timer resource counters.
type ResourceKind string

const (
	ResourceEventListener ResourceKind = "event-listener"
	ResourceSubscription  ResourceKind = "subscription"
	ResourceConnection    ResourceKind = "connection"
)

// Registry records live acquisitions in a running process. It is safe
// for concurrent use. The now function is injectable for tests.
type Registry struct {
	mu        sync.RWMutex
	timers    map[string]TrackedTimer
	resources map[ResourceKind]int
	now       func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		timers:    make(map[string]TrackedTimer),
		resources: make(map[ResourceKind]int),
		now:       time.Now,
	}
}

// WithClock overrides the registry clock, for deterministic tests.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
	return r
}

// TrackTimer records a timer creation. Re-tracking the same handle
// replaces the previous entry (the old timer was necessarily gone).
func (r *Registry) TrackTimer(handle string, kind TimerKind, context string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timers[handle] = TrackedTimer{
		Handle:    handle,
		Kind:      kind,
		Context:   context,
		CreatedAt: r.now(),
	}
}

// UntrackTimer records a timer release. Unknown handles are ignored.
func (r *Registry) UntrackTimer(handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.timers, handle)
}

// DetectLongRunning returns every tracked timer older than threshold,
// the runtime-side complement of static interval detection.
func (r *Registry) DetectLongRunning(threshold time.Duration) []TrackedTimer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	var out []TrackedTimer
	for _, t := range r.timers {
		if t.Age(now) > threshold {
			out = append(out, t)
		}
	}
	return out
}

// TrackResource increments a non-timer resource counter.
func (r *Registry) TrackResource(kind ResourceKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources[kind]++
}

// UntrackResource decrements a non-timer resource counter, not below zero.
func (r *Registry) UntrackResource(kind ResourceKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resources[kind] > 0 {
		r.resources[kind]--
	}
}

// Counts snapshots the live resource counters.
func (r *Registry) Counts() leak.ResourceCounts {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := leak.ResourceCounts{
		EventListeners: r.resources[ResourceEventListener],
		Subscriptions:  r.resources[ResourceSubscription],
		Connections:    r.resources[ResourceConnection],
	}
	for _, t := range r.timers {
		switch t.Kind {
		case TimerInterval:
			counts.Intervals++
		case TimerTimeout:
			counts.Timeouts++
		}
	}
	return counts
}
