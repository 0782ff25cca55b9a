// Package limiter implements the fixed-window rate-limit estimator registry
// shared by every request the gateway admits.
package limiter

import (
	"sync"
	"time"
)

// Registry holds one Estimator per distinct window length, created lazily on
// first use. The set of distinct window lengths is small and bounded by the
// number of distinct plans in use, so the registry itself never needs
// eviction.
type Registry struct {
	estimators sync.Map // int64 window secs -> *Estimator
	now        func() time.Time
}

// NewRegistry builds an empty registry. now defaults to time.Now; tests may
// override it to control window rollover deterministically.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{now: now}
}

// ForWindow returns the shared Estimator for the given window length,
// creating it on first use. windowSecs is clamped to at least 1.
func (r *Registry) ForWindow(windowSecs int64) *Estimator {
	if windowSecs < 1 {
		windowSecs = 1
	}

	if v, ok := r.estimators.Load(windowSecs); ok {
		return v.(*Estimator)
	}
	actual, _ := r.estimators.LoadOrStore(windowSecs, newEstimator(windowSecs, r.now))
	return actual.(*Estimator)
}

// counterState is a per-key fixed window: a count and the time the window
// started.
type counterState struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int64
}

// Estimator is an approximate fixed-window counter keyed by API key for one
// window length. It is safe for concurrent use; contention on one key never
// blocks observations of another.
type Estimator struct {
	windowSecs int64
	now        func() time.Time

	counters sync.Map // string -> *counterState
}

func newEstimator(windowSecs int64, now func() time.Time) *Estimator {
	return &Estimator{windowSecs: windowSecs, now: now}
}

// Observe records n hits for key and returns the number of hits that have
// fallen inside the current window, including n. The window rolls over
// automatically once now()-windowStart >= windowSecs.
func (e *Estimator) Observe(key string, n int64) int64 {
	c := e.getOrCreate(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := e.now()
	if now.Sub(c.windowStart) >= time.Duration(e.windowSecs)*time.Second {
		c.windowStart = now
		c.count = 0
	}
	c.count += n
	return c.count
}

// getOrCreate follows the fast-Load/LoadOrStore-on-miss idiom: the hot path
// never allocates, and a lost race over allocation is simply discarded.
func (e *Estimator) getOrCreate(key string) *counterState {
	if v, ok := e.counters.Load(key); ok {
		return v.(*counterState)
	}
	fresh := &counterState{windowStart: e.now()}
	actual, _ := e.counters.LoadOrStore(key, fresh)
	return actual.(*counterState)
}

// EvictStale removes counters whose window has fully rolled over with no
// activity since, bounding the registry's memory to currently-active keys.
// It is safe to call periodically from a background loop; it never blocks
// concurrent Observe calls for longer than a single key's lock.
func (e *Estimator) EvictStale(idleFor time.Duration) {
	now := e.now()
	e.counters.Range(func(k, v any) bool {
		c := v.(*counterState)
		c.mu.Lock()
		stale := now.Sub(c.windowStart) >= time.Duration(e.windowSecs)*time.Second+idleFor
		c.mu.Unlock()
		if stale {
			e.counters.Delete(k)
		}
		return true
	})
}
