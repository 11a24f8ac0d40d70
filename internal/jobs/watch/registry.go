package watch

import (
	"context"
	"sync"
)

const pruneThreshold = 256

// Registry hands out one Watcher per logical caller key so that concurrent
// callers never cancel each other's sessions. All watchers share one Config.
type Registry struct {
	cfg Config

	mu       sync.Mutex
	watchers map[string]*Watcher
}

// NewRegistry builds an empty registry over cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, watchers: make(map[string]*Watcher)}
}

// CallerKey joins the parts identifying a logical caller (hospital, subject, flow).
func CallerKey(hospitalID, subject, flow string) string {
	return hospitalID + "|" + subject + "|" + flow
}

// Watch starts a session for key, cancelling that key's previous session.
// The watcher stays pinned until its session is current, so a concurrent
// prune cannot hand the same key a second watcher.
func (r *Registry) Watch(ctx context.Context, key, jobID string, opts Options) *Session {
	w := r.acquire(key)
	defer r.release(w)
	return w.Watch(ctx, jobID, opts)
}

func (r *Registry) acquire(key string) *Watcher {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.watchers[key]
	if !ok {
		if len(r.watchers) >= pruneThreshold {
			r.pruneLocked()
		}
		w = New(r.cfg)
		r.watchers[key] = w
	}
	w.pins++
	return w
}

func (r *Registry) release(w *Watcher) {
	r.mu.Lock()
	w.pins--
	r.mu.Unlock()
}

// Active lists the ACTIVE session of every caller.
func (r *Registry) Active() map[string]*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*Session)
	for key, w := range r.watchers {
		if s := w.Active(); s != nil {
			out[key] = s
		}
	}
	return out
}

// Len reports how many callers currently hold a watcher.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watchers)
}

// Prune drops unpinned watchers with no ACTIVE session and returns how many were removed.
func (r *Registry) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pruneLocked()
}

func (r *Registry) pruneLocked() int {
	removed := 0
	for key, w := range r.watchers {
		if w.pins == 0 && w.Idle() {
			delete(r.watchers, key)
			removed++
		}
	}
	return removed
}

// CancelAll cancels every ACTIVE session and waits for their transports to be
// released. Used on shutdown.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	watchers := make([]*Watcher, 0, len(r.watchers))
	for _, w := range r.watchers {
		watchers = append(watchers, w)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range watchers {
		wg.Add(1)
		go func(w *Watcher) {
			defer wg.Done()
			w.CancelActive()
		}(w)
	}
	wg.Wait()
}
