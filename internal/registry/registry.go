// Package registry is the process-local mirror of the active-session set
// (component E). Schedulers iterate the Registry, never the cache store,
// so an idle process performs zero cache operations.
package registry

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// sessionChecker is the subset of the Session Repository the Registry
// needs to reconcile against the cache store.
type sessionChecker interface {
	ActiveSessions(ctx context.Context) ([]string, error)
	SessionExists(ctx context.Context, id string) (bool, error)
	RemoveActive(ctx context.Context, id string) error
}

// Registry is a concurrency-safe set of session ids.
type Registry struct {
	mu   sync.RWMutex
	ids  map[string]struct{}
	repo sessionChecker
	log  *zap.Logger
}

// New builds an empty Registry.
func New(repo sessionChecker, log *zap.Logger) *Registry {
	return &Registry{ids: make(map[string]struct{}), repo: repo, log: log}
}

// Register adds id, called by the session creation path.
func (r *Registry) Register(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids[id] = struct{}{}
}

// Unregister removes id, called when a session transitions to ENDED.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ids, id)
}

// IsEmpty reports whether the Registry currently holds no sessions.
func (r *Registry) IsEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids) == 0
}

// Snapshot returns a defensive copy so callers can iterate without
// holding the lock and without observing concurrent register/unregister
// calls mid-iteration.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ids))
	for id := range r.ids {
		out = append(out, id)
	}
	return out
}

// Reconcile reads the cache store's active-session set, drops phantom ids
// (present in the cache set but whose session hash has expired), and
// replaces the in-memory set with the verified result. Run every 60s.
func (r *Registry) Reconcile(ctx context.Context) error {
	ids, err := r.repo.ActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("registry: reconcile: %w", err)
	}

	verified := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		exists, err := r.repo.SessionExists(ctx, id)
		if err != nil {
			r.log.Warn("registry: skipping id during reconcile due to transient error", zap.String("sessionId", id), zap.Error(err))
			continue
		}
		if !exists {
			r.log.Info("registry: removing phantom session", zap.String("sessionId", id))
			if err := r.repo.RemoveActive(ctx, id); err != nil {
				r.log.Warn("registry: failed to remove phantom session", zap.String("sessionId", id), zap.Error(err))
			}
			continue
		}
		verified[id] = struct{}{}
	}

	r.mu.Lock()
	r.ids = verified
	r.mu.Unlock()
	return nil
}
