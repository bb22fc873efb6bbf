package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/duel/pkg/metrics"
)

// Factory builds a session for an id.
type Factory func(id string) *Session

// Registry holds live sessions by id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	factory  Factory
}

// NewRegistry creates an empty registry that builds sessions with factory.
func NewRegistry(factory Factory) *Registry {
	return &Registry{sessions: make(map[string]*Session), factory: factory}
}

// GetOrCreate returns the session for id, creating it when missing.
// An empty id gets a fresh random id.
func (r *Registry) GetOrCreate(_ context.Context, id string) *Session {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}

	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s
	}
	s = r.factory(id)
	r.sessions[id] = s
	metrics.UpdateActiveSessions(len(r.sessions))
	return s
}

// Get returns the session for id.
func (r *Registry) Get(_ context.Context, id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Prune drops sessions idle since before cutoff and returns how many went.
func (r *Registry) Prune(_ context.Context, cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	pruned := 0
	for id, s := range r.sessions {
		if s.LastActive().Before(cutoff) {
			delete(r.sessions, id)
			pruned++
		}
	}
	metrics.UpdateActiveSessions(len(r.sessions))
	return pruned
}
