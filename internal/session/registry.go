package session

import (
	"context"
	"sync"

	"wabridge/internal/domain"
)

// Builder constructs a session for a registered instance id.
type Builder func(id, label string) *Session

// Registry maps instance ids to live sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	build    Builder
}

func NewRegistry(build Builder) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		build:    build,
	}
}

// Add registers a session without connecting it. Used when re-adopting
// persisted instances at startup. Returns domain.ErrAlreadyExists for a
// duplicate id.
func (r *Registry) Add(id, label string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		return nil, domain.ErrAlreadyExists
	}
	s := r.build(id, label)
	r.sessions[id] = s
	return s, nil
}

// Connect returns the session for id, building it on first use, and
// (re)starts its connection. Connect is idempotent: calling it on a
// session that is already connecting or open retires the current
// transport and dials a fresh one. Registration happens under the write
// lock; the dial itself happens outside it.
func (r *Registry) Connect(ctx context.Context, id, label string) (*Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		s = r.build(id, label)
		r.sessions[id] = s
	}
	r.mu.Unlock()

	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the session for id, or domain.ErrNotFound.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s, nil
}

// Summaries returns a fresh snapshot of every registered instance.
func (r *Registry) Summaries() []domain.InstanceSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.InstanceSummary, 0, len(r.sessions))
	for _, s := range r.sessions {
		st := s.Status()
		out = append(out, domain.InstanceSummary{
			ID:             s.ID(),
			Label:          s.Label(),
			State:          st.State,
			HasQRChallenge: st.HasQRChallenge,
		})
	}
	return out
}

// Remove disconnects and forgets a session. The relay worker drains and
// stops before Remove returns.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return domain.ErrNotFound
	}
	delete(r.sessions, id)
	r.mu.Unlock()

	s.Close(ctx)
	return nil
}

// CloseAll shuts every session down, used on process shutdown.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close(ctx)
	}
}
