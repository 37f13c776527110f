package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Mounted is any dashboard session the registry can hold.
type Mounted interface {
	ID() string
	Kind() string
	ViewerID() string
	Touch()
	LastSeen() time.Time
	Close()
}

// Registry keeps the open sessions of the process. Sessions idle longer than
// the TTL are closed by Run.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Mounted
	ttl      time.Duration
	now      func() time.Time
	onClose  func(id string)
	logger   zerolog.Logger
}

func NewRegistry(ttl time.Duration, logger zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]Mounted),
		ttl:      ttl,
		now:      time.Now,
		logger:   logger.With().Str("component", "registry").Logger(),
	}
}

// OnClose registers fn to run after a session is closed by the registry.
// Call it before the registry is shared.
func (r *Registry) OnClose(fn func(id string)) { r.onClose = fn }

func (r *Registry) close(m Mounted) {
	m.Close()
	if r.onClose != nil {
		r.onClose(m.ID())
	}
}

func (r *Registry) Add(m Mounted) {
	r.mu.Lock()
	r.sessions[m.ID()] = m
	r.mu.Unlock()
}

// Get returns the session and marks it as used.
func (r *Registry) Get(id string) (Mounted, bool) {
	r.mu.RLock()
	m, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		m.Touch()
	}
	return m, ok
}

// Owns reports whether the session exists and was opened by viewerID. It
// does not touch the session.
func (r *Registry) Owns(id, viewerID string) bool {
	r.mu.RLock()
	m, ok := r.sessions[id]
	r.mu.RUnlock()
	return ok && m.ViewerID() == viewerID
}

// Remove closes and forgets a session. It reports whether it existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	m, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		r.close(m)
	}
	return ok
}

// CloseOwnedBy closes every session opened by viewerID and returns how many.
func (r *Registry) CloseOwnedBy(viewerID string) int {
	r.mu.Lock()
	var closing []Mounted
	for id, m := range r.sessions {
		if m.ViewerID() == viewerID {
			closing = append(closing, m)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, m := range closing {
		r.close(m)
	}
	return len(closing)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep closes sessions idle longer than the TTL.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.ttl)
	r.mu.Lock()
	var expired []Mounted
	for id, m := range r.sessions {
		if m.LastSeen().Before(cutoff) {
			expired = append(expired, m)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, m := range expired {
		r.logger.Debug().Str("session_id", m.ID()).Str("kind", m.Kind()).Msg("idle session closed")
		r.close(m)
	}
	return len(expired)
}

// Run sweeps periodically until ctx is done, then closes every session.
func (r *Registry) Run(ctx context.Context) {
	interval := r.ttl / 2
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

func (r *Registry) closeAll() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]Mounted)
	r.mu.Unlock()
	for _, m := range all {
		r.close(m)
	}
}
