package session

import (
	"sync"
)

// Registry is the process-wide callId → Session mapping. It is instantiated
// once at startup and injected into request handlers.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register adds the session under its call ID.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	r.sessions[s.CallID()] = s
	r.mu.Unlock()
}

// Deregister removes the session for callID, if present.
func (r *Registry) Deregister(callID string) {
	r.mu.Lock()
	delete(r.sessions, callID)
	r.mu.Unlock()
}

// Lookup returns the live session for callID, or nil.
func (r *Registry) Lookup(callID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[callID]
}

// Iterate calls fn for every live session. fn must not call back into the
// Registry.
func (r *Registry) Iterate(fn func(*Session)) {
	r.mu.RLock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()

	for _, s := range snapshot {
		fn(s)
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown ends every live session with reason "server-shutdown".
func (r *Registry) Shutdown() {
	r.Iterate(func(s *Session) {
		s.End("server-shutdown")
	})
}
