package mcp

import (
	"sort"
	"sync"
	"time"
)

// SessionInfo describes one connected client session.
type SessionInfo struct {
	ID       string    `json:"id"`
	Calls    int       `json:"calls"`
	LastSeen time.Time `json:"last_seen"`
}

// SessionRegistry tracks the client sessions that have connected or called
// a tool. Change notifications are fanned out to every session in it.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*SessionInfo // sessionID → info
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*SessionInfo)}
}

// Touch records activity for a session, registering it on first sight.
func (r *SessionRegistry) Touch(sessionID string) {
	if sessionID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.sessions[sessionID]
	if !ok {
		info = &SessionInfo{ID: sessionID}
		r.sessions[sessionID] = info
	}
	info.LastSeen = time.Now().UTC()
	info.Calls++
}

// Has reports whether the session is registered.
func (r *SessionRegistry) Has(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[sessionID]
	return ok
}

// Remove forgets a session. Called when a session disconnects.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// IDs returns the registered session ids, sorted.
func (r *SessionRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List returns a copy of every session, sorted by id.
func (r *SessionRegistry) List() []SessionInfo {
	r.mu.RLock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for _, info := range r.sessions {
		out = append(out, *info)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
