package mcp

import "sync"

// SessionRegistry maps graph IDs to the MCP session that opened them, so
// editor events can be pushed back to the editing client.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // graphID -> sessionID
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates a graph with an MCP session. Re-registering a graph
// overwrites the previous session.
func (r *SessionRegistry) Register(graphID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[graphID] = sessionID
}

// SessionFor returns the session watching a graph.
func (r *SessionRegistry) SessionFor(graphID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[graphID]
	return sid, ok
}

// Remove drops every graph mapped to the given session, typically after the
// session disconnects.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for graphID, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, graphID)
		}
	}
}
