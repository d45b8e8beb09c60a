package mcp

import "sync"

// SessionRegistry maps plan execution IDs to the MCP sessions subscribed to
// their events. Populated when a client starts or reruns an execution with
// subscribe=true.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // planExecutionID → sessionID
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register subscribes a session to an execution. A later registration for
// the same execution replaces the earlier one.
func (r *SessionRegistry) Register(planExecutionID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[planExecutionID] = sessionID
}

// SessionFor returns the session subscribed to the execution, if any.
func (r *SessionRegistry) SessionFor(planExecutionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[planExecutionID]
	return sid, ok
}

// Forget drops the subscription of one execution.
func (r *SessionRegistry) Forget(planExecutionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, planExecutionID)
}

// Remove deletes every subscription held by the given session.
// Called when a session disconnects.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for eid, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, eid)
		}
	}
}

// Len returns the number of active subscriptions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
