// Package presence tracks which identities are reachable right now.
package presence

import (
	"sort"
	"sync"
	"time"

	"medrelay/pkg/interfaces"
	"medrelay/pkg/types"
)

// Entry is one live, joined connection
type Entry struct {
	Conn     interfaces.Connection
	Role     string
	UserID   string
	JoinedAt time.Time
}

// JoinResult reports what a join changed
type JoinResult struct {
	Entry Entry
	// Replaced is the superseded connection for the same identity, if any
	Replaced interfaces.Connection
	// DoctorsChanged is set when the online doctor set must be rebroadcast
	DoctorsChanged bool
}

// Stats summarizes current presence
type Stats struct {
	Online   int `json:"online"`
	Doctors  int `json:"doctors"`
	Patients int `json:"patients"`
}

// Registry maps identity id -> live connection
// ARCHITECTURAL DISCOVERY: Last connection wins; the registry only swaps the mapping and
// hands the superseded connection back so the caller decides how to retire it
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// NewRegistry creates an empty presence registry
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// Join records conn as the live connection for its identity
func (r *Registry) Join(conn interfaces.Connection, role, declaredUserID string) (JoinResult, error) {
	if conn == nil {
		return JoinResult{}, interfaces.ErrNilConnection
	}
	if !conn.IsAuthenticated() {
		return JoinResult{}, interfaces.ErrNotAuthenticated
	}
	if !types.IsValidRole(role) {
		return JoinResult{}, types.ErrInvalidRole
	}
	if declaredUserID == "" {
		declaredUserID = conn.GetUserID()
	}

	identityID := conn.GetUserID()
	entry := Entry{
		Conn:     conn,
		Role:     role,
		UserID:   declaredUserID,
		JoinedAt: r.now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	result := JoinResult{Entry: entry, DoctorsChanged: role == types.RoleDoctor}
	if previous, exists := r.entries[identityID]; exists {
		if previous.Conn != conn {
			result.Replaced = previous.Conn
		}
		if previous.Role == types.RoleDoctor {
			result.DoctorsChanged = true
		}
	}
	r.entries[identityID] = entry
	return result, nil
}

// Leave removes the entry for identityID regardless of which connection holds it
func (r *Registry) Leave(identityID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[identityID]
	if !exists {
		return Entry{}, false
	}
	delete(r.entries, identityID)
	return entry, true
}

// LeaveConnection removes conn's entry only if conn is still the registered handle
// RACE CONDITION FIX: A superseded connection closing late must not evict its successor
func (r *Registry) LeaveConnection(conn interfaces.Connection) (Entry, bool) {
	if conn == nil {
		return Entry{}, false
	}
	identityID := conn.GetUserID()

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[identityID]
	if !exists || entry.Conn != conn {
		return Entry{}, false
	}
	delete(r.entries, identityID)
	return entry, true
}

// Lookup returns the live entry for identityID; absence means unreachable, not an error
func (r *Registry) Lookup(identityID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, exists := r.entries[identityID]
	return entry, exists
}

// IsJoined reports whether conn is the registered connection for its identity
func (r *Registry) IsJoined(conn interfaces.Connection) bool {
	if conn == nil {
		return false
	}
	entry, exists := r.Lookup(conn.GetUserID())
	return exists && entry.Conn == conn
}

// OnlineDoctors returns a sorted snapshot of the online doctor set taken under one lock
func (r *Registry) OnlineDoctors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doctors := make([]string, 0, len(r.entries))
	for _, entry := range r.entries {
		if entry.Role == types.RoleDoctor {
			doctors = append(doctors, entry.UserID)
		}
	}
	sort.Strings(doctors)
	return doctors
}

// Connections returns every joined connection
func (r *Registry) Connections() []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]interfaces.Connection, 0, len(r.entries))
	for _, entry := range r.entries {
		conns = append(conns, entry.Conn)
	}
	return conns
}

// Stats counts joined identities by role
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{Online: len(r.entries)}
	for _, entry := range r.entries {
		switch entry.Role {
		case types.RoleDoctor:
			stats.Doctors++
		case types.RolePatient:
			stats.Patients++
		}
	}
	return stats
}
