// Package relay implements the heart of the wristband chat server: the
// userId -> connection registry, the record router that delivers direct
// messages and typing indicators, and the presence broadcaster. It knows
// nothing about WebSockets — connections reach it through the Conn
// interface so the transport stays swappable and the core stays testable.
package relay

import (
	"sync"
	"time"

	"github.com/Maarij07/smart-wristband/internal/metrics"
)

// Conn is the relay's view of one live client connection. Send must be
// non-blocking best-effort: a slow or dead peer returns an error instead of
// stalling the caller.
type Conn interface {
	Send(data []byte) error
	IsOpen() bool
}

// Binding is the identity a handshake attached to a connection. It lives
// exactly as long as its registry entry.
type Binding struct {
	UserID      string
	DisplayName string
	AvatarRef   string
	Status      string
	LastSeenAt  time.Time
}

type entry struct {
	conn    Conn
	binding Binding
}

// Registry is the authoritative userId -> connection mapping. At most one
// entry exists per userId; registering an already-bound id silently
// replaces the previous entry (the replaceOnReauth policy). The replaced
// connection is orphaned, not closed — it stays open and unroutable until
// it dies on its own.
//
// One coarse RWMutex guards everything; the registry is the only state
// shared between connection handlers.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	byConn  map[Conn]string // reverse index: current owner -> userId
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		byConn:  make(map[Conn]string),
	}
}

// Register inserts or replaces the entry for binding.UserID, making conn
// its current owner. Replacement is silent: no error, no notification to
// the connection that lost the id. A connection re-authenticating under a
// new userId gives up the entry it previously owned.
func (r *Registry) Register(conn Conn, binding Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// If this connection already owned a different userId, that identity is
	// gone now — drop its entry so the old id cannot be routed to.
	if prev, ok := r.byConn[conn]; ok && prev != binding.UserID {
		delete(r.entries, prev)
	}

	// If someone else held this userId, they lose it (last writer wins).
	if old, ok := r.entries[binding.UserID]; ok && old.conn != conn {
		delete(r.byConn, old.conn)
	}

	r.entries[binding.UserID] = &entry{conn: conn, binding: binding}
	r.byConn[conn] = binding.UserID
	metrics.RegisteredUsers.Set(float64(len(r.entries)))
}

// Unregister removes the entry for userID, but only if conn is still its
// current owner. A stale connection that was replaced by a newer handshake
// must not evict its successor. Returns whether removal occurred.
func (r *Registry) Unregister(userID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userID]
	if !ok || e.conn != conn {
		return false
	}
	delete(r.entries, userID)
	delete(r.byConn, conn)
	metrics.RegisteredUsers.Set(float64(len(r.entries)))
	return true
}

// DropConn removes whatever entry conn currently owns and reports the
// userId it was bound to. Close-time callers use this instead of
// re-deriving identity from the forward map, which would mis-attribute a
// replaced connection to its successor. Returns ("", false) for
// connections that were never bound or already replaced.
func (r *Registry) DropConn(conn Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[conn]
	if !ok {
		return "", false
	}
	delete(r.byConn, conn)
	delete(r.entries, userID)
	metrics.RegisteredUsers.Set(float64(len(r.entries)))
	return userID, true
}

// Lookup returns the connection and binding for userID, or ok=false if the
// id is not registered.
func (r *Registry) Lookup(userID string) (Conn, Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[userID]
	if !ok {
		return nil, Binding{}, false
	}
	return e.conn, e.binding, true
}

// SetStatus updates the status and last-seen time of userID's binding.
// Returns the updated binding, or ok=false if the id is not registered.
func (r *Registry) SetStatus(userID, status string, at time.Time) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userID]
	if !ok {
		return Binding{}, false
	}
	e.binding.Status = status
	e.binding.LastSeenAt = at
	return e.binding, true
}

// Snapshot returns the currently open registered connections. The slice is
// a point-in-time copy: a connection closing mid-iteration is the caller's
// push failure to absorb, never a registry error.
func (r *Registry) Snapshot() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.entries))
	for _, e := range r.entries {
		if e.conn.IsOpen() {
			conns = append(conns, e.conn)
		}
	}
	return conns
}

// Len returns the number of registered identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
