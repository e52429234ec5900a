// Package presence tracks which user each realtime connection belongs to.
//
// A user may hold any number of live connections (tabs, devices). A connection is
// bound to exactly one user for its lifetime.
package presence

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrRebind is returned when a connection is registered for a second, different user.
var ErrRebind = errors.New("connection already bound to another user")

// Registry maps connection IDs to user IDs.
// Safe for concurrent use; writes are expected from one lifecycle owner.
type Registry struct {
	mu    sync.RWMutex
	users map[string]string              // connectionID -> userID
	conns map[string]map[string]struct{} // userID -> connectionIDs
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		users: make(map[string]string),
		conns: make(map[string]map[string]struct{}),
	}
}

// Register binds connectionID to userID. Registering the same pair again is a no-op.
func (r *Registry) Register(connectionID, userID string) error {
	if connectionID == "" || userID == "" {
		return fmt.Errorf("connection ID and user ID are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.users[connectionID]; ok {
		if existing == userID {
			return nil
		}
		return fmt.Errorf("%w: %s is bound to %s", ErrRebind, connectionID, existing)
	}

	r.users[connectionID] = userID
	set, ok := r.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		r.conns[userID] = set
	}
	set[connectionID] = struct{}{}
	return nil
}

// Unregister removes connectionID. It reports the user the connection belonged to and
// how many connections that user still has. ok is false if the connection was unknown.
func (r *Registry) Unregister(connectionID string) (userID string, remaining int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok = r.users[connectionID]
	if !ok {
		return "", 0, false
	}
	delete(r.users, connectionID)

	set := r.conns[userID]
	delete(set, connectionID)
	remaining = len(set)
	if remaining == 0 {
		delete(r.conns, userID)
	}
	return userID, remaining, true
}

// Resolve returns the user bound to connectionID.
func (r *Registry) Resolve(connectionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.users[connectionID]
	return userID, ok
}

// Count returns the number of live connections for userID.
func (r *Registry) Count(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID])
}

// Connections returns userID's connection IDs, sorted.
func (r *Registry) Connections(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.conns[userID]))
	for id := range r.conns[userID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Users returns every user with at least one live connection, sorted.
func (r *Registry) Users() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
