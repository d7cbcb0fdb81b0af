// Package cancel tracks users whose in-flight pipeline work must stop at the next checkpoint.
package cancel

import "sync"

// Checker is the read side handed to stage processors and the clustering engine.
type Checker interface {
	IsCancelled(userID string) bool
}

// Registry is a concurrency-safe set of cancelled user ids. Create one per process
// and inject it; tests build their own.
type Registry struct {
	mu    sync.RWMutex
	users map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{users: make(map[string]struct{})}
}

func (r *Registry) Cancel(userID string) {
	r.mu.Lock()
	r.users[userID] = struct{}{}
	r.mu.Unlock()
}

// Clear removes the flag so a new ingest for the user can run.
func (r *Registry) Clear(userID string) {
	r.mu.Lock()
	delete(r.users, userID)
	r.mu.Unlock()
}

func (r *Registry) IsCancelled(userID string) bool {
	r.mu.RLock()
	_, ok := r.users[userID]
	r.mu.RUnlock()
	return ok
}
