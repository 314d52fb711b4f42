package ws

import (
	"sync"

	"github.com/samber/lo"
)

// Registry is the multiset of live sessions per user. A user is online
// exactly while their set is non-empty.
type Registry struct {
	mu    sync.Mutex
	users map[string]map[*Session]struct{}
}

func NewRegistry() *Registry {
	return &Registry{users: make(map[string]map[*Session]struct{})}
}

// Add records a session and reports whether it is the user's first.
func (r *Registry) Add(userID string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.users[userID]
	if !ok {
		set = make(map[*Session]struct{})
		r.users[userID] = set
	}
	set[s] = struct{}{}
	return len(set) == 1
}

// Remove drops a session and reports whether it was the user's last.
// Unknown sessions are ignored.
func (r *Registry) Remove(userID string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.users[userID]
	if !ok {
		return false
	}
	if _, ok := set[s]; !ok {
		return false
	}
	delete(set, s)
	if len(set) == 0 {
		delete(r.users, userID)
		return true
	}
	return false
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users[userID]) > 0
}

func (r *Registry) ListOnline() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Keys(r.users)
}

// Handles returns a snapshot of the user's sessions.
func (r *Registry) Handles(userID string) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Keys(r.users[userID])
}

// All returns a snapshot of every registered session.
func (r *Registry) All() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Session
	for _, set := range r.users {
		for s := range set {
			out = append(out, s)
		}
	}
	return out
}

// Count is the number of online users.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}
