package directory

import (
	"sync"

	sessiondomain "userdesk/client/internal/session/domain"
	userdomain "userdesk/client/internal/user/domain"
)

// Records holds the last fetched user list. Safe for concurrent use.
type Records struct {
	mu    sync.RWMutex
	users []userdomain.User
}

// NewRecords returns an empty store.
func NewRecords() *Records {
	return &Records{}
}

// Replace stores a copy of users as the current list.
func (r *Records) Replace(users []userdomain.User) {
	cp := append([]userdomain.User(nil), users...)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = cp
}

// All returns a copy of the current list.
func (r *Records) All() []userdomain.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]userdomain.User(nil), r.users...)
}

// Len returns the number of stored records.
func (r *Records) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// Clear discards every record.
func (r *Records) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = nil
}

// ClearOnSignOut is a session listener that discards the list when an authenticated session ends.
func (r *Records) ClearOnSignOut(prev, next sessiondomain.Session) {
	if prev.Phase == sessiondomain.PhaseAuthenticated && next.Phase != sessiondomain.PhaseAuthenticated {
		r.Clear()
	}
}
