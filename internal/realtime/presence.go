package realtime

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/gema-chat-api/internal/apperror"
	"github.com/noah-isme/gema-chat-api/internal/models"
)

var (
	// ErrNotConnected is returned when a status is declared for a user without a live connection.
	ErrNotConnected = fmt.Errorf("%w: user has no live connection", apperror.ErrConflict)
	// ErrInvalidStatus rejects OFFLINE and unknown statuses on explicit requests.
	ErrInvalidStatus = apperror.Invalid("status", "must be one of ONLINE, AWAY, BUSY, DO_NOT_DISTURB")
)

// Transition is one presence state change.
type Transition struct {
	UserID string
	From   models.UserStatus
	To     models.UserStatus
	At     time.Time
}

type presenceEntry struct {
	connections int
	status      models.UserStatus
}

// Registry reference-counts live connections per user on this node and holds each
// connected user's declared status. Users without an entry are OFFLINE.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*presenceEntry
	now     func() time.Time
}

// NewRegistry creates an empty presence registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*presenceEntry),
		now:     time.Now,
	}
}

// Acquire records a new connection. The first connection moves the user ONLINE.
func (r *Registry) Acquire(userID string) (Transition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[userID]
	if ok {
		entry.connections++
		return Transition{}, false
	}

	r.entries[userID] = &presenceEntry{connections: 1, status: models.UserStatusOnline}
	return Transition{
		UserID: userID,
		From:   models.UserStatusOffline,
		To:     models.UserStatusOnline,
		At:     r.now().UTC(),
	}, true
}

// Release drops one connection. Only the last release moves the user OFFLINE.
func (r *Registry) Release(userID string) (Transition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[userID]
	if !ok {
		return Transition{}, false
	}

	entry.connections--
	if entry.connections > 0 {
		return Transition{}, false
	}

	delete(r.entries, userID)
	return Transition{
		UserID: userID,
		From:   entry.status,
		To:     models.UserStatusOffline,
		At:     r.now().UTC(),
	}, true
}

// SetStatus applies an explicit status request for a connected user. Requesting the
// current status is not a transition.
func (r *Registry) SetStatus(userID string, status models.UserStatus) (Transition, bool, error) {
	if !status.Valid() || status == models.UserStatusOffline {
		return Transition{}, false, ErrInvalidStatus
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[userID]
	if !ok {
		return Transition{}, false, ErrNotConnected
	}
	if entry.status == status {
		return Transition{}, false, nil
	}

	transition := Transition{UserID: userID, From: entry.status, To: status, At: r.now().UTC()}
	entry.status = status
	return transition, true, nil
}

// Status returns the user's live status and whether they hold a connection here.
func (r *Registry) Status(userID string) (models.UserStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[userID]; ok {
		return entry.status, true
	}
	return models.UserStatusOffline, false
}

// Connections returns how many live connections the user holds on this node.
func (r *Registry) Connections(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[userID]; ok {
		return entry.connections
	}
	return 0
}

// Online lists connected users in lexical order.
func (r *Registry) Online() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := make([]string, 0, len(r.entries))
	for userID := range r.entries {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}
