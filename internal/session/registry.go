package session

import (
	"errors"
	"sort"
	"time"
)

// ErrDuplicateConnection is returned by Register when the connection already
// has a session.
var ErrDuplicateConnection = errors.New("session: connection already registered")

// Session binds a live connection to a username and its current room.
type Session struct {
	ID          string `json:"id" redis:"id"`
	Username    string `json:"username" redis:"username"`
	CurrentRoom string `json:"current_room" redis:"current_room"`
	JoinedAt    int64  `json:"joined_at" redis:"joined_at"` // unix millis
}

// Registry maps connection ids to sessions. It owns its Session values
// exclusively; lookups hand out pointers that must only be used while the
// caller serializes access (the relay holds its lock).
//
// Registry is not safe for concurrent use.
type Registry struct {
	defaultRoom string
	now         func() time.Time
	sessions    map[string]*Session
}

// NewRegistry creates an empty registry. New sessions start in defaultRoom.
func NewRegistry(defaultRoom string, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		defaultRoom: defaultRoom,
		now:         now,
		sessions:    make(map[string]*Session),
	}
}

// Register creates a session for connID in the default room. Joining the
// room's membership is left to the caller.
func (r *Registry) Register(connID, username string) (*Session, error) {
	if _, ok := r.sessions[connID]; ok {
		return nil, ErrDuplicateConnection
	}
	s := &Session{
		ID:          connID,
		Username:    username,
		CurrentRoom: r.defaultRoom,
		JoinedAt:    r.now().UnixMilli(),
	}
	r.sessions[connID] = s
	return s, nil
}

// Lookup returns the session for connID.
func (r *Registry) Lookup(connID string) (*Session, bool) {
	s, ok := r.sessions[connID]
	return s, ok
}

// Username returns the username for connID, or "" if it has no session.
func (r *Registry) Username(connID string) string {
	if s, ok := r.sessions[connID]; ok {
		return s.Username
	}
	return ""
}

// SetRoom records room as the session's current room. Unknown connections
// are ignored.
func (r *Registry) SetRoom(connID, room string) {
	if s, ok := r.sessions[connID]; ok {
		s.CurrentRoom = room
	}
}

// Remove deletes and returns the session for connID. The caller cascades
// cleanup of room membership, typing sets and private logs.
func (r *Registry) Remove(connID string) (*Session, bool) {
	s, ok := r.sessions[connID]
	if ok {
		delete(r.sessions, connID)
	}
	return s, ok
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	return len(r.sessions)
}

// IDs returns the connection ids of all registered sessions.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// All returns a snapshot of every session ordered by join time.
func (r *Registry) All() []Session {
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt != out[j].JoinedAt {
			return out[i].JoinedAt < out[j].JoinedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}
