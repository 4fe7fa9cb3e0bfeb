// Package presence tracks which connections are currently typing in each
// room. Membership is transient: entries are cleared on an explicit stop
// signal, a room switch or a disconnect. There is no server-side expiry; a
// client that stops sending typing updates stays marked until one of those
// events happens.
package presence

// Tracker holds the per-room typing sets, preserving the order in which
// connections started typing.
//
// Tracker is not safe for concurrent use.
type Tracker struct {
	typing map[string][]string // room -> connection ids
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{typing: make(map[string][]string)}
}

// SetTyping adds or removes connID from the room's typing set and reports
// whether the set changed.
func (t *Tracker) SetTyping(room, connID string, isTyping bool) bool {
	if !isTyping {
		return t.Clear(room, connID)
	}
	for _, id := range t.typing[room] {
		if id == connID {
			return false
		}
	}
	t.typing[room] = append(t.typing[room], connID)
	return true
}

// Clear removes connID from the room's typing set and reports whether it was
// present.
func (t *Tracker) Clear(room, connID string) bool {
	ids := t.typing[room]
	for i, id := range ids {
		if id == connID {
			ids = append(ids[:i], ids[i+1:]...)
			if len(ids) == 0 {
				delete(t.typing, room)
			} else {
				t.typing[room] = ids
			}
			return true
		}
	}
	return false
}

// IsTyping reports whether connID is in the room's typing set.
func (t *Tracker) IsTyping(room, connID string) bool {
	for _, id := range t.typing[room] {
		if id == connID {
			return true
		}
	}
	return false
}

// Typing returns the connection ids typing in room, oldest first.
func (t *Tracker) Typing(room string) []string {
	return append([]string(nil), t.typing[room]...)
}

// Count returns the number of connections typing in room.
func (t *Tracker) Count(room string) int {
	return len(t.typing[room])
}
