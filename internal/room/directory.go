// Package room implements the room directory: a fixed set of named rooms,
// each with a membership set and a bounded message log.
package room

import (
	"errors"
	"fmt"

	"github.com/parley/relay/internal/chat"
)

// ErrUnknownRoom is returned for room names outside the configured set.
var ErrUnknownRoom = errors.New("room: unknown room")

// Room is a named broadcast group with its recent history.
type Room struct {
	Name    string
	members map[string]struct{} // connection ids
	log     *chat.Log
}

// Stats is a point-in-time tally for one room.
type Stats struct {
	Name     string `json:"name"`
	Users    int    `json:"users"`
	Messages int    `json:"messages"`
}

// Directory holds the configured rooms. Rooms are created once and never
// destroyed.
//
// Directory is not safe for concurrent use.
type Directory struct {
	order []string
	rooms map[string]*Room
}

// NewDirectory creates a directory with one room per name. Each room log
// holds at most logCapacity messages (chat.MaxLogMessages when <= 0).
func NewDirectory(names []string, logCapacity int) (*Directory, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("room: at least one room is required")
	}
	d := &Directory{rooms: make(map[string]*Room, len(names))}
	for _, name := range names {
		if name == "" {
			return nil, fmt.Errorf("room: empty room name")
		}
		if _, dup := d.rooms[name]; dup {
			return nil, fmt.Errorf("room: duplicate room %q", name)
		}
		d.rooms[name] = &Room{
			Name:    name,
			members: make(map[string]struct{}),
			log:     chat.NewLog(logCapacity),
		}
		d.order = append(d.order, name)
	}
	return d, nil
}

// Has reports whether name is a configured room.
func (d *Directory) Has(name string) bool {
	_, ok := d.rooms[name]
	return ok
}

// Names returns the configured room names in configuration order.
func (d *Directory) Names() []string {
	return append([]string(nil), d.order...)
}

// Join adds connID to the room's membership. Removing the connection from
// its previous room is the caller's job.
func (d *Directory) Join(name, connID string) error {
	r, ok := d.rooms[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRoom, name)
	}
	r.members[connID] = struct{}{}
	return nil
}

// Leave removes connID from the room's membership and reports whether it was
// a member.
func (d *Directory) Leave(name, connID string) bool {
	r, ok := d.rooms[name]
	if !ok {
		return false
	}
	if _, member := r.members[connID]; !member {
		return false
	}
	delete(r.members, connID)
	return true
}

// IsMember reports whether connID is in the room.
func (d *Directory) IsMember(name, connID string) bool {
	r, ok := d.rooms[name]
	if !ok {
		return false
	}
	_, member := r.members[connID]
	return member
}

// Members returns the connection ids currently in the room.
func (d *Directory) Members(name string) []string {
	r, ok := d.rooms[name]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	return ids
}

// Append stores msg in the room log. It returns the stored message and the
// message evicted to make room, if any. msg.ID and msg.Ts must already be
// assigned.
func (d *Directory) Append(name string, msg *chat.Message) (stored, evicted *chat.Message, err error) {
	r, ok := d.rooms[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownRoom, name)
	}
	msg.Room = name
	return msg, r.log.Append(msg), nil
}

// Find looks up a message by id in the room log.
func (d *Directory) Find(name, id string) *chat.Message {
	r, ok := d.rooms[name]
	if !ok {
		return nil
	}
	return r.log.Find(id)
}

// History returns a page of the room log; see chat.Page. Unknown rooms yield
// an empty page.
func (d *Directory) History(name, beforeID string, limit int) ([]*chat.Message, bool) {
	r, ok := d.rooms[name]
	if !ok {
		return []*chat.Message{}, false
	}
	return r.log.Before(beforeID, limit)
}

// Messages returns the whole room log, oldest first. ok is false for an
// unknown room.
func (d *Directory) Messages(name string) ([]*chat.Message, bool) {
	r, ok := d.rooms[name]
	if !ok {
		return nil, false
	}
	return r.log.Messages(), true
}

// Preceding returns up to n messages stored before id, oldest first, followed
// by the message itself. It returns nil when id is not in the log.
func (d *Directory) Preceding(name, id string, n int) []*chat.Message {
	r, ok := d.rooms[name]
	if !ok {
		return nil
	}
	target := r.log.Find(id)
	if target == nil {
		return nil
	}
	before, _ := chat.Page(r.log.Messages(), id, n)
	return append(before, target)
}

// Stats returns a tally of every room in configuration order.
func (d *Directory) Stats() []Stats {
	out := make([]Stats, 0, len(d.order))
	for _, name := range d.order {
		r := d.rooms[name]
		out = append(out, Stats{Name: name, Users: len(r.members), Messages: r.log.Len()})
	}
	return out
}
