// Package private routes one-to-one messages addressed by connection id.
// Every private message is appended to both participants' logs. Logs are
// unbounded and live until the owning connection disconnects.
package private

import (
	"time"

	"github.com/parley/relay/internal/chat"
)

// Router owns the per-connection private logs.
//
// Router is not safe for concurrent use.
type Router struct {
	ids  *chat.IDGenerator
	now  func() time.Time
	logs map[string][]*chat.Message // connection id -> messages, oldest first
}

// NewRouter creates a Router issuing message ids from ids.
func NewRouter(ids *chat.IDGenerator, now func() time.Time) *Router {
	if now == nil {
		now = time.Now
	}
	return &Router{ids: ids, now: now, logs: make(map[string][]*chat.Message)}
}

// Send builds a private message from fromID to toID and stores it in both
// participants' logs. The recipient does not have to be connected; live
// delivery is the caller's concern.
func (r *Router) Send(fromID, fromName, toID, body string, att *chat.Attachment) *chat.Message {
	msg := &chat.Message{
		ID:         r.ids.Next(fromID),
		Sender:     fromName,
		SenderID:   fromID,
		To:         toID,
		Body:       body,
		Attachment: att,
		Ts:         r.now().UnixMilli(),
		IsPrivate:  true,
	}

	r.logs[fromID] = append(r.logs[fromID], msg)
	if toID != fromID {
		r.logs[toID] = append(r.logs[toID], msg)
	}
	return msg
}

// Log returns a copy of connID's private log.
func (r *Router) Log(connID string) []*chat.Message {
	return append([]*chat.Message(nil), r.logs[connID]...)
}

// Len returns the number of messages in connID's private log.
func (r *Router) Len(connID string) int {
	return len(r.logs[connID])
}

// Conversation pages through the messages owner exchanged with peer, using
// the same cursor rules as room history.
func (r *Router) Conversation(owner, peer, beforeID string, limit int) ([]*chat.Message, bool) {
	var thread []*chat.Message
	for _, m := range r.logs[owner] {
		if m.Involves(peer) {
			thread = append(thread, m)
		}
	}
	return chat.Page(thread, beforeID, limit)
}

// Drop discards connID's private log.
func (r *Router) Drop(connID string) {
	delete(r.logs, connID)
}
