// Package relay is the chat coordinator. A Relay owns the connection
// registry, the room directory, typing presence, read receipts and private
// logs, and applies every inbound event to them one at a time behind a single
// lock. Outbound notifications are enqueued on per-connection queues while
// the lock is held, so all members of a room observe that room's events in
// acceptance order.
//
// The relay assumes validated input; boundary checks live in the gateway.
package relay

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley/relay/internal/chat"
	"github.com/parley/relay/internal/metrics"
	"github.com/parley/relay/internal/presence"
	"github.com/parley/relay/internal/private"
	"github.com/parley/relay/internal/protocol"
	"github.com/parley/relay/internal/receipt"
	"github.com/parley/relay/internal/room"
	"github.com/parley/relay/internal/session"
)

var (
	// ErrAlreadyJoined is returned when a connection sends join twice.
	ErrAlreadyJoined = errors.New("relay: connection already joined")

	// ErrNotJoined is returned by operations that need a session.
	ErrNotJoined = errors.New("relay: connection has not joined")

	// ErrUnknownMessage is returned when a referenced message is not in the
	// room log.
	ErrUnknownMessage = errors.New("relay: unknown message")
)

// Config holds the relay's room layout.
type Config struct {
	Rooms       []string
	DefaultRoom string
	PageSize    int // history window sent on join and room switch
	LogCapacity int // per-room log bound
}

// DefaultConfig returns the three stock rooms with a 20 message page.
func DefaultConfig() Config {
	return Config{
		Rooms:       []string{"general", "random", "tech"},
		DefaultRoom: "general",
		PageSize:    chat.DefaultPageSize,
		LogCapacity: chat.MaxLogMessages,
	}
}

// Option customizes a Relay.
type Option func(*Relay)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

// WithLogger sets the relay logger.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Relay) { r.log = log }
}

// Relay serializes all chat state mutation.
type Relay struct {
	mu sync.Mutex

	cfg      Config
	now      func() time.Time
	log      zerolog.Logger
	ids      *chat.IDGenerator
	sessions *session.Registry
	rooms    *room.Directory
	typing   *presence.Tracker
	receipts *receipt.Tracker
	private  *private.Router
	out      *Dispatcher

	// departed holds connections torn down recently, so a join frame still
	// in flight for one of them cannot register a session afterwards.
	departed map[string]time.Time
	prunedAt time.Time
}

// DepartedRetention bounds how long a disconnected connection id is refused.
const DepartedRetention = 2 * time.Minute

// New creates a Relay delivering through transport.
func New(cfg Config, transport Transport, opts ...Option) (*Relay, error) {
	r := &Relay{
		cfg: cfg,
		now: time.Now,
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cfg.PageSize <= 0 {
		r.cfg.PageSize = chat.DefaultPageSize
	}

	rooms, err := room.NewDirectory(cfg.Rooms, cfg.LogCapacity)
	if err != nil {
		return nil, fmt.Errorf("relay: %w", err)
	}
	if !rooms.Has(cfg.DefaultRoom) {
		return nil, fmt.Errorf("relay: default room %q is not configured", cfg.DefaultRoom)
	}

	r.rooms = rooms
	r.ids = chat.NewIDGenerator(r.now)
	r.sessions = session.NewRegistry(cfg.DefaultRoom, r.now)
	r.typing = presence.NewTracker()
	r.receipts = receipt.NewTracker()
	r.private = private.NewRouter(r.ids, r.now)
	r.out = NewDispatcher(transport, r.rooms, r.sessions, r.log)
	r.departed = make(map[string]time.Time)
	return r, nil
}

// Rooms returns the configured room names.
func (r *Relay) Rooms() []string {
	return r.rooms.Names()
}

// HasRoom reports whether name is a configured room.
func (r *Relay) HasRoom(name string) bool {
	return r.rooms.Has(name)
}

// Welcome greets a freshly accepted connection with its session id and the
// room list. The connection has no session until it joins.
func (r *Relay) Welcome(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.out.ToConnection(connID, protocol.TypeSessionCreated, protocol.SessionCreatedMsg{
		SessionID: connID,
		Rooms:     r.rooms.Names(),
	})
}

// Reply sends a single frame to connID, ordered with everything else the
// relay queues for it.
func (r *Relay) Reply(connID, msgType string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.out.ToConnection(connID, msgType, payload)
}

// Lookup returns a copy of connID's session.
func (r *Relay) Lookup(connID string) (session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions.Lookup(connID)
	if !ok {
		return session.Session{}, false
	}
	return *s, true
}

// Join registers connID as username in the default room. Everyone receives
// the new roster and a join announcement; the joiner also receives the
// default room's recent history. A connection that already disconnected gets
// ErrNotJoined.
func (r *Relay) Join(connID, username string) (session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, gone := r.departed[connID]; gone {
		return session.Session{}, ErrNotJoined
	}
	s, err := r.sessions.Register(connID, username)
	if errors.Is(err, session.ErrDuplicateConnection) {
		return session.Session{}, ErrAlreadyJoined
	}
	if err != nil {
		return session.Session{}, err
	}
	// The default room is validated in New.
	_ = r.rooms.Join(s.CurrentRoom, connID)
	metrics.SessionsTotal.Inc()

	r.out.ToAll(protocol.TypeRoster, r.rosterLocked())
	r.out.ToAll(protocol.TypeUserJoined, protocol.UserJoinedMsg{
		ID:        connID,
		Username:  username,
		Timestamp: s.JoinedAt,
	})
	r.sendHistoryLocked(connID, s.CurrentRoom, "", r.cfg.PageSize)

	r.log.Info().Str("session", connID).Str("username", username).Str("room", s.CurrentRoom).Msg("joined")
	return *s, nil
}

// SwitchRoom moves connID into name. The vacated room loses the connection
// from its membership and typing set; remaining members get a typing roster
// update if the set changed. The mover receives name's recent history, even
// when it was already there.
func (r *Relay) SwitchRoom(connID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions.Lookup(connID)
	if !ok {
		return ErrNotJoined
	}
	if !r.rooms.Has(name) {
		return fmt.Errorf("%w: %q", room.ErrUnknownRoom, name)
	}

	if prev := s.CurrentRoom; prev != name {
		r.vacateLocked(prev, connID)
		_ = r.rooms.Join(name, connID)
		r.sessions.SetRoom(connID, name)
		r.log.Debug().Str("session", connID).Str("from", prev).Str("to", name).Msg("switched room")
	}
	r.sendHistoryLocked(connID, name, "", r.cfg.PageSize)
	return nil
}

// SendRoomMessage appends a message to roomName (the sender's current room
// when empty) and broadcasts it to the room's members. The sender gets a
// delivery confirmation. The returned copy is safe to use after the call.
func (r *Relay) SendRoomMessage(connID, roomName, body string, att *chat.Attachment) (chat.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions.Lookup(connID)
	if !ok {
		return chat.Message{}, ErrNotJoined
	}
	if roomName == "" {
		roomName = s.CurrentRoom
	}

	msg := &chat.Message{
		ID:         r.ids.Next(connID),
		Sender:     s.Username,
		SenderID:   connID,
		Body:       body,
		Attachment: att,
		Ts:         r.now().UnixMilli(),
	}
	stored, evicted, err := r.rooms.Append(roomName, msg)
	if err != nil {
		return chat.Message{}, err
	}
	if evicted != nil {
		r.receipts.Forget(evicted.ID)
		metrics.EvictionsTotal.WithLabelValues(roomName).Inc()
	}

	stored.Delivered = true
	r.out.ToRoom(roomName, protocol.TypeRoomMessage, stored)
	r.out.ToConnection(connID, protocol.TypeDeliveryConfirmed, protocol.DeliveryConfirmedMsg{
		MessageID: stored.ID,
		Timestamp: stored.Ts,
	})
	metrics.MessagesTotal.WithLabelValues("room").Inc()

	return snapshot(stored), nil
}

// SendPrivateMessage stores a message in both participants' private logs and
// delivers it to the recipient, if connected, and back to the sender, which
// also gets a delivery confirmation.
func (r *Relay) SendPrivateMessage(connID, to, body string, att *chat.Attachment) (chat.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions.Lookup(connID)
	if !ok {
		return chat.Message{}, ErrNotJoined
	}

	msg := r.private.Send(connID, s.Username, to, body, att)
	_, online := r.sessions.Lookup(to)
	msg.Delivered = online
	if to != connID {
		r.out.ToConnection(to, protocol.TypePrivateMessage, msg)
	}
	r.out.ToConnection(connID, protocol.TypePrivateMessage, msg)
	r.out.ToConnection(connID, protocol.TypeDeliveryConfirmed, protocol.DeliveryConfirmedMsg{
		MessageID: msg.ID,
		Timestamp: msg.Ts,
	})
	metrics.MessagesTotal.WithLabelValues("private").Inc()

	return snapshot(msg), nil
}

// SetTyping updates connID's typing state in its current room and sends the
// room's typing roster to every other member.
func (r *Relay) SetTyping(connID string, isTyping bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions.Lookup(connID)
	if !ok {
		return
	}
	r.typing.SetTyping(s.CurrentRoom, connID, isTyping)
	metrics.TypingUsers.WithLabelValues(s.CurrentRoom).Set(float64(r.typing.Count(s.CurrentRoom)))
	r.out.ToRoomExcept(s.CurrentRoom, connID, protocol.TypeTypingRoster, r.typingRosterLocked(s.CurrentRoom))
}

// MarkRead records that connID read messageID in roomName and notifies the
// message's sender, the reader included. Unknown messages and repeated reads
// are no-ops.
func (r *Relay) MarkRead(connID, messageID, roomName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions.Lookup(connID)
	if !ok {
		return
	}
	msg := r.rooms.Find(roomName, messageID)
	if msg == nil {
		return
	}
	if !r.receipts.Add(messageID, connID) {
		return
	}

	ts := r.now().UnixMilli()
	msg.MarkRead(s.Username, ts)
	r.out.ToConnection(msg.SenderID, protocol.TypeReadReceipt, protocol.ReadReceiptMsg{
		MessageID:      messageID,
		Room:           roomName,
		ReaderUsername: s.Username,
		Timestamp:      ts,
	})
	metrics.MessagesTotal.WithLabelValues("receipt").Inc()
}

// AddReaction broadcasts an emoji reaction on a stored room message to the
// room. Reactions are not persisted. It reports whether the reaction was
// relayed.
func (r *Relay) AddReaction(connID, messageID, emoji, roomName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions.Lookup(connID)
	if !ok {
		return false
	}
	if r.rooms.Find(roomName, messageID) == nil {
		return false
	}

	r.out.ToRoom(roomName, protocol.TypeReactionAdded, protocol.ReactionAddedMsg{
		MessageID: messageID,
		Emoji:     emoji,
		Username:  s.Username,
		UserID:    connID,
		Room:      roomName,
	})
	metrics.MessagesTotal.WithLabelValues("reaction").Inc()
	return true
}

// RequestHistory sends connID a page of roomName's log older than beforeID.
func (r *Relay) RequestHistory(connID, roomName, beforeID string, limit int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions.Lookup(connID); !ok {
		return ErrNotJoined
	}
	if !r.rooms.Has(roomName) {
		return fmt.Errorf("%w: %q", room.ErrUnknownRoom, roomName)
	}
	r.sendHistoryLocked(connID, roomName, beforeID, limit)
	return nil
}

// RequestPrivateHistory sends connID a page of its conversation with peer.
func (r *Relay) RequestPrivateHistory(connID, peer, beforeID string, limit int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions.Lookup(connID); !ok {
		return ErrNotJoined
	}
	msgs, hasMore := r.private.Conversation(connID, peer, beforeID, limit)
	r.out.ToConnection(connID, protocol.TypePrivateHistory, protocol.PrivateHistoryMsg{
		With:     peer,
		Messages: msgs,
		HasMore:  hasMore,
	})
	return nil
}

// Disconnect tears down connID's session: it leaves its room (with a typing
// roster update if it was typing), its private log is discarded and everyone
// receives a leave announcement and the new roster. Connections that never
// joined are simply forgotten. It reports whether a session existed.
func (r *Relay) Disconnect(connID string) (session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.private.Drop(connID)
	r.ids.Forget(connID)
	r.departLocked(connID)

	s, ok := r.sessions.Remove(connID)
	if !ok {
		return session.Session{}, false
	}
	metrics.SessionsTotal.Dec()
	r.vacateLocked(s.CurrentRoom, connID)

	ts := r.now().UnixMilli()
	r.out.ToAll(protocol.TypeUserLeft, protocol.UserLeftMsg{
		ID:        connID,
		Username:  s.Username,
		Timestamp: ts,
	})
	r.out.ToAll(protocol.TypeRoster, r.rosterLocked())

	r.log.Info().Str("session", connID).Str("username", s.Username).Msg("left")
	return *s, true
}

// departLocked records connID as gone and drops records older than
// DepartedRetention, sweeping at most once per retention period.
func (r *Relay) departLocked(connID string) {
	now := r.now()
	r.departed[connID] = now
	if now.Sub(r.prunedAt) < DepartedRetention {
		return
	}
	for id, at := range r.departed {
		if now.Sub(at) >= DepartedRetention {
			delete(r.departed, id)
		}
	}
	r.prunedAt = now
}

// RoomLog returns a copy of roomName's whole log, oldest first. ok is false
// for an unknown room.
func (r *Relay) RoomLog(roomName string) ([]chat.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msgs, ok := r.rooms.Messages(roomName)
	if !ok {
		return nil, false
	}
	out := make([]chat.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, snapshot(m))
	}
	return out, true
}

// Report is a snapshot of a reported room message and its context.
type Report struct {
	Reporter session.Session
	Message  chat.Message
	Context  []chat.Message // preceding messages, oldest first
}

// ReportContextSize is the number of preceding messages captured with a
// report.
const ReportContextSize = 5

// SnapshotReport captures messageID and the messages before it for a
// moderator report filed by connID.
func (r *Relay) SnapshotReport(connID, roomName, messageID string) (Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions.Lookup(connID)
	if !ok {
		return Report{}, ErrNotJoined
	}
	msgs := r.rooms.Preceding(roomName, messageID, ReportContextSize)
	if len(msgs) == 0 {
		return Report{}, ErrUnknownMessage
	}

	rep := Report{Reporter: *s, Message: snapshot(msgs[len(msgs)-1])}
	for _, m := range msgs[:len(msgs)-1] {
		rep.Context = append(rep.Context, snapshot(m))
	}
	return rep, nil
}

// Stats is a point-in-time view for the status endpoints.
type Stats struct {
	Users []session.Session
	Rooms []room.Stats
}

// Stats returns the current roster and per-room tallies.
func (r *Relay) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Stats{Users: r.sessions.All(), Rooms: r.rooms.Stats()}
}

// vacateLocked removes connID from room's membership and typing set,
// notifying the remaining members when the typing set changed.
func (r *Relay) vacateLocked(roomName, connID string) {
	r.rooms.Leave(roomName, connID)
	if r.typing.Clear(roomName, connID) {
		metrics.TypingUsers.WithLabelValues(roomName).Set(float64(r.typing.Count(roomName)))
		r.out.ToRoom(roomName, protocol.TypeTypingRoster, r.typingRosterLocked(roomName))
	}
}

func (r *Relay) sendHistoryLocked(connID, roomName, beforeID string, limit int) {
	msgs, hasMore := r.rooms.History(roomName, beforeID, limit)
	r.out.ToConnection(connID, protocol.TypeHistory, protocol.HistoryMsg{
		Room:     roomName,
		Messages: msgs,
		HasMore:  hasMore,
	})
}

func (r *Relay) rosterLocked() protocol.RosterMsg {
	all := r.sessions.All()
	users := make([]protocol.UserInfo, 0, len(all))
	for _, s := range all {
		users = append(users, protocol.UserInfo{
			ID:       s.ID,
			Username: s.Username,
			Room:     s.CurrentRoom,
			JoinedAt: s.JoinedAt,
		})
	}
	return protocol.RosterMsg{Users: users}
}

func (r *Relay) typingRosterLocked(roomName string) protocol.TypingRosterMsg {
	ids := r.typing.Typing(roomName)
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if name := r.sessions.Username(id); name != "" {
			names = append(names, name)
		}
	}
	return protocol.TypingRosterMsg{Room: roomName, Usernames: names}
}

// snapshot copies a stored message so it can leave the lock.
func snapshot(m *chat.Message) chat.Message {
	c := *m
	c.ReadBy = append([]chat.ReadMarker(nil), m.ReadBy...)
	if m.Attachment != nil {
		att := *m.Attachment
		c.Attachment = &att
	}
	return c
}
