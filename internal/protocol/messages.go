// Package protocol defines the WebSocket message types and structures used for
// communication between chat clients and the relay. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/parley/relay/internal/chat"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoin                  = "join"
	TypeSwitchRoom            = "switch_room"
	TypeSendMessage           = "send_message"
	TypePrivateMessage        = "private_message"
	TypeTyping                = "typing"
	TypeMarkRead              = "mark_read"
	TypeAddReaction           = "add_reaction"
	TypeRequestHistory        = "request_history"
	TypeRequestPrivateHistory = "request_private_history"
	TypeReportMessage         = "report_message"
	TypePing                  = "ping"
)

// Server -> Client message types. TypePrivateMessage is shared by both
// directions.
const (
	TypeSessionCreated    = "session_created"
	TypeRoster            = "roster"
	TypeUserJoined        = "user_joined"
	TypeUserLeft          = "user_left"
	TypeRoomMessage       = "room_message"
	TypeHistory           = "history"
	TypePrivateHistory    = "private_history"
	TypeDeliveryConfirmed = "delivery_confirmed"
	TypeReadReceipt       = "read_receipt"
	TypeTypingRoster      = "typing_roster"
	TypeReactionAdded     = "reaction_added"
	TypeReportReceived    = "report_received"
	TypeRateLimited       = "rate_limited"
	TypeBanned            = "banned"
	TypeError             = "error"
	TypePong              = "pong"
)

// ---------------------------------------------------------------------------
// Envelope is decoded first to read the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so that the rest of the payload can be decoded later into the
// appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// ClientMessage is implemented by every inbound message struct. The set is
// closed: only types in this package satisfy it.
type ClientMessage interface {
	MessageType() string
	clientMessage()
}

// JoinMsg registers the connection under a username and enters the default
// room.
type JoinMsg struct {
	Username string `json:"username"`
}

// SwitchRoomMsg moves the session to another configured room.
type SwitchRoomMsg struct {
	Room string `json:"room"`
}

// SendMessageMsg posts to a room. An empty Room means the session's current
// room.
type SendMessageMsg struct {
	Room       string           `json:"room,omitempty"`
	Body       string           `json:"body"`
	Attachment *chat.Attachment `json:"attachment,omitempty"`
}

// PrivateMessageMsg sends a one-to-one message to a connection id.
type PrivateMessageMsg struct {
	To         string           `json:"to"`
	Body       string           `json:"body"`
	Attachment *chat.Attachment `json:"attachment,omitempty"`
}

// TypingMsg indicates whether the client is currently typing in its room.
type TypingMsg struct {
	IsTyping bool `json:"is_typing"`
}

// MarkReadMsg acknowledges a room message.
type MarkReadMsg struct {
	MessageID string `json:"message_id"`
	Room      string `json:"room"`
}

// AddReactionMsg attaches an emoji reaction to a room message.
type AddReactionMsg struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
	Room      string `json:"room"`
}

// RequestHistoryMsg asks for a page of room history older than Before.
type RequestHistoryMsg struct {
	Room   string `json:"room"`
	Before string `json:"before,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// RequestPrivateHistoryMsg asks for a page of the private conversation with
// another connection.
type RequestPrivateHistoryMsg struct {
	With   string `json:"with"`
	Before string `json:"before,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// ReportMessageMsg flags a room message for moderator review.
type ReportMessageMsg struct {
	MessageID string `json:"message_id"`
	Room      string `json:"room"`
	Reason    string `json:"reason"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct{}

func (JoinMsg) MessageType() string                  { return TypeJoin }
func (SwitchRoomMsg) MessageType() string            { return TypeSwitchRoom }
func (SendMessageMsg) MessageType() string           { return TypeSendMessage }
func (PrivateMessageMsg) MessageType() string        { return TypePrivateMessage }
func (TypingMsg) MessageType() string                { return TypeTyping }
func (MarkReadMsg) MessageType() string              { return TypeMarkRead }
func (AddReactionMsg) MessageType() string           { return TypeAddReaction }
func (RequestHistoryMsg) MessageType() string        { return TypeRequestHistory }
func (RequestPrivateHistoryMsg) MessageType() string { return TypeRequestPrivateHistory }
func (ReportMessageMsg) MessageType() string         { return TypeReportMessage }
func (PingMsg) MessageType() string                  { return TypePing }

func (JoinMsg) clientMessage()                  {}
func (SwitchRoomMsg) clientMessage()            {}
func (SendMessageMsg) clientMessage()           {}
func (PrivateMessageMsg) clientMessage()        {}
func (TypingMsg) clientMessage()                {}
func (MarkReadMsg) clientMessage()              {}
func (AddReactionMsg) clientMessage()           {}
func (RequestHistoryMsg) clientMessage()        {}
func (RequestPrivateHistoryMsg) clientMessage() {}
func (ReportMessageMsg) clientMessage()         {}
func (PingMsg) clientMessage()                  {}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// UserInfo is the public view of a session.
type UserInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Room     string `json:"room"`
	JoinedAt int64  `json:"joined_at"`
}

// SessionCreatedMsg is sent when a connection is accepted, before join.
type SessionCreatedMsg struct {
	SessionID string   `json:"session_id"`
	Rooms     []string `json:"rooms"`
}

// RosterMsg is the full list of joined users.
type RosterMsg struct {
	Users []UserInfo `json:"users"`
}

// UserJoinedMsg announces a new session to everyone.
type UserJoinedMsg struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Timestamp int64  `json:"timestamp"`
}

// UserLeftMsg announces a departed session to everyone.
type UserLeftMsg struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Timestamp int64  `json:"timestamp"`
}

// HistoryMsg is a page of room history, oldest first.
type HistoryMsg struct {
	Room     string          `json:"room"`
	Messages []*chat.Message `json:"messages"`
	HasMore  bool            `json:"has_more"`
}

// PrivateHistoryMsg is a page of a private conversation, oldest first.
type PrivateHistoryMsg struct {
	With     string          `json:"with"`
	Messages []*chat.Message `json:"messages"`
	HasMore  bool            `json:"has_more"`
}

// DeliveryConfirmedMsg tells a sender its message was accepted.
type DeliveryConfirmedMsg struct {
	MessageID string `json:"message_id"`
	Timestamp int64  `json:"timestamp"`
}

// ReadReceiptMsg tells a sender that someone read its message.
type ReadReceiptMsg struct {
	MessageID      string `json:"message_id"`
	Room           string `json:"room"`
	ReaderUsername string `json:"reader_username"`
	Timestamp      int64  `json:"timestamp"`
}

// TypingRosterMsg lists the usernames currently typing in a room.
type TypingRosterMsg struct {
	Room      string   `json:"room"`
	Usernames []string `json:"usernames"`
}

// ReactionAddedMsg relays an emoji reaction to a room.
type ReactionAddedMsg struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
	Username  string `json:"username"`
	UserID    string `json:"user_id"`
	Room      string `json:"room"`
}

// ReportReceivedMsg acknowledges a report.
type ReportReceivedMsg struct {
	MessageID string `json:"message_id"`
}

// RateLimitedMsg is sent when the client has been rate-limited.
type RateLimitedMsg struct {
	RetryAfter int `json:"retry_after"`
}

// BannedMsg is sent when the client has been muted for repeated violations.
type BannedMsg struct {
	Duration int    `json:"duration"`
	Reason   string `json:"reason"`
}

// ErrorMsg communicates an error condition.
type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct{}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ErrUnknownType is returned by ParseClientMessage for types the server does
// not accept.
var ErrUnknownType = errors.New("protocol: unknown client message type")

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing.
func ParseClientMessage(data []byte) (string, ClientMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var msg ClientMessage
	switch env.Type {
	case TypeJoin:
		msg = &JoinMsg{}
	case TypeSwitchRoom:
		msg = &SwitchRoomMsg{}
	case TypeSendMessage:
		msg = &SendMessageMsg{}
	case TypePrivateMessage:
		msg = &PrivateMessageMsg{}
	case TypeTyping:
		msg = &TypingMsg{}
	case TypeMarkRead:
		msg = &MarkReadMsg{}
	case TypeAddReaction:
		msg = &AddReactionMsg{}
	case TypeRequestHistory:
		msg = &RequestHistoryMsg{}
	case TypeRequestPrivateHistory:
		msg = &RequestPrivateHistoryMsg{}
	case TypeReportMessage:
		msg = &ReportMessageMsg{}
	case TypePing:
		return env.Type, PingMsg{}, nil
	default:
		return env.Type, nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if err := json.Unmarshal(env.Raw, msg); err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, deref(msg), nil
}

// deref returns the value form of a decoded message. Handlers switch on value
// types only.
func deref(msg ClientMessage) ClientMessage {
	switch m := msg.(type) {
	case *JoinMsg:
		return *m
	case *SwitchRoomMsg:
		return *m
	case *SendMessageMsg:
		return *m
	case *PrivateMessageMsg:
		return *m
	case *TypingMsg:
		return *m
	case *MarkReadMsg:
		return *m
	case *AddReactionMsg:
		return *m
	case *RequestHistoryMsg:
		return *m
	case *RequestPrivateHistoryMsg:
		return *m
	case *ReportMessageMsg:
		return *m
	}
	return msg
}

// NewServerMessage creates a JSON-encoded frame for a server message. The
// payload must marshal to a JSON object; msgType is written as its leading
// "type" key.
func NewServerMessage(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) < 2 || raw[0] != '{' {
		return nil, fmt.Errorf("protocol: payload for %q is not a JSON object", msgType)
	}

	typ, err := json.Marshal(msgType)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal type: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(len(raw) + len(typ) + 9)
	buf.WriteString(`{"type":`)
	buf.Write(typ)
	if len(raw) > 2 {
		buf.WriteByte(',')
	}
	buf.Write(raw[1:])
	return buf.Bytes(), nil
}
