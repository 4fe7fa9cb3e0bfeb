// Package chat holds the message model shared by rooms and private channels:
// the Message type, id generation, the bounded per-room log and input
// validation for message content.
package chat

// Attachment is a client-encoded file carried alongside a message body. The
// payload is opaque to the server (typically a base64 data URL).
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Payload  string `json:"payload"`
}

// ReadMarker records that a user has read a message.
type ReadMarker struct {
	Username string `json:"username"`
	Ts       int64  `json:"ts"` // unix millis
}

// Message is a single room or private message. Exactly one of Room and To is
// set: room messages carry Room, private messages carry To (the recipient
// connection id) and IsPrivate.
type Message struct {
	ID         string       `json:"id"`
	Sender     string       `json:"sender"`    // sender username
	SenderID   string       `json:"sender_id"` // sender connection id
	Room       string       `json:"room,omitempty"`
	To         string       `json:"to,omitempty"`
	Body       string       `json:"body,omitempty"`
	Attachment *Attachment  `json:"attachment,omitempty"`
	Ts         int64        `json:"ts"` // unix millis
	Delivered  bool         `json:"delivered"`
	IsPrivate  bool         `json:"is_private,omitempty"`
	ReadBy     []ReadMarker `json:"read_by,omitempty"`
}

// MarkRead appends a read marker for username. Callers are responsible for
// de-duplicating readers.
func (m *Message) MarkRead(username string, ts int64) {
	m.ReadBy = append(m.ReadBy, ReadMarker{Username: username, Ts: ts})
}

// Involves reports whether connID is the sender or recipient of a private
// message.
func (m *Message) Involves(connID string) bool {
	return m.SenderID == connID || m.To == connID
}
