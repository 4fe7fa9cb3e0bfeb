package chat

const (
	// MaxLogMessages is the number of recent messages retained per room.
	MaxLogMessages = 100

	// DefaultPageSize is the history window returned when the caller does
	// not ask for a specific limit.
	DefaultPageSize = 20
)

// Log stores the most recent messages of a room in insertion order. It uses
// a fixed-size ring buffer internally; once full, each append evicts the
// oldest message.
//
// Log is not safe for concurrent use. The relay serializes all access.
type Log struct {
	items []*Message
	pos   int
	count int
}

// NewLog creates an empty log holding at most capacity messages. A
// non-positive capacity falls back to MaxLogMessages.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = MaxLogMessages
	}
	return &Log{items: make([]*Message, capacity)}
}

// Cap returns the log capacity.
func (l *Log) Cap() int { return len(l.items) }

// Len returns the number of stored messages.
func (l *Log) Len() int { return l.count }

// Append stores msg as the newest entry. If the log was full, the evicted
// oldest message is returned so callers can drop state keyed on it.
func (l *Log) Append(msg *Message) (evicted *Message) {
	capacity := len(l.items)
	if l.count == capacity {
		evicted = l.items[l.pos]
	}

	l.items[l.pos] = msg
	l.pos = (l.pos + 1) % capacity
	if l.count < capacity {
		l.count++
	}
	return evicted
}

// Messages returns all stored messages oldest first. The slice is a copy; the
// messages are shared.
func (l *Log) Messages() []*Message {
	capacity := len(l.items)
	result := make([]*Message, l.count)
	// The oldest message is at position (pos - count) mod capacity.
	start := (l.pos - l.count + capacity) % capacity
	for i := 0; i < l.count; i++ {
		result[i] = l.items[(start+i)%capacity]
	}
	return result
}

// Find returns the stored message with the given id, or nil.
func (l *Log) Find(id string) *Message {
	if id == "" {
		return nil
	}
	for _, m := range l.items {
		if m != nil && m.ID == id {
			return m
		}
	}
	return nil
}

// Before returns up to limit messages stored immediately before the message
// with id beforeID. See Page for the exact windowing rules.
func (l *Log) Before(beforeID string, limit int) ([]*Message, bool) {
	if limit > len(l.items) {
		limit = len(l.items)
	}
	return Page(l.Messages(), beforeID, limit)
}

// Page applies cursor pagination to msgs, which must be ordered oldest first.
//
// With an empty or unknown beforeID it returns the most recent limit
// messages. When beforeID is found at index i it returns the limit messages
// preceding it, which is empty when i is 0. hasMore is true when the window
// is full; it means "there may be more", not that more provably exist. A
// non-positive limit uses DefaultPageSize.
func Page(msgs []*Message, beforeID string, limit int) (window []*Message, hasMore bool) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	end := len(msgs)
	if beforeID != "" {
		for i, m := range msgs {
			if m.ID == beforeID {
				end = i
				break
			}
		}
	}

	start := end - limit
	if start < 0 {
		start = 0
	}

	window = make([]*Message, end-start)
	copy(window, msgs[start:end])
	return window, len(window) == limit
}
