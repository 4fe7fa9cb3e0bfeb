// Package receipt records which connections have read each message. Reader
// sets only grow; they are dropped wholesale when the message itself leaves
// its room log.
package receipt

// Tracker maps message ids to reader sets.
//
// Tracker is not safe for concurrent use.
type Tracker struct {
	readers map[string]map[string]struct{} // message id -> connection ids
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{readers: make(map[string]map[string]struct{})}
}

// Add records that readerID has read messageID. It returns false when the
// reader was already recorded, so repeated acknowledgements are idempotent.
func (t *Tracker) Add(messageID, readerID string) bool {
	set, ok := t.readers[messageID]
	if !ok {
		set = make(map[string]struct{})
		t.readers[messageID] = set
	}
	if _, seen := set[readerID]; seen {
		return false
	}
	set[readerID] = struct{}{}
	return true
}

// HasRead reports whether readerID has acknowledged messageID.
func (t *Tracker) HasRead(messageID, readerID string) bool {
	_, ok := t.readers[messageID][readerID]
	return ok
}

// Count returns the number of distinct readers of messageID.
func (t *Tracker) Count(messageID string) int {
	return len(t.readers[messageID])
}

// Forget drops the reader set of an evicted message.
func (t *Tracker) Forget(messageID string) {
	delete(t.readers, messageID)
}

// Len returns the number of messages with at least one reader.
func (t *Tracker) Len() int {
	return len(t.readers)
}
