package chat

import (
	"strconv"
	"time"
)

// IDGenerator issues message ids of the form <unix-millis>-<connID>-<seq>.
// The per-connection sequence is strictly increasing, so two messages from
// the same connection within the same millisecond still get distinct ids.
//
// IDGenerator is not safe for concurrent use.
type IDGenerator struct {
	now func() time.Time
	seq map[string]uint64
}

// NewIDGenerator returns a generator using now as its clock. A nil now uses
// time.Now.
func NewIDGenerator(now func() time.Time) *IDGenerator {
	if now == nil {
		now = time.Now
	}
	return &IDGenerator{now: now, seq: make(map[string]uint64)}
}

// Next returns a fresh message id for a message sent by connID.
func (g *IDGenerator) Next(connID string) string {
	g.seq[connID]++
	return strconv.FormatInt(g.now().UnixMilli(), 10) + "-" + connID + "-" + strconv.FormatUint(g.seq[connID], 10)
}

// Forget drops the sequence counter for a departed connection.
func (g *IDGenerator) Forget(connID string) {
	delete(g.seq, connID)
}
