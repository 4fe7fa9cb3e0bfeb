package relay

import (
	"github.com/rs/zerolog"

	"github.com/parley/relay/internal/metrics"
	"github.com/parley/relay/internal/protocol"
	"github.com/parley/relay/internal/room"
	"github.com/parley/relay/internal/session"
)

// Transport hands an encoded frame to a connection's outbound queue. Send
// must not block on the network; it returns an error when the connection is
// gone or its queue is full.
type Transport interface {
	Send(connID string, data []byte) error
}

// Dispatcher fans encoded server messages out to connections. Every frame is
// encoded once per call and delivery is fire-and-forget: failed sends are
// counted and dropped.
type Dispatcher struct {
	transport Transport
	rooms     *room.Directory
	sessions  *session.Registry
	log       zerolog.Logger
}

// NewDispatcher creates a Dispatcher resolving room and global audiences
// through rooms and sessions.
func NewDispatcher(transport Transport, rooms *room.Directory, sessions *session.Registry, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{transport: transport, rooms: rooms, sessions: sessions, log: log}
}

// ToRoom delivers to every current member of room.
func (d *Dispatcher) ToRoom(room, msgType string, payload any) {
	d.ToRoomExcept(room, "", msgType, payload)
}

// ToRoomExcept delivers to every current member of room other than except.
func (d *Dispatcher) ToRoomExcept(room, except, msgType string, payload any) {
	members := d.rooms.Members(room)
	if len(members) == 0 {
		return
	}
	data, ok := d.encode(msgType, payload)
	if !ok {
		return
	}
	for _, id := range members {
		if id != except {
			d.send(id, msgType, data)
		}
	}
}

// ToConnection delivers to exactly one connection.
func (d *Dispatcher) ToConnection(connID, msgType string, payload any) {
	data, ok := d.encode(msgType, payload)
	if !ok {
		return
	}
	d.send(connID, msgType, data)
}

// ToAll delivers to every joined session.
func (d *Dispatcher) ToAll(msgType string, payload any) {
	ids := d.sessions.IDs()
	if len(ids) == 0 {
		return
	}
	data, ok := d.encode(msgType, payload)
	if !ok {
		return
	}
	for _, id := range ids {
		d.send(id, msgType, data)
	}
}

func (d *Dispatcher) encode(msgType string, payload any) ([]byte, bool) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		d.log.Error().Err(err).Str("type", msgType).Msg("failed to encode server message")
		return nil, false
	}
	return data, true
}

func (d *Dispatcher) send(connID, msgType string, data []byte) {
	if err := d.transport.Send(connID, data); err != nil {
		metrics.FramesDropped.Inc()
		d.log.Debug().Err(err).Str("session", connID).Str("type", msgType).Msg("frame dropped")
	}
}
