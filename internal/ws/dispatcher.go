package ws

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley/relay/internal/metrics"
	"github.com/parley/relay/internal/protocol"
)

// MessageHandler is the callback signature for handling a parsed client
// message. msg is the concrete value returned by protocol.ParseClientMessage
// (e.g., protocol.JoinMsg, protocol.SendMessageMsg).
type MessageHandler func(conn *Connection, msg protocol.ClientMessage)

// MessageDispatcher routes incoming WebSocket messages to registered handlers
// based on the message type. It handles the built-in ping/pong keepalive
// internally and sends structured error responses for malformed or unsupported
// messages.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	log      zerolog.Logger
}

// NewMessageDispatcher creates an empty MessageDispatcher.
func NewMessageDispatcher(log zerolog.Logger) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		log:      log.With().Str("component", "dispatch").Logger(),
	}
}

// Register associates a MessageHandler with a message type. If a handler was
// already registered for the given type, it is silently replaced.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the onMessage callback implementation. It parses the raw bytes
// into a typed message, handles ping internally, and routes all other types to
// the registered handler. Parse errors and unregistered types result in an
// error message sent back to the client.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if errors.Is(err, protocol.ErrUnknownType) {
		d.log.Debug().Str("session", conn.ID).Str("type", msgType).Msg("unsupported message type")
		d.sendError(conn, "unsupported_type", "unsupported message type")
		return
	}
	if err != nil {
		d.log.Debug().Err(err).Str("session", conn.ID).Msg("parse error")
		d.sendError(conn, "parse_error", "invalid message format")
		return
	}

	// Built-in ping handler, no registration required.
	if msgType == protocol.TypePing {
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		d.log.Debug().Str("session", conn.ID).Str("type", msgType).Msg("no handler registered")
		d.sendError(conn, "unsupported_type", "unsupported message type")
		return
	}

	start := time.Now()
	handler(conn, msg)
	metrics.EventLatency.WithLabelValues(msgType).Observe(time.Since(start).Seconds())
}

// sendError sends a structured error message back to the client.
func (d *MessageDispatcher) sendError(conn *Connection, code string, message string) {
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		d.log.Error().Err(err).Str("session", conn.ID).Msg("build error message")
		return
	}
	if err := conn.Enqueue(data); err != nil {
		d.log.Debug().Err(err).Str("session", conn.ID).Msg("send error message")
	}
}

// sendPong answers an application-level ping.
func (d *MessageDispatcher) sendPong(conn *Connection) {
	conn.Touch()

	data, err := protocol.NewServerMessage(protocol.TypePong, protocol.PongMsg{})
	if err != nil {
		d.log.Error().Err(err).Str("session", conn.ID).Msg("build pong")
		return
	}
	if err := conn.Enqueue(data); err != nil {
		d.log.Debug().Err(err).Str("session", conn.ID).Msg("send pong")
	}
}
