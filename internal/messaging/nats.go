// Package messaging provides a NATS client wrapper that taps relay traffic
// for other services. Accepted room and private messages, and moderation
// violations, are published as JSON; the moderator service subscribes to
// them.
package messaging

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/parley/relay/internal/chat"
	"github.com/parley/relay/internal/moderation"
)

// NATS subjects.
const (
	SubjectRoom       = "chat.room" // + .<room>
	SubjectRoomAll    = "chat.room.>"
	SubjectPrivate    = "chat.private"
	SubjectViolations = "moderation.violation"
)

// RoomSubject returns the subject room messages for name are published on.
func RoomSubject(name string) string {
	return SubjectRoom + "." + name
}

// MessageEvent is the payload published for every accepted message.
type MessageEvent struct {
	Server  string       `json:"server"`
	Message chat.Message `json:"message"`
}

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn   *nats.Conn
	server string
	log    zerolog.Logger
	mu     sync.Mutex
	subs   map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "relay",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig, log zerolog.Logger) (*NATSClient, error) {
	log = log.With().Str("component", "nats").Logger()
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info().Msg("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Info().Str("url", nc.ConnectedUrl()).Msg("connected")

	return &NATSClient{
		conn:   nc,
		server: config.Name,
		log:    log,
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

func (c *NATSClient) publishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("nats marshal %s: %w", subject, err)
	}
	return c.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// PublishRoomMessage publishes an accepted room message to chat.room.<room>.
func (c *NATSClient) PublishRoomMessage(msg chat.Message) error {
	return c.publishJSON(RoomSubject(msg.Room), MessageEvent{Server: c.server, Message: msg})
}

// PublishPrivateMessage publishes an accepted private message.
func (c *NATSClient) PublishPrivateMessage(msg chat.Message) error {
	return c.publishJSON(SubjectPrivate, MessageEvent{Server: c.server, Message: msg})
}

// PublishViolation publishes a blocked message record.
func (c *NATSClient) PublishViolation(v moderation.Violation) error {
	return c.publishJSON(SubjectViolations, v)
}

// SubscribeRoomMessages subscribes to room messages from every room.
// Payloads that fail to decode are logged and skipped.
func (c *NATSClient) SubscribeRoomMessages(handler func(MessageEvent)) error {
	return c.Subscribe(SubjectRoomAll, func(msg *nats.Msg) {
		ev, err := DecodeMessageEvent(msg.Data)
		if err != nil {
			c.log.Warn().Err(err).Str("subject", msg.Subject).Msg("bad message event")
			return
		}
		handler(ev)
	})
}

// SubscribeViolations subscribes to moderation violations.
func (c *NATSClient) SubscribeViolations(handler func(moderation.Violation)) error {
	return c.Subscribe(SubjectViolations, func(msg *nats.Msg) {
		var v moderation.Violation
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			c.log.Warn().Err(err).Msg("bad violation")
			return
		}
		handler(v)
	})
}

// DecodeMessageEvent parses a tap payload.
func DecodeMessageEvent(data []byte) (MessageEvent, error) {
	var ev MessageEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return MessageEvent{}, fmt.Errorf("decode message event: %w", err)
	}
	return ev, nil
}

// Connected reports whether the underlying connection is up.
func (c *NATSClient) Connected() bool {
	return c.conn.IsConnected()
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.log.Warn().Err(err).Str("subject", subject).Msg("drain failed")
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		c.log.Warn().Err(err).Msg("connection drain failed")
	}

	c.log.Info().Msg("client closed")
}
