// Package gateway is the boundary between the WebSocket transport and the
// relay. It validates inbound events, applies rate limits, content moderation
// and mutes, and performs the blocking side effects (Redis session mirror,
// report storage, NATS tap) outside the relay lock.
package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley/relay/internal/ban"
	"github.com/parley/relay/internal/chat"
	"github.com/parley/relay/internal/metrics"
	"github.com/parley/relay/internal/moderation"
	"github.com/parley/relay/internal/protocol"
	"github.com/parley/relay/internal/ratelimit"
	"github.com/parley/relay/internal/relay"
	"github.com/parley/relay/internal/report"
	"github.com/parley/relay/internal/session"
	"github.com/parley/relay/internal/ws"
)

// Error codes sent in error frames.
const (
	CodeInvalidUsername    = "invalid_username"
	CodeAlreadyJoined      = "already_joined"
	CodeUnknownRoom        = "unknown_room"
	CodeInvalidMessage     = "invalid_message"
	CodeInvalidRecipient   = "invalid_recipient"
	CodeInvalidEmoji       = "invalid_emoji"
	CodeInvalidReason      = "invalid_reason"
	CodeUnknownMessage     = "unknown_message"
	CodeContentBlocked     = "content_blocked"
	CodeReportsUnavailable = "reports_unavailable"
	CodeInternal           = "internal_error"
)

// SessionMirror receives session lifecycle updates. session.Store implements
// it over Redis.
type SessionMirror interface {
	Put(ctx context.Context, sess session.Session) error
	SetRoom(ctx context.Context, sessionID, room string) error
	Delete(ctx context.Context, sessionID string) error
}

// Strikes records offenses and mutes. ban.Store implements it over Redis.
type Strikes interface {
	IsBanned(ctx context.Context, identity string) (bool, int, string, error)
	Strike(ctx context.Context, identity, reason string) (ban.Verdict, error)
}

// Reports stores message reports. report.Store implements it over Postgres.
type Reports interface {
	Create(ctx context.Context, r *report.Report) error
}

// Publisher taps accepted traffic. messaging.NATSClient implements it.
type Publisher interface {
	PublishRoomMessage(msg chat.Message) error
	PublishPrivateMessage(msg chat.Message) error
	PublishViolation(v moderation.Violation) error
}

// Deps are the gateway's collaborators. Only Relay is required; a nil
// optional dependency disables its feature.
type Deps struct {
	Relay    *relay.Relay
	Filter   *moderation.Filter
	Limiter  ratelimit.Allower
	Strikes  Strikes
	Reports  Reports
	Sessions SessionMirror
	Tap      Publisher
}

// Options tune the gateway.
type Options struct {
	MaxAttachmentBytes int
	IOTimeout          time.Duration // bound on each backend call
}

// Gateway handles inbound events for every connection.
type Gateway struct {
	deps Deps
	opts Options
	log  zerolog.Logger
	now  func() time.Time

	mu         sync.RWMutex
	identities map[string]string // connID -> client address
}

// New creates a Gateway.
func New(deps Deps, opts Options, log zerolog.Logger) *Gateway {
	if opts.IOTimeout <= 0 {
		opts.IOTimeout = 3 * time.Second
	}
	return &Gateway{
		deps:       deps,
		opts:       opts,
		log:        log.With().Str("component", "gateway").Logger(),
		now:        time.Now,
		identities: make(map[string]string),
	}
}

// Register installs a handler for every inbound event type.
func (g *Gateway) Register(d *ws.MessageDispatcher) {
	types := []string{
		protocol.TypeJoin,
		protocol.TypeSwitchRoom,
		protocol.TypeSendMessage,
		protocol.TypePrivateMessage,
		protocol.TypeTyping,
		protocol.TypeMarkRead,
		protocol.TypeAddReaction,
		protocol.TypeRequestHistory,
		protocol.TypeRequestPrivateHistory,
		protocol.TypeReportMessage,
	}
	for _, t := range types {
		d.Register(t, func(c *ws.Connection, msg protocol.ClientMessage) {
			g.Handle(c.ID, msg)
		})
	}
}

// Connected greets connID and remembers its client address.
func (g *Gateway) Connected(connID, remoteAddr string) {
	g.mu.Lock()
	g.identities[connID] = remoteAddr
	g.mu.Unlock()

	g.deps.Relay.Welcome(connID)
}

// Disconnected tears down connID's session and its external state.
func (g *Gateway) Disconnected(connID string) {
	g.mu.Lock()
	delete(g.identities, connID)
	g.mu.Unlock()

	_, joined := g.deps.Relay.Disconnect(connID)

	if f, ok := g.deps.Limiter.(interface{ Forget(string) }); ok {
		f.Forget(connID)
	}
	if joined && g.deps.Sessions != nil {
		ctx, cancel := g.ioContext()
		defer cancel()
		if err := g.deps.Sessions.Delete(ctx, connID); err != nil {
			g.log.Warn().Err(err).Str("session", connID).Msg("session mirror delete failed")
		}
	}
}

// Handle applies one inbound event from connID.
func (g *Gateway) Handle(connID string, msg protocol.ClientMessage) {
	switch m := msg.(type) {
	case protocol.JoinMsg:
		g.join(connID, m)
	case protocol.SwitchRoomMsg:
		g.switchRoom(connID, m)
	case protocol.SendMessageMsg:
		g.sendMessage(connID, m)
	case protocol.PrivateMessageMsg:
		g.privateMessage(connID, m)
	case protocol.TypingMsg:
		g.deps.Relay.SetTyping(connID, m.IsTyping)
	case protocol.MarkReadMsg:
		g.deps.Relay.MarkRead(connID, m.MessageID, m.Room)
	case protocol.AddReactionMsg:
		g.addReaction(connID, m)
	case protocol.RequestHistoryMsg:
		g.requestHistory(connID, m)
	case protocol.RequestPrivateHistoryMsg:
		_ = g.deps.Relay.RequestPrivateHistory(connID, m.With, m.Before, m.Limit)
	case protocol.ReportMessageMsg:
		g.reportMessage(connID, m)
	default:
		g.log.Debug().Str("session", connID).Str("type", msg.MessageType()).Msg("unhandled message")
	}
}

func (g *Gateway) join(connID string, m protocol.JoinMsg) {
	if err := chat.ValidateUsername(m.Username); err != nil {
		g.reject(connID, CodeInvalidUsername, err.Error())
		return
	}
	if g.muted(connID) {
		return
	}
	if g.deps.Filter != nil {
		if res := g.deps.Filter.CheckUsername(m.Username); res.Blocked {
			g.blocked(connID, m.Username, "", res)
			return
		}
	}

	sess, err := g.deps.Relay.Join(connID, m.Username)
	switch {
	case errors.Is(err, relay.ErrNotJoined):
		// Torn down while the join frame was in flight.
		return
	case errors.Is(err, relay.ErrAlreadyJoined):
		g.reject(connID, CodeAlreadyJoined, "already joined")
		return
	case err != nil:
		g.log.Error().Err(err).Str("session", connID).Msg("join failed")
		g.sendError(connID, CodeInternal, "join failed")
		return
	}

	if g.deps.Sessions != nil {
		ctx, cancel := g.ioContext()
		defer cancel()
		if err := g.deps.Sessions.Put(ctx, sess); err != nil {
			g.log.Warn().Err(err).Str("session", connID).Msg("session mirror put failed")
		}
		// A disconnect between Join and Put already issued its Delete.
		if _, ok := g.deps.Relay.Lookup(connID); !ok {
			_ = g.deps.Sessions.Delete(ctx, connID)
		}
	}
}

func (g *Gateway) switchRoom(connID string, m protocol.SwitchRoomMsg) {
	err := g.deps.Relay.SwitchRoom(connID, m.Room)
	switch {
	case errors.Is(err, relay.ErrNotJoined):
		return
	case err != nil:
		g.reject(connID, CodeUnknownRoom, "unknown room")
		return
	}

	if g.deps.Sessions != nil {
		ctx, cancel := g.ioContext()
		defer cancel()
		if err := g.deps.Sessions.SetRoom(ctx, connID, m.Room); err != nil {
			g.log.Warn().Err(err).Str("session", connID).Msg("session mirror set room failed")
		}
	}
}

func (g *Gateway) sendMessage(connID string, m protocol.SendMessageMsg) {
	sess, ok := g.deps.Relay.Lookup(connID)
	if !ok {
		return
	}
	roomName := m.Room
	if roomName == "" {
		roomName = sess.CurrentRoom
	}
	if !g.deps.Relay.HasRoom(roomName) {
		g.reject(connID, CodeUnknownRoom, "unknown room")
		return
	}
	if !g.admitContent(connID, sess.Username, roomName, m.Body, m.Attachment) {
		return
	}

	msg, err := g.deps.Relay.SendRoomMessage(connID, roomName, m.Body, m.Attachment)
	if errors.Is(err, relay.ErrNotJoined) {
		return
	}
	if err != nil {
		g.log.Error().Err(err).Str("session", connID).Msg("send message failed")
		return
	}
	if g.deps.Tap != nil {
		if err := g.deps.Tap.PublishRoomMessage(msg); err != nil {
			g.log.Warn().Err(err).Str("session", connID).Msg("tap publish failed")
		}
	}
}

func (g *Gateway) privateMessage(connID string, m protocol.PrivateMessageMsg) {
	sess, ok := g.deps.Relay.Lookup(connID)
	if !ok {
		return
	}
	if m.To == "" {
		g.reject(connID, CodeInvalidRecipient, "recipient is required")
		return
	}
	if !g.admitContent(connID, sess.Username, "", m.Body, m.Attachment) {
		return
	}

	msg, err := g.deps.Relay.SendPrivateMessage(connID, m.To, m.Body, m.Attachment)
	if errors.Is(err, relay.ErrNotJoined) {
		return
	}
	if err != nil {
		g.log.Error().Err(err).Str("session", connID).Msg("private message failed")
		return
	}
	if g.deps.Tap != nil {
		if err := g.deps.Tap.PublishPrivateMessage(msg); err != nil {
			g.log.Warn().Err(err).Str("session", connID).Msg("tap publish failed")
		}
	}
}

func (g *Gateway) addReaction(connID string, m protocol.AddReactionMsg) {
	if _, ok := g.deps.Relay.Lookup(connID); !ok {
		return
	}
	if err := chat.ValidateEmoji(m.Emoji); err != nil {
		g.reject(connID, CodeInvalidEmoji, err.Error())
		return
	}
	if g.muted(connID) || !g.allow(connID) {
		return
	}
	g.deps.Relay.AddReaction(connID, m.MessageID, m.Emoji, m.Room)
}

func (g *Gateway) requestHistory(connID string, m protocol.RequestHistoryMsg) {
	err := g.deps.Relay.RequestHistory(connID, m.Room, m.Before, m.Limit)
	if err != nil && !errors.Is(err, relay.ErrNotJoined) {
		g.reject(connID, CodeUnknownRoom, "unknown room")
	}
}

func (g *Gateway) reportMessage(connID string, m protocol.ReportMessageMsg) {
	if _, ok := g.deps.Relay.Lookup(connID); !ok {
		return
	}
	if !report.ValidReason(m.Reason) {
		g.reject(connID, CodeInvalidReason, "invalid report reason")
		return
	}
	if g.deps.Reports == nil {
		g.sendError(connID, CodeReportsUnavailable, "reports are not enabled")
		return
	}

	snap, err := g.deps.Relay.SnapshotReport(connID, m.Room, m.MessageID)
	if err != nil {
		g.reject(connID, CodeUnknownMessage, "unknown message")
		return
	}

	ctx, cancel := g.ioContext()
	defer cancel()
	err = g.deps.Reports.Create(ctx, &report.Report{
		ReporterID:   connID,
		ReporterName: snap.Reporter.Username,
		Room:         snap.Message.Room,
		MessageID:    snap.Message.ID,
		SenderID:     snap.Message.SenderID,
		SenderName:   snap.Message.Sender,
		Body:         snap.Message.Body,
		Reason:       m.Reason,
		Context:      report.Entries(snap.Context),
	})
	if err != nil {
		g.log.Error().Err(err).Str("session", connID).Msg("store report failed")
		g.sendError(connID, CodeInternal, "report could not be stored")
		return
	}
	metrics.ReportsTotal.Inc()
	g.deps.Relay.Reply(connID, protocol.TypeReportReceived, protocol.ReportReceivedMsg{MessageID: snap.Message.ID})
	g.log.Info().Str("session", connID).Str("message", snap.Message.ID).Str("reason", m.Reason).Msg("message reported")

	// A report counts against the sender while they are connected.
	if sender := snap.Message.SenderID; sender != connID {
		if identity := g.identity(sender); identity != "" {
			g.strike(ctx, sender, identity, "reported")
		}
	}
}

// admitContent runs the mute, rate limit, validation and moderation checks
// shared by room and private messages. It replies to connID and returns
// false when the message must not be relayed.
func (g *Gateway) admitContent(connID, username, roomName, body string, att *chat.Attachment) bool {
	if g.muted(connID) || !g.allow(connID) {
		return false
	}
	if err := chat.ValidateMessage(body, att, g.opts.MaxAttachmentBytes); err != nil {
		g.reject(connID, CodeInvalidMessage, err.Error())
		return false
	}
	if g.deps.Filter != nil && body != "" {
		if res := g.deps.Filter.Check(body); res.Blocked {
			g.blocked(connID, username, roomName, res)
			return false
		}
	}
	return true
}

// muted reports whether connID's client address is muted, telling the
// client so. Backend errors fail open.
func (g *Gateway) muted(connID string) bool {
	if g.deps.Strikes == nil {
		return false
	}
	identity := g.identity(connID)
	if identity == "" {
		return false
	}
	ctx, cancel := g.ioContext()
	defer cancel()

	banned, remaining, reason, err := g.deps.Strikes.IsBanned(ctx, identity)
	if err != nil {
		g.log.Warn().Err(err).Str("session", connID).Msg("ban check failed")
		return false
	}
	if !banned {
		return false
	}
	metrics.RejectedTotal.WithLabelValues("banned").Inc()
	g.deps.Relay.Reply(connID, protocol.TypeBanned, protocol.BannedMsg{Duration: remaining, Reason: reason})
	return true
}

func (g *Gateway) allow(connID string) bool {
	if g.deps.Limiter == nil {
		return true
	}
	ctx, cancel := g.ioContext()
	defer cancel()

	ok, retryAfter := g.deps.Limiter.Allow(ctx, connID)
	if ok {
		return true
	}
	metrics.RejectedTotal.WithLabelValues("rate_limited").Inc()
	g.deps.Relay.Reply(connID, protocol.TypeRateLimited, protocol.RateLimitedMsg{
		RetryAfter: int((retryAfter + time.Second - 1) / time.Second),
	})
	return false
}

// blocked rejects content the filter flagged, records a strike and taps the
// violation.
func (g *Gateway) blocked(connID, username, roomName string, res moderation.FilterResult) {
	metrics.RejectedTotal.WithLabelValues("blocked").Inc()
	g.sendError(connID, CodeContentBlocked, res.Message)
	g.log.Info().Str("session", connID).Str("reason", res.Reason).Str("term", res.Term).Msg("content blocked")

	ctx, cancel := g.ioContext()
	defer cancel()

	strikes := 0
	if identity := g.identity(connID); identity != "" {
		strikes = g.strike(ctx, connID, identity, res.Reason)
	}
	if g.deps.Tap != nil {
		v := moderation.NewViolation(connID, username, roomName, res, strikes, g.now().UnixMilli())
		if err := g.deps.Tap.PublishViolation(v); err != nil {
			g.log.Warn().Err(err).Str("session", connID).Msg("violation publish failed")
		}
	}
}

// strike records an offense for connID and tells it when it got muted. It
// returns the strike count, 0 when strikes are disabled or failed.
func (g *Gateway) strike(ctx context.Context, connID, identity, reason string) int {
	if g.deps.Strikes == nil {
		return 0
	}
	v, err := g.deps.Strikes.Strike(ctx, identity, reason)
	if err != nil {
		g.log.Warn().Err(err).Str("session", connID).Msg("strike failed")
		return 0
	}
	if v.Banned {
		g.deps.Relay.Reply(connID, protocol.TypeBanned, protocol.BannedMsg{
			Duration: int(v.Duration / time.Second),
			Reason:   reason,
		})
		g.log.Info().Str("session", connID).Int("strikes", v.Strikes).Dur("duration", v.Duration).Msg("client muted")
	}
	return v.Strikes
}

func (g *Gateway) identity(connID string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.identities[connID]
}

func (g *Gateway) reject(connID, code, message string) {
	metrics.RejectedTotal.WithLabelValues("invalid").Inc()
	g.sendError(connID, code, message)
}

func (g *Gateway) sendError(connID, code, message string) {
	g.deps.Relay.Reply(connID, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
}

func (g *Gateway) ioContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), g.opts.IOTimeout)
}
