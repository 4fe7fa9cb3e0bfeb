// Package ws handles WebSocket connection management: upgrading HTTP
// connections, tracking active connections, reading frames through epoll and
// writing frames through one queue per connection.
package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parley/relay/internal/metrics"
	"github.com/parley/relay/internal/protocol"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for WebSocket read operations
	WriteTimeout   time.Duration // timeout for WebSocket write operations
	SendQueueSize  int           // outbound frames buffered per connection
	MaxFrameBytes  int64         // larger data frames are discarded
	Heartbeat      HeartbeatConfig
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		SendQueueSize:  256,
		MaxFrameBytes:  1 << 20,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Server is the WebSocket server built on gobwas/ws and Linux epoll. It
// upgrades HTTP connections to WebSocket, registers them with an epoll
// instance for read readiness notifications, and dispatches ready
// connections to a bounded worker pool for frame reading.
type Server struct {
	config       ServerConfig
	log          zerolog.Logger
	epoll        *Epoll
	conns        *ConnectionManager
	workerPool   chan struct{}                       // semaphore limiting concurrent read workers
	onMessage    func(conn *Connection, data []byte) // message handler callback
	onConnect    func(conn *Connection)              // called after a connection is registered
	onDisconnect func(connID string)                 // called when a connection is removed
	admit        func(r *http.Request, remoteAddr string) bool
	done         chan struct{}
	stopOnce     sync.Once
	startedAt    time.Time
}

// NewServer creates a Server with the given configuration and message
// callback. The onMessage function is called from a worker goroutine
// whenever a complete WebSocket text frame is received from a client.
func NewServer(config ServerConfig, log zerolog.Logger, onMessage func(conn *Connection, data []byte)) *Server {
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 1
	}
	if config.Heartbeat.Interval <= 0 {
		config.Heartbeat = DefaultHeartbeatConfig()
	}
	return &Server{
		config:     config,
		log:        log.With().Str("component", "ws").Logger(),
		conns:      NewConnectionManager(),
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		onMessage:  onMessage,
		done:       make(chan struct{}),
	}
}

// SetOnConnect registers a callback invoked once a new connection is ready to
// receive frames.
func (s *Server) SetOnConnect(fn func(conn *Connection)) {
	s.onConnect = fn
}

// SetOnDisconnect registers a callback invoked when a connection is removed
// (due to read error, heartbeat timeout, or graceful close).
func (s *Server) SetOnDisconnect(fn func(connID string)) {
	s.onDisconnect = fn
}

// SetAdmit registers a check run before upgrading. Returning false rejects
// the request with 429.
func (s *Server) SetAdmit(fn func(r *http.Request, remoteAddr string) bool) {
	s.admit = fn
}

// Start initializes the epoll instance and starts the event loop and the
// heartbeat monitor in the background. Upgrades are served by ServeHTTP.
func (s *Server) Start() error {
	var err error
	s.epoll, err = NewEpoll()
	if err != nil {
		return fmt.Errorf("ws: failed to create epoll: %w", err)
	}
	s.startedAt = time.Now()

	go s.startEventLoop()
	s.startHeartbeat(s.config.Heartbeat)

	s.log.Info().
		Int("workers", s.config.WorkerPoolSize).
		Int("max_conns", s.config.MaxConnections).
		Msg("server started")
	return nil
}

// ServeHTTP upgrades an HTTP request to a WebSocket connection using the
// gobwas/ws zero-copy upgrader. On success it creates a Connection, starts
// its writer and registers it with the connection manager and epoll.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.epoll == nil {
		http.Error(w, "server not started", http.StatusServiceUnavailable)
		return
	}
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	remote := RealIP(r)
	if s.admit != nil && !s.admit(r, remote) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Debug().Err(err).Msg("upgrade failed")
		return
	}

	c := NewConnection(uuid.New().String(), s.epoll.Wrap(conn), remote, s.config.SendQueueSize, s.config.WriteTimeout)
	s.conns.Add(c)
	metrics.ConnectionsTotal.Inc()
	go c.writePump(s.writeFailed)

	if s.onConnect != nil {
		s.onConnect(c)
	}

	if err := s.epoll.Add(c.Conn); err != nil {
		s.log.Error().Err(err).Str("session", c.ID).Msg("epoll add failed")
		s.RemoveConnection(c)
		return
	}

	s.log.Info().Str("session", c.ID).Int("fd", c.Fd).Str("remote", remote).
		Int("total", s.conns.Count()).Msg("new connection")
}

func (s *Server) writeFailed(c *Connection, err error) {
	s.log.Debug().Err(err).Str("session", c.ID).Msg("write failed")
	s.RemoveConnection(c)
}

// startEventLoop runs the epoll wait loop. For each batch of ready
// connections, it dispatches each to a worker goroutine (bounded by the
// worker pool semaphore) that reads and processes the WebSocket frame.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.epoll.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				// EINTR is expected during signal handling.
				if !isEINTR(err) {
					s.log.Error().Err(err).Msg("epoll wait error")
				}
				continue
			}
		}

		for _, conn := range conns {
			s.workerPool <- struct{}{}
			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
			}()
		}
	}
}

// handleConn reads a single WebSocket frame from a ready connection using
// wsutil.NextReader so that control frames (ping, pong) are handled without
// blocking on a data frame that may never arrive. If the read fails
// (connection closed, protocol error, etc.) the connection is removed.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}

	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	// Rearm only after the guard is released, or the next report is dropped.
	defer s.epoll.Rearm(netConn)
	defer atomic.StoreInt32(&c.processing, 0)

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// A read timeout means no data was available (stale epoll dispatch).
		// The heartbeat handles dead connections.
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}

	_ = netConn.SetReadDeadline(time.Time{})
	c.Touch()

	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
			return
		}
		// Pong/ping: the connection is alive. Skip the payload.
		if _, err := io.CopyN(io.Discard, reader, header.Length); err != nil {
			s.RemoveConnection(c)
		}
		return
	}

	if s.config.MaxFrameBytes > 0 && header.Length > s.config.MaxFrameBytes {
		if _, err := io.CopyN(io.Discard, reader, header.Length); err != nil {
			s.RemoveConnection(c)
			return
		}
		s.replyError(c, "frame_too_large", "message exceeds the maximum frame size")
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(reader, data); err != nil {
			s.RemoveConnection(c)
			return
		}
	}

	if len(data) == 0 {
		return
	}

	if s.onMessage != nil {
		s.onMessage(c, data)
	}
}

func (s *Server) replyError(c *Connection, code, message string) {
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
	if err != nil {
		return
	}
	_ = c.Enqueue(data)
}

// RemoveConnection removes a connection from both epoll and the connection
// manager, and closes the underlying network connection. Concurrent calls
// for the same connection notify onDisconnect once.
func (s *Server) RemoveConnection(c *Connection) {
	if s.epoll != nil {
		_ = s.epoll.Remove(c.Conn)
	}

	if !s.conns.Remove(c.ID) {
		return
	}

	metrics.ConnectionsTotal.Dec()
	if s.onDisconnect != nil {
		s.onDisconnect(c.ID)
	}

	s.log.Info().Str("session", c.ID).Int("total", s.conns.Count()).Msg("connection closed")
}

// Send queues a text frame for the connection identified by connID. It never
// blocks.
func (s *Server) Send(connID string, data []byte) error {
	c := s.conns.Get(connID)
	if c == nil {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	return c.Enqueue(data)
}

// Connections returns the ConnectionManager.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Uptime returns the time since Start.
func (s *Server) Uptime() time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// Shutdown stops the event loop and the heartbeat and closes every active
// connection, invoking onDisconnect for each. The HTTP listener is owned by
// the caller and should be shut down first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down")
	s.stopOnce.Do(func() { close(s.done) })

	for _, c := range s.conns.All() {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.RemoveConnection(c)
	}

	if s.epoll != nil {
		_ = s.epoll.Close()
	}

	s.log.Info().Msg("server stopped")
	return nil
}

// RealIP extracts the client address from proxy headers or the connection.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// isEINTR checks if the error is a syscall interrupted error (EINTR),
// which is expected during signal handling and should be retried.
func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "interrupted system call" ||
		err.Error() == "errno 4"
}
