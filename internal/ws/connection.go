package ws

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

var (
	// ErrQueueFull is returned by Enqueue when the outbound queue is full.
	ErrQueueFull = errors.New("ws: send queue full")
	// ErrConnectionClosed is returned by Enqueue after Close.
	ErrConnectionClosed = errors.New("ws: connection closed")
	// ErrUnknownConnection is returned by Server.Send for unknown ids.
	ErrUnknownConnection = errors.New("ws: connection not found")
)

// Connection represents a single WebSocket client connection. Outbound
// frames go through a bounded FIFO drained by one writer goroutine, so
// frames reach the client in the order they were enqueued.
type Connection struct {
	ID         string    // connection id (UUID)
	Conn       net.Conn  // underlying TCP connection
	Fd         int       // file descriptor, -1 when unavailable
	RemoteAddr string    // client address, used as the ban identity
	CreatedAt  time.Time // when the connection was established

	lastSeen   atomic.Int64 // unix nanos of the last frame read
	processing int32        // atomic flag: 0 = idle, 1 = being read by handleConn

	send         chan []byte
	ping         chan struct{}
	closed       chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
}

// NewConnection wraps conn with an outbound queue of queueSize frames. The
// writer is not started; see Server for the running lifecycle.
func NewConnection(id string, conn net.Conn, remoteAddr string, queueSize int, writeTimeout time.Duration) *Connection {
	if queueSize <= 0 {
		queueSize = 1
	}
	now := time.Now()
	c := &Connection{
		ID:           id,
		Conn:         conn,
		Fd:           socketFD(conn),
		RemoteAddr:   remoteAddr,
		CreatedAt:    now,
		send:         make(chan []byte, queueSize),
		ping:         make(chan struct{}, 1),
		closed:       make(chan struct{}),
		writeTimeout: writeTimeout,
	}
	c.lastSeen.Store(now.UnixNano())
	return c
}

// Enqueue queues a text frame without blocking.
func (c *Connection) Enqueue(data []byte) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

// Ping asks the writer to send a protocol-level ping frame. A ping already
// pending is not duplicated.
func (c *Connection) Ping() {
	select {
	case c.ping <- struct{}{}:
	default:
	}
}

// Touch records activity on the connection.
func (c *Connection) Touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns the time of the last recorded activity.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// Done is closed when the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.closed
}

// writePump drains the outbound queue until the connection closes. onError is
// called once if a write fails.
func (c *Connection) writePump(onError func(*Connection, error)) {
	for {
		select {
		case <-c.closed:
			return
		case data := <-c.send:
			if err := c.write(func() error { return wsutil.WriteServerMessage(c.Conn, ws.OpText, data) }); err != nil {
				onError(c, err)
				return
			}
		case <-c.ping:
			if err := c.write(func() error { return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil)) }); err != nil {
				onError(c, err)
				return
			}
		}
	}
}

func (c *Connection) write(fn func() error) error {
	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return fn()
}

// Close stops the writer and closes the underlying network connection.
// Frames still queued are discarded.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.Conn.Close()
	})
	return err
}

// ConnectionManager is a thread-safe registry that maps connection IDs and
// network connections to their Connection objects.
type ConnectionManager struct {
	mu     sync.RWMutex
	byID   map[string]*Connection   // id -> Connection
	byConn map[net.Conn]*Connection // net.Conn -> Connection (epoll lookups)
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID:   make(map[string]*Connection),
		byConn: make(map[net.Conn]*Connection),
	}
}

// Add registers a new connection in both lookup maps.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.byConn[conn.Conn] = conn
	cm.mu.Unlock()
}

// Remove removes a connection by ID and closes it. Returns true if the
// connection was found and removed, false if it was already gone.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		delete(cm.byConn, conn.Conn)
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Get returns the connection for the given ID, or nil if not found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// GetByConn returns the connection wrapping c, or nil if not found.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	cm.mu.RLock()
	conn := cm.byConn[c]
	cm.mu.RUnlock()
	return conn
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
