//go:build !linux

package ws

import (
	"bufio"
	"net"
	"sync"
)

// peekConn reads through a buffer so the monitor goroutine can wait for data
// without consuming it.
type peekConn struct {
	net.Conn
	r     *bufio.Reader
	rearm chan struct{}
}

func (p *peekConn) Read(b []byte) (int, error) {
	return p.r.Read(b)
}

// Epoll provides a goroutine-per-connection fallback for non-Linux platforms
// so the server runs on macOS and Windows without the epoll optimization.
type Epoll struct {
	mu      sync.RWMutex
	conns   map[net.Conn]struct{}
	readyCh chan net.Conn // connections with pending data
	done    chan struct{}
	once    sync.Once
}

// NewEpoll creates a new fallback epoll instance.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		conns:   make(map[net.Conn]struct{}),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// Wrap returns a buffered connection the server must read frames from.
func (e *Epoll) Wrap(conn net.Conn) net.Conn {
	if pc, ok := conn.(*peekConn); ok {
		return pc
	}
	return &peekConn{Conn: conn, r: bufio.NewReader(conn), rearm: make(chan struct{}, 1)}
}

// Add registers a connection by spawning a goroutine that reports it ready
// whenever buffered data is available.
func (e *Epoll) Add(conn net.Conn) error {
	pc := e.Wrap(conn).(*peekConn)
	e.mu.Lock()
	e.conns[pc] = struct{}{}
	e.mu.Unlock()

	go e.monitor(pc)
	return nil
}

// monitor peeks for data, reports readiness and then waits for Rearm before
// peeking again. A read error is reported once so the server's read path can
// detect the closure.
func (e *Epoll) monitor(pc *peekConn) {
	for {
		_, err := pc.r.Peek(1)

		select {
		case e.readyCh <- pc:
		case <-e.done:
			return
		}
		if err != nil {
			return
		}

		select {
		case <-pc.rearm:
		case <-e.done:
			return
		}
		if !e.registered(pc) {
			return
		}
	}
}

func (e *Epoll) registered(conn net.Conn) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.conns[conn]
	return ok
}

// Rearm lets the monitor report conn again once the server finished reading.
func (e *Epoll) Rearm(conn net.Conn) {
	pc, ok := conn.(*peekConn)
	if !ok {
		return
	}
	select {
	case pc.rearm <- struct{}{}:
	default:
	}
}

// Remove unregisters a connection from the fallback epoll.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	delete(e.conns, conn)
	e.mu.Unlock()
	e.Rearm(conn)
	return nil
}

// Wait blocks until at least one connection is ready for reading. It
// collects all currently ready connections from the channel and returns them.
func (e *Epoll) Wait() ([]net.Conn, error) {
	var first net.Conn
	select {
	case first = <-e.readyCh:
	case <-e.done:
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}
	for {
		select {
		case conn := <-e.readyCh:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Close shuts down the fallback epoll instance.
func (e *Epoll) Close() error {
	e.once.Do(func() { close(e.done) })
	e.mu.Lock()
	e.conns = make(map[net.Conn]struct{})
	e.mu.Unlock()
	return nil
}

// socketFD is unused on non-Linux platforms.
func socketFD(net.Conn) int {
	return -1
}
