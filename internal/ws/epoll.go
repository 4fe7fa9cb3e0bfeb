//go:build linux

package ws

import (
	"errors"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// readEvents is the interest set for every registered socket. EPOLLONESHOT
// disarms the fd after each report so exactly one worker owns a connection
// until it calls Rearm.
const readEvents = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLHUP | unix.EPOLLONESHOT

var errNoDescriptor = errors.New("ws: connection has no socket descriptor")

// Epoll multiplexes reads across all client sockets with a single waiter.
type Epoll struct {
	fd     int
	mu     sync.RWMutex
	byFD   map[int]net.Conn
	fds    map[net.Conn]int
	events []unix.EpollEvent
}

// NewEpoll creates an epoll instance.
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Epoll{
		fd:     fd,
		byFD:   make(map[int]net.Conn),
		fds:    make(map[net.Conn]int),
		events: make([]unix.EpollEvent, 128),
	}, nil
}

// Wrap returns the connection the server should read frames from. On Linux
// that is conn itself.
func (e *Epoll) Wrap(conn net.Conn) net.Conn {
	return conn
}

// Add registers conn for a single read-readiness report.
func (e *Epoll) Add(conn net.Conn) error {
	fd := socketFD(conn)
	if fd < 0 {
		return errNoDescriptor
	}
	ev := unix.EpollEvent{Events: readEvents, Fd: int32(fd)}
	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return err
	}

	e.mu.Lock()
	e.byFD[fd] = conn
	e.fds[conn] = fd
	e.mu.Unlock()
	return nil
}

// Rearm re-enables readiness reporting for conn after its frame has been
// handled. Connections removed in the meantime are ignored.
func (e *Epoll) Rearm(conn net.Conn) {
	e.mu.RLock()
	fd, ok := e.fds[conn]
	e.mu.RUnlock()
	if !ok {
		return
	}
	ev := unix.EpollEvent{Events: readEvents, Fd: int32(fd)}
	_ = unix.EpollCtl(e.fd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Remove unregisters conn. Removing an unknown connection is a no-op.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	fd, ok := e.fds[conn]
	if ok {
		delete(e.fds, conn)
		delete(e.byFD, fd)
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks until at least one registered connection is readable.
func (e *Epoll) Wait() ([]net.Conn, error) {
	n, err := unix.EpollWait(e.fd, e.events, -1)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	ready := make([]net.Conn, 0, n)
	for _, ev := range e.events[:n] {
		if conn, ok := e.byFD[int(ev.Fd)]; ok {
			ready = append(ready, conn)
		}
	}
	return ready, nil
}

// Close releases the epoll descriptor. Pending Wait calls return an error.
func (e *Epoll) Close() error {
	e.mu.Lock()
	e.byFD = map[int]net.Conn{}
	e.fds = map[net.Conn]int{}
	e.mu.Unlock()
	return unix.Close(e.fd)
}

// socketFD reads the descriptor behind conn without duplicating it. It
// returns -1 when conn is not backed by a socket.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	if err := raw.Control(func(sfd uintptr) { fd = int(sfd) }); err != nil {
		return -1
	}
	return fd
}
