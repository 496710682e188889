//go:build linux

package ws

import (
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// eventBatchSize bounds how many readiness events a single Wait call can
// collect. Signaling connections are chatty in short bursts (candidate
// trickle) but mostly idle, so a modest batch keeps latency low without a
// large reusable buffer.
const eventBatchSize = 256

// Epoll multiplexes read readiness for every signaling connection through a
// single kernel epoll instance, so the server needs workers only for
// connections that actually have data instead of a goroutine per socket.
type Epoll struct {
	fd     int
	mu     sync.RWMutex
	byFd   map[int]net.Conn
	events []unix.EpollEvent
}

// NewEpoll creates the epoll instance.
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &Epoll{
		fd:     fd,
		byFd:   make(map[int]net.Conn),
		events: make([]unix.EpollEvent, eventBatchSize),
	}, nil
}

// Add puts the connection's descriptor on the interest list for read and
// hangup events and records the fd-to-connection mapping used by Wait.
func (e *Epoll) Add(conn net.Conn) error {
	fd := socketFD(conn)
	event := &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLHUP,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(e.fd, syscall.EPOLL_CTL_ADD, fd, event); err != nil {
		return err
	}

	e.mu.Lock()
	e.byFd[fd] = conn
	e.mu.Unlock()
	return nil
}

// Remove drops the connection from the interest list and the fd map.
func (e *Epoll) Remove(conn net.Conn) error {
	fd := socketFD(conn)
	if err := unix.EpollCtl(e.fd, syscall.EPOLL_CTL_DEL, fd, nil); err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.byFd, fd)
	e.mu.Unlock()
	return nil
}

// Wait blocks until at least one registered connection is readable and
// returns the connections with pending data. An fd that was removed between
// the kernel wakeup and the map lookup is skipped.
func (e *Epoll) Wait() ([]net.Conn, error) {
	n, err := unix.EpollWait(e.fd, e.events, -1)
	if err != nil {
		return nil, err
	}

	ready := make([]net.Conn, 0, n)
	e.mu.RLock()
	for i := 0; i < n; i++ {
		if conn, ok := e.byFd[int(e.events[i].Fd)]; ok {
			ready = append(ready, conn)
		}
	}
	e.mu.RUnlock()
	return ready, nil
}

// Close releases the epoll descriptor. Registered connections are not
// closed; the server owns their lifecycle.
func (e *Epoll) Close() error {
	e.mu.Lock()
	e.byFd = nil
	e.mu.Unlock()
	return unix.Close(e.fd)
}

// socketFD pulls the raw descriptor out of a net.Conn via SyscallConn.
// Unlike File(), this does not dup the descriptor, so the fd registered with
// epoll stays the one the connection reads on.
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
	_ = raw.Control(func(sfd uintptr) {
		fd = int(sfd)
	})
	return fd
}
