// Package netpoll implements the reactor's readiness multiplexer: an epoll
// wrapper plus an event loop that classifies ready descriptors into listen,
// notify, and timer tokens and dispatches them to a Handler in that order.
package netpoll

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Readiness is the set of events observed on a descriptor.
type Readiness uint32

const (
	EventRead  Readiness = unix.EPOLLIN
	EventWrite Readiness = unix.EPOLLOUT
	EventError Readiness = unix.EPOLLERR
	EventHup   Readiness = unix.EPOLLHUP
)

func (r Readiness) Readable() bool { return r&EventRead != 0 }
func (r Readiness) Writable() bool { return r&EventWrite != 0 }
func (r Readiness) Error() bool    { return r&EventError != 0 }
func (r Readiness) Hup() bool      { return r&EventHup != 0 }

const initialEventBuf = 256

// Poller wraps an epoll instance. Its mutex guards only the event buffer and
// is released before the blocking EpollWait call; registrations go straight
// to epoll_ctl without taking it, so they never contend with an in-flight
// wait. The descriptor-to-token map lives in EventLoop, not here.
type Poller struct {
	mu       sync.Mutex
	epfd     int
	eventBuf []unix.EpollEvent
}

// NewPoller creates an epoll instance.
func NewPoller() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("netpoll: epoll_create1: %w", err)
	}
	return &Poller{epfd: epfd, eventBuf: make([]unix.EpollEvent, initialEventBuf)}, nil
}

// Register adds fd to the interest set.
func (p *Poller) Register(fd int, events Readiness) error {
	ev := unix.EpollEvent{Events: uint32(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("netpoll: epoll_ctl add %d: %w", fd, err)
	}
	return nil
}

// Modify updates the interest set for fd.
func (p *Poller) Modify(fd int, events Readiness) error {
	ev := unix.EpollEvent{Events: uint32(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("netpoll: epoll_ctl mod %d: %w", fd, err)
	}
	return nil
}

// Deregister removes fd from the interest set.
func (p *Poller) Deregister(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("netpoll: epoll_ctl del %d: %w", fd, err)
	}
	return nil
}

// ReadyEvent is one classified readiness observation.
type ReadyEvent struct {
	FD        int
	Readiness Readiness
}

// Wait blocks (indefinitely if timeoutMS < 0) and returns the events that
// became ready. It grows the internal event buffer when a wait fills it, and
// retries transparently on EINTR.
func (p *Poller) Wait(timeoutMS int) ([]ReadyEvent, error) {
	p.mu.Lock()
	epfd := p.epfd
	buf := p.eventBuf
	p.mu.Unlock()

	var n int
	var err error
	for {
		n, err = unix.EpollWait(epfd, buf, timeoutMS)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("netpoll: epoll_wait: %w", err)
		}
		break
	}

	out := make([]ReadyEvent, n)
	for i := 0; i < n; i++ {
		out[i] = ReadyEvent{FD: int(buf[i].Fd), Readiness: Readiness(buf[i].Events)}
	}

	if n == len(buf) {
		p.mu.Lock()
		p.eventBuf = make([]unix.EpollEvent, len(buf)*2)
		p.mu.Unlock()
	}
	return out, nil
}

// Close releases the epoll descriptor.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}
