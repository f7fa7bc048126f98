package netpoll

import (
	"fmt"
	"sync"
)

// TokenKind classifies a registered descriptor for dispatch ordering.
type TokenKind int

const (
	// Listen descriptors are the main listener or a passive data listener.
	Listen TokenKind = iota
	// Notify descriptors are control connections.
	Notify
	// Timer descriptors are periodic timerfds (idle sweep).
	Timer
)

// Handler receives classified readiness callbacks. Ready is invoked for
// Listen tokens, Notify is invoked for both Notify and Timer tokens (with
// Kind indicating which).
type Handler interface {
	Ready(fd int)
	Notify(fd int, kind TokenKind, r Readiness)
}

// EventLoop owns a Poller and the token classification for every registered
// descriptor. It runs on a single goroutine for its lifetime.
type EventLoop struct {
	poller *Poller

	mu     sync.Mutex
	tokens map[int]TokenKind
	run    bool
}

// New creates an EventLoop over a fresh Poller.
func New() (*EventLoop, error) {
	p, err := NewPoller()
	if err != nil {
		return nil, err
	}
	return &EventLoop{poller: p, tokens: make(map[int]TokenKind)}, nil
}

// AddListener registers a listening descriptor.
func (l *EventLoop) AddListener(fd int) error {
	return l.add(fd, Listen, EventRead)
}

// AddConn registers a control or data connection for readiness notification.
func (l *EventLoop) AddConn(fd int) error {
	return l.add(fd, Notify, EventRead|EventError|EventHup)
}

// AddTimer registers a timerfd.
func (l *EventLoop) AddTimer(fd int) error {
	return l.add(fd, Timer, EventRead)
}

func (l *EventLoop) add(fd int, kind TokenKind, events Readiness) error {
	l.mu.Lock()
	l.tokens[fd] = kind
	l.mu.Unlock()
	if err := l.poller.Register(fd, events); err != nil {
		l.mu.Lock()
		delete(l.tokens, fd)
		l.mu.Unlock()
		return err
	}
	return nil
}

// Remove deregisters fd from both the poller and the token table.
func (l *EventLoop) Remove(fd int) error {
	l.mu.Lock()
	_, ok := l.tokens[fd]
	delete(l.tokens, fd)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	return l.poller.Deregister(fd)
}

// Stop requests the loop exit after its current wait returns.
func (l *EventLoop) Stop() {
	l.mu.Lock()
	l.run = false
	l.mu.Unlock()
}

// Run blocks, dispatching readiness to handler until Stop is called. Each
// wake classifies ready descriptors into listen/notify/timer groups and
// dispatches listen first (accept new work before processing readiness),
// then notify, then timer last (so eviction never races a pending notify
// referencing a descriptor about to be closed).
func (l *EventLoop) Run(handler Handler) error {
	l.mu.Lock()
	l.run = true
	l.mu.Unlock()

	for {
		l.mu.Lock()
		running := l.run
		l.mu.Unlock()
		if !running {
			return nil
		}

		// A bounded wait, rather than an indefinite one, keeps Stop's flag
		// check responsive on an otherwise idle loop instead of only being
		// noticed on the next readiness event.
		events, err := l.poller.Wait(1000)
		if err != nil {
			return fmt.Errorf("netpoll: run: %w", err)
		}

		var listens, notifies, timers []ReadyEvent
		l.mu.Lock()
		for _, ev := range events {
			switch l.tokens[ev.FD] {
			case Listen:
				listens = append(listens, ev)
			case Timer:
				timers = append(timers, ev)
			default:
				notifies = append(notifies, ev)
			}
		}
		l.mu.Unlock()

		for _, ev := range listens {
			handler.Ready(ev.FD)
		}
		for _, ev := range notifies {
			handler.Notify(ev.FD, Notify, ev.Readiness)
		}
		for _, ev := range timers {
			handler.Notify(ev.FD, Timer, ev.Readiness)
		}
	}
}

// Close releases the underlying poller.
func (l *EventLoop) Close() error {
	return l.poller.Close()
}
