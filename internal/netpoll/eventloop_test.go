package netpoll

import (
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

type recordingHandler struct {
	mu      sync.Mutex
	ready   []int
	notify  []int
	timerFD int
	loop    *EventLoop
	done    chan struct{}
}

func (h *recordingHandler) Ready(fd int) {
	h.mu.Lock()
	h.ready = append(h.ready, fd)
	h.mu.Unlock()
}

func (h *recordingHandler) Notify(fd int, kind TokenKind, r Readiness) {
	h.mu.Lock()
	h.notify = append(h.notify, fd)
	h.mu.Unlock()
	if kind == Timer {
		DrainTimer(fd)
	}
	close(h.done)
	h.loop.Stop()
}

func TestEventLoopClassifiesNotify(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	loop, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer loop.Close()

	if err := loop.AddConn(fds[0]); err != nil {
		t.Fatalf("AddConn: %v", err)
	}

	h := &recordingHandler{loop: loop, done: make(chan struct{})}

	go func() {
		time.Sleep(10 * time.Millisecond)
		unix.Write(fds[1], []byte("hi"))
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- loop.Run(h) }()

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for notify")
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Run: %v", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.notify) != 1 || h.notify[0] != fds[0] {
		t.Fatalf("notify = %v, want [%d]", h.notify, fds[0])
	}
}

func TestIntervalTimerFires(t *testing.T) {
	fd, err := NewIntervalTimer(20 * time.Millisecond)
	if err != nil {
		t.Fatalf("NewIntervalTimer: %v", err)
	}
	defer unix.Close(fd)

	loop, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer loop.Close()
	if err := loop.AddTimer(fd); err != nil {
		t.Fatalf("AddTimer: %v", err)
	}

	h := &recordingHandler{loop: loop, done: make(chan struct{})}
	errCh := make(chan error, 1)
	go func() { errCh <- loop.Run(h) }()

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timer never fired")
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Run: %v", err)
	}
}
