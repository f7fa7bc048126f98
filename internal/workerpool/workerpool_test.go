package workerpool

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunsJob(t *testing.T) {
	p := New(2)
	defer p.Close()

	var n int64
	done := make(chan struct{})
	p.Submit(func() {
		atomic.AddInt64(&n, 1)
		close(done)
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("job never ran")
	}
	if atomic.LoadInt64(&n) != 1 {
		t.Fatalf("n = %d", n)
	}
}

func TestPanicIsolatedToWorker(t *testing.T) {
	p := New(2)
	defer p.Close()

	done := make(chan struct{})
	p.Submit(func() { panic("boom") })
	p.Submit(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("pool stopped making progress after a panic")
	}
}

func TestCloseJoinsWorkers(t *testing.T) {
	p := New(1)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
