// Package workerpool implements the bounded, dynamically expanding pool of
// goroutines that execute session command handlers off the reactor thread.
package workerpool

import (
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"miniftpd/internal/workqueue"
)

type msgKind int

const (
	job msgKind = iota
	terminate
)

type message struct {
	kind msgKind
	fn   func()
}

// Pool is a dynamically sized worker pool. CoreSize workers run at steady
// state; the pool grows by CoreSize additional workers whenever the queue
// length reaches CoreSize and the pool has not yet reached MaxSize. Workers
// are never shrunk; excess capacity is reclaimed only on Close.
type Pool struct {
	CoreSize int
	MaxSize  int

	mu     sync.Mutex
	queue  *workqueue.Queue[message]
	group  *errgroup.Group
	size   int
	closed bool
}

// New creates a Pool. A coreSize <= 0 defaults to runtime.NumCPU().
func New(coreSize int) *Pool {
	if coreSize <= 0 {
		coreSize = runtime.NumCPU()
	}
	p := &Pool{
		CoreSize: coreSize,
		MaxSize:  coreSize * 8,
		queue:    workqueue.New[message](),
		group:    &errgroup.Group{},
	}
	p.spawn(coreSize)
	return p
}

func (p *Pool) spawn(n int) {
	for i := 0; i < n; i++ {
		p.group.Go(p.workerLoop)
	}
	p.mu.Lock()
	p.size += n
	p.mu.Unlock()
}

func (p *Pool) workerLoop() error {
	for {
		m, ok := p.queue.PopFront()
		if !ok {
			return nil
		}
		if m.kind == terminate {
			return nil
		}
		runJob(m.fn)
	}
}

// runJob executes fn, recovering a panic so that a single session handler's
// bug cannot take down the worker that happened to own it.
func runJob(fn func()) {
	defer func() { recover() }()
	fn()
}

// Submit enqueues fn for execution by some worker, growing the pool first
// if the queue has backed up to CoreSize items and MaxSize has not been
// reached.
func (p *Pool) Submit(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if p.queue.Len() >= p.CoreSize && p.size < p.MaxSize {
		for i := 0; i < p.CoreSize; i++ {
			p.group.Go(p.workerLoop)
		}
		p.size += p.CoreSize
		p.queue.NotifyAll()
	}
	p.queue.PushBack(message{kind: job, fn: fn})
}

// Close sends one Terminate per live worker and waits for all of them to
// exit.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	n := p.size
	p.mu.Unlock()

	for i := 0; i < n; i++ {
		p.queue.PushBack(message{kind: terminate})
	}
	return p.group.Wait()
}
