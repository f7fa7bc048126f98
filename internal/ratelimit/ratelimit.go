// Package ratelimit provides a stdlib-only throughput shaper for bandwidth
// throttling in FTP transfers.
//
// This package is used internally by the server to limit transfer speeds
// and prevent a single session from saturating the link.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter shapes throughput by comparing, after each call, the elapsed wall
// time since the previous observation to the ideal time the bytes just
// emitted should have taken at the configured rate. If real time ran ahead
// of ideal time, it sleeps the difference. The reference timestamp resets
// at the end of every call, so the limiter tracks the instantaneous rate
// rather than accumulating a burst allowance.
type Limiter struct {
	rate float64 // bytes per second
	mu   sync.Mutex
	last time.Time
}

// New creates a new rate limiter with the specified bytes per second limit.
// A non-positive bytesPerSecond disables shaping (New returns nil, and
// Observe on a nil *Limiter is a no-op).
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	return &Limiter{rate: float64(bytesPerSecond), last: time.Now()}
}

// Observe accounts for n bytes just transferred (e.g. after a sendfile(2)
// call or a buffered read/write), sleeping if the transfer outran the
// configured rate, then resets the reference timestamp. Safe to call on a
// nil Limiter (no shaping).
func (rl *Limiter) Observe(n int) {
	rl.observe(n)
}

// observe accounts for n bytes just transferred, sleeping if the transfer
// outran the configured rate, then resets the reference timestamp.
func (rl *Limiter) observe(n int) {
	if rl == nil || n <= 0 {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	real := now.Sub(rl.last)
	ideal := time.Duration(float64(n) / rl.rate * float64(time.Second))
	if ideal > real {
		time.Sleep(ideal - real)
	}
	rl.last = time.Now()
}
