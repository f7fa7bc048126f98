package ratelimit

import (
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name           string
		bytesPerSecond int64
		expectNil      bool
	}{
		{"Valid rate", 1024, false},
		{"Zero rate (unlimited)", 0, true},
		{"Negative rate (unlimited)", -1, true},
		{"Very low rate", 1, false},
		{"High rate", 10 * 1024 * 1024, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.bytesPerSecond)
			if tt.expectNil && limiter != nil {
				t.Errorf("Expected nil limiter for rate %d, got non-nil", tt.bytesPerSecond)
			}
			if !tt.expectNil && limiter == nil {
				t.Errorf("Expected non-nil limiter for rate %d, got nil", tt.bytesPerSecond)
			}
		})
	}
}

func TestObserve_NilLimiter(t *testing.T) {
	t.Parallel()
	var limiter *Limiter

	start := time.Now()
	limiter.Observe(10 * 1024 * 1024)
	if time.Since(start) > 50*time.Millisecond {
		t.Error("nil limiter should not sleep")
	}
}

func TestObserve_LargeTransfer(t *testing.T) {
	t.Parallel()
	// 10KB at 5KB/s with no burst allowance should take close to 2 seconds.
	limiter := New(5 * 1024)

	start := time.Now()
	limiter.Observe(10 * 1024)
	duration := time.Since(start)

	if duration < 1*time.Second {
		t.Errorf("large observe completed too quickly (%v), rate limiting may not be working", duration)
	}
	if duration > 4*time.Second {
		t.Errorf("large observe took too long (%v), possible performance issue", duration)
	}
}

func TestObserve_ZeroBytes(t *testing.T) {
	t.Parallel()
	limiter := New(1024)

	start := time.Now()
	limiter.Observe(0)
	if time.Since(start) > 50*time.Millisecond {
		t.Error("observing zero bytes should not sleep")
	}
}
