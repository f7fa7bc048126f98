package server

import (
	"fmt"
	"time"

	"miniftpd/internal/ratelimit"
)

// Option configures a Server at construction time.
type Option func(*Server) error

// WithLogger installs a structured logger. If not supplied, New installs a
// logrus.StandardLogger().
func WithLogger(l logger) Option {
	return func(s *Server) error {
		if l == nil {
			return fmt.Errorf("server: WithLogger: nil logger")
		}
		s.log = l
		return nil
	}
}

// WithMetrics installs a MetricsCollector. Every call site checks for a nil
// collector before using it, so this option is not required.
func WithMetrics(m MetricsCollector) Option {
	return func(s *Server) error {
		s.metrics = m
		return nil
	}
}

// WithMaxClients caps the number of simultaneously admitted sessions. A
// value of 0 (the default) means unlimited.
func WithMaxClients(n int) Option {
	return func(s *Server) error {
		if n < 0 {
			return fmt.Errorf("server: WithMaxClients: negative limit %d", n)
		}
		s.maxClients = n
		return nil
	}
}

// WithMaxSpeed installs a global transfer rate limit in bytes per second.
// A value <= 0 (the default) means unlimited.
func WithMaxSpeed(bytesPerSecond int64) Option {
	return func(s *Server) error {
		s.globalLimiter = ratelimit.New(bytesPerSecond)
		return nil
	}
}

// WithIdleTimeout overrides the default 90s idle-session timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) error {
		if d <= 0 {
			return fmt.Errorf("server: WithIdleTimeout: non-positive duration %s", d)
		}
		s.idleTimeout = d
		return nil
	}
}

// WithSweepInterval overrides the default 5s idle-sweep timer interval.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Server) error {
		if d <= 0 {
			return fmt.Errorf("server: WithSweepInterval: non-positive duration %s", d)
		}
		s.sweepInterval = d
		return nil
	}
}

// WithPassive enables PASV and sets the ephemeral port range sessions are
// assigned from, round-robin.
func WithPassive(enable bool, minPort, maxPort uint16) Option {
	return func(s *Server) error {
		if enable && minPort > maxPort {
			return fmt.Errorf("server: WithPassive: min port %d > max port %d", minPort, maxPort)
		}
		s.pasvEnable = enable
		s.pasvMin = minPort
		s.pasvMax = maxPort
		return nil
	}
}

// WithCoreWorkers overrides the worker pool's core size (default
// runtime.NumCPU()).
func WithCoreWorkers(n int) Option {
	return func(s *Server) error {
		if n <= 0 {
			return fmt.Errorf("server: WithCoreWorkers: non-positive size %d", n)
		}
		s.coreWorkers = n
		return nil
	}
}
