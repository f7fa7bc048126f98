// Package filelock provides scoped advisory whole-file locking: exclusive
// for STOR, shared for RETR, always released on scope exit, including a
// panic unwinding through the caller.
package filelock

import (
	"fmt"

	"github.com/gofrs/flock"
)

// Lock wraps a gofrs/flock.Flock bound to a single path.
type Lock struct {
	fl *flock.Flock
}

// New returns a Lock over path. The underlying file is created if absent.
func New(path string) *Lock {
	return &Lock{fl: flock.New(path)}
}

// LockExclusive acquires a non-blocking exclusive lock, used before STOR
// writes. Returns an error if the lock is already held elsewhere.
func (l *Lock) LockExclusive() error {
	ok, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("filelock: exclusive lock %s: %w", l.fl.Path(), err)
	}
	if !ok {
		return fmt.Errorf("filelock: %s already locked", l.fl.Path())
	}
	return nil
}

// LockShared acquires a non-blocking shared lock, used before RETR reads.
func (l *Lock) LockShared() error {
	ok, err := l.fl.TryRLock()
	if err != nil {
		return fmt.Errorf("filelock: shared lock %s: %w", l.fl.Path(), err)
	}
	if !ok {
		return fmt.Errorf("filelock: %s already exclusively locked", l.fl.Path())
	}
	return nil
}

// Unlock releases the lock. Safe to call from a defer even if locking
// failed or a panic is in flight.
func (l *Lock) Unlock() error {
	return l.fl.Unlock()
}
