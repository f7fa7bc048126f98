package filelock

import (
	"path/filepath"
	"testing"
)

func TestExclusiveThenSharedFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "target")

	a := New(path)
	if err := a.LockExclusive(); err != nil {
		t.Fatalf("LockExclusive: %v", err)
	}
	defer a.Unlock()

	b := New(path)
	if err := b.LockShared(); err == nil {
		t.Fatalf("expected shared lock to fail while exclusive is held")
	}
}

func TestUnlockReleases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "target")

	a := New(path)
	if err := a.LockExclusive(); err != nil {
		t.Fatalf("LockExclusive: %v", err)
	}
	if err := a.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	b := New(path)
	if err := b.LockExclusive(); err != nil {
		t.Fatalf("expected exclusive lock to succeed after release: %v", err)
	}
	b.Unlock()
}
