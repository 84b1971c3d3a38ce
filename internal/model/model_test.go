package model

import (
	"testing"
	"time"
)

func TestLockActive_MillisecondBoundary(t *testing.T) {
	refreshed := time.UnixMilli(1700000000000).Add(400 * time.Microsecond)
	l := &Lock{RefreshedAt: refreshed, ExpiresAt: refreshed.Add(time.Minute).UnixMilli()}
	expiry := time.UnixMilli(l.ExpiresAt)

	if !l.Active(expiry.Add(-time.Millisecond)) {
		t.Error("expected lock to be active 1ms before expiry")
	}
	if l.Active(expiry) {
		t.Error("expected lock to be expired at its expiry millisecond")
	}
	// Truncation lapses the lock before RefreshedAt+ttl, never after.
	if l.Active(refreshed.Add(time.Minute)) {
		t.Error("expected lock to be expired at RefreshedAt+ttl")
	}
}
