package session

import (
	"context"
	"errors"
	"time"

	"github.com/allopze/cloudbox-wopi/internal/model"
)

// DefaultTimeout is how long a lock survives without a refresh.
const DefaultTimeout = 30 * time.Minute

var (
	// ErrLockMismatch means the file is locked with a different token.
	ErrLockMismatch = errors.New("lock mismatch")

	// ErrLockNotFound means the file holds no active lock.
	ErrLockNotFound = errors.New("file not locked")
)

// ConflictError is returned when a lock operation loses against the current
// lock state. Current carries the active lock token, "" when there is none.
type ConflictError struct {
	Err     error
	Current string
}

func (e *ConflictError) Error() string {
	return e.Err.Error()
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// Reason is the human readable failure reason sent back to WOPI clients.
func (e *ConflictError) Reason() string {
	if errors.Is(e.Err, ErrLockNotFound) {
		return "File not locked"
	}
	return "Lock mismatch"
}

// Locker manages exclusive WOPI locks keyed by file id.
// Every operation on one file id is linearizable; operations on different
// file ids are independent. Expired locks behave exactly like absent ones.
type Locker interface {
	// Lock acquires the lock, or refreshes it when token already holds it.
	Lock(ctx context.Context, fileID, token, userID string) (*model.Lock, error)

	// RefreshLock extends a lock held by token.
	RefreshLock(ctx context.Context, fileID, token string) (*model.Lock, error)

	// Unlock releases a lock held by token.
	Unlock(ctx context.Context, fileID, token string) error

	// GetLock returns the active lock or nil. It never extends the lock.
	GetLock(ctx context.Context, fileID string) (*model.Lock, error)

	// UnlockAndRelock atomically swaps oldToken for newToken.
	UnlockAndRelock(ctx context.Context, fileID, oldToken, newToken, userID string) (*model.Lock, error)
}

// The transition functions below are the lock state machine shared by the
// backends that perform their own read-modify-write. They never mutate cur.

func newLock(fileID, token, userID string, now time.Time, ttl time.Duration) *model.Lock {
	return &model.Lock{
		FileID:      fileID,
		Token:       token,
		UserID:      userID,
		RefreshedAt: now,
		ExpiresAt:   now.Add(ttl).UnixMilli(),
	}
}

func activeOrNil(cur *model.Lock, now time.Time) *model.Lock {
	if cur == nil || !cur.Active(now) {
		return nil
	}
	return cur
}

// checkHeld verifies that token holds the active lock.
func checkHeld(cur *model.Lock, token string, now time.Time) error {
	cur = activeOrNil(cur, now)
	if cur == nil {
		return &ConflictError{Err: ErrLockNotFound}
	}
	if cur.Token != token {
		return &ConflictError{Err: ErrLockMismatch, Current: cur.Token}
	}
	return nil
}

func acquireTransition(cur *model.Lock, fileID, token, userID string, now time.Time, ttl time.Duration) (*model.Lock, error) {
	if cur = activeOrNil(cur, now); cur != nil && cur.Token != token {
		return nil, &ConflictError{Err: ErrLockMismatch, Current: cur.Token}
	}
	return newLock(fileID, token, userID, now, ttl), nil
}

func refreshTransition(cur *model.Lock, token string, now time.Time, ttl time.Duration) (*model.Lock, error) {
	if err := checkHeld(cur, token, now); err != nil {
		return nil, err
	}
	return newLock(cur.FileID, cur.Token, cur.UserID, now, ttl), nil
}

func relockTransition(cur *model.Lock, fileID, oldToken, newToken, userID string, now time.Time, ttl time.Duration) (*model.Lock, error) {
	if err := checkHeld(cur, oldToken, now); err != nil {
		return nil, err
	}
	return newLock(fileID, newToken, userID, now, ttl), nil
}

func normalizeTimeout(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTimeout
	}
	return ttl
}
