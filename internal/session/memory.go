package session

import (
	"context"
	"sync"
	"time"

	"github.com/allopze/cloudbox-wopi/internal/model"
)

// MemoryLocker implements Locker in process memory. It serializes work per
// file id, so it is only correct when a single process serves all requests.
type MemoryLocker struct {
	keys  keyedMutex
	locks sync.Map // file id -> *model.Lock
	ttl   time.Duration
	now   func() time.Time
}

// NewMemoryLocker creates a MemoryLocker. A non-positive ttl selects DefaultTimeout.
func NewMemoryLocker(ttl time.Duration) *MemoryLocker {
	return &MemoryLocker{
		keys: keyedMutex{locks: make(map[string]*refMutex)},
		ttl:  normalizeTimeout(ttl),
		now:  time.Now,
	}
}

// current returns the active lock, dropping an expired one. Callers hold the key.
func (m *MemoryLocker) current(fileID string, now time.Time) *model.Lock {
	v, ok := m.locks.Load(fileID)
	if !ok {
		return nil
	}
	l := v.(*model.Lock)
	if !l.Active(now) {
		m.locks.Delete(fileID)
		return nil
	}
	return l
}

func (m *MemoryLocker) store(l *model.Lock) *model.Lock {
	m.locks.Store(l.FileID, l)
	cp := *l
	return &cp
}

func (m *MemoryLocker) Lock(ctx context.Context, fileID, token, userID string) (*model.Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := m.keys.lock(fileID)
	defer unlock()

	now := m.now()
	next, err := acquireTransition(m.current(fileID, now), fileID, token, userID, now, m.ttl)
	if err != nil {
		return nil, err
	}
	return m.store(next), nil
}

func (m *MemoryLocker) RefreshLock(ctx context.Context, fileID, token string) (*model.Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := m.keys.lock(fileID)
	defer unlock()

	now := m.now()
	next, err := refreshTransition(m.current(fileID, now), token, now, m.ttl)
	if err != nil {
		return nil, err
	}
	return m.store(next), nil
}

func (m *MemoryLocker) Unlock(ctx context.Context, fileID, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := m.keys.lock(fileID)
	defer unlock()

	now := m.now()
	if err := checkHeld(m.current(fileID, now), token, now); err != nil {
		return err
	}
	m.locks.Delete(fileID)
	return nil
}

func (m *MemoryLocker) GetLock(ctx context.Context, fileID string) (*model.Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := m.keys.lock(fileID)
	defer unlock()

	l := m.current(fileID, m.now())
	if l == nil {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (m *MemoryLocker) UnlockAndRelock(ctx context.Context, fileID, oldToken, newToken, userID string) (*model.Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := m.keys.lock(fileID)
	defer unlock()

	now := m.now()
	next, err := relockTransition(m.current(fileID, now), fileID, oldToken, newToken, userID, now, m.ttl)
	if err != nil {
		return nil, err
	}
	return m.store(next), nil
}

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
