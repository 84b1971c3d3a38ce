package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/allopze/cloudbox-wopi/internal/model"
)

const (
	badgerKeyPrefix  = "lock/"
	badgerMaxRetries = 10
)

// BadgerLocker implements Locker on an embedded BadgerDB. Locks survive a
// restart of the single host process that owns the database directory.
// Writes to one file id are serialized in process; transaction conflicts can
// then only come from other users of a shared database.
type BadgerLocker struct {
	keys   keyedMutex
	db     *badger.DB
	ttl    time.Duration
	now    func() time.Time
	ownsDB bool
}

// OpenBadgerLocker opens (or creates) a database at path. An empty path
// keeps the database in memory.
func OpenBadgerLocker(path string, ttl time.Duration) (*BadgerLocker, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None) // lock records are tiny

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %q: %w", path, err)
	}
	l := NewBadgerLocker(db, ttl)
	l.ownsDB = true
	return l, nil
}

// NewBadgerLocker uses an already opened database. The caller keeps ownership.
func NewBadgerLocker(db *badger.DB, ttl time.Duration) *BadgerLocker {
	return &BadgerLocker{
		keys: keyedMutex{locks: make(map[string]*refMutex)},
		db:   db,
		ttl:  normalizeTimeout(ttl),
		now:  time.Now,
	}
}

// Close closes the database if it was opened by OpenBadgerLocker.
func (b *BadgerLocker) Close() error {
	if !b.ownsDB {
		return nil
	}
	return b.db.Close()
}

func badgerKey(fileID string) []byte {
	return []byte(badgerKeyPrefix + fileID)
}

func readLock(txn *badger.Txn, fileID string) (*model.Lock, error) {
	item, err := txn.Get(badgerKey(fileID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var l model.Lock
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &l)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode lock: %w", err)
	}
	return &l, nil
}

// mutate runs one read-modify-write transaction, retrying on write conflicts.
// fn returns the next lock, or nil to delete the key.
func (b *BadgerLocker) mutate(ctx context.Context, fileID string, fn func(cur *model.Lock, now time.Time) (*model.Lock, error)) (*model.Lock, error) {
	unlock := b.keys.lock(fileID)
	defer unlock()

	for attempt := 0; attempt < badgerMaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var next *model.Lock
		err := b.db.Update(func(txn *badger.Txn) error {
			cur, err := readLock(txn, fileID)
			if err != nil {
				return err
			}
			next, err = fn(cur, b.now())
			if err != nil {
				return err
			}
			if next == nil {
				return txn.Delete(badgerKey(fileID))
			}
			data, err := json.Marshal(next)
			if err != nil {
				return err
			}
			// Native TTL only reclaims space; a minute of slack keeps it
			// from racing the expiry check.
			return txn.SetEntry(badger.NewEntry(badgerKey(fileID), data).WithTTL(b.ttl + time.Minute))
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return next, nil
	}
	return nil, fmt.Errorf("lock %s: too many transaction conflicts", fileID)
}

func (b *BadgerLocker) Lock(ctx context.Context, fileID, token, userID string) (*model.Lock, error) {
	return b.mutate(ctx, fileID, func(cur *model.Lock, now time.Time) (*model.Lock, error) {
		return acquireTransition(cur, fileID, token, userID, now, b.ttl)
	})
}

func (b *BadgerLocker) RefreshLock(ctx context.Context, fileID, token string) (*model.Lock, error) {
	return b.mutate(ctx, fileID, func(cur *model.Lock, now time.Time) (*model.Lock, error) {
		return refreshTransition(cur, token, now, b.ttl)
	})
}

func (b *BadgerLocker) Unlock(ctx context.Context, fileID, token string) error {
	_, err := b.mutate(ctx, fileID, func(cur *model.Lock, now time.Time) (*model.Lock, error) {
		if err := checkHeld(cur, token, now); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return err
}

func (b *BadgerLocker) UnlockAndRelock(ctx context.Context, fileID, oldToken, newToken, userID string) (*model.Lock, error) {
	return b.mutate(ctx, fileID, func(cur *model.Lock, now time.Time) (*model.Lock, error) {
		return relockTransition(cur, fileID, oldToken, newToken, userID, now, b.ttl)
	})
}

func (b *BadgerLocker) GetLock(ctx context.Context, fileID string) (*model.Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var l *model.Lock
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		l, err = readLock(txn, fileID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return activeOrNil(l, b.now()), nil
}
