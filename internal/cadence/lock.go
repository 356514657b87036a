package cadence

import (
	"context"
	"sync"
)

// LeadLocker serialises advance calls for one lead. Locking only avoids redundant work; the
// instance idempotency key is what prevents duplicates, so a failed lock never blocks an advance.
type LeadLocker interface {
	Lock(ctx context.Context, tenantID, leadID string) (unlock func(), err error)
}

// NoopLocker never blocks.
type NoopLocker struct{}

// Lock returns immediately.
func (NoopLocker) Lock(context.Context, string, string) (func(), error) {
	return func() {}, nil
}

// LayeredLocker takes each lock in order and releases them in reverse. Putting a KeyedLocker first
// keeps in-process duplicates from reaching a shared lock at all.
type LayeredLocker []LeadLocker

// Lock acquires every layer. If one fails, the layers already held are released.
func (l LayeredLocker) Lock(ctx context.Context, tenantID, leadID string) (func(), error) {
	unlocks := make([]func(), 0, len(l))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, locker := range l {
		unlock, err := locker.Lock(ctx, tenantID, leadID)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}

// KeyedLocker is an in-process per-lead mutex.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// NewKeyedLocker constructs a KeyedLocker.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until the lead's lock is free or ctx is done.
func (l *KeyedLocker) Lock(ctx context.Context, tenantID, leadID string) (func(), error) {
	key := tenantID + "/" + leadID

	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &keyedEntry{ch: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, entry, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, entry, true) })
	}, nil
}

func (l *KeyedLocker) release(key string, entry *keyedEntry, held bool) {
	if held {
		<-entry.ch
	}
	l.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}
