package dialog

import (
	"context"
	"sync"
	"time"
)

// Store owns the state of every dialog in progress. A dialog is present
// only while its conversation is unfinished.
type Store interface {
	Get(ctx context.Context, dialogID string) (State, bool, error)
	Put(ctx context.Context, dialogID string, st State) error
	Remove(ctx context.Context, dialogID string) error
}

type storeEntry struct {
	state    State
	lastSeen time.Time
}

// MemoryStore is a process-local Store. Its contents are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]storeEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]storeEntry),
		now:     time.Now,
	}
}

// Get returns the state of a dialog.
func (m *MemoryStore) Get(_ context.Context, dialogID string) (State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[dialogID]
	return e.state, ok, nil
}

// Put stores the state of a dialog and marks it as seen now.
func (m *MemoryStore) Put(_ context.Context, dialogID string, st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[dialogID] = storeEntry{state: st, lastSeen: m.now()}
	return nil
}

// Remove deletes a dialog. Removing an absent dialog is not an error.
func (m *MemoryStore) Remove(_ context.Context, dialogID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, dialogID)
	return nil
}

// Len returns the number of dialogs in progress.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Idle returns the ids of dialogs not updated within ttl.
func (m *MemoryStore) Idle(ttl time.Duration) []string {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	var idle []string
	for id, e := range m.entries {
		if now.Sub(e.lastSeen) > ttl {
			idle = append(idle, id)
		}
	}
	return idle
}

// RemoveIdle deletes a dialog if it is still not updated within ttl and
// reports whether it did.
func (m *MemoryStore) RemoveIdle(dialogID string, ttl time.Duration) bool {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[dialogID]
	if !ok || now.Sub(e.lastSeen) <= ttl {
		return false
	}
	delete(m.entries, dialogID)
	return true
}

// KeyedLocker serialises work per key while letting different keys proceed
// in parallel.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// NewKeyedLocker creates a locker with no keys held.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is free or ctx is done. The returned func releases
// the key and is safe to call more than once.
func (l *KeyedLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.sem
			l.release(key, kl)
		})
	}, nil
}

// TryLock takes key only if it is free. The returned func releases it.
func (l *KeyedLocker) TryLock(key string) (func(), bool) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.sem <- struct{}{}:
	default:
		l.release(key, kl)
		return nil, false
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.sem
			l.release(key, kl)
		})
	}, true
}

func (l *KeyedLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}
