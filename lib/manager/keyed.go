package manager

import (
	"context"
	"sync"
)

// keyedMutex serializes work per key. Entries are reference counted and
// dropped when no holder or waiter remains.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyLock)}
}

// Lock acquires key, giving up when ctx ends.
func (k *keyedMutex) Lock(ctx context.Context, key string) error {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		k.mu.Lock()
		k.deref(key, l)
		k.mu.Unlock()
		return ctx.Err()
	}
}

// Unlock releases key. It must only be called by the holder.
func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l := k.locks[key]
	<-l.ch
	k.deref(key, l)
}

func (k *keyedMutex) deref(key string, l *keyLock) {
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// size reports tracked keys; used by tests.
func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
