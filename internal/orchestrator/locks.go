package orchestrator

import (
	"context"
	"sync"
)

// keyedMutex hands out one mutex per key and forgets keys nobody holds or waits on.
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

func (k *keyedMutex) acquireRef(key string) *keyLock {
	k.mu.Lock()
	defer k.mu.Unlock()

	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *keyedMutex) releaseRef(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// Lock blocks until the key is free or ctx is done.
func (k *keyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	l := k.acquireRef(key)

	select {
	case l.ch <- struct{}{}:
		return k.unlocker(key, l), nil
	case <-ctx.Done():
		k.releaseRef(key, l)
		return nil, ctx.Err()
	}
}

// TryLock acquires the key only if it is free.
func (k *keyedMutex) TryLock(key string) (func(), bool) {
	l := k.acquireRef(key)

	select {
	case l.ch <- struct{}{}:
		return k.unlocker(key, l), true
	default:
		k.releaseRef(key, l)
		return nil, false
	}
}

func (k *keyedMutex) unlocker(key string, l *keyLock) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			k.releaseRef(key, l)
		})
	}
}
