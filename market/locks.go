package market

import (
	"sync"

	"github.com/iamramtin/zero-sum/game"
)

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// keyLocks serializes work per game key. Entries are dropped once unused.
type keyLocks struct {
	mu    sync.Mutex
	locks map[game.Key]*keyLock
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[game.Key]*keyLock)}
}

// Lock blocks until key is free and returns its unlock func
func (k *keyLocks) Lock(key game.Key) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
