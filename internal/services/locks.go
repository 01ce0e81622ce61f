package services

import "sync"

// keyedLocks serializes operations per parent (a course's module list, one
// module's item list, one quiz). Locks are created on first use and never
// discarded; the key space is bounded by live entities.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedLocks) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	return l
}

// lock acquires the lock for key and returns its release func.
func (k *keyedLocks) lock(key string) func() {
	l := k.get(key)
	l.Lock()
	return l.Unlock
}

// lockPair acquires both keys in canonical order so that two concurrent
// moves between the same pair of modules cannot deadlock.
func (k *keyedLocks) lockPair(a, b string) func() {
	if a == b {
		return k.lock(a)
	}
	if b < a {
		a, b = b, a
	}
	first := k.get(a)
	second := k.get(b)
	first.Lock()
	second.Lock()
	return func() {
		second.Unlock()
		first.Unlock()
	}
}
