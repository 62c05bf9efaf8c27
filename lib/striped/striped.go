// Package striped provides a fixed-size table of mutexes indexed by
// string key. Two keys hashing to the same stripe share a mutex, so
// the table gives per-key mutual exclusion with bounded memory.
package striped

import (
	"hash/fnv"
	"sync"
)

// Locks is a striped lock table.
type Locks struct {
	locks []sync.Mutex
}

// New creates a table with n stripes. n must be positive.
func New(n int) *Locks {
	if n <= 0 {
		panic("striped: stripe count must be positive")
	}
	return &Locks{locks: make([]sync.Mutex, n)}
}

// stripe returns the lock index for key.
func (ls *Locks) stripe(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % uint32(len(ls.locks))
}

// Lock locks the stripe for key.
func (ls *Locks) Lock(key string) {
	ls.locks[ls.stripe(key)].Lock()
}

// Unlock unlocks the stripe for key.
func (ls *Locks) Unlock(key string) {
	ls.locks[ls.stripe(key)].Unlock()
}
