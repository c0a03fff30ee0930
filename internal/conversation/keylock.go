package conversation

import (
	"sync"

	"github.com/relaydesk/relaydesk/internal/store"
)

// KeyLocks is the process-wide registry of per-(identifier, channel)
// mutexes. Every mutating lifecycle operation acquires the key's lock
// before opening a store transaction and holds it until the transaction
// finishes, so two concurrent webhook deliveries for the same customer
// cannot both decide "no active conversation exists".
//
// Entries are created on first use and never evicted: one mutex per
// distinct customer key for the life of the process.
type KeyLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyLocks creates an empty registry.
func NewKeyLocks() *KeyLocks {
	return &KeyLocks{locks: make(map[string]*sync.Mutex)}
}

func lockKey(identifier string, channel store.Channel) string {
	return identifier + ":" + channel.String()
}

// Acquire locks the key's mutex, creating it on first use, and returns the
// release func. The registry's own lock is held only for the lookup, never
// while waiting on a key lock.
func (l *KeyLocks) Acquire(identifier string, channel store.Channel) func() {
	key := lockKey(identifier, channel)

	l.mu.Lock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Len reports how many distinct keys have been locked so far.
func (l *KeyLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
