package conversation

import (
	"sync"
	"testing"

	"github.com/relaydesk/relaydesk/internal/store"
)

func TestKeyLocks_SerializesSameKey(t *testing.T) {
	t.Parallel()

	locks := NewKeyLocks()

	const goroutines = 20
	counter := 0

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			unlock := locks.Acquire("user-1", store.ChannelWhatsApp)
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != goroutines {
		t.Fatalf("counter=%d want=%d", counter, goroutines)
	}
	if got := locks.Len(); got != 1 {
		t.Fatalf("len=%d want=1", got)
	}
}

func TestKeyLocks_DistinctKeysDoNotBlock(t *testing.T) {
	t.Parallel()

	locks := NewKeyLocks()

	unlockA := locks.Acquire("user-1", store.ChannelWhatsApp)
	defer unlockA()

	// Same identifier, different channel: must not deadlock.
	unlockB := locks.Acquire("user-1", store.ChannelEmail)
	unlockB()

	unlockC := locks.Acquire("user-2", store.ChannelWhatsApp)
	unlockC()

	if got := locks.Len(); got != 3 {
		t.Fatalf("len=%d want=3", got)
	}
}

func TestKeyLocks_ReuseAfterRelease(t *testing.T) {
	t.Parallel()

	locks := NewKeyLocks()

	unlock := locks.Acquire("user-1", store.ChannelEmail)
	unlock()
	unlock = locks.Acquire("user-1", store.ChannelEmail)
	unlock()

	if got := locks.Len(); got != 1 {
		t.Fatalf("len=%d want=1", got)
	}
}
