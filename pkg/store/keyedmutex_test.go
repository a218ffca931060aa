package store

import (
	"sync"
	"testing"
)

func TestKeyedMutex_MutualExclusion(t *testing.T) {
	km := NewKeyedMutex()

	const goroutines = 50
	const iterations = 100
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				km.Lock("shared")
				counter++
				km.Unlock("shared")
			}
		}()
	}
	wg.Wait()

	if counter != goroutines*iterations {
		t.Errorf("expected %d increments, got %d", goroutines*iterations, counter)
	}
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	km := NewKeyedMutex()

	km.Lock("a")
	done := make(chan struct{})
	go func() {
		// Must not block on a different key.
		km.Lock("b")
		km.Unlock("b")
		close(done)
	}()
	<-done
	km.Unlock("a")
}

func TestKeyedMutex_CleansUpReleasedKeys(t *testing.T) {
	km := NewKeyedMutex()

	km.Lock("a")
	km.Lock("b")
	km.Unlock("a")
	km.Unlock("b")

	km.mu.Lock()
	n := len(km.locks)
	km.mu.Unlock()
	if n != 0 {
		t.Errorf("expected no retained locks, got %d", n)
	}
}

func TestKeyedMutex_UnlockUnlockedPanics(t *testing.T) {
	km := NewKeyedMutex()

	defer func() {
		if recover() == nil {
			t.Error("expected panic on unlock of unlocked key")
		}
	}()
	km.Unlock("never-locked")
}
