package workflow

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInstanceLocks_SerializesSameInstance(t *testing.T) {
	locks := NewInstanceLocks()

	var mu sync.Mutex
	counter := 0
	max := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("instance-1")
			defer unlock()

			mu.Lock()
			counter++
			if counter > max {
				max = counter
			}
			mu.Unlock()

			mu.Lock()
			counter--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, max, "only one goroutine may hold the lock at a time")
}

func TestInstanceLocks_EntriesReleasedWhenUnused(t *testing.T) {
	locks := NewInstanceLocks()

	unlock1 := locks.Lock("a")
	unlock2 := locks.Lock("b")
	unlock1()
	unlock2()

	locks.mu.Lock()
	defer locks.mu.Unlock()
	assert.Empty(t, locks.locks)
}

func TestInstanceLocks_IndependentInstancesDoNotBlock(t *testing.T) {
	locks := NewInstanceLocks()

	unlockA := locks.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock("b")
		unlockB()
		close(done)
	}()

	<-done
}
