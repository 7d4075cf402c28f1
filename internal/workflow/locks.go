package workflow

import "sync"

// InstanceLocks serializes stage evaluation and advancement per instance id.
// Both the synchronous submission path and the escalation sweep must hold the
// instance lock before mutating decisions, so that two decisions completing
// the same stage concurrently cause exactly one advancement.
type InstanceLocks struct {
	mu    sync.Mutex
	locks map[string]*instanceLock
}

type instanceLock struct {
	mu   sync.Mutex
	refs int
}

// NewInstanceLocks creates an empty lock table.
func NewInstanceLocks() *InstanceLocks {
	return &InstanceLocks{locks: make(map[string]*instanceLock)}
}

// Lock acquires the lock for the given instance id and returns the matching
// unlock function. Entries are reference counted and removed when unused.
func (l *InstanceLocks) Lock(instanceID string) func() {
	l.mu.Lock()
	entry, ok := l.locks[instanceID]
	if !ok {
		entry = &instanceLock{}
		l.locks[instanceID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, instanceID)
		}
		l.mu.Unlock()
	}
}
