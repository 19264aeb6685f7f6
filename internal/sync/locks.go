package sync

import "sync"

// lockTable tracks which project ids are currently being synchronized.
// Each Orchestrator owns one; it is never shared across processes, so a
// second pulse process provides no cross-process exclusion.
type lockTable struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newLockTable() *lockTable {
	return &lockTable{held: make(map[string]struct{})}
}

// TryAcquire claims the lock for id. It reports false without blocking
// when the id is already held.
func (l *lockTable) TryAcquire(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[id]; ok {
		return false
	}
	l.held[id] = struct{}{}
	return true
}

// Release frees the lock for id. Releasing an unheld id is a no-op.
func (l *lockTable) Release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, id)
}

// Held reports whether id is currently locked.
func (l *lockTable) Held(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[id]
	return ok
}
