// ABOUTME: Per-session mutexes so every load-mutate-save cycle is serialized.
// ABOUTME: Concurrent requests against one session queue instead of clobbering state.json.
package pipeline

import "sync"

// SessionLocks hands out one mutex per session id. Locks persist for the
// life of the process.
type SessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSessionLocks returns an empty lock registry.
func NewSessionLocks() *SessionLocks {
	return &SessionLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for the given session id, creating it on first
// use, and returns the unlock function.
func (l *SessionLocks) Lock(sessionID string) func() {
	l.mu.Lock()
	m, ok := l.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[sessionID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
