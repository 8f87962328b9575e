package store

import "sync"

// sessionLocks hands out one mutex per session. The lock scope is the
// child-insert step only: just long enough to assign a stable creation order
// to racing branch creations under a shared parent. Completions streaming
// into different pending nodes never contend on it.
type sessionLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{
		m: make(map[string]*sync.Mutex),
	}
}

func (l *sessionLocks) get(sessionID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.m[sessionID]; ok {
		return m
	}
	m := &sync.Mutex{}
	l.m[sessionID] = m
	return m
}

func (l *sessionLocks) drop(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.m, sessionID)
}
