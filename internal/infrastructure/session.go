package infrastructure

import (
	"sync"
)

// conversationSession guards one conversation key. refs counts holders and
// waiters so idle sessions can be dropped.
type conversationSession struct {
	mu   sync.Mutex
	refs int
}

// SessionManager hands out per-conversation locks. Work on different keys
// runs in parallel; work on the same key is serialized.
type SessionManager struct {
	sessions map[string]*conversationSession
	mu       sync.Mutex
}

func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*conversationSession),
	}
}

// Lock blocks until the key is free and returns its release func.
func (sm *SessionManager) Lock(key string) func() {
	sm.mu.Lock()
	session, exists := sm.sessions[key]
	if !exists {
		session = &conversationSession{}
		sm.sessions[key] = session
	}
	session.refs++
	sm.mu.Unlock()

	session.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			session.mu.Unlock()

			sm.mu.Lock()
			session.refs--
			if session.refs == 0 {
				delete(sm.sessions, key)
			}
			sm.mu.Unlock()
		})
	}
}

// ActiveSessions returns the number of keys currently held or awaited.
func (sm *SessionManager) ActiveSessions() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}
