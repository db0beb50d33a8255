package api

import (
	"sync"
	"time"
)

// MemorySessionStore keeps sessions in a mutex-guarded map. It is the
// single-instance default; restarts log everyone out.
type MemorySessionStore struct {
	mu          sync.Mutex
	data        map[string]AuthSession
	idleTimeout time.Duration
}

var _ SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore creates an in-memory session store. An
// idleTimeout of 0 disables the idle check.
func NewMemorySessionStore(idleTimeout time.Duration) *MemorySessionStore {
	return &MemorySessionStore{
		data:        make(map[string]AuthSession),
		idleTimeout: idleTimeout,
	}
}

// Get returns the live session for token. Sessions past their absolute
// or idle deadline are dropped. An expired pending TOTP enrollment is
// scrubbed in place so a stale setup secret can never be committed by a
// later enable call.
func (s *MemorySessionStore) Get(token string) (AuthSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.data[token]
	if !ok {
		return AuthSession{}, false
	}
	now := time.Now()
	if now.After(session.ExpiresAt) {
		delete(s.data, token)
		return AuthSession{}, false
	}
	if s.idleTimeout > 0 && now.Sub(session.LastAccessedAt) > s.idleTimeout {
		delete(s.data, token)
		return AuthSession{}, false
	}
	if session.PendingTOTPSecret != "" && now.After(session.PendingTOTPExpiry) {
		session.PendingTOTPSecret = ""
		session.PendingTOTPExpiry = time.Time{}
		s.data[token] = session
	}
	return session, true
}

func (s *MemorySessionStore) Put(token string, session AuthSession) {
	s.mu.Lock()
	s.data[token] = session
	s.mu.Unlock()
}

func (s *MemorySessionStore) Delete(token string) {
	s.mu.Lock()
	delete(s.data, token)
	s.mu.Unlock()
}
