package auth

import (
	"context"
	"sync"
)

// MemoryStore keeps sessions in process. The bridge handler tests and
// single-node development setups use it in place of the sessions table.
type MemoryStore struct {
	mu        sync.RWMutex
	byRefresh map[string]Session
	byAccess  map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byRefresh: make(map[string]Session),
		byAccess:  make(map[string]string),
	}
}

// Save records session under both token hashes, replacing any session with
// the same refresh hash.
func (s *MemoryStore) Save(_ context.Context, session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.byRefresh[session.RefreshHash]; ok {
		delete(s.byAccess, prev.AccessHash)
	}
	s.byRefresh[session.RefreshHash] = session
	s.byAccess[session.AccessHash] = session.RefreshHash
	return nil
}

func (s *MemoryStore) FindByRefresh(_ context.Context, refreshHash string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if session, ok := s.byRefresh[refreshHash]; ok {
		return session, nil
	}
	return Session{}, ErrSessionNotFound
}

func (s *MemoryStore) FindByAccess(_ context.Context, accessHash string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if refreshHash, ok := s.byAccess[accessHash]; ok {
		return s.byRefresh[refreshHash], nil
	}
	return Session{}, ErrSessionNotFound
}

// Delete drops the session and its access index entry.
func (s *MemoryStore) Delete(_ context.Context, refreshHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.byRefresh[refreshHash]; ok {
		delete(s.byAccess, session.AccessHash)
		delete(s.byRefresh, refreshHash)
	}
	return nil
}

// Len reports the number of live sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byRefresh)
}
