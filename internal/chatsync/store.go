package chatsync

import (
	"context"
	"sync"
)

// PointerStore persists the id of the session this client (and every other
// tab sharing the store) is attached to.
type PointerStore interface {
	Get(ctx context.Context) (sessionID string, ok bool, err error)
	Set(ctx context.Context, sessionID string) error
	// Clear removes the pointer only while it still names expected, so a tab
	// retiring an old session cannot erase a pointer another tab just wrote.
	Clear(ctx context.Context, expected string) error
}

// MemoryStore is a process-local PointerStore.
type MemoryStore struct {
	mu sync.Mutex
	id string
}

func NewMemoryStore(initial string) *MemoryStore {
	return &MemoryStore{id: initial}
}

func (s *MemoryStore) Get(context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.id != "", nil
}

func (s *MemoryStore) Set(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = sessionID
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, expected string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == expected {
		s.id = ""
	}
	return nil
}
