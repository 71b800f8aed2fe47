package admission

import (
	"context"
	"sync"
)

// MemoryStore is the in-process waiting-queue store for tests and
// single-node development.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]Entry // userID -> entries
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string][]Entry{}}
}

func (s *MemoryStore) Enqueue(_ context.Context, e Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.entries[e.UserID] {
		if existing.CallID == e.CallID {
			return false, nil
		}
	}
	s.entries[e.UserID] = append(s.entries[e.UserID], e)
	return true, nil
}

func (s *MemoryStore) List(_ context.Context, userID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries[userID]))
	copy(out, s.entries[userID])
	return out, nil
}

func (s *MemoryStore) Remove(_ context.Context, userID, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.entries[userID]
	for i, e := range list {
		if e.CallID == callID {
			s.entries[userID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(s.entries[userID]) == 0 {
		delete(s.entries, userID)
	}
	return nil
}
