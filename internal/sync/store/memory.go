package store

import (
	"context"
	"sync"

	"custodian/internal/sync/models"
	"custodian/pkg/platform/sentinel"
)

// MemoryStore is an in-memory sync store for tests and development.
type MemoryStore struct {
	mu      sync.Mutex
	queues  map[string][]*models.Entry
	results map[string][]*models.Entry
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		queues:  make(map[string][]*models.Entry),
		results: make(map[string][]*models.Entry),
	}
}

func (s *MemoryStore) Enqueue(_ context.Context, entry *models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[entry.ClientID] = append(s.queues[entry.ClientID], cloneEntry(entry))
	return nil
}

func (s *MemoryStore) Peek(_ context.Context, clientID string) (*models.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.queues[clientID]
	if len(queue) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return cloneEntry(queue[0]), nil
}

func (s *MemoryStore) UpdateHead(_ context.Context, entry *models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.queues[entry.ClientID]
	if len(queue) == 0 {
		return sentinel.ErrNotFound
	}
	queue[0] = cloneEntry(entry)
	return nil
}

func (s *MemoryStore) CompleteHead(_ context.Context, entry *models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.queues[entry.ClientID]
	if len(queue) == 0 {
		return sentinel.ErrNotFound
	}
	s.queues[entry.ClientID] = queue[1:]
	s.results[entry.ClientID] = append([]*models.Entry{cloneEntry(entry)}, s.results[entry.ClientID]...)
	return nil
}

func (s *MemoryStore) ListPending(_ context.Context, clientID string) ([]*models.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Entry, 0, len(s.queues[clientID]))
	for _, entry := range s.queues[clientID] {
		out = append(out, cloneEntry(entry))
	}
	return out, nil
}

func (s *MemoryStore) ListResults(_ context.Context, clientID string) ([]*models.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Entry, 0, len(s.results[clientID]))
	for _, entry := range s.results[clientID] {
		out = append(out, cloneEntry(entry))
	}
	return out, nil
}

func cloneEntry(entry *models.Entry) *models.Entry {
	copied := *entry
	copied.Payload = append([]byte(nil), entry.Payload...)
	return &copied
}
