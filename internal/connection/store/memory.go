package store

import (
	"context"
	"sync"

	"custodian/internal/connection/models"
	id "custodian/pkg/domain"
	"custodian/pkg/platform/sentinel"
)

// MemoryStore is an in-memory connection store for tests and development.
type MemoryStore struct {
	mu          sync.RWMutex
	connections map[id.ConnectionID]*models.Connection
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		connections: make(map[id.ConnectionID]*models.Connection),
	}
}

// CreateIfAbsent inserts the edge unless one already exists between the pair,
// in either direction.
func (s *MemoryStore) CreateIfAbsent(_ context.Context, conn *models.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.connections {
		if samePair(existing, conn.UserID, conn.ConnectedUserID) {
			return sentinel.ErrConflict
		}
	}
	s.connections[conn.ID] = cloneConnection(conn)
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, connectionID id.ConnectionID) (*models.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, ok := s.connections[connectionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneConnection(conn), nil
}

func (s *MemoryStore) FindBetween(_ context.Context, a, b id.UserID) (*models.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, conn := range s.connections {
		if samePair(conn, a, b) {
			return cloneConnection(conn), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *MemoryStore) ListForUser(_ context.Context, userID id.UserID) ([]*models.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Connection
	for _, conn := range s.connections {
		if conn.Involves(userID) {
			out = append(out, cloneConnection(conn))
		}
	}
	return out, nil
}

// AreConnected reports whether an accepted edge exists between the pair.
// Symmetric: the direction of the original request does not matter.
func (s *MemoryStore) AreConnected(_ context.Context, a, b id.UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, conn := range s.connections {
		if samePair(conn, a, b) && conn.Status == models.ConnectionStatusAccepted {
			return true, nil
		}
	}
	return false, nil
}

// Execute atomically validates and mutates a connection under the store lock.
func (s *MemoryStore) Execute(
	_ context.Context,
	connectionID id.ConnectionID,
	validate func(*models.Connection) error,
	mutate func(*models.Connection),
) (*models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.connections[connectionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(conn); err != nil {
		return nil, err
	}
	mutate(conn)
	return cloneConnection(conn), nil
}

func samePair(conn *models.Connection, a, b id.UserID) bool {
	return (conn.UserID == a && conn.ConnectedUserID == b) ||
		(conn.UserID == b && conn.ConnectedUserID == a)
}

func cloneConnection(conn *models.Connection) *models.Connection {
	copied := *conn
	return &copied
}
