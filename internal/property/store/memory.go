package store

import (
	"context"
	"sync"
	"time"

	"custodian/internal/property/models"
	id "custodian/pkg/domain"
	"custodian/pkg/platform/sentinel"
)

// MemoryStore is an in-memory property store for tests and development.
type MemoryStore struct {
	mu         sync.RWMutex
	properties map[id.PropertyID]*models.Property
	bySerial   map[id.SerialNumber]id.PropertyID
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		properties: make(map[id.PropertyID]*models.Property),
		bySerial:   make(map[id.SerialNumber]id.PropertyID),
	}
}

// Create inserts a property. Returns ErrConflict when the serial number is
// already registered.
func (s *MemoryStore) Create(_ context.Context, p *models.Property) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bySerial[p.SerialNumber]; exists {
		return sentinel.ErrConflict
	}
	s.properties[p.ID] = cloneProperty(p)
	s.bySerial[p.SerialNumber] = p.ID
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, propertyID id.PropertyID) (*models.Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.properties[propertyID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneProperty(p), nil
}

func (s *MemoryStore) FindBySerial(_ context.Context, serial id.SerialNumber) (*models.Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	propertyID, ok := s.bySerial[serial]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneProperty(s.properties[propertyID]), nil
}

func (s *MemoryStore) ListForUser(_ context.Context, userID id.UserID) ([]*models.Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Property
	for _, p := range s.properties {
		if p.OwnedBy(userID) {
			out = append(out, cloneProperty(p))
		}
	}
	return out, nil
}

// Update persists status and condition changes.
func (s *MemoryStore) Update(_ context.Context, p *models.Property) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.properties[p.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.properties[p.ID] = cloneProperty(p)
	return nil
}

// ReassignFrom moves custody to newOwner only if expectedOwner still holds
// the property. Returns ErrConflict when the custodian changed underneath the
// caller, so two concurrent acceptances cannot both succeed.
func (s *MemoryStore) ReassignFrom(_ context.Context, propertyID id.PropertyID, expectedOwner, newOwner id.UserID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.properties[propertyID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !p.OwnedBy(expectedOwner) {
		return sentinel.ErrConflict
	}
	owner := newOwner
	p.AssignedToUserID = &owner
	p.UpdatedAt = now
	return nil
}

func cloneProperty(p *models.Property) *models.Property {
	copied := *p
	if p.AssignedToUserID != nil {
		owner := *p.AssignedToUserID
		copied.AssignedToUserID = &owner
	}
	return &copied
}
