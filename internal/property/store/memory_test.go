package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"custodian/internal/property/models"
	id "custodian/pkg/domain"
	"custodian/pkg/platform/sentinel"
)

type PropertyStoreSuite struct {
	suite.Suite
	store *MemoryStore
	ctx   context.Context
}

func TestPropertyStoreSuite(t *testing.T) {
	suite.Run(t, new(PropertyStoreSuite))
}

func (s *PropertyStoreSuite) SetupTest() {
	s.store = NewMemory()
	s.ctx = context.Background()
}

func (s *PropertyStoreSuite) newProperty(serial string, owner id.UserID) *models.Property {
	p, err := models.NewProperty(id.PropertyID(uuid.New()), id.SerialNumber(serial), "M4 Carbine", owner, time.Now())
	s.Require().NoError(err)
	return p
}

// TestCreationAndLookups verifies the store correctly creates and retrieves properties.
func (s *PropertyStoreSuite) TestCreationAndLookups() {
	owner := id.UserID(uuid.New())

	s.Run("creates and finds property by ID and serial", func() {
		p := s.newProperty("W123456", owner)
		s.Require().NoError(s.store.Create(s.ctx, p))

		found, err := s.store.FindByID(s.ctx, p.ID)
		s.Require().NoError(err)
		s.Equal(p.SerialNumber, found.SerialNumber)

		found, err = s.store.FindBySerial(s.ctx, p.SerialNumber)
		s.Require().NoError(err)
		s.Equal(p.ID, found.ID)
	})

	s.Run("returns ErrNotFound for unknown ID", func() {
		_, err := s.store.FindByID(s.ctx, id.PropertyID(uuid.New()))
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("rejects duplicate serial number", func() {
		p1 := s.newProperty("DUP-1", owner)
		p2 := s.newProperty("DUP-1", owner)
		s.Require().NoError(s.store.Create(s.ctx, p1))

		err := s.store.Create(s.ctx, p2)
		s.Require().ErrorIs(err, sentinel.ErrConflict)
	})
}

// TestReassignFrom verifies the conditional custody update.
func (s *PropertyStoreSuite) TestReassignFrom() {
	owner := id.UserID(uuid.New())
	next := id.UserID(uuid.New())
	other := id.UserID(uuid.New())
	now := time.Now()

	p := s.newProperty("REASSIGN-1", owner)
	s.Require().NoError(s.store.Create(s.ctx, p))

	s.Run("moves custody when expected owner matches", func() {
		s.Require().NoError(s.store.ReassignFrom(s.ctx, p.ID, owner, next, now))

		found, err := s.store.FindByID(s.ctx, p.ID)
		s.Require().NoError(err)
		s.True(found.OwnedBy(next))
	})

	s.Run("conflicts when the custodian changed underneath", func() {
		err := s.store.ReassignFrom(s.ctx, p.ID, owner, other, now)
		s.Require().ErrorIs(err, sentinel.ErrConflict)

		found, err := s.store.FindByID(s.ctx, p.ID)
		s.Require().NoError(err)
		s.True(found.OwnedBy(next), "custody must be unchanged after a failed reassign")
	})

	s.Run("returns ErrNotFound for unknown property", func() {
		err := s.store.ReassignFrom(s.ctx, id.PropertyID(uuid.New()), owner, next, now)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

// TestListForUser verifies custody-scoped listing.
func (s *PropertyStoreSuite) TestListForUser() {
	owner := id.UserID(uuid.New())
	other := id.UserID(uuid.New())

	s.Require().NoError(s.store.Create(s.ctx, s.newProperty("LIST-1", owner)))
	s.Require().NoError(s.store.Create(s.ctx, s.newProperty("LIST-2", owner)))
	s.Require().NoError(s.store.Create(s.ctx, s.newProperty("LIST-3", other)))

	props, err := s.store.ListForUser(s.ctx, owner)
	s.Require().NoError(err)
	s.Len(props, 2)
}
