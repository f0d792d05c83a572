//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"custodian/internal/property/models"
	usermodels "custodian/internal/user/models"
	userstore "custodian/internal/user/store"
	id "custodian/pkg/domain"
	"custodian/pkg/platform/sentinel"
	"custodian/pkg/testutil/containers"
)

type PostgresPropertySuite struct {
	suite.Suite
	store *PostgresStore
	users *userstore.PostgresStore
	ctx   context.Context
	now   time.Time

	alice id.UserID
	bob   id.UserID
}

func TestPostgresPropertySuite(t *testing.T) {
	suite.Run(t, new(PostgresPropertySuite))
}

func (s *PostgresPropertySuite) SetupTest() {
	pg := containers.GetManager().GetPostgres(s.T())
	s.ctx = context.Background()
	s.Require().NoError(pg.TruncateTables(s.ctx,
		"transfer_offer_recipients", "transfer_offers", "transfer_requests",
		"user_connections", "properties", "users"))

	s.store = NewPostgres(pg.DB)
	s.users = userstore.NewPostgres(pg.DB)
	s.now = time.Now().UTC().Truncate(time.Microsecond)

	s.alice = s.seedUser("alice@example.mil")
	s.bob = s.seedUser("bob@example.mil")
}

func (s *PostgresPropertySuite) seedUser(email string) id.UserID {
	user, err := usermodels.NewUser(id.UserID(uuid.New()), email, "x", "Test User", s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.users.Create(s.ctx, user))
	return user.ID
}

func (s *PostgresPropertySuite) seedProperty(serial string, owner id.UserID) *models.Property {
	p, err := models.NewProperty(id.PropertyID(uuid.New()), id.SerialNumber(serial), "M4 Carbine", owner, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(s.ctx, p))
	return p
}

func (s *PostgresPropertySuite) TestCreateAndFind() {
	created := s.seedProperty("SN-1000", s.alice)

	byID, err := s.store.FindByID(s.ctx, created.ID)
	s.Require().NoError(err)
	s.Equal(created.SerialNumber, byID.SerialNumber)
	s.True(byID.OwnedBy(s.alice))

	bySerial, err := s.store.FindBySerial(s.ctx, "SN-1000")
	s.Require().NoError(err)
	s.Equal(created.ID, bySerial.ID)

	s.Run("duplicate serial conflicts", func() {
		dup, err := models.NewProperty(id.PropertyID(uuid.New()), "SN-1000", "Radio", s.alice, s.now)
		s.Require().NoError(err)
		s.Require().ErrorIs(s.store.Create(s.ctx, dup), sentinel.ErrConflict)
	})

	s.Run("unknown id is not found", func() {
		_, err := s.store.FindByID(s.ctx, id.PropertyID(uuid.New()))
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *PostgresPropertySuite) TestReassignFrom() {
	p := s.seedProperty("SN-2000", s.alice)

	s.Run("moves custody when the expected owner matches", func() {
		err := s.store.ReassignFrom(s.ctx, p.ID, s.alice, s.bob, s.now)
		s.Require().NoError(err)

		reloaded, err := s.store.FindByID(s.ctx, p.ID)
		s.Require().NoError(err)
		s.True(reloaded.OwnedBy(s.bob))
	})

	s.Run("conflicts when the expected owner is stale", func() {
		err := s.store.ReassignFrom(s.ctx, p.ID, s.alice, s.bob, s.now)
		s.Require().ErrorIs(err, sentinel.ErrConflict)

		reloaded, err := s.store.FindByID(s.ctx, p.ID)
		s.Require().NoError(err)
		s.True(reloaded.OwnedBy(s.bob))
	})

	s.Run("unknown property is not found", func() {
		err := s.store.ReassignFrom(s.ctx, id.PropertyID(uuid.New()), s.alice, s.bob, s.now)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *PostgresPropertySuite) TestListForUser() {
	s.seedProperty("SN-3000", s.alice)
	s.seedProperty("SN-3001", s.alice)
	s.seedProperty("SN-3002", s.bob)

	mine, err := s.store.ListForUser(s.ctx, s.alice)
	s.Require().NoError(err)
	s.Len(mine, 2)
}
