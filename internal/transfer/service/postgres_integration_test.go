//go:build integration

package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	connservice "custodian/internal/connection/service"
	connstore "custodian/internal/connection/store"
	propmodels "custodian/internal/property/models"
	propstore "custodian/internal/property/store"
	"custodian/internal/transfer/store"
	usermodels "custodian/internal/user/models"
	userstore "custodian/internal/user/store"
	id "custodian/pkg/domain"
	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/requestcontext"
	"custodian/pkg/testutil/containers"
)

// PostgresTransferSuite exercises the custody critical path against a real
// database: row locks, the conditional custody update and the partial unique
// index all participate.
type PostgresTransferSuite struct {
	suite.Suite
	svc        *Service
	properties *propstore.PostgresStore
	ctx        context.Context
	now        time.Time

	alice id.UserID
	bob   id.UserID
	carol id.UserID

	rifle *propmodels.Property
}

func TestPostgresTransferSuite(t *testing.T) {
	suite.Run(t, new(PostgresTransferSuite))
}

func (s *PostgresTransferSuite) SetupTest() {
	pg := containers.GetManager().GetPostgres(s.T())
	s.now = time.Now().UTC().Truncate(time.Microsecond)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.Require().NoError(pg.TruncateTables(s.ctx,
		"transfer_offer_recipients", "transfer_offers", "transfer_requests",
		"user_connections", "properties", "users"))

	users := userstore.NewPostgres(pg.DB)
	seed := func(email string) id.UserID {
		user, err := usermodels.NewUser(id.UserID(uuid.New()), email, "x", "Test User", s.now)
		s.Require().NoError(err)
		s.Require().NoError(users.Create(s.ctx, user))
		return user.ID
	}
	s.alice = seed("alice@example.mil")
	s.bob = seed("bob@example.mil")
	s.carol = seed("carol@example.mil")

	conns := connservice.New(connstore.NewPostgres(pg.DB))
	connect := func(a, b id.UserID) {
		conn, err := conns.Request(s.ctx, a, b)
		s.Require().NoError(err)
		_, err = conns.Accept(s.ctx, b, conn.ID)
		s.Require().NoError(err)
	}
	connect(s.alice, s.bob)
	connect(s.alice, s.carol)

	s.properties = propstore.NewPostgres(pg.DB)
	rifle, err := propmodels.NewProperty(id.PropertyID(uuid.New()), "SN-0001", "M4 Carbine", s.alice, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.properties.Create(s.ctx, rifle))
	s.rifle = rifle

	transfers := store.NewPostgres(pg.DB)
	s.svc = New(transfers, transfers, s.properties, conns,
		WithTx(store.NewPostgresTx(pg.DB)),
	)
}

func (s *PostgresTransferSuite) TestSecondActiveOfferHitsUniqueIndex() {
	_, err := s.svc.CreateOffer(s.ctx, s.alice, CreateOfferInput{
		PropertyID: s.rifle.ID,
		Recipients: []id.UserID{s.bob},
	})
	s.Require().NoError(err)

	_, err = s.svc.CreateOffer(s.ctx, s.alice, CreateOfferInput{
		PropertyID: s.rifle.ID,
		Recipients: []id.UserID{s.carol},
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *PostgresTransferSuite) TestConcurrentAcceptOneWins() {
	offer, err := s.svc.CreateOffer(s.ctx, s.alice, CreateOfferInput{
		PropertyID: s.rifle.ID,
		Recipients: []id.UserID{s.bob, s.carol},
	})
	s.Require().NoError(err)

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for _, actor := range []id.UserID{s.bob, s.carol} {
		wg.Add(1)
		go func(actor id.UserID) {
			defer wg.Done()
			_, err := s.svc.AcceptOffer(s.ctx, actor, offer.ID)
			switch {
			case err == nil:
				wins.Add(1)
			case dErrors.HasCode(err, dErrors.CodeConflict):
				conflicts.Add(1)
			}
		}(actor)
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	s.Equal(int32(1), conflicts.Load())

	reloaded, err := s.properties.FindByID(s.ctx, s.rifle.ID)
	s.Require().NoError(err)
	s.False(reloaded.OwnedBy(s.alice))
}

func (s *PostgresTransferSuite) TestExpirySweepAndRecreate() {
	expiry := s.now.Add(time.Minute)
	_, err := s.svc.CreateOffer(s.ctx, s.alice, CreateOfferInput{
		PropertyID: s.rifle.ID,
		Recipients: []id.UserID{s.bob},
		ExpiresAt:  &expiry,
	})
	s.Require().NoError(err)

	late := requestcontext.WithTime(context.Background(), s.now.Add(time.Hour))

	offers, err := s.svc.ListActiveOffers(late, s.bob)
	s.Require().NoError(err)
	s.Empty(offers)

	expired, err := s.svc.SweepExpiredOffers(late)
	s.Require().NoError(err)
	s.Equal(1, expired)

	// The index slot is free again.
	_, err = s.svc.CreateOffer(late, s.alice, CreateOfferInput{
		PropertyID: s.rifle.ID,
		Recipients: []id.UserID{s.carol},
	})
	s.Require().NoError(err)
}

func (s *PostgresTransferSuite) TestRequestRoundTrip() {
	req, err := s.svc.RequestBySerial(s.ctx, s.bob, "SN-0001", "")
	s.Require().NoError(err)

	_, err = s.svc.RequestBySerial(s.ctx, s.bob, "SN-0001", "")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	resolved, err := s.svc.ResolveRequest(s.ctx, s.alice, req.ID, true)
	s.Require().NoError(err)
	s.Require().NotNil(resolved.ResolvedAt)

	reloaded, err := s.properties.FindByID(s.ctx, s.rifle.ID)
	s.Require().NoError(err)
	s.True(reloaded.OwnedBy(s.bob))
}
