package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"custodian/internal/connection/models"
	"custodian/internal/connection/store"
	id "custodian/pkg/domain"
	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/requestcontext"
)

type ConnectionServiceSuite struct {
	suite.Suite
	svc *Service
	ctx context.Context
	now time.Time

	alice id.UserID
	bob   id.UserID
	carol id.UserID
}

func TestConnectionServiceSuite(t *testing.T) {
	suite.Run(t, new(ConnectionServiceSuite))
}

func (s *ConnectionServiceSuite) SetupTest() {
	s.svc = New(store.NewMemory())
	s.now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.alice = id.UserID(uuid.New())
	s.bob = id.UserID(uuid.New())
	s.carol = id.UserID(uuid.New())
}

// TestRequest verifies creation rules for connection requests.
func (s *ConnectionServiceSuite) TestRequest() {
	s.Run("creates a pending edge", func() {
		conn, err := s.svc.Request(s.ctx, s.alice, s.bob)
		s.Require().NoError(err)
		s.Equal(models.ConnectionStatusPending, conn.Status)
		s.Equal(s.alice, conn.UserID)
		s.Equal(s.bob, conn.ConnectedUserID)
		s.Equal(s.now, conn.CreatedAt)
	})

	s.Run("rejects self connection", func() {
		_, err := s.svc.Request(s.ctx, s.alice, s.alice)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	s.Run("rejects duplicate edge in the same direction", func() {
		_, err := s.svc.Request(s.ctx, s.alice, s.carol)
		s.Require().NoError(err)

		_, err = s.svc.Request(s.ctx, s.alice, s.carol)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("rejects duplicate edge in the reverse direction", func() {
		_, err := s.svc.Request(s.ctx, s.bob, s.carol)
		s.Require().NoError(err)

		_, err = s.svc.Request(s.ctx, s.carol, s.bob)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

// TestAccept verifies that only the recipient can accept a pending request.
func (s *ConnectionServiceSuite) TestAccept() {
	conn, err := s.svc.Request(s.ctx, s.alice, s.bob)
	s.Require().NoError(err)

	s.Run("requester cannot accept", func() {
		_, err := s.svc.Accept(s.ctx, s.alice, conn.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("third party cannot accept", func() {
		_, err := s.svc.Accept(s.ctx, s.carol, conn.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("recipient accepts", func() {
		accepted, err := s.svc.Accept(s.ctx, s.bob, conn.ID)
		s.Require().NoError(err)
		s.Equal(models.ConnectionStatusAccepted, accepted.Status)
	})

	s.Run("accepting twice conflicts", func() {
		_, err := s.svc.Accept(s.ctx, s.bob, conn.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("unknown connection is not found", func() {
		_, err := s.svc.Accept(s.ctx, s.bob, id.ConnectionID(uuid.New()))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

// TestAreConnected verifies the symmetry of connectivity checks.
func (s *ConnectionServiceSuite) TestAreConnected() {
	conn, err := s.svc.Request(s.ctx, s.alice, s.bob)
	s.Require().NoError(err)

	s.Run("pending edge does not connect", func() {
		connected, err := s.svc.AreConnected(s.ctx, s.alice, s.bob)
		s.Require().NoError(err)
		s.False(connected)
	})

	s.Run("accepted edge connects in both argument orders", func() {
		_, err := s.svc.Accept(s.ctx, s.bob, conn.ID)
		s.Require().NoError(err)

		connected, err := s.svc.AreConnected(s.ctx, s.alice, s.bob)
		s.Require().NoError(err)
		s.True(connected)

		connected, err = s.svc.AreConnected(s.ctx, s.bob, s.alice)
		s.Require().NoError(err)
		s.True(connected)
	})

	s.Run("unrelated users are not connected", func() {
		connected, err := s.svc.AreConnected(s.ctx, s.alice, s.carol)
		s.Require().NoError(err)
		s.False(connected)
	})
}

// TestEnsureConnected verifies the post-transfer edge creation side effect.
func (s *ConnectionServiceSuite) TestEnsureConnected() {
	s.Run("creates an accepted edge when none exists", func() {
		s.Require().NoError(s.svc.EnsureConnected(s.ctx, s.alice, s.bob))

		connected, err := s.svc.AreConnected(s.ctx, s.bob, s.alice)
		s.Require().NoError(err)
		s.True(connected)
	})

	s.Run("is idempotent", func() {
		s.Require().NoError(s.svc.EnsureConnected(s.ctx, s.alice, s.bob))
		s.Require().NoError(s.svc.EnsureConnected(s.ctx, s.bob, s.alice))

		conns, err := s.svc.List(s.ctx, s.alice)
		s.Require().NoError(err)
		s.Len(conns, 1)
	})

	s.Run("promotes a pending edge", func() {
		conn, err := s.svc.Request(s.ctx, s.alice, s.carol)
		s.Require().NoError(err)
		s.Equal(models.ConnectionStatusPending, conn.Status)

		s.Require().NoError(s.svc.EnsureConnected(s.ctx, s.carol, s.alice))

		connected, err := s.svc.AreConnected(s.ctx, s.alice, s.carol)
		s.Require().NoError(err)
		s.True(connected)
	})

	s.Run("leaves a blocked edge untouched", func() {
		conn, err := s.svc.Request(s.ctx, s.bob, s.carol)
		s.Require().NoError(err)
		_, err = s.svc.Block(s.ctx, s.carol, conn.ID)
		s.Require().NoError(err)

		s.Require().NoError(s.svc.EnsureConnected(s.ctx, s.bob, s.carol))

		connected, err := s.svc.AreConnected(s.ctx, s.bob, s.carol)
		s.Require().NoError(err)
		s.False(connected)
	})
}

// TestBlock verifies blocking rules.
func (s *ConnectionServiceSuite) TestBlock() {
	conn, err := s.svc.Request(s.ctx, s.alice, s.bob)
	s.Require().NoError(err)
	_, err = s.svc.Accept(s.ctx, s.bob, conn.ID)
	s.Require().NoError(err)

	s.Run("outsider cannot block", func() {
		_, err := s.svc.Block(s.ctx, s.carol, conn.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("participant blocks and connectivity drops", func() {
		blocked, err := s.svc.Block(s.ctx, s.alice, conn.ID)
		s.Require().NoError(err)
		s.Equal(models.ConnectionStatusBlocked, blocked.Status)

		connected, err := s.svc.AreConnected(s.ctx, s.alice, s.bob)
		s.Require().NoError(err)
		s.False(connected)
	})

	s.Run("blocking twice conflicts", func() {
		_, err := s.svc.Block(s.ctx, s.bob, conn.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}
