//go:build integration

package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"custodian/internal/sync/models"
	"custodian/pkg/platform/sentinel"
	"custodian/pkg/testutil/containers"
)

type RedisSyncStoreSuite struct {
	suite.Suite
	store *RedisStore
	ctx   context.Context
	now   time.Time
}

func TestRedisSyncStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisSyncStoreSuite))
}

func (s *RedisSyncStoreSuite) SetupTest() {
	rc := containers.GetManager().GetRedis(s.T())
	s.ctx = context.Background()
	s.Require().NoError(rc.FlushAll(s.ctx))
	s.store = NewRedis(rc.Client)
	s.now = time.Now().UTC().Truncate(time.Millisecond)
}

func (s *RedisSyncStoreSuite) entry(clientID, entityID string) *models.Entry {
	entry, err := models.NewEntry(uuid.New(), clientID, uuid.NewString(),
		models.OperationUpdate, models.EntityProperty, entityID,
		json.RawMessage(`{"condition":"needs_repair"}`), s.now)
	s.Require().NoError(err)
	return entry
}

func (s *RedisSyncStoreSuite) TestQueueOrder() {
	s.Require().NoError(s.store.Enqueue(s.ctx, s.entry("device-1", "p1")))
	s.Require().NoError(s.store.Enqueue(s.ctx, s.entry("device-1", "p2")))

	head, err := s.store.Peek(s.ctx, "device-1")
	s.Require().NoError(err)
	s.Equal("p1", head.EntityID)

	head.MarkSynced(s.now)
	s.Require().NoError(s.store.CompleteHead(s.ctx, head))

	next, err := s.store.Peek(s.ctx, "device-1")
	s.Require().NoError(err)
	s.Equal("p2", next.EntityID)

	results, err := s.store.ListResults(s.ctx, "device-1")
	s.Require().NoError(err)
	s.Require().Len(results, 1)
	s.Equal(models.SyncStatusSynced, results[0].Status)
}

func (s *RedisSyncStoreSuite) TestUpdateHeadKeepsPosition() {
	s.Require().NoError(s.store.Enqueue(s.ctx, s.entry("device-1", "p1")))
	s.Require().NoError(s.store.Enqueue(s.ctx, s.entry("device-1", "p2")))

	head, err := s.store.Peek(s.ctx, "device-1")
	s.Require().NoError(err)
	head.RecordFailure("store down", 5, s.now)
	s.Require().NoError(s.store.UpdateHead(s.ctx, head))

	reloaded, err := s.store.Peek(s.ctx, "device-1")
	s.Require().NoError(err)
	s.Equal("p1", reloaded.EntityID)
	s.Equal(1, reloaded.RetryCount)

	pending, err := s.store.ListPending(s.ctx, "device-1")
	s.Require().NoError(err)
	s.Len(pending, 2)
}

func (s *RedisSyncStoreSuite) TestClientIsolation() {
	s.Require().NoError(s.store.Enqueue(s.ctx, s.entry("device-1", "p1")))

	_, err := s.store.Peek(s.ctx, "device-2")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}
