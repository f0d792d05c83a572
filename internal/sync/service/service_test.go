package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custodian/internal/sync/models"
	"custodian/internal/sync/store"
	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/requestcontext"
)

// scriptedApplier returns canned results per entry ID, recording apply order.
type scriptedApplier struct {
	results map[string]error
	applied []string
}

func (a *scriptedApplier) Apply(_ context.Context, entry *models.Entry) error {
	a.applied = append(a.applied, entry.EntityID)
	if err, ok := a.results[entry.ID.String()]; ok {
		return err
	}
	return nil
}

type SyncServiceSuite struct {
	suite.Suite
	svc     *Service
	applier *scriptedApplier
	ctx     context.Context
}

func TestSyncServiceSuite(t *testing.T) {
	suite.Run(t, new(SyncServiceSuite))
}

func (s *SyncServiceSuite) SetupTest() {
	s.applier = &scriptedApplier{results: make(map[string]error)}
	s.svc = New(store.NewMemory(), s.applier, WithRetryLimit(3))
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
}

func (s *SyncServiceSuite) enqueue(clientID, entityID string) *models.Entry {
	entry, err := s.svc.Enqueue(s.ctx, EnqueueInput{
		ClientID:      clientID,
		UserID:        "b3b8c4de-7d0e-4f91-a4ad-7a25be2d2c01",
		OperationType: models.OperationUpdate,
		EntityType:    models.EntityProperty,
		EntityID:      entityID,
		Payload:       json.RawMessage(`{"condition":"needs_repair"}`),
	})
	s.Require().NoError(err)
	return entry
}

func (s *SyncServiceSuite) TestEnqueue() {
	s.Run("queues a pending entry", func() {
		entry := s.enqueue("device-1", "p1")
		s.Equal(models.SyncStatusPending, entry.Status)
		s.Equal(0, entry.RetryCount)

		pending, err := s.svc.ListPending(s.ctx, "device-1")
		s.Require().NoError(err)
		s.Len(pending, 1)
	})

	s.Run("rejects an unknown operation", func() {
		_, err := s.svc.Enqueue(s.ctx, EnqueueInput{
			ClientID:      "device-1",
			OperationType: "upsert",
			EntityType:    models.EntityProperty,
			Payload:       json.RawMessage(`{}`),
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("rejects an empty payload", func() {
		_, err := s.svc.Enqueue(s.ctx, EnqueueInput{
			ClientID:      "device-1",
			OperationType: models.OperationCreate,
			EntityType:    models.EntityProperty,
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *SyncServiceSuite) TestReplayFIFO() {
	for i := 1; i <= 3; i++ {
		s.enqueue("device-1", fmt.Sprintf("p%d", i))
	}

	report, err := s.svc.Replay(s.ctx, "device-1")
	s.Require().NoError(err)
	s.Equal(3, report.Synced)
	s.Equal([]string{"p1", "p2", "p3"}, s.applier.applied)

	pending, err := s.svc.ListPending(s.ctx, "device-1")
	s.Require().NoError(err)
	s.Empty(pending)

	results, err := s.svc.ListResults(s.ctx, "device-1")
	s.Require().NoError(err)
	s.Require().Len(results, 3)
	for _, entry := range results {
		s.Equal(models.SyncStatusSynced, entry.Status)
	}
}

func (s *SyncServiceSuite) TestReplayIsolatesClients() {
	s.enqueue("device-1", "p1")
	s.enqueue("device-2", "p2")

	report, err := s.svc.Replay(s.ctx, "device-1")
	s.Require().NoError(err)
	s.Equal(1, report.Synced)

	pending, err := s.svc.ListPending(s.ctx, "device-2")
	s.Require().NoError(err)
	s.Len(pending, 1)
}

func (s *SyncServiceSuite) TestReplayConflict() {
	conflicted := s.enqueue("device-1", "p1")
	s.enqueue("device-1", "p2")
	s.applier.results[conflicted.ID.String()] = dErrors.New(dErrors.CodeConflict, "custody changed")

	report, err := s.svc.Replay(s.ctx, "device-1")
	s.Require().NoError(err)
	s.Equal(1, report.Conflicts)
	s.Equal(1, report.Synced)

	results, err := s.svc.ListResults(s.ctx, "device-1")
	s.Require().NoError(err)
	s.Require().Len(results, 2)
	// newest first: p2 synced, then p1 conflicted
	s.Equal(models.SyncStatusSynced, results[0].Status)
	s.Equal(models.SyncStatusConflict, results[1].Status)
	s.Equal("custody changed", results[1].LastError)
}

func (s *SyncServiceSuite) TestReplayTransientFailureBlocksQueue() {
	flaky := s.enqueue("device-1", "p1")
	s.enqueue("device-1", "p2")
	s.applier.results[flaky.ID.String()] = dErrors.New(dErrors.CodeTimeout, "store down")

	report, err := s.svc.Replay(s.ctx, "device-1")
	s.Require().NoError(err)
	s.Equal(0, report.Synced)
	s.Equal(2, report.Remaining)
	s.Equal([]string{"p1"}, s.applier.applied)

	pending, err := s.svc.ListPending(s.ctx, "device-1")
	s.Require().NoError(err)
	s.Require().Len(pending, 2)
	s.Equal(1, pending[0].RetryCount)
	s.Equal(models.SyncStatusPending, pending[0].Status)
}

func (s *SyncServiceSuite) TestReplayRetryCeiling() {
	doomed := s.enqueue("device-1", "p1")
	s.enqueue("device-1", "p2")
	s.applier.results[doomed.ID.String()] = dErrors.New(dErrors.CodeTimeout, "store down")

	// retry limit is 3; two passes leave it pending, the third marks it failed
	// and unblocks the entry behind it.
	for i := 0; i < 2; i++ {
		report, err := s.svc.Replay(s.ctx, "device-1")
		s.Require().NoError(err)
		s.Equal(0, report.Failed)
	}

	report, err := s.svc.Replay(s.ctx, "device-1")
	s.Require().NoError(err)
	s.Equal(1, report.Failed)
	s.Equal(1, report.Synced)

	results, err := s.svc.ListResults(s.ctx, "device-1")
	s.Require().NoError(err)
	s.Require().Len(results, 2)
	s.Equal(models.SyncStatusFailed, results[1].Status)
	s.Equal(3, results[1].RetryCount)
}

func (s *SyncServiceSuite) TestReplayEmptyQueue() {
	report, err := s.svc.Replay(s.ctx, "device-1")
	s.Require().NoError(err)
	s.Equal(&Report{}, report)
}
