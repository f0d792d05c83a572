// Package service replays offline client mutations against the domain
// services in FIFO order, one queue per client device.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"custodian/internal/sync/models"
	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/platform/sentinel"
	"custodian/pkg/requestcontext"
)

// DefaultRetryLimit is the replay attempt ceiling when none is configured.
const DefaultRetryLimit = 5

// Store is the persistence interface the sync service depends on.
type Store interface {
	Enqueue(ctx context.Context, entry *models.Entry) error
	Peek(ctx context.Context, clientID string) (*models.Entry, error)
	UpdateHead(ctx context.Context, entry *models.Entry) error
	CompleteHead(ctx context.Context, entry *models.Entry) error
	ListPending(ctx context.Context, clientID string) ([]*models.Entry, error)
	ListResults(ctx context.Context, clientID string) ([]*models.Entry, error)
}

// Applier executes one queued mutation against the domain.
type Applier interface {
	Apply(ctx context.Context, entry *models.Entry) error
}

// Service manages the offline sync queue.
type Service struct {
	store      Store
	applier    Applier
	logger     *slog.Logger
	retryLimit int
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithRetryLimit overrides the replay attempt ceiling.
func WithRetryLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.retryLimit = limit
		}
	}
}

func New(store Store, applier Applier, opts ...Option) *Service {
	s := &Service{
		store:      store,
		applier:    applier,
		logger:     slog.Default(),
		retryLimit: DefaultRetryLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnqueueInput carries the fields of one captured offline mutation.
type EnqueueInput struct {
	ClientID      string
	UserID        string
	OperationType models.OperationType
	EntityType    models.EntityType
	EntityID      string
	Payload       []byte
}

// Enqueue appends a mutation to the tail of the client's queue.
func (s *Service) Enqueue(ctx context.Context, in EnqueueInput) (*models.Entry, error) {
	entry, err := models.NewEntry(uuid.New(), in.ClientID, in.UserID,
		in.OperationType, in.EntityType, in.EntityID, in.Payload, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.store.Enqueue(ctx, entry); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to enqueue sync entry")
	}
	return entry, nil
}

// Report summarizes one replay pass.
type Report struct {
	Synced    int `json:"synced"`
	Conflicts int `json:"conflicts"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}

// Replay drains the client's queue head-first. A deterministic domain
// rejection marks the entry conflict and moves on; a transient failure
// increments the retry count and stops the pass so order is preserved. Past
// the retry ceiling the entry is marked failed and leaves the queue.
func (s *Service) Replay(ctx context.Context, clientID string) (*Report, error) {
	now := requestcontext.Now(ctx)
	report := &Report{}

	for {
		entry, err := s.store.Peek(ctx, clientID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				break
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read sync queue")
		}

		applyErr := s.applier.Apply(ctx, entry)
		switch {
		case applyErr == nil:
			entry.MarkSynced(now)
			if err := s.store.CompleteHead(ctx, entry); err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to finalize sync entry")
			}
			report.Synced++

		case isDeterministicRejection(applyErr):
			entry.MarkConflict(applyErr.Error(), now)
			if err := s.store.CompleteHead(ctx, entry); err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to finalize sync entry")
			}
			s.logger.WarnContext(ctx, "sync entry conflicted",
				"client_id", clientID,
				"entry_id", entry.ID,
				"error", applyErr.Error(),
			)
			report.Conflicts++

		default:
			entry.RecordFailure(applyErr.Error(), s.retryLimit, now)
			if entry.Status == models.SyncStatusFailed {
				if err := s.store.CompleteHead(ctx, entry); err != nil {
					return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to finalize sync entry")
				}
				s.logger.ErrorContext(ctx, "sync entry exhausted retries",
					"client_id", clientID,
					"entry_id", entry.ID,
					"error", applyErr.Error(),
				)
				report.Failed++
				continue
			}
			if err := s.store.UpdateHead(ctx, entry); err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update sync entry")
			}
			pending, err := s.store.ListPending(ctx, clientID)
			if err == nil {
				report.Remaining = len(pending)
			}
			return report, nil
		}
	}
	return report, nil
}

// ListPending returns the client's queued entries in replay order.
func (s *Service) ListPending(ctx context.Context, clientID string) ([]*models.Entry, error) {
	entries, err := s.store.ListPending(ctx, clientID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list sync entries")
	}
	return entries, nil
}

// ListResults returns the client's finalized entries, newest first.
func (s *Service) ListResults(ctx context.Context, clientID string) ([]*models.Entry, error) {
	entries, err := s.store.ListResults(ctx, clientID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list sync results")
	}
	return entries, nil
}

// isDeterministicRejection reports whether replaying the entry again could
// ever succeed. Domain rejections are stable; only infrastructure errors are
// worth retrying.
func isDeterministicRejection(err error) bool {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput, dErrors.CodeValidation,
		dErrors.CodeNotFound, dErrors.CodeForbidden, dErrors.CodeConflict,
		dErrors.CodeInvariantViolation, dErrors.CodeUnauthorized:
		return true
	}
	return false
}
