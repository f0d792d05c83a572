// Package service orchestrates the connection graph: who may exchange
// property with whom.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	connmetrics "custodian/internal/connection/metrics"
	"custodian/internal/connection/models"
	id "custodian/pkg/domain"
	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/platform/sentinel"
	"custodian/pkg/requestcontext"
)

// Store is the persistence interface the connection service depends on.
type Store interface {
	CreateIfAbsent(ctx context.Context, conn *models.Connection) error
	FindByID(ctx context.Context, connectionID id.ConnectionID) (*models.Connection, error)
	FindBetween(ctx context.Context, a, b id.UserID) (*models.Connection, error)
	ListForUser(ctx context.Context, userID id.UserID) ([]*models.Connection, error)
	AreConnected(ctx context.Context, a, b id.UserID) (bool, error)
	Execute(ctx context.Context, connectionID id.ConnectionID, validate func(*models.Connection) error, mutate func(*models.Connection)) (*models.Connection, error)
}

// Service manages the connection graph.
type Service struct {
	store   Store
	logger  *slog.Logger
	metrics *connmetrics.Metrics
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *connmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request creates a pending connection from the authenticated user to target.
// Returns Conflict when an edge already exists between the pair in either
// direction.
func (s *Service) Request(ctx context.Context, requester, target id.UserID) (*models.Connection, error) {
	conn, err := models.NewConnection(id.ConnectionID(uuid.New()), requester, target, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateIfAbsent(ctx, conn); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "a connection already exists between these users")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create connection")
	}

	if s.metrics != nil {
		s.metrics.IncrementRequested()
	}
	return conn, nil
}

// Accept transitions a pending connection to accepted. Only the recipient of
// the request may accept it.
func (s *Service) Accept(ctx context.Context, actor id.UserID, connectionID id.ConnectionID) (*models.Connection, error) {
	now := requestcontext.Now(ctx)
	conn, err := s.store.Execute(ctx, connectionID,
		func(c *models.Connection) error {
			if err := c.CanAccept(actor); err != nil {
				if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
					return dErrors.New(dErrors.CodeConflict, "connection is not pending")
				}
				return err
			}
			return nil
		},
		func(c *models.Connection) {
			c.ApplyAccept(now)
		},
	)
	if err != nil {
		return nil, wrapConnectionErr(err)
	}

	if s.metrics != nil {
		s.metrics.IncrementAccepted()
	}
	return conn, nil
}

// Block transitions a connection to blocked. Either participant may block.
func (s *Service) Block(ctx context.Context, actor id.UserID, connectionID id.ConnectionID) (*models.Connection, error) {
	now := requestcontext.Now(ctx)
	conn, err := s.store.Execute(ctx, connectionID,
		func(c *models.Connection) error {
			if err := c.CanBlock(actor); err != nil {
				if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
					return dErrors.New(dErrors.CodeConflict, "connection is already blocked")
				}
				return err
			}
			return nil
		},
		func(c *models.Connection) {
			c.ApplyBlock(now)
		},
	)
	if err != nil {
		return nil, wrapConnectionErr(err)
	}

	if s.metrics != nil {
		s.metrics.IncrementBlocked()
	}
	return conn, nil
}

// EnsureConnected guarantees an edge exists between the pair after a
// completed transfer, so successful transfers build the network. An existing
// pending edge is promoted to accepted; a blocked edge is left untouched.
// Idempotent and safe under concurrent calls.
func (s *Service) EnsureConnected(ctx context.Context, a, b id.UserID) error {
	now := requestcontext.Now(ctx)

	existing, err := s.store.FindBetween(ctx, a, b)
	switch {
	case err == nil:
		if existing.Status != models.ConnectionStatusPending {
			return nil
		}
		_, err = s.store.Execute(ctx, existing.ID,
			func(c *models.Connection) error { return nil },
			func(c *models.Connection) {
				if c.Status == models.ConnectionStatusPending {
					c.ApplyAccept(now)
				}
			},
		)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to promote connection")
		}
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		conn, err := models.NewConnection(id.ConnectionID(uuid.New()), a, b, now)
		if err != nil {
			return err
		}
		conn.Status = models.ConnectionStatusAccepted
		if err := s.store.CreateIfAbsent(ctx, conn); err != nil {
			// A concurrent transfer created the edge first.
			if errors.Is(err, sentinel.ErrConflict) {
				return nil
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create connection")
		}
		return nil
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up connection")
	}
}

// List returns all edges involving the user, any status.
func (s *Service) List(ctx context.Context, userID id.UserID) ([]*models.Connection, error) {
	conns, err := s.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list connections")
	}
	return conns, nil
}

// AreConnected reports whether the pair shares an accepted edge. The check is
// symmetric in its arguments.
func (s *Service) AreConnected(ctx context.Context, a, b id.UserID) (bool, error) {
	connected, err := s.store.AreConnected(ctx, a, b)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check connection")
	}
	return connected, nil
}

func wrapConnectionErr(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "connection not found")
	case err == nil:
		return nil
	}
	var dErr *dErrors.Error
	if errors.As(err, &dErr) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "connection operation failed")
}
