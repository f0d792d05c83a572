// Package service orchestrates property registration and custody lookups.
// Custody changes themselves flow through the transfer module; this service
// owns everything else about a property record.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"custodian/internal/property/models"
	id "custodian/pkg/domain"
	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/platform/sentinel"
	"custodian/pkg/requestcontext"
)

// Store is the persistence interface the property service depends on.
type Store interface {
	Create(ctx context.Context, p *models.Property) error
	FindByID(ctx context.Context, propertyID id.PropertyID) (*models.Property, error)
	FindBySerial(ctx context.Context, serial id.SerialNumber) (*models.Property, error)
	ListForUser(ctx context.Context, userID id.UserID) ([]*models.Property, error)
	Update(ctx context.Context, p *models.Property) error
}

// Service manages property records.
type Service struct {
	store  Store
	logger *slog.Logger
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
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

// RegisterInput carries the fields for registering a new property.
type RegisterInput struct {
	SerialNumber string
	Name         string
	Description  string
	Condition    string
}

// Register creates a property record assigned to the caller.
func (s *Service) Register(ctx context.Context, owner id.UserID, in RegisterInput) (*models.Property, error) {
	serial, err := id.ParseSerialNumber(in.SerialNumber)
	if err != nil {
		return nil, err
	}

	p, err := models.NewProperty(id.PropertyID(uuid.New()), serial, strings.TrimSpace(in.Name), owner, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if in.Description != "" {
		p.Description = strings.TrimSpace(in.Description)
	}
	if in.Condition != "" {
		cond := models.Condition(in.Condition)
		if !cond.Valid() {
			return nil, dErrors.New(dErrors.CodeBadRequest, "unknown property condition")
		}
		p.Condition = cond
	}

	if err := s.store.Create(ctx, p); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "serial number is already registered")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to register property")
	}
	return p, nil
}

// Get returns a property by ID.
func (s *Service) Get(ctx context.Context, propertyID id.PropertyID) (*models.Property, error) {
	p, err := s.store.FindByID(ctx, propertyID)
	if err != nil {
		return nil, wrapPropertyErr(err)
	}
	return p, nil
}

// GetBySerial returns an in-service property by its unique serial number.
// Inactive and archived records look the same as unknown serials.
func (s *Service) GetBySerial(ctx context.Context, serial id.SerialNumber) (*models.Property, error) {
	p, err := s.store.FindBySerial(ctx, serial)
	if err != nil {
		return nil, wrapPropertyErr(err)
	}
	if !p.Active() {
		return nil, dErrors.New(dErrors.CodeNotFound, "property not found")
	}
	return p, nil
}

// ListMine returns the properties currently held by the user.
func (s *Service) ListMine(ctx context.Context, userID id.UserID) ([]*models.Property, error) {
	props, err := s.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list properties")
	}
	return props, nil
}

// UpdateCondition records a condition change. Custodian only.
func (s *Service) UpdateCondition(ctx context.Context, actor id.UserID, propertyID id.PropertyID, condition models.Condition) (*models.Property, error) {
	if !condition.Valid() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "unknown property condition")
	}

	p, err := s.store.FindByID(ctx, propertyID)
	if err != nil {
		return nil, wrapPropertyErr(err)
	}
	if !p.OwnedBy(actor) {
		return nil, dErrors.New(dErrors.CodeForbidden, "only the current custodian can update a property")
	}

	p.Condition = condition
	p.UpdatedAt = requestcontext.Now(ctx)
	if err := s.store.Update(ctx, p); err != nil {
		return nil, wrapPropertyErr(err)
	}
	return p, nil
}

func wrapPropertyErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "property not found")
	}
	var dErr *dErrors.Error
	if errors.As(err, &dErr) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "property operation failed")
}
