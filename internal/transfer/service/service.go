// Package service orchestrates custody transfers: owner-initiated offers and
// serial-number pull requests. Acceptance of either is the custody critical
// path and runs inside one transaction with a conditional update on the
// property row, so two concurrent acceptances can never both succeed.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"custodian/internal/ledger"
	propertymodels "custodian/internal/property/models"
	transfermetrics "custodian/internal/transfer/metrics"
	"custodian/internal/transfer/models"
	id "custodian/pkg/domain"
	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/platform/sentinel"
	"custodian/pkg/requestcontext"
)

// OfferStore is the persistence interface for transfer offers.
type OfferStore interface {
	CreateOfferIfNoneActive(ctx context.Context, offer *models.TransferOffer, now time.Time) error
	FindOfferByID(ctx context.Context, offerID id.OfferID) (*models.TransferOffer, error)
	FindOfferForUpdate(ctx context.Context, offerID id.OfferID) (*models.TransferOffer, error)
	UpdateOffer(ctx context.Context, offer *models.TransferOffer) error
	ListActiveOffersForUser(ctx context.Context, userID id.UserID, now time.Time) ([]*models.TransferOffer, error)
	ListOffersByOwner(ctx context.Context, userID id.UserID) ([]*models.TransferOffer, error)
	ExecuteOffer(ctx context.Context, offerID id.OfferID, validate func(*models.TransferOffer) error, mutate func(*models.TransferOffer)) (*models.TransferOffer, error)
	MarkOfferViewed(ctx context.Context, offerID id.OfferID, userID id.UserID, now time.Time) error
	CancelActiveOffersForProperty(ctx context.Context, propertyID id.PropertyID, now time.Time) (int, error)
	ExpireDueOffers(ctx context.Context, now time.Time) (int, error)
}

// RequestStore is the persistence interface for transfer requests.
type RequestStore interface {
	CreateRequest(ctx context.Context, req *models.TransferRequest) error
	FindRequestByID(ctx context.Context, requestID id.RequestID) (*models.TransferRequest, error)
	FindRequestForUpdate(ctx context.Context, requestID id.RequestID) (*models.TransferRequest, error)
	UpdateRequest(ctx context.Context, req *models.TransferRequest) error
	ListRequestsForOwner(ctx context.Context, userID id.UserID) ([]*models.TransferRequest, error)
	ListRequestsByRequester(ctx context.Context, userID id.UserID) ([]*models.TransferRequest, error)
	ExecuteRequest(ctx context.Context, requestID id.RequestID, validate func(*models.TransferRequest) error, mutate func(*models.TransferRequest)) (*models.TransferRequest, error)
	CancelPendingRequestsForProperty(ctx context.Context, propertyID id.PropertyID, now time.Time) (int, error)
}

// PropertyStore is the slice of the property store the transfer service needs.
type PropertyStore interface {
	FindByID(ctx context.Context, propertyID id.PropertyID) (*propertymodels.Property, error)
	FindBySerial(ctx context.Context, serial id.SerialNumber) (*propertymodels.Property, error)
	ReassignFrom(ctx context.Context, propertyID id.PropertyID, expectedOwner, newOwner id.UserID, now time.Time) error
}

// ConnectionGraph gates and records transfers against the friends network.
type ConnectionGraph interface {
	AreConnected(ctx context.Context, a, b id.UserID) (bool, error)
	EnsureConnected(ctx context.Context, a, b id.UserID) error
}

// LedgerEmitter appends custody events to the transfer ledger.
type LedgerEmitter interface {
	Emit(ctx context.Context, event ledger.Event) error
}

// StoreTx provides a transactional boundary spanning the transfer and
// property stores. The postgres implementation shares one database
// transaction through the context; the in-memory fallback serializes
// sections with a mutex.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

// Service orchestrates the transfer workflow.
type Service struct {
	offers      OfferStore
	requests    RequestStore
	properties  PropertyStore
	connections ConnectionGraph
	emitter     LedgerEmitter
	tx          StoreTx
	logger      *slog.Logger
	metrics     *transfermetrics.Metrics
	offerTTL    time.Duration
}

type serviceConfig struct {
	tx       StoreTx
	logger   *slog.Logger
	metrics  *transfermetrics.Metrics
	emitter  LedgerEmitter
	offerTTL time.Duration
}

type Option func(cfg *serviceConfig)

func WithTx(tx StoreTx) Option {
	return func(cfg *serviceConfig) { cfg.tx = tx }
}

func WithLogger(logger *slog.Logger) Option {
	return func(cfg *serviceConfig) { cfg.logger = logger }
}

func WithMetrics(m *transfermetrics.Metrics) Option {
	return func(cfg *serviceConfig) { cfg.metrics = m }
}

func WithLedger(emitter LedgerEmitter) Option {
	return func(cfg *serviceConfig) { cfg.emitter = emitter }
}

// WithOfferTTL sets the default offer lifetime applied when the caller does
// not pass an explicit expiry. Zero means offers never expire by default.
func WithOfferTTL(ttl time.Duration) Option {
	return func(cfg *serviceConfig) { cfg.offerTTL = ttl }
}

func New(offers OfferStore, requests RequestStore, properties PropertyStore, connections ConnectionGraph, opts ...Option) *Service {
	cfg := &serviceConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	tx := cfg.tx
	if tx == nil {
		tx = newInMemoryStoreTx()
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		offers:      offers,
		requests:    requests,
		properties:  properties,
		connections: connections,
		emitter:     cfg.emitter,
		tx:          tx,
		logger:      logger,
		metrics:     cfg.metrics,
		offerTTL:    cfg.offerTTL,
	}
}

// CreateOfferInput carries the fields for creating an offer.
type CreateOfferInput struct {
	PropertyID id.PropertyID
	Recipients []id.UserID
	Notes      string
	ExpiresAt  *time.Time
}

// CreateOffer creates an active offer from the property's current custodian
// to one or more connected recipients.
func (s *Service) CreateOffer(ctx context.Context, actor id.UserID, in CreateOfferInput) (*models.TransferOffer, error) {
	now := requestcontext.Now(ctx)

	property, err := s.properties.FindByID(ctx, in.PropertyID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "property not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load property")
	}
	if !property.Active() {
		return nil, dErrors.New(dErrors.CodeConflict, "property is not in service")
	}
	if !property.OwnedBy(actor) {
		return nil, dErrors.New(dErrors.CodeForbidden, "only the current custodian can offer a property")
	}

	for _, recipient := range in.Recipients {
		connected, err := s.connections.AreConnected(ctx, actor, recipient)
		if err != nil {
			return nil, err
		}
		if !connected {
			return nil, dErrors.New(dErrors.CodeForbidden, "recipients must be connected to you")
		}
	}

	expiresAt := in.ExpiresAt
	if expiresAt == nil && s.offerTTL > 0 {
		t := now.Add(s.offerTTL)
		expiresAt = &t
	}

	offer, err := models.NewOffer(id.OfferID(uuid.New()), in.PropertyID, actor, in.Recipients, expiresAt, now)
	if err != nil {
		return nil, err
	}
	offer.Notes = in.Notes

	// The expire-lapsed update, the offer row and its recipient rows must
	// land together; a partial offer would hold the one-active slot while
	// being unacceptable to the missing invitees.
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		return s.offers.CreateOfferIfNoneActive(txCtx, offer, now)
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "property already has an active offer")
		}
		if dErrors.HasCode(err, dErrors.CodeTimeout) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create offer")
	}

	if s.metrics != nil {
		s.metrics.IncrementOffersCreated()
	}
	s.emit(ctx, ledger.Event{
		Kind:         ledger.EventOfferCreated,
		PropertyID:   property.ID,
		SerialNumber: property.SerialNumber,
		FromUserID:   actor,
		OfferID:      &offer.ID,
		Timestamp:    now,
	})
	return offer, nil
}

// AcceptOffer accepts an offer on behalf of an invited recipient.
//
// Runs in one transaction: the offer row is locked, the transition is
// validated, and custody moves with a conditional update keyed on the
// offering user. If the property changed hands since the offer was made, the
// conditional update affects zero rows and the whole acceptance rolls back
// with Conflict.
func (s *Service) AcceptOffer(ctx context.Context, actor id.UserID, offerID id.OfferID) (*models.TransferOffer, error) {
	now := requestcontext.Now(ctx)
	start := time.Now()

	var accepted *models.TransferOffer
	var property *propertymodels.Property
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		offer, err := s.offers.FindOfferForUpdate(txCtx, offerID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "offer not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load offer")
		}

		if err := offer.CanAccept(actor, now); err != nil {
			return err
		}

		if err := s.properties.ReassignFrom(txCtx, offer.PropertyID, offer.OfferingUserID, actor, now); err != nil {
			switch {
			case errors.Is(err, sentinel.ErrConflict):
				if s.metrics != nil {
					s.metrics.IncrementAcceptConflicts()
				}
				return dErrors.New(dErrors.CodeConflict, "property custody changed, offer is stale")
			case errors.Is(err, sentinel.ErrNotFound):
				return dErrors.New(dErrors.CodeNotFound, "property not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reassign property")
		}

		offer.ApplyAccept(actor, now)
		if err := s.offers.UpdateOffer(txCtx, offer); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update offer")
		}

		// Pending pull requests for the property point at the previous
		// custodian and can never succeed now.
		if _, err := s.requests.CancelPendingRequestsForProperty(txCtx, offer.PropertyID, now); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to cancel pending requests")
		}

		p, err := s.properties.FindByID(txCtx, offer.PropertyID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load property")
		}
		property = p
		accepted = offer
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementOffersAccepted()
		s.metrics.ObserveAccept(start)
	}

	// Successful transfers build the network.
	if err := s.connections.EnsureConnected(ctx, accepted.OfferingUserID, actor); err != nil {
		s.logger.WarnContext(ctx, "failed to record post-transfer connection",
			"offer_id", accepted.ID,
			"error", err,
		)
	}

	s.emit(ctx, ledger.Event{
		Kind:         ledger.EventCustodyTransferred,
		PropertyID:   accepted.PropertyID,
		SerialNumber: property.SerialNumber,
		FromUserID:   accepted.OfferingUserID,
		ToUserID:     actor,
		OfferID:      &accepted.ID,
		Timestamp:    now,
	})
	return accepted, nil
}

// CancelOffer cancels an active offer. Offering user only.
func (s *Service) CancelOffer(ctx context.Context, actor id.UserID, offerID id.OfferID) (*models.TransferOffer, error) {
	now := requestcontext.Now(ctx)
	offer, err := s.offers.ExecuteOffer(ctx, offerID,
		func(o *models.TransferOffer) error {
			return o.CanCancel(actor)
		},
		func(o *models.TransferOffer) {
			o.ApplyCancel(now)
		},
	)
	if err != nil {
		return nil, wrapOfferErr(err)
	}

	if s.metrics != nil {
		s.metrics.IncrementOffersCancelled()
	}
	s.emit(ctx, ledger.Event{
		Kind:       ledger.EventOfferCancelled,
		PropertyID: offer.PropertyID,
		FromUserID: actor,
		OfferID:    &offer.ID,
		Timestamp:  now,
	})
	return offer, nil
}

// ListActiveOffers returns live offers addressed to the user. Expiry is
// computed at read time, so a lapsed offer never shows up even before the
// sweep marks it.
func (s *Service) ListActiveOffers(ctx context.Context, userID id.UserID) ([]*models.TransferOffer, error) {
	offers, err := s.offers.ListActiveOffersForUser(ctx, userID, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list offers")
	}
	return offers, nil
}

// ListMyOffers returns offers the user created, any status.
func (s *Service) ListMyOffers(ctx context.Context, userID id.UserID) ([]*models.TransferOffer, error) {
	offers, err := s.offers.ListOffersByOwner(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list offers")
	}
	return offers, nil
}

// MarkOfferViewed records when an invited recipient first opened the offer.
func (s *Service) MarkOfferViewed(ctx context.Context, actor id.UserID, offerID id.OfferID) error {
	err := s.offers.MarkOfferViewed(ctx, offerID, actor, requestcontext.Now(ctx))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "offer not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark offer viewed")
	}
	return nil
}

// SweepExpiredOffers finalizes every live offer past its expiry. Idempotent;
// called by the background sweeper and safe to call at any time.
func (s *Service) SweepExpiredOffers(ctx context.Context) (int, error) {
	expired, err := s.offers.ExpireDueOffers(ctx, requestcontext.Now(ctx))
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sweep expired offers")
	}
	if expired > 0 && s.metrics != nil {
		s.metrics.AddOffersExpired(expired)
	}
	return expired, nil
}

func (s *Service) emit(ctx context.Context, event ledger.Event) {
	if s.emitter == nil {
		return
	}
	if err := s.emitter.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to emit ledger event",
			"kind", event.Kind,
			"property_id", event.PropertyID,
			"error", err,
		)
	}
}

func wrapOfferErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "offer not found")
	}
	var dErr *dErrors.Error
	if errors.As(err, &dErr) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "offer operation failed")
}
