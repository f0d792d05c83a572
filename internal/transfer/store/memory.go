package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"custodian/internal/transfer/models"
	id "custodian/pkg/domain"
	"custodian/pkg/platform/sentinel"
)

// MemoryStore is an in-memory transfer store for tests and development.
// Cross-aggregate atomicity comes from the service's transaction runner, which
// serializes mutating sections; the store's own lock only protects map access.
type MemoryStore struct {
	mu       sync.RWMutex
	offers   map[id.OfferID]*models.TransferOffer
	requests map[id.RequestID]*models.TransferRequest
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		offers:   make(map[id.OfferID]*models.TransferOffer),
		requests: make(map[id.RequestID]*models.TransferRequest),
	}
}

// CreateOfferIfNoneActive inserts the offer unless the property already has a
// live one. A lapsed offer whose sweep has not run yet is expired in place
// first, so it never blocks a new offer.
func (s *MemoryStore) CreateOfferIfNoneActive(_ context.Context, offer *models.TransferOffer, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.offers {
		if existing.PropertyID != offer.PropertyID || existing.Status != models.OfferStatusActive {
			continue
		}
		if existing.IsExpiredAt(now) {
			existing.ApplyExpire(now)
			continue
		}
		return sentinel.ErrConflict
	}
	s.offers[offer.ID] = cloneOffer(offer)
	return nil
}

func (s *MemoryStore) FindOfferByID(_ context.Context, offerID id.OfferID) (*models.TransferOffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	offer, ok := s.offers[offerID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneOffer(offer), nil
}

// FindOfferForUpdate returns the offer for a read-modify-write cycle. The
// caller runs inside the transaction runner, which serializes these cycles.
func (s *MemoryStore) FindOfferForUpdate(ctx context.Context, offerID id.OfferID) (*models.TransferOffer, error) {
	return s.FindOfferByID(ctx, offerID)
}

// UpdateOffer persists offer state produced by a ForUpdate cycle.
func (s *MemoryStore) UpdateOffer(_ context.Context, offer *models.TransferOffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.offers[offer.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.offers[offer.ID] = cloneOffer(offer)
	return nil
}

// ListActiveOffersForUser returns live offers where the user is a recipient.
// Expiry is applied at read time: a lapsed offer is filtered out even if the
// sweep has not marked it yet.
func (s *MemoryStore) ListActiveOffersForUser(_ context.Context, userID id.UserID, now time.Time) ([]*models.TransferOffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.TransferOffer
	for _, offer := range s.offers {
		if offer.Status != models.OfferStatusActive || offer.IsExpiredAt(now) {
			continue
		}
		if offer.IsInvited(userID) {
			out = append(out, cloneOffer(offer))
		}
	}
	sortOffers(out)
	return out, nil
}

func (s *MemoryStore) ListOffersByOwner(_ context.Context, userID id.UserID) ([]*models.TransferOffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.TransferOffer
	for _, offer := range s.offers {
		if offer.OfferingUserID == userID {
			out = append(out, cloneOffer(offer))
		}
	}
	sortOffers(out)
	return out, nil
}

// ExecuteOffer atomically validates and mutates an offer under the store lock.
func (s *MemoryStore) ExecuteOffer(
	_ context.Context,
	offerID id.OfferID,
	validate func(*models.TransferOffer) error,
	mutate func(*models.TransferOffer),
) (*models.TransferOffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, ok := s.offers[offerID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(offer); err != nil {
		return nil, err
	}
	mutate(offer)
	return cloneOffer(offer), nil
}

// MarkOfferViewed records when a recipient first saw the offer.
func (s *MemoryStore) MarkOfferViewed(_ context.Context, offerID id.OfferID, userID id.UserID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, ok := s.offers[offerID]
	if !ok {
		return sentinel.ErrNotFound
	}
	for _, r := range offer.Recipients {
		if r.RecipientUserID == userID {
			if r.ViewedAt == nil {
				viewed := now
				r.ViewedAt = &viewed
			}
			return nil
		}
	}
	return sentinel.ErrNotFound
}

// CancelActiveOffersForProperty cancels every live offer on the property.
// Called when custody moves through a pull request, so stale offers cannot
// be accepted afterwards.
func (s *MemoryStore) CancelActiveOffersForProperty(_ context.Context, propertyID id.PropertyID, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancelled := 0
	for _, offer := range s.offers {
		if offer.PropertyID == propertyID && offer.Status == models.OfferStatusActive {
			offer.ApplyCancel(now)
			cancelled++
		}
	}
	return cancelled, nil
}

// ExpireDueOffers marks every live offer past its expiry as expired.
// Idempotent: a second sweep at the same instant changes nothing.
func (s *MemoryStore) ExpireDueOffers(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for _, offer := range s.offers {
		if offer.Status == models.OfferStatusActive && offer.IsExpiredAt(now) {
			offer.ApplyExpire(now)
			expired++
		}
	}
	return expired, nil
}

func (s *MemoryStore) CreateRequest(_ context.Context, req *models.TransferRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.requests {
		if existing.PropertyID == req.PropertyID &&
			existing.RequestingUserID == req.RequestingUserID &&
			existing.Status == models.RequestStatusPending {
			return sentinel.ErrConflict
		}
	}
	s.requests[req.ID] = cloneRequest(req)
	return nil
}

func (s *MemoryStore) FindRequestByID(_ context.Context, requestID id.RequestID) (*models.TransferRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneRequest(req), nil
}

// FindRequestForUpdate returns the request for a read-modify-write cycle.
func (s *MemoryStore) FindRequestForUpdate(ctx context.Context, requestID id.RequestID) (*models.TransferRequest, error) {
	return s.FindRequestByID(ctx, requestID)
}

// UpdateRequest persists request state produced by a ForUpdate cycle.
func (s *MemoryStore) UpdateRequest(_ context.Context, req *models.TransferRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[req.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.requests[req.ID] = cloneRequest(req)
	return nil
}

func (s *MemoryStore) ListRequestsForOwner(_ context.Context, userID id.UserID) ([]*models.TransferRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.TransferRequest
	for _, req := range s.requests {
		if req.OwningUserID == userID {
			out = append(out, cloneRequest(req))
		}
	}
	sortRequests(out)
	return out, nil
}

func (s *MemoryStore) ListRequestsByRequester(_ context.Context, userID id.UserID) ([]*models.TransferRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.TransferRequest
	for _, req := range s.requests {
		if req.RequestingUserID == userID {
			out = append(out, cloneRequest(req))
		}
	}
	sortRequests(out)
	return out, nil
}

// CancelPendingRequestsForProperty cancels every pending pull request on the
// property. Called when custody moves through an accepted offer.
func (s *MemoryStore) CancelPendingRequestsForProperty(_ context.Context, propertyID id.PropertyID, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancelled := 0
	for _, req := range s.requests {
		if req.PropertyID == propertyID && req.Status == models.RequestStatusPending {
			req.ApplyCancel(now)
			cancelled++
		}
	}
	return cancelled, nil
}

// ExecuteRequest atomically validates and mutates a request under the store lock.
func (s *MemoryStore) ExecuteRequest(
	_ context.Context,
	requestID id.RequestID,
	validate func(*models.TransferRequest) error,
	mutate func(*models.TransferRequest),
) (*models.TransferRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(req); err != nil {
		return nil, err
	}
	mutate(req)
	return cloneRequest(req), nil
}

func sortOffers(offers []*models.TransferOffer) {
	sort.Slice(offers, func(i, j int) bool {
		return offers[i].CreatedAt.Before(offers[j].CreatedAt)
	})
}

func sortRequests(reqs []*models.TransferRequest) {
	sort.Slice(reqs, func(i, j int) bool {
		return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
	})
}

func cloneOffer(offer *models.TransferOffer) *models.TransferOffer {
	copied := *offer
	if offer.ExpiresAt != nil {
		t := *offer.ExpiresAt
		copied.ExpiresAt = &t
	}
	if offer.AcceptedByUserID != nil {
		u := *offer.AcceptedByUserID
		copied.AcceptedByUserID = &u
	}
	if offer.AcceptedAt != nil {
		t := *offer.AcceptedAt
		copied.AcceptedAt = &t
	}
	copied.Recipients = make([]*models.OfferRecipient, len(offer.Recipients))
	for i, r := range offer.Recipients {
		rc := *r
		if r.NotifiedAt != nil {
			t := *r.NotifiedAt
			rc.NotifiedAt = &t
		}
		if r.ViewedAt != nil {
			t := *r.ViewedAt
			rc.ViewedAt = &t
		}
		copied.Recipients[i] = &rc
	}
	return &copied
}

func cloneRequest(req *models.TransferRequest) *models.TransferRequest {
	copied := *req
	if req.ResolvedAt != nil {
		t := *req.ResolvedAt
		copied.ResolvedAt = &t
	}
	return &copied
}
