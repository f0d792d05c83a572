package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"custodian/internal/ledger"
	"custodian/internal/transfer/models"
	id "custodian/pkg/domain"
	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/platform/sentinel"
	"custodian/pkg/requestcontext"
)

// RequestBySerial asks the current custodian of the property with the given
// serial number to hand it over. The requester must be connected to the
// custodian.
func (s *Service) RequestBySerial(ctx context.Context, actor id.UserID, serial id.SerialNumber, notes string) (*models.TransferRequest, error) {
	now := requestcontext.Now(ctx)

	property, err := s.properties.FindBySerial(ctx, serial)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no property with that serial number")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up property")
	}
	if !property.Active() {
		return nil, dErrors.New(dErrors.CodeNotFound, "no property with that serial number")
	}
	if property.Unassigned() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "property has no current custodian")
	}
	owner := *property.AssignedToUserID

	connected, err := s.connections.AreConnected(ctx, actor, owner)
	if err != nil {
		return nil, err
	}
	if !connected {
		return nil, dErrors.New(dErrors.CodeForbidden, "you must be connected to the custodian to request a property")
	}

	req, err := models.NewRequest(id.RequestID(uuid.New()), property.ID, property.SerialNumber, actor, owner, now)
	if err != nil {
		return nil, err
	}
	req.Notes = notes

	if err := s.requests.CreateRequest(ctx, req); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "you already have a pending request for this property")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create request")
	}

	if s.metrics != nil {
		s.metrics.IncrementRequestsCreated()
	}
	s.emit(ctx, ledger.Event{
		Kind:         ledger.EventRequestCreated,
		PropertyID:   property.ID,
		SerialNumber: property.SerialNumber,
		FromUserID:   actor,
		ToUserID:     owner,
		RequestID:    &req.ID,
		Timestamp:    now,
	})
	return req, nil
}

// ResolveRequest accepts or rejects a pending request. Custodian only.
//
// Acceptance runs in one transaction with the same conditional custody update
// as offer acceptance: if the property changed hands since the request was
// made, resolution fails with Conflict and the request stays pending.
func (s *Service) ResolveRequest(ctx context.Context, actor id.UserID, requestID id.RequestID, approve bool) (*models.TransferRequest, error) {
	now := requestcontext.Now(ctx)

	if !approve {
		req, err := s.requests.ExecuteRequest(ctx, requestID,
			func(r *models.TransferRequest) error {
				return r.CanResolve(actor)
			},
			func(r *models.TransferRequest) {
				r.ApplyReject(now)
			},
		)
		if err != nil {
			return nil, wrapRequestErr(err)
		}
		s.emit(ctx, ledger.Event{
			Kind:       ledger.EventRequestRejected,
			PropertyID: req.PropertyID,
			FromUserID: req.RequestingUserID,
			ToUserID:   actor,
			RequestID:  &req.ID,
			Timestamp:  now,
		})
		return req, nil
	}

	var resolved *models.TransferRequest
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		req, err := s.requests.FindRequestForUpdate(txCtx, requestID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "request not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load request")
		}

		if err := req.CanResolve(actor); err != nil {
			return err
		}

		if err := s.properties.ReassignFrom(txCtx, req.PropertyID, actor, req.RequestingUserID, now); err != nil {
			switch {
			case errors.Is(err, sentinel.ErrConflict):
				if s.metrics != nil {
					s.metrics.IncrementAcceptConflicts()
				}
				return dErrors.New(dErrors.CodeConflict, "property custody changed, request is stale")
			case errors.Is(err, sentinel.ErrNotFound):
				return dErrors.New(dErrors.CodeNotFound, "property not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reassign property")
		}

		req.ApplyAccept(now)
		if err := s.requests.UpdateRequest(txCtx, req); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update request")
		}

		// Offers the previous custodian had open for this property are now
		// unservable.
		if _, err := s.offers.CancelActiveOffersForProperty(txCtx, req.PropertyID, now); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to cancel open offers")
		}
		resolved = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementRequestsAccepted()
	}
	if err := s.connections.EnsureConnected(ctx, actor, resolved.RequestingUserID); err != nil {
		s.logger.WarnContext(ctx, "failed to record post-transfer connection",
			"request_id", resolved.ID,
			"error", err,
		)
	}

	s.emit(ctx, ledger.Event{
		Kind:       ledger.EventCustodyTransferred,
		PropertyID: resolved.PropertyID,
		FromUserID: actor,
		ToUserID:   resolved.RequestingUserID,
		RequestID:  &resolved.ID,
		Timestamp:  now,
	})
	return resolved, nil
}

// CancelRequest withdraws a pending request. Requester only.
func (s *Service) CancelRequest(ctx context.Context, actor id.UserID, requestID id.RequestID) (*models.TransferRequest, error) {
	now := requestcontext.Now(ctx)
	req, err := s.requests.ExecuteRequest(ctx, requestID,
		func(r *models.TransferRequest) error {
			return r.CanCancel(actor)
		},
		func(r *models.TransferRequest) {
			r.ApplyCancel(now)
		},
	)
	if err != nil {
		return nil, wrapRequestErr(err)
	}

	s.emit(ctx, ledger.Event{
		Kind:       ledger.EventRequestCancelled,
		PropertyID: req.PropertyID,
		FromUserID: actor,
		RequestID:  &req.ID,
		Timestamp:  now,
	})
	return req, nil
}

// ListIncomingRequests returns requests addressed to the user as custodian.
func (s *Service) ListIncomingRequests(ctx context.Context, userID id.UserID) ([]*models.TransferRequest, error) {
	reqs, err := s.requests.ListRequestsForOwner(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list requests")
	}
	return reqs, nil
}

// ListMyRequests returns requests the user has made, any status.
func (s *Service) ListMyRequests(ctx context.Context, userID id.UserID) ([]*models.TransferRequest, error) {
	reqs, err := s.requests.ListRequestsByRequester(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list requests")
	}
	return reqs, nil
}

func wrapRequestErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "request not found")
	}
	var dErr *dErrors.Error
	if errors.As(err, &dErr) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "request operation failed")
}
