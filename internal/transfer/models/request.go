package models

import (
	"time"

	id "custodian/pkg/domain"
	dErrors "custodian/pkg/domain-errors"
)

// RequestStatus is the lifecycle state of a serial-number pull request.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusAccepted  RequestStatus = "accepted"
	RequestStatusRejected  RequestStatus = "rejected"
	RequestStatusCancelled RequestStatus = "cancelled"
)

func (s RequestStatus) Valid() bool {
	switch s {
	case RequestStatusPending, RequestStatusAccepted, RequestStatusRejected, RequestStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo encodes the allowed transitions. pending is the only
// non-terminal state.
func (s RequestStatus) CanTransitionTo(target RequestStatus) bool {
	if s != RequestStatusPending {
		return false
	}
	switch target {
	case RequestStatusAccepted, RequestStatusRejected, RequestStatusCancelled:
		return true
	}
	return false
}

// TransferRequest is a requester-initiated pull for a specific serial number,
// addressed to the property's current custodian at creation time.
//
// Invariants:
//   - Only the owning user may approve or reject
//   - Only the requesting user may cancel
//   - pending is the only state that permits transitions
//   - Approval moves custody; rejection changes nothing but the status
type TransferRequest struct {
	ID               id.RequestID    `json:"id"`
	PropertyID       id.PropertyID   `json:"property_id"`
	SerialNumber     id.SerialNumber `json:"serial_number"`
	RequestingUserID id.UserID       `json:"requesting_user_id"`
	OwningUserID     id.UserID       `json:"owning_user_id"`
	Status           RequestStatus   `json:"status"`
	Notes            string          `json:"notes,omitempty"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func NewRequest(requestID id.RequestID, propertyID id.PropertyID, serial id.SerialNumber, requester, owner id.UserID, now time.Time) (*TransferRequest, error) {
	if requester == owner {
		return nil, dErrors.New(dErrors.CodeBadRequest, "you already hold this property")
	}
	return &TransferRequest{
		ID:               requestID,
		PropertyID:       propertyID,
		SerialNumber:     serial,
		RequestingUserID: requester,
		OwningUserID:     owner,
		Status:           RequestStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// CanResolve checks that actor is the owner of a pending request.
// Use with ApplyAccept or ApplyReject in Execute callbacks.
func (r *TransferRequest) CanResolve(actor id.UserID) error {
	if r.OwningUserID != actor {
		return dErrors.New(dErrors.CodeForbidden, "only the current custodian can resolve a request")
	}
	if r.Status != RequestStatusPending {
		return dErrors.New(dErrors.CodeConflict, "request is no longer pending")
	}
	return nil
}

// ApplyAccept transitions the request to accepted.
// Call CanResolve first to validate the transition.
func (r *TransferRequest) ApplyAccept(now time.Time) {
	r.Status = RequestStatusAccepted
	resolved := now
	r.ResolvedAt = &resolved
	r.UpdatedAt = now
}

// ApplyReject transitions the request to rejected.
// Call CanResolve first to validate the transition.
func (r *TransferRequest) ApplyReject(now time.Time) {
	r.Status = RequestStatusRejected
	resolved := now
	r.ResolvedAt = &resolved
	r.UpdatedAt = now
}

// CanCancel checks that actor created the request and it is still pending.
func (r *TransferRequest) CanCancel(actor id.UserID) error {
	if r.RequestingUserID != actor {
		return dErrors.New(dErrors.CodeForbidden, "only the requesting user can cancel a request")
	}
	if !r.Status.CanTransitionTo(RequestStatusCancelled) {
		return dErrors.New(dErrors.CodeConflict, "request is no longer pending")
	}
	return nil
}

// ApplyCancel transitions the request to cancelled.
// Call CanCancel first to validate the transition.
func (r *TransferRequest) ApplyCancel(now time.Time) {
	r.Status = RequestStatusCancelled
	resolved := now
	r.ResolvedAt = &resolved
	r.UpdatedAt = now
}
