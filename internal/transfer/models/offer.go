// Package models holds the transfer aggregates: owner-initiated offers and
// serial-number pull requests.
package models

import (
	"time"

	id "custodian/pkg/domain"
	dErrors "custodian/pkg/domain-errors"
)

// OfferStatus is the lifecycle state of a transfer offer.
type OfferStatus string

const (
	OfferStatusActive    OfferStatus = "active"
	OfferStatusAccepted  OfferStatus = "accepted"
	OfferStatusExpired   OfferStatus = "expired"
	OfferStatusCancelled OfferStatus = "cancelled"
)

func (s OfferStatus) Valid() bool {
	switch s {
	case OfferStatusActive, OfferStatusAccepted, OfferStatusExpired, OfferStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo encodes the allowed transitions. active is the only
// non-terminal state.
func (s OfferStatus) CanTransitionTo(target OfferStatus) bool {
	if s != OfferStatusActive {
		return false
	}
	switch target {
	case OfferStatusAccepted, OfferStatusExpired, OfferStatusCancelled:
		return true
	}
	return false
}

// OfferRecipient is one invited recipient of an offer.
type OfferRecipient struct {
	OfferID         id.OfferID `json:"offer_id"`
	RecipientUserID id.UserID  `json:"recipient_user_id"`
	NotifiedAt      *time.Time `json:"notified_at,omitempty"`
	ViewedAt        *time.Time `json:"viewed_at,omitempty"`
}

// TransferOffer is an owner-initiated, multi-recipient custody proposal.
//
// Invariants:
//   - The offering user owns the property when the offer is created
//   - At most one active offer exists per property
//   - Only an invited recipient may accept
//   - active is the only state that permits transitions; accepted, expired
//     and cancelled are terminal
//   - An offer past its expiry never transitions to accepted, even before
//     the sweep marks it expired
type TransferOffer struct {
	ID               id.OfferID        `json:"id"`
	PropertyID       id.PropertyID     `json:"property_id"`
	OfferingUserID   id.UserID         `json:"offering_user_id"`
	Status           OfferStatus       `json:"status"`
	Notes            string            `json:"notes,omitempty"`
	ExpiresAt        *time.Time        `json:"expires_at,omitempty"`
	AcceptedByUserID *id.UserID        `json:"accepted_by_user_id,omitempty"`
	AcceptedAt       *time.Time        `json:"accepted_at,omitempty"`
	Recipients       []*OfferRecipient `json:"recipients,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

func NewOffer(offerID id.OfferID, propertyID id.PropertyID, owner id.UserID, recipients []id.UserID, expiresAt *time.Time, now time.Time) (*TransferOffer, error) {
	if len(recipients) == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "offer requires at least one recipient")
	}
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "offer expiry must be in the future")
	}

	offer := &TransferOffer{
		ID:             offerID,
		PropertyID:     propertyID,
		OfferingUserID: owner,
		Status:         OfferStatusActive,
		ExpiresAt:      expiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	seen := make(map[id.UserID]bool, len(recipients))
	for _, recipient := range recipients {
		if recipient == owner {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "cannot offer a property to yourself")
		}
		if seen[recipient] {
			continue
		}
		seen[recipient] = true
		notified := now
		offer.Recipients = append(offer.Recipients, &OfferRecipient{
			OfferID:         offerID,
			RecipientUserID: recipient,
			NotifiedAt:      &notified,
		})
	}
	return offer, nil
}

// IsExpiredAt reports whether the offer's expiry has passed. Expiry is a
// read-time computation; the stored status may still say active until the
// sweep catches up.
func (o *TransferOffer) IsExpiredAt(now time.Time) bool {
	return o.ExpiresAt != nil && !o.ExpiresAt.After(now)
}

// IsInvited reports whether the user is one of the offer's recipients.
func (o *TransferOffer) IsInvited(userID id.UserID) bool {
	for _, r := range o.Recipients {
		if r.RecipientUserID == userID {
			return true
		}
	}
	return false
}

// CanAccept checks that actor is an invited recipient of a live offer.
// Use with ApplyAccept in Execute callbacks.
func (o *TransferOffer) CanAccept(actor id.UserID, now time.Time) error {
	if !o.IsInvited(actor) {
		return dErrors.New(dErrors.CodeForbidden, "you were not invited to this offer")
	}
	if o.IsExpiredAt(now) {
		return dErrors.New(dErrors.CodeConflict, "offer has expired")
	}
	if !o.Status.CanTransitionTo(OfferStatusAccepted) {
		return dErrors.New(dErrors.CodeConflict, "offer is no longer active")
	}
	return nil
}

// ApplyAccept transitions the offer to accepted by the given recipient.
// Call CanAccept first to validate the transition.
func (o *TransferOffer) ApplyAccept(actor id.UserID, now time.Time) {
	o.Status = OfferStatusAccepted
	acceptor := actor
	o.AcceptedByUserID = &acceptor
	accepted := now
	o.AcceptedAt = &accepted
	o.UpdatedAt = now
}

// CanCancel checks that actor created the offer and it is still active.
// Use with ApplyCancel in Execute callbacks.
func (o *TransferOffer) CanCancel(actor id.UserID) error {
	if o.OfferingUserID != actor {
		return dErrors.New(dErrors.CodeForbidden, "only the offering user can cancel an offer")
	}
	if !o.Status.CanTransitionTo(OfferStatusCancelled) {
		return dErrors.New(dErrors.CodeConflict, "offer is no longer active")
	}
	return nil
}

// ApplyCancel transitions the offer to cancelled.
// Call CanCancel first to validate the transition.
func (o *TransferOffer) ApplyCancel(now time.Time) {
	o.Status = OfferStatusCancelled
	o.UpdatedAt = now
}

// ApplyExpire transitions the offer to expired. Used by the sweep; no Can
// counterpart because the sweep only selects live offers past their expiry.
func (o *TransferOffer) ApplyExpire(now time.Time) {
	o.Status = OfferStatusExpired
	o.UpdatedAt = now
}
