// Package ledger records custody events as an append-only stream. Every
// completed or attempted transfer leaves a trace here, independent of the
// mutable workflow tables.
package ledger

import (
	"time"

	"github.com/google/uuid"

	id "custodian/pkg/domain"
)

// EventKind identifies what happened.
type EventKind string

const (
	EventOfferCreated       EventKind = "offer_created"
	EventOfferCancelled     EventKind = "offer_cancelled"
	EventOfferExpired       EventKind = "offer_expired"
	EventRequestCreated     EventKind = "request_created"
	EventRequestRejected    EventKind = "request_rejected"
	EventRequestCancelled   EventKind = "request_cancelled"
	EventCustodyTransferred EventKind = "custody_transferred"
)

// Event is one immutable ledger entry.
type Event struct {
	ID           uuid.UUID       `json:"id"`
	Kind         EventKind       `json:"kind"`
	PropertyID   id.PropertyID   `json:"property_id"`
	SerialNumber id.SerialNumber `json:"serial_number,omitempty"`
	FromUserID   id.UserID       `json:"from_user_id,omitempty"`
	ToUserID     id.UserID       `json:"to_user_id,omitempty"`
	OfferID      *id.OfferID     `json:"offer_id,omitempty"`
	RequestID    *id.RequestID   `json:"request_id,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}
