package models

import (
	"time"

	id "custodian/pkg/domain"
	dErrors "custodian/pkg/domain-errors"
)

// Connection is a directed friendship edge between two users.
//
// Invariants:
//   - UserID is the requester, ConnectedUserID the recipient
//   - UserID != ConnectedUserID
//   - At most one edge exists per unordered user pair
//   - Only the recipient may accept a pending connection
//
// Connectivity checks treat accepted edges as symmetric regardless of which
// side initiated the request.
type Connection struct {
	ID              id.ConnectionID  `json:"id"`
	UserID          id.UserID        `json:"user_id"`
	ConnectedUserID id.UserID        `json:"connected_user_id"`
	Status          ConnectionStatus `json:"status"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

func NewConnection(connectionID id.ConnectionID, requester, recipient id.UserID, now time.Time) (*Connection, error) {
	if requester.IsNil() || recipient.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "connection requires both users")
	}
	if requester == recipient {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "cannot create a connection to yourself")
	}
	return &Connection{
		ID:              connectionID,
		UserID:          requester,
		ConnectedUserID: recipient,
		Status:          ConnectionStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Involves reports whether the given user is on either side of the edge.
func (c *Connection) Involves(userID id.UserID) bool {
	return c.UserID == userID || c.ConnectedUserID == userID
}

// OtherSide returns the peer of the given user on this edge.
func (c *Connection) OtherSide(userID id.UserID) id.UserID {
	if c.UserID == userID {
		return c.ConnectedUserID
	}
	return c.UserID
}

// CanAccept checks that actor is the recipient of a pending request.
// Use with ApplyAccept in Execute callbacks.
func (c *Connection) CanAccept(actor id.UserID) error {
	if c.ConnectedUserID != actor {
		return dErrors.New(dErrors.CodeForbidden, "only the recipient can accept a connection request")
	}
	if !c.Status.CanTransitionTo(ConnectionStatusAccepted) {
		return dErrors.New(dErrors.CodeInvariantViolation, "connection is not pending")
	}
	return nil
}

// ApplyAccept transitions the edge to accepted.
// Call CanAccept first to validate the transition.
func (c *Connection) ApplyAccept(now time.Time) {
	c.Status = ConnectionStatusAccepted
	c.UpdatedAt = now
}

// CanBlock checks that actor is on the edge and the edge is not already blocked.
// Use with ApplyBlock in Execute callbacks.
func (c *Connection) CanBlock(actor id.UserID) error {
	if !c.Involves(actor) {
		return dErrors.New(dErrors.CodeForbidden, "only a participant can block a connection")
	}
	if !c.Status.CanTransitionTo(ConnectionStatusBlocked) {
		return dErrors.New(dErrors.CodeInvariantViolation, "connection is already blocked")
	}
	return nil
}

// ApplyBlock transitions the edge to blocked.
// Call CanBlock first to validate the transition.
func (c *Connection) ApplyBlock(now time.Time) {
	c.Status = ConnectionStatusBlocked
	c.UpdatedAt = now
}
