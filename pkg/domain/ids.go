// Package domain holds shared value types used across service boundaries.
//
// IDs are distinct uuid wrappers so a PropertyID can never be passed where a
// UserID is expected. Construct them via the Parse helpers at trust boundaries;
// direct casting bypasses validation.
package domain

import (
	"github.com/google/uuid"

	dErrors "custodian/pkg/domain-errors"
)

// Typed identifiers for the core entities.
type (
	UserID       uuid.UUID
	PropertyID   uuid.UUID
	OfferID      uuid.UUID
	RequestID    uuid.UUID
	ConnectionID uuid.UUID
)

func parseUUID(s, what string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+what)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" cannot be nil")
	}
	return u, nil
}

// ParseUserID validates and converts external input into a UserID.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user id")
	return UserID(u), err
}

// ParsePropertyID validates and converts external input into a PropertyID.
func ParsePropertyID(s string) (PropertyID, error) {
	u, err := parseUUID(s, "property id")
	return PropertyID(u), err
}

// ParseOfferID validates and converts external input into an OfferID.
func ParseOfferID(s string) (OfferID, error) {
	u, err := parseUUID(s, "offer id")
	return OfferID(u), err
}

// ParseRequestID validates and converts external input into a RequestID.
func ParseRequestID(s string) (RequestID, error) {
	u, err := parseUUID(s, "request id")
	return RequestID(u), err
}

// ParseConnectionID validates and converts external input into a ConnectionID.
func ParseConnectionID(s string) (ConnectionID, error) {
	u, err := parseUUID(s, "connection id")
	return ConnectionID(u), err
}

func (id UserID) String() string       { return uuid.UUID(id).String() }
func (id PropertyID) String() string   { return uuid.UUID(id).String() }
func (id OfferID) String() string      { return uuid.UUID(id).String() }
func (id RequestID) String() string    { return uuid.UUID(id).String() }
func (id ConnectionID) String() string { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id PropertyID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id OfferID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id RequestID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id ConnectionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// MarshalText/UnmarshalText keep the IDs JSON-friendly as plain uuid strings.

func (id UserID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *UserID) UnmarshalText(b []byte) error {
	parsed, err := ParseUserID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id PropertyID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *PropertyID) UnmarshalText(b []byte) error {
	parsed, err := ParsePropertyID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id OfferID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *OfferID) UnmarshalText(b []byte) error {
	parsed, err := ParseOfferID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id RequestID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *RequestID) UnmarshalText(b []byte) error {
	parsed, err := ParseRequestID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id ConnectionID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *ConnectionID) UnmarshalText(b []byte) error {
	parsed, err := ParseConnectionID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
