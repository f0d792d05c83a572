// Package models holds the property aggregate: a uniquely serialized piece of
// equipment with a single current custodian.
package models

import (
	"time"

	id "custodian/pkg/domain"
	dErrors "custodian/pkg/domain-errors"
)

// PropertyStatus is the operational state of a property record.
type PropertyStatus string

const (
	PropertyStatusActive   PropertyStatus = "active"
	PropertyStatusInactive PropertyStatus = "inactive"
	PropertyStatusArchived PropertyStatus = "archived"
)

func (s PropertyStatus) Valid() bool {
	switch s {
	case PropertyStatusActive, PropertyStatusInactive, PropertyStatusArchived:
		return true
	}
	return false
}

// Condition tracks the physical state of the equipment.
type Condition string

const (
	ConditionNew           Condition = "new"
	ConditionServiceable   Condition = "serviceable"
	ConditionNeedsRepair   Condition = "needs_repair"
	ConditionUnserviceable Condition = "unserviceable"
	ConditionBeyondRepair  Condition = "beyond_repair"
)

func (c Condition) Valid() bool {
	switch c {
	case ConditionNew, ConditionServiceable, ConditionNeedsRepair,
		ConditionUnserviceable, ConditionBeyondRepair:
		return true
	}
	return false
}

// Property is a single accountable equipment record.
//
// Invariants:
//   - SerialNumber is globally unique
//   - At most one custodian at any instant (AssignedToUserID, nullable)
//   - Custody changes only through conditional reassignment keyed on the
//     expected previous custodian
type Property struct {
	ID               id.PropertyID   `json:"id"`
	SerialNumber     id.SerialNumber `json:"serial_number"`
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	CurrentStatus    PropertyStatus  `json:"current_status"`
	Condition        Condition       `json:"condition"`
	AssignedToUserID *id.UserID      `json:"assigned_to_user_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func NewProperty(propertyID id.PropertyID, serial id.SerialNumber, name string, owner id.UserID, now time.Time) (*Property, error) {
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "property name cannot be empty")
	}
	if serial == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "property serial number cannot be empty")
	}
	p := &Property{
		ID:            propertyID,
		SerialNumber:  serial,
		Name:          name,
		CurrentStatus: PropertyStatusActive,
		Condition:     ConditionServiceable,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if !owner.IsNil() {
		p.AssignedToUserID = &owner
	}
	return p, nil
}

// OwnedBy reports whether the given user is the current custodian.
func (p *Property) OwnedBy(userID id.UserID) bool {
	return p.AssignedToUserID != nil && *p.AssignedToUserID == userID
}

// Unassigned reports whether the property has no current custodian.
func (p *Property) Unassigned() bool {
	return p.AssignedToUserID == nil
}

// Active reports whether the record is in service. Inactive and archived
// properties are hidden from serial lookups and cannot be transferred.
func (p *Property) Active() bool {
	return p.CurrentStatus == PropertyStatusActive
}
