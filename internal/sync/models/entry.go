// Package models holds the offline sync queue entry.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	dErrors "custodian/pkg/domain-errors"
)

// SyncStatus is the lifecycle state of a queued client mutation.
type SyncStatus string

const (
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusConflict SyncStatus = "conflict"
	SyncStatusFailed   SyncStatus = "failed"
)

func (s SyncStatus) Valid() bool {
	switch s {
	case SyncStatusPending, SyncStatusSynced, SyncStatusConflict, SyncStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the entry has left the queue.
func (s SyncStatus) Terminal() bool {
	return s != SyncStatusPending
}

// OperationType is the kind of mutation the client performed offline.
type OperationType string

const (
	OperationCreate OperationType = "create"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

func (o OperationType) Valid() bool {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// EntityType names the aggregate a queued mutation targets.
type EntityType string

const (
	EntityProperty        EntityType = "property"
	EntityTransferOffer   EntityType = "transfer_offer"
	EntityTransferRequest EntityType = "transfer_request"
	EntityConnection      EntityType = "connection"
)

func (e EntityType) Valid() bool {
	switch e {
	case EntityProperty, EntityTransferOffer, EntityTransferRequest, EntityConnection:
		return true
	}
	return false
}

// Entry is one client mutation captured offline, replayed in FIFO order per
// client. A transient failure increments RetryCount and keeps the entry at
// the head of its queue; past the retry ceiling it is marked failed. A
// deterministic domain rejection is marked conflict immediately since
// retrying cannot change the outcome.
type Entry struct {
	ID            uuid.UUID       `json:"id"`
	ClientID      string          `json:"client_id"`
	UserID        string          `json:"user_id"`
	OperationType OperationType   `json:"operation_type"`
	EntityType    EntityType      `json:"entity_type"`
	EntityID      string          `json:"entity_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	Status        SyncStatus      `json:"sync_status"`
	RetryCount    int             `json:"retry_count"`
	LastError     string          `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func NewEntry(entryID uuid.UUID, clientID, userID string, op OperationType, entity EntityType, entityID string, payload json.RawMessage, now time.Time) (*Entry, error) {
	if clientID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "client_id is required")
	}
	if !op.Valid() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "operation_type must be create, update or delete")
	}
	if !entity.Valid() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "unknown entity_type")
	}
	if len(payload) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "payload is required")
	}
	return &Entry{
		ID:            entryID,
		ClientID:      clientID,
		UserID:        userID,
		OperationType: op,
		EntityType:    entity,
		EntityID:      entityID,
		Payload:       payload,
		Status:        SyncStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// MarkSynced finalizes a successfully replayed entry.
func (e *Entry) MarkSynced(now time.Time) {
	e.Status = SyncStatusSynced
	e.LastError = ""
	e.UpdatedAt = now
}

// MarkConflict finalizes an entry the domain deterministically rejected.
func (e *Entry) MarkConflict(reason string, now time.Time) {
	e.Status = SyncStatusConflict
	e.LastError = reason
	e.UpdatedAt = now
}

// RecordFailure counts a transient failure; past the ceiling the entry is
// marked failed and leaves the queue.
func (e *Entry) RecordFailure(reason string, retryLimit int, now time.Time) {
	e.RetryCount++
	e.LastError = reason
	e.UpdatedAt = now
	if e.RetryCount >= retryLimit {
		e.Status = SyncStatusFailed
	}
}
