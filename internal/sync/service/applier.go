package service

import (
	"context"
	"encoding/json"
	"time"

	connmodels "custodian/internal/connection/models"
	propmodels "custodian/internal/property/models"
	propservice "custodian/internal/property/service"
	"custodian/internal/sync/models"
	transfermodels "custodian/internal/transfer/models"
	transferservice "custodian/internal/transfer/service"
	id "custodian/pkg/domain"
	dErrors "custodian/pkg/domain-errors"
)

// PropertyService is the slice of the property service the applier needs.
type PropertyService interface {
	Register(ctx context.Context, owner id.UserID, in propservice.RegisterInput) (*propmodels.Property, error)
	UpdateCondition(ctx context.Context, actor id.UserID, propertyID id.PropertyID, condition propmodels.Condition) (*propmodels.Property, error)
}

// TransferService is the slice of the transfer service the applier needs.
type TransferService interface {
	CreateOffer(ctx context.Context, actor id.UserID, in transferservice.CreateOfferInput) (*transfermodels.TransferOffer, error)
	AcceptOffer(ctx context.Context, actor id.UserID, offerID id.OfferID) (*transfermodels.TransferOffer, error)
	CancelOffer(ctx context.Context, actor id.UserID, offerID id.OfferID) (*transfermodels.TransferOffer, error)
	RequestBySerial(ctx context.Context, actor id.UserID, serial id.SerialNumber, notes string) (*transfermodels.TransferRequest, error)
	ResolveRequest(ctx context.Context, actor id.UserID, requestID id.RequestID, approve bool) (*transfermodels.TransferRequest, error)
	CancelRequest(ctx context.Context, actor id.UserID, requestID id.RequestID) (*transfermodels.TransferRequest, error)
}

// ConnectionService is the slice of the connection service the applier needs.
type ConnectionService interface {
	Request(ctx context.Context, requester, target id.UserID) (*connmodels.Connection, error)
	Accept(ctx context.Context, actor id.UserID, connectionID id.ConnectionID) (*connmodels.Connection, error)
	Block(ctx context.Context, actor id.UserID, connectionID id.ConnectionID) (*connmodels.Connection, error)
}

// DomainApplier replays queued mutations against the real domain services.
// The acting user is the one captured on the entry at enqueue time, not
// whoever triggers the replay.
type DomainApplier struct {
	properties  PropertyService
	transfers   TransferService
	connections ConnectionService
}

func NewDomainApplier(properties PropertyService, transfers TransferService, connections ConnectionService) *DomainApplier {
	return &DomainApplier{
		properties:  properties,
		transfers:   transfers,
		connections: connections,
	}
}

func (a *DomainApplier) Apply(ctx context.Context, entry *models.Entry) error {
	actor, err := id.ParseUserID(entry.UserID)
	if err != nil {
		return dErrors.New(dErrors.CodeBadRequest, "sync entry has no valid acting user")
	}

	switch entry.EntityType {
	case models.EntityProperty:
		return a.applyProperty(ctx, actor, entry)
	case models.EntityTransferOffer:
		return a.applyOffer(ctx, actor, entry)
	case models.EntityTransferRequest:
		return a.applyRequest(ctx, actor, entry)
	case models.EntityConnection:
		return a.applyConnection(ctx, actor, entry)
	}
	return dErrors.New(dErrors.CodeBadRequest, "unknown entity_type")
}

type propertyPayload struct {
	SerialNumber string `json:"serial_number"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Condition    string `json:"condition"`
}

func (a *DomainApplier) applyProperty(ctx context.Context, actor id.UserID, entry *models.Entry) error {
	var payload propertyPayload
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		return dErrors.New(dErrors.CodeBadRequest, "malformed property payload")
	}

	switch entry.OperationType {
	case models.OperationCreate:
		_, err := a.properties.Register(ctx, actor, propservice.RegisterInput{
			SerialNumber: payload.SerialNumber,
			Name:         payload.Name,
			Description:  payload.Description,
			Condition:    payload.Condition,
		})
		return err
	case models.OperationUpdate:
		propertyID, err := id.ParsePropertyID(entry.EntityID)
		if err != nil {
			return err
		}
		_, err = a.properties.UpdateCondition(ctx, actor, propertyID, propmodels.Condition(payload.Condition))
		return err
	}
	return dErrors.New(dErrors.CodeBadRequest, "properties cannot be deleted offline")
}

type offerPayload struct {
	PropertyID string     `json:"property_id"`
	Recipients []string   `json:"recipient_user_ids"`
	Notes      string     `json:"notes"`
	ExpiresAt  *time.Time `json:"expires_at"`
	Status     string     `json:"status"`
}

func (a *DomainApplier) applyOffer(ctx context.Context, actor id.UserID, entry *models.Entry) error {
	var payload offerPayload
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		return dErrors.New(dErrors.CodeBadRequest, "malformed offer payload")
	}

	switch entry.OperationType {
	case models.OperationCreate:
		propertyID, err := id.ParsePropertyID(payload.PropertyID)
		if err != nil {
			return err
		}
		recipients := make([]id.UserID, 0, len(payload.Recipients))
		for _, raw := range payload.Recipients {
			recipient, err := id.ParseUserID(raw)
			if err != nil {
				return err
			}
			recipients = append(recipients, recipient)
		}
		_, err = a.transfers.CreateOffer(ctx, actor, transferservice.CreateOfferInput{
			PropertyID: propertyID,
			Recipients: recipients,
			Notes:      payload.Notes,
			ExpiresAt:  payload.ExpiresAt,
		})
		return err

	case models.OperationUpdate:
		offerID, err := id.ParseOfferID(entry.EntityID)
		if err != nil {
			return err
		}
		switch transfermodels.OfferStatus(payload.Status) {
		case transfermodels.OfferStatusAccepted:
			_, err = a.transfers.AcceptOffer(ctx, actor, offerID)
		case transfermodels.OfferStatusCancelled:
			_, err = a.transfers.CancelOffer(ctx, actor, offerID)
		default:
			err = dErrors.New(dErrors.CodeBadRequest, "offer status must be accepted or cancelled")
		}
		return err

	case models.OperationDelete:
		offerID, err := id.ParseOfferID(entry.EntityID)
		if err != nil {
			return err
		}
		_, err = a.transfers.CancelOffer(ctx, actor, offerID)
		return err
	}
	return dErrors.New(dErrors.CodeBadRequest, "unsupported offer operation")
}

type requestPayload struct {
	SerialNumber string `json:"serial_number"`
	Notes        string `json:"notes"`
	Action       string `json:"action"`
}

func (a *DomainApplier) applyRequest(ctx context.Context, actor id.UserID, entry *models.Entry) error {
	var payload requestPayload
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		return dErrors.New(dErrors.CodeBadRequest, "malformed request payload")
	}

	switch entry.OperationType {
	case models.OperationCreate:
		serial, err := id.ParseSerialNumber(payload.SerialNumber)
		if err != nil {
			return err
		}
		_, err = a.transfers.RequestBySerial(ctx, actor, serial, payload.Notes)
		return err

	case models.OperationUpdate:
		requestID, err := id.ParseRequestID(entry.EntityID)
		if err != nil {
			return err
		}
		switch payload.Action {
		case "approve":
			_, err = a.transfers.ResolveRequest(ctx, actor, requestID, true)
		case "reject":
			_, err = a.transfers.ResolveRequest(ctx, actor, requestID, false)
		default:
			err = dErrors.New(dErrors.CodeBadRequest, "request action must be approve or reject")
		}
		return err

	case models.OperationDelete:
		requestID, err := id.ParseRequestID(entry.EntityID)
		if err != nil {
			return err
		}
		_, err = a.transfers.CancelRequest(ctx, actor, requestID)
		return err
	}
	return dErrors.New(dErrors.CodeBadRequest, "unsupported request operation")
}

type connectionPayload struct {
	TargetUserID string `json:"target_user_id"`
	Status       string `json:"status"`
}

func (a *DomainApplier) applyConnection(ctx context.Context, actor id.UserID, entry *models.Entry) error {
	var payload connectionPayload
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		return dErrors.New(dErrors.CodeBadRequest, "malformed connection payload")
	}

	switch entry.OperationType {
	case models.OperationCreate:
		target, err := id.ParseUserID(payload.TargetUserID)
		if err != nil {
			return err
		}
		_, err = a.connections.Request(ctx, actor, target)
		return err

	case models.OperationUpdate:
		connectionID, err := id.ParseConnectionID(entry.EntityID)
		if err != nil {
			return err
		}
		switch connmodels.ConnectionStatus(payload.Status) {
		case connmodels.ConnectionStatusAccepted:
			_, err = a.connections.Accept(ctx, actor, connectionID)
		case connmodels.ConnectionStatusBlocked:
			_, err = a.connections.Block(ctx, actor, connectionID)
		default:
			err = dErrors.New(dErrors.CodeBadRequest, "connection status must be accepted or blocked")
		}
		return err
	}
	return dErrors.New(dErrors.CodeBadRequest, "connections cannot be deleted offline")
}
