// Package handler exposes the transfer workflow over HTTP: offers created by
// the custodian and pull requests keyed on a serial number.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"custodian/internal/platform/metrics"
	"custodian/internal/platform/middleware"
	"custodian/internal/transfer/models"
	"custodian/internal/transfer/service"
	"custodian/internal/transport/http/shared"
	id "custodian/pkg/domain"
	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/requestcontext"
)

// Service defines the interface for transfer operations.
type Service interface {
	CreateOffer(ctx context.Context, actor id.UserID, in service.CreateOfferInput) (*models.TransferOffer, error)
	AcceptOffer(ctx context.Context, actor id.UserID, offerID id.OfferID) (*models.TransferOffer, error)
	CancelOffer(ctx context.Context, actor id.UserID, offerID id.OfferID) (*models.TransferOffer, error)
	MarkOfferViewed(ctx context.Context, actor id.UserID, offerID id.OfferID) error
	ListActiveOffers(ctx context.Context, userID id.UserID) ([]*models.TransferOffer, error)
	ListMyOffers(ctx context.Context, userID id.UserID) ([]*models.TransferOffer, error)
	RequestBySerial(ctx context.Context, actor id.UserID, serial id.SerialNumber, notes string) (*models.TransferRequest, error)
	ResolveRequest(ctx context.Context, actor id.UserID, requestID id.RequestID, approve bool) (*models.TransferRequest, error)
	CancelRequest(ctx context.Context, actor id.UserID, requestID id.RequestID) (*models.TransferRequest, error)
	ListIncomingRequests(ctx context.Context, userID id.UserID) ([]*models.TransferRequest, error)
	ListMyRequests(ctx context.Context, userID id.UserID) ([]*models.TransferRequest, error)
}

// Handler handles transfer offer and request endpoints.
type Handler struct {
	logger       *slog.Logger
	transfers    Service
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

// New creates a new transfer Handler.
func New(
	transfers Service,
	logger *slog.Logger,
	metrics *metrics.Metrics,
	jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		transfers:    transfers,
		metrics:      metrics,
		jwtValidator: jwtValidator,
	}
}

// Register registers the transfer routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	transferRouter := chi.NewRouter()
	transferRouter.Use(middleware.Recovery(h.logger))
	transferRouter.Use(middleware.RequestID)
	transferRouter.Use(middleware.Logger(h.logger))
	transferRouter.Use(middleware.Timeout(30 * time.Second))
	transferRouter.Use(middleware.ContentTypeJSON)
	transferRouter.Use(middleware.LatencyMiddleware(h.metrics))
	transferRouter.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

	transferRouter.Post("/offers", h.handleCreateOffer)
	transferRouter.Get("/offers", h.handleListOffers)
	transferRouter.Post("/offers/{offerID}/accept", h.handleAcceptOffer)
	transferRouter.Post("/offers/{offerID}/cancel", h.handleCancelOffer)
	transferRouter.Post("/offers/{offerID}/viewed", h.handleMarkViewed)

	transferRouter.Post("/requests", h.handleCreateRequest)
	transferRouter.Get("/requests", h.handleListRequests)
	transferRouter.Post("/requests/{requestID}/resolve", h.handleResolveRequest)
	transferRouter.Post("/requests/{requestID}/cancel", h.handleCancelRequest)

	r.Mount("/", transferRouter)
}

type createOfferRequest struct {
	PropertyID string     `json:"property_id"`
	Recipients []string   `json:"recipient_user_ids"`
	Notes      string     `json:"notes"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

type createTransferRequestRequest struct {
	SerialNumber string `json:"serial_number"`
	Notes        string `json:"notes"`
}

type resolveRequestRequest struct {
	Action string `json:"action"`
}

func (h *Handler) handleCreateOffer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	actor := requestcontext.UserID(ctx)

	var req createOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid offer request",
			"request_id", requestID,
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	propertyID, err := id.ParsePropertyID(req.PropertyID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	recipients := make([]id.UserID, 0, len(req.Recipients))
	for _, raw := range req.Recipients {
		recipient, err := id.ParseUserID(raw)
		if err != nil {
			shared.WriteError(w, err)
			return
		}
		recipients = append(recipients, recipient)
	}

	offer, err := h.transfers.CreateOffer(ctx, actor, service.CreateOfferInput{
		PropertyID: propertyID,
		Recipients: recipients,
		Notes:      req.Notes,
		ExpiresAt:  req.ExpiresAt,
	})
	if err != nil {
		h.logError(ctx, "failed to create offer", err, requestID)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusCreated, offer)
}

// handleListOffers lists offers addressed to the caller, or offers the caller
// created when ?role=sender.
func (h *Handler) handleListOffers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := requestcontext.UserID(ctx)

	var offers []*models.TransferOffer
	var err error
	if r.URL.Query().Get("role") == "sender" {
		offers, err = h.transfers.ListMyOffers(ctx, actor)
	} else {
		offers, err = h.transfers.ListActiveOffers(ctx, actor)
	}
	if err != nil {
		h.logError(ctx, "failed to list offers", err, middleware.GetRequestID(ctx))
		shared.WriteError(w, err)
		return
	}
	if offers == nil {
		offers = []*models.TransferOffer{}
	}

	shared.WriteJSON(w, http.StatusOK, map[string]any{"offers": offers})
}

func (h *Handler) handleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := requestcontext.UserID(ctx)

	offerID, err := id.ParseOfferID(chi.URLParam(r, "offerID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	offer, err := h.transfers.AcceptOffer(ctx, actor, offerID)
	if err != nil {
		h.logError(ctx, "failed to accept offer", err, middleware.GetRequestID(ctx))
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, offer)
}

func (h *Handler) handleCancelOffer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := requestcontext.UserID(ctx)

	offerID, err := id.ParseOfferID(chi.URLParam(r, "offerID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	offer, err := h.transfers.CancelOffer(ctx, actor, offerID)
	if err != nil {
		h.logError(ctx, "failed to cancel offer", err, middleware.GetRequestID(ctx))
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, offer)
}

func (h *Handler) handleMarkViewed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := requestcontext.UserID(ctx)

	offerID, err := id.ParseOfferID(chi.URLParam(r, "offerID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	if err := h.transfers.MarkOfferViewed(ctx, actor, offerID); err != nil {
		h.logError(ctx, "failed to mark offer viewed", err, middleware.GetRequestID(ctx))
		shared.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	actor := requestcontext.UserID(ctx)

	var req createTransferRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	serial, err := id.ParseSerialNumber(req.SerialNumber)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	transferReq, err := h.transfers.RequestBySerial(ctx, actor, serial, req.Notes)
	if err != nil {
		h.logError(ctx, "failed to create transfer request", err, requestID)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusCreated, transferReq)
}

// handleListRequests lists requests addressed to the caller as custodian, or
// the caller's own requests when ?role=requester.
func (h *Handler) handleListRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := requestcontext.UserID(ctx)

	var reqs []*models.TransferRequest
	var err error
	if r.URL.Query().Get("role") == "requester" {
		reqs, err = h.transfers.ListMyRequests(ctx, actor)
	} else {
		reqs, err = h.transfers.ListIncomingRequests(ctx, actor)
	}
	if err != nil {
		h.logError(ctx, "failed to list transfer requests", err, middleware.GetRequestID(ctx))
		shared.WriteError(w, err)
		return
	}
	if reqs == nil {
		reqs = []*models.TransferRequest{}
	}

	shared.WriteJSON(w, http.StatusOK, map[string]any{"requests": reqs})
}

func (h *Handler) handleResolveRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	actor := requestcontext.UserID(ctx)

	transferRequestID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	var req resolveRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	var approve bool
	switch req.Action {
	case "approve":
		approve = true
	case "reject":
		approve = false
	default:
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "action must be approve or reject"))
		return
	}

	resolved, err := h.transfers.ResolveRequest(ctx, actor, transferRequestID, approve)
	if err != nil {
		h.logError(ctx, "failed to resolve transfer request", err, requestID)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, resolved)
}

func (h *Handler) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := requestcontext.UserID(ctx)

	transferRequestID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	cancelled, err := h.transfers.CancelRequest(ctx, actor, transferRequestID)
	if err != nil {
		h.logError(ctx, "failed to cancel transfer request", err, middleware.GetRequestID(ctx))
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, cancelled)
}

func (h *Handler) logError(ctx context.Context, msg string, err error, requestID string) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, "request_id", requestID, "error", err.Error())
		return
	}
	h.logger.WarnContext(ctx, msg, "request_id", requestID, "error", err.Error())
}
