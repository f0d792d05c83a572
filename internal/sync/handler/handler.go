// Package handler exposes the offline sync queue over HTTP. The client
// identifier comes from the access token, so a device can only see and replay
// its own queue.
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
	"custodian/internal/sync/models"
	"custodian/internal/sync/service"
	"custodian/internal/transport/http/shared"
	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/requestcontext"
)

// Service defines the interface for sync queue operations.
type Service interface {
	Enqueue(ctx context.Context, in service.EnqueueInput) (*models.Entry, error)
	Replay(ctx context.Context, clientID string) (*service.Report, error)
	ListPending(ctx context.Context, clientID string) ([]*models.Entry, error)
	ListResults(ctx context.Context, clientID string) ([]*models.Entry, error)
}

// Handler handles sync queue endpoints.
type Handler struct {
	logger       *slog.Logger
	sync         Service
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

// New creates a new sync Handler.
func New(
	sync Service,
	logger *slog.Logger,
	metrics *metrics.Metrics,
	jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		sync:         sync,
		metrics:      metrics,
		jwtValidator: jwtValidator,
	}
}

// Register registers the sync routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	syncRouter := chi.NewRouter()
	syncRouter.Use(middleware.Recovery(h.logger))
	syncRouter.Use(middleware.RequestID)
	syncRouter.Use(middleware.Logger(h.logger))
	syncRouter.Use(middleware.Timeout(60 * time.Second))
	syncRouter.Use(middleware.ContentTypeJSON)
	syncRouter.Use(middleware.LatencyMiddleware(h.metrics))
	syncRouter.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

	syncRouter.Post("/entries", h.handleEnqueue)
	syncRouter.Get("/entries", h.handleList)
	syncRouter.Post("/replay", h.handleReplay)

	r.Mount("/", syncRouter)
}

type enqueueRequest struct {
	OperationType string          `json:"operation_type"`
	EntityType    string          `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	Payload       json.RawMessage `json:"payload"`
}

func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	clientID := requestcontext.ClientID(ctx)
	if clientID == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "access token carries no client_id"))
		return
	}

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	entry, err := h.sync.Enqueue(ctx, service.EnqueueInput{
		ClientID:      clientID,
		UserID:        requestcontext.UserID(ctx).String(),
		OperationType: models.OperationType(req.OperationType),
		EntityType:    models.EntityType(req.EntityType),
		EntityID:      req.EntityID,
		Payload:       req.Payload,
	})
	if err != nil {
		h.logError(ctx, "failed to enqueue sync entry", err, requestID)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusCreated, entry)
}

// handleList returns the client's pending queue, or finalized entries when
// ?state=results.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	clientID := requestcontext.ClientID(ctx)
	if clientID == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "access token carries no client_id"))
		return
	}

	var entries []*models.Entry
	var err error
	if r.URL.Query().Get("state") == "results" {
		entries, err = h.sync.ListResults(ctx, clientID)
	} else {
		entries, err = h.sync.ListPending(ctx, clientID)
	}
	if err != nil {
		h.logError(ctx, "failed to list sync entries", err, middleware.GetRequestID(ctx))
		shared.WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []*models.Entry{}
	}

	shared.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) handleReplay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	clientID := requestcontext.ClientID(ctx)
	if clientID == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "access token carries no client_id"))
		return
	}

	report, err := h.sync.Replay(ctx, clientID)
	if err != nil {
		h.logError(ctx, "sync replay failed", err, requestID)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) logError(ctx context.Context, msg string, err error, requestID string) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, "request_id", requestID, "error", err.Error())
		return
	}
	h.logger.WarnContext(ctx, msg, "request_id", requestID, "error", err.Error())
}
