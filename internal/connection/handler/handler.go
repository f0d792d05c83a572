package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"custodian/internal/connection/models"
	"custodian/internal/platform/metrics"
	"custodian/internal/platform/middleware"
	"custodian/internal/transport/http/shared"
	id "custodian/pkg/domain"
	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/requestcontext"
)

// Service defines the interface for connection operations.
type Service interface {
	Request(ctx context.Context, requester, target id.UserID) (*models.Connection, error)
	Accept(ctx context.Context, actor id.UserID, connectionID id.ConnectionID) (*models.Connection, error)
	Block(ctx context.Context, actor id.UserID, connectionID id.ConnectionID) (*models.Connection, error)
	List(ctx context.Context, userID id.UserID) ([]*models.Connection, error)
}

// Handler handles connection graph endpoints.
type Handler struct {
	logger       *slog.Logger
	connections  Service
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

// New creates a new connection Handler.
func New(
	connections Service,
	logger *slog.Logger,
	metrics *metrics.Metrics,
	jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		connections:  connections,
		metrics:      metrics,
		jwtValidator: jwtValidator,
	}
}

// Register registers the connection routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	connRouter := chi.NewRouter()
	connRouter.Use(middleware.Recovery(h.logger))
	connRouter.Use(middleware.RequestID)
	connRouter.Use(middleware.Logger(h.logger))
	connRouter.Use(middleware.Timeout(30 * time.Second))
	connRouter.Use(middleware.ContentTypeJSON)
	connRouter.Use(middleware.LatencyMiddleware(h.metrics))
	connRouter.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
	connRouter.Post("/", h.handleRequestConnection)
	connRouter.Get("/", h.handleListConnections)
	connRouter.Patch("/{connectionID}", h.handleUpdateConnection)

	r.Mount("/", connRouter)
}

type requestConnectionRequest struct {
	TargetUserID string `json:"target_user_id"`
}

type updateConnectionRequest struct {
	Status string `json:"status"`
}

func (h *Handler) handleRequestConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	actor := requestcontext.UserID(ctx)
	if actor.IsNil() {
		h.logger.ErrorContext(ctx, "userID missing from context despite auth middleware",
			"request_id", requestID,
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	var req requestConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid connection request",
			"request_id", requestID,
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	target, err := id.ParseUserID(req.TargetUserID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	conn, err := h.connections.Request(ctx, actor, target)
	if err != nil {
		h.logError(ctx, "failed to create connection", err, requestID)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusCreated, conn)
}

func (h *Handler) handleListConnections(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := requestcontext.UserID(ctx)

	conns, err := h.connections.List(ctx, actor)
	if err != nil {
		h.logError(ctx, "failed to list connections", err, middleware.GetRequestID(ctx))
		shared.WriteError(w, err)
		return
	}
	if conns == nil {
		conns = []*models.Connection{}
	}

	shared.WriteJSON(w, http.StatusOK, map[string]any{"connections": conns})
}

func (h *Handler) handleUpdateConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	actor := requestcontext.UserID(ctx)

	connectionID, err := id.ParseConnectionID(chi.URLParam(r, "connectionID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	var req updateConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	var conn *models.Connection
	switch models.ConnectionStatus(req.Status) {
	case models.ConnectionStatusAccepted:
		conn, err = h.connections.Accept(ctx, actor, connectionID)
	case models.ConnectionStatusBlocked:
		conn, err = h.connections.Block(ctx, actor, connectionID)
	default:
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "status must be accepted or blocked"))
		return
	}
	if err != nil {
		h.logError(ctx, "failed to update connection", err, requestID)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, conn)
}

func (h *Handler) logError(ctx context.Context, msg string, err error, requestID string) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, "request_id", requestID, "error", err.Error())
		return
	}
	h.logger.WarnContext(ctx, msg, "request_id", requestID, "error", err.Error())
}
