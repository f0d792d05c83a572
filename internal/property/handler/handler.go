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
	"custodian/internal/property/models"
	"custodian/internal/property/service"
	"custodian/internal/transport/http/shared"
	id "custodian/pkg/domain"
	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/requestcontext"
)

// Service defines the interface for property operations.
type Service interface {
	Register(ctx context.Context, owner id.UserID, in service.RegisterInput) (*models.Property, error)
	Get(ctx context.Context, propertyID id.PropertyID) (*models.Property, error)
	ListMine(ctx context.Context, userID id.UserID) ([]*models.Property, error)
	UpdateCondition(ctx context.Context, actor id.UserID, propertyID id.PropertyID, condition models.Condition) (*models.Property, error)
}

// Handler handles property endpoints.
type Handler struct {
	logger       *slog.Logger
	properties   Service
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

// New creates a new property Handler.
func New(
	properties Service,
	logger *slog.Logger,
	metrics *metrics.Metrics,
	jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		properties:   properties,
		metrics:      metrics,
		jwtValidator: jwtValidator,
	}
}

// Register registers the property routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	propRouter := chi.NewRouter()
	propRouter.Use(middleware.Recovery(h.logger))
	propRouter.Use(middleware.RequestID)
	propRouter.Use(middleware.Logger(h.logger))
	propRouter.Use(middleware.Timeout(30 * time.Second))
	propRouter.Use(middleware.ContentTypeJSON)
	propRouter.Use(middleware.LatencyMiddleware(h.metrics))
	propRouter.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
	propRouter.Post("/", h.handleRegisterProperty)
	propRouter.Get("/", h.handleListProperties)
	propRouter.Get("/{propertyID}", h.handleGetProperty)
	propRouter.Patch("/{propertyID}/condition", h.handleUpdateCondition)

	r.Mount("/", propRouter)
}

type registerPropertyRequest struct {
	SerialNumber string `json:"serial_number"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Condition    string `json:"condition"`
}

type updateConditionRequest struct {
	Condition string `json:"condition"`
}

func (h *Handler) handleRegisterProperty(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	actor := requestcontext.UserID(ctx)

	var req registerPropertyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid register property request",
			"request_id", requestID,
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	p, err := h.properties.Register(ctx, actor, service.RegisterInput{
		SerialNumber: req.SerialNumber,
		Name:         req.Name,
		Description:  req.Description,
		Condition:    req.Condition,
	})
	if err != nil {
		h.logError(ctx, "failed to register property", err, requestID)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusCreated, p)
}

func (h *Handler) handleListProperties(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := requestcontext.UserID(ctx)

	props, err := h.properties.ListMine(ctx, actor)
	if err != nil {
		h.logError(ctx, "failed to list properties", err, middleware.GetRequestID(ctx))
		shared.WriteError(w, err)
		return
	}
	if props == nil {
		props = []*models.Property{}
	}

	shared.WriteJSON(w, http.StatusOK, map[string]any{"properties": props})
}

func (h *Handler) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	propertyID, err := id.ParsePropertyID(chi.URLParam(r, "propertyID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	p, err := h.properties.Get(ctx, propertyID)
	if err != nil {
		h.logError(ctx, "failed to get property", err, middleware.GetRequestID(ctx))
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) handleUpdateCondition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	actor := requestcontext.UserID(ctx)

	propertyID, err := id.ParsePropertyID(chi.URLParam(r, "propertyID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	var req updateConditionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	p, err := h.properties.UpdateCondition(ctx, actor, propertyID, models.Condition(req.Condition))
	if err != nil {
		h.logError(ctx, "failed to update property condition", err, requestID)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) logError(ctx context.Context, msg string, err error, requestID string) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, "request_id", requestID, "error", err.Error())
		return
	}
	h.logger.WarnContext(ctx, msg, "request_id", requestID, "error", err.Error())
}
