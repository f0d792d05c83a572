// Package handler exposes account registration, login and profile endpoints.
// Registration and login are the only unauthenticated routes in the service.
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
	"custodian/internal/transport/http/shared"
	"custodian/internal/user/models"
	"custodian/internal/user/service"
	id "custodian/pkg/domain"
	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/requestcontext"
)

// Service defines the interface for user operations.
type Service interface {
	Register(ctx context.Context, in service.RegisterInput) (*models.User, error)
	Login(ctx context.Context, email, password, clientID string) (*models.User, string, error)
	Get(ctx context.Context, userID id.UserID) (*models.User, error)
	Search(ctx context.Context, query string) ([]*models.User, error)
}

// Handler handles user account endpoints.
type Handler struct {
	logger       *slog.Logger
	users        Service
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

// New creates a new user Handler.
func New(
	users Service,
	logger *slog.Logger,
	metrics *metrics.Metrics,
	jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		users:        users,
		metrics:      metrics,
		jwtValidator: jwtValidator,
	}
}

// Register registers the user routes with the chi router. Registration and
// login skip the auth middleware; everything else requires a token.
func (h *Handler) Register(r chi.Router) {
	authRouter := chi.NewRouter()
	authRouter.Use(middleware.Recovery(h.logger))
	authRouter.Use(middleware.RequestID)
	authRouter.Use(middleware.Logger(h.logger))
	authRouter.Use(middleware.Timeout(30 * time.Second))
	authRouter.Use(middleware.ContentTypeJSON)
	authRouter.Use(middleware.LatencyMiddleware(h.metrics))

	authRouter.Group(func(public chi.Router) {
		public.Post("/register", h.handleRegister)
		public.Post("/login", h.handleLogin)
	})
	authRouter.Group(func(private chi.Router) {
		private.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		private.Get("/me", h.handleMe)
		private.Get("/search", h.handleSearch)
	})

	r.Mount("/", authRouter)
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Rank     string `json:"rank"`
	Unit     string `json:"unit"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	ClientID string `json:"client_id"`
}

type loginResponse struct {
	User        *models.User `json:"user"`
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	user, err := h.users.Register(ctx, service.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Rank:     req.Rank,
		Unit:     req.Unit,
	})
	if err != nil {
		h.logError(ctx, "failed to register user", err, requestID)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusCreated, user)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	user, token, err := h.users.Login(ctx, req.Email, req.Password, req.ClientID)
	if err != nil {
		h.logError(ctx, "login failed", err, requestID)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, loginResponse{
		User:        user,
		AccessToken: token,
		TokenType:   "Bearer",
	})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := requestcontext.UserID(ctx)

	user, err := h.users.Get(ctx, actor)
	if err != nil {
		h.logError(ctx, "failed to load profile", err, middleware.GetRequestID(ctx))
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, user)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	users, err := h.users.Search(ctx, r.URL.Query().Get("q"))
	if err != nil {
		h.logError(ctx, "user search failed", err, middleware.GetRequestID(ctx))
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, map[string][]*models.User{"users": users})
}

func (h *Handler) logError(ctx context.Context, msg string, err error, requestID string) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, "request_id", requestID, "error", err.Error())
		return
	}
	h.logger.WarnContext(ctx, msg, "request_id", requestID, "error", err.Error())
}
