package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	id "custodian/pkg/domain"
	"custodian/pkg/requestcontext"
)

// JWTValidator defines the interface for validating JWT tokens
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims we expect from the JWT validator
type JWTClaims struct {
	UserID   string
	ClientID string
}

func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			const bearerPrefix = "Bearer "
			if token, ok := strings.CutPrefix(authHeader, bearerPrefix); ok {
				claims, err := validator.ValidateToken(token)
				if err != nil {
					writeUnauthorized(w, r, logger, "Invalid or expired token", err)
					return
				}

				userID, err := id.ParseUserID(claims.UserID)
				if err != nil {
					writeUnauthorized(w, r, logger, "Invalid or expired token", err)
					return
				}

				ctx := requestcontext.WithUserID(r.Context(), userID)
				if claims.ClientID != "" {
					ctx = requestcontext.WithClientID(ctx, claims.ClientID)
				}

				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			// No Authorization header or invalid format
			writeUnauthorized(w, r, logger, "Missing or invalid Authorization header", nil)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, logger *slog.Logger, description string, cause error) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	attrs := []any{"request_id", requestID}
	if cause != nil {
		attrs = append(attrs, "error", cause)
	}
	logger.WarnContext(ctx, "unauthorized access", attrs...)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	if _, err := w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`)); err != nil {
		logger.ErrorContext(ctx, "failed to write unauthorized response",
			"error", err,
			"request_id", requestID,
		)
	}
}
