package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	id "custodian/pkg/domain"
	"custodian/pkg/requestcontext"
)

// ContextWithUser builds a context carrying an authenticated user ID.
func ContextWithUser(userID id.UserID) context.Context {
	return requestcontext.WithUserID(context.Background(), userID)
}

// ContextWithUserAndTime builds a context carrying a user ID and a fixed
// request time, the shape most service tests need.
func ContextWithUserAndTime(userID id.UserID, now time.Time) context.Context {
	ctx := requestcontext.WithUserID(context.Background(), userID)
	return requestcontext.WithTime(ctx, now)
}

// NewUserID returns a fresh random UserID for tests.
func NewUserID(t *testing.T) id.UserID {
	t.Helper()
	return id.UserID(uuid.New())
}

// NewPropertyID returns a fresh random PropertyID for tests.
func NewPropertyID(t *testing.T) id.PropertyID {
	t.Helper()
	return id.PropertyID(uuid.New())
}
