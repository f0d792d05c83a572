package handler

import (
	"context"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	connservice "custodian/internal/connection/service"
	connstore "custodian/internal/connection/store"
	"custodian/internal/jwttoken"
	propmodels "custodian/internal/property/models"
	propstore "custodian/internal/property/store"
	"custodian/internal/transfer/models"
	"custodian/internal/transfer/service"
	"custodian/internal/transfer/store"
	id "custodian/pkg/domain"
	"custodian/pkg/testutil"
)

// handlerFixture wires the transfer handler with in-memory stores and a real
// token service, so requests travel the full middleware chain.
type handlerFixture struct {
	router chi.Router
	jwt    *jwttoken.JWTService
	props  *propstore.MemoryStore
	conns  *connservice.Service

	alice id.UserID
	bob   id.UserID
	rifle *propmodels.Property
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	f := &handlerFixture{
		jwt:   jwttoken.NewJWTService("test-signing-key", "custodian", "custodian-api"),
		props: propstore.NewMemory(),
		conns: connservice.New(connstore.NewMemory()),
		alice: id.UserID(uuid.New()),
		bob:   id.UserID(uuid.New()),
	}

	conn, err := f.conns.Request(ctx, f.alice, f.bob)
	require.NoError(t, err)
	_, err = f.conns.Accept(ctx, f.bob, conn.ID)
	require.NoError(t, err)

	rifle, err := propmodels.NewProperty(id.PropertyID(uuid.New()), "SN-0001", "M4 Carbine", f.alice, now)
	require.NoError(t, err)
	require.NoError(t, f.props.Create(ctx, rifle))
	f.rifle = rifle

	transfers := store.NewMemory()
	svc := service.New(transfers, transfers, f.props, f.conns)

	logger := slog.New(slog.DiscardHandler)
	h := New(svc, logger, nil, jwttoken.NewJWTServiceAdapter(f.jwt))

	sub := chi.NewRouter()
	h.Register(sub)
	root := chi.NewRouter()
	root.Mount("/api/v1/transfers", sub)
	f.router = root
	return f
}

func (f *handlerFixture) authed(t *testing.T, req *http.Request, userID id.UserID) *http.Request {
	t.Helper()
	token, err := f.jwt.GenerateAccessToken(uuid.UUID(userID), "device-1", time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestOfferEndpoints(t *testing.T) {
	f := newHandlerFixture(t)

	var offerID string
	t.Run("custodian posts an offer", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/api/v1/transfers/offers", map[string]any{
			"property_id":        f.rifle.ID.String(),
			"recipient_user_ids": []string{f.bob.String()},
			"notes":              "handing over before leave",
		})
		rr := testutil.DoRequest(f.router, f.authed(t, req, f.alice))

		testutil.AssertStatus(t, rr, http.StatusCreated)
		offer := testutil.UnmarshalResponse[models.TransferOffer](t, rr)
		require.Equal(t, models.OfferStatusActive, offer.Status)
		offerID = offer.ID.String()
	})

	t.Run("recipient sees it in their active offers", func(t *testing.T) {
		req := testutil.NewRequest(t, http.MethodGet, "/api/v1/transfers/offers")
		rr := testutil.DoRequest(f.router, f.authed(t, req, f.bob))

		testutil.AssertStatus(t, rr, http.StatusOK)
		body := testutil.UnmarshalResponse[map[string][]models.TransferOffer](t, rr)
		require.Len(t, (*body)["offers"], 1)
	})

	t.Run("accepting moves custody to the recipient", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/api/v1/transfers/offers/"+offerID+"/accept", nil)
		rr := testutil.DoRequest(f.router, f.authed(t, req, f.bob))

		testutil.AssertStatus(t, rr, http.StatusOK)
		offer := testutil.UnmarshalResponse[models.TransferOffer](t, rr)
		require.Equal(t, models.OfferStatusAccepted, offer.Status)

		reloaded, err := f.props.FindByID(context.Background(), f.rifle.ID)
		require.NoError(t, err)
		require.True(t, reloaded.OwnedBy(f.bob))
	})

	t.Run("a second accept conflicts", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/api/v1/transfers/offers/"+offerID+"/accept", nil)
		rr := testutil.DoRequest(f.router, f.authed(t, req, f.bob))

		testutil.AssertStatusAndError(t, rr, http.StatusConflict, "conflict")
	})
}

func TestOfferAuthz(t *testing.T) {
	f := newHandlerFixture(t)

	t.Run("rejects requests without a token", func(t *testing.T) {
		req := testutil.NewRequest(t, http.MethodGet, "/api/v1/transfers/offers")
		rr := testutil.DoRequest(f.router, req)
		testutil.AssertStatus(t, rr, http.StatusUnauthorized)
	})

	t.Run("non-custodian cannot create an offer", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/api/v1/transfers/offers", map[string]any{
			"property_id":        f.rifle.ID.String(),
			"recipient_user_ids": []string{f.alice.String()},
		})
		rr := testutil.DoRequest(f.router, f.authed(t, req, f.bob))

		testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "forbidden")
	})

	t.Run("malformed offer id is a bad request", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/api/v1/transfers/offers/not-a-uuid/accept", nil)
		rr := testutil.DoRequest(f.router, f.authed(t, req, f.bob))

		testutil.AssertStatus(t, rr, http.StatusBadRequest)
	})
}

func TestRequestEndpoints(t *testing.T) {
	f := newHandlerFixture(t)

	var requestID string
	t.Run("connected user requests by serial", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/api/v1/transfers/requests", map[string]any{
			"serial_number": "SN-0001",
			"notes":         "need it for the range",
		})
		rr := testutil.DoRequest(f.router, f.authed(t, req, f.bob))

		testutil.AssertStatus(t, rr, http.StatusCreated)
		created := testutil.UnmarshalResponse[models.TransferRequest](t, rr)
		require.Equal(t, models.RequestStatusPending, created.Status)
		requestID = created.ID.String()
	})

	t.Run("custodian sees the incoming request", func(t *testing.T) {
		req := testutil.NewRequest(t, http.MethodGet, "/api/v1/transfers/requests")
		rr := testutil.DoRequest(f.router, f.authed(t, req, f.alice))

		testutil.AssertStatus(t, rr, http.StatusOK)
		body := testutil.UnmarshalResponse[map[string][]models.TransferRequest](t, rr)
		require.Len(t, (*body)["requests"], 1)
	})

	t.Run("custodian approves and custody moves", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/api/v1/transfers/requests/"+requestID+"/resolve", map[string]any{
			"action": "approve",
		})
		rr := testutil.DoRequest(f.router, f.authed(t, req, f.alice))

		testutil.AssertStatus(t, rr, http.StatusOK)
		resolved := testutil.UnmarshalResponse[models.TransferRequest](t, rr)
		require.Equal(t, models.RequestStatusAccepted, resolved.Status)

		reloaded, err := f.props.FindByID(context.Background(), f.rifle.ID)
		require.NoError(t, err)
		require.True(t, reloaded.OwnedBy(f.bob))
	})

	t.Run("unknown action is a bad request", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/api/v1/transfers/requests/"+requestID+"/resolve", map[string]any{
			"action": "maybe",
		})
		rr := testutil.DoRequest(f.router, f.authed(t, req, f.alice))

		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "bad_request")
	})
}
