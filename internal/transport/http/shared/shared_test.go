package shared

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	dErrors "custodian/pkg/domain-errors"
)

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestWriteError(t *testing.T) {
	t.Run("maps a coded error onto its status", func(t *testing.T) {
		rr := httptest.NewRecorder()
		WriteError(rr, dErrors.New(dErrors.CodeConflict, "property already has an active offer"))

		require.Equal(t, http.StatusConflict, rr.Code)
		body := decodeError(t, rr)
		require.Equal(t, "conflict", body.Error)
		require.Equal(t, "property already has an active offer", body.Description)
	})

	t.Run("finds the code through wrapping", func(t *testing.T) {
		rr := httptest.NewRecorder()
		err := dErrors.Wrap(dErrors.New(dErrors.CodeNotFound, "offer not found"), dErrors.CodeNotFound, "lookup failed")
		WriteError(rr, err)

		require.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("masks non-coded errors as internal", func(t *testing.T) {
		rr := httptest.NewRecorder()
		WriteError(rr, errors.New("pq: connection refused"))

		require.Equal(t, http.StatusInternalServerError, rr.Code)
		body := decodeError(t, rr)
		require.Equal(t, "internal", body.Error)
		require.Equal(t, "internal error", body.Description)
	})
}

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteJSON(rr, http.StatusCreated, map[string]string{"id": "abc"})

	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	require.JSONEq(t, `{"id":"abc"}`, rr.Body.String())
}
