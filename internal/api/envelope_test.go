package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artha-au/baasd/internal/apperrors"
)

func TestRespondErrorStatusMapping(t *testing.T) {
	cases := []struct {
		kind apperrors.Kind
		want int
	}{
		{apperrors.KindInvalidCredentials, http.StatusUnauthorized},
		{apperrors.KindAccountLocked, http.StatusForbidden},
		{apperrors.KindAccountNotVerified, http.StatusForbidden},
		{apperrors.KindTokenMissing, http.StatusUnauthorized},
		{apperrors.KindTokenInvalid, http.StatusUnauthorized},
		{apperrors.KindTokenExpired, http.StatusUnauthorized},
		{apperrors.KindInsufficientPerms, http.StatusForbidden},
		{apperrors.KindRateLimitExceeded, http.StatusTooManyRequests},
		{apperrors.KindValidationError, http.StatusBadRequest},
		{apperrors.KindNotFound, http.StatusNotFound},
		{apperrors.KindConflict, http.StatusConflict},
		{apperrors.KindDatabaseError, http.StatusInternalServerError},
		{apperrors.KindInternalError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			rec := httptest.NewRecorder()
			respondError(rec, zerolog.Nop(), apperrors.New(tc.kind, "boom"))
			assert.Equal(t, tc.want, rec.Code)

			var env Envelope
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, string(tc.kind), env.Error.Code)
		})
	}
}

// Untyped errors must collapse to a generic 500 without leaking their
// message to the client.
func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	respondError(rec, zerolog.Nop(), errors.New("pq: connection reset by peer"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NotNil(t, env.Error)
	assert.NotContains(t, env.Error.Message, "connection reset")
}

func TestRespondErrorValidationDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	respondError(rec, zerolog.Nop(), apperrors.Validation("title is required", "views must be a number"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NotNil(t, env.Error)
	assert.Len(t, env.Error.Details, 2)
}

func TestRespondData(t *testing.T) {
	rec := httptest.NewRecorder()
	respondData(rec, http.StatusCreated, map[string]string{"id": "r1"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.True(t, env.Success)
}

func TestNewPagination(t *testing.T) {
	p := NewPagination(10, 0, 45)
	assert.Equal(t, Pagination{CurrentPage: 1, PageSize: 10, TotalCount: 45, TotalPages: 5}, p)

	p = NewPagination(10, 20, 45)
	assert.Equal(t, 3, p.CurrentPage)

	p = NewPagination(10, 0, 0)
	assert.Equal(t, 0, p.TotalPages)
}
