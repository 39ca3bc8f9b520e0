// Package api is the HTTP surface over the core: request decoding, the
// response envelope, error-kind-to-status mapping, authentication
// middleware, and the chi route tree under /api.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/artha-au/baasd/internal/apperrors"
)

// Envelope is the uniform response shape every endpoint returns.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// ErrorBody is the error half of the envelope.
type ErrorBody struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   []string  `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Pagination is the page descriptor embedded in list responses.
type Pagination struct {
	CurrentPage int `json:"current_page"`
	PageSize    int `json:"page_size"`
	TotalCount  int `json:"total_count"`
	TotalPages  int `json:"total_pages"`
}

// NewPagination derives the page descriptor from limit/offset and a
// total row count.
func NewPagination(limit, offset, total int) Pagination {
	if limit <= 0 {
		limit = 1
	}
	totalPages := (total + limit - 1) / limit
	return Pagination{
		CurrentPage: offset/limit + 1,
		PageSize:    limit,
		TotalCount:  total,
		TotalPages:  totalPages,
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// respondData writes a success envelope.
func respondData(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, Envelope{Success: true, Data: data})
}

// respondMessage writes a success envelope with only a message.
func respondMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Envelope{Success: true, Message: message})
}

// respondError maps err to its HTTP status and writes the error
// envelope. Storage and other internal failures are collapsed to a
// generic DatabaseError/InternalError so no engine detail leaks to the
// client; the full error is logged instead.
func respondError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		logger.Error().Err(err).Msg("internal error")
		appErr = apperrors.New(apperrors.KindInternalError, "internal server error")
	}

	switch appErr.Kind {
	case apperrors.KindDatabaseError, apperrors.KindInternalError:
		logger.Error().Err(err).Msg("request failed")
		// keep the client-facing message generic
		appErr = apperrors.New(appErr.Kind, "internal server error")
	}

	body := ErrorBody{
		Code:      string(appErr.Kind),
		Message:   appErr.Error(),
		Timestamp: time.Now().UTC(),
	}
	if appErr.Kind == apperrors.KindValidationError && len(appErr.Messages) > 1 {
		body.Details = appErr.Messages
	}
	writeJSON(w, apperrors.StatusFor(appErr.Kind), Envelope{Success: false, Error: &body})
}

// decodeBody decodes a JSON request body into dst, surfacing a
// validation error on malformed JSON.
func decodeBody(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.Validation("request body is not valid JSON")
	}
	return nil
}
