package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/artha-au/baasd/internal/apperrors"
)

// handleWebsocket upgrades the request. Identity comes from the normal
// token sources, with a ?token= query parameter as a fallback since
// browser WebSocket clients can't set an Authorization header. A bad
// token is rejected; no token at all yields an anonymous connection.
func (a *API) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	userID := ""
	if caller := CallerFrom(r.Context()); caller != nil {
		userID = caller.UserID
	} else if token := r.URL.Query().Get("token"); token != "" {
		claims, err := a.auth.ValidateAccessToken(r.Context(), token)
		if err != nil {
			respondError(w, a.logger, err)
			return
		}
		userID = claims.Subject
	}

	if _, err := a.bus.Upgrade(w, r, userID); err != nil {
		// the upgrader has already written its own failure response
		a.logger.Warn().Err(err).Msg("websocket upgrade failed")
	}
}

// handleWSStatus is the public counts probe.
func (a *API) handleWSStatus(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, a.bus.Stats())
}

func (a *API) handleWSStats(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, a.bus.Stats())
}

func (a *API) handleWSConnections(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, a.bus.ListConnections())
}

func (a *API) handleWSDisconnect(w http.ResponseWriter, r *http.Request) {
	a.bus.Disconnect(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

type broadcastRequest struct {
	Message     json.RawMessage `json:"message"`
	UserIDs     []string        `json:"user_ids,omitempty"`
	Collections []string        `json:"collections,omitempty"`
}

func (a *API) handleWSBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, a.logger, err)
		return
	}
	if len(req.Message) == 0 {
		respondError(w, a.logger, apperrors.Validation("message is required"))
		return
	}

	sent := a.bus.Broadcast(req.Message, req.UserIDs, req.Collections)
	respondData(w, http.StatusOK, map[string]int{"delivered_to": sent})
}

func (a *API) handleWSActivity(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	respondData(w, http.StatusOK, a.bus.RecentActivity(limit))
}
