package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/artha-au/baasd/internal/apperrors"
	"github.com/artha-au/baasd/internal/permissions"
)

type transferRequest struct {
	NewOwnerID string `json:"new_owner_id"`
}

// handleTransferOwnership reassigns a record's owner_id. Only the
// current owner or an admin may transfer.
func (a *API) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	caller := CallerFrom(r.Context())
	col, err := a.collections.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	recordID := chi.URLParam(r, "id")

	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, a.logger, err)
		return
	}
	if req.NewOwnerID == "" {
		respondError(w, a.logger, apperrors.Validation("new_owner_id is required"))
		return
	}
	if _, err := a.authStore.GetUserByID(r.Context(), req.NewOwnerID); err != nil {
		respondError(w, a.logger, err)
		return
	}

	record, err := a.records.Get(r.Context(), *col, recordID)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}

	if !caller.IsAdmin() && !permissions.Owns(record, caller.UserID, caller.Email, caller.Username) {
		respondError(w, a.logger, apperrors.New(apperrors.KindInsufficientPerms, "only the record owner or an admin may transfer ownership"))
		return
	}

	if err := a.ownership.Transfer(r.Context(), *col, recordID, req.NewOwnerID); err != nil {
		respondError(w, a.logger, err)
		return
	}

	a.logger.Info().
		Str("collection", col.Name).
		Str("record_id", recordID).
		Str("new_owner_id", req.NewOwnerID).
		Msg("ownership transferred")
	respondMessage(w, http.StatusOK, "ownership transferred")
}

func (a *API) handleCheckOwnership(w http.ResponseWriter, r *http.Request) {
	caller := CallerFrom(r.Context())
	col, err := a.collections.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, a.logger, err)
		return
	}

	record, err := a.records.Get(r.Context(), *col, chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, a.logger, err)
		return
	}

	owns := permissions.Owns(record, caller.UserID, caller.Email, caller.Username)
	respondData(w, http.StatusOK, map[string]bool{"owns": owns})
}

func (a *API) handleOwnedRecords(w http.ResponseWriter, r *http.Request) {
	caller := CallerFrom(r.Context())
	col, err := a.collections.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, a.logger, err)
		return
	}

	ids, err := a.ownership.ListOwnedRecordIDs(r.Context(), *col, caller.UserID, caller.Email, caller.Username)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	respondData(w, http.StatusOK, map[string]interface{}{"record_ids": ids})
}

func (a *API) handleOwnedRecordsForUser(w http.ResponseWriter, r *http.Request) {
	col, err := a.collections.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	user, err := a.authStore.GetUserByID(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		respondError(w, a.logger, err)
		return
	}

	ids, err := a.ownership.ListOwnedRecordIDs(r.Context(), *col, user.ID, user.Email, user.Username)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	respondData(w, http.StatusOK, map[string]interface{}{"user_id": user.ID, "record_ids": ids})
}

func (a *API) handleOwnershipStats(w http.ResponseWriter, r *http.Request) {
	caller := CallerFrom(r.Context())
	cols, err := a.collections.List(r.Context())
	if err != nil {
		respondError(w, a.logger, err)
		return
	}

	stats, err := a.ownership.StatsFor(r.Context(), cols, caller.UserID, caller.Email, caller.Username)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	respondData(w, http.StatusOK, stats)
}
