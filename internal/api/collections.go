package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/artha-au/baasd/internal/collections"
)

func (a *API) handleListCollections(w http.ResponseWriter, r *http.Request) {
	cols, err := a.collections.List(r.Context())
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	respondData(w, http.StatusOK, cols)
}

func (a *API) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var req collections.CreateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, a.logger, err)
		return
	}

	col, err := a.collections.Create(r.Context(), req)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	a.logger.Info().Str("collection", col.Name).Msg("collection created")
	respondData(w, http.StatusCreated, col)
}

func (a *API) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	col, err := a.collections.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	respondData(w, http.StatusOK, col)
}

func (a *API) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	col, err := a.collections.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	respondData(w, http.StatusOK, col.Schema)
}

func (a *API) handleUpdateCollection(w http.ResponseWriter, r *http.Request) {
	var req collections.UpdateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, a.logger, err)
		return
	}

	col, err := a.collections.Update(r.Context(), chi.URLParam(r, "name"), req)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	respondData(w, http.StatusOK, col)
}

func (a *API) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := a.collections.Delete(r.Context(), name); err != nil {
		respondError(w, a.logger, err)
		return
	}
	a.logger.Info().Str("collection", name).Msg("collection deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCollectionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.collections.Stats(r.Context())
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	respondData(w, http.StatusOK, stats)
}
