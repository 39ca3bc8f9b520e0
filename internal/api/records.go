package api

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/artha-au/baasd/internal/apperrors"
	"github.com/artha-au/baasd/internal/collections"
	"github.com/artha-au/baasd/internal/permissions"
	"github.com/artha-au/baasd/internal/query"
	"github.com/artha-au/baasd/internal/records"
)

// canCollectionAction resolves a collection-scope permission for the
// caller. Anonymous callers get read/list (collections are publicly
// readable until a deployment puts an auth proxy in front) and nothing
// else; authenticated callers go through the resolver.
func (a *API) canCollectionAction(ctx context.Context, caller *Caller, collectionID string, action permissions.Action) (bool, error) {
	if caller == nil {
		return action == permissions.ActionRead || action == permissions.ActionList, nil
	}
	result, err := a.resolver.ResolveCollection(ctx, caller.Subject(), collectionID)
	if err != nil {
		return false, err
	}
	switch action {
	case permissions.ActionCreate:
		return result.Create, nil
	case permissions.ActionRead:
		return result.Read, nil
	case permissions.ActionUpdate:
		return result.Update, nil
	case permissions.ActionDelete:
		return result.Delete, nil
	case permissions.ActionList:
		return result.List, nil
	}
	return false, nil
}

// canRecordAction resolves a record-scope permission with the ownership
// overlay applied: owning the record grants read/update/delete no
// matter what the permission rows say.
func (a *API) canRecordAction(ctx context.Context, caller *Caller, collectionID, recordID string, record records.Record, action permissions.Action) (bool, error) {
	if caller == nil {
		return action == permissions.ActionRead, nil
	}
	allowed, err := a.resolver.ResolveRecordAction(ctx, caller.Subject(), collectionID, recordID, action)
	if err != nil {
		return false, err
	}
	owns := permissions.Owns(record, caller.UserID, caller.Email, caller.Username)
	return permissions.RecordOverlay(allowed, owns, action), nil
}

// parseListQuery translates the list endpoint's URL parameters into a
// compiled-ready Query, clamping limit at the API boundary.
func parseListQuery(r *http.Request, schema collections.Schema) (query.Query, int, int, error) {
	q := query.Query{}

	sortKeys, err := query.ParseSort(r.URL.Query().Get("sort"), schema)
	if err != nil {
		return q, 0, 0, err
	}
	q.Sort = sortKeys

	filters, err := query.ParseFilters(r.URL.Query().Get("filter"), schema)
	if err != nil {
		return q, 0, 0, err
	}
	q.Filters = filters
	q.Search = r.URL.Query().Get("search")

	var requested *int
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, 0, 0, apperrors.Validation("limit must be an integer")
		}
		requested = &n
	}
	limit := query.ClampAPILimit(requested)

	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return q, 0, 0, apperrors.Validation("offset must be a non-negative integer")
		}
		offset = n
	}

	q.Limit = &limit
	q.Offset = &offset
	return q, limit, offset, nil
}

type recordPayload struct {
	Data map[string]interface{} `json:"data"`
}

func (a *API) handleListRecords(w http.ResponseWriter, r *http.Request) {
	col, err := a.collections.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, a.logger, err)
		return
	}

	allowed, err := a.canCollectionAction(r.Context(), CallerFrom(r.Context()), col.ID, permissions.ActionList)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	if !allowed {
		respondError(w, a.logger, apperrors.New(apperrors.KindInsufficientPerms, "not permitted to list this collection"))
		return
	}

	q, limit, offset, err := parseListQuery(r, col.Schema)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}

	result, err := a.records.List(r.Context(), *col, q)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}

	recs := result.Records
	if recs == nil {
		recs = []records.Record{}
	}
	respondData(w, http.StatusOK, map[string]interface{}{
		"records":    recs,
		"pagination": NewPagination(limit, offset, result.TotalCount),
	})
}

func (a *API) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	caller := CallerFrom(r.Context())
	col, err := a.collections.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, a.logger, err)
		return
	}

	allowed, err := a.canCollectionAction(r.Context(), caller, col.ID, permissions.ActionCreate)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	if !allowed {
		respondError(w, a.logger, apperrors.New(apperrors.KindInsufficientPerms, "not permitted to create records in this collection"))
		return
	}

	var payload recordPayload
	if err := decodeBody(r, &payload); err != nil {
		respondError(w, a.logger, err)
		return
	}
	if payload.Data == nil {
		respondError(w, a.logger, apperrors.Validation("data is required"))
		return
	}

	a.stampOwner(col.Schema, payload.Data, caller)

	record, err := a.records.Create(r.Context(), *col, payload.Data)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	respondData(w, http.StatusCreated, record)
}

// stampOwner fills owner_id with the caller's id on create when the
// schema declares the field and the payload didn't set it, so newly
// created records belong to their creator by default. A number-typed
// owner_id is filled only when the caller's id parses as a number; user
// ids are UUID strings, so such a field is left unset.
func (a *API) stampOwner(schema collections.Schema, data map[string]interface{}, caller *Caller) {
	if caller == nil {
		return
	}
	field, ok := schema.FieldByName("owner_id")
	if !ok {
		return
	}
	if _, set := data["owner_id"]; set {
		return
	}
	switch field.FieldType {
	case collections.FieldText, collections.FieldRelation:
		data["owner_id"] = caller.UserID
	case collections.FieldNumber:
		if n, err := strconv.ParseFloat(caller.UserID, 64); err == nil {
			data["owner_id"] = n
		}
	}
}

func (a *API) handleGetRecord(w http.ResponseWriter, r *http.Request) {
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

	allowed, err := a.canRecordAction(r.Context(), CallerFrom(r.Context()), col.ID, chi.URLParam(r, "id"), record, permissions.ActionRead)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	if !allowed {
		respondError(w, a.logger, apperrors.New(apperrors.KindInsufficientPerms, "not permitted to read this record"))
		return
	}
	respondData(w, http.StatusOK, record)
}

func (a *API) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	caller := CallerFrom(r.Context())
	col, err := a.collections.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	recordID := chi.URLParam(r, "id")

	existing, err := a.records.Get(r.Context(), *col, recordID)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}

	allowed, err := a.canRecordAction(r.Context(), caller, col.ID, recordID, existing, permissions.ActionUpdate)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	if !allowed {
		respondError(w, a.logger, apperrors.New(apperrors.KindInsufficientPerms, "not permitted to update this record"))
		return
	}

	var payload recordPayload
	if err := decodeBody(r, &payload); err != nil {
		respondError(w, a.logger, err)
		return
	}

	updated, _, err := a.records.Update(r.Context(), *col, recordID, payload.Data)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	respondData(w, http.StatusOK, updated)
}

func (a *API) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	caller := CallerFrom(r.Context())
	col, err := a.collections.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	recordID := chi.URLParam(r, "id")

	existing, err := a.records.Get(r.Context(), *col, recordID)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}

	allowed, err := a.canRecordAction(r.Context(), caller, col.ID, recordID, existing, permissions.ActionDelete)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	if !allowed {
		respondError(w, a.logger, apperrors.New(apperrors.KindInsufficientPerms, "not permitted to delete this record"))
		return
	}

	if _, err := a.records.Delete(r.Context(), *col, recordID); err != nil {
		respondError(w, a.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGlobalListRecords pages across every collection the caller can
// list. It loads each collection's rows into memory before paginating,
// which is linear in total records; acceptable for the modest datasets
// an embedded-database deployment holds, revisit before anything
// larger.
func (a *API) handleGlobalListRecords(w http.ResponseWriter, r *http.Request) {
	caller := CallerFrom(r.Context())
	cols, err := a.collections.List(r.Context())
	if err != nil {
		respondError(w, a.logger, err)
		return
	}

	type globalRecord struct {
		Collection string         `json:"collection"`
		Record     records.Record `json:"record"`
	}

	var all []globalRecord
	for i := range cols {
		col := cols[i]
		allowed, err := a.canCollectionAction(r.Context(), caller, col.ID, permissions.ActionList)
		if err != nil {
			respondError(w, a.logger, err)
			return
		}
		if !allowed {
			continue
		}
		result, err := a.records.List(r.Context(), col, query.Query{Sort: []query.SortKey{{Field: "created_at", Descending: true}}})
		if err != nil {
			respondError(w, a.logger, err)
			return
		}
		for _, rec := range result.Records {
			all = append(all, globalRecord{Collection: col.Name, Record: rec})
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return recordCreatedAt(all[i].Record).After(recordCreatedAt(all[j].Record))
	})

	limit := query.ClampAPILimit(nil)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = query.ClampAPILimit(&n)
		}
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			offset = n
		}
	}

	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	page := all[offset:end]
	if page == nil {
		page = []globalRecord{}
	}

	respondData(w, http.StatusOK, map[string]interface{}{
		"records":    page,
		"pagination": NewPagination(limit, offset, total),
	})
}

func recordCreatedAt(rec records.Record) time.Time {
	if t, ok := rec["created_at"].(time.Time); ok {
		return t
	}
	return time.Time{}
}
