package api

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/artha-au/baasd/internal/apperrors"
	"github.com/artha-au/baasd/internal/permissions"
)

// --- Roles ---

type roleRequest struct {
	Name        string `json:"name"`
	Priority    int    `json:"priority"`
	Description string `json:"description"`
}

type roleResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Priority    int    `json:"priority"`
	Description string `json:"description"`
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.authStore.ListRoles(r.Context())
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	out := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		out = append(out, roleResponse{ID: role.ID, Name: role.Name, Priority: role.Priority, Description: role.Description})
	}
	respondData(w, http.StatusOK, out)
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, a.logger, err)
		return
	}
	if req.Name == "" {
		respondError(w, a.logger, apperrors.Validation("name is required"))
		return
	}
	if req.Priority < 0 || req.Priority > 100 {
		respondError(w, a.logger, apperrors.Validation("priority must be between 0 and 100"))
		return
	}

	role, err := a.authStore.CreateRole(r.Context(), req.Name, req.Description, req.Priority)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	respondData(w, http.StatusCreated, roleResponse{ID: role.ID, Name: role.Name, Priority: role.Priority, Description: role.Description})
}

func (a *API) handleGetRole(w http.ResponseWriter, r *http.Request) {
	role, err := a.authStore.GetRoleByName(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	respondData(w, http.StatusOK, roleResponse{ID: role.ID, Name: role.Name, Priority: role.Priority, Description: role.Description})
}

func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, a.logger, err)
		return
	}
	if req.Priority < 0 || req.Priority > 100 {
		respondError(w, a.logger, apperrors.Validation("priority must be between 0 and 100"))
		return
	}

	role, err := a.authStore.UpdateRole(r.Context(), chi.URLParam(r, "name"), req.Description, req.Priority)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	respondData(w, http.StatusOK, roleResponse{ID: role.ID, Name: role.Name, Priority: role.Priority, Description: role.Description})
}

func (a *API) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	if err := a.authStore.DeleteRole(r.Context(), chi.URLParam(r, "name")); err != nil {
		respondError(w, a.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assignRoleRequest struct {
	Role string `json:"role"`
}

// handleAssignUserRole moves a user onto a different role (admin only).
func (a *API) handleAssignUserRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, a.logger, err)
		return
	}
	role, err := a.authStore.GetRoleByName(r.Context(), req.Role)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	userID := chi.URLParam(r, "userID")
	if err := a.authStore.SetUserRole(r.Context(), userID, role.ID); err != nil {
		respondError(w, a.logger, err)
		return
	}
	user, err := a.authStore.GetUserByID(r.Context(), userID)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	respondData(w, http.StatusOK, toUserResponse(user))
}

// --- Role-default collection permissions ---

type collectionPermissionRequest struct {
	Role   string `json:"role"`
	Create bool   `json:"create"`
	Read   bool   `json:"read"`
	Update bool   `json:"update"`
	Delete bool   `json:"delete"`
	List   bool   `json:"list"`
}

type collectionPermissionResponse struct {
	Role   string `json:"role"`
	Create bool   `json:"create"`
	Read   bool   `json:"read"`
	Update bool   `json:"update"`
	Delete bool   `json:"delete"`
	List   bool   `json:"list"`
}

func (a *API) handleListCollectionPermissions(w http.ResponseWriter, r *http.Request) {
	col, err := a.collections.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, a.logger, err)
		return
	}

	perms, err := a.permStore.ListCollectionPermissions(r.Context(), col.ID)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}

	out := make([]collectionPermissionResponse, 0, len(perms))
	for _, p := range perms {
		role, err := a.authStore.GetRoleByID(r.Context(), p.RoleID)
		if err != nil {
			respondError(w, a.logger, err)
			return
		}
		out = append(out, collectionPermissionResponse{
			Role: role.Name, Create: p.Create, Read: p.Read, Update: p.Update, Delete: p.Delete, List: p.List,
		})
	}
	respondData(w, http.StatusOK, out)
}

func (a *API) handleSetCollectionPermission(w http.ResponseWriter, r *http.Request) {
	col, err := a.collections.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, a.logger, err)
		return
	}

	var req collectionPermissionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, a.logger, err)
		return
	}
	role, err := a.authStore.GetRoleByName(r.Context(), req.Role)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}

	p, err := a.permStore.UpsertCollectionPermission(r.Context(), permissions.CollectionPermission{
		CollectionID: col.ID,
		RoleID:       role.ID,
		Create:       req.Create,
		Read:         req.Read,
		Update:       req.Update,
		Delete:       req.Delete,
		List:         req.List,
	})
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	respondData(w, http.StatusOK, collectionPermissionResponse{
		Role: role.Name, Create: p.Create, Read: p.Read, Update: p.Update, Delete: p.Delete, List: p.List,
	})
}

// --- Per-user collection overrides ---

type userPermissionRequest struct {
	Create *bool `json:"create"`
	Read   *bool `json:"read"`
	Update *bool `json:"update"`
	Delete *bool `json:"delete"`
	List   *bool `json:"list"`
}

type userPermissionResponse struct {
	UserID string `json:"user_id"`
	Create *bool  `json:"create"`
	Read   *bool  `json:"read"`
	Update *bool  `json:"update"`
	Delete *bool  `json:"delete"`
	List   *bool  `json:"list"`
}

func flagFromPtr(b *bool) permissions.Flag {
	if b == nil {
		return permissions.Unset
	}
	return permissions.FromBool(*b)
}

func ptrFromFlag(f permissions.Flag) *bool {
	if f == permissions.Unset {
		return nil
	}
	v := f == permissions.Allow
	return &v
}

func toUserPermissionResponse(p *permissions.UserCollectionPermission) userPermissionResponse {
	return userPermissionResponse{
		UserID: p.UserID,
		Create: ptrFromFlag(p.Create),
		Read:   ptrFromFlag(p.Read),
		Update: ptrFromFlag(p.Update),
		Delete: ptrFromFlag(p.Delete),
		List:   ptrFromFlag(p.List),
	}
}

func (a *API) handleGetUserCollectionPermission(w http.ResponseWriter, r *http.Request) {
	col, err := a.collections.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	p, err := a.permStore.GetUserCollectionPermission(r.Context(), chi.URLParam(r, "userID"), col.ID)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	if p == nil {
		respondError(w, a.logger, apperrors.NotFound("user permission override"))
		return
	}
	respondData(w, http.StatusOK, toUserPermissionResponse(p))
}

func (a *API) handleSetUserCollectionPermission(w http.ResponseWriter, r *http.Request) {
	col, err := a.collections.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	userID := chi.URLParam(r, "userID")
	if _, err := a.authStore.GetUserByID(r.Context(), userID); err != nil {
		respondError(w, a.logger, err)
		return
	}

	var req userPermissionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, a.logger, err)
		return
	}

	p, err := a.permStore.UpsertUserCollectionPermission(r.Context(), permissions.UserCollectionPermission{
		UserID:       userID,
		CollectionID: col.ID,
		Create:       flagFromPtr(req.Create),
		Read:         flagFromPtr(req.Read),
		Update:       flagFromPtr(req.Update),
		Delete:       flagFromPtr(req.Delete),
		List:         flagFromPtr(req.List),
	})
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	respondData(w, http.StatusOK, toUserPermissionResponse(p))
}

// --- Per-record overrides ---

type recordPermissionRequest struct {
	Read   *bool `json:"read"`
	Update *bool `json:"update"`
	Delete *bool `json:"delete"`
}

type recordPermissionResponse struct {
	UserID   string `json:"user_id"`
	RecordID string `json:"record_id"`
	Read     *bool  `json:"read"`
	Update   *bool  `json:"update"`
	Delete   *bool  `json:"delete"`
}

func toRecordPermissionResponse(p *permissions.RecordPermission) recordPermissionResponse {
	return recordPermissionResponse{
		UserID:   p.UserID,
		RecordID: p.RecordID,
		Read:     ptrFromFlag(p.Read),
		Update:   ptrFromFlag(p.Update),
		Delete:   ptrFromFlag(p.Delete),
	}
}

// requireRecordAdminOrOwner authorizes record-permission management:
// admins always, otherwise only the record's owner may grant or revoke
// access to it.
func (a *API) requireRecordAdminOrOwner(r *http.Request) (collectionID, recordID string, err error) {
	caller := CallerFrom(r.Context())
	col, err := a.collections.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		return "", "", err
	}
	recordID = chi.URLParam(r, "recordID")

	if caller.IsAdmin() {
		return col.ID, recordID, nil
	}

	record, err := a.records.Get(r.Context(), *col, recordID)
	if err != nil {
		return "", "", err
	}
	if !permissions.Owns(record, caller.UserID, caller.Email, caller.Username) {
		return "", "", apperrors.New(apperrors.KindInsufficientPerms, "only the record owner or an admin may manage record permissions")
	}
	return col.ID, recordID, nil
}

func (a *API) handleListRecordPermissions(w http.ResponseWriter, r *http.Request) {
	collectionID, recordID, err := a.requireRecordAdminOrOwner(r)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}

	perms, err := a.permStore.ListRecordPermissions(r.Context(), collectionID, recordID)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	out := make([]recordPermissionResponse, 0, len(perms))
	for i := range perms {
		out = append(out, toRecordPermissionResponse(&perms[i]))
	}
	respondData(w, http.StatusOK, out)
}

func (a *API) handleGetRecordPermission(w http.ResponseWriter, r *http.Request) {
	collectionID, recordID, err := a.requireRecordAdminOrOwner(r)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	p, err := a.permStore.GetRecordPermission(r.Context(), collectionID, recordID, chi.URLParam(r, "userID"))
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	if p == nil {
		respondError(w, a.logger, apperrors.NotFound("record permission"))
		return
	}
	respondData(w, http.StatusOK, toRecordPermissionResponse(p))
}

func (a *API) handleSetRecordPermission(w http.ResponseWriter, r *http.Request) {
	collectionID, recordID, err := a.requireRecordAdminOrOwner(r)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	userID := chi.URLParam(r, "userID")
	if _, err := a.authStore.GetUserByID(r.Context(), userID); err != nil {
		respondError(w, a.logger, err)
		return
	}

	var req recordPermissionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, a.logger, err)
		return
	}

	p, err := a.permStore.UpsertRecordPermission(r.Context(), permissions.RecordPermission{
		UserID:       userID,
		CollectionID: collectionID,
		RecordID:     recordID,
		Read:         flagFromPtr(req.Read),
		Update:       flagFromPtr(req.Update),
		Delete:       flagFromPtr(req.Delete),
	})
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	respondData(w, http.StatusOK, toRecordPermissionResponse(p))
}

func (a *API) handleDeleteRecordPermission(w http.ResponseWriter, r *http.Request) {
	collectionID, recordID, err := a.requireRecordAdminOrOwner(r)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	if err := a.permStore.DeleteRecordPermission(r.Context(), collectionID, recordID, chi.URLParam(r, "userID")); err != nil {
		respondError(w, a.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Accessible collections ---

func (a *API) handleAccessibleCollections(w http.ResponseWriter, r *http.Request) {
	caller := CallerFrom(r.Context())

	cols, err := a.collections.List(r.Context())
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	byName := make(map[string]string, len(cols))
	for _, c := range cols {
		byName[c.Name] = c.ID
	}

	accessible, err := a.resolver.AccessibleCollections(r.Context(), caller.Subject(), byName)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}

	out := make([]permissions.AccessibleCollection, 0, len(accessible))
	for name, result := range accessible {
		out = append(out, permissions.AccessibleCollection{CollectionName: name, Result: result})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CollectionName < out[j].CollectionName })
	respondData(w, http.StatusOK, out)
}
