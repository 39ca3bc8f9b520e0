package permissions

import (
	"context"
	"strconv"
)

// AdminRoleName is the privileged built-in role that bypasses every
// permission check.
const AdminRoleName = "admin"

// Resolver computes effective permissions from the layered rows in
// Store. It is a pure function of its inputs plus storage; no
// request-scoped ambient state is read here.
type Resolver struct {
	store *Store
}

// NewResolver builds a Resolver over store.
func NewResolver(store *Store) *Resolver {
	return &Resolver{store: store}
}

// Subject is the minimal caller identity the resolver needs: which
// user, and which role they currently hold.
type Subject struct {
	UserID   string
	RoleID   string
	RoleName string
}

// IsAdmin reports whether the subject's role bypasses resolution.
func (s Subject) IsAdmin() bool { return s.RoleName == AdminRoleName }

// ResolveCollection runs the collection-scope algorithm: admin
// short-circuits to All(); otherwise the role-default row is the base,
// and the user-override row replaces any flag it sets explicitly.
func (r *Resolver) ResolveCollection(ctx context.Context, subject Subject, collectionID string) (Result, error) {
	if subject.IsAdmin() {
		return All(), nil
	}

	result := None()

	rolePerm, err := r.store.GetCollectionPermission(ctx, collectionID, subject.RoleID)
	if err != nil {
		return Result{}, err
	}
	if rolePerm != nil {
		result = Result{Create: rolePerm.Create, Read: rolePerm.Read, Update: rolePerm.Update, Delete: rolePerm.Delete, List: rolePerm.List}
	}

	userPerm, err := r.store.GetUserCollectionPermission(ctx, subject.UserID, collectionID)
	if err != nil {
		return Result{}, err
	}
	if userPerm != nil {
		overlayFlag(&result.Create, userPerm.Create)
		overlayFlag(&result.Read, userPerm.Read)
		overlayFlag(&result.Update, userPerm.Update)
		overlayFlag(&result.Delete, userPerm.Delete)
		overlayFlag(&result.List, userPerm.List)
	}

	return result, nil
}

func overlayFlag(dst *bool, override Flag) {
	if override != Unset {
		*dst = override == Allow
	}
}

// ResolveRecordAction runs the record-scope algorithm for one of
// read/update/delete: admin bypasses; a RecordPermission row's flag
// for that action wins if set; otherwise it falls back to the
// collection-scope answer.
func (r *Resolver) ResolveRecordAction(ctx context.Context, subject Subject, collectionID, recordID string, action Action) (bool, error) {
	if subject.IsAdmin() {
		return true, nil
	}
	if action != ActionRead && action != ActionUpdate && action != ActionDelete {
		return false, nil
	}

	recPerm, err := r.store.GetRecordPermission(ctx, collectionID, recordID, subject.UserID)
	if err != nil {
		return false, err
	}
	if recPerm != nil {
		if flag := flagFor(recPerm, action); flag != Unset {
			return flag == Allow, nil
		}
	}

	collResult, err := r.ResolveCollection(ctx, subject, collectionID)
	if err != nil {
		return false, err
	}
	return boolFor(collResult, action), nil
}

func flagFor(p *RecordPermission, action Action) Flag {
	switch action {
	case ActionRead:
		return p.Read
	case ActionUpdate:
		return p.Update
	case ActionDelete:
		return p.Delete
	default:
		return Unset
	}
}

func boolFor(r Result, action Action) bool {
	switch action {
	case ActionCreate:
		return r.Create
	case ActionRead:
		return r.Read
	case ActionUpdate:
		return r.Update
	case ActionDelete:
		return r.Delete
	case ActionList:
		return r.List
	default:
		return false
	}
}

// OwnershipFields lists the record fields checked in priority order by
// the ownership predicate. First match wins.
var OwnershipFields = []string{"owner_id", "author_id", "email", "username"}

// Owns reports whether user (id, email, username) owns record, per the
// first-match-wins ownership predicate. Numeric fields may arrive
// string-typed from JSON decoding, so comparisons are type-tolerant.
func Owns(record map[string]interface{}, userID, userEmail, userUsername string) bool {
	if v, ok := record["owner_id"]; ok {
		return valueMatches(v, userID)
	}
	if v, ok := record["author_id"]; ok {
		return valueMatches(v, userID)
	}
	if v, ok := record["email"]; ok {
		return valueMatches(v, userEmail)
	}
	if v, ok := record["username"]; ok {
		return valueMatches(v, userUsername)
	}
	return false
}

// valueMatches compares a record field's decoded JSON value against an
// expected string, tolerating numeric equality, decimal string parsing,
// and exact string match.
func valueMatches(fieldValue interface{}, expected string) bool {
	if expected == "" {
		return false
	}
	switch v := fieldValue.(type) {
	case string:
		if v == expected {
			return true
		}
		// expected may itself be numeric (a user ID stored as a string
		// that looks like an integer) — compare numerically too.
		vf, vErr := strconv.ParseFloat(v, 64)
		ef, eErr := strconv.ParseFloat(expected, 64)
		return vErr == nil && eErr == nil && vf == ef
	case float64:
		ef, err := strconv.ParseFloat(expected, 64)
		return err == nil && v == ef
	case int64:
		ef, err := strconv.ParseInt(expected, 10, 64)
		return err == nil && v == ef
	default:
		return false
	}
}

// RecordOverlay grants read/update/delete unconditionally when the
// caller owns the record, irrespective of the record-scope answer.
// Ownership never grants create or list.
func RecordOverlay(recordScope bool, owns bool, action Action) bool {
	if owns && (action == ActionRead || action == ActionUpdate || action == ActionDelete) {
		return true
	}
	return recordScope
}

// AccessibleCollections returns the union of collections whose
// role-default row has any flag true and collections whose
// user-override row has any non-null true flag. Admins see every
// collection.
func (r *Resolver) AccessibleCollections(ctx context.Context, subject Subject, allCollections map[string]string) (map[string]Result, error) {
	out := map[string]Result{}
	if subject.IsAdmin() {
		for name := range allCollections {
			out[name] = All()
		}
		return out, nil
	}

	for name, collectionID := range allCollections {
		result, err := r.ResolveCollection(ctx, subject, collectionID)
		if err != nil {
			return nil, err
		}
		if result.Any() {
			out[name] = result
		}
	}
	return out, nil
}
