// Package ownership implements the Ownership Service (component F):
// detecting a record's owner from its own field values, transferring
// ownership, and listing the records a user owns.
package ownership

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/artha-au/baasd/internal/apperrors"
	"github.com/artha-au/baasd/internal/collections"
	"github.com/artha-au/baasd/internal/permissions"
)

func nowUTC() time.Time { return time.Now().UTC() }

// User is the minimal identity ownership checks compare a record
// against: id, email and username, matching the ownership-fallback
// fields.
type User struct {
	ID       string
	Email    string
	Username string
}

// Service resolves and mutates record ownership.
type Service struct {
	db *sql.DB
}

// NewService builds a Service over db.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Owns reports whether user owns record, via the first-match-wins
// predicate in permissions.Owns.
func Owns(record map[string]interface{}, user User) bool {
	return permissions.Owns(record, user.ID, user.Email, user.Username)
}

// Transfer reassigns a record's owner_id to newOwnerID. The caller must
// already have been authorized (owns the record or is admin) by the
// time this is called; Transfer itself only enforces the schema
// precondition that the collection declares an owner_id field.
func (s *Service) Transfer(ctx context.Context, col collections.Collection, recordID, newOwnerID string) error {
	if _, ok := col.Schema.FieldByName("owner_id"); !ok {
		return apperrors.Validation(fmt.Sprintf("collection %q has no owner_id field to transfer", col.Name))
	}

	stmt := fmt.Sprintf("UPDATE %s SET %s = ?, %s = ? WHERE %s = ?",
		collections.EscapeIdentifier(collections.TableName(col.Name)),
		collections.EscapeIdentifier("owner_id"),
		collections.EscapeIdentifier("updated_at"),
		collections.EscapeIdentifier("id"))

	result, err := s.db.ExecContext(ctx, stmt, newOwnerID, nowUTC(), recordID)
	if err != nil {
		return fmt.Errorf("transfer ownership: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return apperrors.NotFound("record")
	}
	return nil
}

// ListOwnedRecordIDs returns the ids of every record in col whose
// owner_id or author_id equals userID, or whose email or username equals
// the user's; any one of these matching is enough.
// Only fields actually present in the schema are queried, since a
// collection that doesn't declare e.g. "email" can never match on it.
func (s *Service) ListOwnedRecordIDs(ctx context.Context, col collections.Collection, userID, userEmail, userUsername string) ([]string, error) {
	var conditions []string
	var args []interface{}

	if _, ok := col.Schema.FieldByName("owner_id"); ok {
		conditions = append(conditions, collections.EscapeIdentifier("owner_id")+" = ?")
		args = append(args, userID)
	}
	if _, ok := col.Schema.FieldByName("author_id"); ok {
		conditions = append(conditions, collections.EscapeIdentifier("author_id")+" = ?")
		args = append(args, userID)
	}
	if _, ok := col.Schema.FieldByName("email"); ok && userEmail != "" {
		conditions = append(conditions, collections.EscapeIdentifier("email")+" = ?")
		args = append(args, userEmail)
	}
	if _, ok := col.Schema.FieldByName("username"); ok && userUsername != "" {
		conditions = append(conditions, collections.EscapeIdentifier("username")+" = ?")
		args = append(args, userUsername)
	}

	if len(conditions) == 0 {
		return nil, nil
	}

	where := conditions[0]
	for _, c := range conditions[1:] {
		where += " OR " + c
	}

	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		collections.EscapeIdentifier("id"), collections.EscapeIdentifier(collections.TableName(col.Name)), where)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list owned records: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Stats summarizes ownership across collections for one user.
type Stats struct {
	CollectionsWithOwnership []string       `json:"collections_with_ownership"`
	OwnedRecordCounts        map[string]int `json:"owned_record_counts_by_collection"`
}

// StatsFor builds ownership statistics for one user across cols.
func (s *Service) StatsFor(ctx context.Context, cols []collections.Collection, userID, userEmail, userUsername string) (*Stats, error) {
	stats := &Stats{OwnedRecordCounts: map[string]int{}}
	for _, col := range cols {
		hasOwnershipField := false
		for _, f := range []string{"owner_id", "author_id", "email", "username"} {
			if _, ok := col.Schema.FieldByName(f); ok {
				hasOwnershipField = true
				break
			}
		}
		if !hasOwnershipField {
			continue
		}
		stats.CollectionsWithOwnership = append(stats.CollectionsWithOwnership, col.Name)
		ids, err := s.ListOwnedRecordIDs(ctx, col, userID, userEmail, userUsername)
		if err != nil {
			return nil, err
		}
		stats.OwnedRecordCounts[col.Name] = len(ids)
	}
	return stats, nil
}
