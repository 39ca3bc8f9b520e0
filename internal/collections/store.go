package collections

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/artha-au/baasd/internal/apperrors"
	"github.com/artha-au/baasd/internal/permissions"
)

// Store persists collection metadata and keeps each collection's
// physical table in sync with its declared schema.
type Store struct {
	db *sql.DB
}

// NewStore builds a Store over db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create registers a new collection: validates its name and schema,
// inserts the metadata row, and creates the backing table, all inside a
// single transaction so a schema that fails DDL never leaves an orphan
// metadata row behind.
func (s *Store) Create(ctx context.Context, req CreateRequest) (*Collection, error) {
	if err := ValidateName(req.Name); err != nil {
		return nil, err
	}
	if err := ValidateSchema(req.Schema); err != nil {
		return nil, err
	}

	schemaJSON, err := json.Marshal(req.Schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	now := time.Now().UTC()
	col := &Collection{
		ID:          uuid.NewString(),
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Description: req.Description,
		Schema:      req.Schema,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO collections (id, name, display_name, description, schema_json, is_system, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		col.ID, col.Name, col.DisplayName, col.Description, schemaJSON, col.CreatedAt, col.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.New(apperrors.KindConflict, fmt.Sprintf("collection %q already exists", req.Name))
		}
		return nil, fmt.Errorf("insert collection: %w", err)
	}

	if err := CreateTable(tx, col.Name, col.Schema); err != nil {
		return nil, fmt.Errorf("create collection table: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit collection creation: %w", err)
	}

	return col, nil
}

// Get loads a collection by name.
func (s *Store) Get(ctx context.Context, name string) (*Collection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, display_name, description, schema_json, is_system, created_at, updated_at
		FROM collections WHERE name = ?`, name)
	return scanCollection(row)
}

// List returns every registered collection, ordered by name.
func (s *Store) List(ctx context.Context) ([]Collection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, display_name, description, schema_json, is_system, created_at, updated_at
		FROM collections ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var out []Collection
	for rows.Next() {
		col, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *col)
	}
	return out, rows.Err()
}

// Update applies display metadata changes and, if Schema is set, an
// additive schema evolution: new columns are added via ALTER TABLE, and
// any non-additive change (drop, retype) is rejected before anything is
// written.
func (s *Store) Update(ctx context.Context, name string, req UpdateRequest) (*Collection, error) {
	existing, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing.IsSystem {
		return nil, apperrors.New(apperrors.KindValidationError, "system collections cannot be modified")
	}

	displayName := existing.DisplayName
	if req.DisplayName != nil {
		displayName = *req.DisplayName
	}
	description := existing.Description
	if req.Description != nil {
		description = *req.Description
	}

	newSchema := existing.Schema
	var toAdd []FieldDefinition
	if req.Schema != nil {
		if err := ValidateSchema(*req.Schema); err != nil {
			return nil, err
		}
		ok, reason := IsAdditive(existing.Schema, *req.Schema)
		if !ok {
			return nil, apperrors.Validation("schema update rejected: " + reason)
		}
		for _, f := range req.Schema.Fields {
			if _, existed := existing.Schema.FieldByName(f.Name); !existed {
				toAdd = append(toAdd, f)
			}
		}
		newSchema = *req.Schema
	}

	schemaJSON, err := json.Marshal(newSchema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, f := range toAdd {
		if err := AddColumn(tx, existing.Name, f); err != nil {
			return nil, fmt.Errorf("add column %s: %w", f.Name, err)
		}
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE collections SET display_name = ?, description = ?, schema_json = ?, updated_at = ?
		WHERE name = ?`, displayName, description, schemaJSON, now, name)
	if err != nil {
		return nil, fmt.Errorf("update collection: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit collection update: %w", err)
	}

	existing.DisplayName = displayName
	existing.Description = description
	existing.Schema = newSchema
	existing.UpdatedAt = now
	return existing, nil
}

// Delete removes a non-system collection and its backing table.
func (s *Store) Delete(ctx context.Context, name string) error {
	existing, err := s.Get(ctx, name)
	if err != nil {
		return err
	}
	if existing.IsSystem {
		return apperrors.New(apperrors.KindValidationError, "system collections cannot be deleted")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := permissions.CascadeDeleteCollectionTx(ctx, tx, existing.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete collection row: %w", err)
	}
	if err := DropTable(tx, name); err != nil {
		return fmt.Errorf("drop collection table: %w", err)
	}

	return tx.Commit()
}

// Stats aggregates registry-wide counters for the
// GET /collections/stats endpoint.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	cols, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalCollections:    len(cols),
		RecordsByCollection: map[string]int{},
		FieldTypeCounts:     map[string]int{},
	}

	for _, c := range cols {
		var count int
		row := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", EscapeIdentifier(TableName(c.Name))))
		if err := row.Scan(&count); err != nil {
			return nil, fmt.Errorf("count records in %s: %w", c.Name, err)
		}
		stats.RecordsByCollection[c.Name] = count
		stats.TotalRecords += count

		for _, f := range c.Schema.Fields {
			stats.FieldTypeCounts[string(f.FieldType)]++
		}
	}

	return stats, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCollection(row rowScanner) (*Collection, error) {
	var c Collection
	var schemaJSON []byte
	var isSystem int
	err := row.Scan(&c.ID, &c.Name, &c.DisplayName, &c.Description, &schemaJSON, &isSystem, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("collection")
	}
	if err != nil {
		return nil, fmt.Errorf("scan collection: %w", err)
	}
	c.IsSystem = isSystem != 0
	if err := json.Unmarshal(schemaJSON, &c.Schema); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	return &c, nil
}

func isUniqueViolation(err error) bool {
	// mattn/go-sqlite3 surfaces unique constraint violations with this
	// substring in the driver error message; there is no typed error for
	// it the way lib/pq exposes *pq.Error.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
