package permissions

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Store persists the three permission scopes: role-default,
// user-override and record-override.
type Store struct {
	db *sql.DB
}

// NewStore builds a Store over db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// UpsertCollectionPermission creates or replaces the role-default row
// for (collectionID, roleID), enforcing the at-most-one-per-pair
// invariant via the table's UNIQUE constraint.
func (s *Store) UpsertCollectionPermission(ctx context.Context, p CollectionPermission) (*CollectionPermission, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO role_collection_permissions (id, role_id, collection_id, can_create, can_read, can_update, can_delete, can_list)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(role_id, collection_id) DO UPDATE SET
			can_create = excluded.can_create,
			can_read = excluded.can_read,
			can_update = excluded.can_update,
			can_delete = excluded.can_delete,
			can_list = excluded.can_list`,
		id, p.RoleID, p.CollectionID, boolToInt(p.Create), boolToInt(p.Read), boolToInt(p.Update), boolToInt(p.Delete), boolToInt(p.List))
	if err != nil {
		return nil, fmt.Errorf("upsert collection permission: %w", err)
	}
	return s.GetCollectionPermission(ctx, p.CollectionID, p.RoleID)
}

// GetCollectionPermission looks up the role-default row for
// (collectionID, roleID); returns (nil, nil) when absent (not an
// error — the resolver treats absence as "fall through").
func (s *Store) GetCollectionPermission(ctx context.Context, collectionID, roleID string) (*CollectionPermission, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, role_id, collection_id, can_create, can_read, can_update, can_delete, can_list
		FROM role_collection_permissions WHERE collection_id = ? AND role_id = ?`, collectionID, roleID)

	var p CollectionPermission
	var create, read, update, del, list int
	err := row.Scan(&p.ID, &p.RoleID, &p.CollectionID, &create, &read, &update, &del, &list)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get collection permission: %w", err)
	}
	p.Create, p.Read, p.Update, p.Delete, p.List = create != 0, read != 0, update != 0, del != 0, list != 0
	return &p, nil
}

// ListCollectionPermissions returns every role-default row for a
// collection, used by the admin-facing GET /permissions/collections/{name}.
func (s *Store) ListCollectionPermissions(ctx context.Context, collectionID string) ([]CollectionPermission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role_id, collection_id, can_create, can_read, can_update, can_delete, can_list
		FROM role_collection_permissions WHERE collection_id = ?`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list collection permissions: %w", err)
	}
	defer rows.Close()

	var out []CollectionPermission
	for rows.Next() {
		var p CollectionPermission
		var create, read, update, del, list int
		if err := rows.Scan(&p.ID, &p.RoleID, &p.CollectionID, &create, &read, &update, &del, &list); err != nil {
			return nil, err
		}
		p.Create, p.Read, p.Update, p.Delete, p.List = create != 0, read != 0, update != 0, del != 0, list != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertUserCollectionPermission creates or replaces the per-user
// override row for (userID, collectionID).
func (s *Store) UpsertUserCollectionPermission(ctx context.Context, p UserCollectionPermission) (*UserCollectionPermission, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_collection_permissions (id, user_id, collection_id, can_create, can_read, can_update, can_delete, can_list)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, collection_id) DO UPDATE SET
			can_create = excluded.can_create,
			can_read = excluded.can_read,
			can_update = excluded.can_update,
			can_delete = excluded.can_delete,
			can_list = excluded.can_list`,
		id, p.UserID, p.CollectionID, flagToNullInt(p.Create), flagToNullInt(p.Read), flagToNullInt(p.Update), flagToNullInt(p.Delete), flagToNullInt(p.List))
	if err != nil {
		return nil, fmt.Errorf("upsert user collection permission: %w", err)
	}
	return s.GetUserCollectionPermission(ctx, p.UserID, p.CollectionID)
}

// GetUserCollectionPermission looks up the per-user override for
// (userID, collectionID); returns (nil, nil) when absent.
func (s *Store) GetUserCollectionPermission(ctx context.Context, userID, collectionID string) (*UserCollectionPermission, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, collection_id, can_create, can_read, can_update, can_delete, can_list
		FROM user_collection_permissions WHERE user_id = ? AND collection_id = ?`, userID, collectionID)

	var p UserCollectionPermission
	var create, read, update, del, list sql.NullInt64
	err := row.Scan(&p.ID, &p.UserID, &p.CollectionID, &create, &read, &update, &del, &list)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user collection permission: %w", err)
	}
	p.Create, p.Read, p.Update, p.Delete, p.List = nullIntToFlag(create), nullIntToFlag(read), nullIntToFlag(update), nullIntToFlag(del), nullIntToFlag(list)
	return &p, nil
}

// ListUserCollectionPermissionsForCollection returns every user-override
// row scoped to a collection (used by cascade-delete and by listing
// endpoints that enumerate overrides for a collection).
func (s *Store) ListUserCollectionPermissionsForCollection(ctx context.Context, collectionID string) ([]UserCollectionPermission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, collection_id, can_create, can_read, can_update, can_delete, can_list
		FROM user_collection_permissions WHERE collection_id = ?`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list user collection permissions: %w", err)
	}
	defer rows.Close()

	var out []UserCollectionPermission
	for rows.Next() {
		var p UserCollectionPermission
		var create, read, update, del, list sql.NullInt64
		if err := rows.Scan(&p.ID, &p.UserID, &p.CollectionID, &create, &read, &update, &del, &list); err != nil {
			return nil, err
		}
		p.Create, p.Read, p.Update, p.Delete, p.List = nullIntToFlag(create), nullIntToFlag(read), nullIntToFlag(update), nullIntToFlag(del), nullIntToFlag(list)
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListUserCollectionPermissionsForUser returns every collection the user
// has an override row for, used by the accessible-collections listing.
func (s *Store) ListUserCollectionPermissionsForUser(ctx context.Context, userID string) ([]UserCollectionPermission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, collection_id, can_create, can_read, can_update, can_delete, can_list
		FROM user_collection_permissions WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user collection permissions for user: %w", err)
	}
	defer rows.Close()

	var out []UserCollectionPermission
	for rows.Next() {
		var p UserCollectionPermission
		var create, read, update, del, list sql.NullInt64
		if err := rows.Scan(&p.ID, &p.UserID, &p.CollectionID, &create, &read, &update, &del, &list); err != nil {
			return nil, err
		}
		p.Create, p.Read, p.Update, p.Delete, p.List = nullIntToFlag(create), nullIntToFlag(read), nullIntToFlag(update), nullIntToFlag(del), nullIntToFlag(list)
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertRecordPermission creates or replaces the per-record override for
// (userID, collectionID, recordID).
func (s *Store) UpsertRecordPermission(ctx context.Context, p RecordPermission) (*RecordPermission, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO record_permissions (id, user_id, collection_id, record_id, can_read, can_update, can_delete)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, collection_id, record_id) DO UPDATE SET
			can_read = excluded.can_read,
			can_update = excluded.can_update,
			can_delete = excluded.can_delete`,
		id, p.UserID, p.CollectionID, p.RecordID, flagToNullInt(p.Read), flagToNullInt(p.Update), flagToNullInt(p.Delete))
	if err != nil {
		return nil, fmt.Errorf("upsert record permission: %w", err)
	}
	return s.GetRecordPermission(ctx, p.CollectionID, p.RecordID, p.UserID)
}

// GetRecordPermission looks up the per-record override for
// (collectionID, recordID, userID); returns (nil, nil) when absent.
func (s *Store) GetRecordPermission(ctx context.Context, collectionID, recordID, userID string) (*RecordPermission, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, collection_id, record_id, can_read, can_update, can_delete
		FROM record_permissions WHERE collection_id = ? AND record_id = ? AND user_id = ?`, collectionID, recordID, userID)

	var p RecordPermission
	var read, update, del sql.NullInt64
	err := row.Scan(&p.ID, &p.UserID, &p.CollectionID, &p.RecordID, &read, &update, &del)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record permission: %w", err)
	}
	p.Read, p.Update, p.Delete = nullIntToFlag(read), nullIntToFlag(update), nullIntToFlag(del)
	return &p, nil
}

// ListRecordPermissions returns every per-user override for one
// record.
func (s *Store) ListRecordPermissions(ctx context.Context, collectionID, recordID string) ([]RecordPermission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, collection_id, record_id, can_read, can_update, can_delete
		FROM record_permissions WHERE collection_id = ? AND record_id = ?`, collectionID, recordID)
	if err != nil {
		return nil, fmt.Errorf("list record permissions: %w", err)
	}
	defer rows.Close()

	var out []RecordPermission
	for rows.Next() {
		var p RecordPermission
		var read, update, del sql.NullInt64
		if err := rows.Scan(&p.ID, &p.UserID, &p.CollectionID, &p.RecordID, &read, &update, &del); err != nil {
			return nil, err
		}
		p.Read, p.Update, p.Delete = nullIntToFlag(read), nullIntToFlag(update), nullIntToFlag(del)
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteRecordPermission removes one user's override for a record.
func (s *Store) DeleteRecordPermission(ctx context.Context, collectionID, recordID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM record_permissions WHERE collection_id = ? AND record_id = ? AND user_id = ?`,
		collectionID, recordID, userID)
	return err
}

// executor is satisfied by both *sql.DB and *sql.Tx, letting
// CascadeDeleteCollection run inside a caller-owned transaction so a
// collection's metadata row, backing table and permission rows are
// dropped atomically.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CascadeDeleteCollection removes every permission row scoped to a
// collection, called by the schema registry as part of collection
// deletion.
func (s *Store) CascadeDeleteCollection(ctx context.Context, collectionID string) error {
	return CascadeDeleteCollectionTx(ctx, s.db, collectionID)
}

// CascadeDeleteCollectionTx is the transaction-scoped variant used by
// internal/collections.Store.Delete so the cascade commits atomically
// with the metadata row and the DROP TABLE statement.
func CascadeDeleteCollectionTx(ctx context.Context, tx executor, collectionID string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM role_collection_permissions WHERE collection_id = ?`, collectionID); err != nil {
		return fmt.Errorf("cascade delete role permissions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_collection_permissions WHERE collection_id = ?`, collectionID); err != nil {
		return fmt.Errorf("cascade delete user permissions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM record_permissions WHERE collection_id = ?`, collectionID); err != nil {
		return fmt.Errorf("cascade delete record permissions: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func flagToNullInt(f Flag) sql.NullInt64 {
	if f == Unset {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(boolToInt(f == Allow)), Valid: true}
}

func nullIntToFlag(n sql.NullInt64) Flag {
	if !n.Valid {
		return Unset
	}
	if n.Int64 != 0 {
		return Allow
	}
	return Deny
}
