package collections

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artha-au/baasd/internal/apperrors"
	"github.com/artha-au/baasd/internal/storage"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	pool, err := storage.Open(storage.Options{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		BusyTimeout:  time.Second,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool.DB
}

func articlesRequest() CreateRequest {
	return CreateRequest{
		Name:        "articles",
		DisplayName: "Articles",
		Schema: Schema{Fields: []FieldDefinition{
			{Name: "title", FieldType: FieldText, Required: true},
			{Name: "views", FieldType: FieldNumber},
		}},
	}
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&count)
	require.NoError(t, err)
	return count > 0
}

func TestCreateCollection(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	col, err := store.Create(ctx, articlesRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, col.ID)
	assert.Equal(t, "articles", col.Name)
	assert.False(t, col.IsSystem)

	assert.True(t, tableExists(t, db, "records_articles"))

	var indexes, triggers int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND tbl_name = 'records_articles' AND name LIKE 'idx_%'`).Scan(&indexes))
	assert.Equal(t, 1, indexes)
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'trigger' AND tbl_name = 'records_articles'`).Scan(&triggers))
	assert.Equal(t, 1, triggers)

	got, err := store.Get(ctx, "articles")
	require.NoError(t, err)
	assert.Equal(t, col.Schema, got.Schema)
}

func TestCreateCollectionDuplicate(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := context.Background()

	_, err := store.Create(ctx, articlesRequest())
	require.NoError(t, err)
	_, err = store.Create(ctx, articlesRequest())
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindConflict, appErr.Kind)
}

func TestCreateCollectionRejectsBadName(t *testing.T) {
	store := NewStore(newTestDB(t))
	req := articlesRequest()
	req.Name = "users"
	_, err := store.Create(context.Background(), req)
	require.Error(t, err)
}

func TestGetMissingCollection(t *testing.T) {
	store := NewStore(newTestDB(t))
	_, err := store.Get(context.Background(), "ghosts")
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindNotFound, appErr.Kind)
}

func TestUpdateCollectionAdditive(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	_, err := store.Create(ctx, articlesRequest())
	require.NoError(t, err)

	next := Schema{Fields: []FieldDefinition{
		{Name: "title", FieldType: FieldText, Required: true},
		{Name: "views", FieldType: FieldNumber},
		{Name: "summary", FieldType: FieldText},
	}}
	updated, err := store.Update(ctx, "articles", UpdateRequest{Schema: &next})
	require.NoError(t, err)
	require.Len(t, updated.Schema.Fields, 3)

	// the new column is usable immediately
	_, err = db.Exec(`INSERT INTO "records_articles" (id, title, summary) VALUES ('r1', 't', 's')`)
	assert.NoError(t, err)
}

func TestUpdateCollectionRejectsDestructive(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := context.Background()

	_, err := store.Create(ctx, articlesRequest())
	require.NoError(t, err)

	dropped := Schema{Fields: []FieldDefinition{
		{Name: "title", FieldType: FieldText, Required: true},
	}}
	_, err = store.Update(ctx, "articles", UpdateRequest{Schema: &dropped})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "views")
}

// Deleting a collection must leave nothing behind: no metadata row, no
// backing table, and no permission rows scoped to it.
func TestDeleteCollectionCascades(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	col, err := store.Create(ctx, articlesRequest())
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO roles (id, name, priority) VALUES ('role-editor', 'editor', 50)`)
	require.NoError(t, err)
	_, err = db.Exec(`
		INSERT INTO users (id, email, username, password_hash, role_id)
		VALUES ('user-1', 'u@example.com', 'u1', 'x', 'role-editor')`)
	require.NoError(t, err)
	_, err = db.Exec(`
		INSERT INTO role_collection_permissions (id, role_id, collection_id, can_read) VALUES ('p1', 'role-editor', ?, 1)`, col.ID)
	require.NoError(t, err)
	_, err = db.Exec(`
		INSERT INTO user_collection_permissions (id, user_id, collection_id, can_read) VALUES ('p2', 'user-1', ?, 1)`, col.ID)
	require.NoError(t, err)
	_, err = db.Exec(`
		INSERT INTO record_permissions (id, user_id, collection_id, record_id, can_read) VALUES ('p3', 'user-1', ?, 'rec-1', 1)`, col.ID)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "articles"))

	assert.False(t, tableExists(t, db, "records_articles"))

	_, err = store.Get(ctx, "articles")
	require.Error(t, err)

	for _, table := range []string{"role_collection_permissions", "user_collection_permissions", "record_permissions"} {
		var count int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM `+table+` WHERE collection_id = ?`, col.ID).Scan(&count))
		assert.Zero(t, count, table)
	}
}

func TestDeleteSystemCollectionRefused(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	_, err := db.Exec(`
		INSERT INTO collections (id, name, schema_json, is_system) VALUES ('sys-1', 'audit_log', '{"fields":[]}', 1)`)
	require.NoError(t, err)

	err = store.Delete(ctx, "audit_log")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "system")
}

func TestStats(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	_, err := store.Create(ctx, articlesRequest())
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO "records_articles" (id, title) VALUES ('r1', 'a'), ('r2', 'b')`)
	require.NoError(t, err)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalCollections)
	assert.Equal(t, 2, stats.TotalRecords)
	assert.Equal(t, 2, stats.RecordsByCollection["articles"])
	assert.Equal(t, 1, stats.FieldTypeCounts["text"])
	assert.Equal(t, 1, stats.FieldTypeCounts["number"])
}
