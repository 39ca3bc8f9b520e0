package permissions

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func seedFixtures(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO roles (id, name, priority) VALUES ('role-editor', 'editor', 50)`)
	require.NoError(t, err)
	_, err = db.Exec(`
		INSERT INTO users (id, email, username, password_hash, role_id)
		VALUES ('user-1', 'u@example.com', 'u1', 'x', 'role-editor')`)
	require.NoError(t, err)
	_, err = db.Exec(`
		INSERT INTO collections (id, name, schema_json) VALUES ('col-1', 'articles', '{"fields":[]}')`)
	require.NoError(t, err)
}

func editorSubject() Subject {
	return Subject{UserID: "user-1", RoleID: "role-editor", RoleName: "editor"}
}

func TestResolveCollectionAdminBypass(t *testing.T) {
	db := newTestDB(t)
	resolver := NewResolver(NewStore(db))

	result, err := resolver.ResolveCollection(context.Background(), Subject{UserID: "x", RoleName: AdminRoleName}, "anything")
	require.NoError(t, err)
	assert.Equal(t, All(), result)
}

func TestResolveCollectionDefaultsToNone(t *testing.T) {
	db := newTestDB(t)
	seedFixtures(t, db)
	resolver := NewResolver(NewStore(db))

	result, err := resolver.ResolveCollection(context.Background(), editorSubject(), "col-1")
	require.NoError(t, err)
	assert.Equal(t, None(), result)
}

// TestResolveCollectionOverlay mirrors the role-default-plus-override
// scenario: editor gets read+list from its role row, and the user
// override adds update without disturbing the rest.
func TestResolveCollectionOverlay(t *testing.T) {
	db := newTestDB(t)
	seedFixtures(t, db)
	store := NewStore(db)
	resolver := NewResolver(store)
	ctx := context.Background()

	_, err := store.UpsertCollectionPermission(ctx, CollectionPermission{
		CollectionID: "col-1", RoleID: "role-editor", Read: true, List: true,
	})
	require.NoError(t, err)

	_, err = store.UpsertUserCollectionPermission(ctx, UserCollectionPermission{
		UserID: "user-1", CollectionID: "col-1", Update: Allow,
	})
	require.NoError(t, err)

	result, err := resolver.ResolveCollection(ctx, editorSubject(), "col-1")
	require.NoError(t, err)
	assert.Equal(t, Result{Create: false, Read: true, Update: true, Delete: false, List: true}, result)
}

// An explicit Deny override must flip a role-granted flag off, while
// Unset flags fall through untouched.
func TestResolveCollectionDenyOverride(t *testing.T) {
	db := newTestDB(t)
	seedFixtures(t, db)
	store := NewStore(db)
	resolver := NewResolver(store)
	ctx := context.Background()

	_, err := store.UpsertCollectionPermission(ctx, CollectionPermission{
		CollectionID: "col-1", RoleID: "role-editor", Read: true, Update: true, List: true,
	})
	require.NoError(t, err)

	_, err = store.UpsertUserCollectionPermission(ctx, UserCollectionPermission{
		UserID: "user-1", CollectionID: "col-1", Update: Deny,
	})
	require.NoError(t, err)

	result, err := resolver.ResolveCollection(ctx, editorSubject(), "col-1")
	require.NoError(t, err)
	assert.True(t, result.Read)
	assert.True(t, result.List)
	assert.False(t, result.Update)
}

func TestResolveRecordActionRecordRowWins(t *testing.T) {
	db := newTestDB(t)
	seedFixtures(t, db)
	store := NewStore(db)
	resolver := NewResolver(store)
	ctx := context.Background()

	_, err := store.UpsertCollectionPermission(ctx, CollectionPermission{
		CollectionID: "col-1", RoleID: "role-editor", Read: true,
	})
	require.NoError(t, err)

	_, err = store.UpsertRecordPermission(ctx, RecordPermission{
		UserID: "user-1", CollectionID: "col-1", RecordID: "rec-1", Read: Deny, Update: Allow,
	})
	require.NoError(t, err)

	read, err := resolver.ResolveRecordAction(ctx, editorSubject(), "col-1", "rec-1", ActionRead)
	require.NoError(t, err)
	assert.False(t, read, "record-level deny beats the role grant")

	update, err := resolver.ResolveRecordAction(ctx, editorSubject(), "col-1", "rec-1", ActionUpdate)
	require.NoError(t, err)
	assert.True(t, update, "record-level allow beats the role default")

	// a different record falls back to the collection answer
	read, err = resolver.ResolveRecordAction(ctx, editorSubject(), "col-1", "rec-2", ActionRead)
	require.NoError(t, err)
	assert.True(t, read)
}

func TestOwns(t *testing.T) {
	cases := []struct {
		name   string
		record map[string]interface{}
		want   bool
	}{
		{"owner_id string match", map[string]interface{}{"owner_id": "user-1"}, true},
		{"owner_id mismatch", map[string]interface{}{"owner_id": "user-2"}, false},
		{"author_id fallback", map[string]interface{}{"author_id": "user-1"}, true},
		{"email fallback", map[string]interface{}{"email": "u@example.com"}, true},
		{"username fallback", map[string]interface{}{"username": "u1"}, true},
		{"no ownership fields", map[string]interface{}{"title": "x"}, false},
		// first match wins: a mismatching owner_id blocks the email fallback
		{"first match wins", map[string]interface{}{"owner_id": "user-2", "email": "u@example.com"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Owns(tc.record, "user-1", "u@example.com", "u1"))
		})
	}
}

func TestOwnsNumericTolerance(t *testing.T) {
	assert.True(t, Owns(map[string]interface{}{"owner_id": float64(7)}, "7", "", ""))
	assert.True(t, Owns(map[string]interface{}{"owner_id": "7"}, "7", "", ""))
	assert.True(t, Owns(map[string]interface{}{"owner_id": int64(7)}, "7", "", ""))
	assert.False(t, Owns(map[string]interface{}{"owner_id": float64(8)}, "7", "", ""))
}

func TestRecordOverlay(t *testing.T) {
	// ownership grants the three record-scope actions unconditionally
	assert.True(t, RecordOverlay(false, true, ActionRead))
	assert.True(t, RecordOverlay(false, true, ActionUpdate))
	assert.True(t, RecordOverlay(false, true, ActionDelete))
	// but never create or list
	assert.False(t, RecordOverlay(false, true, ActionCreate))
	assert.False(t, RecordOverlay(false, true, ActionList))
	// and without ownership the record-scope answer passes through
	assert.True(t, RecordOverlay(true, false, ActionRead))
	assert.False(t, RecordOverlay(false, false, ActionRead))
}

func TestAccessibleCollections(t *testing.T) {
	db := newTestDB(t)
	seedFixtures(t, db)
	_, err := db.Exec(`INSERT INTO collections (id, name, schema_json) VALUES ('col-2', 'drafts', '{"fields":[]}')`)
	require.NoError(t, err)

	store := NewStore(db)
	resolver := NewResolver(store)
	ctx := context.Background()

	_, err = store.UpsertCollectionPermission(ctx, CollectionPermission{
		CollectionID: "col-1", RoleID: "role-editor", Read: true,
	})
	require.NoError(t, err)

	all := map[string]string{"articles": "col-1", "drafts": "col-2"}

	out, err := resolver.AccessibleCollections(ctx, editorSubject(), all)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out["articles"].Read)

	admin, err := resolver.AccessibleCollections(ctx, Subject{UserID: "a", RoleName: AdminRoleName}, all)
	require.NoError(t, err)
	assert.Len(t, admin, 2)
}

func TestCascadeDeleteCollection(t *testing.T) {
	db := newTestDB(t)
	seedFixtures(t, db)
	store := NewStore(db)
	ctx := context.Background()

	_, err := store.UpsertCollectionPermission(ctx, CollectionPermission{CollectionID: "col-1", RoleID: "role-editor", Read: true})
	require.NoError(t, err)
	_, err = store.UpsertUserCollectionPermission(ctx, UserCollectionPermission{UserID: "user-1", CollectionID: "col-1", Read: Allow})
	require.NoError(t, err)
	_, err = store.UpsertRecordPermission(ctx, RecordPermission{UserID: "user-1", CollectionID: "col-1", RecordID: "rec-1", Read: Allow})
	require.NoError(t, err)

	require.NoError(t, store.CascadeDeleteCollection(ctx, "col-1"))

	role, err := store.GetCollectionPermission(ctx, "col-1", "role-editor")
	require.NoError(t, err)
	assert.Nil(t, role)
	user, err := store.GetUserCollectionPermission(ctx, "user-1", "col-1")
	require.NoError(t, err)
	assert.Nil(t, user)
	rec, err := store.GetRecordPermission(ctx, "col-1", "rec-1", "user-1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}
