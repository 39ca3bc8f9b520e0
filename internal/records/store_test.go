package records

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
	"github.com/artha-au/baasd/internal/collections"
	"github.com/artha-au/baasd/internal/query"
	"github.com/artha-au/baasd/internal/storage"
)

type capturePublisher struct {
	events []Event
}

func (c *capturePublisher) Publish(_ context.Context, e Event) {
	c.events = append(c.events, e)
}

func newTestStore(t *testing.T) (*Store, *capturePublisher, collections.Collection, *sql.DB) {
	t.Helper()
	pool, err := storage.Open(storage.Options{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		BusyTimeout:  time.Second,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	colStore := collections.NewStore(pool.DB)
	col, err := colStore.Create(context.Background(), collections.CreateRequest{
		Name: "articles",
		Schema: collections.Schema{Fields: []collections.FieldDefinition{
			{Name: "title", FieldType: collections.FieldText, Required: true},
			{Name: "views", FieldType: collections.FieldNumber, Default: float64(0)},
			{Name: "published", FieldType: collections.FieldBoolean},
			{Name: "meta", FieldType: collections.FieldJSON},
		}},
	})
	require.NoError(t, err)

	publisher := &capturePublisher{}
	return NewStore(pool.DB, publisher), publisher, *col, pool.DB
}

func TestCreateRoundTrip(t *testing.T) {
	store, publisher, col, _ := newTestStore(t)
	ctx := context.Background()

	rec, err := store.Create(ctx, col, map[string]interface{}{
		"title":     "hello",
		"views":     float64(5),
		"published": true,
		"meta":      map[string]interface{}{"tags": []interface{}{"go"}},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, rec["id"])
	assert.Equal(t, "hello", rec["title"])
	assert.EqualValues(t, 5, rec["views"])
	assert.Equal(t, true, rec["published"])
	assert.Equal(t, map[string]interface{}{"tags": []interface{}{"go"}}, rec["meta"])
	assert.IsType(t, time.Time{}, rec["created_at"])

	require.Len(t, publisher.events, 1)
	assert.Equal(t, ActionCreate, publisher.events[0].Action)
	assert.Equal(t, "articles", publisher.events[0].CollectionName)
}

func TestCreateAppliesDefaults(t *testing.T) {
	store, _, col, _ := newTestStore(t)
	rec, err := store.Create(context.Background(), col, map[string]interface{}{"title": "x"})
	require.NoError(t, err)
	assert.EqualValues(t, 0, rec["views"])
}

func TestCreateRejectsInvalidPayload(t *testing.T) {
	store, publisher, col, _ := newTestStore(t)
	_, err := store.Create(context.Background(), col, map[string]interface{}{"views": float64(1)})
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindValidationError, appErr.Kind)
	assert.Empty(t, publisher.events, "no event for a rejected write")
}

func TestUpdateRecord(t *testing.T) {
	store, publisher, col, _ := newTestStore(t)
	ctx := context.Background()

	rec, err := store.Create(ctx, col, map[string]interface{}{"title": "before", "views": float64(1)})
	require.NoError(t, err)
	id := rec["id"].(string)

	updated, old, err := store.Update(ctx, col, id, map[string]interface{}{"views": float64(20)})
	require.NoError(t, err)
	assert.EqualValues(t, 20, updated["views"])
	assert.EqualValues(t, 1, old["views"])
	assert.Equal(t, "before", updated["title"], "untouched fields survive")

	require.Len(t, publisher.events, 2)
	event := publisher.events[1]
	assert.Equal(t, ActionUpdate, event.Action)
	assert.EqualValues(t, 20, event.NewRecord["views"])
	assert.EqualValues(t, 1, event.OldRecord["views"])
}

func TestUpdateRejectsEmptyPayload(t *testing.T) {
	store, _, col, _ := newTestStore(t)
	_, _, err := store.Update(context.Background(), col, "some-id", map[string]interface{}{})
	require.Error(t, err)
}

func TestUpdateMissingRecord(t *testing.T) {
	store, _, col, _ := newTestStore(t)
	_, _, err := store.Update(context.Background(), col, "nope", map[string]interface{}{"title": "x"})
	require.Error(t, err)
	appErr, _ := apperrors.As(err)
	assert.Equal(t, apperrors.KindNotFound, appErr.Kind)
}

func TestDeleteRecord(t *testing.T) {
	store, publisher, col, _ := newTestStore(t)
	ctx := context.Background()

	rec, err := store.Create(ctx, col, map[string]interface{}{"title": "x"})
	require.NoError(t, err)
	id := rec["id"].(string)

	old, err := store.Delete(ctx, col, id)
	require.NoError(t, err)
	assert.Equal(t, "x", old["title"])

	_, err = store.Get(ctx, col, id)
	require.Error(t, err)

	require.Len(t, publisher.events, 2)
	assert.Equal(t, ActionDelete, publisher.events[1].Action)
	assert.Equal(t, "x", publisher.events[1].OldRecord["title"])
}

func TestDeleteMissingRecord(t *testing.T) {
	store, _, col, _ := newTestStore(t)
	_, err := store.Delete(context.Background(), col, "nope")
	require.Error(t, err)
	appErr, _ := apperrors.As(err)
	assert.Equal(t, apperrors.KindNotFound, appErr.Kind)
}

// Mirrors the filter+sort listing flow: seed three rows, ask for
// views>=10 sorted by views descending, get exactly the two matches in
// order.
func TestListFilterAndSort(t *testing.T) {
	store, _, col, _ := newTestStore(t)
	ctx := context.Background()

	for _, views := range []float64{5, 10, 20} {
		_, err := store.Create(ctx, col, map[string]interface{}{"title": "t", "views": views})
		require.NoError(t, err)
	}

	filters, err := query.ParseFilters("views:gte:10", col.Schema)
	require.NoError(t, err)
	sortKeys, err := query.ParseSort("-views,title", col.Schema)
	require.NoError(t, err)

	limit := 5
	result, err := store.List(ctx, col, query.Query{Filters: filters, Sort: sortKeys, Limit: &limit})
	require.NoError(t, err)

	require.Len(t, result.Records, 2)
	assert.Equal(t, 2, result.TotalCount)
	assert.EqualValues(t, 20, result.Records[0]["views"])
	assert.EqualValues(t, 10, result.Records[1]["views"])
}

func TestListSearch(t *testing.T) {
	store, _, col, _ := newTestStore(t)
	ctx := context.Background()

	for _, title := range []string{"intro to go", "rust primer"} {
		_, err := store.Create(ctx, col, map[string]interface{}{"title": title})
		require.NoError(t, err)
	}

	sortKeys, err := query.ParseSort("", col.Schema)
	require.NoError(t, err)
	result, err := store.List(ctx, col, query.Query{Sort: sortKeys, Search: "go"})
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "intro to go", result.Records[0]["title"])
}

func TestListPagination(t *testing.T) {
	store, _, col, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.Create(ctx, col, map[string]interface{}{"title": "t", "views": float64(i)})
		require.NoError(t, err)
	}

	sortKeys, err := query.ParseSort("views", col.Schema)
	require.NoError(t, err)
	limit, offset := 2, 2
	result, err := store.List(ctx, col, query.Query{Sort: sortKeys, Limit: &limit, Offset: &offset})
	require.NoError(t, err)

	require.Len(t, result.Records, 2)
	assert.Equal(t, 5, result.TotalCount)
	assert.EqualValues(t, 2, result.Records[0]["views"])
	assert.EqualValues(t, 3, result.Records[1]["views"])
}
