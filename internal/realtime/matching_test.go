package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artha-au/baasd/internal/query"
	"github.com/artha-au/baasd/internal/records"
)

func createdEvent(collection string, rec records.Record) records.Event {
	return records.Event{CollectionName: collection, Action: records.ActionCreate, RecordID: "rec-1", NewRecord: rec}
}

func TestCollectionSubscriptionMatches(t *testing.T) {
	sub := subscription{id: "s1", collectionName: "articles", kind: KindCollection}

	assert.True(t, sub.matches(createdEvent("articles", records.Record{"title": "x"})))
	assert.False(t, sub.matches(createdEvent("comments", records.Record{"title": "x"})))
}

func TestRecordSubscriptionMatches(t *testing.T) {
	sub := subscription{id: "s1", collectionName: "articles", kind: KindRecord, recordID: "rec-1"}

	assert.True(t, sub.matches(createdEvent("articles", nil)))

	other := records.Event{CollectionName: "articles", Action: records.ActionUpdate, RecordID: "rec-2"}
	assert.False(t, sub.matches(other))
}

func TestQuerySubscriptionMatches(t *testing.T) {
	filters, err := ParseQueryFilters(map[string]string{"views": "gt:10"})
	require.NoError(t, err)
	sub := subscription{id: "s1", collectionName: "articles", kind: KindQuery, filters: filters}

	assert.False(t, sub.matches(createdEvent("articles", records.Record{"views": float64(5)})))
	assert.True(t, sub.matches(createdEvent("articles", records.Record{"views": float64(20)})))
}

// Delete events carry no post-image, so query subscriptions evaluate
// against the old record instead.
func TestQuerySubscriptionMatchesDeleteAgainstOldRecord(t *testing.T) {
	filters, err := ParseQueryFilters(map[string]string{"views": "gte:10"})
	require.NoError(t, err)
	sub := subscription{id: "s1", collectionName: "articles", kind: KindQuery, filters: filters}

	event := records.Event{
		CollectionName: "articles",
		Action:         records.ActionDelete,
		RecordID:       "rec-1",
		OldRecord:      records.Record{"views": float64(15)},
	}
	assert.True(t, sub.matches(event))
}

func TestParseQueryFiltersMalformed(t *testing.T) {
	_, err := ParseQueryFilters(map[string]string{"views": "10"})
	assert.Error(t, err)
}

func TestMatchesFilterOperators(t *testing.T) {
	rec := records.Record{
		"title":  "Hello World",
		"views":  float64(10),
		"draft":  true,
		"author": nil,
	}

	cases := []struct {
		name string
		f    query.Filter
		want bool
	}{
		{"eq string", query.Filter{Field: "title", Op: query.OpEq, Value: "Hello World"}, true},
		{"ne string", query.Filter{Field: "title", Op: query.OpNe, Value: "Other"}, true},
		{"eq bool", query.Filter{Field: "draft", Op: query.OpEq, Value: "true"}, true},
		{"gt", query.Filter{Field: "views", Op: query.OpGt, Value: "5"}, true},
		{"gte boundary", query.Filter{Field: "views", Op: query.OpGte, Value: "10"}, true},
		{"lt fails", query.Filter{Field: "views", Op: query.OpLt, Value: "10"}, false},
		{"lte boundary", query.Filter{Field: "views", Op: query.OpLte, Value: "10"}, true},
		{"like substring", query.Filter{Field: "title", Op: query.OpLike, Value: "world"}, true},
		{"notlike", query.Filter{Field: "title", Op: query.OpNotLike, Value: "zzz"}, true},
		{"in", query.Filter{Field: "views", Op: query.OpIn, Value: "5;10;15"}, true},
		{"notin", query.Filter{Field: "views", Op: query.OpNotIn, Value: "5;15"}, true},
		{"isnull on nil", query.Filter{Field: "author", Op: query.OpIsNull}, true},
		{"isnull on absent", query.Filter{Field: "missing", Op: query.OpIsNull}, true},
		{"isnotnull", query.Filter{Field: "views", Op: query.OpIsNotNull}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, matchesFilter(rec, tc.f))
		})
	}
}

func TestMatchesAllFiltersRequiresEvery(t *testing.T) {
	rec := records.Record{"views": float64(20), "title": "go"}
	filters := []query.Filter{
		{Field: "views", Op: query.OpGt, Value: "10"},
		{Field: "title", Op: query.OpEq, Value: "go"},
	}
	assert.True(t, matchesAllFilters(rec, filters))

	filters[1].Value = "rust"
	assert.False(t, matchesAllFilters(rec, filters))
}

func TestActivityLogBounded(t *testing.T) {
	log := newActivityLog(3)
	for i := 0; i < 5; i++ {
		log.record(activityEntry{RecordID: string(rune('a' + i))})
	}
	recent := log.recent(10)
	require.Len(t, recent, 3)
	assert.Equal(t, "c", recent[0].RecordID)
	assert.Equal(t, "e", recent[2].RecordID)
}
