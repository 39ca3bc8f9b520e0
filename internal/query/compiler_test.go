package query

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artha-au/baasd/internal/collections"
)

func testSchema() collections.Schema {
	return collections.Schema{Fields: []collections.FieldDefinition{
		{Name: "title", FieldType: collections.FieldText},
		{Name: "views", FieldType: collections.FieldNumber},
		{Name: "published", FieldType: collections.FieldBoolean},
	}}
}

func TestParseSortDefault(t *testing.T) {
	keys, err := ParseSort("", testSchema())
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "created_at", keys[0].Field)
	assert.True(t, keys[0].Descending)
}

func TestParseSortMultiple(t *testing.T) {
	keys, err := ParseSort("-views,title", testSchema())
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, SortKey{Field: "views", Descending: true}, keys[0])
	assert.Equal(t, SortKey{Field: "title", Descending: false}, keys[1])
}

func TestParseSortSystemFields(t *testing.T) {
	keys, err := ParseSort("id,-updated_at", testSchema())
	require.NoError(t, err)
	require.Len(t, keys, 2)
}

func TestParseSortUnknownField(t *testing.T) {
	_, err := ParseSort("nope", testSchema())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestParseFilters(t *testing.T) {
	filters, err := ParseFilters("views:gte:10,title:like:go", testSchema())
	require.NoError(t, err)
	require.Len(t, filters, 2)
	assert.Equal(t, Filter{Field: "views", Op: OpGte, Value: "10"}, filters[0])
	assert.Equal(t, Filter{Field: "title", Op: OpLike, Value: "go"}, filters[1])
}

func TestParseFiltersUnknownOperator(t *testing.T) {
	_, err := ParseFilters("views:between:1", testSchema())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "between")
}

func TestParseFiltersUnknownField(t *testing.T) {
	_, err := ParseFilters("secret:eq:x", testSchema())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret")
}

func TestParseFiltersInRequiresValues(t *testing.T) {
	_, err := ParseFilters("views:in:", testSchema())
	require.Error(t, err)
}

func TestParseFiltersIsNullTakesNoValue(t *testing.T) {
	filters, err := ParseFilters("title:isnull:", testSchema())
	require.NoError(t, err)
	require.Len(t, filters, 1)
	assert.Equal(t, OpIsNull, filters[0].Op)
}

func TestCompileShape(t *testing.T) {
	limit, offset := 5, 10
	q := Query{
		Sort:    []SortKey{{Field: "views", Descending: true}, {Field: "title"}},
		Filters: []Filter{{Field: "views", Op: OpGte, Value: "10"}},
		Limit:   &limit,
		Offset:  &offset,
	}
	compiled := Compile("records_articles", []string{"id", "title", "views"}, q, nil)

	assert.Equal(t,
		`SELECT "id", "title", "views" FROM "records_articles" WHERE "views" >= ? ORDER BY "views" DESC, "title" ASC LIMIT ? OFFSET ?`,
		compiled.SQL)
	assert.Equal(t, []interface{}{float64(10), 5, 10}, compiled.Args)
}

func TestCompileLikeWrapsPattern(t *testing.T) {
	q := Query{
		Sort:    []SortKey{{Field: "created_at", Descending: true}},
		Filters: []Filter{{Field: "title", Op: OpLike, Value: "go"}},
	}
	compiled := Compile("records_articles", []string{"id"}, q, nil)
	require.Len(t, compiled.Args, 1)
	assert.Equal(t, "%go%", compiled.Args[0])

	q.Filters[0].Value = "go%"
	compiled = Compile("records_articles", []string{"id"}, q, nil)
	assert.Equal(t, "go%", compiled.Args[0])
}

func TestCompileInExpandsPlaceholders(t *testing.T) {
	q := Query{
		Sort:    []SortKey{{Field: "created_at", Descending: true}},
		Filters: []Filter{{Field: "views", Op: OpIn, Value: "1;2;3"}},
	}
	compiled := Compile("records_articles", []string{"id"}, q, nil)
	assert.Contains(t, compiled.SQL, `"views" IN (?, ?, ?)`)
	assert.Equal(t, []interface{}{float64(1), float64(2), float64(3)}, compiled.Args)
}

func TestCompileSearchSpansTextFields(t *testing.T) {
	q := Query{
		Sort:   []SortKey{{Field: "created_at", Descending: true}},
		Search: "hello",
	}
	compiled := Compile("records_articles", []string{"id"}, q, []string{"title", "body"})
	assert.Contains(t, compiled.SQL, `("title" LIKE ? OR "body" LIKE ?)`)
	assert.Equal(t, []interface{}{"%hello%", "%hello%"}, compiled.Args)
}

// TestCompileValuesNeverReachSQL exercises the safe-SQL contract: the
// generated statement text must be identical no matter what hostile
// value a filter carries, because values only ever travel as bound
// parameters.
func TestCompileValuesNeverReachSQL(t *testing.T) {
	hostile := []string{
		`'; DROP TABLE users; --`,
		`" OR 1=1`,
		`%' UNION SELECT password_hash FROM users --`,
		"\x00\n\t",
		`值`,
	}

	baseline := ""
	for i, v := range hostile {
		q := Query{
			Sort:    []SortKey{{Field: "created_at", Descending: true}},
			Filters: []Filter{{Field: "title", Op: OpEq, Value: v}},
		}
		compiled := Compile("records_articles", []string{"id", "title"}, q, nil)
		if i == 0 {
			baseline = compiled.SQL
		}
		assert.Equal(t, baseline, compiled.SQL, "statement text must not vary with the value")
		assert.NotContains(t, compiled.SQL, "DROP")
		assert.NotContains(t, compiled.SQL, "UNION")
	}
}

func TestCompileOperatorMatrix(t *testing.T) {
	cases := []struct {
		op   Operator
		want string
	}{
		{OpEq, `"views" = ?`},
		{OpNe, `"views" != ?`},
		{OpGt, `"views" > ?`},
		{OpGte, `"views" >= ?`},
		{OpLt, `"views" < ?`},
		{OpLte, `"views" <= ?`},
		{OpNotLike, `"views" NOT LIKE ?`},
		{OpNotIn, `"views" NOT IN (?)`},
		{OpIsNull, `"views" IS NULL`},
		{OpIsNotNull, `"views" IS NOT NULL`},
	}
	for _, tc := range cases {
		t.Run(string(tc.op), func(t *testing.T) {
			q := Query{
				Sort:    []SortKey{{Field: "id"}},
				Filters: []Filter{{Field: "views", Op: tc.op, Value: "1"}},
			}
			compiled := Compile("t", []string{"id"}, q, nil)
			assert.Contains(t, compiled.SQL, tc.want)
		})
	}
}

func TestParseScalarPrecedence(t *testing.T) {
	assert.Equal(t, true, parseScalar("true"))
	assert.Equal(t, false, parseScalar("false"))
	assert.Equal(t, float64(42), parseScalar("42"))
	assert.Equal(t, 4.5, parseScalar("4.5"))
	assert.Equal(t, "hello", parseScalar("hello"))
}

func TestClampAPILimit(t *testing.T) {
	for _, tc := range []struct {
		in   *int
		want int
	}{
		{nil, 100},
		{intPtr(5), 5},
		{intPtr(100), 100},
		{intPtr(101), 100},
		{intPtr(0), 100},
		{intPtr(-3), 100},
	} {
		assert.Equal(t, tc.want, ClampAPILimit(tc.in), fmt.Sprintf("%v", tc.in))
	}
}

func intPtr(n int) *int { return &n }

func TestFieldNamePatternRejectsQuotes(t *testing.T) {
	bad := []string{`ti"tle`, "a b", "x;y", "", strings.Repeat("a", 101)}
	for _, name := range bad {
		_, err := ParseFilters(name+":eq:1", testSchema())
		assert.Error(t, err, name)
	}
}
