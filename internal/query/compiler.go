// Package query compiles the sort/filter/search/limit/offset grammar
// exposed on list endpoints into a single parameterized SQL query. No
// caller-supplied value ever reaches the generated SQL text outside a
// bound parameter; field names are validated against the collection's
// declared schema before they are quoted and emitted.
package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/artha-au/baasd/internal/apperrors"
	"github.com/artha-au/baasd/internal/collections"
)

// Operator is one of the comparison operators the filter grammar accepts.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpLike       Operator = "like"
	OpNotLike    Operator = "notlike"
	OpIn         Operator = "in"
	OpNotIn      Operator = "notin"
	OpIsNull     Operator = "isnull"
	OpIsNotNull  Operator = "isnotnull"
)

var sqlByOperator = map[Operator]string{
	OpEq: "=", OpNe: "!=", OpGt: ">", OpGte: ">=", OpLt: "<", OpLte: "<=",
	OpLike: "LIKE", OpNotLike: "NOT LIKE",
}

const maxAPILimit = 100

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.]{1,100}$`)

var systemFields = map[string]bool{"id": true, "created_at": true, "updated_at": true}

// Filter is one parsed `field:op:value` clause.
type Filter struct {
	Field string
	Op    Operator
	Value string // raw value as it appeared; the bound argument(s) are derived from it for every operator
}

// SortKey is one parsed sort field.
type SortKey struct {
	Field      string
	Descending bool
}

// Query is the parsed, schema-validated representation of sort, filter,
// search, limit and offset inputs, ready for Compile.
type Query struct {
	Sort    []SortKey
	Filters []Filter
	Search  string
	Limit   *int
	Offset  *int
}

// Compiled is a single parameterized SELECT statement.
type Compiled struct {
	SQL  string
	Args []interface{}
}

// ParseSort parses the `field[,field]*` grammar, rejecting fields that
// don't match the allowed character class or aren't declared on schema
// (system fields id/created_at/updated_at are always allowed).
func ParseSort(raw string, schema collections.Schema) ([]SortKey, error) {
	if raw == "" {
		return []SortKey{{Field: "created_at", Descending: true}}, nil
	}

	var keys []SortKey
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		descending := false
		field := part
		if strings.HasPrefix(part, "-") {
			descending = true
			field = part[1:]
		}
		if !fieldNamePattern.MatchString(field) {
			return nil, apperrors.Validation(fmt.Sprintf("invalid sort field %q", part))
		}
		if !systemFields[field] {
			if _, ok := schema.FieldByName(field); !ok {
				return nil, apperrors.Validation(fmt.Sprintf("unknown sort field %q", field))
			}
		}
		keys = append(keys, SortKey{Field: field, Descending: descending})
	}
	if len(keys) == 0 {
		return []SortKey{{Field: "created_at", Descending: true}}, nil
	}
	return keys, nil
}

// ParseFilters parses the `field:op:value[,field:op:value]*` grammar.
func ParseFilters(raw string, schema collections.Schema) ([]Filter, error) {
	if raw == "" {
		return nil, nil
	}

	var filters []Filter
	for _, clause := range splitTopLevel(raw) {
		parts := strings.SplitN(clause, ":", 3)
		if len(parts) < 2 {
			return nil, apperrors.Validation(fmt.Sprintf("malformed filter clause %q", clause))
		}
		field := parts[0]
		op := Operator(parts[1])
		value := ""
		if len(parts) == 3 {
			value = parts[2]
		}

		if !fieldNamePattern.MatchString(field) {
			return nil, apperrors.Validation(fmt.Sprintf("invalid filter field %q", field))
		}
		if !systemFields[field] {
			if _, ok := schema.FieldByName(field); !ok {
				return nil, apperrors.Validation(fmt.Sprintf("unknown filter field %q", field))
			}
		}

		switch op {
		case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpLike, OpNotLike, OpIn, OpNotIn, OpIsNull, OpIsNotNull:
		default:
			return nil, apperrors.Validation(fmt.Sprintf("unknown filter operator %q", op))
		}

		if (op == OpIn || op == OpNotIn) && value == "" {
			return nil, apperrors.Validation(fmt.Sprintf("operator %q requires a %q-separated value list", op, ";"))
		}

		filters = append(filters, Filter{Field: field, Op: op, Value: value})
	}
	return filters, nil
}

// splitTopLevel splits a comma-joined filter string into clauses. in/notin
// value lists are ';'-separated, so every comma starts a new clause.
func splitTopLevel(raw string) []string {
	return strings.Split(raw, ",")
}

// parseScalar interprets a raw filter value as boolean, then number,
// then string, per the grammar's value-typing rule.
func parseScalar(raw string) interface{} {
	if raw == "true" || raw == "false" {
		return raw == "true"
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n
	}
	return raw
}

// Compile builds the final parameterized SELECT for a collection's
// backing table. projection is the list of column names to select,
// taken from the collection's schema rather than user input; Compile
// quotes each one.
func Compile(tableName string, projection []string, q Query, searchFields []string) Compiled {
	var sb strings.Builder
	var args []interface{}

	sb.WriteString("SELECT ")
	cols := make([]string, len(projection))
	for i, c := range projection {
		cols[i] = collections.EscapeIdentifier(c)
	}
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(collections.EscapeIdentifier(tableName))

	var conditions []string
	for _, f := range q.Filters {
		cond, fArgs := compileFilter(f)
		conditions = append(conditions, cond)
		args = append(args, fArgs...)
	}
	if q.Search != "" && len(searchFields) > 0 {
		var searchConds []string
		for _, field := range searchFields {
			searchConds = append(searchConds, collections.EscapeIdentifier(field)+" LIKE ?")
			args = append(args, "%"+q.Search+"%")
		}
		conditions = append(conditions, "("+strings.Join(searchConds, " OR ")+")")
	}
	if len(conditions) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conditions, " AND "))
	}

	sb.WriteString(" ORDER BY ")
	orderParts := make([]string, len(q.Sort))
	for i, s := range q.Sort {
		dir := "ASC"
		if s.Descending {
			dir = "DESC"
		}
		orderParts[i] = collections.EscapeIdentifier(s.Field) + " " + dir
	}
	sb.WriteString(strings.Join(orderParts, ", "))

	if q.Limit != nil {
		sb.WriteString(" LIMIT ?")
		args = append(args, *q.Limit)
	}
	if q.Offset != nil {
		sb.WriteString(" OFFSET ?")
		args = append(args, *q.Offset)
	}

	return Compiled{SQL: sb.String(), Args: args}
}

func compileFilter(f Filter) (string, []interface{}) {
	col := collections.EscapeIdentifier(f.Field)

	switch f.Op {
	case OpIsNull:
		return col + " IS NULL", nil
	case OpIsNotNull:
		return col + " IS NOT NULL", nil
	case OpLike, OpNotLike:
		pattern := f.Value
		if !strings.Contains(pattern, "%") {
			pattern = "%" + pattern + "%"
		}
		return col + " " + sqlByOperator[f.Op] + " ?", []interface{}{pattern}
	case OpIn, OpNotIn:
		values := strings.Split(f.Value, ";")
		placeholders := make([]string, len(values))
		args := make([]interface{}, len(values))
		for i, v := range values {
			placeholders[i] = "?"
			args[i] = parseScalar(v)
		}
		verb := "IN"
		if f.Op == OpNotIn {
			verb = "NOT IN"
		}
		return col + " " + verb + " (" + strings.Join(placeholders, ", ") + ")", args
	default:
		return col + " " + sqlByOperator[f.Op] + " ?", []interface{}{parseScalar(f.Value)}
	}
}

// ClampAPILimit caps a requested limit at the API boundary's maximum of
// 100, defaulting to that maximum when unset.
func ClampAPILimit(requested *int) int {
	if requested == nil {
		return maxAPILimit
	}
	if *requested <= 0 || *requested > maxAPILimit {
		return maxAPILimit
	}
	return *requested
}
