package realtime

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/artha-au/baasd/internal/query"
	"github.com/artha-au/baasd/internal/records"
)

// ParseQueryFilters turns the Subscribe payload's {field: "op:value"}
// map into the same Filter values the list-endpoint compiler uses, so
// subscription matching shares one operator grammar with the list
// query language.
func ParseQueryFilters(raw map[string]string) ([]query.Filter, error) {
	var filters []query.Filter
	for field, clause := range raw {
		parts := strings.SplitN(clause, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed filter clause %q for field %q", clause, field)
		}
		filters = append(filters, query.Filter{Field: field, Op: query.Operator(parts[0]), Value: parts[1]})
	}
	return filters, nil
}

// matchesFilter evaluates a single compiled filter against a decoded
// record in memory, mirroring the comparison semantics compiler.Compile
// pushes into SQL for the same operator.
func matchesFilter(record records.Record, f query.Filter) bool {
	value, present := record[f.Field]

	switch f.Op {
	case query.OpIsNull:
		return !present || value == nil
	case query.OpIsNotNull:
		return present && value != nil
	case query.OpIn, query.OpNotIn:
		values := strings.Split(f.Value, ";")
		matched := false
		for _, v := range values {
			if scalarEquals(value, v) {
				matched = true
				break
			}
		}
		if f.Op == query.OpNotIn {
			return !matched
		}
		return matched
	case query.OpLike, query.OpNotLike:
		pattern := strings.Trim(f.Value, "%")
		str := fmt.Sprintf("%v", value)
		contains := strings.Contains(strings.ToLower(str), strings.ToLower(pattern))
		if f.Op == query.OpNotLike {
			return !contains
		}
		return contains
	case query.OpEq:
		return scalarEquals(value, f.Value)
	case query.OpNe:
		return !scalarEquals(value, f.Value)
	case query.OpGt, query.OpGte, query.OpLt, query.OpLte:
		return scalarCompare(value, f.Value, f.Op)
	default:
		return false
	}
}

func scalarEquals(value interface{}, raw string) bool {
	switch v := value.(type) {
	case string:
		return v == raw
	case bool:
		b, err := strconv.ParseBool(raw)
		return err == nil && b == v
	case float64:
		f, err := strconv.ParseFloat(raw, 64)
		return err == nil && f == v
	default:
		return fmt.Sprintf("%v", value) == raw
	}
}

func scalarCompare(value interface{}, raw string, op query.Operator) bool {
	vf, ok1 := value.(float64)
	rf, err := strconv.ParseFloat(raw, 64)
	if !ok1 || err != nil {
		return false
	}
	switch op {
	case query.OpGt:
		return vf > rf
	case query.OpGte:
		return vf >= rf
	case query.OpLt:
		return vf < rf
	case query.OpLte:
		return vf <= rf
	default:
		return false
	}
}
