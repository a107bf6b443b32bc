package docstore

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Filter operators.
const (
	OpEqual         = "=="
	OpLess          = "<"
	OpLessEqual     = "<="
	OpGreater       = ">"
	OpGreaterEqual  = ">="
	OpArrayContains = "array-contains"
)

// Filter restricts a query to documents whose Field satisfies Op against Value.
type Filter struct {
	Field string
	Op    string
	Value any
}

// Order sorts query results by Field.
type Order struct {
	Field string
	Desc  bool
}

// Query selects documents from a single collection.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    []Order
	Limit      int    // 0 means unlimited
	StartAfter string // id of the cursor document in Collection
}

// Where returns a copy of q with an additional filter.
func (q Query) Where(field, op string, v any) Query {
	q.Filters = append(slices.Clone(q.Filters), Filter{Field: field, Op: op, Value: v})
	return q
}

// Ordered returns a copy of q with an additional sort key.
func (q Query) Ordered(field string, desc bool) Query {
	q.OrderBy = append(slices.Clone(q.OrderBy), Order{Field: field, Desc: desc})
	return q
}

func (q Query) String() string {
	var b strings.Builder
	b.WriteString(q.Collection)
	for _, f := range q.Filters {
		fmt.Fprintf(&b, "|%s%s%v", f.Field, f.Op, f.Value)
	}
	for _, o := range q.OrderBy {
		fmt.Fprintf(&b, "|order:%s:%t", o.Field, o.Desc)
	}
	fmt.Fprintf(&b, "|limit:%d|after:%s", q.Limit, q.StartAfter)
	return b.String()
}

// Validate rejects queries no implementation can serve.
func (q Query) Validate() error {
	if q.Collection == "" {
		return fmt.Errorf("query: empty collection")
	}
	if q.Limit < 0 {
		return fmt.Errorf("query: negative limit %d", q.Limit)
	}
	for _, f := range q.Filters {
		switch f.Op {
		case OpEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual, OpArrayContains:
		default:
			return fmt.Errorf("query: unsupported operator %q", f.Op)
		}
	}
	return nil
}

// Evaluate runs q over every document of q.Collection. Results are filtered,
// sorted by OrderBy with the document id as final tiebreak, positioned after
// the StartAfter cursor and truncated to Limit.
func Evaluate(all []Document, q Query) ([]Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var cursor *Document
	if q.StartAfter != "" {
		for i := range all {
			if all[i].ID == q.StartAfter {
				cursor = &all[i]
				break
			}
		}
		if cursor == nil {
			return nil, fmt.Errorf("start after %q: %w", q.StartAfter, ErrNotFound)
		}
	}

	var out []Document
	for _, d := range all {
		if Matches(d, q.Filters) {
			out = append(out, d)
		}
	}

	slices.SortStableFunc(out, func(a, b Document) int { return compareDocs(a, b, q.OrderBy) })

	if cursor != nil {
		idx := len(out)
		for i, d := range out {
			if compareDocs(d, *cursor, q.OrderBy) > 0 {
				idx = i
				break
			}
		}
		out = out[idx:]
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Matches reports whether d satisfies every filter.
func Matches(d Document, filters []Filter) bool {
	for _, f := range filters {
		v, ok := GetPath(d.Fields, f.Field)
		if !ok {
			return false
		}
		if !matchFilter(v, f) {
			return false
		}
	}
	return true
}

func matchFilter(v any, f Filter) bool {
	if f.Op == OpArrayContains {
		for _, e := range asSlice(v) {
			if sameClass(e, f.Value) && Compare(e, f.Value) == 0 {
				return true
			}
		}
		return false
	}
	if !sameClass(v, f.Value) {
		return false
	}
	c := Compare(v, f.Value)
	switch f.Op {
	case OpEqual:
		return c == 0
	case OpLess:
		return c < 0
	case OpLessEqual:
		return c <= 0
	case OpGreater:
		return c > 0
	case OpGreaterEqual:
		return c >= 0
	}
	return false
}

func asSlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out
	default:
		return nil
	}
}

func compareDocs(a, b Document, orders []Order) int {
	desc := false
	for _, o := range orders {
		av, _ := GetPath(a.Fields, o.Field)
		bv, _ := GetPath(b.Fields, o.Field)
		c := Compare(av, bv)
		if o.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
		desc = o.Desc
	}
	c := strings.Compare(a.ID, b.ID)
	if desc {
		c = -c
	}
	return c
}

// value classes in cross-type order
const (
	classNull = iota
	classBool
	classNumber
	classTime
	classString
	classArray
	classMap
	classOther
)

func classOf(v any) int {
	switch x := v.(type) {
	case nil:
		return classNull
	case bool:
		return classBool
	case time.Time:
		return classTime
	case string:
		return classString
	case []any, []string:
		return classArray
	case map[string]any, Fields:
		return classMap
	default:
		if _, ok := Float64(x); ok {
			return classNumber
		}
		return classOther
	}
}

func sameClass(a, b any) bool { return classOf(a) == classOf(b) }

// Compare orders two field values. Values of different kinds order by kind:
// null < bool < number < time < string < array < map.
func Compare(a, b any) int {
	ca, cb := classOf(a), classOf(b)
	if ca != cb {
		if ca < cb {
			return -1
		}
		return 1
	}
	switch ca {
	case classBool:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	case classNumber:
		af, _ := Float64(a)
		bf, _ := Float64(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	case classTime:
		return a.(time.Time).Compare(b.(time.Time))
	case classString:
		return strings.Compare(a.(string), b.(string))
	case classArray:
		as, bs := asSlice(a), asSlice(b)
		for i := 0; i < len(as) && i < len(bs); i++ {
			if c := Compare(as[i], bs[i]); c != 0 {
				return c
			}
		}
		switch {
		case len(as) < len(bs):
			return -1
		case len(as) > len(bs):
			return 1
		}
		return 0
	}
	return 0
}
