package docstore

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

type transform interface{ transform() }

type incrementOp struct{ delta int64 }
type serverTimestampOp struct{}
type deleteFieldOp struct{}
type advanceOp struct {
	value string
	order []string
}

func (incrementOp) transform()       {}
func (serverTimestampOp) transform() {}
func (deleteFieldOp) transform()     {}
func (advanceOp) transform()         {}

// Increment adds delta to the numeric field it is written to.
func Increment(delta int64) any { return incrementOp{delta: delta} }

// ServerTimestamp is replaced by the commit time in milliseconds.
func ServerTimestamp() any { return serverTimestampOp{} }

// DeleteField removes the field it is written to.
func DeleteField() any { return deleteFieldOp{} }

// Advance writes value only when it comes later in order than the field's
// current value. A missing or unlisted current value ranks first, so the
// field never moves backwards through order.
func Advance(value string, order ...string) any {
	return advanceOp{value: value, order: order}
}

// AdvanceArgs reports whether v is an Advance transform and returns its
// arguments.
func AdvanceArgs(v any) (string, []string, bool) {
	op, ok := v.(advanceOp)
	return op.value, op.order, ok
}

// IncrementDelta reports whether v is an Increment transform.
func IncrementDelta(v any) (int64, bool) {
	op, ok := v.(incrementOp)
	return op.delta, ok
}

// IsServerTimestamp reports whether v is a ServerTimestamp transform.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestampOp)
	return ok
}

// IsDeleteField reports whether v is a DeleteField transform.
func IsDeleteField(v any) bool {
	_, ok := v.(deleteFieldOp)
	return ok
}

// GetPath reads a dotted field path.
func GetPath(f Fields, path string) (any, bool) {
	var cur any = map[string]any(f)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// SetPath writes v at a dotted field path, creating intermediate maps.
func SetPath(f Fields, path string, v any) {
	parts := strings.Split(path, ".")
	m := map[string]any(f)
	for _, part := range parts[:len(parts)-1] {
		next, ok := asMap(m[part])
		if !ok {
			next = map[string]any{}
		}
		m[part] = next
		m = next
	}
	m[parts[len(parts)-1]] = v
}

// DeletePath removes a dotted field path if present.
func DeletePath(f Fields, path string) {
	parts := strings.Split(path, ".")
	m := map[string]any(f)
	for _, part := range parts[:len(parts)-1] {
		next, ok := asMap(m[part])
		if !ok {
			return
		}
		m = next
	}
	delete(m, parts[len(parts)-1])
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Fields:
		return map[string]any(m), true
	default:
		return nil, false
	}
}

// Clone deep-copies f.
func Clone(f Fields) Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return map[string]any(Clone(Fields(x)))
	case Fields:
		return map[string]any(Clone(x))
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out
	default:
		return v
	}
}

// ApplySet resolves transforms in f for a set operation.
func ApplySet(f Fields, now time.Time) (Fields, error) {
	out := Fields{}
	for k, v := range f {
		if err := applyField(out, k, v, now); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ApplyUpdate merges upd into a copy of base. Keys in upd are dotted paths.
func ApplyUpdate(base, upd Fields, now time.Time) (Fields, error) {
	out := Clone(base)
	if out == nil {
		out = Fields{}
	}
	for k, v := range upd {
		if err := applyField(out, k, v, now); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func applyField(out Fields, path string, v any, now time.Time) error {
	switch x := v.(type) {
	case incrementOp:
		cur, _ := GetPath(out, path)
		if cur == nil {
			SetPath(out, path, x.delta)
			return nil
		}
		n, ok := Int64(cur)
		if !ok {
			return fmt.Errorf("increment %s: field is %T, not a number", path, cur)
		}
		SetPath(out, path, n+x.delta)
	case serverTimestampOp:
		SetPath(out, path, now.UnixMilli())
	case deleteFieldOp:
		DeletePath(out, path)
	case advanceOp:
		cur, _ := GetPath(out, path)
		s, _ := cur.(string)
		if slices.Index(x.order, x.value) > slices.Index(x.order, s) {
			SetPath(out, path, x.value)
		}
	case map[string]any, Fields:
		m, _ := asMap(x)
		nested := Fields{}
		for nk, nv := range m {
			if err := applyField(nested, nk, nv, now); err != nil {
				return err
			}
		}
		SetPath(out, path, map[string]any(nested))
	default:
		SetPath(out, path, cloneValue(v))
	}
	return nil
}

// Int64 converts numeric field values. Floats must be integral.
func Int64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		return 0, false
	default:
		return 0, false
	}
}

// Float64 converts any numeric field value.
func Float64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Normalize rewrites decoded values into the canonical in-memory forms:
// integral numbers become int64, nested maps become map[string]any.
func Normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x)
		}
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = Normalize(e)
		}
		return out
	case Fields:
		return Normalize(map[string]any(x))
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Normalize(e)
		}
		return out
	case []string:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out
	default:
		return v
	}
}

// NormalizeFields applies Normalize to every value of f.
func NormalizeFields(f Fields) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = Normalize(v)
	}
	return out
}
