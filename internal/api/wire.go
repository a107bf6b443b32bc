package api

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/chatsync/internal/docstore"
)

// Field transforms travel as single-key maps tagged with this key.
const transformKey = "$transform"

func encodeValue(v any) (any, error) {
	switch x := v.(type) {
	case time.Time:
		return float64(x.UnixMilli()), nil
	case int64:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case map[string]any:
		return encodeMap(x)
	case docstore.Fields:
		return encodeMap(x)
	case []string:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			ev, err := encodeValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	}
	if n, ok := docstore.IncrementDelta(v); ok {
		return map[string]any{transformKey: "increment", "n": float64(n)}, nil
	}
	if docstore.IsServerTimestamp(v) {
		return map[string]any{transformKey: "serverTimestamp"}, nil
	}
	if docstore.IsDeleteField(v) {
		return map[string]any{transformKey: "delete"}, nil
	}
	if value, order, ok := docstore.AdvanceArgs(v); ok {
		o := make([]any, len(order))
		for i, s := range order {
			o[i] = s
		}
		return map[string]any{transformKey: "advance", "v": value, "order": o}, nil
	}
	return v, nil
}

func encodeMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		ev, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		out[k] = ev
	}
	return out, nil
}

func decodeValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		if kind, ok := x[transformKey].(string); ok {
			switch kind {
			case "increment":
				n, _ := docstore.Int64(x["n"])
				return docstore.Increment(n)
			case "serverTimestamp":
				return docstore.ServerTimestamp()
			case "delete":
				return docstore.DeleteField()
			case "advance":
				value, _ := x["v"].(string)
				var order []string
				if list, ok := x["order"].([]any); ok {
					for _, e := range list {
						if s, ok := e.(string); ok {
							order = append(order, s)
						}
					}
				}
				return docstore.Advance(value, order...)
			}
		}
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = decodeValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = decodeValue(e)
		}
		return out
	case float64:
		return docstore.Normalize(x)
	default:
		return v
	}
}

// EncodeFields converts document fields, transforms included, to a Struct.
func EncodeFields(f docstore.Fields) (*structpb.Struct, error) {
	m, err := encodeMap(f)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// DecodeFields is the inverse of EncodeFields.
func DecodeFields(s *structpb.Struct) docstore.Fields {
	if s == nil {
		return docstore.Fields{}
	}
	out := docstore.Fields{}
	for k, v := range s.AsMap() {
		out[k] = decodeValue(v)
	}
	return out
}

func docMap(d docstore.Document) (map[string]any, error) {
	f, err := encodeMap(d.Fields)
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": d.Path, "id": d.ID, "fields": f}, nil
}

func docFromMap(m map[string]any) docstore.Document {
	path, _ := m["path"].(string)
	id, _ := m["id"].(string)
	f := docstore.Fields{}
	if fm, ok := m["fields"].(map[string]any); ok {
		for k, v := range fm {
			f[k] = decodeValue(v)
		}
	}
	return docstore.Document{Path: path, ID: id, Fields: f}
}

// EncodeDocs packs documents under "docs".
func EncodeDocs(docs []docstore.Document) (*structpb.Struct, error) {
	list := make([]any, 0, len(docs))
	for _, d := range docs {
		m, err := docMap(d)
		if err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return structpb.NewStruct(map[string]any{"docs": list})
}

func DecodeDocs(s *structpb.Struct) []docstore.Document {
	list, _ := s.AsMap()["docs"].([]any)
	if len(list) == 0 {
		return nil
	}
	out := make([]docstore.Document, 0, len(list))
	for _, e := range list {
		if m, ok := e.(map[string]any); ok {
			out = append(out, docFromMap(m))
		}
	}
	return out
}

func queryMap(q docstore.Query) (map[string]any, error) {
	filters := make([]any, 0, len(q.Filters))
	for _, f := range q.Filters {
		v, err := encodeValue(f.Value)
		if err != nil {
			return nil, err
		}
		filters = append(filters, map[string]any{"field": f.Field, "op": f.Op, "value": v})
	}
	orders := make([]any, 0, len(q.OrderBy))
	for _, o := range q.OrderBy {
		orders = append(orders, map[string]any{"field": o.Field, "desc": o.Desc})
	}
	return map[string]any{
		"collection": q.Collection,
		"filters":    filters,
		"orderBy":    orders,
		"limit":      float64(q.Limit),
		"startAfter": q.StartAfter,
	}, nil
}

func queryFromMap(m map[string]any) docstore.Query {
	q := docstore.Query{}
	q.Collection, _ = m["collection"].(string)
	q.StartAfter, _ = m["startAfter"].(string)
	if n, ok := docstore.Int64(m["limit"]); ok {
		q.Limit = int(n)
	}
	fl, _ := m["filters"].([]any)
	for _, e := range fl {
		fm, _ := e.(map[string]any)
		field, _ := fm["field"].(string)
		op, _ := fm["op"].(string)
		q.Filters = append(q.Filters, docstore.Filter{Field: field, Op: op, Value: decodeValue(fm["value"])})
	}
	ol, _ := m["orderBy"].([]any)
	for _, e := range ol {
		om, _ := e.(map[string]any)
		field, _ := om["field"].(string)
		desc, _ := om["desc"].(bool)
		q.OrderBy = append(q.OrderBy, docstore.Order{Field: field, Desc: desc})
	}
	return q
}

func EncodeQuery(q docstore.Query) (*structpb.Struct, error) {
	m, err := queryMap(q)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{"query": m})
}

func DecodeQuery(s *structpb.Struct) docstore.Query {
	m, _ := s.AsMap()["query"].(map[string]any)
	return queryFromMap(m)
}

// EncodeTarget describes a live subscription target.
func EncodeTarget(t docstore.Target) (*structpb.Struct, error) {
	if t.Doc != "" {
		return structpb.NewStruct(map[string]any{"doc": t.Doc})
	}
	return EncodeQuery(t.Query)
}

func DecodeTarget(s *structpb.Struct) docstore.Target {
	if doc, ok := s.AsMap()["doc"].(string); ok && doc != "" {
		return docstore.Target{Doc: doc}
	}
	return docstore.Target{Query: DecodeQuery(s)}
}

var opNames = map[docstore.OpKind]string{
	docstore.OpSet:    "set",
	docstore.OpUpdate: "update",
	docstore.OpDelete: "delete",
}

func EncodeOps(ops []docstore.Op) (*structpb.Struct, error) {
	list := make([]any, 0, len(ops))
	for _, op := range ops {
		f, err := encodeMap(op.Fields)
		if err != nil {
			return nil, fmt.Errorf("op %s: %w", op.Path, err)
		}
		list = append(list, map[string]any{"kind": opNames[op.Kind], "path": op.Path, "fields": f})
	}
	return structpb.NewStruct(map[string]any{"ops": list})
}

func DecodeOps(s *structpb.Struct) ([]docstore.Op, error) {
	list, _ := s.AsMap()["ops"].([]any)
	ops := make([]docstore.Op, 0, len(list))
	for _, e := range list {
		m, _ := e.(map[string]any)
		kindName, _ := m["kind"].(string)
		path, _ := m["path"].(string)
		var kind docstore.OpKind = -1
		for k, name := range opNames {
			if name == kindName {
				kind = k
			}
		}
		if kind < 0 || path == "" {
			return nil, fmt.Errorf("malformed op %q on %q", kindName, path)
		}
		f := docstore.Fields{}
		if fm, ok := m["fields"].(map[string]any); ok {
			for k, v := range fm {
				f[k] = decodeValue(v)
			}
		}
		ops = append(ops, docstore.Op{Kind: kind, Path: path, Fields: f})
	}
	return ops, nil
}
