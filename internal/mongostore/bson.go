package mongostore

import (
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/matheus3301/chatsync/internal/docstore"
)

// fromBSON rewrites decoded BSON values into the plain forms docstore uses.
func fromBSON(m map[string]any) docstore.Fields {
	out := make(docstore.Fields, len(m))
	for k, v := range m {
		out[k] = bsonValue(v)
	}
	return docstore.NormalizeFields(out)
}

func bsonValue(v any) any {
	switch x := v.(type) {
	case primitive.M:
		return map[string]any(fromBSON(x))
	case map[string]any:
		return map[string]any(fromBSON(x))
	case primitive.D:
		m := make(map[string]any, len(x))
		for _, e := range x {
			m[e.Key] = e.Value
		}
		return map[string]any(fromBSON(m))
	case primitive.A:
		return bsonSlice(x)
	case []any:
		return bsonSlice(x)
	case primitive.DateTime:
		return x.Time()
	case primitive.Null, primitive.Undefined:
		return nil
	default:
		return v
	}
}

func bsonSlice(s []any) []any {
	out := make([]any, len(s))
	for i, e := range s {
		out[i] = bsonValue(e)
	}
	return out
}
