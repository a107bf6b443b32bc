package codec

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/matheus3301/chatsync/internal/docstore"
)

// Time reads a stored timestamp. Stores persist milliseconds since epoch, but
// the engines behind the Document Store may hand back their native types.
func Time(v any) (time.Time, bool) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return t, !t.IsZero()
	case *timestamppb.Timestamp:
		if t == nil || t.CheckValid() != nil {
			return time.Time{}, false
		}
		return t.AsTime(), true
	case primitive.DateTime:
		return t.Time(), true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		ms, ok := docstore.Int64(v)
		if !ok {
			f, ok := docstore.Float64(v)
			if !ok {
				return time.Time{}, false
			}
			ms = int64(f)
		}
		return time.UnixMilli(ms), true
	}
}

// Millis is the persisted form of t. The zero time persists as null.
func Millis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}
