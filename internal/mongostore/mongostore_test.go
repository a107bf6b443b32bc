package mongostore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/docstore"
)

func TestFromBSONFlattensDriverTypes(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	f := fromBSON(map[string]any{
		"participants": primitive.A{"alice", "bob"},
		"unreadCount":  primitive.D{{Key: "alice", Value: int32(0)}, {Key: "bob", Value: int64(4)}},
		"meta":         primitive.M{"size": 1.0},
		"createdAt":    primitive.NewDateTimeFromTime(at),
		"lastSeen":     primitive.Null{},
	})

	if parts, ok := f["participants"].([]any); !ok || parts[1] != "bob" {
		t.Fatalf("participants = %#v", f["participants"])
	}
	if v, _ := docstore.GetPath(f, "unreadCount.bob"); v != int64(4) {
		t.Fatalf("unreadCount.bob = %#v", v)
	}
	if v, _ := docstore.GetPath(f, "unreadCount.alice"); v != int64(0) {
		t.Fatalf("unreadCount.alice = %#v", v)
	}
	if v, _ := docstore.GetPath(f, "meta.size"); v != int64(1) {
		t.Fatalf("meta.size = %#v", v)
	}
	if ts, ok := f["createdAt"].(time.Time); !ok || !ts.Equal(at) {
		t.Fatalf("createdAt = %#v", f["createdAt"])
	}
	if v, ok := f["lastSeen"]; !ok || v != nil {
		t.Fatalf("lastSeen = %#v", v)
	}
}

// Runs against a real replica set when CHATSYNC_MONGO_URI is set.
func TestStoreAgainstMongo(t *testing.T) {
	uri := os.Getenv("CHATSYNC_MONGO_URI")
	if uri == "" {
		t.Skip("CHATSYNC_MONGO_URI not set")
	}
	ctx := context.Background()
	s, err := Connect(ctx, Options{URI: uri, Database: "chatsync_test_" + time.Now().Format("150405")}, nil, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = s.coll.Database().Drop(context.Background())
		_ = s.Close()
	})

	if _, err := s.Put(ctx, "conversations", "c1", docstore.Fields{"participants": []string{"a", "b"}, "unreadCount": map[string]any{"b": 0}}); err != nil {
		t.Fatal(err)
	}
	err = s.BatchWrite(ctx, []docstore.Op{
		docstore.Set("conversations/c1/messages/m1", docstore.Fields{"timestamp": 1}),
		docstore.Update("conversations/c1", docstore.Fields{"unreadCount.b": docstore.Increment(1)}),
	})
	if err != nil {
		t.Fatal(err)
	}
	d, err := s.Get(ctx, "conversations/c1")
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := docstore.GetPath(d.Fields, "unreadCount.b"); v != int64(1) {
		t.Fatalf("unreadCount.b = %#v", v)
	}

	docs, err := s.Query(ctx, docstore.Query{Collection: "conversations"}.Where("participants", docstore.OpArrayContains, "a"))
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d conversations", len(docs))
	}

	if _, err := s.Get(ctx, "conversations/none"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}
