package api

import (
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/chatsync/internal/auth"
	"github.com/matheus3301/chatsync/internal/docstore"
	"github.com/matheus3301/chatsync/internal/model"
)

func TestOpsCarryTransforms(t *testing.T) {
	ops := []docstore.Op{
		docstore.Set("conversations/c1/messages/m1", docstore.Fields{
			"text":      "hi",
			"timestamp": int64(1700000000123),
			"metadata":  map[string]any{"fileSize": int64(10)},
		}),
		docstore.Update("conversations/c1", docstore.Fields{
			"unreadCount.bob": docstore.Increment(1),
			"updatedAt":       docstore.ServerTimestamp(),
			"lastSeen":        docstore.DeleteField(),
		}),
		docstore.Remove("conversations/c1/typing/alice"),
		docstore.Update("conversations/c1/messages/m1", docstore.Fields{
			"status": docstore.Advance("read", "sent", "delivered", "read"),
		}),
	}
	s, err := EncodeOps(ops)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeOps(s)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d ops", len(got))
	}
	if v, order, ok := docstore.AdvanceArgs(got[3].Fields["status"]); !ok || v != "read" || len(order) != 3 || order[2] != "read" {
		t.Errorf("advance lost: %#v", got[3].Fields["status"])
	}
	if got[0].Fields["timestamp"] != int64(1700000000123) {
		t.Errorf("timestamp = %#v", got[0].Fields["timestamp"])
	}
	if n, ok := docstore.IncrementDelta(got[1].Fields["unreadCount.bob"]); !ok || n != 1 {
		t.Errorf("increment lost: %#v", got[1].Fields["unreadCount.bob"])
	}
	if !docstore.IsServerTimestamp(got[1].Fields["updatedAt"]) {
		t.Errorf("server timestamp lost: %#v", got[1].Fields["updatedAt"])
	}
	if !docstore.IsDeleteField(got[1].Fields["lastSeen"]) {
		t.Errorf("delete lost: %#v", got[1].Fields["lastSeen"])
	}
	if got[2].Kind != docstore.OpDelete || got[2].Path != "conversations/c1/typing/alice" {
		t.Errorf("delete op = %+v", got[2])
	}
}

func TestQueryRoundTrip(t *testing.T) {
	q := docstore.Query{Collection: "users", Limit: 20, StartAfter: "u3"}.
		Where("displayName", docstore.OpGreaterEqual, "Bo").
		Ordered("displayName", false)
	s, err := EncodeQuery(q)
	if err != nil {
		t.Fatal(err)
	}
	got := DecodeQuery(s)
	if got.String() != q.String() {
		t.Fatalf("got %s, want %s", got, q)
	}

	target, err := EncodeTarget(docstore.Target{Doc: "users/u1"})
	if err != nil {
		t.Fatal(err)
	}
	if tg := DecodeTarget(target); tg.Doc != "users/u1" {
		t.Fatalf("target = %+v", tg)
	}
}

func TestDocsRoundTripTime(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	s, err := EncodeDocs([]docstore.Document{{Path: "users/u1", ID: "u1", Fields: docstore.Fields{"lastSeen": at, "tags": []string{"a"}}}})
	if err != nil {
		t.Fatal(err)
	}
	docs := DecodeDocs(s)
	if len(docs) != 1 || docs[0].Fields["lastSeen"] != at.UnixMilli() {
		t.Fatalf("docs = %+v", docs)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
		is   error
	}{
		{&model.NotFoundError{Kind: "user", ID: "x"}, codes.NotFound, docstore.ErrNotFound},
		{docstore.ErrNotFound, codes.NotFound, model.ErrNotFound},
		{model.Invalid("text", "empty"), codes.InvalidArgument, model.ErrInvalid},
		{auth.ErrInvalidCredentials, codes.Unauthenticated, auth.ErrInvalidCredentials},
		{auth.ErrEmailTaken, codes.AlreadyExists, auth.ErrEmailTaken},
	}
	for _, tt := range tests {
		st := ToStatus(tt.err)
		if got := grpcstatus.Code(st); got != tt.code {
			t.Errorf("ToStatus(%v) code = %v, want %v", tt.err, got, tt.code)
		}
		if back := FromStatus(st); !errors.Is(back, tt.is) {
			t.Errorf("FromStatus(%v) is not %v", st, tt.is)
		}
	}
	if FromStatus(nil) != nil || ToStatus(nil) != nil {
		t.Error("nil not preserved")
	}
}

func TestGuardBlocksAccounts(t *testing.T) {
	if err := guard("accounts/u1"); grpcstatus.Code(err) != codes.PermissionDenied {
		t.Fatalf("guard(accounts/u1) = %v", err)
	}
	if err := guard("users/u1"); err != nil {
		t.Fatalf("guard(users/u1) = %v", err)
	}
}
