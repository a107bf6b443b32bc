package docstore

import (
	"encoding/json"
	"testing"
	"time"
)

func TestApplyUpdateDottedPathsAndTransforms(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	base := Fields{
		"unreadCount": map[string]any{"alice": int64(0), "bob": int64(2)},
		"lastSeen":    int64(5),
	}
	got, err := ApplyUpdate(base, Fields{
		"unreadCount.alice": Increment(1),
		"unreadCount.bob":   0,
		"updatedAt":         ServerTimestamp(),
		"lastSeen":          DeleteField(),
	}, now)
	if err != nil {
		t.Fatal(err)
	}

	if v, _ := GetPath(got, "unreadCount.alice"); v != int64(1) {
		t.Errorf("alice = %v, want 1", v)
	}
	if v, _ := GetPath(got, "unreadCount.bob"); v != 0 {
		t.Errorf("bob = %v, want 0", v)
	}
	if v := got["updatedAt"]; v != now.UnixMilli() {
		t.Errorf("updatedAt = %v", v)
	}
	if _, ok := got["lastSeen"]; ok {
		t.Error("lastSeen not deleted")
	}
	// base untouched
	if v, _ := GetPath(base, "unreadCount.alice"); v != int64(0) {
		t.Errorf("base mutated: %v", v)
	}
}

func TestIncrementMissingFieldStartsAtDelta(t *testing.T) {
	got, err := ApplyUpdate(Fields{}, Fields{"unreadCount.carol": Increment(3)}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := GetPath(got, "unreadCount.carol"); v != int64(3) {
		t.Fatalf("got %v, want 3", v)
	}
}

func TestIncrementNonNumberFails(t *testing.T) {
	_, err := ApplyUpdate(Fields{"n": "x"}, Fields{"n": Increment(1)}, time.Now())
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestAdvanceNeverMovesBackwards(t *testing.T) {
	order := []string{"sent", "delivered", "read"}
	tests := []struct {
		cur, next, want string
	}{
		{"sent", "delivered", "delivered"},
		{"read", "delivered", "read"},
		{"delivered", "delivered", "delivered"},
		{"", "sent", "sent"},
		{"sent", "bogus", "sent"},
	}
	for _, tt := range tests {
		base := Fields{}
		if tt.cur != "" {
			base["status"] = tt.cur
		}
		got, err := ApplyUpdate(base, Fields{"status": Advance(tt.next, order...)}, time.Now())
		if err != nil {
			t.Fatal(err)
		}
		if got["status"] != tt.want {
			t.Errorf("advance %q to %q = %v, want %q", tt.cur, tt.next, got["status"], tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	var decoded map[string]any
	if err := json.Unmarshal([]byte(`{"a":3,"b":1.5,"c":{"d":2},"e":["x"]}`), &decoded); err != nil {
		t.Fatal(err)
	}
	f := NormalizeFields(Fields(decoded))
	if f["a"] != int64(3) {
		t.Errorf("a = %#v", f["a"])
	}
	if f["b"] != 1.5 {
		t.Errorf("b = %#v", f["b"])
	}
	if v, _ := GetPath(f, "c.d"); v != int64(2) {
		t.Errorf("c.d = %#v", v)
	}
	if s, ok := f["e"].([]any); !ok || s[0] != "x" {
		t.Errorf("e = %#v", f["e"])
	}
}

func TestSplitJoin(t *testing.T) {
	p := Join("conversations", "c1", "messages", "m1")
	col, id := Split(p)
	if col != "conversations/c1/messages" || id != "m1" {
		t.Fatalf("Split(%q) = %q, %q", p, col, id)
	}
}
