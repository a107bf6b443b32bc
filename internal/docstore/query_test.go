package docstore

import (
	"errors"
	"testing"
)

func msgDoc(id string, ts int64) Document {
	return Document{Path: "conversations/c1/messages/" + id, ID: id, Fields: Fields{"timestamp": ts, "text": id}}
}

func ids(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestEvaluatePaginatesWithoutGapsOrDuplicates(t *testing.T) {
	all := []Document{msgDoc("m1", 100), msgDoc("m2", 200), msgDoc("m3", 300), msgDoc("m4", 300), msgDoc("m5", 50)}
	base := Query{Collection: "conversations/c1/messages", Limit: 2}.Ordered("timestamp", true)

	var got []string
	q := base
	for page := 0; page < 10; page++ {
		docs, err := Evaluate(all, q)
		if err != nil {
			t.Fatalf("page %d: %v", page, err)
		}
		got = append(got, ids(docs)...)
		if len(docs) < q.Limit {
			break
		}
		q.StartAfter = docs[len(docs)-1].ID
	}

	want := []string{"m4", "m3", "m2", "m1", "m5"}
	if !equalIDs(got, want) {
		t.Fatalf("pages = %v, want %v", got, want)
	}
}

func TestEvaluateMissingCursor(t *testing.T) {
	q := Query{Collection: "x", StartAfter: "gone"}
	_, err := Evaluate([]Document{msgDoc("m1", 1)}, q)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestEvaluatePrefixRange(t *testing.T) {
	user := func(id, name string) Document {
		return Document{Path: "users/" + id, ID: id, Fields: Fields{"displayName": name}}
	}
	all := []Document{user("u1", "Alice"), user("u2", "Bob"), user("u3", "Bobby"), user("u4", "bob"), user("u5", "Carol")}
	q := Query{Collection: "users", Limit: 20}.
		Where("displayName", OpGreaterEqual, "Bo").
		Where("displayName", OpLessEqual, "Bo\uf8ff")

	docs, err := Evaluate(all, q)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := ids(docs), []string{"u2", "u3"}; !equalIDs(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestEvaluateArrayContains(t *testing.T) {
	conv := func(id string, parts ...any) Document {
		return Document{Path: "conversations/" + id, ID: id, Fields: Fields{"participants": parts}}
	}
	all := []Document{conv("c1", "a", "b"), conv("c2", "b", "c"), conv("c3", "a", "c")}
	docs, err := Evaluate(all, Query{Collection: "conversations"}.Where("participants", OpArrayContains, "a"))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := ids(docs), []string{"c1", "c3"}; !equalIDs(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestRangeFiltersStayWithinKind(t *testing.T) {
	d := Document{ID: "x", Fields: Fields{"n": "10"}}
	if Matches(d, []Filter{{Field: "n", Op: OpGreater, Value: 1}}) {
		t.Fatal("string field matched numeric range")
	}
	d.Fields["n"] = 10.0
	if !Matches(d, []Filter{{Field: "n", Op: OpGreater, Value: int64(1)}}) {
		t.Fatal("float and int should compare as numbers")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		q    Query
		ok   bool
	}{
		{"ok", Query{Collection: "users"}, true},
		{"no collection", Query{}, false},
		{"negative limit", Query{Collection: "users", Limit: -1}, false},
		{"bad op", Query{Collection: "users"}.Where("a", "!=", 1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.q.Validate()
			if (err == nil) != tt.ok {
				t.Fatalf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}
