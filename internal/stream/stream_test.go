package stream

import (
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

func msg(id string, ts int64, st model.Status) model.Message {
	return model.Message{ID: id, ConversationID: "c1", SenderID: "bob", Timestamp: time.UnixMilli(ts), Status: st, Kind: model.KindText}
}

func ids(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func same(a, b []string) bool {
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

func TestLiveSnapshotReplacesWindow(t *testing.T) {
	s := New("c1", 2, 2)
	s.ReplaceLive([]model.Message{msg("m4", 400, model.StatusSent), msg("m3", 300, model.StatusSent)})
	s.AppendPage([]model.Message{msg("m2", 200, model.StatusSent), msg("m1", 100, model.StatusSent)}, 2)

	// m4 was deleted server-side; m5 arrived; m3 was read.
	s.ReplaceLive([]model.Message{msg("m5", 500, model.StatusSent), msg("m3", 300, model.StatusRead)})

	if got, want := ids(s.Messages()), []string{"m5", "m3", "m2", "m1"}; !same(got, want) {
		t.Fatalf("messages = %v, want %v", got, want)
	}
	m3, _ := s.Get("m3")
	if m3.Status != model.StatusRead {
		t.Fatalf("m3 status = %s", m3.Status)
	}
}

func TestWindowAdvanceKeepsDisplacedMessages(t *testing.T) {
	s := New("c1", 2, 2)
	s.ReplaceLive([]model.Message{msg("m4", 400, model.StatusSent), msg("m3", 300, model.StatusSent)})
	s.AppendPage([]model.Message{msg("m2", 200, model.StatusSent), msg("m1", 100, model.StatusSent)}, 2)

	// m5 pushes m3 out of the window.
	s.ReplaceLive([]model.Message{msg("m5", 500, model.StatusSent), msg("m4", 400, model.StatusDelivered)})
	if got, want := ids(s.Messages()), []string{"m5", "m4", "m3", "m2", "m1"}; !same(got, want) {
		t.Fatalf("messages = %v, want %v", got, want)
	}
	if got := s.Cursor(); got != "m1" {
		t.Fatalf("cursor = %q, want m1", got)
	}

	// A second advance does not duplicate entries already in history.
	s.ReplaceLive([]model.Message{msg("m6", 600, model.StatusSent), msg("m5", 500, model.StatusSent)})
	if got, want := ids(s.Messages()), []string{"m6", "m5", "m4", "m3", "m2", "m1"}; !same(got, want) {
		t.Fatalf("messages = %v, want %v", got, want)
	}
	m4, _ := s.Get("m4")
	if m4.Status != model.StatusDelivered {
		t.Fatalf("m4 status = %s", m4.Status)
	}
}

func TestWindowWithoutHistoryDropsDisplacedMessages(t *testing.T) {
	s := New("c1", 2, 2)
	s.ReplaceLive([]model.Message{msg("m2", 200, model.StatusSent), msg("m1", 100, model.StatusSent)})
	s.ReplaceLive([]model.Message{msg("m3", 300, model.StatusSent), msg("m2", 200, model.StatusSent)})

	// m1 is fetched again by the next page load.
	if got, want := ids(s.Messages()), []string{"m3", "m2"}; !same(got, want) {
		t.Fatalf("messages = %v, want %v", got, want)
	}
	if got := s.Cursor(); got != "m2" {
		t.Fatalf("cursor = %q, want m2", got)
	}
}

func TestLiveWinsOverHistoryForSharedIDs(t *testing.T) {
	s := New("c1", 50, 20)
	s.AppendPage([]model.Message{msg("m1", 100, model.StatusSent)}, 20)
	edited := msg("m1", 100, model.StatusDelivered)
	edited.Text = "edited"
	s.ReplaceLive([]model.Message{edited})

	got := s.Messages()
	if len(got) != 1 || got[0].Text != "edited" {
		t.Fatalf("messages = %+v", got)
	}
}

func TestSortTiesBreakByID(t *testing.T) {
	s := New("c1", 50, 20)
	s.ReplaceLive([]model.Message{msg("a", 100, model.StatusSent), msg("c", 100, model.StatusSent), msg("b", 100, model.StatusSent)})
	if got, want := ids(s.Messages()), []string{"c", "b", "a"}; !same(got, want) {
		t.Fatalf("messages = %v, want %v", got, want)
	}
}

func TestStatusNeverRegresses(t *testing.T) {
	s := New("c1", 50, 20)
	s.ReplaceLive([]model.Message{msg("m1", 100, model.StatusRead)})
	s.ReplaceLive([]model.Message{msg("m1", 100, model.StatusDelivered)})
	if m, _ := s.Get("m1"); m.Status != model.StatusRead {
		t.Fatalf("status = %s, want read", m.Status)
	}

	s.ApplyStatus("m1", model.StatusSent)
	if m, _ := s.Get("m1"); m.Status != model.StatusRead {
		t.Fatalf("status = %s after stale update", m.Status)
	}
	if s.ApplyStatus("outside", model.StatusRead) {
		t.Fatal("status applied to a message that is not loaded")
	}
}

func TestProvisionalRetiredByEcho(t *testing.T) {
	s := New("c1", 50, 20)
	p := model.Message{ID: "local-1", ClientID: "local-1", SenderID: "alice", Text: "hi", Timestamp: time.UnixMilli(900), Status: model.StatusSent}
	s.AddProvisional(p)
	if got := s.Messages(); len(got) != 1 || !got[0].Provisional() {
		t.Fatalf("messages = %+v", got)
	}

	s.MarkFailed("local-1", true)
	if got := s.Messages(); !got[0].Failed {
		t.Fatal("failed flag not set")
	}

	echo := msg("srv-1", 901, model.StatusSent)
	echo.ClientID = "local-1"
	s.ReplaceLive([]model.Message{echo})
	got := s.Messages()
	if len(got) != 1 || got[0].ID != "srv-1" {
		t.Fatalf("messages = %v", ids(got))
	}
}

func TestShortFirstWindowEndsHistory(t *testing.T) {
	s := New("c1", 50, 20)
	s.ReplaceLive([]model.Message{msg("m1", 1, model.StatusSent)})
	if s.HasMore() {
		t.Fatal("HasMore with a short first window")
	}

	s = New("c1", 1, 2)
	s.ReplaceLive([]model.Message{msg("m3", 3, model.StatusSent)})
	if !s.HasMore() || s.Cursor() != "m3" {
		t.Fatalf("HasMore = %v, cursor = %q", s.HasMore(), s.Cursor())
	}
	s.AppendPage([]model.Message{msg("m2", 2, model.StatusSent), msg("m1", 1, model.StatusSent)}, 2)
	if !s.HasMore() || s.Cursor() != "m1" {
		t.Fatalf("HasMore = %v, cursor = %q", s.HasMore(), s.Cursor())
	}
	s.AppendPage(nil, 2)
	if s.HasMore() {
		t.Fatal("HasMore after empty page")
	}
}

func TestUnreadFrom(t *testing.T) {
	s := New("c1", 50, 20)
	mine := msg("m2", 2, model.StatusSent)
	mine.SenderID = "alice"
	s.ReplaceLive([]model.Message{mine, msg("m1", 1, model.StatusDelivered), msg("m0", 0, model.StatusRead)})

	got := s.UnreadFrom("alice")
	if len(got) != 1 || got[0].ID != "m1" {
		t.Fatalf("unread = %v", ids(got))
	}
}

// A confirmed send whose echo was never part of a live snapshot stays
// visible under its committed id until history brings it in.
func TestConfirmedProvisionalSurvivesMissedEcho(t *testing.T) {
	s := New("c1", 1, 2)
	s.AddProvisional(model.Message{ID: "cl-a", ClientID: "cl-a", SenderID: "alice", Timestamp: time.UnixMilli(100), Status: model.StatusSent})
	s.Confirm("cl-a", "a")

	b := msg("b", 200, model.StatusSent)
	s.ReplaceLive([]model.Message{b})
	if got := ids(s.Messages()); !same(got, []string{"b", "a"}) {
		t.Fatalf("messages = %v", got)
	}
	if s.Cursor() != "b" {
		t.Fatalf("cursor = %q, provisional entries must not move it", s.Cursor())
	}

	a := msg("a", 100, model.StatusDelivered)
	a.ClientID = "cl-a"
	s.AppendPage([]model.Message{a}, 2)
	got := s.Messages()
	if !same(ids(got), []string{"b", "a"}) || got[1].Status != model.StatusDelivered {
		t.Fatalf("messages = %+v", got)
	}
}
