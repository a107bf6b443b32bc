package sync

import (
	"context"
	"slices"
	"testing"

	"github.com/matheus3301/chatsync/internal/model"
)

func TestSearchStartChatAndSend(t *testing.T) {
	st := newTestStore(t)
	st.seedUser(t, "alice", "Alice Smith")
	st.seedUser(t, "bob", "Bob Jones")
	st.seedUser(t, "carol", "Carol Bo")
	alice, _ := newCore(t, st, "alice", Options{})
	ctx := context.Background()

	found, err := alice.SearchUsers(ctx, "Bo")
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 || found[0].ID != "bob" {
		t.Fatalf("search Bo = %+v", found)
	}

	conv, err := alice.StartChat(ctx, found[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	created := st.conversation(t, conv.ID)
	if !slices.Equal(created.Participants, []string{"alice", "bob"}) {
		t.Errorf("participants = %v", created.Participants)
	}
	if len(created.UnreadCount) != 2 || created.Unread("alice") != 0 || created.Unread("bob") != 0 {
		t.Errorf("unreadCount = %v", created.UnreadCount)
	}

	if _, err := alice.SendMessage(ctx, conv.ID, model.Draft{Text: "hi"}); err != nil {
		t.Fatal(err)
	}
	after := st.conversation(t, conv.ID)
	if after.Unread("bob") != 1 || after.Unread("alice") != 0 {
		t.Errorf("unreadCount = %v", after.UnreadCount)
	}
	if after.LastMessage == nil || after.LastMessage.Text != "hi" {
		t.Errorf("lastMessage = %+v", after.LastMessage)
	}
}

func TestLoadMoreWalksHistory(t *testing.T) {
	st := newTestStore(t)
	alice, conv := chat(t, st, Options{LiveWindow: 1, PageSize: 2})
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		if _, err := alice.SendMessage(ctx, conv.ID, model.Draft{Text: text}); err != nil {
			t.Fatal(err)
		}
	}

	var updates collector[MessagesUpdate]
	d, err := alice.SubscribeToMessages(ctx, conv.ID, updates.add)
	if err != nil {
		t.Fatal(err)
	}
	defer d()
	u := updates.waitFor(t, func(u MessagesUpdate) bool { return len(u.Messages) == 1 })
	if u.Messages[0].Text != "three" || !u.HasMore {
		t.Fatalf("first update = %v, hasMore %v", texts(u.Messages), u.HasMore)
	}

	page, err := alice.LoadMore(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got := texts(page); !slices.Equal(got, []string{"two", "one"}) {
		t.Fatalf("first page = %v", got)
	}
	if !alice.HasMore(conv.ID) {
		t.Fatal("full page ended history")
	}

	page, err = alice.LoadMore(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) >= 2 {
		t.Fatalf("second page = %v", texts(page))
	}
	if alice.HasMore(conv.ID) {
		t.Fatal("short page left history open")
	}
	u = updates.waitFor(t, func(u MessagesUpdate) bool { return !u.HasMore })
	if got := texts(u.Messages); !slices.Equal(got, []string{"three", "two", "one"}) {
		t.Fatalf("merged = %v", got)
	}
}
