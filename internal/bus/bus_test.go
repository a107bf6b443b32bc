package bus

import (
	"testing"
	"time"
)

func TestEmitDeliversToNamespace(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	b.Emit(KindMessageSent, "m1")

	select {
	case evt := <-ch:
		if evt.Kind != KindMessageSent {
			t.Errorf("got kind %q, want %q", evt.Kind, KindMessageSent)
		}
		if evt.Payload != "m1" {
			t.Errorf("got payload %v", evt.Payload)
		}
		if evt.Timestamp.IsZero() {
			t.Error("timestamp not set")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("presence.", 10)
	defer unsub()

	b.Emit(KindSessionStatus, nil)
	b.Emit(KindTyping, nil)

	select {
	case evt := <-ch:
		if evt.Kind != KindTyping {
			t.Errorf("got kind %q, want %q", evt.Kind, KindTyping)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCollectionTerminatorIsolatesPrefixes(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("docstore.changed|users|", 10)
	defer unsub()

	b.Emit("docstore.changed|users_archive|", nil)

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	unsub()
	unsub()

	if n := b.Subscribers(); n != 0 {
		t.Fatalf("subscribers = %d, want 0", n)
	}

	b.Emit(KindSessionStatus, nil)
	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	b.Emit("test.one", nil)
	b.Emit("test.two", nil)

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
	select {
	case evt := <-ch:
		t.Errorf("expected drop, got %v", evt)
	default:
	}
}
