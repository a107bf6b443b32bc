package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/docstore"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/outbox"
	core "github.com/matheus3301/chatsync/internal/sync"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func (w *fakeWriter) records(t *testing.T) []Record {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Record, 0, len(w.msgs))
	for _, m := range w.msgs {
		var r Record
		if err := json.Unmarshal(m.Value, &r); err != nil {
			t.Fatal(err)
		}
		out = append(out, r)
	}
	return out
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestEncode(t *testing.T) {
	at := time.UnixMilli(1000)
	tests := []struct {
		name string
		evt  bus.Event
		key  string
		want Record
		ok   bool
	}{
		{
			name: "sent",
			evt:  bus.Event{Kind: bus.KindMessageSent, Timestamp: at, Payload: outbox.SendResult{ClientID: "cl", MessageID: "m1", ConversationID: "c1"}},
			key:  "c1",
			want: Record{Kind: bus.KindMessageSent, At: 1000, ConversationID: "c1", MessageID: "m1", ClientID: "cl"},
			ok:   true,
		},
		{
			name: "failed",
			evt:  bus.Event{Kind: bus.KindMessageFailed, Timestamp: at, Payload: outbox.SendFailure{ClientID: "cl", ConversationID: "c1", Error: "boom"}},
			key:  "c1",
			want: Record{Kind: bus.KindMessageFailed, At: 1000, ConversationID: "c1", ClientID: "cl", Error: "boom"},
			ok:   true,
		},
		{
			name: "status",
			evt:  bus.Event{Kind: bus.KindMessageStatus, Timestamp: at, Payload: core.StatusChange{ConversationID: "c1", MessageID: "m1", Status: model.StatusRead}},
			key:  "c1",
			want: Record{Kind: bus.KindMessageStatus, At: 1000, ConversationID: "c1", MessageID: "m1", Status: "read"},
			ok:   true,
		},
		{
			name: "commit",
			evt:  bus.Event{Kind: docstore.ChangedKind + "conversations/c1/messages|", Timestamp: at, Payload: "conversations/c1/messages"},
			key:  "c1",
			want: Record{Kind: "docstore.changed", At: 1000, ConversationID: "c1", Collection: "conversations/c1/messages"},
			ok:   true,
		},
		{
			name: "other string payload",
			evt:  bus.Event{Kind: bus.KindMessagesUpdated, Timestamp: at, Payload: "c1"},
		},
		{
			name: "unknown payload",
			evt:  bus.Event{Kind: bus.KindTyping, Timestamp: at, Payload: 42},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, rec, ok := Encode(tt.evt)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if key != tt.key || rec != tt.want {
				t.Errorf("Encode = %q %+v, want %q %+v", key, rec, tt.key, tt.want)
			}
		})
	}
}

func TestBridgeForwardsClientEvents(t *testing.T) {
	b := bus.New()
	w := &fakeWriter{}
	m := metrics.New()
	br := NewBridge(w, b, ClientNamespaces, nil, m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		br.Run(ctx)
		close(done)
	}()
	waitUntil(t, func() bool { return b.Subscribers() == len(ClientNamespaces) }, "bridge did not subscribe")

	b.Emit(bus.KindMessageSent, outbox.SendResult{ClientID: "cl", MessageID: "m1", ConversationID: "c1"})
	b.Emit(bus.KindMessagesUpdated, "c1")
	b.Emit(bus.KindMessageStatus, core.StatusChange{ConversationID: "c1", MessageID: "m1", Status: model.StatusDelivered})

	waitUntil(t, func() bool { return len(w.records(t)) == 2 }, "records not published")
	recs := w.records(t)
	kinds := map[string]bool{recs[0].Kind: true, recs[1].Kind: true}
	if !kinds[bus.KindMessageSent] || !kinds[bus.KindMessageStatus] {
		t.Errorf("records = %+v", recs)
	}
	if got := testutil.ToFloat64(m.Notifications.WithLabelValues("ok")); got != 2 {
		t.Errorf("ok notifications = %v", got)
	}

	cancel()
	<-done
	if b.Subscribers() != 0 {
		t.Errorf("bridge left %d subscriptions", b.Subscribers())
	}
}

func TestBridgeCountsWriteFailures(t *testing.T) {
	b := bus.New()
	w := &fakeWriter{err: errors.New("broker unavailable")}
	m := metrics.New()
	br := NewBridge(w, b, StoreNamespaces, nil, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go br.Run(ctx)
	waitUntil(t, func() bool { return b.Subscribers() == 1 }, "bridge did not subscribe")

	b.Emit(docstore.ChangedKind+"conversations/c1/messages|", "conversations/c1/messages")
	b.Emit(docstore.ChangedKind+"users|", "users")
	waitUntil(t, func() bool {
		return testutil.ToFloat64(m.Notifications.WithLabelValues("failed")) == 1
	}, "failure not counted")
}
