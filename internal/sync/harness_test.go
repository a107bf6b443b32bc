package sync

import (
	"context"
	"errors"
	"strings"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/codec"
	"github.com/matheus3301/chatsync/internal/docstore"
	"github.com/matheus3301/chatsync/internal/docstore/memstore"
	"github.com/matheus3301/chatsync/internal/identity"
	"github.com/matheus3301/chatsync/internal/model"
)

var errNetwork = errors.New("network down")

// testStore wraps memstore so tests can fail batches, count subscriptions
// and push failure snapshots into live subscriptions.
type testStore struct {
	*memstore.Store
	failBatch  atomic.Bool
	batches    atomic.Int32
	subscribes atomic.Int32
	disposed   atomic.Int32

	mu    gosync.Mutex
	sinks map[string]docstore.SnapshotFunc
	onGet map[string]func()
	onBatch func()
}

func newTestStore(t *testing.T) *testStore {
	t.Helper()
	s := &testStore{Store: memstore.New(nil, zap.NewNop()), sinks: make(map[string]docstore.SnapshotFunc)}
	t.Cleanup(func() { s.Store.Close() })
	return s
}

func (s *testStore) BatchWrite(ctx context.Context, ops []docstore.Op) error {
	s.batches.Add(1)
	if s.failBatch.Load() {
		return errNetwork
	}
	s.mu.Lock()
	fn := s.onBatch
	s.onBatch = nil
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
	return s.Store.BatchWrite(ctx, ops)
}

// beforeNextBatch runs fn once, right before the next batch reaches the
// underlying store.
func (s *testStore) beforeNextBatch(fn func()) {
	s.mu.Lock()
	s.onBatch = fn
	s.mu.Unlock()
}

// afterNextGet runs fn once, right after the next Get of path returns from
// the underlying store. Tests use it to commit a competing write in between
// a read and the write that follows it.
func (s *testStore) afterNextGet(path string, fn func()) {
	s.mu.Lock()
	if s.onGet == nil {
		s.onGet = make(map[string]func())
	}
	s.onGet[path] = fn
	s.mu.Unlock()
}

func (s *testStore) Get(ctx context.Context, path string) (docstore.Document, error) {
	d, err := s.Store.Get(ctx, path)
	s.mu.Lock()
	fn := s.onGet[path]
	delete(s.onGet, path)
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
	return d, err
}

func (s *testStore) Subscribe(ctx context.Context, t docstore.Target, fn docstore.SnapshotFunc) (docstore.Disposer, error) {
	s.subscribes.Add(1)
	d, err := s.Store.Subscribe(ctx, t, fn)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.sinks[t.Key()] = fn
	s.mu.Unlock()
	return func() {
		s.disposed.Add(1)
		d()
	}, nil
}

// inject delivers snap to every live subscription whose key contains substr.
func (s *testStore) inject(substr string, snap docstore.Snapshot) int {
	s.mu.Lock()
	var fns []docstore.SnapshotFunc
	for k, fn := range s.sinks {
		if strings.Contains(k, substr) {
			fns = append(fns, fn)
		}
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
	return len(fns)
}

func (s *testStore) seedUser(t *testing.T, uid, name string) {
	t.Helper()
	u := model.User{ID: uid, DisplayName: name, Email: uid + "@example.com", Presence: model.Offline}
	if _, err := s.Put(context.Background(), codec.Users, uid, codec.UserFields(u)); err != nil {
		t.Fatal(err)
	}
}

func (s *testStore) conversation(t *testing.T, cid string) model.Conversation {
	t.Helper()
	d, err := s.Get(context.Background(), codec.ConversationPath(cid))
	if err != nil {
		t.Fatal(err)
	}
	c, err := codec.ConversationFromDoc(d)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func (s *testStore) messages(t *testing.T, cid string) []model.Message {
	t.Helper()
	docs, err := s.Query(context.Background(), docstore.Query{Collection: codec.Messages(cid)}.Ordered("timestamp", true))
	if err != nil {
		t.Fatal(err)
	}
	out := make([]model.Message, 0, len(docs))
	for _, d := range docs {
		m, err := codec.MessageFromDoc(d)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, m)
	}
	return out
}

type fakeIdentity struct {
	mu  gosync.Mutex
	uid string
}

func (f *fakeIdentity) RequireUser() (identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uid == "" {
		return identity.User{}, model.ErrUnauthenticated
	}
	return identity.User{UID: f.uid, Email: f.uid + "@example.com"}, nil
}

func (f *fakeIdentity) signOut() {
	f.mu.Lock()
	f.uid = ""
	f.mu.Unlock()
}

func newCore(t *testing.T, st docstore.Store, uid string, opts Options) (*Core, *fakeIdentity) {
	t.Helper()
	id := &fakeIdentity{uid: uid}
	c, err := New(Deps{Store: st, Identity: id, Logger: zap.NewNop(), Options: opts})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return c, id
}

// collector records every update delivered to a listener.
type collector[T any] struct {
	mu  gosync.Mutex
	got []T
}

func (c *collector[T]) add(v T) {
	c.mu.Lock()
	c.got = append(c.got, v)
	c.mu.Unlock()
}

func (c *collector[T]) all() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.got...)
}

func (c *collector[T]) waitFor(t *testing.T, cond func(T) bool) T {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		if n := len(c.got); n > 0 && cond(c.got[n-1]) {
			v := c.got[n-1]
			c.mu.Unlock()
			return v
		}
		c.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for update, got %d updates", len(c.all()))
	var zero T
	return zero
}

func eventually(t *testing.T, cond func() bool, msg string) {
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

func texts(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

// chat seeds alice and bob and returns alice's core with their conversation.
func chat(t *testing.T, st *testStore, opts Options) (*Core, model.Conversation) {
	t.Helper()
	st.seedUser(t, "alice", "Alice Smith")
	st.seedUser(t, "bob", "Bob Jones")
	alice, _ := newCore(t, st, "alice", opts)
	conv, err := alice.StartChat(context.Background(), "bob")
	if err != nil {
		t.Fatal(err)
	}
	return alice, conv
}
