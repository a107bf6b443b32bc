package remote

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/auth"
	"github.com/matheus3301/chatsync/internal/docstore"
	"github.com/matheus3301/chatsync/internal/docstore/memstore"
	"github.com/matheus3301/chatsync/internal/model"
)

type fakeLeases struct {
	mu   sync.Mutex
	uids []string
}

func (f *fakeLeases) Renew(_ context.Context, uid string, _ time.Duration) error {
	f.mu.Lock()
	f.uids = append(f.uids, uid)
	f.mu.Unlock()
	return nil
}

type harness struct {
	client *Client
	store  *memstore.Store
	leases *fakeLeases
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop()
	st := memstore.New(nil, logger)
	iss, err := auth.NewIssuer("test-secret-0123456789", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	accounts := auth.NewService(st, iss, logger)
	accounts.SetCost(bcrypt.MinCost)
	leases := &fakeLeases{}

	srv := api.NewGRPCServer(api.Services{
		Documents: api.NewDocumentService(st, logger),
		Accounts:  api.NewAccountService(accounts),
		Presence:  api.NewPresenceLeaseService(leases, time.Minute),
	}, accounts, logger)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()

	c, err := Dial(Options{
		Addr:             "passthrough:///bufnet",
		CallTimeout:      2 * time.Second,
		ResubscribeDelay: 20 * time.Millisecond,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		},
	}, logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = c.Close()
		srv.Stop()
		_ = st.Close()
	})
	return &harness{client: c, store: st, leases: leases}
}

func TestCallsNeedToken(t *testing.T) {
	h := newHarness(t)
	_, err := h.client.Get(context.Background(), "users/u1")
	if !errors.Is(err, model.ErrUnauthenticated) {
		t.Fatalf("err = %v, want ErrUnauthenticated", err)
	}
}

func TestSignUpThenUseStore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sess, err := h.client.SignUp(ctx, "alice@example.com", "secret1", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	h.client.SetToken(sess.Token)

	d, err := h.client.Get(ctx, "users/"+sess.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if d.Fields["displayName"] != "Alice" {
		t.Fatalf("profile = %v", d.Fields)
	}

	if _, err := h.client.Get(ctx, "accounts/"+sess.UserID); err == nil {
		t.Fatal("accounts readable over the wire")
	}

	if _, err := h.client.Put(ctx, "conversations", "c1", docstore.Fields{"participants": []string{sess.UserID, "bob"}, "unreadCount": map[string]any{"bob": 0}}); err != nil {
		t.Fatal(err)
	}
	if err := h.client.Increment(ctx, "conversations/c1", "unreadCount.bob", 1); err != nil {
		t.Fatal(err)
	}
	local, _ := h.store.Get(ctx, "conversations/c1")
	if v, _ := docstore.GetPath(local.Fields, "unreadCount.bob"); v != int64(1) {
		t.Fatalf("unreadCount.bob = %#v", v)
	}

	docs, err := h.client.Query(ctx, docstore.Query{Collection: "conversations"}.Where("participants", docstore.OpArrayContains, "bob"))
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].ID != "c1" {
		t.Fatalf("docs = %v", docs)
	}

	if _, err := h.client.Get(ctx, "conversations/none"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	if err := h.client.Renew(ctx, sess.UserID, 30*time.Second); err != nil {
		t.Fatal(err)
	}
	h.leases.mu.Lock()
	renewed := append([]string(nil), h.leases.uids...)
	h.leases.mu.Unlock()
	if len(renewed) != 1 || renewed[0] != sess.UserID {
		t.Fatalf("renewed = %v", renewed)
	}
}

func TestWrongPassword(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.client.SignUp(ctx, "bob@example.com", "secret1", "Bob"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.client.SignIn(ctx, "bob@example.com", "nope"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestSubscribeStreamsChanges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sess, err := h.client.SignUp(ctx, "carol@example.com", "secret1", "Carol")
	if err != nil {
		t.Fatal(err)
	}
	h.client.SetToken(sess.Token)

	var (
		mu   sync.Mutex
		last docstore.Snapshot
	)
	q := docstore.Query{Collection: "conversations/c1/messages", Limit: 50}.Ordered("timestamp", true)
	dispose, err := h.client.Subscribe(ctx, docstore.Target{Query: q}, func(s docstore.Snapshot) {
		mu.Lock()
		last = s
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}
	defer dispose()

	h.store.Put(ctx, "conversations/c1/messages", "m1", docstore.Fields{"timestamp": 1, "senderId": "x"})
	h.store.Put(ctx, "conversations/c1/messages", "m2", docstore.Fields{"timestamp": 2, "senderId": "x"})

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		ok := len(last.Docs) == 2 && last.Docs[0].ID == "m2"
		mu.Unlock()
		if ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("snapshot with both messages never arrived")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPing(t *testing.T) {
	h := newHarness(t)
	if err := h.client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() against a live server = %v", err)
	}

	dead, err := Dial(Options{Addr: "unix:///nonexistent/chatsync.sock", CallTimeout: time.Second}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer dead.Close()
	if err := dead.Ping(context.Background()); err == nil {
		t.Fatal("Ping() succeeded without a server")
	}
}
