package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/identity"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/remote"
	chatsync "github.com/matheus3301/chatsync/internal/sync"
)

// shortDir keeps unix socket paths under the 104-char limit on macOS.
func shortDir(t *testing.T, pattern string) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", pattern)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.Daemon.Store = "memory"
	cfg.Daemon.JWTSecret = "daemon-test-secret-0123456789"
	return cfg
}

func startDaemon(t *testing.T, p Params) *fx.App {
	t.Helper()
	app := fx.New(Module(p), fx.NopLogger)
	if err := app.Err(); err != nil {
		t.Fatalf("fx.New() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Stop(ctx)
	})
	return app
}

// TestFxModuleWiring verifies the fx dependency graph resolves without errors.
func TestFxModuleWiring(t *testing.T) {
	dir := shortDir(t, "cs-fx-*")
	err := fx.ValidateApp(Module(Params{DataDir: dir, Config: memoryConfig()}), fx.NopLogger)
	if err != nil {
		t.Fatalf("ValidateApp() error = %v", err)
	}
}

func TestInvalidConfigRefused(t *testing.T) {
	dir := shortDir(t, "cs-cfg-*")
	cfg := memoryConfig()
	cfg.Daemon.Store = "postgres"
	app := fx.New(Module(Params{DataDir: dir, Config: cfg}), fx.NopLogger)
	if app.Err() == nil {
		t.Fatal("daemon started with an unknown store backend")
	}
}

func TestSecondDaemonRefused(t *testing.T) {
	dir := shortDir(t, "cs-lock-*")
	startDaemon(t, Params{DataDir: dir, Config: memoryConfig()})

	second := fx.New(Module(Params{DataDir: dir, SocketPath: filepath.Join(dir, "other.sock"), Config: memoryConfig()}), fx.NopLogger)
	var held *lock.HeldError
	if !errors.As(second.Err(), &held) {
		t.Fatalf("second daemon error = %v, want HeldError", second.Err())
	}
	if held.PID != os.Getpid() {
		t.Errorf("holder PID = %d", held.PID)
	}
}

func TestJWTSecretGeneratedOnce(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	first, err := jwtSecret(cfg, dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 64 {
		t.Errorf("secret length = %d", len(first))
	}
	second, err := jwtSecret(cfg, dir)
	if err != nil || second != first {
		t.Errorf("second read = %q, %v", second, err)
	}
	info, err := os.Stat(filepath.Join(dir, "jwt.secret"))
	if err != nil || info.Mode().Perm() != 0600 {
		t.Errorf("secret file = %v, %v", info, err)
	}

	cfg.Daemon.JWTSecret = "configured-secret-0123456789"
	if got, _ := jwtSecret(cfg, dir); got != cfg.Daemon.JWTSecret {
		t.Errorf("configured secret ignored: %q", got)
	}
}

type user struct {
	client *remote.Client
	id     *identity.Provider
	core   *chatsync.Core
}

func signUp(t *testing.T, socket, email, name string) *user {
	t.Helper()
	c, err := remote.Dial(remote.Options{Addr: "unix://" + socket, CallTimeout: 5 * time.Second}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	id := identity.NewProvider(c, c, "", zap.NewNop())
	if _, err := id.SignUp(context.Background(), email, "correct horse battery", name); err != nil {
		t.Fatalf("SignUp(%s) error = %v", email, err)
	}
	core, err := chatsync.New(chatsync.Deps{Store: c, Identity: id, Leases: c})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		core.Close()
		_ = c.Close()
	})
	return &user{client: c, id: id, core: core}
}

// TestDaemonServesClients runs two sync cores against a daemon over its
// unix socket.
func TestDaemonServesClients(t *testing.T) {
	dir := shortDir(t, "cs-e2e-*")
	socket := filepath.Join(dir, "d.sock")
	startDaemon(t, Params{DataDir: dir, SocketPath: socket, Config: memoryConfig()})
	ctx := context.Background()

	alice := signUp(t, socket, "alice@example.com", "Alice Smith")
	bob := signUp(t, socket, "bob@example.com", "Bob Jones")
	bobUser, _ := bob.id.CurrentUser()

	found, err := alice.core.SearchUsers(ctx, "Bo")
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 || found[0].ID != bobUser.UID {
		t.Fatalf("search = %+v", found)
	}
	conv, err := alice.core.StartChat(ctx, bobUser.UID)
	if err != nil {
		t.Fatal(err)
	}

	got := make(chan chatsync.MessagesUpdate, 16)
	d, err := bob.core.SubscribeToMessages(ctx, conv.ID, func(u chatsync.MessagesUpdate) {
		select {
		case got <- u:
		default:
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	defer d()

	if _, err := alice.core.SendMessage(ctx, conv.ID, model.Draft{Text: "hi"}); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case u := <-got:
			if u.Err == nil && len(u.Messages) == 1 && u.Messages[0].Text == "hi" {
				if err := alice.core.Foreground(ctx); err != nil {
					t.Fatalf("Foreground() error = %v", err)
				}
				return
			}
		case <-deadline:
			t.Fatal("bob never saw the message")
		}
	}
}
