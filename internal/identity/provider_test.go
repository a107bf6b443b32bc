package identity

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/auth"
	"github.com/matheus3301/chatsync/internal/model"
)

type fakeAuth struct {
	exp time.Time
}

func (f *fakeAuth) SignIn(_ context.Context, email, password string) (auth.Session, error) {
	if password != "pw" {
		return auth.Session{}, auth.ErrInvalidCredentials
	}
	return auth.Session{UserID: "u-" + email, Email: email, Token: "tok-" + email, ExpiresAt: f.exp}, nil
}

func (f *fakeAuth) SignUp(ctx context.Context, email, password, _ string) (auth.Session, error) {
	return f.SignIn(ctx, email, password)
}

type sink struct {
	mu  sync.Mutex
	tok string
}

func (s *sink) SetToken(tok string) {
	s.mu.Lock()
	s.tok = tok
	s.mu.Unlock()
}

func TestAuthStateListeners(t *testing.T) {
	tokens := &sink{}
	p := NewProvider(&fakeAuth{exp: time.Now().Add(time.Hour)}, tokens, "", nil)

	var seen []string
	unsubscribe := p.OnAuthStateChanged(func(u *User) {
		if u == nil {
			seen = append(seen, "out")
			return
		}
		seen = append(seen, u.UID)
	})

	if _, err := p.SignIn(context.Background(), "a@x", "pw"); err != nil {
		t.Fatal(err)
	}
	if tokens.tok != "tok-a@x" {
		t.Fatalf("token = %q", tokens.tok)
	}
	if err := p.SignOut(); err != nil {
		t.Fatal(err)
	}
	unsubscribe()
	unsubscribe()
	p.SignIn(context.Background(), "b@x", "pw")

	want := []string{"out", "u-a@x", "out"}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("seen = %v, want %v", seen, want)
		}
	}
}

func TestRequireUser(t *testing.T) {
	p := NewProvider(&fakeAuth{}, nil, "", nil)
	if _, err := p.RequireUser(); !errors.Is(err, model.ErrUnauthenticated) {
		t.Fatalf("err = %v", err)
	}
	if _, err := p.SignIn(context.Background(), "a@x", "bad"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("err = %v", err)
	}
}

func TestSessionPersistsAcrossProviders(t *testing.T) {
	file := filepath.Join(t.TempDir(), "session.json")
	p1 := NewProvider(&fakeAuth{exp: time.Now().Add(time.Hour)}, nil, file, nil)
	if _, err := p1.SignIn(context.Background(), "a@x", "pw"); err != nil {
		t.Fatal(err)
	}

	p2 := NewProvider(&fakeAuth{}, nil, file, nil)
	ok, err := p2.Restore()
	if err != nil || !ok {
		t.Fatalf("Restore = %v, %v", ok, err)
	}
	if u, _ := p2.CurrentUser(); u.UID != "u-a@x" {
		t.Fatalf("restored %+v", u)
	}

	p2.SignOut()
	p3 := NewProvider(&fakeAuth{}, nil, file, nil)
	if ok, _ := p3.Restore(); ok {
		t.Fatal("session survived sign out")
	}
}

func TestExpiredSessionNotRestored(t *testing.T) {
	file := filepath.Join(t.TempDir(), "session.json")
	p1 := NewProvider(&fakeAuth{exp: time.Now().Add(-time.Minute)}, nil, file, nil)
	p1.SignIn(context.Background(), "a@x", "pw")

	p2 := NewProvider(&fakeAuth{}, nil, file, nil)
	if ok, _ := p2.Restore(); ok {
		t.Fatal("expired session restored")
	}
}
