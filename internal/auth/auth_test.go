package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/matheus3301/chatsync/internal/codec"
	"github.com/matheus3301/chatsync/internal/docstore/memstore"
	"github.com/matheus3301/chatsync/internal/model"
)

func newService(t *testing.T) (*Service, *memstore.Store) {
	t.Helper()
	st := memstore.New(nil, zap.NewNop())
	t.Cleanup(func() { st.Close() })
	iss, err := NewIssuer("0123456789abcdef0123", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	svc := NewService(st, iss, zap.NewNop())
	svc.SetCost(bcrypt.MinCost)
	return svc, st
}

func TestSignUpCreatesProfile(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	sess, err := svc.SignUp(ctx, " Alice@Example.com ", "secret1", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	if sess.Email != "alice@example.com" || sess.Token == "" {
		t.Fatalf("session = %+v", sess)
	}

	d, err := st.Get(ctx, codec.UserPath(sess.UserID))
	if err != nil {
		t.Fatal(err)
	}
	u, err := codec.UserFromDoc(d)
	if err != nil {
		t.Fatal(err)
	}
	if u.DisplayName != "Alice" || u.Presence != model.Offline {
		t.Fatalf("profile = %+v", u)
	}

	uid, err := svc.Verify(sess.Token)
	if err != nil || uid != sess.UserID {
		t.Fatalf("Verify = %q, %v", uid, err)
	}
}

func TestSignUpRejectsDuplicatesAndBadInput(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, "bob@example.com", "secret1", "Bob"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SignUp(ctx, "BOB@example.com", "secret2", "Bobby"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("err = %v, want ErrEmailTaken", err)
	}

	tests := []struct {
		email, password, name string
	}{
		{"not-an-email", "secret1", "X"},
		{"x@example.com", "123", "X"},
		{"x@example.com", "secret1", "  "},
	}
	for _, tt := range tests {
		if _, err := svc.SignUp(ctx, tt.email, tt.password, tt.name); !errors.Is(err, model.ErrInvalid) {
			t.Errorf("SignUp(%q, %q, %q) = %v, want ErrInvalid", tt.email, tt.password, tt.name, err)
		}
	}
}

func TestSignIn(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	created, _ := svc.SignUp(ctx, "carol@example.com", "hunter22", "Carol")

	sess, err := svc.SignIn(ctx, "carol@example.com", "hunter22")
	if err != nil {
		t.Fatal(err)
	}
	if sess.UserID != created.UserID {
		t.Fatalf("uid = %q, want %q", sess.UserID, created.UserID)
	}

	if _, err := svc.SignIn(ctx, "carol@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.SignIn(ctx, "nobody@example.com", "hunter22"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestVerifyRejectsExpiredAndForged(t *testing.T) {
	iss, _ := NewIssuer("0123456789abcdef0123", time.Minute)
	tok, _, err := iss.Issue("u1", "u1@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if c, err := iss.Verify("Bearer " + tok); err != nil || c.Subject != "u1" {
		t.Fatalf("Verify = %+v, %v", c, err)
	}

	iss.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := iss.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token accepted: %v", err)
	}

	other, _ := NewIssuer("another-secret-of-length", time.Minute)
	if _, err := other.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("forged token accepted: %v", err)
	}
	if _, err := NewIssuer("short", time.Minute); err == nil {
		t.Fatal("short secret accepted")
	}
}
