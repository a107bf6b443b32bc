// Package identity tracks who is signed in on this client and tells the rest
// of the client when that changes.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/auth"
	"github.com/matheus3301/chatsync/internal/model"
)

// Authenticator verifies credentials. *auth.Service and *remote.Client
// both satisfy it.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (auth.Session, error)
	SignUp(ctx context.Context, email, password, displayName string) (auth.Session, error)
}

// TokenSink receives the bearer token of the current session.
type TokenSink interface {
	SetToken(token string)
}

// User is the signed-in identity.
type User struct {
	UID       string    `json:"uid"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Listener observes sign-in and sign-out. u is nil when signed out.
type Listener func(u *User)

// Provider holds the current identity, optionally persisted to a file.
type Provider struct {
	authn       Authenticator
	sink        TokenSink
	sessionFile string
	logger      *zap.Logger
	now         func() time.Time

	mu        sync.Mutex
	current   *User
	listeners map[int]Listener
	nextID    int
}

// NewProvider creates a provider. sessionFile may be empty to keep the session
// in memory only; sink may be nil.
func NewProvider(authn Authenticator, sink TokenSink, sessionFile string, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		authn:       authn,
		sink:        sink,
		sessionFile: sessionFile,
		logger:      logger,
		now:         time.Now,
		listeners:   make(map[int]Listener),
	}
}

// Restore loads a persisted, unexpired session. It reports whether one was found.
func (p *Provider) Restore() (bool, error) {
	if p.sessionFile == "" {
		return false, nil
	}
	data, err := os.ReadFile(p.sessionFile)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read session: %w", err)
	}
	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return false, fmt.Errorf("parse session: %w", err)
	}
	if u.UID == "" || (!u.ExpiresAt.IsZero() && !p.now().Before(u.ExpiresAt)) {
		p.logger.Info("persisted session expired")
		_ = os.Remove(p.sessionFile)
		return false, nil
	}
	p.set(&u)
	return true, nil
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (User, error) {
	s, err := p.authn.SignIn(ctx, email, password)
	if err != nil {
		return User{}, fmt.Errorf("sign in: %w", err)
	}
	return p.establish(s)
}

func (p *Provider) SignUp(ctx context.Context, email, password, displayName string) (User, error) {
	s, err := p.authn.SignUp(ctx, email, password, displayName)
	if err != nil {
		return User{}, fmt.Errorf("sign up: %w", err)
	}
	return p.establish(s)
}

func (p *Provider) establish(s auth.Session) (User, error) {
	u := User{UID: s.UserID, Email: s.Email, Token: s.Token, ExpiresAt: s.ExpiresAt}
	if err := p.persist(&u); err != nil {
		p.logger.Warn("could not persist session", zap.Error(err))
	}
	p.set(&u)
	p.logger.Info("signed in", zap.String("uid", u.UID))
	return u, nil
}

func (p *Provider) SignOut() error {
	p.set(nil)
	if p.sessionFile != "" {
		if err := os.Remove(p.sessionFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove session: %w", err)
		}
	}
	p.logger.Info("signed out")
	return nil
}

// CurrentUser returns the signed-in user, if any.
func (p *Provider) CurrentUser() (User, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return User{}, false
	}
	return *p.current, true
}

// RequireUser is CurrentUser as an error.
func (p *Provider) RequireUser() (User, error) {
	u, ok := p.CurrentUser()
	if !ok {
		return User{}, model.ErrUnauthenticated
	}
	return u, nil
}

// OnAuthStateChanged registers fn and calls it once with the current state.
// The returned function unregisters it and may be called more than once.
func (p *Provider) OnAuthStateChanged(fn Listener) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	var cur *User
	if p.current != nil {
		u := *p.current
		cur = &u
	}
	p.mu.Unlock()

	fn(cur)
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *Provider) set(u *User) {
	p.mu.Lock()
	p.current = u
	fns := make([]Listener, 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	if p.sink != nil {
		tok := ""
		if u != nil {
			tok = u.Token
		}
		p.sink.SetToken(tok)
	}
	for _, fn := range fns {
		if u == nil {
			fn(nil)
			continue
		}
		cp := *u
		fn(&cp)
	}
}

func (p *Provider) persist(u *User) error {
	if p.sessionFile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p.sessionFile), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p.sessionFile, data, 0600)
}
