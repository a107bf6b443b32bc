// Package auth holds the account registry served by the daemon: bcrypt
// password hashes stored in the accounts collection and JWT session tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/matheus3301/chatsync/internal/codec"
	"github.com/matheus3301/chatsync/internal/docstore"
	"github.com/matheus3301/chatsync/internal/model"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

const minPasswordLen = 6

// Session is the result of a successful sign-in.
type Session struct {
	UserID    string
	Email     string
	Token     string
	ExpiresAt time.Time
}

// Service registers accounts and signs users in.
type Service struct {
	store  docstore.Store
	issuer *Issuer
	logger *zap.Logger
	cost   int

	mu sync.Mutex // serialises sign-ups so emails stay unique
}

func NewService(store docstore.Store, issuer *Issuer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, issuer: issuer, logger: logger, cost: bcrypt.DefaultCost}
}

// SetCost overrides the bcrypt cost.
func (s *Service) SetCost(cost int) { s.cost = cost }

// Issuer returns the token issuer used for sessions.
func (s *Service) Issuer() *Issuer { return s.issuer }

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return "", model.Invalid("email", "malformed address")
	}
	return email, nil
}

// SignUp creates the account and the user's presence profile in one batch.
func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Session{}, err
	}
	if len(password) < minPasswordLen {
		return Session{}, model.Invalid("password", fmt.Sprintf("must be at least %d characters", minPasswordLen))
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return Session{}, model.Invalid("displayName", "empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.findByEmail(ctx, email); err == nil {
		return Session{}, ErrEmailTaken
	} else if !errors.Is(err, model.ErrNotFound) {
		return Session{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	uid := s.store.NewID()
	profile := codec.UserFields(model.User{ID: uid, DisplayName: displayName, Email: email, Presence: model.Offline})
	err = s.store.BatchWrite(ctx, []docstore.Op{
		docstore.Set(docstore.Join(codec.Accounts, uid), docstore.Fields{
			"email":        email,
			"passwordHash": string(hash),
			"createdAt":    docstore.ServerTimestamp(),
		}),
		docstore.Set(codec.UserPath(uid), profile),
	})
	if err != nil {
		return Session{}, fmt.Errorf("create account: %w", err)
	}
	s.logger.Info("account created", zap.String("uid", uid))
	return s.session(uid, email)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Session{}, ErrInvalidCredentials
	}
	acct, err := s.findByEmail(ctx, email)
	if errors.Is(err, model.ErrNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	hash, _ := acct.Fields["passwordHash"].(string)
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return Session{}, ErrInvalidCredentials
	}
	return s.session(acct.ID, email)
}

// Verify resolves a session token to its user id.
func (s *Service) Verify(token string) (string, error) {
	c, err := s.issuer.Verify(token)
	if err != nil {
		return "", err
	}
	return c.Subject, nil
}

func (s *Service) session(uid, email string) (Session, error) {
	tok, exp, err := s.issuer.Issue(uid, email)
	if err != nil {
		return Session{}, err
	}
	return Session{UserID: uid, Email: email, Token: tok, ExpiresAt: exp}, nil
}

func (s *Service) findByEmail(ctx context.Context, email string) (docstore.Document, error) {
	docs, err := s.store.Query(ctx, docstore.Query{Collection: codec.Accounts, Limit: 1}.Where("email", docstore.OpEqual, email))
	if err != nil {
		return docstore.Document{}, fmt.Errorf("find account: %w", err)
	}
	if len(docs) == 0 {
		return docstore.Document{}, &model.NotFoundError{Kind: "account", ID: email}
	}
	return docs[0], nil
}
