package api

import (
	"context"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/chatsync/internal/auth"
)

// AccountService serves sign-up and sign-in.
type AccountService struct {
	accounts *auth.Service
}

func NewAccountService(accounts *auth.Service) *AccountService {
	return &AccountService{accounts: accounts}
}

func sessionStruct(s auth.Session) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"uid":       s.UserID,
		"email":     s.Email,
		"token":     s.Token,
		"expiresAt": s.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func credentials(in *structpb.Struct) (email, password, displayName string) {
	m := in.AsMap()
	email, _ = m["email"].(string)
	password, _ = m["password"].(string)
	displayName, _ = m["displayName"].(string)
	return email, password, displayName
}

func (s *AccountService) SignUp(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	email, password, name := credentials(in)
	sess, err := s.accounts.SignUp(ctx, email, password, name)
	if err != nil {
		return nil, ToStatus(err)
	}
	return sessionStruct(sess)
}

func (s *AccountService) SignIn(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	email, password, _ := credentials(in)
	sess, err := s.accounts.SignIn(ctx, email, password)
	if err != nil {
		return nil, ToStatus(err)
	}
	return sessionStruct(sess)
}
