package remote

import (
	"context"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/auth"
)

func (c *Client) account(ctx context.Context, method, email, password, displayName string) (auth.Session, error) {
	in, err := structpb.NewStruct(map[string]any{"email": email, "password": password, "displayName": displayName})
	if err != nil {
		return auth.Session{}, err
	}
	out, err := c.invoke(ctx, method, in)
	if err != nil {
		return auth.Session{}, err
	}
	m := out.AsMap()
	s := auth.Session{}
	s.UserID, _ = m["uid"].(string)
	s.Email, _ = m["email"].(string)
	s.Token, _ = m["token"].(string)
	if exp, ok := m["expiresAt"].(string); ok {
		s.ExpiresAt, _ = time.Parse(time.RFC3339, exp)
	}
	return s, nil
}

// SignUp registers an account on the daemon.
func (c *Client) SignUp(ctx context.Context, email, password, displayName string) (auth.Session, error) {
	return c.account(ctx, api.MethodSignUp, email, password, displayName)
}

// SignIn exchanges credentials for a session token.
func (c *Client) SignIn(ctx context.Context, email, password string) (auth.Session, error) {
	return c.account(ctx, api.MethodSignIn, email, password, "")
}

// Renew extends the caller's presence lease. uid must be the signed-in user;
// the daemon takes the identity from the token.
func (c *Client) Renew(ctx context.Context, _ string, ttl time.Duration) error {
	in, err := structpb.NewStruct(map[string]any{"ttlSeconds": ttl.Seconds()})
	if err != nil {
		return err
	}
	_, err = c.invoke(ctx, api.MethodHeartbeat, in)
	return err
}
