package apiclient

import (
	"context"
	"net/http"
	"time"

	"voltguard/internal/session"
)

// SignIn exchanges credentials for a session. The returned session is not persisted.
func (c *Client) SignIn(ctx context.Context, req SignInRequest) (session.Session, error) {
	var out AuthResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/signin", nil, false, req, &out); err != nil {
		return session.Session{}, err
	}
	return session.Session{Token: out.AccessToken, User: out.User, CreatedAt: time.Now().UTC()}, nil
}

func (c *Client) SignUp(ctx context.Context, req SignUpRequest) (session.Session, error) {
	var out AuthResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/signup", nil, false, req, &out); err != nil {
		return session.Session{}, err
	}
	return session.Session{Token: out.AccessToken, User: out.User, CreatedAt: time.Now().UTC()}, nil
}

// Me returns the user behind the current token.
func (c *Client) Me(ctx context.Context) (session.User, error) {
	var out session.User
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, true, nil, &out); err != nil {
		return session.User{}, err
	}
	return out, nil
}
