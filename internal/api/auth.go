package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nhle/taskdesk/internal/model"
)

// Credentials is the sign-in form payload.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResult is the body of a successful POST /auth/login.
type LoginResult struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

// Login exchanges credentials for a bearer token and the signed-in user.
func (c *Client) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	var result LoginResult
	if err := c.Post(ctx, "/auth/login", creds, &result); err != nil {
		return nil, err
	}
	if result.Token == "" || result.User == nil {
		return nil, &Error{
			Kind:    KindDecode,
			Method:  "POST",
			Path:    "/auth/login",
			Message: "login response is missing token or user",
		}
	}
	return &result, nil
}

// Logout revokes the current token on the server.
func (c *Client) Logout(ctx context.Context) error {
	return c.Post(ctx, "/auth/logout", nil, nil)
}

// Me returns the user the current token belongs to. The server may wrap
// the user as {"user": {...}}; both shapes are accepted.
func (c *Client) Me(ctx context.Context) (*model.User, error) {
	var raw json.RawMessage
	if err := c.Get(ctx, "/auth/me", &raw); err != nil {
		return nil, err
	}

	var wrapped struct {
		User *model.User `json:"user"`
	}
	if json.Unmarshal(raw, &wrapped) == nil && wrapped.User != nil {
		return wrapped.User, nil
	}

	var user model.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, &Error{Kind: KindDecode, Method: "GET", Path: "/auth/me", Err: err}
	}
	if user.ID == 0 {
		return nil, &Error{
			Kind:    KindDecode,
			Method:  "GET",
			Path:    "/auth/me",
			Message: fmt.Sprintf("unrecognised user payload: %.80s", string(raw)),
		}
	}
	return &user, nil
}
