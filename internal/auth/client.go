// Package auth is the client for the credential exchange backend. The bearer
// token it returns is persisted under a fixed settings key and attached to
// authenticated calls.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrInvalidCredentials is returned for rejected logins.
var ErrInvalidCredentials = errors.New("invalid credentials")

// User is the authenticated identity.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Session bundles a bearer token with its user.
type Session struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Authenticator is the capability interface the rest of the application
// depends on; real and mock implementations are selected at composition time.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*Session, error)
	Validate(ctx context.Context, token string) (*User, error)
}

// Client talks to the auth backend over HTTP.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewClient constructs a client for the given base URL.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)
	return &Client{http: rc, logger: logger}
}

// loginResponse accepts both response shapes the backend has been observed
// to produce: a nested session object and a flat accessToken. The nested
// shape is canonical; the flat one is a fallback.
type loginResponse struct {
	Session *struct {
		AccessToken string    `json:"accessToken"`
		User        *userInfo `json:"user"`
	} `json:"session"`
	AccessToken string    `json:"accessToken"`
	User        *userInfo `json:"user"`
}

type userInfo struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

func (u *userInfo) toUser(fallbackEmail string) User {
	user := User{ID: u.ID, Email: u.Email, Name: u.DisplayName}
	if user.Name == "" {
		user.Name = u.Name
	}
	if user.Email == "" {
		user.Email = fallbackEmail
	}
	if user.Name == "" {
		user.Name = user.Email
	}
	return user
}

// Login exchanges credentials for a bearer token and user identity.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	var result loginResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"email": email, "password": password}).
		SetResult(&result).
		Post("/signin/email-password")
	if err != nil {
		return nil, fmt.Errorf("login request: %w", err)
	}
	if resp.IsError() {
		c.logger.Warn("login rejected",
			zap.Int("status", resp.StatusCode()),
			zap.String("body", resp.String()))
		return nil, fmt.Errorf("login failed: status %d", resp.StatusCode())
	}
	return sessionFromResponse(&result, email)
}

// Validate checks a bearer token and returns its user.
func (c *Client) Validate(ctx context.Context, token string) (*User, error) {
	var user userInfo
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&user).
		Get("/validate")
	if err != nil {
		return nil, fmt.Errorf("validate request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("token validation failed: status %d", resp.StatusCode())
	}
	out := user.toUser("")
	return &out, nil
}

// Refresh exchanges a still-valid token for a fresh session.
func (c *Client) Refresh(ctx context.Context, token string) (*Session, error) {
	var result loginResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetResult(&result).
		Post("/refresh")
	if err != nil {
		return nil, fmt.Errorf("refresh request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("token refresh failed: status %d", resp.StatusCode())
	}
	return sessionFromResponse(&result, "")
}

func sessionFromResponse(r *loginResponse, fallbackEmail string) (*Session, error) {
	switch {
	case r.Session != nil && r.Session.AccessToken != "" && r.Session.User != nil:
		return &Session{
			Token: r.Session.AccessToken,
			User:  r.Session.User.toUser(fallbackEmail),
		}, nil
	case r.AccessToken != "":
		user := User{Email: fallbackEmail, Name: "User"}
		if r.User != nil {
			user = r.User.toUser(fallbackEmail)
		}
		return &Session{Token: r.AccessToken, User: user}, nil
	default:
		return nil, errors.New("unexpected login response format")
	}
}
