package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// mockUser pairs a demo identity with its password.
type mockUser struct {
	User
	Password string
}

var mockUsers = []mockUser{
	{User: User{ID: "1", Email: "demo@example.com", Name: "Demo User"}, Password: "demo123"},
	{User: User{ID: "2", Email: "test@test.com", Name: "Test User"}, Password: "test123"},
}

const mockTokenPrefix = "mock-jwt-token-"

// MockAuthenticator substitutes the auth backend when no base URL is
// configured. Tokens encode the user id so Validate can round-trip them.
type MockAuthenticator struct {
	logger *zap.Logger
}

// NewMock constructs the mock authenticator.
func NewMock(logger *zap.Logger) *MockAuthenticator {
	return &MockAuthenticator{logger: logger}
}

// Login checks the demo credential list.
func (m *MockAuthenticator) Login(ctx context.Context, email, password string) (*Session, error) {
	m.logger.Warn("auth url not configured, using mock login", zap.String("email", email))
	for _, u := range mockUsers {
		if u.Email == email && u.Password == password {
			token := fmt.Sprintf("%s%s-%d", mockTokenPrefix, u.ID, time.Now().UnixMilli())
			return &Session{Token: token, User: u.User}, nil
		}
	}
	return nil, ErrInvalidCredentials
}

// Validate extracts the user id from a mock token.
func (m *MockAuthenticator) Validate(ctx context.Context, token string) (*User, error) {
	if !strings.HasPrefix(token, mockTokenPrefix) {
		return nil, ErrInvalidCredentials
	}
	parts := strings.Split(token, "-")
	if len(parts) < 4 {
		return nil, ErrInvalidCredentials
	}
	id := parts[3]
	for _, u := range mockUsers {
		if u.ID == id {
			user := u.User
			return &user, nil
		}
	}
	return nil, ErrInvalidCredentials
}
