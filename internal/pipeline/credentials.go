package pipeline

import (
	"context"
	"errors"

	"voxform/internal/maui"
	"voxform/internal/store"
)

// ErrNotAuthenticated is returned when no credentials have been stored yet.
var ErrNotAuthenticated = errors.New("not logged in")

// SettingsCredentials reads the caller identity from the settings store,
// falling back to a configured api key.
type SettingsCredentials struct {
	settings       store.SettingsStore
	fallbackAPIKey string
	userName       string
}

// NewSettingsCredentials constructs the settings-backed credential source.
func NewSettingsCredentials(settings store.SettingsStore, fallbackAPIKey, userName string) *SettingsCredentials {
	return &SettingsCredentials{
		settings:       settings,
		fallbackAPIKey: fallbackAPIKey,
		userName:       userName,
	}
}

// Credentials implements CredentialSource.
func (s *SettingsCredentials) Credentials(ctx context.Context) (maui.Credentials, error) {
	apiKey, err := s.settings.GetSetting(ctx, store.SettingMauiAPIKey)
	if err != nil || apiKey == "" {
		apiKey = s.fallbackAPIKey
	}
	email, _ := s.settings.GetSetting(ctx, store.SettingUserEmail)
	token, _ := s.settings.GetSetting(ctx, store.SettingAuthToken)
	if apiKey == "" && token == "" {
		return maui.Credentials{}, ErrNotAuthenticated
	}
	return maui.Credentials{
		APIKey:    apiKey,
		UserEmail: email,
		UserName:  s.userName,
		Token:     token,
	}, nil
}

// StaticCredentials returns fixed credentials, useful for tests and the
// offline mock composition.
type StaticCredentials maui.Credentials

// Credentials implements CredentialSource.
func (s StaticCredentials) Credentials(ctx context.Context) (maui.Credentials, error) {
	return maui.Credentials(s), nil
}
