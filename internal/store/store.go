// Package store defines the recording persistence contract and its local
// SQLite implementation. Recordings are exclusively owned by the store;
// callers hold transient copies and write back through it.
package store

import (
	"context"
	"errors"

	"voxform/internal/model"
)

var (
	// ErrNotFound is returned when a recording id has no stored record.
	ErrNotFound = errors.New("recording not found")
)

// RecordingStore is the persistence boundary shared by the local SQLite
// store and the Postgres-backed repository.
type RecordingStore interface {
	// Save inserts or fully overwrites the record at its id, audio payload
	// included.
	Save(ctx context.Context, rec *model.Recording) error
	// Get returns the record metadata without the audio payload.
	Get(ctx context.Context, id string) (*model.Recording, error)
	// GetAll returns every record ordered by creation time descending, with
	// a stable insertion-order fallback when timestamps tie.
	GetAll(ctx context.Context) ([]model.Recording, error)
	// Update overwrites the record's metadata. Callers pass a full record;
	// the stored audio payload is left untouched.
	Update(ctx context.Context, rec *model.Recording) error
	// Delete removes the record. Deleting an absent id is a no-op.
	Delete(ctx context.Context, id string) error
	// LoadAudio returns the audio payload and its content type.
	LoadAudio(ctx context.Context, id string) ([]byte, string, error)

	MarkTranscribing(ctx context.Context, id string) error
	MarkTranscribed(ctx context.Context, id, transcript string) error
	MarkTranscribeFailed(ctx context.Context, id, msg string) error
	ResetTranscription(ctx context.Context, id string) error
	UpdateTranscript(ctx context.Context, id, transcript string) error
	MarkCompiled(ctx context.Context, id string, form []byte) error
}

// SettingsStore persists small fixed-key values such as the auth token and
// the MAUI api key.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	PutSetting(ctx context.Context, key, value string) error
}

// Well-known settings keys.
const (
	SettingAuthToken  = "auth_token"
	SettingUserEmail  = "auth_user_email"
	SettingMauiAPIKey = "maui_api_key"
)
