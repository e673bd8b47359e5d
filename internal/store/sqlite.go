package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"voxform/internal/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the local, durable recording store. Audio payloads are kept
// inline so a single file survives application restarts.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and ensures the
// schema exists.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ensureSchema() error {
	const stmt = `
CREATE TABLE IF NOT EXISTS recordings (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	content_type TEXT NOT NULL,
	duration INTEGER NOT NULL,
	status TEXT NOT NULL,
	transcript TEXT NOT NULL DEFAULT '',
	transcript_error TEXT NOT NULL DEFAULT '',
	uploaded INTEGER NOT NULL DEFAULT 0,
	compiled_form BLOB,
	audio BLOB,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recordings_status ON recordings(status);
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const recordingColumns = `id, name, content_type, duration, status, transcript,
	transcript_error, uploaded, compiled_form, created_at, updated_at`

// Save inserts or fully overwrites the record at its id.
func (s *SQLiteStore) Save(ctx context.Context, rec *model.Recording) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = model.StatusPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recordings (id, name, content_type, duration, status, transcript,
			transcript_error, uploaded, compiled_form, audio, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, content_type=excluded.content_type,
			duration=excluded.duration, status=excluded.status,
			transcript=excluded.transcript, transcript_error=excluded.transcript_error,
			uploaded=excluded.uploaded, compiled_form=excluded.compiled_form,
			audio=excluded.audio, updated_at=excluded.updated_at
	`, rec.ID, rec.Name, rec.ContentType, rec.Duration, rec.Status, rec.Transcript,
		rec.TranscriptError, boolInt(rec.Uploaded), rec.CompiledForm, rec.Audio,
		rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert recording: %w", err)
	}
	return nil
}

// Get returns recording metadata; the audio payload is loaded separately via
// LoadAudio.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Recording, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE id=?`, id)
	rec, err := scanRecording(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select recording: %w", err)
	}
	return rec, nil
}

// GetAll returns every recording, most recent first. Ties on created_at fall
// back to insertion order (rowid).
func (s *SQLiteStore) GetAll(ctx context.Context) ([]model.Recording, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordingColumns+` FROM recordings
		ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("query recordings: %w", err)
	}
	defer rows.Close()

	var out []model.Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Update overwrites the record's metadata, leaving the stored audio payload
// untouched.
func (s *SQLiteStore) Update(ctx context.Context, rec *model.Recording) error {
	rec.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE recordings SET name=?, content_type=?, duration=?, status=?,
			transcript=?, transcript_error=?, uploaded=?, compiled_form=?, updated_at=?
		WHERE id=?
	`, rec.Name, rec.ContentType, rec.Duration, rec.Status, rec.Transcript,
		rec.TranscriptError, boolInt(rec.Uploaded), rec.CompiledForm,
		rec.UpdatedAt.UnixNano(), rec.ID)
	if err != nil {
		return fmt.Errorf("update recording: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the record; deleting an absent id is a no-op.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM recordings WHERE id=?`, id); err != nil {
		return fmt.Errorf("delete recording: %w", err)
	}
	return nil
}

// LoadAudio returns the audio payload and its content type.
func (s *SQLiteStore) LoadAudio(ctx context.Context, id string) ([]byte, string, error) {
	var (
		audio       []byte
		contentType string
	)
	row := s.db.QueryRowContext(ctx, `SELECT audio, content_type FROM recordings WHERE id=?`, id)
	if err := row.Scan(&audio, &contentType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("select audio: %w", err)
	}
	return audio, contentType, nil
}

// MarkTranscribing flags the record as having an in-flight transcription.
func (s *SQLiteStore) MarkTranscribing(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, model.StatusTranscribing, "", "")
}

// MarkTranscribed stores a successful transcription, clearing any previous
// error.
func (s *SQLiteStore) MarkTranscribed(ctx context.Context, id, transcript string) error {
	return s.setStatus(ctx, id, model.StatusTranscribed, transcript, "")
}

// MarkTranscribeFailed stores the failure message, leaving the transcript
// unset.
func (s *SQLiteStore) MarkTranscribeFailed(ctx context.Context, id, msg string) error {
	return s.setStatus(ctx, id, model.StatusFailed, "", msg)
}

// ResetTranscription returns the record to pending for a retry.
func (s *SQLiteStore) ResetTranscription(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, model.StatusPending, "", "")
}

func (s *SQLiteStore) setStatus(ctx context.Context, id string, status model.TranscriptionStatus, transcript, msg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recordings SET status=?, transcript=?, transcript_error=?, updated_at=?
		WHERE id=?
	`, status, transcript, msg, time.Now().UTC().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTranscript overwrites the transcript text; the model invariants
// (transcribed, not yet uploaded) are enforced before writing.
func (s *SQLiteStore) UpdateTranscript(ctx context.Context, id, transcript string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := rec.EditTranscript(transcript); err != nil {
		return err
	}
	return s.Update(ctx, rec)
}

// MarkCompiled stores the compiled form and permanently flips the uploaded
// flag.
func (s *SQLiteStore) MarkCompiled(ctx context.Context, id string, form []byte) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := rec.SetCompiledForm(form); err != nil {
		return err
	}
	return s.Update(ctx, rec)
}

// GetSetting returns the stored value for key, or ErrNotFound.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	row := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key=?`, key)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("select setting: %w", err)
	}
	return value, nil
}

// PutSetting inserts or replaces the value for key.
func (s *SQLiteStore) PutSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?,?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("put setting: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecording(row rowScanner) (*model.Recording, error) {
	var (
		rec       model.Recording
		uploaded  int
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&rec.ID, &rec.Name, &rec.ContentType, &rec.Duration, &rec.Status,
		&rec.Transcript, &rec.TranscriptError, &uploaded, &rec.CompiledForm,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rec.Uploaded = uploaded != 0
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &rec, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
