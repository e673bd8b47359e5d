// Package repository is the Postgres implementation of the recording store,
// used by the API/worker deployment. Audio payloads live in a blob store and
// the table only keeps their key.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"voxform/internal/blob"
	"voxform/internal/model"
	"voxform/internal/store"
)

// RecordingRepository wraps all SQL used by the API and worker.
type RecordingRepository struct {
	pool  *pgxpool.Pool
	blobs blob.Store
}

// NewRecordingRepository constructs a repository.
func NewRecordingRepository(pool *pgxpool.Pool, blobs blob.Store) *RecordingRepository {
	return &RecordingRepository{pool: pool, blobs: blobs}
}

func audioKey(id string) string {
	return fmt.Sprintf("recordings/%s/audio", id)
}

// Save inserts or fully overwrites the record, writing the audio payload to
// the blob store when present.
func (r *RecordingRepository) Save(ctx context.Context, rec *model.Recording) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = model.StatusPending
	}
	key := audioKey(rec.ID)
	if rec.Audio != nil {
		if err := r.blobs.Put(ctx, key, rec.Audio, rec.ContentType); err != nil {
			return err
		}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO recordings (id, name, content_type, duration, audio_key, status,
			transcript, transcript_error, uploaded, compiled_form, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			name=EXCLUDED.name, content_type=EXCLUDED.content_type,
			duration=EXCLUDED.duration, status=EXCLUDED.status,
			transcript=EXCLUDED.transcript, transcript_error=EXCLUDED.transcript_error,
			uploaded=EXCLUDED.uploaded, compiled_form=EXCLUDED.compiled_form,
			updated_at=EXCLUDED.updated_at
	`, rec.ID, rec.Name, rec.ContentType, rec.Duration, key, rec.Status,
		rec.Transcript, rec.TranscriptError, rec.Uploaded, rec.CompiledForm,
		rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert recording: %w", err)
	}
	return nil
}

const recordingColumns = `id, name, content_type, duration, status, transcript,
	transcript_error, uploaded, compiled_form, created_at, updated_at`

// Get returns a recording by id.
func (r *RecordingRepository) Get(ctx context.Context, id string) (*model.Recording, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE id=$1`, id)
	rec, err := scanRecording(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("select recording: %w", err)
	}
	return rec, nil
}

// GetAll returns every recording, most recent first, with insertion order as
// the tie-break.
func (r *RecordingRepository) GetAll(ctx context.Context) ([]model.Recording, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+recordingColumns+` FROM recordings
		ORDER BY created_at DESC, seq DESC`)
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
func (r *RecordingRepository) Update(ctx context.Context, rec *model.Recording) error {
	rec.UpdatedAt = time.Now().UTC()
	tag, err := r.pool.Exec(ctx, `
		UPDATE recordings SET name=$1, content_type=$2, duration=$3, status=$4,
			transcript=$5, transcript_error=$6, uploaded=$7, compiled_form=$8, updated_at=$9
		WHERE id=$10
	`, rec.Name, rec.ContentType, rec.Duration, rec.Status, rec.Transcript,
		rec.TranscriptError, rec.Uploaded, rec.CompiledForm, rec.UpdatedAt, rec.ID)
	if err != nil {
		return fmt.Errorf("update recording: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Delete removes the record and its audio payload; absent ids are a no-op.
func (r *RecordingRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM recordings WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete recording: %w", err)
	}
	_ = r.blobs.Delete(ctx, audioKey(id))
	return nil
}

// LoadAudio fetches the audio payload from the blob store.
func (r *RecordingRepository) LoadAudio(ctx context.Context, id string) ([]byte, string, error) {
	var key, contentType string
	row := r.pool.QueryRow(ctx, `SELECT audio_key, content_type FROM recordings WHERE id=$1`, id)
	if err := row.Scan(&key, &contentType); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", store.ErrNotFound
		}
		return nil, "", fmt.Errorf("select audio key: %w", err)
	}
	data, err := r.blobs.Get(ctx, key)
	if err != nil {
		return nil, "", err
	}
	return data, contentType, nil
}

// MarkTranscribing flags the record as having an in-flight transcription.
func (r *RecordingRepository) MarkTranscribing(ctx context.Context, id string) error {
	return r.setStatus(ctx, id, model.StatusTranscribing, "", "")
}

// MarkTranscribed stores a successful transcription.
func (r *RecordingRepository) MarkTranscribed(ctx context.Context, id, transcript string) error {
	return r.setStatus(ctx, id, model.StatusTranscribed, transcript, "")
}

// MarkTranscribeFailed stores the failure message.
func (r *RecordingRepository) MarkTranscribeFailed(ctx context.Context, id, msg string) error {
	return r.setStatus(ctx, id, model.StatusFailed, "", msg)
}

// ResetTranscription returns the record to pending for a retry.
func (r *RecordingRepository) ResetTranscription(ctx context.Context, id string) error {
	return r.setStatus(ctx, id, model.StatusPending, "", "")
}

func (r *RecordingRepository) setStatus(ctx context.Context, id string, status model.TranscriptionStatus, transcript, msg string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE recordings SET status=$1, transcript=$2, transcript_error=$3, updated_at=$4
		WHERE id=$5
	`, status, transcript, msg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpdateTranscript overwrites the transcript text after checking the model
// invariants.
func (r *RecordingRepository) UpdateTranscript(ctx context.Context, id, transcript string) error {
	rec, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := rec.EditTranscript(transcript); err != nil {
		return err
	}
	return r.Update(ctx, rec)
}

// MarkCompiled stores the compiled form and permanently flips the uploaded
// flag.
func (r *RecordingRepository) MarkCompiled(ctx context.Context, id string, form []byte) error {
	rec, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := rec.SetCompiledForm(form); err != nil {
		return err
	}
	return r.Update(ctx, rec)
}

// GetSetting returns the stored value for key, or store.ErrNotFound.
func (r *RecordingRepository) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	row := r.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key=$1`, key)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("select setting: %w", err)
	}
	return value, nil
}

// PutSetting inserts or replaces the value for key.
func (r *RecordingRepository) PutSetting(ctx context.Context, key, value string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO settings (key, value) VALUES ($1,$2)
		ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("put setting: %w", err)
	}
	return nil
}

func scanRecording(row pgx.Row) (*model.Recording, error) {
	var rec model.Recording
	if err := row.Scan(&rec.ID, &rec.Name, &rec.ContentType, &rec.Duration, &rec.Status,
		&rec.Transcript, &rec.TranscriptError, &rec.Uploaded, &rec.CompiledForm,
		&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}
