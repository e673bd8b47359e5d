package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"voxform/internal/model"
)

// MemoryStore is an in-memory RecordingStore used in tests and as a
// substitutable fake at composition time. Updates are last-write-wins per
// key, like the durable stores.
type MemoryStore struct {
	mu       sync.RWMutex
	seq      int
	order    map[string]int
	recs     map[string]*model.Recording
	settings map[string]string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		order:    make(map[string]int),
		recs:     make(map[string]*model.Recording),
		settings: make(map[string]string),
	}
}

// Save inserts or fully overwrites the record.
func (m *MemoryStore) Save(ctx context.Context, rec *model.Recording) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = model.StatusPending
	}
	if _, ok := m.order[rec.ID]; !ok {
		m.seq++
		m.order[rec.ID] = m.seq
	}
	clone := *rec
	m.recs[rec.ID] = &clone
	return nil
}

// Get returns a copy of the record without its audio payload.
func (m *MemoryStore) Get(ctx context.Context, id string) (*model.Recording, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recs[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *rec
	clone.Audio = nil
	return &clone, nil
}

// GetAll returns copies ordered by creation time descending, insertion order
// as the tie-break.
func (m *MemoryStore) GetAll(ctx context.Context) ([]model.Recording, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Recording, 0, len(m.recs))
	for _, rec := range m.recs {
		clone := *rec
		clone.Audio = nil
		out = append(out, clone)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return m.order[out[i].ID] > m.order[out[j].ID]
	})
	return out, nil
}

// Update overwrites the record's metadata, keeping the stored audio payload.
func (m *MemoryStore) Update(ctx context.Context, rec *model.Recording) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.recs[rec.ID]
	if !ok {
		return ErrNotFound
	}
	clone := *rec
	clone.Audio = existing.Audio
	clone.UpdatedAt = time.Now().UTC()
	m.recs[rec.ID] = &clone
	return nil
}

// Delete removes the record; absent ids are a no-op.
func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, id)
	delete(m.order, id)
	return nil
}

// LoadAudio returns the audio payload and content type.
func (m *MemoryStore) LoadAudio(ctx context.Context, id string) ([]byte, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recs[id]
	if !ok {
		return nil, "", ErrNotFound
	}
	audio := make([]byte, len(rec.Audio))
	copy(audio, rec.Audio)
	return audio, rec.ContentType, nil
}

// MarkTranscribing flags an in-flight transcription.
func (m *MemoryStore) MarkTranscribing(ctx context.Context, id string) error {
	return m.mutate(id, func(rec *model.Recording) error {
		rec.Status = model.StatusTranscribing
		rec.Transcript = ""
		rec.TranscriptError = ""
		return nil
	})
}

// MarkTranscribed stores a successful transcription.
func (m *MemoryStore) MarkTranscribed(ctx context.Context, id, transcript string) error {
	return m.mutate(id, func(rec *model.Recording) error {
		rec.SetTranscript(transcript)
		return nil
	})
}

// MarkTranscribeFailed stores the failure message.
func (m *MemoryStore) MarkTranscribeFailed(ctx context.Context, id, msg string) error {
	return m.mutate(id, func(rec *model.Recording) error {
		rec.SetTranscriptError(msg)
		return nil
	})
}

// ResetTranscription returns the record to pending.
func (m *MemoryStore) ResetTranscription(ctx context.Context, id string) error {
	return m.mutate(id, func(rec *model.Recording) error {
		rec.ResetTranscription()
		return nil
	})
}

// UpdateTranscript overwrites the transcript after the model checks.
func (m *MemoryStore) UpdateTranscript(ctx context.Context, id, transcript string) error {
	return m.mutate(id, func(rec *model.Recording) error {
		return rec.EditTranscript(transcript)
	})
}

// MarkCompiled stores the compiled form and locks the record.
func (m *MemoryStore) MarkCompiled(ctx context.Context, id string, form []byte) error {
	return m.mutate(id, func(rec *model.Recording) error {
		return rec.SetCompiledForm(form)
	})
}

func (m *MemoryStore) mutate(id string, fn func(rec *model.Recording) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return ErrNotFound
	}
	if err := fn(rec); err != nil {
		return err
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// GetSetting returns the stored value for key, or ErrNotFound.
func (m *MemoryStore) GetSetting(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.settings[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

// PutSetting inserts or replaces the value for key.
func (m *MemoryStore) PutSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}
