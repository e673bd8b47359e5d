// Package pipeline derives each recording's lifecycle state and drives the
// transcribe->compile flow against the remote processing client.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"voxform/internal/maui"
	"voxform/internal/model"
	"voxform/internal/store"
)

// State is the presentation state derived from a recording's fields; it is
// computed, never stored.
type State string

const (
	NeedsTranscription  State = "needs_transcription"
	Transcribing        State = "transcribing"
	Transcribed         State = "transcribed"
	TranscriptionFailed State = "transcription_failed"
	Processed           State = "processed"
)

// StateOf maps a recording onto its lifecycle state.
func StateOf(rec *model.Recording) State {
	if rec.Uploaded {
		return Processed
	}
	switch rec.Status {
	case model.StatusTranscribing:
		return Transcribing
	case model.StatusTranscribed:
		return Transcribed
	case model.StatusFailed:
		return TranscriptionFailed
	default:
		return NeedsTranscription
	}
}

// ErrNotRetryable rejects retries on recordings whose transcription has not
// failed.
var ErrNotRetryable = errors.New("recording has no failed transcription")

// Processor is the remote-processing capability; the real MAUI client and
// the offline mock both satisfy it.
type Processor interface {
	Transcribe(ctx context.Context, audio []byte, contentType, lang string, creds maui.Credentials) (*maui.Transcription, error)
	CompileForm(ctx context.Context, req maui.CompileRequest, creds maui.Credentials) (json.RawMessage, error)
}

// Dispatcher hands transcription work to a runner keyed by recording id,
// guaranteeing at most one in-flight transcription per record.
type Dispatcher interface {
	Dispatch(ctx context.Context, recordingID string) error
}

// CredentialSource supplies the caller identity for remote requests.
type CredentialSource interface {
	Credentials(ctx context.Context) (maui.Credentials, error)
}

// Orchestrator coordinates recordings between the store, the dispatcher and
// the remote processor.
type Orchestrator struct {
	store      store.RecordingStore
	proc       Processor
	dispatcher Dispatcher
	creds      CredentialSource
	form       *FormDefinition
	lang       string
	logger     *zap.Logger
}

// New constructs an orchestrator. The dispatcher is attached separately
// because in-process dispatchers run the orchestrator's own transcribe step.
func New(recs store.RecordingStore, proc Processor, creds CredentialSource, form *FormDefinition, lang string, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:  recs,
		proc:   proc,
		creds:  creds,
		form:   form,
		lang:   lang,
		logger: logger,
	}
}

// SetDispatcher attaches the transcription dispatcher.
func (o *Orchestrator) SetDispatcher(d Dispatcher) {
	o.dispatcher = d
}

// SyncPending dispatches transcription for every recording still waiting for
// one. Records transcribe independently; there is no ordering guarantee
// across recordings.
func (o *Orchestrator) SyncPending(ctx context.Context) error {
	recs, err := o.store.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("list recordings: %w", err)
	}
	for i := range recs {
		rec := &recs[i]
		if StateOf(rec) != NeedsTranscription {
			continue
		}
		if err := o.dispatcher.Dispatch(ctx, rec.ID); err != nil {
			o.logger.Warn("dispatch transcription", zap.String("id", rec.ID), zap.Error(err))
		}
	}
	return nil
}

// TranscribeOnce runs one transcription attempt for the recording. It is the
// unit of work executed by dispatchers and the asynq worker. A recording that
// is no longer pending is skipped so duplicate dispatches are harmless.
func (o *Orchestrator) TranscribeOnce(ctx context.Context, id string) error {
	rec, err := o.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if StateOf(rec) != NeedsTranscription {
		o.logger.Debug("transcription skipped", zap.String("id", id), zap.String("state", string(StateOf(rec))))
		return nil
	}
	if err := o.store.MarkTranscribing(ctx, id); err != nil {
		return err
	}
	audio, contentType, err := o.store.LoadAudio(ctx, id)
	if err != nil {
		_ = o.store.MarkTranscribeFailed(ctx, id, err.Error())
		return err
	}
	creds, err := o.creds.Credentials(ctx)
	if err != nil {
		_ = o.store.MarkTranscribeFailed(ctx, id, err.Error())
		return err
	}
	result, err := o.proc.Transcribe(ctx, audio, contentType, o.lang, creds)
	if err != nil {
		o.logger.Warn("transcription failed", zap.String("id", id), zap.Error(err))
		if markErr := o.store.MarkTranscribeFailed(ctx, id, err.Error()); markErr != nil {
			return markErr
		}
		return err
	}
	if err := o.store.MarkTranscribed(ctx, id, result.Text); err != nil {
		return err
	}
	o.logger.Info("recording transcribed", zap.String("id", id), zap.Int("chars", len(result.Text)))
	return nil
}

// Retry clears a failed transcription and re-dispatches it.
func (o *Orchestrator) Retry(ctx context.Context, id string) error {
	rec, err := o.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if StateOf(rec) != TranscriptionFailed {
		return ErrNotRetryable
	}
	if err := o.store.ResetTranscription(ctx, id); err != nil {
		return err
	}
	return o.dispatcher.Dispatch(ctx, id)
}

// EditTranscript overwrites the transcript text; edits are rejected once the
// recording has been uploaded.
func (o *Orchestrator) EditTranscript(ctx context.Context, id, text string) error {
	return o.store.UpdateTranscript(ctx, id, text)
}

// Process submits the transcript for form compilation. It requires a
// non-empty transcript and is never invoked for records without one. On
// success the compiled form is stored and the recording is permanently
// locked; on failure nothing is mutated.
func (o *Orchestrator) Process(ctx context.Context, id string) (json.RawMessage, error) {
	rec, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Uploaded {
		return nil, model.ErrRecordingLocked
	}
	if rec.Status != model.StatusTranscribed || rec.Transcript == "" {
		return nil, model.ErrEmptyTranscript
	}
	creds, err := o.creds.Credentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	req := o.form.CompileRequest(rec.Transcript)
	compiled, err := o.proc.CompileForm(ctx, req, creds)
	if err != nil {
		return nil, err
	}
	if err := o.store.MarkCompiled(ctx, id, compiled); err != nil {
		return nil, err
	}
	o.logger.Info("recording processed", zap.String("id", id))
	return compiled, nil
}

// Delete removes the recording.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	return o.store.Delete(ctx, id)
}
