// Package queue defines the asynq tasks shared by the API and the worker.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// TranscribeRecordingTask is scheduled each time a recording needs a
	// transcription.
	TranscribeRecordingTask = "recording:transcribe"
)

// TranscribePayload is serialized into the task payload so the worker knows
// which recording to transcribe.
type TranscribePayload struct {
	RecordingID string `json:"recording_id"`
}

// EnqueueTranscribe enqueues a transcription job. Uniqueness is keyed on the
// payload so a recording has at most one queued transcription at a time; the
// remote call itself stays single-attempt.
func EnqueueTranscribe(ctx context.Context, client *asynq.Client, payload TranscribePayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(TranscribeRecordingTask, data)
	opts := []asynq.Option{
		asynq.MaxRetry(0),
		asynq.Unique(5 * time.Minute),
	}
	if _, err := client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("enqueue transcribe task: %w", err)
	}
	return nil
}

// Dispatcher adapts the asynq client to the pipeline's dispatcher interface.
type Dispatcher struct {
	client *asynq.Client
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(client *asynq.Client) *Dispatcher {
	return &Dispatcher{client: client}
}

// Dispatch enqueues a transcription for the recording.
func (d *Dispatcher) Dispatch(ctx context.Context, recordingID string) error {
	return EnqueueTranscribe(ctx, d.client, TranscribePayload{RecordingID: recordingID})
}
