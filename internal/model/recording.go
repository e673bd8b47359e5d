// Package model contains the struct definitions shared across packages.
package model

import (
	"errors"
	"strings"
	"time"
)

// TranscriptionStatus describes where a recording sits in the
// transcribe->compile lifecycle. Exactly one status is authoritative at a
// time; the text and error fields are only meaningful for the status that
// owns them.
type TranscriptionStatus string

const (
	StatusPending      TranscriptionStatus = "pending"
	StatusTranscribing TranscriptionStatus = "transcribing"
	StatusTranscribed  TranscriptionStatus = "transcribed"
	StatusFailed       TranscriptionStatus = "failed"
)

var (
	// ErrEmptyTranscript is returned when a compile is attempted before a
	// transcript exists.
	ErrEmptyTranscript = errors.New("recording has no transcript")
	// ErrRecordingLocked is returned for mutations on a recording that has
	// already been submitted for form compilation.
	ErrRecordingLocked = errors.New("recording already uploaded")
)

// Recording holds one captured voice note plus its processing metadata. The
// audio payload itself is persisted by the store; Audio is populated only on
// explicit load.
type Recording struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	ContentType string              `json:"contentType"`
	// Duration is whole seconds spent actually recording (paused time
	// excluded).
	Duration  int       `json:"duration"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Status TranscriptionStatus `json:"status"`
	// Transcript is set only while Status is StatusTranscribed.
	Transcript string `json:"transcript,omitempty"`
	// TranscriptError is set only while Status is StatusFailed.
	TranscriptError string `json:"transcriptError,omitempty"`

	// Uploaded transitions false->true once the compiled form is stored and
	// never back.
	Uploaded     bool   `json:"uploaded"`
	CompiledForm []byte `json:"compiledForm,omitempty"`

	Audio []byte `json:"-"`
}

// SetTranscript moves the recording into the transcribed state, clearing any
// previous failure.
func (r *Recording) SetTranscript(text string) {
	r.Status = StatusTranscribed
	r.Transcript = text
	r.TranscriptError = ""
}

// SetTranscriptError moves the recording into the failed state. The
// transcript stays unset so the two can never coexist.
func (r *Recording) SetTranscriptError(msg string) {
	r.Status = StatusFailed
	r.Transcript = ""
	r.TranscriptError = msg
}

// ResetTranscription returns a failed recording to pending so it can be
// retried.
func (r *Recording) ResetTranscription() {
	r.Status = StatusPending
	r.Transcript = ""
	r.TranscriptError = ""
}

// EditTranscript overwrites the transcript text. It is rejected once the
// recording has been uploaded or while no transcript exists.
func (r *Recording) EditTranscript(text string) error {
	if r.Uploaded {
		return ErrRecordingLocked
	}
	if r.Status != StatusTranscribed {
		return ErrEmptyTranscript
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyTranscript
	}
	r.Transcript = text
	return nil
}

// SetCompiledForm stores the compile result and locks the recording. The
// uploaded flag is one-way.
func (r *Recording) SetCompiledForm(form []byte) error {
	if r.Uploaded {
		return ErrRecordingLocked
	}
	if r.Status != StatusTranscribed || r.Transcript == "" {
		return ErrEmptyTranscript
	}
	r.CompiledForm = form
	r.Uploaded = true
	return nil
}
