package maui

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// Mock substitutes the remote service when no MAUI base URL is configured.
// Transcription and compilation degrade to logged mock results rather than
// hard failures, which keeps the rest of the pipeline exercisable offline.
type Mock struct {
	logger *zap.Logger
}

// NewMock constructs the mock processor.
func NewMock(logger *zap.Logger) *Mock {
	return &Mock{logger: logger}
}

// Transcribe returns a canned transcript sized to the payload.
func (m *Mock) Transcribe(ctx context.Context, audio []byte, contentType, lang string, creds Credentials) (*Transcription, error) {
	m.logger.Warn("maui url not configured, using mock transcription",
		zap.Int("bytes", len(audio)), zap.String("lang", lang))
	return &Transcription{
		Text:     fmt.Sprintf("[mock transcript of %d audio bytes]", len(audio)),
		Duration: float64(len(audio)) / 16000,
		Language: lang,
	}, nil
}

// CompileForm echoes the transcript back as a single-field compiled form.
func (m *Mock) CompileForm(ctx context.Context, req CompileRequest, creds Credentials) (json.RawMessage, error) {
	m.logger.Warn("maui url not configured, using mock form compilation",
		zap.String("schema", req.FormSchemaName))
	out, err := json.Marshal([]map[string]string{{"transcript": req.TranscribedAudio}})
	if err != nil {
		return nil, err
	}
	return out, nil
}
