// Package worker runs transcription tasks from the asynq queue.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"voxform/internal/pipeline"
	"voxform/internal/queue"
)

// Processor is plugged into the asynq worker loop. The actual transcription
// step is the orchestrator's; the processor only decodes payloads.
type Processor struct {
	orch   *pipeline.Orchestrator
	logger *zap.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(orch *pipeline.Orchestrator, logger *zap.Logger) *Processor {
	return &Processor{orch: orch, logger: logger}
}

// Handler registers the transcribe job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TranscribeRecordingTask, p.handleTranscribe)
	return mux
}

func (p *Processor) handleTranscribe(ctx context.Context, task *asynq.Task) error {
	var payload queue.TranscribePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := p.orch.TranscribeOnce(ctx, payload.RecordingID); err != nil {
		// Failures are persisted on the record with a user-facing retry;
		// the task itself is done.
		p.logger.Warn("transcribe task failed",
			zap.String("id", payload.RecordingID), zap.Error(err))
	}
	return nil
}
