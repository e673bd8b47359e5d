package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// LocalDispatcher runs transcriptions on in-process goroutines, one at a
// time per recording id. Duplicate dispatches for an id already in flight
// are dropped.
type LocalDispatcher struct {
	run    func(ctx context.Context, id string) error
	logger *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// NewLocalDispatcher wires the dispatcher to the unit of work, normally
// (*Orchestrator).TranscribeOnce.
func NewLocalDispatcher(run func(ctx context.Context, id string) error, logger *zap.Logger) *LocalDispatcher {
	return &LocalDispatcher{
		run:      run,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Dispatch starts the work for id unless it is already running. The work
// itself runs detached from the caller's context: in-flight transcriptions
// outlive the request that triggered them.
func (d *LocalDispatcher) Dispatch(ctx context.Context, id string) error {
	d.mu.Lock()
	if _, busy := d.inflight[id]; busy {
		d.mu.Unlock()
		return nil
	}
	d.inflight[id] = struct{}{}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer func() {
			d.mu.Lock()
			delete(d.inflight, id)
			d.mu.Unlock()
			d.wg.Done()
		}()
		if err := d.run(context.Background(), id); err != nil {
			d.logger.Warn("transcription run failed", zap.String("id", id), zap.Error(err))
		}
	}()
	return nil
}

// Wait blocks until all in-flight work finishes, for shutdown and tests.
func (d *LocalDispatcher) Wait() {
	d.wg.Wait()
}
