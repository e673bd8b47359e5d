// Package capture manages the state machine of one audio capture session and
// emits a finished recording into the store.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"voxform/internal/model"
	"voxform/internal/store"
)

// State is the capture session state.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StatePaused    State = "paused"
)

var (
	// ErrEmptyName rejects captures started without a recording name.
	ErrEmptyName = errors.New("recording name is required")
	// ErrSessionActive rejects a start while a session already holds the
	// device.
	ErrSessionActive = errors.New("capture session already active")
	// ErrNoSession rejects operations that need an active session.
	ErrNoSession = errors.New("no active capture session")
	// ErrNotRecording rejects pause while not recording.
	ErrNotRecording = errors.New("capture is not recording")
	// ErrNotPaused rejects resume while not paused.
	ErrNotPaused = errors.New("capture is not paused")
)

// DefaultContentType is used for finalized payloads unless overridden.
const DefaultContentType = "audio/webm"

// Controller owns at most one capture session at a time. The elapsed counter
// advances only while the state is Recording, so the reported duration always
// matches the audio actually captured.
type Controller struct {
	store       store.RecordingStore
	device      Device
	logger      *zap.Logger
	clock       func() time.Time
	onSaved     func(model.Recording)
	contentType string

	mu          sync.Mutex
	state       State
	name        string
	chunks      [][]byte
	handle      io.Closer
	accumulated time.Duration
	resumedAt   time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock injects a time source, used by tests to make durations
// deterministic.
func WithClock(clock func() time.Time) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithOnSaved registers a callback fired after a recording is persisted, so
// dependent views and the transcription pipeline can react.
func WithOnSaved(fn func(model.Recording)) Option {
	return func(c *Controller) { c.onSaved = fn }
}

// WithContentType overrides the payload content type.
func WithContentType(ct string) Option {
	return func(c *Controller) { c.contentType = ct }
}

// NewController constructs an idle controller.
func NewController(recs store.RecordingStore, device Device, logger *zap.Logger, opts ...Option) *Controller {
	c := &Controller{
		store:       recs,
		device:      device,
		logger:      logger,
		clock:       time.Now,
		contentType: DefaultContentType,
		state:       StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start validates the name, acquires the device, and begins accumulating.
// Starting while a session is active fails without disturbing that session.
func (c *Controller) Start(ctx context.Context, name string) error {
	if isBlank(name) {
		return ErrEmptyName
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return ErrSessionActive
	}
	handle, err := c.device.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire audio device: %w", err)
	}
	c.handle = handle
	c.name = name
	c.chunks = nil
	c.accumulated = 0
	c.resumedAt = c.clock()
	c.state = StateRecording
	c.logger.Info("capture started", zap.String("name", name))
	return nil
}

// Push appends an audio chunk. Chunks arriving while paused are dropped,
// matching the suspended accumulation of the underlying recorder.
func (c *Controller) Push(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateRecording:
		chunk := make([]byte, len(data))
		copy(chunk, data)
		c.chunks = append(c.chunks, chunk)
		return nil
	case StatePaused:
		return nil
	default:
		return ErrNoSession
	}
}

// Pause freezes the elapsed counter and suspends chunk accumulation.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRecording {
		return ErrNotRecording
	}
	c.accumulated += c.clock().Sub(c.resumedAt)
	c.state = StatePaused
	return nil
}

// Resume restarts counting and accumulation.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePaused {
		return ErrNotPaused
	}
	c.resumedAt = c.clock()
	c.state = StateRecording
	return nil
}

// Stop finalizes the accumulated chunks into one recording, persists it,
// releases the device, and resets to idle. The device is released even when
// persistence fails.
func (c *Controller) Stop(ctx context.Context) (*model.Recording, error) {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return nil, ErrNoSession
	}
	if c.state == StateRecording {
		c.accumulated += c.clock().Sub(c.resumedAt)
	}
	var size int
	for _, chunk := range c.chunks {
		size += len(chunk)
	}
	payload := make([]byte, 0, size)
	for _, chunk := range c.chunks {
		payload = append(payload, chunk...)
	}
	rec := model.Recording{
		ID:          uuid.NewString(),
		Name:        c.name,
		ContentType: c.contentType,
		Duration:    int(c.accumulated.Seconds()),
		Status:      model.StatusPending,
		CreatedAt:   c.clock().UTC(),
		Audio:       payload,
	}
	c.releaseLocked()
	c.resetLocked()
	onSaved := c.onSaved
	c.mu.Unlock()

	if err := c.store.Save(ctx, &rec); err != nil {
		return nil, fmt.Errorf("persist recording: %w", err)
	}
	c.logger.Info("recording saved",
		zap.String("id", rec.ID),
		zap.String("name", rec.Name),
		zap.Int("duration", rec.Duration),
		zap.Int("bytes", len(rec.Audio)))
	if onSaved != nil {
		onSaved(rec)
	}
	return &rec, nil
}

// Abandon discards the session without persisting anything. The device is
// still released exactly once. Abandoning while idle is a no-op.
func (c *Controller) Abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateIdle {
		return
	}
	c.logger.Warn("capture abandoned", zap.String("name", c.name))
	c.releaseLocked()
	c.resetLocked()
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Elapsed returns whole seconds spent in the recording state, paused time
// excluded.
func (c *Controller) Elapsed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.accumulated
	if c.state == StateRecording {
		total += c.clock().Sub(c.resumedAt)
	}
	return int(total.Seconds())
}

// Name returns the user-chosen name of the active session.
func (c *Controller) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

func (c *Controller) releaseLocked() {
	if c.handle == nil {
		return
	}
	if err := c.handle.Close(); err != nil {
		c.logger.Warn("release audio device", zap.Error(err))
	}
	c.handle = nil
}

func (c *Controller) resetLocked() {
	c.state = StateIdle
	c.name = ""
	c.chunks = nil
	c.accumulated = 0
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}
