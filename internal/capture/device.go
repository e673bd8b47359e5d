package capture

import (
	"context"
	"errors"
	"io"
)

// ErrPermissionDenied is returned by devices that refuse acquisition.
var ErrPermissionDenied = errors.New("audio device permission denied")

// Device grants exclusive access to an audio input. Acquire returns a handle
// that must be closed exactly once per session, on every exit path.
type Device interface {
	Acquire(ctx context.Context) (io.Closer, error)
}

// DeviceFunc adapts a function to the Device interface.
type DeviceFunc func(ctx context.Context) (io.Closer, error)

// Acquire implements Device.
func (f DeviceFunc) Acquire(ctx context.Context) (io.Closer, error) {
	return f(ctx)
}

type nopHandle struct{}

func (nopHandle) Close() error { return nil }

// VirtualDevice always grants access. It stands in for the microphone when
// audio chunks arrive from a remote client or a file; the exclusivity rules
// still apply because the controller holds a single handle.
type VirtualDevice struct{}

// Acquire implements Device.
func (VirtualDevice) Acquire(ctx context.Context) (io.Closer, error) {
	return nopHandle{}, nil
}
