package audio

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrDeviceUnavailable is returned by Open when there is no usable input
	// device, the requested format is unsupported, or the device is already
	// open.
	ErrDeviceUnavailable = errors.New("audio: device unavailable")

	// ErrTimeout is returned by ReadFrame when no data arrived in time. It is
	// transient.
	ErrTimeout = errors.New("audio: read timeout")

	// ErrStreamClosed is returned by ReadFrame once Close has been called.
	ErrStreamClosed = errors.New("audio: stream closed")
)

// Source acquires capture streams.
type Source interface {
	Open(f Format) (Stream, error)
}

// Stream is an open capture device. ReadFrame is called from a single
// goroutine; Close may be called from any goroutine, any number of times, and
// unblocks a pending ReadFrame.
//
// Any ReadFrame error other than ErrTimeout and ErrStreamClosed means the
// device is gone.
type Stream interface {
	ReadFrame(timeout time.Duration) (Frame, error)
	Format() Format
	Close() error
}

// DeviceLock guards against two concurrently open streams on the same
// physical device.
type DeviceLock struct {
	mu   sync.Mutex
	held map[string]bool
}

// Acquire claims the device, returning false if it is already held.
func (l *DeviceLock) Acquire(device string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[device] {
		return false
	}
	l.held[device] = true
	return true
}

func (l *DeviceLock) Release(device string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, device)
}
