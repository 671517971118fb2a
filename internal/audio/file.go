package audio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"voxwake/pkg/audioconv"
)

// SampleSource replays a fixed buffer of mono samples as a capture device.
// It backs --replay runs and tests that need a deterministic microphone.
type SampleSource struct {
	Samples []float32
	// Realtime paces frames at the capture rate instead of as fast as the
	// reader asks for them.
	Realtime bool
	// Loop restarts from the beginning at the end of the buffer. Without it
	// the stream goes quiet and every ReadFrame times out.
	Loop bool

	lock DeviceLock
}

// NewFileSource decodes path (wav, mp3, ogg) at the given sample rate.
func NewFileSource(ctx context.Context, path string, sampleRate int) (*SampleSource, error) {
	x, err := audioconv.DecodeFile(ctx, path, audioconv.Options{SampleRate: sampleRate})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	return &SampleSource{Samples: x, Realtime: true}, nil
}

// Open returns a stream over the buffer. Only mono formats are supported and
// only one stream may be open at a time.
func (s *SampleSource) Open(f Format) (Stream, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	if f.Channels != 1 {
		return nil, fmt.Errorf("%w: replay supports mono only, got %d channels", ErrDeviceUnavailable, f.Channels)
	}
	if !s.lock.Acquire("replay") {
		return nil, fmt.Errorf("%w: replay stream already open", ErrDeviceUnavailable)
	}
	return &sampleStream{
		src:    s,
		format: f,
		done:   make(chan struct{}),
	}, nil
}

type sampleStream struct {
	src    *SampleSource
	format Format
	pos    int
	seq    uint64
	next   time.Time

	done      chan struct{}
	closeOnce sync.Once
}

func (s *sampleStream) Format() Format { return s.format }

func (s *sampleStream) ReadFrame(timeout time.Duration) (Frame, error) {
	select {
	case <-s.done:
		return Frame{}, ErrStreamClosed
	default:
	}

	if s.pos >= len(s.src.Samples) {
		if !s.src.Loop || len(s.src.Samples) == 0 {
			return Frame{}, s.idle(timeout)
		}
		s.pos = 0
	}

	if s.src.Realtime {
		if s.next.IsZero() {
			s.next = time.Now()
		}
		if wait := time.Until(s.next); wait > 0 {
			if wait > timeout {
				return Frame{}, s.idle(timeout)
			}
			if err := s.idle(wait); err == ErrStreamClosed {
				return Frame{}, err
			}
		}
		s.next = s.next.Add(s.format.FrameDuration())
	}

	end := min(s.pos+s.format.FrameSize, len(s.src.Samples))
	samples := make([]float32, end-s.pos)
	copy(samples, s.src.Samples[s.pos:end])
	s.pos = end
	s.seq++

	return Frame{Seq: s.seq, CapturedAt: time.Now(), Samples: samples}, nil
}

func (s *sampleStream) idle(d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.done:
		return ErrStreamClosed
	case <-t.C:
		return ErrTimeout
	}
}

func (s *sampleStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.src.lock.Release("replay")
	})
	return nil
}
