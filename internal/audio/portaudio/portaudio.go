// Package portaudio implements audio.Source on top of the PortAudio C
// library. It is kept apart from package audio so that code which only needs
// the frame contract does not link against libportaudio.
package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"voxwake/internal/audio"
)

// Source opens input streams on a PortAudio device. Init must be called once
// before Open and Terminate once at shutdown.
type Source struct {
	// Device selects an input device by name. Empty means the system default.
	Device string
	Log    *slog.Logger

	lock audio.DeviceLock
}

func NewSource(device string, log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	return &Source{Device: device, Log: log}
}

func (s *Source) Init() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: initialize portaudio: %w", audio.ErrDeviceUnavailable, err)
	}
	return nil
}

func (s *Source) Terminate() error {
	return portaudio.Terminate()
}

// Open acquires the device and starts a stream in the requested format.
func (s *Source) Open(f audio.Format) (audio.Stream, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
	}

	dev, err := s.findDevice()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
	}
	if dev.MaxInputChannels < f.Channels {
		return nil, fmt.Errorf("%w: %q has %d input channels, need %d",
			audio.ErrDeviceUnavailable, dev.Name, dev.MaxInputChannels, f.Channels)
	}
	if !s.lock.Acquire(dev.Name) {
		return nil, fmt.Errorf("%w: %q is already open", audio.ErrDeviceUnavailable, dev.Name)
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = f.Channels
	params.SampleRate = float64(f.SampleRate)
	params.FramesPerBuffer = f.FrameSize

	st := &stream{
		format: f,
		device: dev.Name,
		source: s,
		frames: make(chan audio.Frame, 1),
		failed: make(chan error, 1),
		done:   make(chan struct{}),
	}

	n := f.FrameSize * f.Channels
	var buf any
	if f.Encoding == audio.EncodingInt16 {
		st.i16 = make([]int16, n)
		buf = st.i16
	} else {
		st.f32 = make([]float32, n)
		buf = st.f32
	}

	if err := portaudio.IsFormatSupported(params, buf); err != nil {
		s.lock.Release(dev.Name)
		return nil, fmt.Errorf("%w: format %+v: %w", audio.ErrDeviceUnavailable, f, err)
	}
	pa, err := portaudio.OpenStream(params, buf)
	if err != nil {
		s.lock.Release(dev.Name)
		return nil, fmt.Errorf("%w: open stream: %w", audio.ErrDeviceUnavailable, err)
	}
	if err := pa.Start(); err != nil {
		pa.Close()
		s.lock.Release(dev.Name)
		return nil, fmt.Errorf("%w: start stream: %w", audio.ErrDeviceUnavailable, err)
	}
	st.pa = pa

	s.Log.Info("capture stream opened", "device", dev.Name,
		"sample_rate", f.SampleRate, "channels", f.Channels, "frame_size", f.FrameSize)

	st.wg.Add(1)
	go st.read()
	return st, nil
}

func (s *Source) findDevice() (*portaudio.DeviceInfo, error) {
	if s.Device == "" {
		return portaudio.DefaultInputDevice()
	}
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devs {
		if d.Name == s.Device && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no input device named %q", s.Device)
}

// stream runs the blocking PortAudio read on its own goroutine so that
// ReadFrame can honour a timeout and Close can interrupt it.
type stream struct {
	format audio.Format
	device string
	source *Source
	pa     *portaudio.Stream
	i16    []int16
	f32    []float32

	frames chan audio.Frame
	failed chan error
	done   chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

func (s *stream) Format() audio.Format { return s.format }

func (s *stream) read() {
	defer s.wg.Done()
	var seq uint64
	for {
		err := s.pa.Read()
		select {
		case <-s.done:
			return
		default:
		}
		if err != nil && !errors.Is(err, portaudio.InputOverflowed) {
			s.failed <- fmt.Errorf("portaudio read on %q: %w", s.device, err)
			return
		}
		if err != nil {
			s.source.Log.Debug("input overflowed", "device", s.device)
		}

		seq++
		f := audio.Frame{Seq: seq, CapturedAt: time.Now(), Samples: s.snapshot()}
		select {
		case s.frames <- f:
		case <-s.done:
			return
		}
	}
}

func (s *stream) snapshot() []float32 {
	if s.i16 != nil {
		out := make([]float32, len(s.i16))
		for i, v := range s.i16 {
			out[i] = float32(v) / 32768
		}
		return out
	}
	out := make([]float32, len(s.f32))
	copy(out, s.f32)
	return out
}

func (s *stream) ReadFrame(timeout time.Duration) (audio.Frame, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case f := <-s.frames:
		return f, nil
	case err := <-s.failed:
		return audio.Frame{}, err
	case <-s.done:
		return audio.Frame{}, audio.ErrStreamClosed
	case <-t.C:
		return audio.Frame{}, audio.ErrTimeout
	}
}

// Close aborts the stream, which unblocks the reader, then releases the
// device.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		abortErr := s.pa.Abort()
		s.wg.Wait()
		s.closeErr = errors.Join(abortErr, s.pa.Close())
		s.source.lock.Release(s.device)
		s.source.Log.Info("capture stream closed", "device", s.device)
	})
	return s.closeErr
}
