// Package audio defines the capture side of the pipeline: the frame type
// produced by a capture device, the Source/Stream contract devices implement,
// and the bounded FrameChannel that decouples capture from detection.
package audio

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// SampleEncoding is the on-device sample format. Frames always carry float32
// regardless of the device encoding.
type SampleEncoding string

const (
	EncodingInt16   SampleEncoding = "int16"
	EncodingFloat32 SampleEncoding = "float32"
)

// IsValid reports whether e is a supported encoding.
func (e SampleEncoding) IsValid() bool {
	return e == EncodingInt16 || e == EncodingFloat32
}

// Format describes the shape of a capture stream.
type Format struct {
	SampleRate int
	Channels   int
	// FrameSize is the number of samples per channel in one frame.
	FrameSize int
	Encoding  SampleEncoding
}

// DefaultFormat is 16 kHz mono float32 in 1024-sample frames.
var DefaultFormat = Format{
	SampleRate: 16000,
	Channels:   1,
	FrameSize:  1024,
	Encoding:   EncodingFloat32,
}

// Validate reports an error for non-positive dimensions or an unknown encoding.
func (f Format) Validate() error {
	var errs []error
	if f.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate %d must be positive", f.SampleRate))
	}
	if f.Channels <= 0 {
		errs = append(errs, fmt.Errorf("channels %d must be positive", f.Channels))
	}
	if f.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("frame size %d must be positive", f.FrameSize))
	}
	if !f.Encoding.IsValid() {
		errs = append(errs, fmt.Errorf("unknown sample encoding %q", f.Encoding))
	}
	return errors.Join(errs...)
}

// FrameDuration is the wall-clock length of one full frame.
func (f Format) FrameDuration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(f.FrameSize) / float64(f.SampleRate) * float64(time.Second))
}

// FramesPerSecond rounds up so that a channel of this capacity holds at
// least one second of audio.
func (f Format) FramesPerSecond() int {
	if f.FrameSize <= 0 {
		return 0
	}
	return int(math.Ceil(float64(f.SampleRate) / float64(f.FrameSize)))
}

// Frame is one chunk of interleaved PCM as delivered by a device. Frames are
// never mutated after creation; consumers that need to modify samples copy.
type Frame struct {
	// Seq is monotonic within a capture session, starting at 1.
	Seq        uint64
	CapturedAt time.Time
	Samples    []float32
}

// Len is the number of interleaved samples in the frame.
func (f Frame) Len() int { return len(f.Samples) }
