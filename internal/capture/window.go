// Package capture collects the fixed-length command recording that follows
// a wake word.
package capture

import (
	"math"
	"time"

	"voxwake/internal/audio"
)

// State of a Window.
type State int

const (
	Recording State = iota
	Done
	Cancelled
)

func (s State) String() string {
	switch s {
	case Recording:
		return "recording"
	case Done:
		return "done"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Blob is a finished command recording, handed off by value.
type Blob struct {
	Samples    []float32 // interleaved
	Format     audio.Format
	StartSeq   uint64
	CapturedAt time.Time
	// WakeConfidence is the detector score that opened the window; 1 for a
	// manual trigger.
	WakeConfidence float64
}

// Duration is the audio length of the blob.
func (b Blob) Duration() time.Duration {
	if b.Format.SampleRate <= 0 || b.Format.Channels <= 0 {
		return 0
	}
	perCh := len(b.Samples) / b.Format.Channels
	return time.Duration(float64(perCh) / float64(b.Format.SampleRate) * float64(time.Second))
}

// Window accumulates frames until exactly TargetSamples interleaved samples
// are held. It is owned by a single goroutine.
type Window struct {
	format        audio.Format
	targetFrames  int
	targetSamples int

	state   State
	frames  int
	samples []float32
	start   uint64
	at      time.Time
}

// New sizes a window for duration of audio in format. TargetFrames is
// ceil(duration*rate/frameSize); the sample target is exact so frames of
// any length are accepted.
func New(duration time.Duration, format audio.Format) *Window {
	perCh := int(math.Round(duration.Seconds() * float64(format.SampleRate)))
	target := perCh * format.Channels
	frames := 0
	if format.FrameSize > 0 {
		frames = int(math.Ceil(float64(perCh) / float64(format.FrameSize)))
	}
	return &Window{
		format:        format,
		targetFrames:  frames,
		targetSamples: target,
		samples:       make([]float32, 0, target),
	}
}

func (w *Window) TargetFrames() int    { return w.targetFrames }
func (w *Window) TargetSamples() int   { return w.targetSamples }
func (w *Window) FramesCollected() int { return w.frames }
func (w *Window) State() State         { return w.state }

// Feed appends f and reports whether the window is now complete. Samples
// past the target are discarded. Feeding a finished window is a no-op.
func (w *Window) Feed(f audio.Frame) bool {
	if w.state != Recording {
		return w.state == Done
	}
	if w.frames == 0 {
		w.start = f.Seq
		w.at = f.CapturedAt
	}
	w.frames++

	need := w.targetSamples - len(w.samples)
	s := f.Samples
	if len(s) > need {
		s = s[:need]
	}
	w.samples = append(w.samples, s...)

	if len(w.samples) >= w.targetSamples {
		w.state = Done
		return true
	}
	return false
}

// Blob returns the recording once the window is Done.
func (w *Window) Blob() (Blob, bool) {
	if w.state != Done {
		return Blob{}, false
	}
	return Blob{
		Samples:    w.samples,
		Format:     w.format,
		StartSeq:   w.start,
		CapturedAt: w.at,
	}, true
}

// Cancel discards any partial audio.
func (w *Window) Cancel() {
	if w.state == Recording {
		w.state = Cancelled
		w.samples = nil
	}
}
