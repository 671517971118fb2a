package wake

import (
	"errors"
	"fmt"
	"math"

	"voxwake/internal/audio"
)

// ErrScoring wraps any failure of the acoustic scorer. Callers treat the
// frame as non-triggering.
var ErrScoring = errors.New("wake: scoring failed")

// Scorer rates how likely the audio contains the wake phrase, in [0, 1].
// Scorers may keep whatever window of history they need.
type Scorer interface {
	Score(samples []float32) (float64, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(samples []float32) (float64, error)

func (f ScorerFunc) Score(samples []float32) (float64, error) { return f(samples) }

// Resetter is implemented by scorers that keep history which must be
// discarded after a detection.
type Resetter interface {
	Reset()
}

// ThresholdSource provides a consistent threshold snapshot.
type ThresholdSource interface {
	Snapshot() Snapshot
}

// Result is the outcome of one detection step.
type Result struct {
	Triggered  bool
	Confidence float64
	Threshold  float64
}

// Detector classifies frames. It holds no audio itself.
type Detector struct {
	scorer     Scorer
	thresholds ThresholdSource
}

func NewDetector(scorer Scorer, thresholds ThresholdSource) *Detector {
	return &Detector{scorer: scorer, thresholds: thresholds}
}

// Detect scores the frame and compares against one threshold snapshot.
func (d *Detector) Detect(f audio.Frame) (Result, error) {
	threshold := d.thresholds.Snapshot().Threshold

	score, err := d.scorer.Score(f.Samples)
	if err != nil {
		return Result{Threshold: threshold}, fmt.Errorf("%w: frame %d: %w", ErrScoring, f.Seq, err)
	}
	if score < 0 || score > 1 || math.IsNaN(score) {
		return Result{Threshold: threshold}, fmt.Errorf("%w: frame %d: score %v outside [0, 1]", ErrScoring, f.Seq, score)
	}
	return Result{
		Triggered:  score >= threshold,
		Confidence: score,
		Threshold:  threshold,
	}, nil
}

// Reset clears scorer history, if the scorer keeps any.
func (d *Detector) Reset() {
	if r, ok := d.scorer.(Resetter); ok {
		r.Reset()
	}
}
