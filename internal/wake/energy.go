package wake

import (
	"math"
	"sync"

	"voxwake/internal/audio"
	"voxwake/pkg/audioconv"
)

// EnergyScorer scores frames by loudness: RMS*Gain clipped to [0, 1]. It is
// a stand-in for a real keyword model, useful for push-to-talk style setups
// and for exercising the pipeline.
type EnergyScorer struct {
	Gain float64
}

func (s EnergyScorer) Score(samples []float32) (float64, error) {
	gain := s.Gain
	if gain <= 0 {
		gain = 1
	}
	return clamp(audioconv.RMS(samples)*gain, 0, 1), nil
}

// noiseCeilingRMS is the RMS treated as 100% ambient noise.
const noiseCeilingRMS = 0.1

// NoiseTracker keeps an exponential moving average of the RMS of frames
// that did not trigger, and pushes it to the model as an ambient noise
// percentage whenever it moves by more than Hysteresis points.
type NoiseTracker struct {
	model      *SensitivityModel
	alpha      float64
	hysteresis float64

	mu        sync.Mutex
	level     float64
	published float64
	primed    bool
}

// NewNoiseTracker smooths with the given alpha in (0, 1].
func NewNoiseTracker(model *SensitivityModel, alpha, hysteresis float64) *NoiseTracker {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.05
	}
	return &NoiseTracker{model: model, alpha: alpha, hysteresis: hysteresis}
}

// Observe folds one quiet frame into the estimate.
func (t *NoiseTracker) Observe(f audio.Frame) {
	pct := clamp(audioconv.RMS(f.Samples)/noiseCeilingRMS*100, 0, 100)

	t.mu.Lock()
	if !t.primed {
		t.level, t.primed = pct, true
	} else {
		t.level += t.alpha * (pct - t.level)
	}
	level := t.level
	publish := math.Abs(level-t.published) > t.hysteresis
	if publish {
		t.published = level
	}
	t.mu.Unlock()

	if publish {
		t.model.SetAmbientNoise(level)
	}
}

// Level is the current smoothed noise percentage.
func (t *NoiseTracker) Level() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.level
}
