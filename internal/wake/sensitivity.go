// Package wake decides when the wake phrase has been spoken. A
// SensitivityModel turns the user's sensitivity knob into a detection
// threshold, and a Detector compares an opaque Scorer's confidence against
// that threshold, one frame at a time.
package wake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
)

// ErrInvalidLevel is returned for sensitivity levels outside [0, 1].
var ErrInvalidLevel = errors.New("wake: sensitivity level out of range [0, 1]")

const (
	baseThreshold = 0.5
	minThreshold  = 0.1
	maxThreshold  = 1.0

	calibrateStep     = 0.1
	calibrateMinLevel = 0.1
	calibrateMaxLevel = 0.9

	// false-trigger rate bounds for Calibrate
	tooSensitiveRate   = 0.2
	tooInsensitiveRate = 0.05
)

// Threshold maps a sensitivity level and an ambient noise estimate (0-100)
// to a detection threshold in [0.1, 1.0]. Higher sensitivity and quieter
// rooms give lower thresholds.
func Threshold(level, ambientNoise float64) float64 {
	noise := clamp(ambientNoise/100, 0, 1)
	return clamp(baseThreshold*(1+noise)*(2-level), minThreshold, maxThreshold)
}

// ValidLevel reports whether level is a usable sensitivity.
func ValidLevel(level float64) bool {
	return level >= 0 && level <= 1 && !math.IsNaN(level)
}

// LevelFromScale normalises a 1-10 sensitivity setting onto [0, 1].
func LevelFromScale(n int) (float64, error) {
	if n < 1 || n > 10 {
		return 0, fmt.Errorf("%w: scale value %d not in 1-10", ErrInvalidLevel, n)
	}
	return float64(n-1) / 9, nil
}

// LevelStore persists the sensitivity level.
type LevelStore interface {
	// LoadSensitivity returns the stored level and whether one was stored.
	LoadSensitivity(ctx context.Context) (float64, bool, error)
	SaveSensitivity(ctx context.Context, level float64) error
}

// Snapshot is one consistent (level, noise, threshold) triple.
type Snapshot struct {
	Level        float64
	AmbientNoise float64
	Threshold    float64
}

// SensitivityModel holds the current level and its derived threshold.
// Readers take a Snapshot without locking; writers are serialised and swap a
// whole new Snapshot, so a reader never pairs a threshold with the wrong
// level. Store I/O happens outside the writer lock, so a slow store never
// holds up SetAmbientNoise on the detection loop.
type SensitivityModel struct {
	mu     sync.Mutex // serialises snapshot swaps
	saveMu sync.Mutex // serialises store I/O
	snap   atomic.Pointer[Snapshot]
	store  LevelStore
	log    *slog.Logger

	// OnChange, if set, is called with every new snapshot while the writer
	// lock is held.
	OnChange func(Snapshot)
}

// NewSensitivityModel starts at level without touching the store. store
// may be nil for an in-memory model.
func NewSensitivityModel(level float64, store LevelStore, log *slog.Logger) (*SensitivityModel, error) {
	if !ValidLevel(level) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLevel, level)
	}
	if log == nil {
		log = slog.Default()
	}
	m := &SensitivityModel{store: store, log: log}
	m.snap.Store(&Snapshot{Level: level, Threshold: Threshold(level, 0)})
	return m, nil
}

// Load replaces the current level with the stored one. When the store is
// empty the current level is written to it. An invalid stored level is
// reported and ignored.
func (m *SensitivityModel) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	level, ok, err := m.store.LoadSensitivity(ctx)
	if err != nil {
		return fmt.Errorf("wake: load sensitivity: %w", err)
	}
	if !ok {
		if err := m.store.SaveSensitivity(ctx, m.snap.Load().Level); err != nil {
			return fmt.Errorf("wake: seed sensitivity: %w", err)
		}
		return nil
	}
	if !ValidLevel(level) {
		return fmt.Errorf("%w: stored value %v", ErrInvalidLevel, level)
	}

	m.mu.Lock()
	m.swap(level, m.snap.Load().AmbientNoise)
	threshold := m.snap.Load().Threshold
	m.mu.Unlock()

	m.log.Info("sensitivity loaded", "level", level, "threshold", threshold)
	return nil
}

// Snapshot returns the current level and threshold.
func (m *SensitivityModel) Snapshot() Snapshot {
	return *m.snap.Load()
}

// UpdateLevel validates level, swaps in the new threshold and persists it.
// A persistence failure is returned but the in-memory update stands.
func (m *SensitivityModel) UpdateLevel(ctx context.Context, level float64) error {
	if !ValidLevel(level) {
		return fmt.Errorf("%w: %v", ErrInvalidLevel, level)
	}
	m.mu.Lock()
	m.swap(level, m.snap.Load().AmbientNoise)
	m.mu.Unlock()
	return m.persist(ctx)
}

// Adjust moves the level by delta, bounded to [0, 1].
func (m *SensitivityModel) Adjust(ctx context.Context, delta float64) (float64, error) {
	m.mu.Lock()
	cur := m.snap.Load()
	level := round3(clamp(cur.Level+delta, 0, 1))
	m.swap(level, cur.AmbientNoise)
	m.mu.Unlock()
	return level, m.persist(ctx)
}

// Calibrate nudges the level from an observed false-trigger rate: above 0.2
// it drops by 0.1 (not below 0.1), below 0.05 it rises by 0.1 (not above
// 0.9), otherwise nothing changes.
func (m *SensitivityModel) Calibrate(ctx context.Context, falseTriggerRate float64) error {
	if math.IsNaN(falseTriggerRate) || falseTriggerRate < 0 || falseTriggerRate > 1 {
		return fmt.Errorf("wake: false trigger rate %v not in [0, 1]", falseTriggerRate)
	}

	m.mu.Lock()
	cur := m.snap.Load()
	var next float64
	switch {
	case falseTriggerRate > tooSensitiveRate:
		next = math.Max(calibrateMinLevel, cur.Level-calibrateStep)
	case falseTriggerRate < tooInsensitiveRate:
		next = math.Min(calibrateMaxLevel, cur.Level+calibrateStep)
	default:
		m.mu.Unlock()
		return nil
	}
	next = round3(next)
	m.swap(next, cur.AmbientNoise)
	m.mu.Unlock()

	m.log.Info("calibrating sensitivity", "false_trigger_rate", falseTriggerRate, "from", cur.Level, "to", next)
	return m.persist(ctx)
}

// SetAmbientNoise recomputes the threshold for the current level under a
// new noise estimate. Noise is not persisted.
func (m *SensitivityModel) SetAmbientNoise(noise float64) {
	noise = clamp(noise, 0, 100)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.swap(m.snap.Load().Level, noise)
}

// persist writes the level current at the time the store is reached, so
// concurrent writers leave the store holding the latest level.
func (m *SensitivityModel) persist(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	if err := m.store.SaveSensitivity(ctx, m.snap.Load().Level); err != nil {
		return fmt.Errorf("wake: save sensitivity: %w", err)
	}
	return nil
}

func (m *SensitivityModel) swap(level, noise float64) {
	s := &Snapshot{Level: level, AmbientNoise: noise, Threshold: Threshold(level, noise)}
	m.snap.Store(s)
	if m.OnChange != nil {
		m.OnChange(*s)
	}
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}
