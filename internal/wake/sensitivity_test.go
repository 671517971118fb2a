package wake

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

type memLevelStore struct {
	mu    sync.Mutex
	level float64
	ok    bool
	saves int
	err   error
}

func (s *memLevelStore) LoadSensitivity(context.Context) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level, s.ok, nil
}

func (s *memLevelStore) SaveSensitivity(_ context.Context, level float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.level, s.ok = level, true
	s.saves++
	return nil
}

func TestThreshold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		level, noise float64
		want         float64
	}{
		{"max sensitivity quiet", 1, 0, 0.5},
		{"min sensitivity quiet", 0, 0, 1.0},
		{"max sensitivity loud", 1, 100, 1.0},
		{"noise above scale clamps", 1, 500, 1.0},
		{"negative noise clamps", 1, -20, 0.5},
		{"half noise", 1, 50, 0.75},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Threshold(tc.level, tc.noise); math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("Threshold(%v, %v) = %v, want %v", tc.level, tc.noise, got, tc.want)
			}
		})
	}
}

func TestThreshold_Bounds(t *testing.T) {
	t.Parallel()

	for level := 0.0; level <= 1.0; level += 0.05 {
		for noise := 0.0; noise <= 100; noise += 5 {
			th := Threshold(level, noise)
			if th < 0.1 || th > 1.0 {
				t.Fatalf("Threshold(%v, %v) = %v out of [0.1, 1]", level, noise, th)
			}
		}
	}
}

func TestLevelFromScale(t *testing.T) {
	t.Parallel()

	if got, _ := LevelFromScale(1); got != 0 {
		t.Errorf("scale 1 = %v, want 0", got)
	}
	if got, _ := LevelFromScale(10); got != 1 {
		t.Errorf("scale 10 = %v, want 1", got)
	}
	if _, err := LevelFromScale(11); !errors.Is(err, ErrInvalidLevel) {
		t.Errorf("scale 11 err = %v, want ErrInvalidLevel", err)
	}
}

func TestUpdateLevel(t *testing.T) {
	t.Parallel()

	store := &memLevelStore{}
	m, err := NewSensitivityModel(0.5, store, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := m.UpdateLevel(context.Background(), 1); err != nil {
		t.Fatalf("UpdateLevel: %v", err)
	}
	snap := m.Snapshot()
	if snap.Level != 1 || snap.Threshold != 0.5 {
		t.Errorf("snapshot = %+v, want level 1 threshold 0.5", snap)
	}
	if store.level != 1 {
		t.Errorf("persisted level = %v, want 1", store.level)
	}

	for _, bad := range []float64{-0.1, 1.1, math.NaN()} {
		if err := m.UpdateLevel(context.Background(), bad); !errors.Is(err, ErrInvalidLevel) {
			t.Errorf("UpdateLevel(%v) err = %v, want ErrInvalidLevel", bad, err)
		}
	}
	if got := m.Snapshot().Level; got != 1 {
		t.Errorf("level after rejected updates = %v, want 1", got)
	}
}

func TestUpdateLevel_StoreFailureKeepsInMemoryValue(t *testing.T) {
	t.Parallel()

	store := &memLevelStore{err: errors.New("disk full")}
	m, _ := NewSensitivityModel(0.5, store, nil)

	if err := m.UpdateLevel(context.Background(), 0); err == nil {
		t.Fatal("expected persistence error")
	}
	if got := m.Snapshot().Level; got != 0 {
		t.Errorf("level = %v, want 0", got)
	}
}

func TestCalibrate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		level float64
		rate  float64
		want  float64
	}{
		{"too many false triggers", 0.5, 0.3, 0.4},
		{"too few", 0.5, 0.01, 0.6},
		{"in band", 0.5, 0.1, 0.5},
		{"floor", 0.15, 0.3, 0.1},
		{"already below floor stays at floor", 0.05, 0.5, 0.1},
		{"ceiling", 0.85, 0.0, 0.9},
		{"above ceiling pulled to ceiling", 0.95, 0.0, 0.9},
		{"boundary 0.2 is in band", 0.5, 0.2, 0.5},
		{"boundary 0.05 is in band", 0.5, 0.05, 0.5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m, _ := NewSensitivityModel(tc.level, nil, nil)
			if err := m.Calibrate(context.Background(), tc.rate); err != nil {
				t.Fatalf("Calibrate: %v", err)
			}
			if got := m.Snapshot().Level; math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("level = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCalibrate_RejectsBadRate(t *testing.T) {
	t.Parallel()

	m, _ := NewSensitivityModel(0.5, nil, nil)
	if err := m.Calibrate(context.Background(), 1.5); err == nil {
		t.Error("expected error for rate 1.5")
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	t.Run("seeds empty store", func(t *testing.T) {
		t.Parallel()
		store := &memLevelStore{}
		m, _ := NewSensitivityModel(0.7, store, nil)
		if err := m.Load(context.Background()); err != nil {
			t.Fatal(err)
		}
		if !store.ok || store.level != 0.7 {
			t.Errorf("store = %+v, want seeded 0.7", store)
		}
	})

	t.Run("uses stored level", func(t *testing.T) {
		t.Parallel()
		store := &memLevelStore{level: 1, ok: true}
		m, _ := NewSensitivityModel(0.7, store, nil)
		if err := m.Load(context.Background()); err != nil {
			t.Fatal(err)
		}
		if got := m.Snapshot(); got.Level != 1 || got.Threshold != 0.5 {
			t.Errorf("snapshot = %+v", got)
		}
	})

	t.Run("rejects corrupt level", func(t *testing.T) {
		t.Parallel()
		store := &memLevelStore{level: 3, ok: true}
		m, _ := NewSensitivityModel(0.7, store, nil)
		if err := m.Load(context.Background()); !errors.Is(err, ErrInvalidLevel) {
			t.Errorf("err = %v, want ErrInvalidLevel", err)
		}
		if got := m.Snapshot().Level; got != 0.7 {
			t.Errorf("level = %v, want 0.7", got)
		}
	})
}

func TestSnapshot_ConsistentUnderConcurrentWrites(t *testing.T) {
	t.Parallel()

	m, _ := NewSensitivityModel(0.5, nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; ; j++ {
				select {
				case <-stop:
					return
				default:
				}
				_ = m.UpdateLevel(ctx, float64((i+j)%11)/10)
				m.SetAmbientNoise(float64(j % 100))
			}
		}()
	}

	for range 20000 {
		s := m.Snapshot()
		if want := Threshold(s.Level, s.AmbientNoise); s.Threshold != want {
			close(stop)
			wg.Wait()
			t.Fatalf("torn snapshot %+v, threshold should be %v", s, want)
		}
	}
	close(stop)
	wg.Wait()
}

// slowLevelStore blocks every save until release is closed.
type slowLevelStore struct {
	entered chan struct{}
	release chan struct{}

	mu     sync.Mutex
	levels []float64
}

func newSlowLevelStore() *slowLevelStore {
	return &slowLevelStore{entered: make(chan struct{}, 8), release: make(chan struct{})}
}

func (s *slowLevelStore) LoadSensitivity(context.Context) (float64, bool, error) {
	return 0, false, nil
}

func (s *slowLevelStore) SaveSensitivity(ctx context.Context, level float64) error {
	s.entered <- struct{}{}
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels = append(s.levels, level)
	return nil
}

func TestSlowStoreDoesNotBlockReadersOrNoise(t *testing.T) {
	t.Parallel()

	store := newSlowLevelStore()
	m, _ := NewSensitivityModel(0.5, store, nil)
	tracker := NewNoiseTracker(m, 1, 0)

	updated := make(chan error, 1)
	go func() { updated <- m.UpdateLevel(context.Background(), 0.7) }()
	<-store.entered

	done := make(chan Snapshot, 1)
	go func() {
		tracker.Observe(constFrame(0.05, 256))
		done <- m.Snapshot()
	}()
	select {
	case s := <-done:
		if s.Level != 0.7 || math.Abs(s.AmbientNoise-50) > 1e-3 {
			t.Errorf("snapshot = %+v, want level 0.7 with noise 50", s)
		}
	case <-time.After(time.Second):
		t.Fatal("noise update waited on a pending store write")
	}

	close(store.release)
	if err := <-updated; err != nil {
		t.Fatal(err)
	}
}

func TestConcurrentWritersPersistLatestLevel(t *testing.T) {
	t.Parallel()

	store := newSlowLevelStore()
	m, _ := NewSensitivityModel(0.5, store, nil)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() { first <- m.UpdateLevel(ctx, 0.6) }()
	<-store.entered

	second := make(chan error, 1)
	go func() { second <- m.UpdateLevel(ctx, 0.8) }()

	deadline := time.Now().Add(time.Second)
	for m.Snapshot().Level != 0.8 {
		if time.Now().After(deadline) {
			t.Fatal("second update never swapped in")
		}
		time.Sleep(time.Millisecond)
	}

	close(store.release)
	if err := errors.Join(<-first, <-second); err != nil {
		t.Fatal(err)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if got := store.levels[len(store.levels)-1]; got != 0.8 {
		t.Errorf("stored levels = %v, last should be 0.8", store.levels)
	}
}
