package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"voxwake/internal/notify"
)

func TestFileStore_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "voxwake.json")

	s, err := OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.LoadSensitivity(ctx); ok {
		t.Error("fresh store reports a sensitivity")
	}
	if err := s.SaveSensitivity(ctx, 0.65); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveNotificationSettings(ctx, notify.Settings{AudioEnabled: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.LogCommand(ctx, HistoryEntry{Command: "lights on", Intent: "lights", Success: true}); err != nil {
		t.Fatal(err)
	}

	s, err = OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if v, ok, _ := s.LoadSensitivity(ctx); !ok || v != 0.65 {
		t.Errorf("sensitivity = %v ok=%v", v, ok)
	}
	if n, ok, _ := s.LoadNotificationSettings(ctx); !ok || n != (notify.Settings{AudioEnabled: true}) {
		t.Errorf("settings = %+v ok=%v", n, ok)
	}
	hist, _ := s.RecentCommands(ctx, 10)
	if len(hist) != 1 || hist[0].ID != 1 || hist[0].Command != "lights on" {
		t.Errorf("history = %+v", hist)
	}
}

func TestFileStore_History(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, err := OpenFile(filepath.Join(t.TempDir(), "h.json"))
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	entries := []HistoryEntry{
		{Command: "old", Success: false, ExecutedAt: now.Add(-40 * 24 * time.Hour)},
		{Command: "a", Success: true, ExecutedAt: now.Add(-2 * time.Hour)},
		{Command: "b", Success: true, ExecutedAt: now.Add(-time.Hour)},
		{Command: "c", Success: false},
	}
	for _, e := range entries {
		if err := s.LogCommand(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	recent, _ := s.RecentCommands(ctx, 2)
	if len(recent) != 2 || recent[0].Command != "c" || recent[1].Command != "b" {
		t.Errorf("recent = %+v", recent)
	}
	if recent[0].Intent != "unknown" {
		t.Errorf("intent default = %q", recent[0].Intent)
	}

	st, _ := s.Stats(ctx)
	if st.Total != 4 || st.Successful != 2 || st.SuccessRate != 50 {
		t.Errorf("stats = %+v", st)
	}

	n, err := s.CleanupOlderThan(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("removed = %d, want 1", n)
	}
	if st, _ := s.Stats(ctx); st.Total != 3 {
		t.Errorf("total after cleanup = %d", st.Total)
	}
}

func TestStats_Empty(t *testing.T) {
	t.Parallel()

	if got := newStats(0, 0); got.SuccessRate != 0 {
		t.Errorf("empty success rate = %v", got.SuccessRate)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), "sqlite", "", ""); err == nil {
		t.Error("unknown driver accepted")
	}
}
