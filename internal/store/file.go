package store

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"voxwake/internal/notify"
)

// maxFileHistory caps the history kept in a FileStore.
const maxFileHistory = 5000

type fileData struct {
	Sensitivity   *float64         `json:"sensitivity,omitempty"`
	Notifications *notify.Settings `json:"notifications,omitempty"`
	History       []HistoryEntry   `json:"history"`
	NextID        int64            `json:"next_id"`
}

// FileStore keeps everything in one JSON document, rewritten atomically on
// every change.
type FileStore struct {
	path string
	now  func() time.Time

	mu   sync.Mutex
	data fileData
}

var _ Store = (*FileStore)(nil)

// OpenFile loads path, creating its directory if needed. A missing file is
// an empty store.
func OpenFile(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	s := &FileStore{path: path, now: time.Now}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("store: parse %s: %w", path, err)
	}
	return s, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) LoadSensitivity(context.Context) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.Sensitivity == nil {
		return 0, false, nil
	}
	return *s.data.Sensitivity, true, nil
}

func (s *FileStore) SaveSensitivity(_ context.Context, level float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Sensitivity = &level
	return s.flush()
}

func (s *FileStore) LoadNotificationSettings(context.Context) (notify.Settings, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.Notifications == nil {
		return notify.Settings{}, false, nil
	}
	return *s.data.Notifications, true, nil
}

func (s *FileStore) SaveNotificationSettings(_ context.Context, n notify.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Notifications = &n
	return s.flush()
}

func (s *FileStore) LogCommand(_ context.Context, e HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.NextID++
	e.ID = s.data.NextID
	if e.ExecutedAt.IsZero() {
		e.ExecutedAt = s.now()
	}
	if e.Intent == "" {
		e.Intent = "unknown"
	}
	s.data.History = append(s.data.History, e)
	if over := len(s.data.History) - maxFileHistory; over > 0 {
		s.data.History = slices.Delete(s.data.History, 0, over)
	}
	return s.flush()
}

func (s *FileStore) RecentCommands(_ context.Context, limit int) ([]HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := slices.Clone(s.data.History)
	slices.SortStableFunc(out, func(a, b HistoryEntry) int {
		if c := b.ExecutedAt.Compare(a.ExecutedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if n := normaliseLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *FileStore) CleanupOlderThan(_ context.Context, age time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-age)
	before := len(s.data.History)
	s.data.History = slices.DeleteFunc(s.data.History, func(e HistoryEntry) bool {
		return e.ExecutedAt.Before(cutoff)
	})
	removed := int64(before - len(s.data.History))
	if removed == 0 {
		return 0, nil
	}
	return removed, s.flush()
}

func (s *FileStore) Stats(context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ok int64
	for _, e := range s.data.History {
		if e.Success {
			ok++
		}
	}
	return newStats(int64(len(s.data.History)), ok), nil
}

func (s *FileStore) flush() error {
	raw, err := json.MarshalIndent(&s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("store: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("store: write: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("store: replace %s: %w", s.path, err)
	}
	return nil
}
