// Package store persists the assistant's state: the wake word sensitivity,
// notification settings and the command history. PostgreSQL is the primary
// backend; a JSON file serves single-machine setups without a database.
package store

import (
	"context"
	"errors"
	"time"

	"voxwake/internal/notify"
	"voxwake/internal/wake"
)

// HistoryEntry is one executed command.
type HistoryEntry struct {
	ID         int64         `json:"id"`
	Command    string        `json:"command"`
	Intent     string        `json:"intent"`
	Success    bool          `json:"success"`
	Confidence float64       `json:"confidence"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	ExecutedAt time.Time     `json:"executed_at"`
}

// Stats summarises the command history. SuccessRate is a percentage.
type Stats struct {
	Total       int64   `json:"total"`
	Successful  int64   `json:"successful"`
	Failed      int64   `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

func newStats(total, ok int64) Stats {
	s := Stats{Total: total, Successful: ok, Failed: total - ok}
	if total > 0 {
		s.SuccessRate = float64(ok) / float64(total) * 100
	}
	return s
}

// HistoryStore records executed commands.
type HistoryStore interface {
	LogCommand(ctx context.Context, e HistoryEntry) error
	// RecentCommands returns up to limit entries, newest first.
	RecentCommands(ctx context.Context, limit int) ([]HistoryEntry, error)
	// CleanupOlderThan deletes entries executed more than age ago and
	// reports how many were removed.
	CleanupOlderThan(ctx context.Context, age time.Duration) (int64, error)
	Stats(ctx context.Context) (Stats, error)
}

// Store is everything the daemon persists.
type Store interface {
	wake.LevelStore
	notify.PreferencesStore
	HistoryStore
	Close() error
}

var ErrUnknownDriver = errors.New("store: unknown driver")

const defaultRecentLimit = 10

func normaliseLimit(limit int) int {
	if limit <= 0 {
		return defaultRecentLimit
	}
	return min(limit, 1000)
}
