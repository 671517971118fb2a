package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"voxwake/internal/notify"
)

// Schema is the DDL applied by Migrate. preferences holds a single row.
const Schema = `
CREATE TABLE IF NOT EXISTS preferences (
    id             SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
    sensitivity    DOUBLE PRECISION,
    audio_enabled  BOOLEAN,
    visual_enabled BOOLEAN,
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS command_history (
    id            BIGSERIAL PRIMARY KEY,
    command       TEXT NOT NULL,
    intent        TEXT NOT NULL DEFAULT 'unknown',
    success       BOOLEAN NOT NULL,
    confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT '',
    duration_ms   BIGINT NOT NULL DEFAULT 0,
    executed_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_command_history_executed_at ON command_history(executed_at);
`

// DB is satisfied by *pgxpool.Pool and *pgx.Conn.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres is a Store backed by PostgreSQL.
type Postgres struct {
	db    DB
	close func()
	now   func() time.Time
}

var _ Store = (*Postgres)(nil)

// NewPostgres wraps an existing connection or pool. The caller owns db.
func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db, close: func() {}, now: time.Now}
}

// OpenPostgres connects a pool to dsn, checks it and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	s := &Postgres{db: pool, close: pool.Close, now: time.Now}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *Postgres) Close() error {
	s.close()
	return nil
}

func (s *Postgres) LoadSensitivity(ctx context.Context) (float64, bool, error) {
	var level *float64
	err := s.db.QueryRow(ctx, `SELECT sensitivity FROM preferences WHERE id = 1`).Scan(&level)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: load sensitivity: %w", err)
	}
	if level == nil {
		return 0, false, nil
	}
	return *level, true, nil
}

func (s *Postgres) SaveSensitivity(ctx context.Context, level float64) error {
	const query = `
		INSERT INTO preferences (id, sensitivity, updated_at) VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET sensitivity = EXCLUDED.sensitivity, updated_at = now()`
	if _, err := s.db.Exec(ctx, query, level); err != nil {
		return fmt.Errorf("store: save sensitivity: %w", err)
	}
	return nil
}

func (s *Postgres) LoadNotificationSettings(ctx context.Context) (notify.Settings, bool, error) {
	var audio, visual *bool
	err := s.db.QueryRow(ctx,
		`SELECT audio_enabled, visual_enabled FROM preferences WHERE id = 1`,
	).Scan(&audio, &visual)
	if errors.Is(err, pgx.ErrNoRows) {
		return notify.Settings{}, false, nil
	}
	if err != nil {
		return notify.Settings{}, false, fmt.Errorf("store: load notification settings: %w", err)
	}
	if audio == nil || visual == nil {
		return notify.Settings{}, false, nil
	}
	return notify.Settings{AudioEnabled: *audio, VisualEnabled: *visual}, true, nil
}

func (s *Postgres) SaveNotificationSettings(ctx context.Context, n notify.Settings) error {
	const query = `
		INSERT INTO preferences (id, audio_enabled, visual_enabled, updated_at) VALUES (1, $1, $2, now())
		ON CONFLICT (id) DO UPDATE SET
			audio_enabled = EXCLUDED.audio_enabled,
			visual_enabled = EXCLUDED.visual_enabled,
			updated_at = now()`
	if _, err := s.db.Exec(ctx, query, n.AudioEnabled, n.VisualEnabled); err != nil {
		return fmt.Errorf("store: save notification settings: %w", err)
	}
	return nil
}

func (s *Postgres) LogCommand(ctx context.Context, e HistoryEntry) error {
	if e.ExecutedAt.IsZero() {
		e.ExecutedAt = s.now()
	}
	if e.Intent == "" {
		e.Intent = "unknown"
	}
	const query = `
		INSERT INTO command_history (command, intent, success, confidence, error_message, duration_ms, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.db.Exec(ctx, query,
		e.Command, e.Intent, e.Success, e.Confidence, e.Error, e.Duration.Milliseconds(), e.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("store: log command: %w", err)
	}
	return nil
}

func (s *Postgres) RecentCommands(ctx context.Context, limit int) ([]HistoryEntry, error) {
	const query = `
		SELECT id, command, intent, success, confidence, error_message, duration_ms, executed_at
		FROM command_history
		ORDER BY executed_at DESC, id DESC
		LIMIT $1`

	rows, err := s.db.Query(ctx, query, normaliseLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("store: recent commands: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var (
			e  HistoryEntry
			ms int64
		)
		if err := rows.Scan(&e.ID, &e.Command, &e.Intent, &e.Success, &e.Confidence, &e.Error, &ms, &e.ExecutedAt); err != nil {
			return nil, fmt.Errorf("store: scan command: %w", err)
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent commands: %w", err)
	}
	return out, nil
}

func (s *Postgres) CleanupOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM command_history WHERE executed_at < $1`, s.now().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("store: cleanup history: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Postgres) Stats(ctx context.Context) (Stats, error) {
	var total, ok int64
	err := s.db.QueryRow(ctx,
		`SELECT count(*), count(*) FILTER (WHERE success) FROM command_history`,
	).Scan(&total, &ok)
	if err != nil {
		return Stats{}, fmt.Errorf("store: history stats: %w", err)
	}
	return newStats(total, ok), nil
}
