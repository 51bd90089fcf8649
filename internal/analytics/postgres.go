package analytics

import (
	"context"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"task-manager/internal/stream"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const insertEventSQL = `INSERT INTO task_events (entry_id, task_id, location_id, event_ts)
VALUES ($1, $2, $3, $4)
ON CONFLICT (entry_id) DO NOTHING`

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSink records task events in the task_events table. Redelivered
// entries are ignored by primary key.
type PostgresSink struct {
	db     execer
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresSink opens a pooled connection to Postgres.
func NewPostgresSink(ctx context.Context, dsn string, logger zerolog.Logger) (*PostgresSink, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := newPostgresSink(pool, logger)
	s.pool = pool
	return s, nil
}

func newPostgresSink(db execer, logger zerolog.Logger) *PostgresSink {
	return &PostgresSink{db: db, logger: logger.With().Str("sink", "postgres").Logger()}
}

// Close releases the pool.
func (s *PostgresSink) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// RunMigrations executes the embedded SQL migrations in file-name order.
func (s *PostgresSink) RunMigrations(ctx context.Context) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		sql := strings.TrimSpace(string(content))
		if sql == "" {
			continue
		}
		if _, err := s.db.Exec(ctx, sql); err != nil {
			return fmt.Errorf("exec migration %s: %w", e.Name(), err)
		}
	}
	return nil
}

// Handle inserts one event row keyed by its stream entry id.
func (s *PostgresSink) Handle(ctx context.Context, msg stream.Message) error {
	ev := msg.Event
	tag, err := s.db.Exec(ctx, insertEventSQL, msg.ID, ev.TaskID, ev.LocationID, time.Unix(ev.Timestamp, 0).UTC())
	if err != nil {
		return fmt.Errorf("insert task event %s: %w", msg.ID, err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Debug().Str("entry_id", msg.ID).Msg("task event already recorded")
	}
	return nil
}
