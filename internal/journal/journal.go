// Package journal persists diagnostic events (sign-ins, uploads, update
// checks, scheduled runs and their failures) in a local SQLite database so
// that they can be reviewed after the fact.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	sqlInsertEvent = `INSERT INTO events (id, occurred_at, kind, op, message, ok)
		VALUES (?, ?, ?, ?, ?, ?)`

	sqlRecentEvents = `SELECT id, occurred_at, kind, op, message, ok
		FROM events ORDER BY occurred_at DESC, rowid DESC LIMIT ?`

	sqlPruneEvents = `DELETE FROM events WHERE occurred_at < ?`
)

// DefaultRecentLimit is used by Recent when limit <= 0.
const DefaultRecentLimit = 20

// Event is one diagnostic record.
type Event struct {
	ID         string
	OccurredAt time.Time
	// Kind is the failure category, or "ok" for successes.
	Kind    string
	Op      string
	Message string
	OK      bool
}

// Journal is the event store. Safe for concurrent use.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger

	nowFunc func() time.Time
}

// Open opens (creating if needed) the journal database at path and applies
// pending migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"+
			"&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: opening database %s: %w", path, err)
	}

	// Single writer: the daemon and one-shot commands never contend within a
	// process.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("journal opened", slog.String("path", path))

	return &Journal{db: db, logger: logger, nowFunc: time.Now}, nil
}

func migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("journal: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("journal: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("journal: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Record stores ev, assigning an ID and timestamp when missing.
func (j *Journal) Record(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = j.nowFunc()
	}

	if ev.Kind == "" {
		ev.Kind = "unknown"
		if ev.OK {
			ev.Kind = "ok"
		}
	}

	_, err := j.db.ExecContext(ctx, sqlInsertEvent,
		ev.ID, ev.OccurredAt.UTC().UnixNano(), ev.Kind, ev.Op, ev.Message, ev.OK)
	if err != nil {
		return fmt.Errorf("journal: recording %s: %w", ev.Op, err)
	}

	return nil
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	rows, err := j.db.QueryContext(ctx, sqlRecentEvents, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: querying events: %w", err)
	}
	defer rows.Close()

	var events []Event

	for rows.Next() {
		var (
			ev         Event
			occurredAt int64
		)

		if err := rows.Scan(&ev.ID, &occurredAt, &ev.Kind, &ev.Op, &ev.Message, &ev.OK); err != nil {
			return nil, fmt.Errorf("journal: scanning event: %w", err)
		}

		ev.OccurredAt = time.Unix(0, occurredAt).UTC()
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterating events: %w", err)
	}

	return events, nil
}

// PruneBefore deletes events older than cutoff and returns how many went.
func (j *Journal) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, sqlPruneEvents, cutoff.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("journal: pruning events: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("journal: pruning events: %w", err)
	}

	if n > 0 {
		j.logger.Debug("pruned journal events", slog.Int64("count", n))
	}

	return n, nil
}

// Close releases the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
