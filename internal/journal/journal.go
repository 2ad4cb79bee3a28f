// Package journal records dispatch outcomes in a SQLite database.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// DefaultFileName is the journal file created next to the config file.
const DefaultFileName = "journal.db"

const schema = `
	CREATE TABLE IF NOT EXISTS dispatches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL DEFAULT '',
		at_ms INTEGER NOT NULL,
		action INTEGER NOT NULL,
		chord TEXT NOT NULL,
		code TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		duration_us INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_dispatches_action ON dispatches(action);
	CREATE INDEX IF NOT EXISTS idx_dispatches_at ON dispatches(at_ms);
`

// ErrClosed is returned after Close.
var ErrClosed = errors.New("journal: closed")

// Entry is one dispatch outcome. An empty Code means success.
type Entry struct {
	RequestID string
	Time      time.Time
	Action    int
	Chord     string
	Code      string
	Error     string
	Duration  time.Duration
}

// OK reports whether the dispatch succeeded.
func (e Entry) OK() bool { return e.Code == "" }

// ActionSummary aggregates entries for one action.
type ActionSummary struct {
	Action int
	Chord  string
	Fired  int
	Failed int
	LastAt time.Time
}

// Journal is a handle on the journal database. Safe for concurrent use.
type Journal struct {
	db     *sql.DB
	path   string
	closed atomic.Bool
}

// Open opens or creates the journal at path. ":memory:" opens a private
// in-memory database.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal: path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("journal: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: init schema: %w", err)
	}

	slog.Debug("[journal] opened", "path", path)
	return &Journal{db: db, path: path}, nil
}

// Path returns the database path.
func (j *Journal) Path() string { return j.path }

// Append inserts one entry.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	if j.closed.Load() {
		return ErrClosed
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO dispatches (request_id, at_ms, action, chord, code, error, duration_us)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.Time.UnixMilli(), e.Action, e.Chord, e.Code, e.Error, e.Duration.Microseconds(),
	)
	if err != nil {
		return j.wrap("append", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if j.closed.Load() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT request_id, at_ms, action, chord, code, error, duration_us
		FROM dispatches
		ORDER BY at_ms DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, j.wrap("recent", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			atMS       int64
			durationUS int64
		)
		if err := rows.Scan(&e.RequestID, &atMS, &e.Action, &e.Chord, &e.Code, &e.Error, &durationUS); err != nil {
			return nil, j.wrap("recent", err)
		}
		e.Time = time.UnixMilli(atMS)
		e.Duration = time.Duration(durationUS) * time.Microsecond
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, j.wrap("recent", err)
	}
	return entries, nil
}

// Summary returns per-action counts ordered by action. Chord is the most
// recently recorded chord for the action.
func (j *Journal) Summary(ctx context.Context) ([]ActionSummary, error) {
	if j.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT d.action,
		       (SELECT chord FROM dispatches l WHERE l.action = d.action ORDER BY l.at_ms DESC, l.id DESC LIMIT 1),
		       COUNT(*),
		       SUM(CASE WHEN d.code = '' THEN 0 ELSE 1 END),
		       MAX(d.at_ms)
		FROM dispatches d
		GROUP BY d.action
		ORDER BY d.action`)
	if err != nil {
		return nil, j.wrap("summary", err)
	}
	defer rows.Close()

	var out []ActionSummary
	for rows.Next() {
		var (
			s      ActionSummary
			lastMS int64
		)
		if err := rows.Scan(&s.Action, &s.Chord, &s.Fired, &s.Failed, &lastMS); err != nil {
			return nil, j.wrap("summary", err)
		}
		s.LastAt = time.UnixMilli(lastMS)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, j.wrap("summary", err)
	}
	return out, nil
}

// Close closes the database. Safe to call more than once.
func (j *Journal) Close() error {
	if j.closed.Swap(true) {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) wrap(op string, err error) error {
	return fmt.Errorf("journal: %s: %w", op, err)
}
