// Package journal persists fired hotkeys and captured warning diagnostics in
// a local SQLite database.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	defaultMaxEntries = 10000
	pruneEvery        = 256
	// diagnosticTimeout bounds the insert made from inside a slog handler.
	diagnosticTimeout = 2 * time.Second
)

// ErrClosed is returned by operations on a closed Journal.
var ErrClosed = errors.New("journal: closed")

// Kind distinguishes journal rows.
type Kind string

const (
	KindFired      Kind = "fired"
	KindDiagnostic Kind = "diagnostic"
)

// Entry is one journal row.
type Entry struct {
	Seq  int64
	Time time.Time
	Kind Kind

	// Fired rows.
	Action      string
	Binding     string
	Description string

	// Diagnostic rows.
	Level   string // "warn", "error"
	Message string
	Source  string
}

var schema = []string{`
CREATE TABLE IF NOT EXISTS entries (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	ts          INTEGER NOT NULL,
	kind        TEXT    NOT NULL,
	action      TEXT    NOT NULL DEFAULT '',
	binding     TEXT    NOT NULL DEFAULT '',
	description TEXT    NOT NULL DEFAULT '',
	level       TEXT    NOT NULL DEFAULT '',
	message     TEXT    NOT NULL DEFAULT '',
	source      TEXT    NOT NULL DEFAULT ''
)`,
	`CREATE INDEX IF NOT EXISTS entries_kind ON entries(kind, seq)`,
}

// Option configures a Journal.
type Option func(*Journal)

// WithMaxEntries caps the number of retained rows. Older rows are pruned in
// batches, so the table may briefly hold more. Values < 1 keep the default.
func WithMaxEntries(n int) Option {
	return func(j *Journal) {
		if n >= 1 {
			j.maxEntries = n
		}
	}
}

// Journal is safe for concurrent use.
type Journal struct {
	db         *sql.DB
	path       string
	maxEntries int

	mu      sync.Mutex
	closed  bool
	inserts int
}

// Open opens (creating if needed) the journal database at path.
func Open(path string, opts ...Option) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("journal: path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("journal: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	// SQLite has a single writer; one connection also keeps the pragmas below
	// in effect for every statement.
	db.SetMaxOpenConns(1)

	j := &Journal{db: db, path: path, maxEntries: defaultMaxEntries}
	for _, opt := range opts {
		opt(j)
	}

	stmts := append([]string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
	}, schema...)
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return nil, errors.Join(fmt.Errorf("journal: init %s: %w", path, err), db.Close())
		}
	}
	if err := j.prune(context.Background()); err != nil {
		slog.Debug("[DEBUG-JOURNAL] initial prune failed", "path", path, "error", err)
	}
	slog.Debug("[DEBUG-JOURNAL] opened", "path", path)
	return j, nil
}

// Path returns the database path.
func (j *Journal) Path() string { return j.path }

// Fired records a hotkey firing.
func (j *Journal) Fired(ctx context.Context, action, binding, description string) error {
	return j.Record(ctx, Entry{
		Kind:        KindFired,
		Action:      action,
		Binding:     binding,
		Description: description,
	})
}

// Diagnostic records a log record. Its signature matches
// sessionlog.EntryCallback so it can be teed from slog directly.
//
// NOTE: failures go to stderr, never to slog: this runs inside the slog
// handler and logging from here would recurse.
func (j *Journal) Diagnostic(ts time.Time, level slog.Level, msg string, source string) {
	ctx, cancel := context.WithTimeout(context.Background(), diagnosticTimeout)
	defer cancel()
	err := j.record(ctx, Entry{
		Time:    ts,
		Kind:    KindDiagnostic,
		Level:   strings.ToLower(level.String()),
		Message: msg,
		Source:  source,
	}, false)
	if err != nil && !errors.Is(err, ErrClosed) {
		fmt.Fprintf(os.Stderr, "[journal] failed to record diagnostic: %v\n", err)
	}
}

// Record inserts e. A zero Time is set to now; Seq is assigned by the database.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	return j.record(ctx, e, true)
}

func (j *Journal) record(ctx context.Context, e Entry, logPrune bool) error {
	if e.Kind != KindFired && e.Kind != KindDiagnostic {
		return fmt.Errorf("journal: unknown entry kind %q", e.Kind)
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return ErrClosed
	}
	j.inserts++
	shouldPrune := j.inserts%min(pruneEvery, j.maxEntries) == 0
	j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO entries (ts, kind, action, binding, description, level, message, source)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Time.UnixNano(), string(e.Kind), e.Action, e.Binding, e.Description, e.Level, e.Message, e.Source,
	)
	if err != nil {
		return fmt.Errorf("journal: insert: %w", err)
	}

	if shouldPrune {
		if err := j.prune(ctx); err != nil && logPrune {
			slog.Debug("[DEBUG-JOURNAL] prune failed", "error", err)
		}
	}
	return nil
}

// prune drops everything but the newest maxEntries rows. seq only grows, so
// the cutoff is computed from the current maximum.
func (j *Journal) prune(ctx context.Context) error {
	_, err := j.db.ExecContext(ctx,
		`DELETE FROM entries WHERE seq <= (SELECT COALESCE(MAX(seq), 0) FROM entries) - ?`,
		j.maxEntries,
	)
	return err
}

// Recent returns up to n of the newest entries, oldest first. A non-empty
// kind restricts the result to that kind.
func (j *Journal) Recent(ctx context.Context, n int, kind Kind) ([]Entry, error) {
	if n <= 0 {
		return []Entry{}, nil
	}
	if j.isClosed() {
		return nil, ErrClosed
	}

	query := `SELECT seq, ts, kind, action, binding, description, level, message, source
		FROM entries`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, n)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	// Retention bounds the rows, whatever the caller asks for.
	out := make([]Entry, 0, min(n, j.maxEntries))
	for rows.Next() {
		var (
			e       Entry
			ts      int64
			rowKind string
		)
		if err := rows.Scan(&e.Seq, &ts, &rowKind, &e.Action, &e.Binding, &e.Description, &e.Level, &e.Message, &e.Source); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.Time = time.Unix(0, ts)
		e.Kind = Kind(rowKind)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	slices.Reverse(out)
	return out, nil
}

// Len returns the number of stored rows.
func (j *Journal) Len(ctx context.Context) (int, error) {
	if j.isClosed() {
		return 0, ErrClosed
	}
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("journal: count: %w", err)
	}
	return n, nil
}

func (j *Journal) isClosed() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closed
}

// Close closes the database. Subsequent operations return ErrClosed.
// Close is idempotent.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()

	if err := j.db.Close(); err != nil {
		return fmt.Errorf("journal: close: %w", err)
	}
	return nil
}
