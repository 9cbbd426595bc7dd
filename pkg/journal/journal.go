// Package journal keeps a SQLite history of settled dispatcher requests.
//
// It never stores queue state: pending requests are not recoverable after a
// restart, only their outcomes once settled.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Entry is one settled request.
type Entry struct {
	RequestID  string        `json:"requestId"`
	TabID      string        `json:"tabId"`
	Method     string        `json:"method,omitempty"`
	Outcome    string        `json:"outcome"`
	Attempts   int           `json:"attempts"`
	Duration   time.Duration `json:"-"`
	DurationMs int64         `json:"durationMs"`
	Error      string        `json:"error,omitempty"`
	SettledAt  time.Time     `json:"settledAt"`
}

// Filter narrows Recent.
type Filter struct {
	TabID   string
	Outcome string
	Limit   int
}

// DefaultLimit caps Recent when Filter.Limit is unset.
const DefaultLimit = 50

// Store is a SQLite-backed journal.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (creating if needed) the journal at path.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("journal path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serialises writers; one connection keeps :memory: databases shared too
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info().Str("path", path).Msg("Request journal opened")
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS requests (
			request_id  TEXT PRIMARY KEY,
			tab_id      TEXT NOT NULL,
			method      TEXT NOT NULL DEFAULT '',
			outcome     TEXT NOT NULL,
			attempts    INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			error       TEXT NOT NULL DEFAULT '',
			settled_at  INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_requests_tab ON requests(tab_id, settled_at);
		CREATE INDEX IF NOT EXISTS idx_requests_settled ON requests(settled_at);
	`)
	return err
}

// Record stores a settled request. Recording the same request twice keeps the latest.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.RequestID == "" {
		return errors.New("request id is required")
	}
	if e.SettledAt.IsZero() {
		e.SettledAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO requests
			(request_id, tab_id, method, outcome, attempts, duration_ms, error, settled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.TabID, e.Method, e.Outcome, e.Attempts,
		e.Duration.Milliseconds(), e.Error, e.SettledAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record request %s: %w", e.RequestID, err)
	}
	return nil
}

// Recent returns the newest entries first.
func (s *Store) Recent(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.TabID != "" {
		where = append(where, "tab_id = ?")
		args = append(args, f.TabID)
	}
	if f.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, f.Outcome)
	}

	query := `SELECT request_id, tab_id, method, outcome, attempts, duration_ms, error, settled_at FROM requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY settled_at DESC, rowid DESC LIMIT ?"

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			durationMs int64
			settledAt  int64
		)
		if err := rows.Scan(&e.RequestID, &e.TabID, &e.Method, &e.Outcome, &e.Attempts, &durationMs, &e.Error, &settledAt); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		e.Duration = time.Duration(durationMs) * time.Millisecond
		e.DurationMs = durationMs
		e.SettledAt = time.UnixMilli(settledAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries settled before cutoff and reports how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM requests WHERE settled_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune journal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("Request journal pruned")
	}
	return n, nil
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM requests`).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
