package eventlog

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver
)

// Level of the event
type Level string

// event levels
const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Code identifies kind of the event
type Code string

// event codes
const (
	CodeGeneralWarning Code = "general_warning"  // capture start/stop failures
	CodeUnhandled      Code = "unhandled_error"  // unexpected failures swallowed by the host
	CodeWorkerStarted  Code = "worker_started"   // worker survived startup window
	CodeStartupFailure Code = "startup_failure"  // worker failed to launch or exited during startup
	CodeRetriesFailed  Code = "retries_exceeded" // all launch attempts failed
	CodeWorkerExit     Code = "worker_exit"      // running worker exited
)

// MaxOutputSize is the tail of captured output stored with an event
const MaxOutputSize = 4096

// Event is a single host event
type Event struct {
	ID        int64     `db:"id" json:"id"`
	Level     Level     `db:"level" json:"level"`
	Code      Code      `db:"code" json:"code"`
	Message   string    `db:"message" json:"message"`
	Output    string    `db:"output" json:"output,omitempty"`
	CreatedAt time.Time `db:"-" json:"created_at"`
}

// SQLiteStore implements event storage using SQLite
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and initializes the schema
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to set WAL mode: %w (also failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	res := &SQLiteStore{db: db}
	if err := res.initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return res, nil
}

func (s *SQLiteStore) initialize() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			level TEXT NOT NULL,
			code TEXT NOT NULL,
			message TEXT NOT NULL,
			output TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// Record stores the event, zero CreatedAt set to now. Output is cut to the last MaxOutputSize bytes.
func (s *SQLiteStore) Record(ctx context.Context, ev Event) (Event, error) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	if ev.Level == "" {
		ev.Level = LevelInfo
	}
	ev.Output = tail(ev.Output, MaxOutputSize)

	res, err := s.db.ExecContext(ctx, `INSERT INTO events (level, code, message, output, created_at)
		VALUES (?, ?, ?, ?, ?)`, ev.Level, ev.Code, ev.Message, ev.Output, ev.CreatedAt.UnixMilli())
	if err != nil {
		return Event{}, fmt.Errorf("failed to record event: %w", err)
	}
	if ev.ID, err = res.LastInsertId(); err != nil {
		return Event{}, fmt.Errorf("failed to get event id: %w", err)
	}
	return ev, nil
}

// List returns up to limit most recent events, newest first. Non-positive limit returns all.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Event, error) {
	type row struct {
		Event
		CreatedAtMs int64 `db:"created_at"`
	}

	query := `SELECT id, level, code, message, output, created_at FROM events ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows := []row{}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	res := make([]Event, 0, len(rows))
	for _, r := range rows {
		ev := r.Event
		ev.CreatedAt = time.UnixMilli(r.CreatedAtMs)
		res = append(res, ev)
	}
	return res, nil
}

// Cleanup removes events older than the given age, returns number of removed events
func (s *SQLiteStore) Cleanup(ctx context.Context, age time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, time.Now().Add(-age).UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup events: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// tail returns last size bytes of s without splitting a rune
func tail(s string, size int) string {
	if len(s) <= size {
		return s
	}
	s = s[len(s)-size:]
	for len(s) > 0 && !utf8.RuneStart(s[0]) {
		s = s[1:]
	}
	return s
}
