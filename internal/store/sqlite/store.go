// Package sqlite persists bars and sent alerts in a local SQLite file. The
// bar table doubles as an offline model.HistorySource.
package sqlite

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures the store.
type Config struct {
	DBPath string // e.g. "data/bars.db"; ":memory:" for tests
}

// Store wraps one SQLite database.
type Store struct {
	db  *sql.DB
	log *slog.Logger
	now func() time.Time
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Open opens the database with WAL mode and creates the schema.
func Open(cfg Config, log *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log = log.With("component", "sqlite")
	log.Info("opened database", "path", cfg.DBPath)
	return &Store{db: db, log: log, now: time.Now}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			ticker    TEXT    NOT NULL,
			interval  TEXT    NOT NULL,
			ts        INTEGER NOT NULL,
			open      REAL    NOT NULL,
			high      REAL    NOT NULL,
			low       REAL    NOT NULL,
			close     REAL    NOT NULL,
			volume    REAL    NOT NULL DEFAULT 0,
			PRIMARY KEY (ticker, interval, ts)
		);

		CREATE TABLE IF NOT EXISTS alerts (
			id        TEXT    PRIMARY KEY,
			ticker    TEXT    NOT NULL,
			strategy  TEXT    NOT NULL,
			action    TEXT    NOT NULL,
			price     REAL    NOT NULL,
			ts        INTEGER NOT NULL,
			sent_at   INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS alerts_by_key ON alerts (ticker, strategy, ts);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
