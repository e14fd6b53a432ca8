// Package sqlite is the durable home for signals, checkpoints, and
// candles: a single WAL-mode connection with batched, transactional
// writes.
package sqlite

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures the SQLite store.
type Config struct {
	DBPath string // path to the SQLite database file, e.g. "data/msrengine.db"
}

// Store is a single-connection SQLite store implementing
// model.SignalStore, model.CheckpointStore, and model.CandleStore.
// SQLite serializes writes regardless, so a single *sql.DB connection
// with SetMaxOpenConns(1) avoids lock-contention retries rather than
// fighting for them.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (creating if absent) the SQLite database at cfg.DBPath in
// WAL mode and ensures the schema exists.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}

	logger.Info("sqlite: store opened", "path", cfg.DBPath)
	return &Store{db: db, log: logger}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS signals (
			id               TEXT PRIMARY KEY,
			strategy_name    TEXT    NOT NULL,
			symbol           TEXT    NOT NULL,
			timeframe        TEXT    NOT NULL,
			signal_time      INTEGER NOT NULL,
			direction        INTEGER NOT NULL,
			entry_price      TEXT    NOT NULL,
			tp_price         TEXT    NOT NULL,
			sl_price         TEXT    NOT NULL,
			atr_at_signal    TEXT    NOT NULL,
			max_atr          TEXT    NOT NULL,
			streak_at_signal INTEGER NOT NULL,
			mae_ratio        TEXT    NOT NULL DEFAULT '0',
			mfe_ratio        TEXT    NOT NULL DEFAULT '0',
			outcome          TEXT    NOT NULL,
			outcome_time     INTEGER,
			outcome_price    TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_signals_active ON signals (symbol, outcome);

		CREATE TABLE IF NOT EXISTS checkpoints (
			symbol              TEXT NOT NULL,
			timeframe           TEXT NOT NULL,
			system_start_time   INTEGER NOT NULL,
			last_processed_time INTEGER NOT NULL,
			status              TEXT NOT NULL,
			PRIMARY KEY (symbol, timeframe)
		);

		CREATE TABLE IF NOT EXISTS candles (
			symbol    TEXT    NOT NULL,
			timeframe TEXT    NOT NULL,
			ts        INTEGER NOT NULL,
			open      TEXT    NOT NULL,
			high      TEXT    NOT NULL,
			low       TEXT    NOT NULL,
			close     TEXT    NOT NULL,
			volume    TEXT    NOT NULL,
			is_closed INTEGER NOT NULL,
			PRIMARY KEY (symbol, timeframe, ts)
		);
	`)
	return err
}

// DB exposes the underlying connection for health probes.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }
