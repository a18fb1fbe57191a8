package main

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// History is a local ledger of finished runs.
type History struct {
	sql *sql.DB
}

// HistoryEntry is one recorded run.
type HistoryEntry struct {
	RunID      string
	FinishedAt time.Time
	Departure  string
	Arrival    string
	Date       string
	Hour       string
	Booked     bool
	Outcome    string
	Rank       int
	Refreshes  int
	Elapsed    time.Duration
	Error      string
}

func OpenHistory(path string) (*History, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS runs (
  id          INTEGER PRIMARY KEY,
  run_id      TEXT NOT NULL UNIQUE,
  finished_at DATETIME NOT NULL,
  departure   TEXT NOT NULL,
  arrival     TEXT NOT NULL,
  travel_date TEXT NOT NULL,
  hour        TEXT NOT NULL,
  booked      INTEGER NOT NULL CHECK (booked IN (0,1)),
  outcome     TEXT,
  train_rank  INTEGER NOT NULL DEFAULT 0,
  refreshes   INTEGER NOT NULL DEFAULT 0,
  elapsed_ms  INTEGER NOT NULL DEFAULT 0,
  error       TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_finished ON runs(finished_at);
    `); err != nil {
		db.Close()
		return nil, err
	}
	return &History{sql: db}, nil
}

func (h *History) Close() error {
	if h == nil || h.sql == nil {
		return nil
	}
	return h.sql.Close()
}

// Record stores res for criteria c. runErr is the error the run stopped with,
// if any.
func (h *History) Record(ctx context.Context, res RunResult, c *Criteria, runErr error) error {
	var errText sql.NullString
	if runErr != nil {
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}
	_, err := h.sql.ExecContext(ctx, `INSERT INTO runs(run_id, finished_at, departure, arrival, travel_date, hour, booked, outcome, train_rank, refreshes, elapsed_ms, error) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		res.RunID, time.Now().UTC(), c.Departure(), c.Arrival(), c.Date(), c.Hour(),
		boolToInt(res.Booked), nullIfEmpty(string(res.Outcome)), res.Rank, res.Refreshes, res.Elapsed.Milliseconds(), errText)
	return err
}

// List returns the most recent runs first. limit <= 0 means all.
func (h *History) List(ctx context.Context, limit int) ([]HistoryEntry, error) {
	query := `SELECT run_id, finished_at, departure, arrival, travel_date, hour, booked, outcome, train_rank, refreshes, elapsed_ms, error FROM runs ORDER BY finished_at DESC, id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := h.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var (
			e              HistoryEntry
			booked         int
			elapsedMs      int64
			outcome, errTx sql.NullString
		)
		if err := rows.Scan(&e.RunID, &e.FinishedAt, &e.Departure, &e.Arrival, &e.Date, &e.Hour,
			&booked, &outcome, &e.Rank, &e.Refreshes, &elapsedMs, &errTx); err != nil {
			return nil, err
		}
		e.Booked = booked == 1
		e.Outcome = outcome.String
		e.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		e.Error = errTx.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
