// Package audit provides the SQLite-backed usage log for PocketClaw.
// One row is written per handled turn: who asked, over which channel,
// what kind of input, how it ended, and what it cost. The /usage command
// and the status gateway read their numbers from here.
package audit

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// Turn kinds.
const (
	KindText    = "text"
	KindVoice   = "voice"
	KindCommand = "command"
)

// Turn outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// schema is the DDL executed on every startup (idempotent via IF NOT EXISTS).
const schema = `
-- One row per handled turn.
CREATE TABLE IF NOT EXISTS turns (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id       TEXT NOT NULL,
    user_id      TEXT NOT NULL,
    channel      TEXT DEFAULT '',
    kind         TEXT NOT NULL,
    outcome      TEXT NOT NULL,
    detail       TEXT DEFAULT '',
    session      TEXT DEFAULT '',
    prompt_chars INTEGER DEFAULT 0,
    output_chars INTEGER DEFAULT 0,
    turn         INTEGER DEFAULT 0,
    duration_ms  INTEGER DEFAULT 0,
    cost_usd     REAL DEFAULT 0,
    created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_created ON turns(created_at);
CREATE INDEX IF NOT EXISTS idx_turns_user ON turns(user_id);
`

// Entry is one audit record.
type Entry struct {
	RunID       string
	UserID      string
	Channel     string
	Kind        string
	Outcome     string
	Detail      string
	Session     string
	PromptChars int
	OutputChars int
	Turn        int
	DurationMS  int64
	CostUSD     float64
	CreatedAt   time.Time
}

// UserStats aggregates one user's recorded activity.
type UserStats struct {
	UserID     string
	Turns      int
	CostUSD    float64
	DurationMS int64
	LastSeen   time.Time
}

// Totals aggregates all recorded activity.
type Totals struct {
	Turns   int
	Users   int
	CostUSD float64
	Errors  int
}

// Log writes and reads audit records.
type Log struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the audit database at the given path. It enables
// WAL mode for concurrent read performance and creates the schema.
func Open(path string, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		path = "./data/pocketclaw.db"
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Log{db: db, logger: logger.With("component", "audit")}, nil
}

// Record writes one turn. Failures are logged, never surfaced: an audit
// write must not take down the conversation it describes.
func (l *Log) Record(e Entry) {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	if len(e.Detail) > 500 {
		e.Detail = e.Detail[:500] + "...[truncated]"
	}

	_, err := l.db.Exec(`
		INSERT INTO turns (run_id, user_id, channel, kind, outcome, detail, session,
			prompt_chars, output_chars, turn, duration_ms, cost_usd, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.UserID, e.Channel, e.Kind, e.Outcome, e.Detail, e.Session,
		e.PromptChars, e.OutputChars, e.Turn, e.DurationMS, e.CostUSD,
		created.UTC().Format(time.RFC3339),
	)
	if err != nil {
		l.logger.Warn("failed to write audit record", "run", e.RunID, "err", err)
	}
}

// Recent returns the last n records, newest first.
func (l *Log) Recent(n int) ([]Entry, error) {
	rows, err := l.db.Query(`
		SELECT run_id, user_id, channel, kind, outcome, detail, session,
			prompt_chars, output_chars, turn, duration_ms, cost_usd, created_at
		FROM turns
		ORDER BY id DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var createdAt string
		if err := rows.Scan(&e.RunID, &e.UserID, &e.Channel, &e.Kind, &e.Outcome,
			&e.Detail, &e.Session, &e.PromptChars, &e.OutputChars, &e.Turn,
			&e.DurationMS, &e.CostUSD, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
			e.CreatedAt = ts
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// StatsFor aggregates one user's recorded turns.
func (l *Log) StatsFor(userID string) (*UserStats, error) {
	row := l.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(cost_usd), 0), COALESCE(SUM(duration_ms), 0),
			COALESCE(MAX(created_at), '')
		FROM turns WHERE user_id = ?`, userID)

	stats := &UserStats{UserID: userID}
	var lastSeen string
	if err := row.Scan(&stats.Turns, &stats.CostUSD, &stats.DurationMS, &lastSeen); err != nil {
		return nil, fmt.Errorf("query user stats: %w", err)
	}
	if ts, err := time.Parse(time.RFC3339, lastSeen); err == nil {
		stats.LastSeen = ts
	}
	return stats, nil
}

// TotalStats aggregates everything recorded so far.
func (l *Log) TotalStats() (*Totals, error) {
	row := l.db.QueryRow(`
		SELECT COUNT(*), COUNT(DISTINCT user_id), COALESCE(SUM(cost_usd), 0),
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0)
		FROM turns`, OutcomeError)

	totals := &Totals{}
	if err := row.Scan(&totals.Turns, &totals.Users, &totals.CostUSD, &totals.Errors); err != nil {
		return nil, fmt.Errorf("query totals: %w", err)
	}
	return totals, nil
}

// Prune deletes records older than maxAge and returns how many were removed.
func (l *Log) Prune(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UTC().Format(time.RFC3339)
	result, err := l.db.Exec("DELETE FROM turns WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune audit log: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		l.logger.Info("audit log pruned", "removed", n)
	}
	return n, nil
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}
