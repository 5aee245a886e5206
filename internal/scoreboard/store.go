// Package scoreboard keeps finished runs in SQLite and feeds the leaderboard.
package scoreboard

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// DefaultLimit caps Top when the caller passes no limit.
const DefaultLimit = 10

// Entry is one finished run.
type Entry struct {
	RunID      string
	Difficulty string
	Score      int
	Elapsed    time.Duration
	RecordedAt time.Time
}

// Store persists entries in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens (creating if needed) the score database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("scoreboard: storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("scoreboard: ensure dir: %w", err)
	}
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("scoreboard: open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("scoreboard: ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("scoreboard: apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Record stores a finished run. Recording the same run again (after a
// continue) keeps the latest score and time.
func (s *Store) Record(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("scoreboard: storage is not configured")
	}
	runID := strings.TrimSpace(entry.RunID)
	if runID == "" {
		return fmt.Errorf("scoreboard: run id is required")
	}
	if entry.Score < 0 {
		return fmt.Errorf("scoreboard: score must not be negative")
	}
	recordedAt := entry.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = s.now()
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO scores (run_id, difficulty, score, elapsed_ms, recorded_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
		   difficulty = excluded.difficulty,
		   score = excluded.score,
		   elapsed_ms = excluded.elapsed_ms,
		   recorded_at = excluded.recorded_at`,
		runID,
		strings.TrimSpace(entry.Difficulty),
		entry.Score,
		entry.Elapsed.Milliseconds(),
		toMillis(recordedAt),
	)
	if err != nil {
		return fmt.Errorf("scoreboard: record %s: %w", runID, err)
	}
	return nil
}

// Top returns the best runs, highest score first. An empty difficulty lists
// every difficulty.
func (s *Store) Top(ctx context.Context, difficulty string, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("scoreboard: storage is not configured")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	difficulty = strings.TrimSpace(difficulty)
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT run_id, difficulty, score, elapsed_ms, recorded_at
		 FROM scores
		 WHERE ? = '' OR difficulty = ?
		 ORDER BY score DESC, recorded_at ASC
		 LIMIT ?`,
		difficulty, difficulty, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("scoreboard: query top: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry      Entry
			elapsedMS  int64
			recordedAt int64
		)
		if err := rows.Scan(&entry.RunID, &entry.Difficulty, &entry.Score, &elapsedMS, &recordedAt); err != nil {
			return nil, fmt.Errorf("scoreboard: scan: %w", err)
		}
		entry.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		entry.RecordedAt = fromMillis(recordedAt)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scoreboard: iterate: %w", err)
	}
	return entries, nil
}
