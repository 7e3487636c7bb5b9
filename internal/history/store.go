// Package history keeps finished print requests in a local sqlite database
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/thereceipt/print-station/internal/queue"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS print_history (
		id TEXT PRIMARY KEY,
		note_id TEXT NOT NULL,
		status TEXT NOT NULL,
		payload TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		finished_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_print_history_note ON print_history(note_id)`,
	`CREATE INDEX IF NOT EXISTS idx_print_history_finished ON print_history(finished_at)`,
}

const writeTimeout = 5 * time.Second

// timeLayout is fixed width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store records terminal print requests
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("history: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: set journal mode: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: apply schema: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a printed or failed request. Recording the same id again
// replaces the earlier row.
func (s *Store) Record(req queue.Request) error {
	if !req.Status.Terminal() {
		return fmt.Errorf("history: request %s is still %s", req.ID, req.Status)
	}

	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return fmt.Errorf("history: encode payload: %w", err)
	}

	finished := req.PrintedAt
	if req.Status == queue.StatusError {
		finished = req.ErrorAt
	}
	if finished == nil {
		now := time.Now()
		finished = &now
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO print_history (id, note_id, status, payload, error_message, created_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.NoteID, string(req.Status), string(payload), req.ErrorMessage,
		formatTime(req.CreatedAt), formatTime(*finished),
	)
	if err != nil {
		return fmt.Errorf("history: insert %s: %w", req.ID, err)
	}
	return nil
}

// Recent returns up to limit requests, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]queue.Request, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, note_id, status, payload, error_message, created_at, finished_at
		 FROM print_history ORDER BY finished_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query recent: %w", err)
	}
	defer rows.Close()
	return scan(rows)
}

// ByNote returns every recorded request for a fiscal note, oldest first
func (s *Store) ByNote(ctx context.Context, noteID string) ([]queue.Request, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, note_id, status, payload, error_message, created_at, finished_at
		 FROM print_history WHERE note_id = ? ORDER BY finished_at, rowid`, noteID)
	if err != nil {
		return nil, fmt.Errorf("history: query note %s: %w", noteID, err)
	}
	defer rows.Close()
	return scan(rows)
}

func scan(rows *sql.Rows) ([]queue.Request, error) {
	var out []queue.Request
	for rows.Next() {
		var (
			req                 queue.Request
			status, payload     string
			created, finishedAt string
		)
		if err := rows.Scan(&req.ID, &req.NoteID, &status, &payload, &req.ErrorMessage, &created, &finishedAt); err != nil {
			return nil, fmt.Errorf("history: scan row: %w", err)
		}

		req.Status = queue.Status(status)
		if err := json.Unmarshal([]byte(payload), &req.Payload); err != nil {
			return nil, fmt.Errorf("history: decode payload of %s: %w", req.ID, err)
		}

		var err error
		if req.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		finished, err := parseTime(finishedAt)
		if err != nil {
			return nil, err
		}
		if req.Status == queue.StatusError {
			req.ErrorAt = &finished
		} else {
			req.PrintedAt = &finished
		}

		out = append(out, req)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("history: parse time %q: %w", s, err)
	}
	return t, nil
}
