// Package history provides SQLite-backed transcript storage. It is optional:
// when disabled the server simply never constructs a store.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Entry is one recorded exchange: the user's message and the answer that was
// returned, with the tools that ran in between.
type Entry struct {
	ID          string    `json:"id"`
	SessionHint string    `json:"session_hint,omitempty"`
	UserText    string    `json:"user_text"`
	Answer      string    `json:"answer"`
	Tools       string    `json:"tools,omitempty"`
	Model       string    `json:"model,omitempty"`
	Degraded    bool      `json:"degraded,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store appends and reads back conversation transcripts.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the transcript database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// sqlite files do not tolerate concurrent writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize transcript schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transcript (
		id TEXT PRIMARY KEY,
		session_hint TEXT,
		user_text TEXT NOT NULL,
		answer TEXT NOT NULL,
		tools TEXT,
		model TEXT,
		degraded BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_transcript_created_at ON transcript(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append records one exchange and returns its id.
func (s *Store) Append(ctx context.Context, e *Entry) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcript (id, session_hint, user_text, answer, tools, model, degraded)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, e.SessionHint, e.UserText, e.Answer, e.Tools, e.Model, e.Degraded)
	if err != nil {
		return "", fmt.Errorf("append transcript: %w", err)
	}
	return id, nil
}

// Recent returns the latest entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_hint, user_text, answer, tools, model, degraded, created_at
		FROM transcript
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var hint, tools, model sql.NullString
		if err := rows.Scan(&e.ID, &hint, &e.UserText, &e.Answer, &tools, &model, &e.Degraded, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		e.SessionHint = hint.String
		e.Tools = tools.String
		e.Model = model.String
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
