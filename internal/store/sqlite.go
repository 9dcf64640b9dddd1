package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vasu-devs/Socratis/internal/model"

	_ "modernc.org/sqlite"
)

// SQLite is the default durable tier. Each session is one row holding the
// JSON document plus the columns needed for filtering and compare-and-swap.
// Timestamps are stored as unix milliseconds.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at dbPath.
func NewSQLite(dbPath string) (*SQLite, error) {
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	if dbPath == ":memory:" {
		dsn = dbPath
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'active',
		current_question_index INTEGER NOT NULL DEFAULT 0,
		has_feedback INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 0,
		document TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_awaiting
		ON sessions (status, has_feedback, updated_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Create inserts a new session row.
func (s *SQLite) Create(ctx context.Context, sess *model.Session) error {
	doc, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, status, current_question_index, has_feedback, version, document, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.SessionID, sess.Status, sess.CurrentQuestionIndex, sess.Feedback != nil, sess.Version,
		string(doc), sess.CreatedAt.UnixMilli(), sess.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("create %s: %w", sess.SessionID, ErrExists)
		}
		return unavailable("insert session", err)
	}
	return nil
}

// Get loads a session by id.
func (s *SQLite) Get(ctx context.Context, id string) (*model.Session, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM sessions WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get session", err)
	}
	var sess model.Session
	if err := json.Unmarshal([]byte(doc), &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

// Update replaces the session document when the stored version matches.
func (s *SQLite) Update(ctx context.Context, sess *model.Session, expectedVersion int64) error {
	doc, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions
		 SET status = ?, current_question_index = ?, has_feedback = ?, version = ?, document = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		sess.Status, sess.CurrentQuestionIndex, sess.Feedback != nil, sess.Version, string(doc), sess.UpdatedAt.UnixMilli(),
		sess.SessionID, expectedVersion,
	)
	if err != nil {
		return unavailable("update session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("update session", err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, sess.SessionID).Scan(&exists)
	if err != nil {
		return unavailable("update session", err)
	}
	if exists == 0 {
		return fmt.Errorf("update %s: %w", sess.SessionID, ErrNotFound)
	}
	return fmt.Errorf("update %s at version %d: %w", sess.SessionID, expectedVersion, ErrConflict)
}

// ListAwaitingReport returns completed sessions that still lack feedback.
func (s *SQLite) ListAwaitingReport(ctx context.Context, before time.Time, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM sessions
		 WHERE status = ? AND has_feedback = 0 AND updated_at < ?
		 ORDER BY updated_at LIMIT ?`,
		model.StatusCompleted, before.UnixMilli(), limit,
	)
	if err != nil {
		return nil, unavailable("list awaiting report", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// List returns every session, optionally filtered by status, oldest first.
func (s *SQLite) List(ctx context.Context, status model.SessionStatus) ([]*model.Session, error) {
	query := `SELECT document FROM sessions`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("list sessions", err)
	}
	defer rows.Close()

	var out []*model.Session
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var sess model.Session
		if err := json.Unmarshal([]byte(doc), &sess); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}
