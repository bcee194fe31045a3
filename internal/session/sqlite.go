package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/mindshift/protocol-engine/internal/domain"
)

// SQLStore persists session snapshots in SQLite. The context travels as a
// JSON blob; the indexed columns exist for the surrounding product's
// dashboards, not for the engine, which only needs get/put by session id.
type SQLStore struct {
	db *sqlx.DB
}

var _ Persistence = (*SQLStore)(nil)

// NewSQLStore opens (or creates) the database at path and initializes the
// schema.
func NewSQLStore(path string) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA foreign_keys = ON`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute pragma: %w", err)
		}
	}

	store := &SQLStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLStore) initSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS sessions (
session_id TEXT PRIMARY KEY,
user_id TEXT NOT NULL,
modality TEXT,
status TEXT NOT NULL,
context TEXT NOT NULL,
updated_at TIMESTAMP NOT NULL
)`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id)`)
	return err
}

// Save upserts the session snapshot.
func (s *SQLStore) Save(ctx context.Context, sctx *domain.SessionContext) error {
	blob, err := json.Marshal(sctx)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO sessions
(session_id, user_id, modality, status, context, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
modality = excluded.modality,
status = excluded.status,
context = excluded.context,
updated_at = excluded.updated_at`,
		sctx.SessionID, sctx.UserID, string(sctx.Modality), string(sctx.Status),
		string(blob), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// Load restores a session snapshot. Returns domain.ErrSessionNotFound when
// no row exists.
func (s *SQLStore) Load(ctx context.Context, sessionID string) (*domain.SessionContext, error) {
	var blob string
	err := s.db.GetContext(ctx, &blob, `SELECT context FROM sessions WHERE session_id = ?`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}

	var sctx domain.SessionContext
	if err := json.Unmarshal([]byte(blob), &sctx); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	return &sctx, nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
