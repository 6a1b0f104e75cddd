package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ibeckermayer/rappterbook/internal/types"
)

// Store persists browser session slots in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Session is one browser session's credential slot and cached identity.
type Session struct {
	ID        string
	Token     string
	Identity  *types.Identity
	UpdatedAt time.Time
}

// New creates a new Store with SQLite backend
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate session db: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		token TEXT NOT NULL DEFAULT '',
		login TEXT,
		name TEXT,
		avatar_url TEXT,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveToken stores a credential for a session and drops any cached identity.
func (s *Store) SaveToken(ctx context.Context, id, token string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, token, login, name, avatar_url, updated_at)
		VALUES (?, ?, NULL, NULL, NULL, ?)
		ON CONFLICT(id) DO UPDATE SET
			token = excluded.token,
			login = NULL,
			name = NULL,
			avatar_url = NULL,
			updated_at = excluded.updated_at
	`, id, token, s.now().UTC())
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// SaveIdentity caches the account behind a session's credential.
func (s *Store) SaveIdentity(ctx context.Context, id string, ident types.Identity) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET login = ?, name = ?, avatar_url = ?, updated_at = ?
		WHERE id = ? AND token != ''
	`, ident.Login, ident.Name, ident.AvatarURL, s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("save identity: session %s has no credential", id)
	}
	return nil
}

// Load returns the slot for a session. Unknown sessions yield ok == false.
func (s *Store) Load(ctx context.Context, id string) (Session, bool, error) {
	var (
		sess                   Session
		login, name, avatarURL sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, token, login, name, avatar_url, updated_at FROM sessions WHERE id = ?
	`, id).Scan(&sess.ID, &sess.Token, &login, &name, &avatarURL, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("load session: %w", err)
	}
	if login.Valid && login.String != "" {
		sess.Identity = &types.Identity{Login: login.String, Name: name.String, AvatarURL: avatarURL.String}
	}
	return sess, true, nil
}

// ClearCredential discards the credential and cached identity of a session.
func (s *Store) ClearCredential(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET token = '', login = NULL, name = NULL, avatar_url = NULL, updated_at = ?
		WHERE id = ?
	`, s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	return nil
}

// Delete removes a session slot entirely.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Prune removes sessions not updated since cutoff and reports how many.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return res.RowsAffected()
}

// Count reports the number of stored sessions.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}
