package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"voltguard/internal/faults"
)

var ErrNoSession = errors.New("no stored session; sign in first")

type User struct {
	ID       string      `json:"_id"`
	Email    string      `json:"email"`
	FullName string      `json:"full_name"`
	Role     faults.Role `json:"role"`
}

// Session is the signed-in actor. It is handed explicitly to the API client, the lifecycle
// controller and the chat loops.
type Session struct {
	Token     string
	User      User
	CreatedAt time.Time
}

// AccessToken lets a Session act as the API client's token source.
func (s *Session) AccessToken() string {
	if s == nil {
		return ""
	}
	return s.Token
}

// Store persists at most one session in a local sqlite file.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("mkdir session dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS session (
  slot INTEGER PRIMARY KEY CHECK (slot = 1),
  token TEXT NOT NULL,
  user_id TEXT NOT NULL,
  email TEXT NOT NULL DEFAULT '',
  full_name TEXT NOT NULL DEFAULT '',
  role TEXT NOT NULL,
  created_at TEXT NOT NULL
);`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init session schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Save(ctx context.Context, ss Session) error {
	if ss.Token == "" {
		return faults.Authf("refusing to store a session without a token")
	}
	if ss.CreatedAt.IsZero() {
		ss.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session(slot, token, user_id, email, full_name, role, created_at)
		VALUES(1,?,?,?,?,?,?)
		ON CONFLICT(slot) DO UPDATE SET
		  token=excluded.token, user_id=excluded.user_id, email=excluded.email,
		  full_name=excluded.full_name, role=excluded.role, created_at=excluded.created_at`,
		ss.Token, ss.User.ID, ss.User.Email, ss.User.FullName, string(ss.User.Role),
		ss.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) Load(ctx context.Context) (Session, error) {
	var ss Session
	var role, created string
	err := s.db.QueryRowContext(ctx,
		`SELECT token, user_id, email, full_name, role, created_at FROM session WHERE slot=1`,
	).Scan(&ss.Token, &ss.User.ID, &ss.User.Email, &ss.User.FullName, &role, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, err
	}
	ss.User.Role = faults.Role(role)
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		ss.CreatedAt = t
	}
	return ss, nil
}

func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session`)
	return err
}
