// Package auth manages the user store and request authentication: basic
// credentials validated against the SQLite user database, and bearer tokens
// issued on a successful handshake.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/fluxbridge/fluxbridge/pkg/types"
)

// User statuses. Only active users may authenticate.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// User is one row of the user database. The password column stores the
// SHA-256 hex digest, never the plaintext.
type User struct {
	Email        string
	FirstName    string
	LastName     string
	Username     string
	PasswordHash string
	Status       string
	CreateTime   time.Time
	ModifyTime   time.Time
}

// UserStore is the SQLite-backed user database.
type UserStore struct {
	db *sql.DB
	mu sync.Mutex // single writer
}

const userSchemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	username TEXT PRIMARY KEY,
	email TEXT NOT NULL,
	first_name TEXT NOT NULL,
	last_name TEXT NOT NULL,
	password TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	createtime INTEGER NOT NULL,
	modifytime INTEGER NOT NULL
)`

// OpenUserStore opens (creating if needed) the user database at dbPath.
func OpenUserStore(dbPath string) (*UserStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("auth: failed to open user database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(userSchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("auth: failed to initialize user schema: %w", err)
	}
	return &UserStore{db: db}, nil
}

// HashPassword returns the stored form of a password.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// AddUser inserts a new user. An existing username is a conflict.
func (s *UserStore) AddUser(ctx context.Context, u User, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.Username == "" {
		return fmt.Errorf("auth: username is required")
	}
	if u.Status == "" {
		u.Status = StatusActive
	}
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, email, first_name, last_name, password, status, createtime, modifytime)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Username, u.Email, u.FirstName, u.LastName, HashPassword(password), u.Status, now, now,
	)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("auth: user %q: %w", u.Username, types.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("auth: failed to insert user %q: %w", u.Username, err)
	}
	return nil
}

// GetUser fetches one user by username.
func (s *UserStore) GetUser(ctx context.Context, username string) (*User, error) {
	var u User
	var createtime, modifytime int64
	err := s.db.QueryRowContext(ctx, `
		SELECT username, email, first_name, last_name, password, status, createtime, modifytime
		FROM users WHERE username = ?`, username,
	).Scan(&u.Username, &u.Email, &u.FirstName, &u.LastName, &u.PasswordHash, &u.Status, &createtime, &modifytime)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("auth: user %q: %w", username, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("auth: failed to fetch user %q: %w", username, err)
	}
	u.CreateTime = time.Unix(createtime, 0)
	u.ModifyTime = time.Unix(modifytime, 0)
	return &u, nil
}

// ListUsers returns all users ordered by username.
func (s *UserStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, email, first_name, last_name, password, status, createtime, modifytime
		FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var createtime, modifytime int64
		if err := rows.Scan(&u.Username, &u.Email, &u.FirstName, &u.LastName,
			&u.PasswordHash, &u.Status, &createtime, &modifytime); err != nil {
			return nil, fmt.Errorf("auth: failed to scan user row: %w", err)
		}
		u.CreateTime = time.Unix(createtime, 0)
		u.ModifyTime = time.Unix(modifytime, 0)
		users = append(users, u)
	}
	return users, rows.Err()
}

// ChangePassword replaces the stored password hash for a user.
func (s *UserStore) ChangePassword(ctx context.Context, username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password = ?, modifytime = ? WHERE username = ?`,
		HashPassword(password), time.Now().Unix(), username)
	if err != nil {
		return fmt.Errorf("auth: failed to change password for %q: %w", username, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("auth: failed to change password for %q: %w", username, err)
	}
	if n == 0 {
		return fmt.Errorf("auth: user %q: %w", username, types.ErrNotFound)
	}
	return nil
}

// SetStatus updates a user's status.
func (s *UserStore) SetStatus(ctx context.Context, username, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET status = ?, modifytime = ? WHERE username = ?`,
		status, time.Now().Unix(), username)
	if err != nil {
		return fmt.Errorf("auth: failed to set status for %q: %w", username, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("auth: failed to set status for %q: %w", username, err)
	}
	if n == 0 {
		return fmt.Errorf("auth: user %q: %w", username, types.ErrNotFound)
	}
	return nil
}

// DeleteUser removes a user.
func (s *UserStore) DeleteUser(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("auth: failed to delete user %q: %w", username, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("auth: failed to delete user %q: %w", username, err)
	}
	if n == 0 {
		return fmt.Errorf("auth: user %q: %w", username, types.ErrNotFound)
	}
	return nil
}

// ValidateCredentials checks a username/password pair against the store.
// Inactive users fail authentication even with the correct password.
func (s *UserStore) ValidateCredentials(ctx context.Context, username, password string) error {
	u, err := s.GetUser(ctx, username)
	if err != nil {
		return fmt.Errorf("auth: invalid credentials for %q: %w", username, types.ErrAuth)
	}
	hash := HashPassword(password)
	if subtle.ConstantTimeCompare([]byte(hash), []byte(u.PasswordHash)) != 1 {
		return fmt.Errorf("auth: invalid credentials for %q: %w", username, types.ErrAuth)
	}
	if u.Status != StatusActive {
		return fmt.Errorf("auth: user %q is not active: %w", username, types.ErrAuth)
	}
	return nil
}

// Close closes the underlying database.
func (s *UserStore) Close() error {
	return s.db.Close()
}
