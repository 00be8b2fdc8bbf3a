package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// User is a web-app account allowed to use the scanner endpoints.
type User struct {
	ID          string
	Name        string
	Deactivated bool
	Permissions []string
}

// HasPermission reports whether the user carries the named permission.
func (u *User) HasPermission(name string) bool {
	for _, p := range u.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

// UpsertUser creates or replaces a user row.
func (db *DB) UpsertUser(ctx context.Context, user User) error {
	perms, err := json.Marshal(user.Permissions)
	if err != nil {
		return fmt.Errorf("failed to encode permissions: %w", err)
	}
	deactivated := 0
	if user.Deactivated {
		deactivated = 1
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO users (id, name, deactivated, permissions) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		     name = excluded.name,
		     deactivated = excluded.deactivated,
		     permissions = excluded.permissions`,
		user.ID, user.Name, deactivated, string(perms))
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// CreateSession stores a session token for a user.
func (db *DB) CreateSession(ctx context.Context, token, userID string, expiresAt time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO sessions (token, user_id, expires_at) VALUES (?, ?, ?)`,
		token, userID, expiresAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// SessionUser resolves a session token to its user. Returns (nil, nil) when
// the session is unknown or expired.
func (db *DB) SessionUser(ctx context.Context, token string, now time.Time) (*User, error) {
	var (
		user        User
		deactivated int
		perms       string
		expiresAt   string
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT u.id, u.name, u.deactivated, u.permissions, s.expires_at
		 FROM sessions s JOIN users u ON u.id = s.user_id
		 WHERE s.token = ?`, token).
		Scan(&user.ID, &user.Name, &deactivated, &perms, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	expiry, err := time.Parse(timeFormat, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse session expiry: %w", err)
	}
	if !now.Before(expiry) {
		return nil, nil
	}

	user.Deactivated = deactivated != 0
	if err := json.Unmarshal([]byte(perms), &user.Permissions); err != nil {
		return nil, fmt.Errorf("failed to decode permissions: %w", err)
	}
	return &user, nil
}
