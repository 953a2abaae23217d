package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/examgen/internal/model"
)

// ErrAmbiguousLogin is returned when an email is shared by several
// accounts; login is blocked rather than guessing which one was meant.
var ErrAmbiguousLogin = fmt.Errorf("login matches more than one account")

// ErrUsernameTaken is returned when a profile update collides with an
// existing username.
var ErrUsernameTaken = fmt.Errorf("username already taken")

// CreateUser inserts a new user.
func (s *Store) CreateUser(u model.User) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO users (username, email, password_hash, role, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.Username, u.Email, u.PasswordHash, u.Role, u.Active, time.Now(),
	)
	if err != nil {
		slog.Error("failed to create user", "username", u.Username, "error", err)
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	slog.Info("created user", "id", id, "username", u.Username, "role", u.Role)
	return id, nil
}

// GetUserByLogin returns a user matched by username or email,
// case-insensitively. Returns nil when no account matches and
// ErrAmbiguousLogin when an email is shared by several accounts.
func (s *Store) GetUserByLogin(login string) (*model.User, error) {
	rows, err := s.db.Query(
		`SELECT id, username, email, password_hash, role, active, created_at
		 FROM users WHERE username = ? COLLATE NOCASE OR email = ? COLLATE NOCASE`,
		login, login,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch len(users) {
	case 0:
		return nil, nil
	case 1:
		return &users[0], nil
	default:
		return nil, ErrAmbiguousLogin
	}
}

// GetUserByID returns a user by ID.
func (s *Store) GetUserByID(id int64) (*model.User, error) {
	var u model.User
	err := s.db.QueryRow(
		`SELECT id, username, email, password_hash, role, active, created_at
		 FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.Active, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns all users.
func (s *Store) ListUsers() ([]model.User, error) {
	rows, err := s.db.Query(
		`SELECT id, username, email, password_hash, role, active, created_at
		 FROM users ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUserProfile changes a user's own username and email. The
// collision check is case-insensitive to match login resolution.
func (s *Store) UpdateUserProfile(id int64, username, email string) error {
	var other int64
	err := s.db.QueryRow(
		`SELECT id FROM users WHERE username = ? COLLATE NOCASE AND id != ?`,
		username, id,
	).Scan(&other)
	if err == nil {
		return ErrUsernameTaken
	}
	if err != sql.ErrNoRows {
		return err
	}

	_, err = s.db.Exec(`UPDATE users SET username = ?, email = ? WHERE id = ?`, username, email, id)
	return err
}

// DeleteUser removes a user account and its auth sessions.
func (s *Store) DeleteUser(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM auth_sessions WHERE user_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM users WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// UserCount returns the total number of users.
func (s *Store) UserCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}
