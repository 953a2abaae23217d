package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"time"

	"github.com/pavelanni/examgen/internal/model"
)

// defaultAuthSessionTTL is how long a login token stays valid unless
// the server overrides it (see the session-ttl flag).
const defaultAuthSessionTTL = 24 * time.Hour

// SetAuthSessionTTL overrides the lifetime applied to newly issued
// login tokens.
func (s *Store) SetAuthSessionTTL(ttl time.Duration) {
	s.authTTL = ttl
}

// CreateAuthSession issues a login token for the user, valid for the
// store's configured TTL.
func (s *Store) CreateAuthSession(userID int64) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO auth_sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		token, userID, now, now.Add(s.authTTL),
	)
	if err != nil {
		return "", err
	}
	return token, nil
}

// GetAuthSession resolves a login token. Unknown and expired tokens
// both come back nil; expired rows are left for the cleanup sweep.
func (s *Store) GetAuthSession(token string) (*model.AuthSession, error) {
	var sess model.AuthSession
	err := s.db.QueryRow(
		`SELECT id, user_id, created_at, expires_at FROM auth_sessions
		 WHERE id = ? AND expires_at > ?`, token, time.Now(),
	).Scan(&sess.ID, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// DeleteAuthSession revokes a login token.
func (s *Store) DeleteAuthSession(token string) error {
	_, err := s.db.Exec(`DELETE FROM auth_sessions WHERE id = ?`, token)
	return err
}

// CleanupExpiredSessions deletes auth sessions past their expiry and
// reports how many were removed. The reaper runs this on every sweep.
func (s *Store) CleanupExpiredSessions() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM auth_sessions WHERE expires_at <= ?`, time.Now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
