package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/xxrust/device-version-manager/internal/storeerr"
)

// CreateSession issues a new session row backing the vm_session cookie, valid
// for ttl from now. The ttlcache layer in internal/auth memoizes lookups
// against this table; the table itself remains the source of truth.
func (s *Store) CreateSession(ctx context.Context, u *User, ttl time.Duration) (*Session, error) {
	now := nowUTC()
	sess := &Session{
		ID:        uuid.NewString(),
		UserID:    u.ID,
		Username:  u.Username,
		Role:      u.Role,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, execErr := tx.ExecContext(ctx,
			`INSERT INTO sessions(id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
			sess.ID, sess.UserID, sess.CreatedAt, sess.ExpiresAt)
		if execErr != nil {
			return storeerr.IO("create_session", execErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// GetSession resolves a session id to its principal, joining against users so
// a username/role rename takes effect on the next lookup. Returns
// storeerr.KindNotFound for an unknown or expired session.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.user_id, u.username, u.role, s.created_at, s.expires_at
		FROM sessions s JOIN users u ON u.id = s.user_id
		WHERE s.id = ?`, id)

	sess := &Session{}
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Username, &sess.Role, &sess.CreatedAt, &sess.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeerr.NotFound("get_session", "session not found")
	}
	if err != nil {
		return nil, storeerr.IO("get_session", err)
	}
	if sess.ExpiresAt.Before(nowUTC()) {
		return nil, storeerr.NotFound("get_session", "session expired")
	}
	return sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
			return storeerr.IO("delete_session", err)
		}
		return nil
	})
}

// DeleteExpiredSessions prunes expired rows. No component calls it on a
// timer (the Scheduler's periodic loop does not); GetSession already treats
// expired rows as absent.
func (s *Store) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, execErr := tx.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, nowUTC())
		if execErr != nil {
			return storeerr.IO("delete_expired_sessions", execErr)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}
