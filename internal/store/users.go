package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/xxrust/device-version-manager/internal/storeerr"
)

func (s *Store) CreateUser(ctx context.Context, u *User) (*User, error) {
	now := nowUTC()
	out := *u
	out.CreatedAt = now
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		id, err := nextID(ctx, tx, "users_id_seq")
		if err != nil {
			return err
		}
		_, execErr := tx.ExecContext(ctx, `
			INSERT INTO users(id, username, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?)`,
			id, out.Username, out.PasswordHash, out.Role, now)
		if execErr != nil {
			return conflictOrIO(ctx, "create_user", execErr)
		}
		out.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, role, created_at FROM users WHERE username = ?`, username)
	u := &User{}
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeerr.NotFound("get_user_by_username", "user not found")
	}
	if err != nil {
		return nil, storeerr.IO("get_user_by_username", err)
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, username, password_hash, role, created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, storeerr.IO("list_users", err)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
			return nil, storeerr.IO("list_users", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
