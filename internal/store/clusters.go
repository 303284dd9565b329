package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/xxrust/device-version-manager/internal/storeerr"
)

// CreateCluster inserts a new cluster. Fails with storeerr.KindConflict if
// the name already exists.
func (s *Store) CreateCluster(ctx context.Context, name, description string) (*Cluster, error) {
	c := &Cluster{Name: name, Description: description, CreatedAt: nowUTC()}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		id, err := nextID(ctx, tx, "clusters_id_seq")
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO clusters(id, name, description, created_at) VALUES (?, ?, ?, ?)`,
			id, name, nullableString(description), c.CreatedAt)
		if err != nil {
			return conflictOrIO(ctx, "create_cluster", err)
		}
		c.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) GetCluster(ctx context.Context, id int64) (*Cluster, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, COALESCE(description,''), created_at FROM clusters WHERE id = ?`, id)
	return scanCluster(row)
}

func (s *Store) GetClusterByName(ctx context.Context, name string) (*Cluster, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, COALESCE(description,''), created_at FROM clusters WHERE name = ?`, name)
	return scanCluster(row)
}

func (s *Store) ListClusters(ctx context.Context) ([]*Cluster, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, COALESCE(description,''), created_at FROM clusters ORDER BY id`)
	if err != nil {
		return nil, storeerr.IO("list_clusters", err)
	}
	defer rows.Close()

	var out []*Cluster
	for rows.Next() {
		c := &Cluster{}
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt); err != nil {
			return nil, storeerr.IO("list_clusters", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCluster(row *sql.Row) (*Cluster, error) {
	c := &Cluster{}
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeerr.NotFound("get_cluster", "cluster not found")
	}
	if err != nil {
		return nil, storeerr.IO("get_cluster", err)
	}
	return c, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// conflictOrIO classifies a write error as a unique-constraint conflict when
// the driver reports one, otherwise as a plain IO error.
func conflictOrIO(_ context.Context, op string, err error) error {
	if isUniqueViolation(err) {
		return storeerr.Conflict(op, fmt.Sprintf("%s: unique constraint violated", op))
	}
	return storeerr.IO(op, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	// DuckDB's Go driver surfaces constraint violations as plain error
	// strings rather than a typed code; match on the message it emits
	// for its unique/primary-key constraints.
	for _, sub := range []string{"Duplicate key", "UNIQUE constraint", "violates unique", "PRIMARY KEY"} {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}
