package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/xxrust/device-version-manager/internal/storeerr"
)

// UpsertControlledFileRule creates or replaces the rule for a (cluster, vendor, model) triple.
func (s *Store) UpsertControlledFileRule(ctx context.Context, r *ControlledFileRule) (*ControlledFileRule, error) {
	if r.MaxBytes < 0 || r.MaxBytes > 2_000_000 {
		return nil, storeerr.Invalid("upsert_controlled_file_rule", "max_bytes out of range [0, 2000000]")
	}
	pathsJSON, err := json.Marshal(cleanGlobs(r.Paths))
	if err != nil {
		return nil, storeerr.Invalid("upsert_controlled_file_rule", "invalid paths")
	}
	now := nowUTC()
	out := *r
	out.CreatedAt = now
	txErr := s.withTx(ctx, func(tx *sql.Tx) error {
		var existingID int64
		scanErr := tx.QueryRowContext(ctx,
			`SELECT id FROM controlled_file_rules WHERE cluster_id=? AND vendor=? AND model=?`,
			r.ClusterID, r.Vendor, r.Model).Scan(&existingID)
		switch {
		case errors.Is(scanErr, sql.ErrNoRows):
			id, nerr := nextID(ctx, tx, "controlled_file_rules_id_seq")
			if nerr != nil {
				return nerr
			}
			_, execErr := tx.ExecContext(ctx, `
				INSERT INTO controlled_file_rules(id, cluster_id, vendor, model, paths_json, mode, max_bytes, note, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				id, r.ClusterID, r.Vendor, r.Model, string(pathsJSON), string(r.Mode), r.MaxBytes, nullableString(r.Note), now)
			if execErr != nil {
				return storeerr.IO("upsert_controlled_file_rule", execErr)
			}
			out.ID = id
			return nil
		case scanErr != nil:
			return storeerr.IO("upsert_controlled_file_rule", scanErr)
		default:
			_, execErr := tx.ExecContext(ctx, `
				UPDATE controlled_file_rules SET paths_json=?, mode=?, max_bytes=?, note=? WHERE id=?`,
				string(pathsJSON), string(r.Mode), r.MaxBytes, nullableString(r.Note), existingID)
			if execErr != nil {
				return storeerr.IO("upsert_controlled_file_rule", execErr)
			}
			out.ID = existingID
			return nil
		}
	})
	if txErr != nil {
		return nil, txErr
	}
	return &out, nil
}

func (s *Store) GetControlledFileRule(ctx context.Context, clusterID int64, vendor, model string) (*ControlledFileRule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, cluster_id, vendor, model, paths_json, mode, max_bytes, COALESCE(note,''), created_at
		FROM controlled_file_rules WHERE cluster_id=? AND vendor=? AND model=?`, clusterID, vendor, model)
	r, err := scanRuleFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeerr.NotFound("get_controlled_file_rule", "rule not found")
	}
	if err != nil {
		return nil, storeerr.IO("get_controlled_file_rule", err)
	}
	return r, nil
}

func (s *Store) ListControlledFileRules(ctx context.Context, clusterID *int64) ([]*ControlledFileRule, error) {
	query := `SELECT id, cluster_id, vendor, model, paths_json, mode, max_bytes, COALESCE(note,''), created_at
		FROM controlled_file_rules WHERE 1=1`
	var args []any
	if clusterID != nil {
		query += ` AND cluster_id = ?`
		args = append(args, *clusterID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeerr.IO("list_controlled_file_rules", err)
	}
	defer rows.Close()

	var out []*ControlledFileRule
	for rows.Next() {
		r, err := scanRuleFrom(rows)
		if err != nil {
			return nil, storeerr.IO("list_controlled_file_rules", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteControlledFileRule(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM controlled_file_rules WHERE id = ?`, id)
		if err != nil {
			return storeerr.IO("delete_controlled_file_rule", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return storeerr.NotFound("delete_controlled_file_rule", "rule not found")
		}
		return nil
	})
}

func scanRuleFrom(sc rowScanner) (*ControlledFileRule, error) {
	r := &ControlledFileRule{}
	var pathsJSON, mode string
	if err := sc.Scan(&r.ID, &r.ClusterID, &r.Vendor, &r.Model, &pathsJSON, &mode, &r.MaxBytes, &r.Note, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Mode = RuleMode(mode)
	_ = json.Unmarshal([]byte(pathsJSON), &r.Paths)
	return r, nil
}
