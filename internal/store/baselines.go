package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path"
	"strings"

	"github.com/xxrust/device-version-manager/internal/storeerr"
)

// UpsertBaseline creates or replaces the baseline for a (cluster, vendor, model) triple.
func (s *Store) UpsertBaseline(ctx context.Context, b *Baseline) (*Baseline, error) {
	globsJSON, err := json.Marshal(cleanGlobs(b.AllowedMainGlobs))
	if err != nil {
		return nil, storeerr.Invalid("upsert_baseline", "invalid allowed_main_globs")
	}
	now := nowUTC()
	out := *b
	out.CreatedAt = now
	txErr := s.withTx(ctx, func(tx *sql.Tx) error {
		var existingID int64
		scanErr := tx.QueryRowContext(ctx,
			`SELECT id FROM baselines WHERE cluster_id=? AND vendor=? AND model=?`,
			b.ClusterID, b.Vendor, b.Model).Scan(&existingID)
		switch {
		case errors.Is(scanErr, sql.ErrNoRows):
			id, nerr := nextID(ctx, tx, "baselines_id_seq")
			if nerr != nil {
				return nerr
			}
			_, execErr := tx.ExecContext(ctx, `
				INSERT INTO baselines(id, cluster_id, vendor, model, expected_main_version,
					allowed_main_globs_json, note, effective_from, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				id, b.ClusterID, b.Vendor, b.Model, b.ExpectedMainVersion, string(globsJSON),
				nullableString(b.Note), nullableString(b.EffectiveFrom), now)
			if execErr != nil {
				return storeerr.IO("upsert_baseline", execErr)
			}
			out.ID = id
			return nil
		case scanErr != nil:
			return storeerr.IO("upsert_baseline", scanErr)
		default:
			_, execErr := tx.ExecContext(ctx, `
				UPDATE baselines SET expected_main_version=?, allowed_main_globs_json=?, note=?, effective_from=?
				WHERE id=?`,
				b.ExpectedMainVersion, string(globsJSON), nullableString(b.Note), nullableString(b.EffectiveFrom), existingID)
			if execErr != nil {
				return storeerr.IO("upsert_baseline", execErr)
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

func (s *Store) GetBaseline(ctx context.Context, clusterID int64, vendor, model string) (*Baseline, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, cluster_id, vendor, model, expected_main_version, COALESCE(allowed_main_globs_json,'[]'),
			COALESCE(note,''), COALESCE(effective_from,''), created_at
		FROM baselines WHERE cluster_id=? AND vendor=? AND model=?`, clusterID, vendor, model)
	return scanBaseline(row)
}

func (s *Store) ListBaselines(ctx context.Context, clusterID *int64) ([]*Baseline, error) {
	query := `SELECT id, cluster_id, vendor, model, expected_main_version, COALESCE(allowed_main_globs_json,'[]'),
		COALESCE(note,''), COALESCE(effective_from,''), created_at FROM baselines WHERE 1=1`
	var args []any
	if clusterID != nil {
		query += ` AND cluster_id = ?`
		args = append(args, *clusterID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeerr.IO("list_baselines", err)
	}
	defer rows.Close()

	var out []*Baseline
	for rows.Next() {
		b, err := scanBaselineFrom(rows)
		if err != nil {
			return nil, storeerr.IO("list_baselines", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) DeleteBaseline(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM baselines WHERE id = ?`, id)
		if err != nil {
			return storeerr.IO("delete_baseline", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return storeerr.NotFound("delete_baseline", "baseline not found")
		}
		return nil
	})
}

func scanBaseline(row *sql.Row) (*Baseline, error) {
	b, err := scanBaselineFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeerr.NotFound("get_baseline", "baseline not found")
	}
	if err != nil {
		return nil, storeerr.IO("get_baseline", err)
	}
	return b, nil
}

func scanBaselineFrom(sc rowScanner) (*Baseline, error) {
	b := &Baseline{}
	var globsJSON string
	if err := sc.Scan(&b.ID, &b.ClusterID, &b.Vendor, &b.Model, &b.ExpectedMainVersion, &globsJSON,
		&b.Note, &b.EffectiveFrom, &b.CreatedAt); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(globsJSON), &b.AllowedMainGlobs)
	return b, nil
}

func cleanGlobs(globs []string) []string {
	out := make([]string, 0, len(globs))
	for _, g := range globs {
		g = strings.TrimSpace(g)
		if g != "" {
			out = append(out, g)
		}
	}
	return out
}

// BaselineAllows reports whether an observed main version conforms to a
// baseline: exact match on expected_main_version, or a match against any of
// allowed_main_globs via case-sensitive shell-glob semantics. Pure and
// idempotent; independent of call order (§8).
func BaselineAllows(b *Baseline, observed string) bool {
	if b == nil {
		return false
	}
	if observed == b.ExpectedMainVersion {
		return true
	}
	for _, g := range b.AllowedMainGlobs {
		if ok, err := path.Match(g, observed); err == nil && ok {
			return true
		}
	}
	return false
}
