package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/xxrust/device-version-manager/internal/storeerr"
)

const catalogColumns = `id, vendor, model, main_version, COALESCE(changelog_md,''), COALESCE(released_at,''),
	COALESCE(risk_level,''), COALESCE(checksum,''), created_at`

// UpsertVersionCatalogEntry creates or replaces the metadata for a (vendor, model, main_version) triple.
func (s *Store) UpsertVersionCatalogEntry(ctx context.Context, e *VersionCatalogEntry) (*VersionCatalogEntry, error) {
	now := nowUTC()
	out := *e
	out.CreatedAt = now
	txErr := s.withTx(ctx, func(tx *sql.Tx) error {
		var existingID int64
		scanErr := tx.QueryRowContext(ctx,
			`SELECT id FROM version_catalog WHERE vendor=? AND model=? AND main_version=?`,
			e.Vendor, e.Model, e.MainVersion).Scan(&existingID)
		switch {
		case errors.Is(scanErr, sql.ErrNoRows):
			id, nerr := nextID(ctx, tx, "version_catalog_id_seq")
			if nerr != nil {
				return nerr
			}
			_, execErr := tx.ExecContext(ctx, `
				INSERT INTO version_catalog(id, vendor, model, main_version, changelog_md, released_at, risk_level, checksum, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				id, e.Vendor, e.Model, e.MainVersion, nullableString(e.ChangelogMD), nullableString(e.ReleasedAt),
				nullableString(e.RiskLevel), nullableString(e.Checksum), now)
			if execErr != nil {
				return storeerr.IO("upsert_version_catalog", execErr)
			}
			out.ID = id
			return nil
		case scanErr != nil:
			return storeerr.IO("upsert_version_catalog", scanErr)
		default:
			_, execErr := tx.ExecContext(ctx, `
				UPDATE version_catalog SET changelog_md=?, released_at=?, risk_level=?, checksum=? WHERE id=?`,
				nullableString(e.ChangelogMD), nullableString(e.ReleasedAt), nullableString(e.RiskLevel),
				nullableString(e.Checksum), existingID)
			if execErr != nil {
				return storeerr.IO("upsert_version_catalog", execErr)
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

// EnsureVersionCatalogEntry inserts a bare (vendor, model, main_version) row
// with all metadata NULL if one doesn't already exist. Called by the
// Reconciler on every successful probe of a new version; never overwrites
// metadata an operator has already filled in.
func (s *Store) EnsureVersionCatalogEntry(ctx context.Context, vendor, model, mainVersion string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var existingID int64
		scanErr := tx.QueryRowContext(ctx,
			`SELECT id FROM version_catalog WHERE vendor=? AND model=? AND main_version=?`,
			vendor, model, mainVersion).Scan(&existingID)
		if scanErr == nil {
			return nil
		}
		if !errors.Is(scanErr, sql.ErrNoRows) {
			return storeerr.IO("ensure_version_catalog_entry", scanErr)
		}
		id, nerr := nextID(ctx, tx, "version_catalog_id_seq")
		if nerr != nil {
			return nerr
		}
		_, execErr := tx.ExecContext(ctx, `
			INSERT INTO version_catalog(id, vendor, model, main_version, created_at) VALUES (?, ?, ?, ?, ?)`,
			id, vendor, model, mainVersion, nowUTC())
		if execErr != nil {
			return storeerr.IO("ensure_version_catalog_entry", execErr)
		}
		return nil
	})
}

func (s *Store) GetVersionCatalogEntry(ctx context.Context, vendor, model, mainVersion string) (*VersionCatalogEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+catalogColumns+` FROM version_catalog WHERE vendor=? AND model=? AND main_version=?`,
		vendor, model, mainVersion)
	e, err := scanCatalogFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeerr.NotFound("get_version_catalog_entry", "catalog entry not found")
	}
	if err != nil {
		return nil, storeerr.IO("get_version_catalog_entry", err)
	}
	return e, nil
}

func (s *Store) ListVersionCatalog(ctx context.Context, vendor, model *string) ([]*VersionCatalogEntry, error) {
	query := `SELECT ` + catalogColumns + ` FROM version_catalog WHERE 1=1`
	var args []any
	if vendor != nil {
		query += ` AND vendor = ?`
		args = append(args, *vendor)
	}
	if model != nil {
		query += ` AND model = ?`
		args = append(args, *model)
	}
	query += ` ORDER BY vendor, model, main_version`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeerr.IO("list_version_catalog", err)
	}
	defer rows.Close()

	var out []*VersionCatalogEntry
	for rows.Next() {
		e, err := scanCatalogFrom(rows)
		if err != nil {
			return nil, storeerr.IO("list_version_catalog", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanCatalogFrom(sc rowScanner) (*VersionCatalogEntry, error) {
	e := &VersionCatalogEntry{}
	if err := sc.Scan(&e.ID, &e.Vendor, &e.Model, &e.MainVersion, &e.ChangelogMD, &e.ReleasedAt,
		&e.RiskLevel, &e.Checksum, &e.CreatedAt); err != nil {
		return nil, err
	}
	return e, nil
}
