package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/xxrust/device-version-manager/internal/storeerr"
)

const snapshotColumns = `id, device_id, observed_at, success, http_status, latency_ms, COALESCE(error,''),
	protocol_version, COALESCE(main_version,''), COALESCE(firmware_version,''), COALESCE(payload_json,'')`

// RecordSnapshot appends a new, immutable poll record and returns its id.
func (s *Store) RecordSnapshot(ctx context.Context, tx *sql.Tx, snap *Snapshot) (int64, error) {
	run := func(tx *sql.Tx) (int64, error) {
		id, err := nextID(ctx, tx, "device_snapshots_id_seq")
		if err != nil {
			return 0, err
		}
		_, execErr := tx.ExecContext(ctx, `
			INSERT INTO device_snapshots(id, device_id, observed_at, success, http_status, latency_ms, error,
				protocol_version, main_version, firmware_version, payload_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, snap.DeviceID, snap.ObservedAt, snap.Success, snap.HTTPStatus, snap.LatencyMS,
			nullableString(snap.Error), snap.ProtocolVersion, nullableString(snap.MainVersion),
			nullableString(snap.FirmwareVersion), nullableBytes(snap.Payload))
		if execErr != nil {
			return 0, storeerr.IO("record_snapshot", execErr)
		}
		return id, nil
	}

	if tx != nil {
		return run(tx)
	}

	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var innerErr error
		id, innerErr = run(tx)
		return innerErr
	})
	return id, err
}

func (s *Store) GetLatestSnapshot(ctx context.Context, deviceID int64) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+` FROM device_snapshots
		WHERE device_id = ? ORDER BY observed_at DESC, id DESC LIMIT 1`, deviceID)
	return scanSnapshotRow(row)
}

func (s *Store) GetLatestSuccessSnapshot(ctx context.Context, deviceID int64) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+` FROM device_snapshots
		WHERE device_id = ? AND success = TRUE ORDER BY observed_at DESC, id DESC LIMIT 1`, deviceID)
	return scanSnapshotRow(row)
}

func (s *Store) ListSnapshots(ctx context.Context, deviceID int64, limit, offset int, successOnly bool) ([]*Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM device_snapshots WHERE device_id = ?`
	args := []any{deviceID}
	if successOnly {
		query += ` AND success = TRUE`
	}
	query += ` ORDER BY observed_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeerr.IO("list_snapshots", err)
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshotFrom(rows)
		if err != nil {
			return nil, storeerr.IO("list_snapshots", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func scanSnapshotRow(row *sql.Row) (*Snapshot, error) {
	snap, err := scanSnapshotFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeerr.NotFound("get_snapshot", "snapshot not found")
	}
	if err != nil {
		return nil, storeerr.IO("get_snapshot", err)
	}
	return snap, nil
}

func scanSnapshotFrom(sc rowScanner) (*Snapshot, error) {
	snap := &Snapshot{}
	var payloadText string
	var httpStatus, latencyMS, protocolVersion sql.NullInt64
	if err := sc.Scan(&snap.ID, &snap.DeviceID, &snap.ObservedAt, &snap.Success, &httpStatus,
		&latencyMS, &snap.Error, &protocolVersion, &snap.MainVersion, &snap.FirmwareVersion,
		&payloadText); err != nil {
		return nil, err
	}
	if httpStatus.Valid {
		v := int(httpStatus.Int64)
		snap.HTTPStatus = &v
	}
	if latencyMS.Valid {
		v := int(latencyMS.Int64)
		snap.LatencyMS = &v
	}
	if protocolVersion.Valid {
		v := int(protocolVersion.Int64)
		snap.ProtocolVersion = &v
	}
	if payloadText != "" {
		snap.Payload = []byte(payloadText)
	}
	return snap, nil
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// nullableBlob is nullableBytes' counterpart for BLOB columns: it binds the
// raw bytes instead of wrapping them in a string, so arbitrary (non-UTF-8)
// binary such as gzip output survives the round trip.
func nullableBlob(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
