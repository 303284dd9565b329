package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/xxrust/device-version-manager/internal/storeerr"
)

const deviceColumns = `id, cluster_id, device_key, vendor, model, COALESCE(line_no,''), ip, port, protocol, path,
	auth_type, COALESCE(auth_token,''), enabled, COALESCE(last_state,''), last_state_at, created_at, updated_at`

func (s *Store) CreateDevice(ctx context.Context, d *Device) (*Device, error) {
	now := nowUTC()
	out := *d
	out.CreatedAt = now
	out.UpdatedAt = now
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		id, err := nextID(ctx, tx, "devices_id_seq")
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO devices(id, cluster_id, device_key, vendor, model, line_no, ip, port, protocol, path,
				auth_type, auth_token, enabled, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, out.ClusterID, out.DeviceKey, out.Vendor, out.Model, nullableString(out.LineNo),
			out.IP, out.Port, out.Protocol, out.Path, string(out.AuthType), nullableString(out.AuthToken),
			out.Enabled, now, now)
		if err != nil {
			return conflictOrIO(ctx, "create_device", err)
		}
		out.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpsertDeviceByKey inserts a device identified by device_key, or updates the
// identity/transport fields of an existing one. Returns the id and whether a
// new row was created.
func (s *Store) UpsertDeviceByKey(ctx context.Context, d *Device) (id int64, action string, err error) {
	now := nowUTC()
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var existingID int64
		scanErr := tx.QueryRowContext(ctx, `SELECT id FROM devices WHERE device_key = ?`, d.DeviceKey).Scan(&existingID)
		switch {
		case errors.Is(scanErr, sql.ErrNoRows):
			newID, nerr := nextID(ctx, tx, "devices_id_seq")
			if nerr != nil {
				return nerr
			}
			_, execErr := tx.ExecContext(ctx, `
				INSERT INTO devices(id, cluster_id, device_key, vendor, model, line_no, ip, port, protocol, path,
					auth_type, auth_token, enabled, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				newID, d.ClusterID, d.DeviceKey, d.Vendor, d.Model, nullableString(d.LineNo),
				d.IP, d.Port, d.Protocol, d.Path, string(d.AuthType), nullableString(d.AuthToken), d.Enabled, now, now)
			if execErr != nil {
				return conflictOrIO(ctx, "upsert_device", execErr)
			}
			id = newID
			action = "created"
			return nil
		case scanErr != nil:
			return storeerr.IO("upsert_device", scanErr)
		default:
			_, execErr := tx.ExecContext(ctx, `
				UPDATE devices SET cluster_id=?, vendor=?, model=?, line_no=?, ip=?, port=?, protocol=?, path=?,
					auth_type=?, auth_token=?, enabled=?, updated_at=?
				WHERE id=?`,
				d.ClusterID, d.Vendor, d.Model, nullableString(d.LineNo), d.IP, d.Port, d.Protocol, d.Path,
				string(d.AuthType), nullableString(d.AuthToken), d.Enabled, now, existingID)
			if execErr != nil {
				return storeerr.IO("upsert_device", execErr)
			}
			id = existingID
			action = "updated"
			return nil
		}
	})
	return id, action, err
}

func (s *Store) UpdateDevice(ctx context.Context, id int64, upd DeviceUpdate) (*Device, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := getDeviceTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if upd.ClusterID != nil {
			cur.ClusterID = *upd.ClusterID
		}
		if upd.DeviceKey != nil {
			cur.DeviceKey = *upd.DeviceKey
		}
		if upd.Vendor != nil {
			cur.Vendor = *upd.Vendor
		}
		if upd.Model != nil {
			cur.Model = *upd.Model
		}
		if upd.LineNo != nil {
			cur.LineNo = *upd.LineNo
		}
		if upd.IP != nil {
			cur.IP = *upd.IP
		}
		if upd.Port != nil {
			cur.Port = *upd.Port
		}
		if upd.Protocol != nil {
			cur.Protocol = *upd.Protocol
		}
		if upd.Path != nil {
			cur.Path = *upd.Path
		}
		if upd.AuthType != nil {
			cur.AuthType = *upd.AuthType
		}
		if upd.AuthToken != nil {
			cur.AuthToken = *upd.AuthToken
		}
		if upd.Enabled != nil {
			cur.Enabled = *upd.Enabled
		}
		now := nowUTC()
		_, execErr := tx.ExecContext(ctx, `
			UPDATE devices SET cluster_id=?, device_key=?, vendor=?, model=?, line_no=?, ip=?, port=?, protocol=?,
				path=?, auth_type=?, auth_token=?, enabled=?, updated_at=?
			WHERE id=?`,
			cur.ClusterID, cur.DeviceKey, cur.Vendor, cur.Model, nullableString(cur.LineNo), cur.IP, cur.Port,
			cur.Protocol, cur.Path, string(cur.AuthType), nullableString(cur.AuthToken), cur.Enabled, now, id)
		if execErr != nil {
			return conflictOrIO(ctx, "update_device", execErr)
		}
		cur.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetDevice(ctx, id)
}

func (s *Store) DeleteDevice(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE device_id = ?`, id); err != nil {
			return storeerr.IO("delete_device", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM controlled_file_observations WHERE device_id = ?`, id); err != nil {
			return storeerr.IO("delete_device", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM device_snapshots WHERE device_id = ?`, id); err != nil {
			return storeerr.IO("delete_device", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
		if err != nil {
			return storeerr.IO("delete_device", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return storeerr.NotFound("delete_device", "device not found")
		}
		return nil
	})
}

func (s *Store) GetDevice(ctx context.Context, id int64) (*Device, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
	return scanDevice(row)
}

func getDeviceTx(ctx context.Context, tx *sql.Tx, id int64) (*Device, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
	return scanDevice(row)
}

func (s *Store) GetDeviceByKey(ctx context.Context, key string) (*Device, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE device_key = ?`, key)
	return scanDevice(row)
}

// ListDevices returns devices, optionally filtered by cluster and/or enabled-only.
func (s *Store) ListDevices(ctx context.Context, clusterID *int64, enabledOnly bool) ([]*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE 1=1`
	var args []any
	if clusterID != nil {
		query += ` AND cluster_id = ?`
		args = append(args, *clusterID)
	}
	if enabledOnly {
		query += ` AND enabled = TRUE`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeerr.IO("list_devices", err)
	}
	defer rows.Close()

	var out []*Device
	for rows.Next() {
		d, err := scanDeviceRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateDeviceState sets last_state/last_state_at to now. Used by the Reconciler
// (on transition) and by the ack endpoint (forcing the state back to "ok").
func (s *Store) UpdateDeviceState(ctx context.Context, id int64, state string) error {
	now := nowUTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE devices SET last_state=?, last_state_at=? WHERE id=?`, state, now, id)
		if err != nil {
			return storeerr.IO("update_device_state", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return storeerr.NotFound("update_device_state", "device not found")
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row *sql.Row) (*Device, error) {
	d, err := scanDeviceFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeerr.NotFound("get_device", "device not found")
	}
	if err != nil {
		return nil, storeerr.IO("get_device", err)
	}
	return d, nil
}

func scanDeviceRows(rows *sql.Rows) (*Device, error) {
	d, err := scanDeviceFrom(rows)
	if err != nil {
		return nil, storeerr.IO("list_devices", err)
	}
	return d, nil
}

func scanDeviceFrom(sc rowScanner) (*Device, error) {
	d := &Device{}
	var authType string
	var lastStateAt sql.NullTime
	err := sc.Scan(&d.ID, &d.ClusterID, &d.DeviceKey, &d.Vendor, &d.Model, &d.LineNo, &d.IP, &d.Port,
		&d.Protocol, &d.Path, &authType, &d.AuthToken, &d.Enabled, &d.LastState, &lastStateAt,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.AuthType = DeviceAuthType(authType)
	if lastStateAt.Valid {
		d.LastStateAt = &lastStateAt.Time
	}
	return d, nil
}
