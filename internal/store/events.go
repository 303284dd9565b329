package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/xxrust/device-version-manager/internal/storeerr"
)

const eventColumns = `id, device_id, created_at, event_type, COALESCE(old_state,''), COALESCE(new_state,''),
	COALESCE(message,''), COALESCE(payload_json,'')`

// CreateEvent appends an append-only event row, optionally inside an
// in-flight transaction (tx != nil) so it commits atomically alongside the
// snapshot/state change that produced it.
func (s *Store) CreateEvent(ctx context.Context, tx *sql.Tx, e *Event) (int64, error) {
	run := func(tx *sql.Tx) (int64, error) {
		id, err := nextID(ctx, tx, "events_id_seq")
		if err != nil {
			return 0, err
		}
		now := nowUTC()
		_, execErr := tx.ExecContext(ctx, `
			INSERT INTO events(id, device_id, created_at, event_type, old_state, new_state, message, payload_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, e.DeviceID, now, e.EventType, nullableString(e.OldState), nullableString(e.NewState),
			nullableString(e.Message), nullableBytes(e.Payload))
		if execErr != nil {
			return 0, storeerr.IO("create_event", execErr)
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

// ListEvents returns events newest-first, optionally scoped to one device.
func (s *Store) ListEvents(ctx context.Context, deviceID *int64, limit, offset int) ([]*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE 1=1`
	var args []any
	if deviceID != nil {
		query += ` AND device_id = ?`
		args = append(args, *deviceID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeerr.IO("list_events", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		e, err := scanEventFrom(rows)
		if err != nil {
			return nil, storeerr.IO("list_events", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestUnackedControlledFilesChange returns the most recent
// controlled_files_change event for a device that has no later
// controlled_files_ack, or nil if none. "Later" compares created_at and, for
// events written within the same second, the event id. This is the sticky
// part of the files_changed status (see Store.ListStatus), which only an ack
// event clears.
func (s *Store) LatestUnackedControlledFilesChange(ctx context.Context, deviceID int64) (*Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM events c
		WHERE c.device_id = ? AND c.event_type = ?
		AND NOT EXISTS (
			SELECT 1 FROM events a
			WHERE a.device_id = c.device_id AND a.event_type = ?
			AND (a.created_at > c.created_at OR (a.created_at = c.created_at AND a.id > c.id))
		)
		ORDER BY c.created_at DESC, c.id DESC LIMIT 1`,
		deviceID, EventControlledFilesChange, EventControlledFilesAck)

	e, err := scanEventFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeerr.IO("latest_unacked_controlled_files_change", err)
	}
	return e, nil
}

func scanEventFrom(sc rowScanner) (*Event, error) {
	e := &Event{}
	var payloadText string
	if err := sc.Scan(&e.ID, &e.DeviceID, &e.CreatedAt, &e.EventType, &e.OldState, &e.NewState,
		&e.Message, &payloadText); err != nil {
		return nil, err
	}
	if payloadText != "" {
		e.Payload = []byte(payloadText)
	}
	return e, nil
}
