package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/xxrust/device-version-manager/internal/storeerr"
)

// RecordObservation inserts a controlled-file observation, compressing the
// content blob with gzip when that makes it smaller. A (device, path,
// fingerprint) triple is immutable once written: Store.GetObservation below
// is the content-addressed read path the Differ consults before fetching a
// file's content again.
func (s *Store) RecordObservation(ctx context.Context, tx *sql.Tx, o *ControlledFileObservation) error {
	run := func(tx *sql.Tx) error {
		compressed, raw, err := compressContent(o.ContentB64)
		if err != nil {
			return storeerr.Invalid("record_observation", "could not compress content")
		}
		now := nowUTC()
		_, execErr := tx.ExecContext(ctx, `
			INSERT INTO controlled_file_observations(device_id, path, fingerprint, snapshot_id,
				content_b64, encoding, content_type, truncated, source, compressed, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (device_id, path, fingerprint) DO NOTHING`,
			o.DeviceID, o.Path, o.Fingerprint, o.SnapshotID, nullableBlob(raw), nullableString(o.Encoding),
			nullableString(o.ContentType), o.Truncated, o.Source, compressed, now)
		if execErr != nil {
			return storeerr.IO("record_observation", execErr)
		}
		return nil
	}

	if tx != nil {
		return run(tx)
	}
	return s.withTx(ctx, run)
}

func (s *Store) GetObservation(ctx context.Context, deviceID int64, path, fingerprint string) (*ControlledFileObservation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT device_id, path, fingerprint, snapshot_id, content_b64, COALESCE(encoding,''),
			COALESCE(content_type,''), truncated, source, compressed, created_at
		FROM controlled_file_observations WHERE device_id=? AND path=? AND fingerprint=?`,
		deviceID, path, fingerprint)

	o := &ControlledFileObservation{}
	var content []byte
	var compressed bool
	if err := row.Scan(&o.DeviceID, &o.Path, &o.Fingerprint, &o.SnapshotID, &content, &o.Encoding,
		&o.ContentType, &o.Truncated, &o.Source, &compressed, &o.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storeerr.NotFound("get_observation", "observation not found")
		}
		return nil, storeerr.IO("get_observation", err)
	}
	if content != nil {
		text, err := decompressContent(content, compressed)
		if err != nil {
			return nil, storeerr.IO("get_observation", err)
		}
		o.ContentB64 = text
	}
	return o, nil
}

// compressContent gzips s and returns (true, gzippedBytes) when that shrinks
// the payload, otherwise (false, rawBytes) unchanged. Small blobs are not
// worth the gzip framing overhead. The result is arbitrary binary, not valid
// UTF-8, so it must land in a BLOB column rather than TEXT/VARCHAR.
func compressContent(s string) (compressed bool, out []byte, err error) {
	if s == "" {
		return false, nil, nil
	}
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write([]byte(s)); err != nil {
		return false, nil, err
	}
	if err := w.Close(); err != nil {
		return false, nil, err
	}
	if buf.Len() >= len(s) {
		return false, []byte(s), nil
	}
	return true, buf.Bytes(), nil
}

func decompressContent(b []byte, compressed bool) (string, error) {
	if !compressed || len(b) == 0 {
		return string(b), nil
	}
	r, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
