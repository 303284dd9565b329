package store

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaStatements creates every table used by the manager if it does not
// already exist. Each statement is independent so a fresh embedded database
// file and an upgraded older one converge on the same shape.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS clusters (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE SEQUENCE IF NOT EXISTS clusters_id_seq START 1`,

	`CREATE TABLE IF NOT EXISTS devices (
		id BIGINT PRIMARY KEY,
		cluster_id BIGINT NOT NULL,
		device_key TEXT NOT NULL UNIQUE,
		vendor TEXT NOT NULL,
		model TEXT NOT NULL,
		ip TEXT NOT NULL,
		port INTEGER NOT NULL,
		protocol TEXT NOT NULL,
		path TEXT NOT NULL,
		auth_type TEXT NOT NULL,
		auth_token TEXT,
		enabled BOOLEAN NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE SEQUENCE IF NOT EXISTS devices_id_seq START 1`,
	`CREATE INDEX IF NOT EXISTS idx_devices_cluster ON devices(cluster_id)`,

	`CREATE TABLE IF NOT EXISTS baselines (
		id BIGINT PRIMARY KEY,
		cluster_id BIGINT NOT NULL,
		vendor TEXT NOT NULL,
		model TEXT NOT NULL,
		expected_main_version TEXT NOT NULL,
		note TEXT,
		effective_from TEXT,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(cluster_id, vendor, model)
	)`,
	`CREATE SEQUENCE IF NOT EXISTS baselines_id_seq START 1`,
	`CREATE INDEX IF NOT EXISTS idx_baselines_lookup ON baselines(cluster_id, vendor, model)`,

	`CREATE TABLE IF NOT EXISTS controlled_file_rules (
		id BIGINT PRIMARY KEY,
		cluster_id BIGINT NOT NULL,
		vendor TEXT NOT NULL,
		model TEXT NOT NULL,
		paths_json TEXT NOT NULL,
		mode TEXT NOT NULL,
		max_bytes INTEGER NOT NULL,
		note TEXT,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(cluster_id, vendor, model)
	)`,
	`CREATE SEQUENCE IF NOT EXISTS controlled_file_rules_id_seq START 1`,

	`CREATE TABLE IF NOT EXISTS version_catalog (
		id BIGINT PRIMARY KEY,
		vendor TEXT NOT NULL,
		model TEXT NOT NULL,
		main_version TEXT NOT NULL,
		changelog_md TEXT,
		released_at TEXT,
		risk_level TEXT,
		checksum TEXT,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(vendor, model, main_version)
	)`,
	`CREATE SEQUENCE IF NOT EXISTS version_catalog_id_seq START 1`,

	`CREATE TABLE IF NOT EXISTS device_snapshots (
		id BIGINT PRIMARY KEY,
		device_id BIGINT NOT NULL,
		observed_at TIMESTAMP NOT NULL,
		success BOOLEAN NOT NULL,
		http_status INTEGER,
		latency_ms INTEGER,
		error TEXT,
		protocol_version INTEGER,
		main_version TEXT,
		firmware_version TEXT,
		payload_json TEXT
	)`,
	`CREATE SEQUENCE IF NOT EXISTS device_snapshots_id_seq START 1`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_device_time ON device_snapshots(device_id, observed_at DESC, id DESC)`,

	`CREATE TABLE IF NOT EXISTS controlled_file_observations (
		device_id BIGINT NOT NULL,
		path TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		snapshot_id BIGINT NOT NULL,
		content_b64 BLOB,
		encoding TEXT,
		content_type TEXT,
		truncated BOOLEAN NOT NULL,
		source TEXT NOT NULL,
		compressed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY(device_id, path, fingerprint)
	)`,

	`CREATE TABLE IF NOT EXISTS events (
		id BIGINT PRIMARY KEY,
		device_id BIGINT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		event_type TEXT NOT NULL,
		old_state TEXT,
		new_state TEXT,
		message TEXT,
		payload_json TEXT
	)`,
	`CREATE SEQUENCE IF NOT EXISTS events_id_seq START 1`,
	`CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_events_device_created_at ON events(device_id, created_at DESC, id DESC)`,

	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE SEQUENCE IF NOT EXISTS users_id_seq START 1`,

	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id BIGINT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id)`,
}

// forwardOnlyMigrations adds columns that earlier schema versions lacked.
// Mirrors the ADD COLUMN IF NOT EXISTS convention the reference codebase
// uses for its own Postgres migrations (lake/api/config/postgres.go),
// applied here against the embedded engine.
var forwardOnlyMigrations = []string{
	`ALTER TABLE devices ADD COLUMN IF NOT EXISTS line_no TEXT`,
	`ALTER TABLE devices ADD COLUMN IF NOT EXISTS last_state TEXT`,
	`ALTER TABLE devices ADD COLUMN IF NOT EXISTS last_state_at TIMESTAMP`,
	`ALTER TABLE baselines ADD COLUMN IF NOT EXISTS allowed_main_globs_json TEXT`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %q: %w", stmt, err)
		}
	}
	for _, stmt := range forwardOnlyMigrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration %q: %w", stmt, err)
		}
	}
	return nil
}
