package store

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is written in the subset of DDL shared by MySQL and SQLite.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS listings (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		remote_id VARCHAR(64) NOT NULL UNIQUE,
		name VARCHAR(255) NOT NULL DEFAULT '',
		bedrooms INTEGER NOT NULL DEFAULT 0,
		bathrooms DOUBLE NOT NULL DEFAULT 0,
		property_type VARCHAR(64) NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT FALSE,
		address TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS guests (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		remote_id VARCHAR(64) NOT NULL UNIQUE,
		email_hash CHAR(64) NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		remote_id VARCHAR(64) NOT NULL UNIQUE,
		listing_id VARCHAR(36) NULL REFERENCES listings(id),
		guest_id VARCHAR(36) NULL REFERENCES guests(id),
		source VARCHAR(64) NOT NULL,
		status VARCHAR(32) NOT NULL DEFAULT '',
		check_in DATE NOT NULL,
		check_out DATE NOT NULL,
		booked_at DATETIME NOT NULL,
		total_price_cents BIGINT NOT NULL DEFAULT 0,
		currency VARCHAR(8) NOT NULL DEFAULT '',
		nights INTEGER NOT NULL DEFAULT 0,
		lead_time_days INTEGER NOT NULL DEFAULT 0,
		cancelled_at DATETIME NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		remote_id VARCHAR(64) NOT NULL UNIQUE,
		listing_id VARCHAR(36) NULL REFERENCES listings(id),
		guest_id VARCHAR(36) NULL REFERENCES guests(id),
		reservation_id VARCHAR(36) NULL REFERENCES reservations(id),
		source VARCHAR(64) NOT NULL,
		converted_to_booking BOOLEAN NOT NULL DEFAULT FALSE,
		first_message_at DATETIME NULL,
		message_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sync_runs (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		entity_type VARCHAR(32) NOT NULL,
		status VARCHAR(16) NOT NULL,
		started_at DATETIME NOT NULL,
		completed_at DATETIME NULL,
		records_synced BIGINT NOT NULL DEFAULT 0,
		error_message TEXT NULL
	)`,
}

// Migrate creates the tables if they do not exist. Production deployments
// normally own the DDL; this is used for local SQLite databases and tests.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
