package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS plate_reads (
		id               TEXT PRIMARY KEY,
		timestamp_ms     BIGINT NOT NULL,
		day_partition    BIGINT NOT NULL,
		plate_number     TEXT,
		normalized_plate TEXT,
		confidence       NUMERIC(5,2),
		region           TEXT,
		location_tag     TEXT NOT NULL,
		candidates       JSONB,
		vehicle          JSONB,
		plate_crop_url   TEXT,
		vehicle_crop_url TEXT,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_plate_reads_partition_location
		ON plate_reads(day_partition, location_tag, timestamp_ms);`,
	`CREATE INDEX IF NOT EXISTS idx_plate_reads_normalized_plate
		ON plate_reads(normalized_plate);`,
	`CREATE TABLE IF NOT EXISTS valet_ledger (
		id                BIGSERIAL PRIMARY KEY,
		plate_read_id     TEXT NOT NULL,
		plate_number      TEXT NOT NULL,
		normalized_plate  TEXT NOT NULL,
		timestamp_ms      BIGINT NOT NULL,
		confidence        NUMERIC(5,2),
		region            TEXT,
		day_partition     BIGINT NOT NULL,
		plate_crop_url    TEXT,
		vehicle_crop_url  TEXT,
		exit_read_id      TEXT,
		exit_timestamp_ms BIGINT,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		closed_at         TIMESTAMPTZ
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_valet_ledger_plate_read_id
		ON valet_ledger(plate_read_id);`,
	`CREATE INDEX IF NOT EXISTS idx_valet_ledger_open
		ON valet_ledger(timestamp_ms) WHERE exit_read_id IS NULL;`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
