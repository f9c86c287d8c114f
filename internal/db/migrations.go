package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// kv_entries holds every key of the record store. seq only ever grows and gives prefix
// scans their insertion order; version is the compare-and-swap stamp.
var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS kv_entries (
		key TEXT PRIMARY KEY,
		value BYTEA NOT NULL,
		version BIGINT NOT NULL DEFAULT 1 CHECK (version > 0),
		seq BIGSERIAL NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_kv_entries_seq ON kv_entries (seq);`,
	`CREATE INDEX IF NOT EXISTS idx_kv_entries_key_pattern ON kv_entries (key text_pattern_ops);`,
}

func migrate(ctx context.Context, db *gorm.DB) error {
	tx := db.WithContext(ctx)
	for i, stmt := range migrationStatements {
		if err := tx.Exec(stmt).Error; err != nil {
			return fmt.Errorf("kv_entries migration %d: %w", i+1, err)
		}
	}
	return nil
}
