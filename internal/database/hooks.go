package database

import (
	"log/slog"
)

// SetupIndexes creates additional indexes that GORM can't handle automatically
func (db *DB) SetupIndexes() error {
	slog.Info("Setting up additional database indexes")

	// Transfers are always read back in settlement order
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_settlement_transfers_position
		ON settlement_transfers(settlement_id, position)
	`).Error; err != nil {
		return err
	}

	// Performance indexes
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_settlement_records_game_date
		ON settlement_records(game_date DESC)
	`).Error; err != nil {
		return err
	}

	slog.Info("Additional database indexes created successfully")
	return nil
}
