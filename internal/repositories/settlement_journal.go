// Package repositories persists settled games
package repositories

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/anhbaysgalan1/homegame/internal/database"
	"github.com/anhbaysgalan1/homegame/internal/models"
	"github.com/anhbaysgalan1/homegame/internal/settlement"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotRecorded is returned when a game has no journaled settlement
var ErrNotRecorded = errors.New("settlement not recorded")

// SettlementJournal records completed games and their transfers in Postgres
type SettlementJournal struct {
	db *gorm.DB
}

func NewSettlementJournal(db *gorm.DB) *SettlementJournal {
	return &SettlementJournal{db: db}
}

// Record journals a settlement. Each game is recorded once; recording it
// again returns the existing record and created=false.
func (j *SettlementJournal) Record(ctx context.Context, summary *settlement.Summary, snapshot *models.GameSession) (record *models.SettlementRecord, created bool, err error) {
	if summary == nil {
		return nil, false, fmt.Errorf("no settlement to record")
	}

	err = j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findByGameID(tx, summary.GameID)
		if err == nil {
			record = existing
			return nil
		}
		if !errors.Is(err, ErrNotRecorded) {
			return err
		}

		record = NewSettlementRecord(summary, snapshot)
		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("failed to save settlement: %w", err)
		}
		created = true
		return nil
	})

	// a concurrent writer recorded the same game first
	if err != nil && database.IsUniqueConstraintError(err) {
		existing, findErr := j.Get(ctx, summary.GameID)
		if findErr != nil {
			return nil, false, fmt.Errorf("failed to load concurrently recorded settlement: %w", findErr)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if created {
		slog.Info("Recorded settlement", "game_id", summary.GameID, "transfers", len(record.Transfers))
	}
	return record, created, nil
}

// Get loads the settlement of a game with its transfers in order
func (j *SettlementJournal) Get(ctx context.Context, gameID string) (*models.SettlementRecord, error) {
	return findByGameID(j.db.WithContext(ctx), gameID)
}

// ListForGame returns the journaled transfers of a game in settlement order
func (j *SettlementJournal) ListForGame(ctx context.Context, gameID string) ([]models.Transfer, error) {
	record, err := j.Get(ctx, gameID)
	if err != nil {
		return nil, err
	}

	transfers := make([]models.Transfer, len(record.Transfers))
	for i, t := range record.Transfers {
		transfers[i] = t.Transfer()
	}
	return transfers, nil
}

// ListForPlayer returns every journaled transfer a player pays or receives,
// newest first
func (j *SettlementJournal) ListForPlayer(ctx context.Context, userID string, limit, offset int) ([]models.SettlementTransfer, error) {
	var rows []models.SettlementTransfer
	err := j.db.WithContext(ctx).
		Joins("JOIN settlement_records ON settlement_records.id = settlement_transfers.settlement_id").
		Where("settlement_transfers.from_user_id = ? OR settlement_transfers.to_user_id = ?", userID, userID).
		Order("settlement_records.game_date DESC, settlement_transfers.position ASC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers for player %s: %w", userID, err)
	}
	return rows, nil
}

func findByGameID(db *gorm.DB, gameID string) (*models.SettlementRecord, error) {
	var record models.SettlementRecord
	err := db.
		Preload("Transfers", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("game_id = ?", gameID).
		First(&record).Error
	if err != nil {
		if database.IsNotFoundError(err) {
			return nil, ErrNotRecorded
		}
		return nil, fmt.Errorf("failed to load settlement for game %s: %w", gameID, err)
	}
	return &record, nil
}

// NewSettlementRecord builds the rows for a settlement
func NewSettlementRecord(summary *settlement.Summary, snapshot *models.GameSession) *models.SettlementRecord {
	record := &models.SettlementRecord{
		ID:       uuid.New(),
		GameID:   summary.GameID,
		Venue:    summary.Venue,
		GameDate: summary.Date.Time,
		Duration: summary.Duration,
		TotalPot: summary.TotalPot,
		Snapshot: models.SnapshotData{Session: snapshot.Clone()},
	}
	if summary.Winner != nil {
		winnerID := summary.Winner.UserID
		record.WinnerID = &winnerID
	}

	record.Transfers = make([]models.SettlementTransfer, len(summary.Transfers))
	for i, t := range summary.Transfers {
		record.Transfers[i] = models.SettlementTransfer{
			ID:           uuid.New(),
			SettlementID: record.ID,
			Position:     i,
			FromUserID:   t.FromUserID,
			FromUsername: t.FromUsername,
			ToUserID:     t.ToUserID,
			ToUsername:   t.ToUsername,
			Amount:       t.Amount,
		}
	}
	return record
}
