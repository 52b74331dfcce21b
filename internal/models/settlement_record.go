package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettlementRecord is a journaled settlement of one completed game
type SettlementRecord struct {
	ID        uuid.UUID            `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	GameID    string               `json:"game_id" gorm:"uniqueIndex;not null;size:128"`
	Venue     string               `json:"venue" gorm:"size:255"`
	GameDate  time.Time            `json:"game_date"`
	Duration  string               `json:"duration" gorm:"size:32"`
	TotalPot  decimal.Decimal      `json:"total_pot" gorm:"type:numeric;not null"`
	WinnerID  *string              `json:"winner_id,omitempty" gorm:"size:128"`
	Snapshot  SnapshotData         `json:"snapshot" gorm:"type:jsonb"`
	Transfers []SettlementTransfer `json:"transfers" gorm:"foreignKey:SettlementID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time            `json:"created_at" gorm:"autoCreateTime"`
}

// SettlementTransfer is one journaled payment, kept in settlement order
type SettlementTransfer struct {
	ID           uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SettlementID uuid.UUID       `json:"settlement_id" gorm:"type:uuid;not null;index"`
	Position     int             `json:"position" gorm:"not null"`
	FromUserID   string          `json:"from_user_id" gorm:"not null;size:128;index"`
	FromUsername string          `json:"from_username" gorm:"size:255"`
	ToUserID     string          `json:"to_user_id" gorm:"not null;size:128;index"`
	ToUsername   string          `json:"to_username" gorm:"size:255"`
	Amount       decimal.Decimal `json:"amount" gorm:"type:numeric;not null"`
}

// Transfer converts the journaled row back into a settlement transfer
func (t SettlementTransfer) Transfer() Transfer {
	return Transfer{
		FromUserID:   t.FromUserID,
		FromUsername: t.FromUsername,
		ToUserID:     t.ToUserID,
		ToUsername:   t.ToUsername,
		Amount:       t.Amount,
	}
}

// SnapshotData stores the final game snapshot as JSON
type SnapshotData struct {
	Session *GameSession
}

func (sd *SnapshotData) Scan(value interface{}) error {
	if value == nil {
		*sd = SnapshotData{}
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("failed to scan SnapshotData")
	}

	var gs GameSession
	if err := json.Unmarshal(data, &gs); err != nil {
		return err
	}
	sd.Session = &gs
	return nil
}

func (sd SnapshotData) Value() (driver.Value, error) {
	if sd.Session == nil {
		return nil, nil
	}
	return json.Marshal(sd.Session)
}

func (sd SnapshotData) MarshalJSON() ([]byte, error) {
	return json.Marshal(sd.Session)
}
