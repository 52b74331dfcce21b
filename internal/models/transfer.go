package models

import "github.com/shopspring/decimal"

// Transfer is one settling payment from a player who lost money to a player
// who won it.
type Transfer struct {
	FromUserID   string          `json:"from_user_id"`
	FromUsername string          `json:"from_username"`
	ToUserID     string          `json:"to_user_id"`
	ToUsername   string          `json:"to_username"`
	Amount       decimal.Decimal `json:"amount"`
}
