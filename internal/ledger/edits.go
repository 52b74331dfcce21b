package ledger

import (
	"fmt"

	"github.com/anhbaysgalan1/homegame/internal/models"
	"github.com/anhbaysgalan1/homegame/internal/validation"
	"github.com/shopspring/decimal"
)

// Edit is a local change applied ahead of server confirmation. Apply mutates
// the copy it is given and must leave it untouched when it returns an error.
type Edit interface {
	Apply(gs *models.GameSession) error
	PlayerID() string
	Kind() string
}

// BuyInEdit adds money to the table for one player
type BuyInEdit struct {
	Player string
	Amount decimal.Decimal
	Time   models.Timestamp
}

func (e BuyInEdit) PlayerID() string { return e.Player }
func (e BuyInEdit) Kind() string     { return "buy_in" }

func (e BuyInEdit) Apply(gs *models.GameSession) error {
	if err := validation.ValidatePositiveAmount(e.Amount, "amount"); err != nil {
		return err
	}
	player, ok := gs.Player(e.Player)
	if !ok {
		return &validation.Error{Field: "player_id", Message: fmt.Sprintf("player %s is not in game %s", e.Player, gs.ID)}
	}

	player.BuyIns = append(player.BuyIns, models.BuyIn{Amount: e.Amount, Time: e.Time})
	player.NetProfit = player.NetProfit.Sub(e.Amount)
	gs.TotalPot = gs.TotalPot.Add(e.Amount)
	gs.AvailableCashOut = gs.AvailableCashOut.Add(e.Amount)
	return nil
}

// CashOutEdit takes money off the table for one player. Repeated cash-outs
// accumulate.
type CashOutEdit struct {
	Player string
	Amount decimal.Decimal
	Time   models.Timestamp
}

func (e CashOutEdit) PlayerID() string { return e.Player }
func (e CashOutEdit) Kind() string     { return "cash_out" }

func (e CashOutEdit) Apply(gs *models.GameSession) error {
	if err := validation.ValidateCashOut(e.Amount, gs.AvailableCashOut); err != nil {
		return err
	}
	player, ok := gs.Player(e.Player)
	if !ok {
		return &validation.Error{Field: "player_id", Message: fmt.Sprintf("player %s is not in game %s", e.Player, gs.ID)}
	}

	player.CashOut = player.CashOut.Add(e.Amount)
	player.NetProfit = player.NetProfit.Add(e.Amount)
	gs.AvailableCashOut = gs.AvailableCashOut.Sub(e.Amount)
	return nil
}
