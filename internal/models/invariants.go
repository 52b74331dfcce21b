package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// InvariantError reports a snapshot, or a request against one, that breaks
// the ledger's accounting rules.
type InvariantError struct {
	GameID     string
	Violations []string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("game %s violates ledger invariants: %s", e.GameID, strings.Join(e.Violations, "; "))
}

// CheckInvariants validates the accounting of a snapshot and returns an
// *InvariantError listing every violation, or nil.
func (gs *GameSession) CheckInvariants() error {
	var violations []string

	pot := decimal.Zero
	cashedOut := decimal.Zero
	netTotal := decimal.Zero

	for i := range gs.Players {
		p := &gs.Players[i]
		buyIns := p.TotalBuyIn()
		pot = pot.Add(buyIns)
		cashedOut = cashedOut.Add(p.CashOut)
		netTotal = netTotal.Add(p.NetProfit)

		for _, b := range p.BuyIns {
			if !b.Amount.IsPositive() {
				violations = append(violations, fmt.Sprintf("player %s has non-positive buy-in %s", p.UserID, b.Amount))
			}
		}
		if expected := p.CashOut.Sub(buyIns); !p.NetProfit.Equal(expected) {
			violations = append(violations, fmt.Sprintf("player %s net_profit %s != cash_out - buy_ins %s", p.UserID, p.NetProfit, expected))
		}
	}

	if !gs.TotalPot.Equal(pot) {
		violations = append(violations, fmt.Sprintf("total_pot %s != sum of buy-ins %s", gs.TotalPot, pot))
	}
	if expected := gs.TotalPot.Sub(cashedOut); !gs.AvailableCashOut.Equal(expected) {
		violations = append(violations, fmt.Sprintf("available_cash_out %s != total_pot - cash_outs %s", gs.AvailableCashOut, expected))
	}
	if gs.AvailableCashOut.IsNegative() {
		violations = append(violations, fmt.Sprintf("available_cash_out %s is negative", gs.AvailableCashOut))
	}

	switch gs.Status {
	case GameStatusActive:
		if netTotal.IsPositive() {
			violations = append(violations, fmt.Sprintf("sum of net_profit %s is positive while active", netTotal))
		}
	case GameStatusCompleted:
		if !netTotal.IsZero() {
			violations = append(violations, fmt.Sprintf("sum of net_profit %s is not zero at completion", netTotal))
		}
	}

	if len(violations) == 0 {
		return nil
	}
	return &InvariantError{GameID: gs.ID, Violations: violations}
}
