// Package settlement turns a finished game's per-player profit and loss into
// the set of payments that squares everyone up.
package settlement

import (
	"fmt"
	"slices"

	"github.com/anhbaysgalan1/homegame/internal/models"
	"github.com/shopspring/decimal"
)

type balance struct {
	userID    string
	username  string
	remaining decimal.Decimal
}

// Compute returns the ordered list of transfers that brings every player's
// net profit to zero, using greedy matching of the largest debtor against
// the largest creditor. It produces at most debtors+creditors-1 transfers.
// Settlement is exact only when total debt equals total credit; amounts are
// never rounded.
func Compute(players []models.Player) []models.Transfer {
	var debtors, creditors []balance
	for _, p := range players {
		switch p.NetProfit.Sign() {
		case -1:
			debtors = append(debtors, balance{userID: p.UserID, username: p.Username, remaining: p.NetProfit.Neg()})
		case 1:
			creditors = append(creditors, balance{userID: p.UserID, username: p.Username, remaining: p.NetProfit})
		}
	}

	byRemainingDesc := func(a, b balance) int {
		return b.remaining.Cmp(a.remaining)
	}
	slices.SortStableFunc(debtors, byRemainingDesc)
	slices.SortStableFunc(creditors, byRemainingDesc)

	transfers := make([]models.Transfer, 0)
	c := 0
	for _, debtor := range debtors {
		debt := debtor.remaining
		for debt.IsPositive() && c < len(creditors) {
			creditor := &creditors[c]
			amount := decimal.Min(debt, creditor.remaining)

			if amount.IsPositive() {
				transfers = append(transfers, models.Transfer{
					FromUserID:   debtor.userID,
					FromUsername: debtor.username,
					ToUserID:     creditor.userID,
					ToUsername:   creditor.username,
					Amount:       amount,
				})
				debt = debt.Sub(amount)
				creditor.remaining = creditor.remaining.Sub(amount)
			}

			if !creditor.remaining.IsPositive() {
				c++
			}
		}
	}

	return transfers
}

// ForSession settles a finished game. Unlike Compute it refuses sessions that
// are not completed or whose debts and credits do not balance, returning a
// *models.InvariantError.
func ForSession(gs *models.GameSession) ([]models.Transfer, error) {
	if gs == nil {
		return nil, fmt.Errorf("no game session to settle")
	}

	var violations []string
	if gs.Status != models.GameStatusCompleted {
		violations = append(violations, fmt.Sprintf("status is %s, settlement requires %s", gs.Status, models.GameStatusCompleted))
	}

	debt, credit := Totals(gs.Players)
	if !debt.Equal(credit) {
		violations = append(violations, fmt.Sprintf("total debt %s != total credit %s", debt, credit))
	}

	if len(violations) > 0 {
		return nil, &models.InvariantError{GameID: gs.ID, Violations: violations}
	}
	return Compute(gs.Players), nil
}

// Totals returns the total owed by losing players and the total owed to
// winning players, both as positive amounts.
func Totals(players []models.Player) (debt, credit decimal.Decimal) {
	debt, credit = decimal.Zero, decimal.Zero
	for _, p := range players {
		if p.NetProfit.IsNegative() {
			debt = debt.Add(p.NetProfit.Neg())
		} else {
			credit = credit.Add(p.NetProfit)
		}
	}
	return debt, credit
}
