package settlement

import (
	"github.com/anhbaysgalan1/homegame/internal/models"
	"github.com/shopspring/decimal"
)

// Summary is the end-of-game report shown once a session completes
type Summary struct {
	GameID    string            `json:"game_id"`
	Venue     string            `json:"venue"`
	Date      models.Timestamp  `json:"date"`
	Duration  string            `json:"duration"`
	TotalPot  decimal.Decimal   `json:"total_pot"`
	Winner    *models.Player    `json:"winner,omitempty"`
	Transfers []models.Transfer `json:"transfers"`
}

// Summarize settles a completed game and packages the result for display
func Summarize(gs *models.GameSession) (*Summary, error) {
	transfers, err := ForSession(gs)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		GameID:    gs.ID,
		Venue:     gs.Venue,
		Date:      gs.Date,
		Duration:  gs.Duration.String(),
		TotalPot:  gs.TotalPot,
		Transfers: transfers,
	}
	if winner, ok := gs.Winner(); ok && winner.NetProfit.IsPositive() {
		w := *winner
		summary.Winner = &w
	}
	return summary, nil
}
