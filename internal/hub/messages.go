package hub

import (
	"github.com/anhbaysgalan1/homegame/internal/models"
	"github.com/shopspring/decimal"
)

// inbound (client) actions
const (
	actionBuyIn        string = "buy-in"
	actionCashOut      string = "cash-out"
	actionCompleteGame string = "complete-game"
	actionGetGame      string = "get-game"
)

type base struct {
	// allows for correctly identifying messages
	Action string `json:"action"`
}

type playerChange struct {
	base                       // actionBuyIn, actionCashOut
	PlayerID string            `json:"player_id"`
	Amount   decimal.Decimal   `json:"amount"`
	Time     *models.Timestamp `json:"time,omitempty"`
}

// outbound (server) actions
const (
	actionUpdateGame     string = "update-game"
	actionResetGame      string = "reset-game"
	actionUpdateClientID string = "update-client-id"
	actionError          string = "error"
)

type updateGame struct {
	base                           // actionUpdateGame
	Game       *models.GameSession `json:"game"`
	Optimistic bool                `json:"optimistic"`
	Generation uint64              `json:"generation"`
}

type resetGame struct {
	base              // actionResetGame
	Generation uint64 `json:"generation"`
}

type updateClientID struct {
	base        // actionUpdateClientID
	ID   string `json:"id"`
}

type errorMessage struct {
	base           // actionError
	Request string `json:"request"`
	Message string `json:"message"`
}
