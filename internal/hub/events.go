package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/anhbaysgalan1/homegame/internal/models"
	"github.com/shopspring/decimal"
)

const actionTimeout = 30 * time.Second

// safeSend sends a message to a client's send channel without panicking on
// closed channels
func safeSend(c *Client, message []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.hub.logger.Warn("Attempted to send message to closed channel", "client_id", c.id)
		}
	}()

	select {
	case c.send <- message:
	default:
		c.hub.logger.Warn("Unable to send message to client, channel unavailable", "client_id", c.id)
	}
}

func (c *Client) sendError(request, message string) {
	raw, err := json.Marshal(errorMessage{base: base{Action: actionError}, Request: request, Message: message})
	if err != nil {
		return
	}
	safeSend(c, raw)
}

type recordFunc func(ctx context.Context, playerID string, amount decimal.Decimal, at time.Time) (*models.GameSession, error)

func handleBuyIn(c *Client, change playerChange) {
	handleChange(c, actionBuyIn, change, c.hub.view.RecordBuyIn)
}

func handleCashOut(c *Client, change playerChange) {
	handleChange(c, actionCashOut, change, c.hub.view.RecordCashOut)
}

// handleChange records a change for the named player. An empty player is
// booked for the API token holder, never for the connected user. The result
// reaches every client through Feed.
func handleChange(c *Client, action string, change playerChange, record recordFunc) {
	playerID := change.PlayerID
	if !change.Amount.IsPositive() {
		c.sendError(action, "amount must be greater than zero")
		return
	}

	var at time.Time
	if change.Time != nil {
		at = change.Time.Time
	}

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	if _, err := record(ctx, playerID, change.Amount, at); err != nil {
		c.hub.logger.Warn("Failed to record change", "action", action, "player_id", playerID, "error", err)
		c.sendError(action, err.Error())
	}
}

func handleCompleteGame(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	if _, err := c.hub.view.CompleteGame(ctx); err != nil {
		c.hub.logger.Warn("Failed to complete game", "error", err)
		c.sendError(actionCompleteGame, err.Error())
	}
}

func handleGetGame(c *Client) {
	message, err := stateMessage(c.hub.view.Reader().State())
	if err != nil {
		c.sendError(actionGetGame, err.Error())
		return
	}
	safeSend(c, message)
}
