// Package gateway turns local user actions into optimistic ledger edits and
// backend requests.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anhbaysgalan1/homegame/internal/ledger"
	"github.com/anhbaysgalan1/homegame/internal/models"
	"github.com/anhbaysgalan1/homegame/internal/validation"
	"github.com/coder/quartz"
	"github.com/shopspring/decimal"
)

// GamesAPI is the subset of the backend client the gateway calls
type GamesAPI interface {
	AddBuyIn(ctx context.Context, gameID string, amount decimal.Decimal, at time.Time) (*models.GameSession, error)
	CashOut(ctx context.Context, gameID string, amount decimal.Decimal, at time.Time) (*models.GameSession, error)
	CompleteGame(ctx context.Context, gameID string) (*models.GameSession, error)
}

// Store is the part of the ledger the gateway reads and edits
type Store interface {
	Current() (*models.GameSession, bool)
	ApplyOptimistic(gameID string, edit ledger.Edit) error
}

// Gateway applies edits optimistically and then forwards them. A failed
// request never undoes the edit; the next server snapshot settles the state.
// Responses are returned to the caller and not applied to the store.
type Gateway struct {
	api    GamesAPI
	store  Store
	clock  quartz.Clock
	actor  string
	logger *slog.Logger
}

type Option func(*Gateway)

// WithActor names the player the backend books every change for, which is
// the subject of the token the API client sends
func WithActor(playerID string) Option {
	return func(g *Gateway) { g.actor = playerID }
}

func New(api GamesAPI, store Store, clock quartz.Clock, logger *slog.Logger, opts ...Option) *Gateway {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		api:    api,
		store:  store,
		clock:  clock,
		logger: logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ActingPlayer resolves the player a change is booked for. With an actor,
// an empty request means the actor and naming anyone else is rejected.
func ActingPlayer(actor, requested string) (string, error) {
	if actor == "" || requested == actor {
		return requested, nil
	}
	if requested == "" {
		return actor, nil
	}
	return "", &validation.Error{
		Field:   "player_id",
		Message: fmt.Sprintf("changes are booked for %s, not %s", actor, requested),
	}
}

// RecordBuyIn adds a buy-in for playerID, or for the actor when playerID is
// empty. A zero at means now.
func (g *Gateway) RecordBuyIn(ctx context.Context, gameID, playerID string, amount decimal.Decimal, at time.Time) (*models.GameSession, error) {
	playerID, err := ActingPlayer(g.actor, playerID)
	if err != nil {
		return nil, err
	}
	if err := validateChange(gameID, playerID, amount); err != nil {
		return nil, err
	}
	at = g.timeOrNow(at)

	edit := ledger.BuyInEdit{Player: playerID, Amount: amount, Time: models.NewTimestamp(at)}
	if err := g.store.ApplyOptimistic(gameID, edit); err != nil {
		return nil, err
	}

	g.logger.Info("Recording buy-in", "game_id", gameID, "player_id", playerID, "amount", amount)
	gs, err := g.api.AddBuyIn(ctx, gameID, amount, at)
	if err != nil {
		g.logger.Error("Buy-in request failed", "game_id", gameID, "player_id", playerID, "amount", amount, "error", err)
		return nil, fmt.Errorf("failed to record buy-in: %w", err)
	}
	return gs, nil
}

// RecordCashOut takes amount off the table for playerID. The amount may not
// exceed what is still available for cash-out. A zero at means now.
func (g *Gateway) RecordCashOut(ctx context.Context, gameID, playerID string, amount decimal.Decimal, at time.Time) (*models.GameSession, error) {
	playerID, err := ActingPlayer(g.actor, playerID)
	if err != nil {
		return nil, err
	}
	if err := validateChange(gameID, playerID, amount); err != nil {
		return nil, err
	}
	at = g.timeOrNow(at)

	// the available amount is checked under the store lock by the edit
	edit := ledger.CashOutEdit{Player: playerID, Amount: amount, Time: models.NewTimestamp(at)}
	if err := g.store.ApplyOptimistic(gameID, edit); err != nil {
		return nil, err
	}

	g.logger.Info("Recording cash-out", "game_id", gameID, "player_id", playerID, "amount", amount)
	gs, err := g.api.CashOut(ctx, gameID, amount, at)
	if err != nil {
		g.logger.Error("Cash-out request failed", "game_id", gameID, "player_id", playerID, "amount", amount, "error", err)
		return nil, fmt.Errorf("failed to record cash-out: %w", err)
	}
	return gs, nil
}

// CompleteGame ends the game. The status change arrives with the next snapshot.
func (g *Gateway) CompleteGame(ctx context.Context, gameID string) (*models.GameSession, error) {
	if err := validation.ValidateID(gameID, "game_id"); err != nil {
		return nil, err
	}

	current, ok := g.store.Current()
	switch {
	case !ok:
		return nil, &validation.Error{Field: "game_id", Message: "no game session is loaded"}
	case current.ID != gameID:
		return nil, &validation.Error{Field: "game_id", Message: fmt.Sprintf("game %s is not the loaded game %s", gameID, current.ID)}
	case !current.IsActive():
		return nil, &validation.Error{Field: "game_id", Message: fmt.Sprintf("game %s is %s", gameID, current.Status)}
	}

	g.logger.Info("Completing game", "game_id", gameID)
	gs, err := g.api.CompleteGame(ctx, gameID)
	if err != nil {
		g.logger.Error("Complete game request failed", "game_id", gameID, "error", err)
		return nil, fmt.Errorf("failed to complete game: %w", err)
	}
	return gs, nil
}

func (g *Gateway) timeOrNow(at time.Time) time.Time {
	if at.IsZero() {
		return g.clock.Now()
	}
	return at
}

func validateChange(gameID, playerID string, amount decimal.Decimal) error {
	if err := validation.ValidateID(gameID, "game_id"); err != nil {
		return err
	}
	if err := validation.ValidateID(playerID, "player_id"); err != nil {
		return err
	}
	return validation.ValidatePositiveAmount(amount, "amount")
}
