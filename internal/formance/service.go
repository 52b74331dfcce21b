package formance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/anhbaysgalan1/homegame/internal/config"
	"github.com/anhbaysgalan1/homegame/internal/models"
	"github.com/shopspring/decimal"
)

// ErrAlreadyPosted is returned alongside the existing transaction id when a
// game's settlement was posted before
var ErrAlreadyPosted = errors.New("settlement already posted")

type Service struct {
	client   *Client
	currency string
}

func NewService(cfg *config.Config) *Service {
	return &Service{
		client:   NewClient(cfg),
		currency: cfg.FormanceCurrency,
	}
}

// Initialize checks the ledger is reachable
func (s *Service) Initialize(ctx context.Context) error {
	if _, err := assetPrecision(s.currency); err != nil {
		return err
	}
	if err := s.client.CheckLedger(ctx); err != nil {
		return fmt.Errorf("failed to initialize Formance: %w", err)
	}

	slog.Info("Formance service initialized")
	return nil
}

// SettlementPostings converts transfers into wallet-to-wallet postings
func (s *Service) SettlementPostings(transfers []models.Transfer) ([]PostingData, error) {
	postings := make([]PostingData, 0, len(transfers))
	for _, t := range transfers {
		units, err := ToMinorUnits(t.Amount, s.currency)
		if err != nil {
			return nil, fmt.Errorf("failed to convert transfer %s -> %s: %w", t.FromUserID, t.ToUserID, err)
		}
		if units <= 0 {
			return nil, fmt.Errorf("transfer %s -> %s has non-positive amount %s", t.FromUserID, t.ToUserID, t.Amount)
		}
		source, destination := PlayerWalletAccount(t.FromUserID), PlayerWalletAccount(t.ToUserID)
		if !ValidateAccountFormat(source) || !ValidateAccountFormat(destination) {
			return nil, fmt.Errorf("transfer %s -> %s has no valid wallet account", t.FromUserID, t.ToUserID)
		}
		postings = append(postings, PostingData{
			Source:      source,
			Destination: destination,
			Amount:      units,
			Asset:       s.currency,
		})
	}
	return postings, nil
}

// PostSettlement records a game's transfers as one transaction. A game is
// posted at most once; a repeat call returns the first transaction id with
// ErrAlreadyPosted.
func (s *Service) PostSettlement(ctx context.Context, gameID string, transfers []models.Transfer) (string, error) {
	if len(transfers) == 0 {
		return "", fmt.Errorf("game %s has no transfers to post", gameID)
	}

	postings, err := s.SettlementPostings(transfers)
	if err != nil {
		return "", err
	}

	metadata := map[string]string{
		MetadataType:   TypeSettlement,
		MetadataGameID: gameID,
	}

	existing, err := s.client.FindTransactions(ctx, metadata)
	if err != nil {
		return "", fmt.Errorf("failed to check for existing settlement: %w", err)
	}
	for _, tx := range existing {
		if tx.Metadata[MetadataGameID] == gameID && tx.Metadata[MetadataType] == TypeSettlement {
			slog.Warn("Settlement already posted", "game_id", gameID, "txid", tx.ID)
			return fmt.Sprintf("%d", tx.ID), ErrAlreadyPosted
		}
	}

	txID, err := s.client.CreateTransaction(ctx, postings, metadata)
	if err != nil {
		return "", fmt.Errorf("failed to post settlement for game %s: %w", gameID, err)
	}

	slog.Info("Posted settlement", "game_id", gameID, "txid", txID, "transfers", len(transfers))
	return txID, nil
}

// PlayerBalance returns a player's settlement wallet balance
func (s *Service) PlayerBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	units, err := s.client.GetBalance(ctx, PlayerWalletAccount(userID))
	if err != nil {
		return decimal.Zero, err
	}
	return FromMinorUnits(units, s.currency)
}
