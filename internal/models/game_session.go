package models

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

func init() {
	// The backend expects amounts as JSON numbers, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

type GameStatus string

const (
	GameStatusActive    GameStatus = "in_progress"
	GameStatusCompleted GameStatus = "completed"
	GameStatusCancelled GameStatus = "cancelled"
)

// ParseGameStatus maps a wire status onto one of the known statuses.
func ParseGameStatus(s string) (GameStatus, error) {
	switch s {
	case string(GameStatusActive), "active":
		return GameStatusActive, nil
	case string(GameStatusCompleted):
		return GameStatusCompleted, nil
	case string(GameStatusCancelled):
		return GameStatusCancelled, nil
	default:
		return "", fmt.Errorf("unknown game status %q", s)
	}
}

func (s *GameStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode game status: %w", err)
	}
	status, err := ParseGameStatus(raw)
	if err != nil {
		return err
	}
	*s = status
	return nil
}

// IsTerminal returns true once the game can no longer change
func (s GameStatus) IsTerminal() bool {
	return s == GameStatusCompleted || s == GameStatusCancelled
}

// CanTransition reports whether a game may move from one status to another.
// Only Active -> Completed and Active -> Cancelled are allowed.
func CanTransition(from, to GameStatus) bool {
	if from == to {
		return true
	}
	return from == GameStatusActive && to.IsTerminal()
}

// Duration is how long a game has been running, as reported by the backend
type Duration struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
}

func (d Duration) String() string {
	if d.Hours == 0 {
		return fmt.Sprintf("%dm", d.Minutes)
	}
	return fmt.Sprintf("%dh %dm", d.Hours, d.Minutes)
}

// BuyIn is a timestamped contribution a player adds to the table. Recorded
// buy-ins are never modified.
type BuyIn struct {
	Amount decimal.Decimal `json:"amount"`
	Time   Timestamp       `json:"time"`
}

// NotableHand is informational only
type NotableHand struct {
	HandID      string          `json:"hand_id"`
	Description string          `json:"description"`
	AmountWon   decimal.Decimal `json:"amount_won"`
}

type Player struct {
	UserID       string          `json:"user_id"`
	Username     string          `json:"username"`
	BuyIns       []BuyIn         `json:"buy_ins"`
	CashOut      decimal.Decimal `json:"cash_out"`
	NetProfit    decimal.Decimal `json:"net_profit"`
	NotableHands []NotableHand   `json:"notable_hands"`
}

// TotalBuyIn returns the sum of all buy-ins for the player
func (p *Player) TotalBuyIn() decimal.Decimal {
	total := decimal.Zero
	for _, b := range p.BuyIns {
		total = total.Add(b.Amount)
	}
	return total
}

// GameSession is a full snapshot of one live game's financial state
type GameSession struct {
	ID               string          `json:"id"`
	TableID          string          `json:"table_id"`
	CreatorID        string          `json:"creator_id"`
	Status           GameStatus      `json:"status"`
	Duration         Duration        `json:"duration"`
	TotalPot         decimal.Decimal `json:"total_pot"`
	AvailableCashOut decimal.Decimal `json:"available_cash_out"`
	Date             Timestamp       `json:"date"`
	Venue            string          `json:"venue"`
	Players          []Player        `json:"players"`
}

type gameSessionFields GameSession

// UnmarshalJSON accepts the identity under either "id" or "_id"; the backend
// emits both depending on the endpoint.
func (gs *GameSession) UnmarshalJSON(data []byte) error {
	var aux struct {
		gameSessionFields
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*gs = GameSession(aux.gameSessionFields)
	if gs.ID == "" {
		gs.ID = aux.MongoID
	}
	return nil
}

// ParseSnapshot decodes a full GameSession payload
func ParseSnapshot(data []byte) (*GameSession, error) {
	var gs GameSession
	if err := json.Unmarshal(data, &gs); err != nil {
		return nil, fmt.Errorf("failed to parse game snapshot: %w", err)
	}
	if gs.ID == "" {
		return nil, fmt.Errorf("failed to parse game snapshot: missing id")
	}
	if gs.Status == "" {
		return nil, fmt.Errorf("failed to parse game snapshot %s: missing status", gs.ID)
	}
	return &gs, nil
}

// IsActive returns true if money may still move at the table
func (gs *GameSession) IsActive() bool {
	return gs.Status == GameStatusActive
}

// IsTerminal returns true once the game is completed or cancelled
func (gs *GameSession) IsTerminal() bool {
	return gs.Status.IsTerminal()
}

// Player returns the player with the given user id
func (gs *GameSession) Player(userID string) (*Player, bool) {
	for i := range gs.Players {
		if gs.Players[i].UserID == userID {
			return &gs.Players[i], true
		}
	}
	return nil, false
}

// Winner returns the player with the highest net profit. Ties go to the
// player listed first.
func (gs *GameSession) Winner() (*Player, bool) {
	if len(gs.Players) == 0 {
		return nil, false
	}
	best := 0
	for i := 1; i < len(gs.Players); i++ {
		if gs.Players[i].NetProfit.GreaterThan(gs.Players[best].NetProfit) {
			best = i
		}
	}
	return &gs.Players[best], true
}

// Clone returns a deep copy
func (gs *GameSession) Clone() *GameSession {
	if gs == nil {
		return nil
	}
	out := *gs
	if gs.Players != nil {
		out.Players = make([]Player, len(gs.Players))
		for i, p := range gs.Players {
			out.Players[i] = p.clone()
		}
	}
	return &out
}

func (p Player) clone() Player {
	out := p
	if p.BuyIns != nil {
		out.BuyIns = append([]BuyIn(nil), p.BuyIns...)
	}
	if p.NotableHands != nil {
		out.NotableHands = append([]NotableHand(nil), p.NotableHands...)
	}
	return out
}

// Equal reports whether two snapshots describe the same state. Amounts are
// compared numerically and times by instant.
func (gs *GameSession) Equal(other *GameSession) bool {
	if gs == nil || other == nil {
		return gs == other
	}
	if gs.ID != other.ID || gs.TableID != other.TableID || gs.CreatorID != other.CreatorID ||
		gs.Status != other.Status || gs.Duration != other.Duration || gs.Venue != other.Venue {
		return false
	}
	if !gs.TotalPot.Equal(other.TotalPot) || !gs.AvailableCashOut.Equal(other.AvailableCashOut) {
		return false
	}
	if !gs.Date.Equal(other.Date.Time) || len(gs.Players) != len(other.Players) {
		return false
	}
	for i := range gs.Players {
		if !gs.Players[i].equal(&other.Players[i]) {
			return false
		}
	}
	return true
}

func (p *Player) equal(o *Player) bool {
	if p.UserID != o.UserID || p.Username != o.Username {
		return false
	}
	if !p.CashOut.Equal(o.CashOut) || !p.NetProfit.Equal(o.NetProfit) {
		return false
	}
	if len(p.BuyIns) != len(o.BuyIns) || len(p.NotableHands) != len(o.NotableHands) {
		return false
	}
	for i := range p.BuyIns {
		if !p.BuyIns[i].Amount.Equal(o.BuyIns[i].Amount) || !p.BuyIns[i].Time.Equal(o.BuyIns[i].Time.Time) {
			return false
		}
	}
	for i := range p.NotableHands {
		a, b := p.NotableHands[i], o.NotableHands[i]
		if a.HandID != b.HandID || a.Description != b.Description || !a.AmountWon.Equal(b.AmountWon) {
			return false
		}
	}
	return true
}

// PlayerChange is the request body for buy-in and cash-out requests
type PlayerChange struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
	Time   Timestamp       `json:"time"`
}
