// Package hub fans the viewed game out to websocket clients and accepts
// buy-ins and cash-outs from them.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/anhbaysgalan1/homegame/internal/ledger"
	"github.com/anhbaysgalan1/homegame/internal/models"
	"github.com/shopspring/decimal"
)

// View is the game view clients watch and edit
type View interface {
	Reader() ledger.Reader
	RecordBuyIn(ctx context.Context, playerID string, amount decimal.Decimal, at time.Time) (*models.GameSession, error)
	RecordCashOut(ctx context.Context, playerID string, amount decimal.Decimal, at time.Time) (*models.GameSession, error)
	CompleteGame(ctx context.Context) (*models.GameSession, error)
}

// Hub maintains the set of active clients and broadcasts every state of the
// view to them.
type Hub struct {
	view       View
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	logger     *slog.Logger
}

func New(view View, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		view:       view,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves registrations and broadcasts until ctx is done, then
// disconnects every client
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.unregisterClient(client)
			}
			return nil
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

// Feed broadcasts every store update until ctx is done
func (h *Hub) Feed(ctx context.Context) error {
	updates, unsubscribe := h.view.Reader().Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-updates:
			if !ok {
				return nil
			}
			message, err := stateMessage(st)
			if err != nil {
				h.logger.Warn("Failed to encode game update", "error", err)
				continue
			}
			select {
			case h.broadcast <- message:
			case <-h.done:
				return nil
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.clients[client] = true
	h.logger.Debug("Websocket client connected", "client_id", client.id, "user_id", client.userID)

	if message, err := json.Marshal(updateClientID{base: base{Action: actionUpdateClientID}, ID: client.id}); err == nil {
		client.send <- message
	}
	if message, err := stateMessage(h.view.Reader().State()); err == nil {
		client.send <- message
	}
}

func (h *Hub) unregisterClient(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.logger.Debug("Websocket client disconnected", "client_id", client.id)
	}
}

func (h *Hub) broadcastToClients(message []byte) {
	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			h.logger.Warn("Dropping slow websocket client", "client_id", client.id)
			close(client.send)
			delete(h.clients, client)
		}
	}
}

func stateMessage(st ledger.State) ([]byte, error) {
	if st.Session == nil {
		return json.Marshal(resetGame{base: base{Action: actionResetGame}, Generation: st.Generation})
	}
	return json.Marshal(updateGame{
		base:       base{Action: actionUpdateGame},
		Game:       st.Session,
		Optimistic: st.Optimistic,
		Generation: st.Generation,
	})
}
