package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/anhbaysgalan1/homegame/internal/api"
	"github.com/anhbaysgalan1/homegame/internal/database"
	"github.com/anhbaysgalan1/homegame/internal/formance"
	"github.com/anhbaysgalan1/homegame/internal/ledger"
	"github.com/anhbaysgalan1/homegame/internal/models"
	"github.com/anhbaysgalan1/homegame/internal/session"
	"github.com/anhbaysgalan1/homegame/internal/settlement"
	"github.com/anhbaysgalan1/homegame/internal/validation"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// ViewSession is the game view the handler drives
type ViewSession interface {
	Mount(ctx context.Context, gameID string) error
	Unmount()
	GameID() string
	Reader() ledger.Reader
	RecordBuyIn(ctx context.Context, playerID string, amount decimal.Decimal, at time.Time) (*models.GameSession, error)
	RecordCashOut(ctx context.Context, playerID string, amount decimal.Decimal, at time.Time) (*models.GameSession, error)
	CompleteGame(ctx context.Context) (*models.GameSession, error)
	Settlement() (*settlement.Summary, error)
}

// Journal records settled games
type Journal interface {
	Record(ctx context.Context, summary *settlement.Summary, snapshot *models.GameSession) (*models.SettlementRecord, bool, error)
}

// SettlementPoster books settlements on an external ledger
type SettlementPoster interface {
	PostSettlement(ctx context.Context, gameID string, transfers []models.Transfer) (string, error)
}

type ViewHandler struct {
	view    ViewSession
	journal Journal
	poster  SettlementPoster
	logger  *slog.Logger
}

type ViewOption func(*ViewHandler)

func WithJournal(journal Journal) ViewOption {
	return func(h *ViewHandler) { h.journal = journal }
}

func WithSettlementPoster(poster SettlementPoster) ViewOption {
	return func(h *ViewHandler) { h.poster = poster }
}

func WithViewLogger(logger *slog.Logger) ViewOption {
	return func(h *ViewHandler) { h.logger = logger }
}

func NewViewHandler(view ViewSession, opts ...ViewOption) *ViewHandler {
	h := &ViewHandler{
		view:   view,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes mounts the view endpoints. Middleware passed in applies to the
// routes that forward money movements to the backend.
func (h *ViewHandler) Routes(mutations ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.GetView)
	r.Put("/", h.MountGame)
	r.Delete("/", h.UnmountGame)
	r.Get("/events", h.StreamEvents)
	r.Get("/settlement", h.GetSettlement)

	r.Group(func(r chi.Router) {
		r.Use(mutations...)
		r.Post("/buyin", h.BuyIn)
		r.Post("/cashout", h.CashOut)
		r.Post("/complete", h.Complete)
		r.Post("/settlement", h.RecordSettlement)
	})

	return r
}

// MountRequest selects the game to view
type MountRequest struct {
	GameID string `json:"game_id" validate:"required,printascii,max=128"`
}

// ViewResponse is the mounted game as presentation sees it
type ViewResponse struct {
	Game       *models.GameSession `json:"game"`
	Optimistic bool                `json:"optimistic"`
	Generation uint64              `json:"generation"`
}

func newViewResponse(st ledger.State) ViewResponse {
	return ViewResponse{
		Game:       st.Session,
		Optimistic: st.Optimistic,
		Generation: st.Generation,
	}
}

func (h *ViewHandler) MountGame(w http.ResponseWriter, r *http.Request) {
	var req MountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := validation.Validate(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.view.Mount(r.Context(), req.GameID); err != nil {
		h.writeError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, newViewResponse(h.view.Reader().State()))
}

func (h *ViewHandler) UnmountGame(w http.ResponseWriter, r *http.Request) {
	h.view.Unmount()
	w.WriteHeader(http.StatusNoContent)
}

// GetView returns the mounted game. 202 means a game is mounted but no
// snapshot has arrived yet.
func (h *ViewHandler) GetView(w http.ResponseWriter, r *http.Request) {
	gameID := h.view.GameID()
	if gameID == "" {
		writeErrorResponse(w, http.StatusNotFound, "No game is mounted")
		return
	}

	st := h.view.Reader().State()
	if st.Session == nil {
		writeJSONResponse(w, http.StatusAccepted, map[string]string{
			"game_id": gameID,
			"status":  "loading",
		})
		return
	}

	writeJSONResponse(w, http.StatusOK, newViewResponse(st))
}

// StreamEvents pushes every store update as a server-sent event until the
// client goes away
func (h *ViewHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorResponse(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	updates, unsubscribe := h.view.Reader().Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			if err := writeEvent(w, st); err != nil {
				h.logger.Warn("Failed to write view event", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, st ledger.State) error {
	if st.Session == nil {
		_, err := fmt.Fprint(w, "event: reset\ndata: {}\n\n")
		return err
	}
	data, err := json.Marshal(newViewResponse(st))
	if err != nil {
		return fmt.Errorf("failed to marshal view event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data)
	return err
}

// ChangeRequest is the body of buy-in and cash-out requests
type ChangeRequest struct {
	PlayerID string            `json:"player_id" validate:"omitempty,printascii,max=128"`
	Amount   decimal.Decimal   `json:"amount" validate:"gt=0"`
	Time     *models.Timestamp `json:"time,omitempty"`
}

func (h *ViewHandler) BuyIn(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, h.view.RecordBuyIn)
}

func (h *ViewHandler) CashOut(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, h.view.RecordCashOut)
}

type changeFunc func(ctx context.Context, playerID string, amount decimal.Decimal, at time.Time) (*models.GameSession, error)

func (h *ViewHandler) change(w http.ResponseWriter, r *http.Request, record changeFunc) {
	var req ChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := validation.Validate(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	var at time.Time
	if req.Time != nil {
		at = req.Time.Time
	}

	// an empty player_id is booked for the API token holder
	confirmed, err := record(r.Context(), req.PlayerID, req.Amount, at)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"view":      newViewResponse(h.view.Reader().State()),
		"confirmed": confirmed,
	})
}

func (h *ViewHandler) Complete(w http.ResponseWriter, r *http.Request) {
	confirmed, err := h.view.CompleteGame(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"view":      newViewResponse(h.view.Reader().State()),
		"confirmed": confirmed,
	})
}

func (h *ViewHandler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	summary, err := h.view.Settlement()
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, summary)
}

// RecordSettlementResponse reports where a settlement was stored
type RecordSettlementResponse struct {
	Summary       *settlement.Summary `json:"summary"`
	Recorded      bool                `json:"recorded"`
	RecordID      string              `json:"record_id,omitempty"`
	TransactionID string              `json:"transaction_id,omitempty"`
}

// RecordSettlement journals the settlement and books it on the external
// ledger, whichever of the two is configured. Both are idempotent per game.
func (h *ViewHandler) RecordSettlement(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil && h.poster == nil {
		writeErrorResponse(w, http.StatusNotImplemented, "No settlement store is configured")
		return
	}

	summary, err := h.view.Settlement()
	if err != nil {
		h.writeError(w, err)
		return
	}
	snapshot, _ := h.view.Reader().Current()

	resp := RecordSettlementResponse{Summary: summary}

	if h.journal != nil {
		record, created, err := h.journal.Record(r.Context(), summary, snapshot)
		if err != nil {
			h.logger.Error("Failed to record settlement", "game_id", summary.GameID, "error", err)
			writeErrorResponse(w, http.StatusInternalServerError, database.JournalErrorMessage(err))
			return
		}
		resp.Recorded = created
		resp.RecordID = record.ID.String()
	}

	if h.poster != nil {
		txID, err := h.poster.PostSettlement(r.Context(), summary.GameID, summary.Transfers)
		if err != nil && !errors.Is(err, formance.ErrAlreadyPosted) {
			h.logger.Error("Failed to post settlement", "game_id", summary.GameID, "error", err)
			writeErrorResponse(w, http.StatusBadGateway, "Failed to post settlement")
			return
		}
		resp.TransactionID = txID
	}

	writeJSONResponse(w, http.StatusOK, resp)
}

// writeError maps ledger errors onto HTTP statuses
func (h *ViewHandler) writeError(w http.ResponseWriter, err error) {
	var invErr *models.InvariantError
	var apiErr *api.TransportError

	switch {
	case validation.IsValidationError(err):
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrNotMounted):
		writeErrorResponse(w, http.StatusNotFound, err.Error())
	case errors.As(err, &invErr):
		writeErrorResponse(w, http.StatusConflict, err.Error())
	case api.IsNotFound(err):
		writeErrorResponse(w, http.StatusNotFound, err.Error())
	case errors.As(err, &apiErr):
		writeErrorResponse(w, http.StatusBadGateway, err.Error())
	default:
		h.logger.Error("Request failed", "error", err)
		writeErrorResponse(w, http.StatusInternalServerError, "Internal server error")
	}
}
