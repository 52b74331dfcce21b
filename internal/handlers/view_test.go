package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anhbaysgalan1/homegame/internal/api"
	"github.com/anhbaysgalan1/homegame/internal/auth"
	"github.com/anhbaysgalan1/homegame/internal/formance"
	"github.com/anhbaysgalan1/homegame/internal/gateway"
	"github.com/anhbaysgalan1/homegame/internal/ledger"
	"github.com/anhbaysgalan1/homegame/internal/models"
	"github.com/anhbaysgalan1/homegame/internal/session"
	"github.com/anhbaysgalan1/homegame/internal/settlement"
	"github.com/anhbaysgalan1/homegame/internal/validation"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func activeGame(id string) *models.GameSession {
	return &models.GameSession{
		ID:               id,
		Status:           models.GameStatusActive,
		TotalPot:         dec("100"),
		AvailableCashOut: dec("100"),
		Players: []models.Player{
			{UserID: "alice", Username: "Alice", BuyIns: []models.BuyIn{{Amount: dec("100")}}, NetProfit: dec("-100")},
			{UserID: "bob", Username: "Bob"},
		},
	}
}

func completedGame(id string) *models.GameSession {
	gs := activeGame(id)
	gs.Status = models.GameStatusCompleted
	gs.AvailableCashOut = decimal.Zero
	gs.Players[1].CashOut = dec("100")
	gs.Players[1].NetProfit = dec("100")
	return gs
}

// fakeView drives a real ledger store without a backend
type fakeView struct {
	store    *ledger.Store
	actor    string
	games    map[string]*models.GameSession
	mountErr error
	gameID   string
	changes  []string
}

func newFakeView(games ...*models.GameSession) *fakeView {
	v := &fakeView{store: ledger.NewStore(nil), games: map[string]*models.GameSession{}}
	for _, gs := range games {
		v.games[gs.ID] = gs
	}
	return v
}

func (v *fakeView) Mount(ctx context.Context, gameID string) error {
	if v.mountErr != nil {
		return v.mountErr
	}
	gs, ok := v.games[gameID]
	if !ok {
		return &api.TransportError{Op: "get game", StatusCode: http.StatusNotFound, Detail: "Game not found"}
	}
	v.gameID = gameID
	v.store.Replace(gs)
	return nil
}

func (v *fakeView) Unmount() {
	v.gameID = ""
	v.store.Reset()
}

func (v *fakeView) GameID() string        { return v.gameID }
func (v *fakeView) Reader() ledger.Reader { return v.store }

func (v *fakeView) RecordBuyIn(ctx context.Context, playerID string, amount decimal.Decimal, at time.Time) (*models.GameSession, error) {
	if v.gameID == "" {
		return nil, session.ErrNotMounted
	}
	playerID, err := v.player(playerID)
	if err != nil {
		return nil, err
	}
	v.changes = append(v.changes, "buyin:"+playerID)
	return nil, v.store.ApplyOptimistic(v.gameID, ledger.BuyInEdit{Player: playerID, Amount: amount, Time: models.NewTimestamp(at)})
}

func (v *fakeView) RecordCashOut(ctx context.Context, playerID string, amount decimal.Decimal, at time.Time) (*models.GameSession, error) {
	if v.gameID == "" {
		return nil, session.ErrNotMounted
	}
	playerID, err := v.player(playerID)
	if err != nil {
		return nil, err
	}
	v.changes = append(v.changes, "cashout:"+playerID)
	return nil, v.store.ApplyOptimistic(v.gameID, ledger.CashOutEdit{Player: playerID, Amount: amount, Time: models.NewTimestamp(at)})
}

// player resolves the booked player the way the session does
func (v *fakeView) player(requested string) (string, error) {
	playerID, err := gateway.ActingPlayer(v.actor, requested)
	if err != nil {
		return "", err
	}
	return playerID, validation.ValidateID(playerID, "player_id")
}

func (v *fakeView) CompleteGame(ctx context.Context) (*models.GameSession, error) {
	if v.gameID == "" {
		return nil, session.ErrNotMounted
	}
	return nil, &api.TransportError{Op: "complete game", Err: context.DeadlineExceeded}
}

func (v *fakeView) Settlement() (*settlement.Summary, error) {
	current, ok := v.store.Current()
	if !ok {
		return nil, session.ErrNotMounted
	}
	return settlement.Summarize(current)
}

type fakeJournal struct {
	calls int
	err   error
}

func (j *fakeJournal) Record(ctx context.Context, summary *settlement.Summary, snapshot *models.GameSession) (*models.SettlementRecord, bool, error) {
	j.calls++
	if j.err != nil {
		return nil, false, j.err
	}
	return &models.SettlementRecord{ID: uuid.New(), GameID: summary.GameID}, j.calls == 1, nil
}

type fakePoster struct{ calls int }

func (p *fakePoster) PostSettlement(ctx context.Context, gameID string, transfers []models.Transfer) (string, error) {
	p.calls++
	if p.calls > 1 {
		return "7", formance.ErrAlreadyPosted
	}
	return "7", nil
}

func newRouter(view ViewSession, opts ...ViewOption) chi.Router {
	r := chi.NewRouter()
	r.Use(auth.OptionalIdentity)
	r.Get("/health", Health(view))
	r.Mount("/api/v1/view", NewViewHandler(view, opts...).Routes())
	return r
}

func makeRequest(t *testing.T, router http.Handler, method, url string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}

	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"]
}

func TestHealth(t *testing.T) {
	w := makeRequest(t, newRouter(newFakeView()), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestMountGame(t *testing.T) {
	tests := []struct {
		name     string
		body     interface{}
		mountErr error
		status   int
		errMsg   string
	}{
		{name: "mounts game", body: MountRequest{GameID: "g1"}, status: http.StatusOK},
		{name: "invalid json", body: "{", status: http.StatusBadRequest, errMsg: "Invalid JSON"},
		{name: "missing id", body: MountRequest{}, status: http.StatusBadRequest, errMsg: "game_id is required"},
		{name: "unknown game", body: MountRequest{GameID: "nope"}, status: http.StatusNotFound},
		{
			name:     "backend unreachable",
			body:     MountRequest{GameID: "g1"},
			mountErr: &api.TransportError{Op: "get game", Err: context.DeadlineExceeded},
			status:   http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view := newFakeView(activeGame("g1"))
			view.mountErr = tt.mountErr

			w := makeRequest(t, newRouter(view), http.MethodPut, "/api/v1/view", tt.body)
			assert.Equal(t, tt.status, w.Code)
			if tt.errMsg != "" {
				assert.Equal(t, tt.errMsg, decodeError(t, w))
			}
			if tt.status == http.StatusOK {
				var resp ViewResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				require.NotNil(t, resp.Game)
				assert.Equal(t, "g1", resp.Game.ID)
				assert.False(t, resp.Optimistic)
			}
		})
	}
}

func TestGetView(t *testing.T) {
	view := newFakeView(activeGame("g1"))
	router := newRouter(view)

	w := makeRequest(t, router, http.MethodGet, "/api/v1/view", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// mounted but no snapshot yet
	view.gameID = "g1"
	w = makeRequest(t, router, http.MethodGet, "/api/v1/view", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), `"loading"`)

	require.NoError(t, view.Mount(context.Background(), "g1"))
	w = makeRequest(t, router, http.MethodGet, "/api/v1/view", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = makeRequest(t, router, http.MethodDelete, "/api/v1/view", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "", view.GameID())
}

func TestBuyInAndCashOut(t *testing.T) {
	view := newFakeView(activeGame("g1"))
	require.NoError(t, view.Mount(context.Background(), "g1"))
	router := newRouter(view)

	w := makeRequest(t, router, http.MethodPost, "/api/v1/view/buyin", map[string]interface{}{"player_id": "bob", "amount": 25})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		View ViewResponse `json:"view"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.View.Optimistic)
	assert.True(t, resp.View.Game.TotalPot.Equal(dec("125")))
	assert.Equal(t, []string{"buyin:bob"}, view.changes)

	w = makeRequest(t, router, http.MethodPost, "/api/v1/view/cashout", map[string]interface{}{
		"player_id": "alice",
		"amount":    "40.50",
		"time":      "2024-05-01T22:00:00Z",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	current, _ := view.store.Current()
	alice, _ := current.Player("alice")
	assert.True(t, alice.CashOut.Equal(dec("40.50")))
	assert.True(t, current.AvailableCashOut.Equal(dec("84.50")))
}

func TestChangeRejected(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		body   interface{}
		status int
		errMsg string
	}{
		{name: "zero amount", url: "/api/v1/view/buyin", body: map[string]interface{}{"player_id": "bob", "amount": 0}, status: http.StatusBadRequest, errMsg: "amount must be greater than 0"},
		{name: "no player", url: "/api/v1/view/buyin", body: map[string]interface{}{"amount": 10}, status: http.StatusBadRequest, errMsg: "player_id is required"},
		{name: "cash-out above table", url: "/api/v1/view/cashout", body: map[string]interface{}{"player_id": "bob", "amount": 101}, status: http.StatusBadRequest, errMsg: "amount 101 exceeds available cash-out 100"},
		{name: "backend failure", url: "/api/v1/view/complete", status: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view := newFakeView(activeGame("g1"))
			require.NoError(t, view.Mount(context.Background(), "g1"))

			w := makeRequest(t, newRouter(view), http.MethodPost, tt.url, tt.body)
			assert.Equal(t, tt.status, w.Code)
			if tt.errMsg != "" {
				assert.Equal(t, tt.errMsg, decodeError(t, w))
			}
		})
	}
}

func TestChangeWithoutMount(t *testing.T) {
	w := makeRequest(t, newRouter(newFakeView()), http.MethodPost, "/api/v1/view/buyin", map[string]interface{}{"player_id": "bob", "amount": 5})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChangesAreBookedForTheActor(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		Username:         "Bob",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "bob"},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	view := newFakeView(activeGame("g1"))
	view.actor = "alice"
	require.NoError(t, view.Mount(context.Background(), "g1"))
	router := newRouter(view)

	// the caller's own token does not pick the player
	w := makeRequest(t, router, http.MethodPost, "/api/v1/view/buyin",
		map[string]interface{}{"amount": 5}, "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"buyin:alice"}, view.changes)

	w = makeRequest(t, router, http.MethodPost, "/api/v1/view/buyin",
		map[string]interface{}{"player_id": "bob", "amount": 5})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "changes are booked for alice, not bob", decodeError(t, w))
	assert.Equal(t, []string{"buyin:alice"}, view.changes)
}

func TestSettlementRoutes(t *testing.T) {
	view := newFakeView(activeGame("g1"), completedGame("g2"))
	journal := &fakeJournal{}
	poster := &fakePoster{}
	router := newRouter(view, WithJournal(journal), WithSettlementPoster(poster))

	w := makeRequest(t, router, http.MethodGet, "/api/v1/view/settlement", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, view.Mount(context.Background(), "g1"))
	w = makeRequest(t, router, http.MethodGet, "/api/v1/view/settlement", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	require.NoError(t, view.Mount(context.Background(), "g2"))
	w = makeRequest(t, router, http.MethodGet, "/api/v1/view/settlement", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var summary settlement.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	require.Len(t, summary.Transfers, 1)
	assert.Equal(t, "alice", summary.Transfers[0].FromUserID)
	assert.Equal(t, "bob", summary.Transfers[0].ToUserID)
	assert.True(t, summary.Transfers[0].Amount.Equal(dec("100")))

	for i, recorded := range []bool{true, false} {
		w = makeRequest(t, router, http.MethodPost, "/api/v1/view/settlement", nil)
		require.Equal(t, http.StatusOK, w.Code, "attempt %d", i)

		var resp RecordSettlementResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, recorded, resp.Recorded)
		assert.Equal(t, "7", resp.TransactionID)
		assert.NotEmpty(t, resp.RecordID)
	}
}

func TestRecordSettlementJournalFailure(t *testing.T) {
	view := newFakeView(completedGame("g1"))
	require.NoError(t, view.Mount(context.Background(), "g1"))
	journal := &fakeJournal{err: fmt.Errorf("failed to save settlement: %w", &pgconn.PgError{Code: "23503"})}

	w := makeRequest(t, newRouter(view, WithJournal(journal)), http.MethodPost, "/api/v1/view/settlement", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Settlement transfer has no settlement record", decodeError(t, w))
}

func TestRecordSettlementNotConfigured(t *testing.T) {
	view := newFakeView(completedGame("g1"))
	require.NoError(t, view.Mount(context.Background(), "g1"))

	w := makeRequest(t, newRouter(view), http.MethodPost, "/api/v1/view/settlement", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestStreamEvents(t *testing.T) {
	view := newFakeView(activeGame("g1"))
	require.NoError(t, view.Mount(context.Background(), "g1"))

	srv := httptest.NewServer(newRouter(view))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/view/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var event, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case line == "":
				return event, data
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			}
		}
	}

	event, data := readEvent()
	assert.Equal(t, "snapshot", event)
	assert.Contains(t, data, `"id":"g1"`)

	view.store.Reset()
	event, _ = readEvent()
	assert.Equal(t, "reset", event)
}
