package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/anhbaysgalan1/homegame/internal/config"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gameJSON = `{
	"_id": "g1",
	"table_id": "t1",
	"creator_id": "alice",
	"status": "in_progress",
	"duration": {"hours": 1, "minutes": 5},
	"total_pot": 200,
	"available_cash_out": 200,
	"date": "2024-05-01T20:00:00.123456",
	"venue": "Sam's",
	"players": [
		{"user_id": "alice", "username": "Alice", "buy_ins": [{"amount": 100, "time": "2024-05-01T20:00:00Z"}], "cash_out": 0, "net_profit": -100, "notable_hands": []},
		{"user_id": "bob", "username": "Bob", "buy_ins": [{"amount": 100, "time": "2024-05-01T20:01:00Z"}], "cash_out": 0, "net_profit": -100, "notable_hands": []}
	]
}`

type recorded struct {
	method string
	path   string
	auth   string
	reqID  string
	body   map[string]interface{}
}

func newTestBackend(t *testing.T) (*Client, *[]recorded) {
	t.Helper()
	var calls []recorded

	record := func(r *http.Request) {
		rec := recorded{
			method: r.Method,
			path:   r.URL.Path,
			auth:   r.Header.Get("Authorization"),
			reqID:  r.Header.Get("X-Request-ID"),
		}
		if r.ContentLength > 0 {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		calls = append(calls, rec)
	}

	r := chi.NewRouter()
	r.Get("/games/{id}", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		if chi.URLParam(r, "id") != "g1" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"detail": "Game not found"}`))
			return
		}
		w.Write([]byte(gameJSON))
	})
	r.Put("/games/{id}/buyin", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.Write([]byte(gameJSON))
	})
	r.Put("/games/{id}/cashout", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"detail": "Cash-out exceeds available amount"}`))
	})
	r.Post("/games/{id}/end", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail": [{"loc": ["path", "id"], "msg": "bad id"}]}`))
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	client := NewClient(&config.Config{APIURL: srv.URL, APIToken: "token-123", RequestTimeout: 5 * time.Second})
	return client, &calls
}

func TestClient_GetGame(t *testing.T) {
	client, calls := newTestBackend(t)

	gs, err := client.GetGame(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, "g1", gs.ID)
	assert.Len(t, gs.Players, 2)
	assert.True(t, gs.TotalPot.Equal(decimal.NewFromInt(200)))

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, "Bearer token-123", call.auth)
	assert.NotEmpty(t, call.reqID)
}

func TestClient_GetGameNotFound(t *testing.T) {
	client, _ := newTestBackend(t)

	_, err := client.GetGame(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "Game not found", te.Detail)
}

func TestClient_AddBuyIn(t *testing.T) {
	client, calls := newTestBackend(t)
	at := time.Date(2024, 5, 1, 21, 0, 0, 0, time.UTC)

	gs, err := client.AddBuyIn(context.Background(), "g1", decimal.RequireFromString("12.5"), at)
	require.NoError(t, err)
	assert.Equal(t, "g1", gs.ID)

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, http.MethodPut, call.method)
	assert.Equal(t, "/games/g1/buyin", call.path)
	assert.Equal(t, 12.5, call.body["amount"])
	assert.Equal(t, "2024-05-01T21:00:00Z", call.body["time"])
}

func TestClient_CashOutRejected(t *testing.T) {
	client, calls := newTestBackend(t)

	_, err := client.CashOut(context.Background(), "g1", decimal.NewFromInt(500), time.Now())
	require.Error(t, err)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusBadRequest, te.StatusCode)
	assert.Equal(t, "Cash-out exceeds available amount", te.Detail)
	assert.Equal(t, "/games/g1/cashout", (*calls)[0].path)
}

func TestClient_CompleteGameStructuredDetail(t *testing.T) {
	client, calls := newTestBackend(t)

	_, err := client.CompleteGame(context.Background(), "g1")
	require.Error(t, err)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusUnprocessableEntity, te.StatusCode)
	assert.Contains(t, te.Detail, "bad id")
	assert.Equal(t, http.MethodPost, (*calls)[0].method)
	assert.Equal(t, "/games/g1/end", (*calls)[0].path)
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := NewClient(&config.Config{APIURL: srv.URL})
	_, err := client.GetGame(context.Background(), "g1")

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Error(t, te.Err)
	assert.Zero(t, te.StatusCode)
}
