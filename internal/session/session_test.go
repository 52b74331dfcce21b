package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/anhbaysgalan1/homegame/internal/ledger"
	"github.com/anhbaysgalan1/homegame/internal/models"
	"github.com/coder/quartz"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func game(id string, status models.GameStatus, pot string) *models.GameSession {
	p := dec(pot)
	gs := &models.GameSession{
		ID:               id,
		Status:           status,
		TotalPot:         p,
		AvailableCashOut: p,
		Players: []models.Player{
			{UserID: "alice", Username: "Alice", BuyIns: []models.BuyIn{{Amount: p}}, NetProfit: p.Neg()},
			{UserID: "bob", Username: "Bob"},
		},
	}
	if status == models.GameStatusCompleted {
		gs.AvailableCashOut = decimal.Zero
		gs.Players[0].CashOut = decimal.Zero
		gs.Players[1].CashOut = p
		gs.Players[1].NetProfit = p
	}
	return gs
}

type fakeAPI struct {
	mu      sync.Mutex
	games   map[string]*models.GameSession
	getErr  error
	buyIns  int
	getHits int
}

func (f *fakeAPI) GetGame(ctx context.Context, gameID string) (*models.GameSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getHits++
	if f.getErr != nil {
		return nil, f.getErr
	}
	gs, ok := f.games[gameID]
	if !ok {
		return nil, errors.New("not found")
	}
	return gs.Clone(), nil
}

func (f *fakeAPI) AddBuyIn(ctx context.Context, gameID string, amount decimal.Decimal, at time.Time) (*models.GameSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buyIns++
	return nil, nil
}

func (f *fakeAPI) CashOut(ctx context.Context, gameID string, amount decimal.Decimal, at time.Time) (*models.GameSession, error) {
	return nil, nil
}

func (f *fakeAPI) CompleteGame(ctx context.Context, gameID string) (*models.GameSession, error) {
	return nil, nil
}

// fakeSource pushes snapshots per game and counts open streams
type fakeSource struct {
	mu      sync.Mutex
	feeds   map[string]chan []byte
	opened  int
	stopped chan string
}

func newFakeSource() *fakeSource {
	return &fakeSource{feeds: map[string]chan []byte{}, stopped: make(chan string, 8)}
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) feed(gameID string) chan []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.feeds[gameID]
	if !ok {
		ch = make(chan []byte)
		f.feeds[gameID] = ch
	}
	return ch
}

func (f *fakeSource) Stream(ctx context.Context, gameID string, deliver func([]byte)) error {
	f.mu.Lock()
	f.opened++
	f.mu.Unlock()
	defer func() { f.stopped <- gameID }()

	feed := f.feed(gameID)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p := <-feed:
			deliver(p)
		}
	}
}

func (f *fakeSource) push(t *testing.T, gs *models.GameSession) {
	t.Helper()
	data, err := json.Marshal(gs)
	require.NoError(t, err)
	select {
	case f.feed(gs.ID) <- data:
	case <-time.After(2 * time.Second):
		t.Fatalf("no stream reading game %s", gs.ID)
	}
}

type memoryCache struct {
	mu    sync.Mutex
	saved map[string]*models.GameSession
	saves chan *models.GameSession
}

func newMemoryCache() *memoryCache {
	return &memoryCache{saved: map[string]*models.GameSession{}, saves: make(chan *models.GameSession, 16)}
}

func (m *memoryCache) Save(ctx context.Context, gs *models.GameSession) error {
	m.mu.Lock()
	m.saved[gs.ID] = gs.Clone()
	m.mu.Unlock()
	m.saves <- gs.Clone()
	return nil
}

func (m *memoryCache) Load(ctx context.Context, gameID string) (*models.GameSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gs, ok := m.saved[gameID]
	if !ok {
		return nil, nil
	}
	return gs.Clone(), nil
}

func (m *memoryCache) Invalidate(ctx context.Context, gameID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.saved, gameID)
	return nil
}

func (m *memoryCache) has(gameID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.saved[gameID]
	return ok
}

func waitFor(t *testing.T, updates <-chan ledger.State, match func(ledger.State) bool) ledger.State {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case st := <-updates:
			if match(st) {
				return st
			}
		case <-timeout:
			t.Fatal("timed out waiting for state")
		}
	}
}

func newSession(t *testing.T, api *fakeAPI, source *fakeSource, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithClock(quartz.NewMock(t))}, opts...)
	s := New(api, source, opts...)
	t.Cleanup(s.Close)
	return s
}

func TestMount_LoadsAndStreams(t *testing.T) {
	api := &fakeAPI{games: map[string]*models.GameSession{"g1": game("g1", models.GameStatusActive, "100")}}
	source := newFakeSource()
	s := newSession(t, api, source)

	require.NoError(t, s.Mount(context.Background(), "g1"))
	assert.Equal(t, "g1", s.GameID())

	current, ok := s.Reader().Current()
	require.True(t, ok)
	assert.True(t, current.TotalPot.Equal(dec("100")))

	updates, unsubscribe := s.Reader().Subscribe()
	defer unsubscribe()

	source.push(t, game("g1", models.GameStatusActive, "140"))
	st := waitFor(t, updates, func(st ledger.State) bool {
		return st.Session != nil && st.Session.TotalPot.Equal(dec("140"))
	})
	assert.False(t, st.Optimistic)

	s.Unmount()
	assert.Equal(t, "", s.GameID())
	assert.Nil(t, s.StreamDone())
	_, ok = s.Reader().Current()
	assert.False(t, ok)
	assert.Equal(t, "g1", <-source.stopped)
}

func TestMount_SameGameIsNoop(t *testing.T) {
	api := &fakeAPI{games: map[string]*models.GameSession{"g1": game("g1", models.GameStatusActive, "100")}}
	source := newFakeSource()
	s := newSession(t, api, source)

	require.NoError(t, s.Mount(context.Background(), "g1"))
	require.NoError(t, s.Mount(context.Background(), "g1"))

	assert.Equal(t, 1, api.getHits)
	source.mu.Lock()
	assert.Equal(t, 1, source.opened)
	source.mu.Unlock()
}

func TestMount_SwitchingGamesReleasesPrevious(t *testing.T) {
	api := &fakeAPI{games: map[string]*models.GameSession{
		"g1": game("g1", models.GameStatusActive, "100"),
		"g2": game("g2", models.GameStatusActive, "300"),
	}}
	source := newFakeSource()
	s := newSession(t, api, source)

	require.NoError(t, s.Mount(context.Background(), "g1"))
	require.NoError(t, s.Mount(context.Background(), "g2"))

	select {
	case stopped := <-source.stopped:
		assert.Equal(t, "g1", stopped)
	case <-time.After(2 * time.Second):
		t.Fatal("previous stream was not released")
	}

	current, _ := s.Reader().Current()
	assert.Equal(t, "g2", current.ID)
}

func TestMount_Failure(t *testing.T) {
	api := &fakeAPI{getErr: errors.New("connection refused")}
	s := newSession(t, api, newFakeSource())

	err := s.Mount(context.Background(), "g1")
	require.Error(t, err)
	assert.Equal(t, "", s.GameID())

	_, err = s.RecordBuyIn(context.Background(), "alice", dec("10"), time.Time{})
	assert.ErrorIs(t, err, ErrNotMounted)

	assert.Error(t, s.Mount(context.Background(), ""))
}

func TestView_AlwaysUnmounts(t *testing.T) {
	api := &fakeAPI{games: map[string]*models.GameSession{"g1": game("g1", models.GameStatusActive, "100")}}
	source := newFakeSource()
	s := newSession(t, api, source)

	boom := errors.New("render failed")
	err := s.View(context.Background(), "g1", func(ctx context.Context, r ledger.Reader) error {
		gs, ok := r.Current()
		require.True(t, ok)
		assert.Equal(t, "g1", gs.ID)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "", s.GameID())
	assert.Equal(t, "g1", <-source.stopped)
}

func TestRecordBuyIn_AppliesOptimistically(t *testing.T) {
	api := &fakeAPI{games: map[string]*models.GameSession{"g1": game("g1", models.GameStatusActive, "100")}}
	s := newSession(t, api, newFakeSource())
	require.NoError(t, s.Mount(context.Background(), "g1"))

	_, err := s.RecordBuyIn(context.Background(), "bob", dec("40"), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, api.buyIns)

	st := s.Reader().State()
	assert.True(t, st.Optimistic)
	assert.True(t, st.Session.TotalPot.Equal(dec("140")))
}

func TestSettlement(t *testing.T) {
	api := &fakeAPI{games: map[string]*models.GameSession{"g1": game("g1", models.GameStatusActive, "100")}}
	source := newFakeSource()
	s := newSession(t, api, source)

	_, err := s.Settlement()
	assert.ErrorIs(t, err, ErrNotMounted)

	require.NoError(t, s.Mount(context.Background(), "g1"))
	_, err = s.Settlement()
	var invErr *models.InvariantError
	assert.True(t, errors.As(err, &invErr))

	updates, unsubscribe := s.Reader().Subscribe()
	defer unsubscribe()
	source.push(t, game("g1", models.GameStatusCompleted, "100"))
	waitFor(t, updates, func(st ledger.State) bool {
		return st.Session != nil && st.Session.IsTerminal()
	})

	summary, err := s.Settlement()
	require.NoError(t, err)
	require.Len(t, summary.Transfers, 1)
	assert.Equal(t, "alice", summary.Transfers[0].FromUserID)
	assert.Equal(t, "bob", summary.Transfers[0].ToUserID)
	assert.True(t, summary.Transfers[0].Amount.Equal(dec("100")))
}

func TestCache_WarmStartAndWriteThrough(t *testing.T) {
	cache := newMemoryCache()
	cache.saved["g1"] = game("g1", models.GameStatusActive, "80")

	api := &fakeAPI{getErr: errors.New("backend down")}
	source := newFakeSource()
	s := newSession(t, api, source, WithCache(cache))

	require.NoError(t, s.Mount(context.Background(), "g1"))
	current, ok := s.Reader().Current()
	require.True(t, ok)
	assert.True(t, current.TotalPot.Equal(dec("80")))

	// optimistic edits are not cached; confirmed snapshots are
	_, err := s.RecordBuyIn(context.Background(), "bob", dec("5"), time.Time{})
	require.NoError(t, err)
	source.push(t, game("g1", models.GameStatusActive, "120"))

	timeout := time.After(2 * time.Second)
	for {
		select {
		case saved := <-cache.saves:
			if saved.TotalPot.Equal(dec("85")) {
				t.Fatal("optimistic state was cached")
			}
			if saved.TotalPot.Equal(dec("120")) {
				return
			}
		case <-timeout:
			t.Fatal("confirmed snapshot was not cached")
		}
	}
}

func TestRecordBuyIn_BookedForActor(t *testing.T) {
	api := &fakeAPI{games: map[string]*models.GameSession{"g1": game("g1", models.GameStatusActive, "100")}}
	s := newSession(t, api, newFakeSource(), WithActor("alice"))
	require.NoError(t, s.Mount(context.Background(), "g1"))

	_, err := s.RecordBuyIn(context.Background(), "bob", dec("40"), time.Time{})
	require.Error(t, err)
	assert.Equal(t, 0, api.buyIns)
	assert.False(t, s.Reader().State().Optimistic)

	_, err = s.RecordBuyIn(context.Background(), "", dec("40"), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, api.buyIns)

	current, _ := s.Reader().Current()
	alice, _ := current.Player("alice")
	assert.Len(t, alice.BuyIns, 2)
}

func TestMount_RejectsOtherGame(t *testing.T) {
	api := &fakeAPI{games: map[string]*models.GameSession{"g1": game("g2", models.GameStatusActive, "100")}}
	source := newFakeSource()
	s := newSession(t, api, source)

	err := s.Mount(context.Background(), "g1")
	require.Error(t, err)
	assert.Equal(t, "", s.GameID())
	_, ok := s.Reader().Current()
	assert.False(t, ok)

	source.mu.Lock()
	assert.Equal(t, 0, source.opened)
	source.mu.Unlock()
}

func TestCache_FinishedGameIsDroppedOnUnmount(t *testing.T) {
	cache := newMemoryCache()
	api := &fakeAPI{games: map[string]*models.GameSession{
		"g1": game("g1", models.GameStatusActive, "100"),
		"g2": game("g2", models.GameStatusActive, "50"),
	}}
	source := newFakeSource()
	s := newSession(t, api, source, WithCache(cache))

	// an active game stays cached
	require.NoError(t, s.Mount(context.Background(), "g2"))
	require.Eventually(t, func() bool { return cache.has("g2") }, 2*time.Second, 10*time.Millisecond)
	s.Unmount()
	assert.True(t, cache.has("g2"))

	require.NoError(t, s.Mount(context.Background(), "g1"))
	updates, unsubscribe := s.Reader().Subscribe()
	defer unsubscribe()
	source.push(t, game("g1", models.GameStatusCompleted, "100"))
	waitFor(t, updates, func(st ledger.State) bool {
		return st.Session != nil && st.Session.IsTerminal()
	})
	require.Eventually(t, func() bool { return cache.has("g1") }, 2*time.Second, 10*time.Millisecond)

	s.Unmount()
	assert.False(t, cache.has("g1"))
}
