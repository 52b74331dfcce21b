// Package session owns everything needed to view one game: the ledger
// store, its push stream, the mutation gateway and the optional snapshot
// cache. There is one writer path into the store and any number of readers.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/anhbaysgalan1/homegame/internal/gateway"
	"github.com/anhbaysgalan1/homegame/internal/ledger"
	"github.com/anhbaysgalan1/homegame/internal/models"
	"github.com/anhbaysgalan1/homegame/internal/settlement"
	"github.com/anhbaysgalan1/homegame/internal/stream"
	"github.com/anhbaysgalan1/homegame/internal/validation"
	"github.com/coder/quartz"
	"github.com/shopspring/decimal"
)

// ErrNotMounted is returned when an operation needs a mounted game
var ErrNotMounted = errors.New("no game is mounted")

// API is the backend surface a session uses
type API interface {
	gateway.GamesAPI
	GetGame(ctx context.Context, gameID string) (*models.GameSession, error)
}

// SnapshotCache stores the last confirmed snapshot of a game
type SnapshotCache interface {
	Save(ctx context.Context, gs *models.GameSession) error
	Load(ctx context.Context, gameID string) (*models.GameSession, error)
	Invalidate(ctx context.Context, gameID string) error
}

type Option func(*Session)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

func WithClock(clock quartz.Clock) Option {
	return func(s *Session) { s.clock = clock }
}

// WithCache seeds the store from cache on mount and writes confirmed
// snapshots back to it. A finished game is dropped from the cache when it
// is unmounted.
func WithCache(cache SnapshotCache) Option {
	return func(s *Session) { s.cache = cache }
}

// WithActor names the player the API token books changes for. Changes
// naming anyone else are rejected.
func WithActor(playerID string) Option {
	return func(s *Session) { s.actor = playerID }
}

type Session struct {
	api     API
	store   *ledger.Store
	streams *stream.Client
	gateway *gateway.Gateway
	cache   SnapshotCache
	clock   quartz.Clock
	actor   string
	logger  *slog.Logger

	// streams outlive the request that mounted them
	baseCtx context.Context
	cancel  context.CancelFunc

	mu         sync.Mutex
	gameID     string
	sub        *stream.Subscription
	stopWriter func()
}

func New(api API, source stream.Source, opts ...Option) *Session {
	s := &Session{
		api:    api,
		clock:  quartz.NewReal(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	s.store = ledger.NewStore(s.logger)
	s.streams = stream.NewClient(source, s.store, s.logger)
	s.gateway = gateway.New(api, s.store, s.clock, s.logger, gateway.WithActor(s.actor))
	return s
}

// Mount starts viewing gameID. Mounting the game already mounted is a
// no-op; mounting another game releases the current one first.
func (s *Session) Mount(ctx context.Context, gameID string) error {
	if err := validation.ValidateID(gameID, "game_id"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gameID == gameID && s.sub != nil {
		select {
		case <-s.sub.Done():
		default:
			return nil
		}
	}
	s.unmountLocked()

	s.logger.Info("Mounting game", "game_id", gameID)
	warm := s.loadCached(ctx, gameID)

	gs, err := s.api.GetGame(ctx, gameID)
	if err == nil && gs.ID != "" && gs.ID != gameID {
		err = fmt.Errorf("backend returned game %s", gs.ID)
	}
	switch {
	case err == nil:
		if gs.ID == "" {
			gs.ID = gameID
		}
		s.store.Replace(gs)
	case warm:
		s.logger.Warn("Failed to fetch game, showing cached snapshot", "game_id", gameID, "error", err)
	default:
		s.store.Reset()
		return fmt.Errorf("failed to load game %s: %w", gameID, err)
	}

	sub, err := s.streams.Subscribe(s.baseCtx, gameID)
	if err != nil {
		s.store.Reset()
		return fmt.Errorf("failed to subscribe to game %s: %w", gameID, err)
	}

	s.gameID = gameID
	s.sub = sub
	if s.cache != nil {
		s.stopWriter = s.startCacheWriter()
	}
	return nil
}

func (s *Session) loadCached(ctx context.Context, gameID string) bool {
	if s.cache == nil {
		return false
	}
	cached, err := s.cache.Load(ctx, gameID)
	if err != nil {
		s.logger.Warn("Failed to load cached snapshot", "game_id", gameID, "error", err)
		return false
	}
	if cached == nil || cached.ID != gameID {
		return false
	}
	s.store.Replace(cached)
	return true
}

// startCacheWriter saves every confirmed snapshot to the cache
func (s *Session) startCacheWriter() func() {
	updates, unsubscribe := s.store.Subscribe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for st := range updates {
			if st.Session == nil || st.Optimistic {
				continue
			}
			ctx, cancel := context.WithTimeout(s.baseCtx, 5*time.Second)
			if err := s.cache.Save(ctx, st.Session); err != nil {
				s.logger.Warn("Failed to cache snapshot", "game_id", st.Session.ID, "error", err)
			}
			cancel()
		}
	}()

	return func() {
		unsubscribe()
		<-done
	}
}

// Unmount stops the stream and drops the viewed game
func (s *Session) Unmount() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unmountLocked()
}

func (s *Session) unmountLocked() {
	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
	}
	if s.stopWriter != nil {
		s.stopWriter()
		s.stopWriter = nil
	}
	if current, ok := s.store.Current(); ok && s.cache != nil && current.IsTerminal() {
		ctx, cancel := context.WithTimeout(s.baseCtx, 5*time.Second)
		if err := s.cache.Invalidate(ctx, current.ID); err != nil {
			s.logger.Warn("Failed to drop cached snapshot", "game_id", current.ID, "error", err)
		}
		cancel()
	}
	if s.gameID != "" {
		s.logger.Info("Unmounted game", "game_id", s.gameID)
	}
	s.gameID = ""
	s.store.Reset()
}

// View mounts gameID for the duration of fn and always unmounts afterwards
func (s *Session) View(ctx context.Context, gameID string, fn func(ctx context.Context, r ledger.Reader) error) error {
	if err := s.Mount(ctx, gameID); err != nil {
		return err
	}
	defer s.Unmount()
	return fn(ctx, s.store)
}

// Close unmounts and releases the session
func (s *Session) Close() {
	s.Unmount()
	s.cancel()
}

// GameID returns the mounted game, or "" when nothing is mounted
func (s *Session) GameID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gameID
}

// StreamDone is closed when the mounted game's stream stops. It returns nil
// when nothing is mounted.
func (s *Session) StreamDone() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		return nil
	}
	return s.sub.Done()
}

// StreamErr returns the error that ended the mounted game's stream
func (s *Session) StreamErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		return nil
	}
	return s.sub.Err()
}

func (s *Session) Reader() ledger.Reader {
	return s.store
}

func (s *Session) RecordBuyIn(ctx context.Context, playerID string, amount decimal.Decimal, at time.Time) (*models.GameSession, error) {
	gameID, err := s.mountedGame()
	if err != nil {
		return nil, err
	}
	return s.gateway.RecordBuyIn(ctx, gameID, playerID, amount, at)
}

func (s *Session) RecordCashOut(ctx context.Context, playerID string, amount decimal.Decimal, at time.Time) (*models.GameSession, error) {
	gameID, err := s.mountedGame()
	if err != nil {
		return nil, err
	}
	return s.gateway.RecordCashOut(ctx, gameID, playerID, amount, at)
}

func (s *Session) CompleteGame(ctx context.Context) (*models.GameSession, error) {
	gameID, err := s.mountedGame()
	if err != nil {
		return nil, err
	}
	return s.gateway.CompleteGame(ctx, gameID)
}

// Settlement summarizes the mounted game once it is completed
func (s *Session) Settlement() (*settlement.Summary, error) {
	current, ok := s.store.Current()
	if !ok {
		return nil, ErrNotMounted
	}
	return settlement.Summarize(current)
}

func (s *Session) mountedGame() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gameID == "" {
		return "", ErrNotMounted
	}
	return s.gameID, nil
}
