// Package stream keeps a ledger store in step with the server's push
// channel for one game.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/anhbaysgalan1/homegame/internal/ledger"
	"github.com/anhbaysgalan1/homegame/internal/models"
	"github.com/google/uuid"
)

var (
	// ErrAlreadySubscribed is returned when the game already has a live subscription
	ErrAlreadySubscribed = errors.New("game already has a live subscription")

	// ErrStreamClosed is returned by a Source when the server ends the stream
	ErrStreamClosed = errors.New("stream closed by server")
)

// TransportError ends a subscription whose push channel failed or closed.
// Subscriptions are not retried.
type TransportError struct {
	GameID    string
	Transport string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s stream for game %s: %v", e.Transport, e.GameID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Source is a push channel delivering full game snapshots. Stream blocks
// until ctx is cancelled or the channel fails, calling deliver for every
// payload in arrival order.
type Source interface {
	Name() string
	Stream(ctx context.Context, gameID string, deliver func([]byte)) error
}

// Client feeds snapshots from a Source into a Sink
type Client struct {
	source Source
	sink   ledger.Sink
	logger *slog.Logger

	mu   sync.Mutex
	live map[string]*Subscription
}

func NewClient(source Source, sink ledger.Sink, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		source: source,
		sink:   sink,
		logger: logger,
		live:   make(map[string]*Subscription),
	}
}

// Subscription is one live stream for one game
type Subscription struct {
	ID     string
	GameID string

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Close stops the stream and waits for it to exit. Safe to call more than once.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

// Done is closed once the stream has stopped
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the *TransportError that ended the stream, or nil if it was
// closed locally. Only meaningful after Done is closed.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Subscribe starts streaming snapshots for gameID into the sink. The stream
// lives until ctx is cancelled, Close is called, or the transport fails.
func (c *Client) Subscribe(ctx context.Context, gameID string) (*Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.live[gameID]; ok {
		return nil, ErrAlreadySubscribed
	}

	streamCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		ID:     uuid.NewString(),
		GameID: gameID,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.live[gameID] = sub

	c.logger.Info("Subscribing to game stream", "game_id", gameID, "transport", c.source.Name(), "subscription_id", sub.ID)
	go c.run(streamCtx, sub)
	return sub, nil
}

func (c *Client) run(ctx context.Context, sub *Subscription) {
	defer func() {
		c.mu.Lock()
		delete(c.live, sub.GameID)
		c.mu.Unlock()
		sub.cancel()
		close(sub.done)
	}()

	err := c.source.Stream(ctx, sub.GameID, func(payload []byte) {
		c.handle(sub.GameID, payload)
	})

	if ctx.Err() != nil {
		c.logger.Info("Game stream closed", "game_id", sub.GameID, "subscription_id", sub.ID)
		return
	}
	if err == nil {
		err = ErrStreamClosed
	}
	sub.err = &TransportError{GameID: sub.GameID, Transport: c.source.Name(), Err: err}
	c.logger.Error("Game stream failed", "game_id", sub.GameID, "subscription_id", sub.ID, "error", err)
}

func (c *Client) handle(gameID string, payload []byte) {
	snapshot, err := models.ParseSnapshot(payload)
	if err != nil {
		c.logger.Warn("Dropping unparseable snapshot", "game_id", gameID, "error", err)
		return
	}
	if snapshot.ID != gameID {
		c.logger.Warn("Dropping snapshot for another game", "game_id", gameID, "snapshot_game_id", snapshot.ID)
		return
	}
	if err := snapshot.CheckInvariants(); err != nil {
		c.logger.Warn("Snapshot violates ledger invariants", "game_id", gameID, "error", err)
	}

	if c.sink.Replace(snapshot) {
		c.logger.Debug("Applied snapshot", "game_id", gameID, "status", snapshot.Status, "total_pot", snapshot.TotalPot)
	}
}
