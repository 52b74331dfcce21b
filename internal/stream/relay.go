package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/anhbaysgalan1/homegame/internal/ledger"
	"github.com/anhbaysgalan1/homegame/internal/models"
	"github.com/nats-io/nats.go"
)

// Publisher forwards a confirmed snapshot to other viewers
type Publisher interface {
	Publish(ctx context.Context, gs *models.GameSession) error
}

type PublisherFunc func(ctx context.Context, gs *models.GameSession) error

func (f PublisherFunc) Publish(ctx context.Context, gs *models.GameSession) error {
	return f(ctx, gs)
}

// NATSPublisher publishes snapshots on games.{id}, where a NATSSource reads
// them
type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(conn *nats.Conn) *NATSPublisher {
	return &NATSPublisher{conn: conn}
}

func (p *NATSPublisher) Publish(ctx context.Context, gs *models.GameSession) error {
	data, err := json.Marshal(gs)
	if err != nil {
		return fmt.Errorf("failed to marshal game snapshot: %w", err)
	}
	if err := p.conn.Publish(GameSubject(gs.ID), data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", GameSubject(gs.ID), err)
	}
	return nil
}

// Relay republishes every confirmed snapshot the reader sees until ctx is
// done. Optimistic states are local and are never relayed. A failing
// publisher is logged and skipped.
func Relay(ctx context.Context, reader ledger.Reader, logger *slog.Logger, publishers ...Publisher) error {
	if logger == nil {
		logger = slog.Default()
	}

	updates, unsubscribe := reader.Subscribe()
	defer unsubscribe()

	var lastGeneration uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-updates:
			if !ok {
				return nil
			}
			if st.Session == nil || st.Optimistic || st.Generation == lastGeneration {
				continue
			}
			lastGeneration = st.Generation

			for _, p := range publishers {
				if err := p.Publish(ctx, st.Session); err != nil {
					logger.Warn("Failed to relay snapshot", "game_id", st.Session.ID, "error", err)
				}
			}
		}
	}
}
