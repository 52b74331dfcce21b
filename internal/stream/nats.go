package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const natsPendingMessages = 64

// NATSSource receives snapshots published on the subject games.{id}
type NATSSource struct {
	conn *nats.Conn
}

func NewNATSSource(conn *nats.Conn) *NATSSource {
	return &NATSSource{conn: conn}
}

// ConnectNATS opens a named connection, authenticating with token when set
func ConnectNATS(url, token string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("homegame stream"),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return conn, nil
}

func (s *NATSSource) Name() string { return "nats" }

// GameSubject is the subject carrying a game's snapshots
func GameSubject(gameID string) string {
	return "games." + gameID
}

func (s *NATSSource) Stream(ctx context.Context, gameID string, deliver func([]byte)) error {
	msgs := make(chan *nats.Msg, natsPendingMessages)
	sub, err := s.conn.ChanSubscribe(GameSubject(gameID), msgs)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", GameSubject(gameID), err)
	}
	defer sub.Unsubscribe()

	// the connection closing does not close msgs; poll the subscription
	health := time.NewTicker(time.Second)
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-msgs:
			deliver(msg.Data)
		case <-health.C:
			if !sub.IsValid() || s.conn.IsClosed() {
				return ErrStreamClosed
			}
		}
	}
}
