package stream

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const gameChannelPrefix = "game:"

// RedisSource receives snapshots published on the Redis channel game:{id}
type RedisSource struct {
	client *redis.Client
}

func NewRedisSource(client *redis.Client) *RedisSource {
	return &RedisSource{client: client}
}

func (s *RedisSource) Name() string { return "redis" }

// GameChannel is the pub/sub channel carrying a game's snapshots
func GameChannel(gameID string) string {
	return gameChannelPrefix + gameID
}

func (s *RedisSource) Stream(ctx context.Context, gameID string, deliver func([]byte)) error {
	pubsub := s.client.Subscribe(ctx, GameChannel(gameID))
	defer pubsub.Close()

	// Wait for confirmation that subscription is created
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", GameChannel(gameID), err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return ErrStreamClosed
			}
			deliver([]byte(msg.Payload))
		}
	}
}
