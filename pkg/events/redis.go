package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisEmitTimeout = 5 * time.Second

// RedisPublisher mirrors session events onto Redis pub/sub channels so other
// service instances can forward them to their own subscribers. Channel name is
// "session:<id>".
type RedisPublisher struct {
	client *redis.Client
}

var _ Sink = (*RedisPublisher)(nil)

// NewRedisPublisher initializes a Redis client from a URL or host:port input.
func NewRedisPublisher(redisURL string) (*RedisPublisher, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	return &RedisPublisher{client: client}, nil
}

// Emit publishes the event as JSON. Best-effort: a failed publish is reported
// but never affects the committed mutation.
func (p *RedisPublisher) Emit(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisEmitTimeout)
	defer cancel()

	if err := p.client.Publish(ctx, "session:"+event.SessionID, payload).Err(); err != nil {
		return fmt.Errorf("publishing to redis: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
