package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"rombuilder/internal/dispatcher"

	"github.com/redis/go-redis/v9"
)

// Redis publishes the outcome CloudEvent to redis:<channel> subscribers.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to the server named by a redis:// URL.
func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return &Redis{client: redis.NewClient(opts)}, nil
}

// Ping checks that the server is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Deliver implements dispatcher.Deliverer.
func (r *Redis) Deliver(ctx context.Context, event *dispatcher.Event) error {
	channel := target(event.Destination)
	if channel == "" {
		return dispatcher.Permanent(errors.New("redis: empty channel name"))
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return dispatcher.Permanent(fmt.Errorf("redis: marshal event: %w", err))
	}

	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish to %s: %w", channel, err)
	}
	return nil
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
