package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// channelPrefix namespaces per-tenant notification channels.
const channelPrefix = "dispatch:notify:tenant:"

// RedisSink publishes events to per-tenant Redis pub/sub channels.
// Subscribing edge services (websocket fan-out, webhook dispatchers) pick
// events up from there; the gateway does not track subscribers.
type RedisSink struct {
	client *redis.Client
}

// NewRedisSink creates a new RedisSink.
func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{
		client: client,
	}
}

// Publish delivers one event to the owning tenant's channel.
func (s *RedisSink) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	channel := fmt.Sprintf("%s%d", channelPrefix, event.TenantID)
	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event to %s: %w", channel, err)
	}

	return nil
}
