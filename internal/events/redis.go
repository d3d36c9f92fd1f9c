package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel 默认频道
const DefaultChannel = "lineage:events"

// RedisPublisher 通过 Redis pub/sub 发布
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher 创建发布者
func NewRedisPublisher(client *redis.Client, channel string) (*RedisPublisher, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}, nil
}

// Publish 发布 JSON 消息
func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}
