package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"wabot/internal/entities"
)

const processedEventKeyPrefix = "wabot:processed_event:"

// RedisProcessedEventStore keeps processed-event markers in Redis with a TTL
// that outlives the provider's redelivery window.
type RedisProcessedEventStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisProcessedEventStore(client *redis.Client, ttl time.Duration) *RedisProcessedEventStore {
	return &RedisProcessedEventStore{client: client, ttl: ttl}
}

func processedEventKey(tenantID, providerEventID string) string {
	return processedEventKeyPrefix + tenantID + ":" + providerEventID
}

func (s *RedisProcessedEventStore) Exists(ctx context.Context, tenantID, providerEventID string) (bool, error) {
	n, err := s.client.Exists(ctx, processedEventKey(tenantID, providerEventID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// Mark uses SET NX so the first processed_at is kept.
func (s *RedisProcessedEventStore) Mark(ctx context.Context, e *entities.ProcessedWebhookEvent) error {
	_, err := s.client.SetNX(ctx,
		processedEventKey(e.TenantID, e.ProviderEventID),
		e.ProcessedAt.UTC().Format(time.RFC3339Nano),
		s.ttl,
	).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	return nil
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
