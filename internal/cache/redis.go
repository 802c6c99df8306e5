package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/activitysync/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	ownershipKeyPrefix = "ownership:"
	clearScanCount     = 500
)

// RedisCache is an OwnershipCache shared by every instance pointed at the
// same Redis. Expiry is delegated to Redis key TTLs.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, deviceID uuid.UUID) (*models.DeviceOwnership, error) {
	data, err := c.client.Get(ctx, ownershipKey(deviceID)).Result()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ownership: %w", err)
	}

	var ownership models.DeviceOwnership
	if err := json.Unmarshal([]byte(data), &ownership); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ownership: %w", err)
	}
	return &ownership, nil
}

func (c *RedisCache) Set(ctx context.Context, deviceID uuid.UUID, ownership *models.DeviceOwnership, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	data, err := json.Marshal(ownership)
	if err != nil {
		return fmt.Errorf("failed to marshal ownership: %w", err)
	}

	if err := c.client.Set(ctx, ownershipKey(deviceID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set ownership: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, deviceID uuid.UUID) error {
	if err := c.client.Del(ctx, ownershipKey(deviceID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate ownership: %w", err)
	}
	return nil
}

// Clear removes every ownership key using SCAN so Redis is never blocked.
func (c *RedisCache) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, ownershipKeyPrefix+"*", clearScanCount).Result()
		if err != nil {
			return fmt.Errorf("failed to scan ownership keys: %w", err)
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to clear ownership keys: %w", err)
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func ownershipKey(deviceID uuid.UUID) string {
	return ownershipKeyPrefix + deviceID.String()
}
