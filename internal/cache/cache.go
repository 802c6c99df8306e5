// Package cache holds the short-TTL device ownership cache that gates every
// sync operation, with an in-process and a Redis backed implementation.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/activitysync/internal/models"
)

const DefaultTTL = 5 * time.Minute

var ErrMiss = errors.New("cache miss")

// OwnershipCache maps a device id to its owner and activity state.
// Get returns ErrMiss for absent or expired entries.
type OwnershipCache interface {
	Get(ctx context.Context, deviceID uuid.UUID) (*models.DeviceOwnership, error)
	Set(ctx context.Context, deviceID uuid.UUID, ownership *models.DeviceOwnership, ttl time.Duration) error
	Invalidate(ctx context.Context, deviceID uuid.UUID) error
	Clear(ctx context.Context) error
}
