package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/prudhvinik1/activitysync/internal/models"
)

// AccountRepository and DeviceRepository are read-only: accounts and devices
// are provisioned by the registration flow, not by sync.
type AccountRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

type DeviceRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Device, error)
}

// EventStore is the transactional source of truth for synced events.
type EventStore interface {
	// GetByIDs returns the stored rows of ownerID among ids, keyed by id.
	GetByIDs(ctx context.Context, ownerID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]*models.Event, error)
	// CommitUpload upserts the writes and records the audit entry and the
	// account/device sync timestamps in a single transaction.
	CommitUpload(ctx context.Context, commit *models.SyncCommit) (*models.CommitResult, error)
	// ListSince returns up to limit rows with timestamp > since, ascending.
	ListSince(ctx context.Context, ownerID uuid.UUID, since int64, limit int) ([]*models.Event, error)
	CountByOwner(ctx context.Context, ownerID uuid.UUID) (int64, error)
}
