package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/activitysync/internal/models"
	"github.com/prudhvinik1/activitysync/internal/repositories"
	"github.com/sirupsen/logrus"
)

// SyncService is the device-to-cloud synchronization engine.
type SyncService interface {
	UploadEvents(ctx context.Context, ownerID, deviceID uuid.UUID, batch []models.EventPayload) (*models.UploadResult, error)
	DownloadEvents(ctx context.Context, ownerID, deviceID uuid.UUID, input models.DownloadInput) (*models.DownloadResult, error)
	GetSyncStatus(ctx context.Context, ownerID, deviceID uuid.UUID) (*models.SyncStatus, error)
}

type SyncMiddleware func(SyncService) SyncService

// OwnershipResolver answers which account owns a device, read-through a cache.
type OwnershipResolver interface {
	Resolve(ctx context.Context, deviceID uuid.UUID) (*models.DeviceOwnership, error)
	Invalidate(ctx context.Context, deviceID uuid.UUID) error
}

type SyncEngine struct {
	events    repositories.EventStore
	accounts  repositories.AccountRepository
	ownership OwnershipResolver
	logger    *logrus.Entry
	now       func() time.Time
	leeway    time.Duration
}

type SyncOption func(*SyncEngine)

func WithClock(now func() time.Time) SyncOption {
	return func(s *SyncEngine) {
		s.now = now
	}
}

// WithClockSkewLeeway sets how far into the future an event timestamp may be.
func WithClockSkewLeeway(leeway time.Duration) SyncOption {
	return func(s *SyncEngine) {
		s.leeway = leeway
	}
}

func NewSyncEngine(
	events repositories.EventStore,
	accounts repositories.AccountRepository,
	ownership OwnershipResolver,
	logger *logrus.Entry,
	opts ...SyncOption,
) *SyncEngine {
	s := &SyncEngine{
		events:    events,
		accounts:  accounts,
		ownership: ownership,
		logger:    logger,
		now:       time.Now,
		leeway:    DefaultClockSkew,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SyncEngine) UploadEvents(ctx context.Context, ownerID, deviceID uuid.UUID, batch []models.EventPayload) (*models.UploadResult, error) {
	now := s.now()

	events, err := decodeBatch(batch, ownerID, deviceID, now, s.leeway)
	if err != nil {
		return nil, err
	}

	if err := s.authorize(ctx, ownerID, deviceID); err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}

	existing, err := s.events.GetByIDs(ctx, ownerID, ids)
	if err != nil {
		return nil, &DatabaseError{Op: "fetch existing events", Err: err}
	}

	plan := planBatch(events, existing)

	commit := &models.SyncCommit{
		OwnerID:  ownerID,
		DeviceID: deviceID,
		Writes:   plan.writes,
		SyncedAt: now,
		Audit: models.AuditEntry{
			ID:                uuid.New(),
			OwnerID:           ownerID,
			DeviceID:          deviceID,
			EventsReceived:    len(events),
			ConflictsDetected: len(plan.conflicts),
			SyncedAt:          now,
		},
	}

	result, err := s.events.CommitUpload(ctx, commit)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, &NotFoundError{Resource: "account", ID: ownerID.String()}
	}
	if err != nil {
		return nil, &DatabaseError{Op: "commit upload", Err: err}
	}

	s.reconcileDeclined(ctx, ownerID, plan, result.Applied)

	if err := s.ownership.Invalidate(ctx, deviceID); err != nil {
		s.logger.WithError(err).WithField("device_id", deviceID).Warn("failed to invalidate ownership cache")
	}

	return &models.UploadResult{
		ProcessedCount: len(result.Applied),
		Conflicts:      orderedConflicts(events, plan.conflicts),
		SyncedAt:       now.UnixMilli(),
	}, nil
}

// reconcileDeclined re-reads planned writes the upsert refused. A concurrent
// writer got there first; if it stored a newer timestamp the caller gets a
// conflict, otherwise the write was an equal-timestamp no-op.
func (s *SyncEngine) reconcileDeclined(ctx context.Context, ownerID uuid.UUID, plan batchPlan, applied []uuid.UUID) {
	if len(applied) == len(plan.writes) {
		return
	}

	written := make(map[uuid.UUID]struct{}, len(applied))
	for _, id := range applied {
		written[id] = struct{}{}
	}

	var declined []*models.Event
	for _, e := range plan.writes {
		if _, ok := written[e.ID]; !ok {
			declined = append(declined, e)
		}
	}

	ids := make([]uuid.UUID, len(declined))
	for i, e := range declined {
		ids[i] = e.ID
	}

	current, err := s.events.GetByIDs(ctx, ownerID, ids)
	if err != nil {
		s.logger.WithError(err).WithField("declined", len(declined)).Warn("failed to re-read declined writes")
		return
	}

	for _, e := range declined {
		stored, ok := current[e.ID]
		if !ok {
			// Id is held by another account; never disclose its contents.
			s.logger.WithField("event_id", e.ID).Warn("upload declined for event id owned elsewhere")
			continue
		}
		if resolveWrite(stored, e) == outcomeConflict {
			plan.conflicts[e.ID] = newConflict(stored)
		}
	}
}

func (s *SyncEngine) DownloadEvents(ctx context.Context, ownerID, deviceID uuid.UUID, input models.DownloadInput) (*models.DownloadResult, error) {
	since, limit, err := validateDownload(input)
	if err != nil {
		return nil, err
	}

	if err := s.authorize(ctx, ownerID, deviceID); err != nil {
		return nil, err
	}

	rows, err := s.events.ListSince(ctx, ownerID, since, limit+1)
	if err != nil {
		return nil, &DatabaseError{Op: "list events", Err: err}
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}

	latest := since
	if len(rows) > 0 {
		latest = rows[len(rows)-1].Timestamp
	}

	return &models.DownloadResult{
		Events:          rows,
		HasMore:         hasMore,
		LatestTimestamp: latest,
	}, nil
}

func (s *SyncEngine) GetSyncStatus(ctx context.Context, ownerID, deviceID uuid.UUID) (*models.SyncStatus, error) {
	if err := s.authorize(ctx, ownerID, deviceID); err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByID(ctx, ownerID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, &NotFoundError{Resource: "account", ID: ownerID.String()}
	}
	if err != nil {
		return nil, &DatabaseError{Op: "get account", Err: err}
	}

	count, err := s.events.CountByOwner(ctx, ownerID)
	if err != nil {
		return nil, &DatabaseError{Op: "count events", Err: err}
	}

	status := &models.SyncStatus{
		DeviceID:     deviceID,
		PendingCount: 0,
		SyncedCount:  count,
	}
	if account.LastSyncAt != nil {
		ms := account.LastSyncAt.UnixMilli()
		status.LastSyncAt = &ms
	}
	return status, nil
}

// authorize fails closed: unknown, inactive or foreign devices are NotFound.
func (s *SyncEngine) authorize(ctx context.Context, ownerID, deviceID uuid.UUID) error {
	ownership, err := s.ownership.Resolve(ctx, deviceID)
	if errors.Is(err, repositories.ErrNotFound) {
		return &NotFoundError{Resource: "device", ID: deviceID.String()}
	}
	if err != nil {
		return &DatabaseError{Op: "resolve device ownership", Err: err}
	}

	if ownership.OwnerID != ownerID || !ownership.Active {
		return &NotFoundError{Resource: "device", ID: deviceID.String()}
	}
	return nil
}
