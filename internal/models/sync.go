package models

import (
	"time"

	"github.com/google/uuid"
)

// ConflictRecord describes an upload that lost to a newer stored row.
// It is returned to the caller and never persisted.
type ConflictRecord struct {
	EventID         uuid.UUID
	ServerTimestamp int64
	ServerSnapshot  *Event
}

type UploadResult struct {
	ProcessedCount int
	Conflicts      []ConflictRecord
	SyncedAt       int64
}

type DownloadInput struct {
	Since *int64
	Limit *int
}

type DownloadResult struct {
	Events          []*Event
	HasMore         bool
	LatestTimestamp int64
}

type SyncStatus struct {
	DeviceID     uuid.UUID
	LastSyncAt   *int64
	PendingCount int
	SyncedCount  int64
}

// SyncCommit is everything an upload persists in one transaction.
type SyncCommit struct {
	OwnerID  uuid.UUID
	DeviceID uuid.UUID
	Writes   []*Event
	Audit    AuditEntry
	SyncedAt time.Time
}

type CommitResult struct {
	Applied []uuid.UUID
}

type AuditEntry struct {
	ID                uuid.UUID `json:"id"`
	OwnerID           uuid.UUID `json:"owner_id"`
	DeviceID          uuid.UUID `json:"device_id"`
	EventsReceived    int       `json:"events_received"`
	EventsProcessed   int       `json:"events_processed"`
	ConflictsDetected int       `json:"conflicts_detected"`
	SyncedAt          time.Time `json:"synced_at"`
}
