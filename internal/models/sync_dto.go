package models

import (
	"encoding/base64"
	"encoding/hex"
)

// EventPayload is the wire shape of an event in both directions.
type EventPayload struct {
	ID            string  `json:"id" validate:"required,uuid"`
	EventType     string  `json:"event_type" validate:"required,oneof=app_usage idle web_visit system"`
	Timestamp     int64   `json:"timestamp" validate:"gte=0"`
	Duration      int64   `json:"duration" validate:"gte=0,lte=86400"`
	EncryptedData string  `json:"encrypted_data" validate:"required,base64"`
	Nonce         string  `json:"nonce" validate:"required,len=24,hexadecimal"`
	Tag           string  `json:"tag" validate:"required,len=24,base64"`
	AppName       *string `json:"app_name,omitempty" validate:"omitempty,max=255"`
	Category      *string `json:"category,omitempty" validate:"omitempty,oneof=work development communication entertainment productivity gaming other"`
	Domain        *string `json:"domain,omitempty" validate:"omitempty,max=255"`
}

// NewEventPayload encodes a stored event for the wire.
func NewEventPayload(e *Event) EventPayload {
	p := EventPayload{
		ID:            e.ID.String(),
		EventType:     string(e.Type),
		Timestamp:     e.Timestamp,
		Duration:      int64(e.Duration),
		EncryptedData: base64.StdEncoding.EncodeToString(e.EncryptedData),
		Nonce:         hex.EncodeToString(e.Nonce),
		Tag:           base64.StdEncoding.EncodeToString(e.Tag),
		AppName:       e.AppName,
		Domain:        e.Domain,
	}
	if e.Category != nil {
		c := string(*e.Category)
		p.Category = &c
	}
	return p
}

type UploadRequest struct {
	Events     []EventPayload `json:"events"`
	LastSyncAt *int64         `json:"last_sync_at,omitempty"`
}

type ConflictPayload struct {
	EventID       string       `json:"event_id"`
	ServerVersion EventPayload `json:"server_version"`
}

type UploadResponse struct {
	SyncedAt       int64             `json:"synced_at"`
	ProcessedCount int               `json:"processed_count"`
	Conflicts      []ConflictPayload `json:"conflicts"`
}

type UploadConflictResponse struct {
	Error          string            `json:"error"`
	Resolution     string            `json:"resolution"`
	ProcessedCount int               `json:"processed_count"`
	Conflicts      []ConflictPayload `json:"conflicts"`
	SyncedAt       int64             `json:"synced_at"`
}

type DownloadResponse struct {
	Events          []EventPayload `json:"events"`
	HasMore         bool           `json:"has_more"`
	LatestTimestamp int64          `json:"latest_timestamp"`
}

type SyncStatusResponse struct {
	DeviceID     string `json:"device_id"`
	LastSyncAt   *int64 `json:"last_sync_at"`
	PendingCount int    `json:"pending_count"`
	SyncedCount  int64  `json:"synced_count"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Field   string `json:"field,omitempty"`

	RetryAfter int `json:"retry_after,omitempty"`
}
