package models

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventTypeAppUsage EventType = "app_usage"
	EventTypeIdle     EventType = "idle"
	EventTypeWebVisit EventType = "web_visit"
	EventTypeSystem   EventType = "system"
)

type Category string

const (
	CategoryWork          Category = "work"
	CategoryDevelopment   Category = "development"
	CategoryCommunication Category = "communication"
	CategoryEntertainment Category = "entertainment"
	CategoryProductivity  Category = "productivity"
	CategoryGaming        Category = "gaming"
	CategoryOther         Category = "other"
)

const (
	MaxEventDuration = 86400 // seconds
	NonceSize        = 12
	TagSize          = 16
)

// Event is a single encrypted activity record. Timestamp is the caller
// asserted event time in milliseconds and doubles as the row version.
type Event struct {
	ID             uuid.UUID `json:"id"`
	OwnerID        uuid.UUID `json:"owner_id"`
	OriginDeviceID uuid.UUID `json:"origin_device_id"`
	Type           EventType `json:"event_type"`
	Timestamp      int64     `json:"timestamp"`
	Duration       int32     `json:"duration"`
	EncryptedData  []byte    `json:"encrypted_data"`
	Nonce          []byte    `json:"nonce"`
	Tag            []byte    `json:"tag"`
	AppName        *string   `json:"app_name,omitempty"`
	Category       *Category `json:"category,omitempty"`
	Domain         *string   `json:"domain,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
