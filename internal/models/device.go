package models

import (
	"time"

	"github.com/google/uuid"
)

type Device struct {
	ID         uuid.UUID  `json:"id"`
	AccountID  uuid.UUID  `json:"account_id"`
	Name       string     `json:"name"`
	DeviceType string     `json:"device_type"`
	PublicKey  *string    `json:"-"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// Active reports whether the device may still sync.
func (d *Device) Active() bool {
	return d.RevokedAt == nil && d.DeletedAt == nil
}

// Ownership returns the cacheable view of the device.
func (d *Device) Ownership() DeviceOwnership {
	return DeviceOwnership{
		DeviceID:   d.ID,
		OwnerID:    d.AccountID,
		Active:     d.Active(),
		LastSeenAt: d.LastSeenAt,
	}
}

// DeviceOwnership is what the ownership cache holds for a device.
type DeviceOwnership struct {
	DeviceID   uuid.UUID  `json:"device_id"`
	OwnerID    uuid.UUID  `json:"owner_id"`
	Active     bool       `json:"active"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}
