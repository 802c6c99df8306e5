package services

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prudhvinik1/activitysync/internal/models"
)

const (
	MinBatchSize         = 1
	MaxBatchSize         = 100
	DefaultDownloadLimit = 100
	MaxDownloadLimit     = 1000
	DefaultClockSkew     = 60 * time.Second
)

var eventValidate = newValidator()

type eventBatch struct {
	Events []models.EventPayload `json:"events" validate:"dive"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeBatch validates the whole batch and converts it to events. Any
// violation rejects the batch before anything is written.
func decodeBatch(batch []models.EventPayload, ownerID, deviceID uuid.UUID, now time.Time, leeway time.Duration) ([]*models.Event, error) {
	if len(batch) < MinBatchSize || len(batch) > MaxBatchSize {
		return nil, &ValidationError{
			Field:  "events",
			Reason: fmt.Sprintf("batch must contain between %d and %d events, got %d", MinBatchSize, MaxBatchSize, len(batch)),
		}
	}

	if err := eventValidate.Struct(eventBatch{Events: batch}); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return nil, &ValidationError{Field: fieldPath(fe.Namespace()), Reason: fmt.Sprintf("failed %q check", fe.Tag())}
		}
		return nil, &ValidationError{Reason: err.Error()}
	}

	maxTimestamp := now.Add(leeway).UnixMilli()
	seen := make(map[uuid.UUID]struct{}, len(batch))
	events := make([]*models.Event, 0, len(batch))

	for i, p := range batch {
		field := func(name string) string { return fmt.Sprintf("events[%d].%s", i, name) }

		if p.Timestamp > maxTimestamp {
			return nil, &ValidationError{Field: field("timestamp"), Reason: "timestamp is too far in the future"}
		}

		id, err := uuid.Parse(p.ID)
		if err != nil {
			return nil, &ValidationError{Field: field("id"), Reason: "invalid event id"}
		}
		if _, dup := seen[id]; dup {
			return nil, &ValidationError{Field: field("id"), Reason: "duplicate event id in batch"}
		}
		seen[id] = struct{}{}

		data, err := base64.StdEncoding.DecodeString(p.EncryptedData)
		if err != nil || len(data) == 0 {
			return nil, &ValidationError{Field: field("encrypted_data"), Reason: "must be non-empty base64"}
		}
		nonce, err := hex.DecodeString(p.Nonce)
		if err != nil || len(nonce) != models.NonceSize {
			return nil, &ValidationError{Field: field("nonce"), Reason: fmt.Sprintf("must be %d hex encoded bytes", models.NonceSize)}
		}
		tag, err := base64.StdEncoding.DecodeString(p.Tag)
		if err != nil || len(tag) != models.TagSize {
			return nil, &ValidationError{Field: field("tag"), Reason: fmt.Sprintf("must be %d base64 encoded bytes", models.TagSize)}
		}

		event := &models.Event{
			ID:             id,
			OwnerID:        ownerID,
			OriginDeviceID: deviceID,
			Type:           models.EventType(p.EventType),
			Timestamp:      p.Timestamp,
			Duration:       int32(p.Duration),
			EncryptedData:  data,
			Nonce:          nonce,
			Tag:            tag,
			AppName:        p.AppName,
			Domain:         p.Domain,
		}
		if p.Category != nil {
			c := models.Category(*p.Category)
			event.Category = &c
		}
		events = append(events, event)
	}

	return events, nil
}

func validateDownload(input models.DownloadInput) (since int64, limit int, err error) {
	limit = DefaultDownloadLimit
	if input.Since != nil {
		if *input.Since < 0 {
			return 0, 0, &ValidationError{Field: "since", Reason: "must be >= 0"}
		}
		since = *input.Since
	}
	if input.Limit != nil {
		if *input.Limit < 1 || *input.Limit > MaxDownloadLimit {
			return 0, 0, &ValidationError{Field: "limit", Reason: fmt.Sprintf("must be between 1 and %d", MaxDownloadLimit)}
		}
		limit = *input.Limit
	}
	return since, limit, nil
}

// fieldPath strips the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	if idx := strings.Index(namespace, "."); idx >= 0 {
		return namespace[idx+1:]
	}
	return namespace
}
