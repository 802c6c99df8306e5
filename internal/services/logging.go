package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/activitysync/internal/models"
	"github.com/sirupsen/logrus"
)

type loggingMiddleware struct {
	next   SyncService
	logger *logrus.Entry
}

// LoggingMiddleware logs every engine call with its outcome and duration.
func LoggingMiddleware(logger *logrus.Entry) SyncMiddleware {
	return func(next SyncService) SyncService {
		return &loggingMiddleware{next: next, logger: logger}
	}
}

func (mw *loggingMiddleware) UploadEvents(ctx context.Context, ownerID, deviceID uuid.UUID, batch []models.EventPayload) (result *models.UploadResult, err error) {
	defer func(begin time.Time) {
		fields := logrus.Fields{
			"method":    "UploadEvents",
			"owner_id":  ownerID,
			"device_id": deviceID,
			"batch":     len(batch),
			"took":      time.Since(begin),
		}
		if result != nil {
			fields["processed"] = result.ProcessedCount
			fields["conflicts"] = len(result.Conflicts)
		}
		mw.log(fields, err)
	}(time.Now())
	return mw.next.UploadEvents(ctx, ownerID, deviceID, batch)
}

func (mw *loggingMiddleware) DownloadEvents(ctx context.Context, ownerID, deviceID uuid.UUID, input models.DownloadInput) (result *models.DownloadResult, err error) {
	defer func(begin time.Time) {
		fields := logrus.Fields{
			"method":    "DownloadEvents",
			"owner_id":  ownerID,
			"device_id": deviceID,
			"took":      time.Since(begin),
		}
		if input.Since != nil {
			fields["since"] = *input.Since
		}
		if result != nil {
			fields["returned"] = len(result.Events)
			fields["has_more"] = result.HasMore
		}
		mw.log(fields, err)
	}(time.Now())
	return mw.next.DownloadEvents(ctx, ownerID, deviceID, input)
}

func (mw *loggingMiddleware) GetSyncStatus(ctx context.Context, ownerID, deviceID uuid.UUID) (status *models.SyncStatus, err error) {
	defer func(begin time.Time) {
		fields := logrus.Fields{
			"method":    "GetSyncStatus",
			"owner_id":  ownerID,
			"device_id": deviceID,
			"took":      time.Since(begin),
		}
		mw.log(fields, err)
	}(time.Now())
	return mw.next.GetSyncStatus(ctx, ownerID, deviceID)
}

func (mw *loggingMiddleware) log(fields logrus.Fields, err error) {
	entry := mw.logger.WithFields(fields)
	switch err.(type) {
	case nil:
		entry.Info("sync call completed")
	case *DatabaseError:
		entry.WithError(err).Error("sync call failed")
	default:
		entry.WithError(err).Warn("sync call rejected")
	}
}
