package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prudhvinik1/activitysync/internal/models"
)

const metricsNamespace = "activitysync"

type Metrics struct {
	RequestCount    *prometheus.CounterVec
	RequestLatency  *prometheus.HistogramVec
	EventsProcessed prometheus.Counter
	Conflicts       prometheus.Counter
	CacheLookups    *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "requests_total",
			Help:      "Number of sync engine calls.",
		}, []string{"method", "error"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "request_duration_seconds",
			Help:      "Duration of sync engine calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		EventsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "events_processed_total",
			Help:      "Events inserted or updated by uploads.",
		}),
		Conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "conflicts_total",
			Help:      "Uploaded events rejected by last-write-wins.",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ownership_cache",
			Name:      "lookups_total",
			Help:      "Ownership cache lookups by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.RequestCount, m.RequestLatency, m.EventsProcessed, m.Conflicts, m.CacheLookups)
	return m
}

type instrumentingMiddleware struct {
	next    SyncService
	metrics *Metrics
}

func InstrumentingMiddleware(metrics *Metrics) SyncMiddleware {
	return func(next SyncService) SyncService {
		return &instrumentingMiddleware{next: next, metrics: metrics}
	}
}

func (mw *instrumentingMiddleware) UploadEvents(ctx context.Context, ownerID, deviceID uuid.UUID, batch []models.EventPayload) (result *models.UploadResult, err error) {
	defer func(begin time.Time) {
		mw.observe("UploadEvents", begin, err)
		if result != nil {
			mw.metrics.EventsProcessed.Add(float64(result.ProcessedCount))
			mw.metrics.Conflicts.Add(float64(len(result.Conflicts)))
		}
	}(time.Now())
	return mw.next.UploadEvents(ctx, ownerID, deviceID, batch)
}

func (mw *instrumentingMiddleware) DownloadEvents(ctx context.Context, ownerID, deviceID uuid.UUID, input models.DownloadInput) (result *models.DownloadResult, err error) {
	defer func(begin time.Time) {
		mw.observe("DownloadEvents", begin, err)
	}(time.Now())
	return mw.next.DownloadEvents(ctx, ownerID, deviceID, input)
}

func (mw *instrumentingMiddleware) GetSyncStatus(ctx context.Context, ownerID, deviceID uuid.UUID) (status *models.SyncStatus, err error) {
	defer func(begin time.Time) {
		mw.observe("GetSyncStatus", begin, err)
	}(time.Now())
	return mw.next.GetSyncStatus(ctx, ownerID, deviceID)
}

func (mw *instrumentingMiddleware) observe(method string, begin time.Time, err error) {
	mw.metrics.RequestCount.WithLabelValues(method, errorLabel(err)).Inc()
	mw.metrics.RequestLatency.WithLabelValues(method).Observe(time.Since(begin).Seconds())
}

func errorLabel(err error) string {
	var (
		verr *ValidationError
		nerr *NotFoundError
		derr *DatabaseError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &verr):
		return "validation"
	case errors.As(err, &nerr):
		return "not_found"
	case errors.As(err, &derr):
		return "database"
	default:
		return "internal"
	}
}
