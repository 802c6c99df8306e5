package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prudhvinik1/activitysync/internal/middleware"
	"github.com/prudhvinik1/activitysync/internal/models"
	"github.com/prudhvinik1/activitysync/internal/services"
	"github.com/sirupsen/logrus"
)

// maxUploadBody bounds a decoded upload request. 100 events with their
// ciphertext comfortably fit.
const maxUploadBody = 8 << 20

// SyncHandler handles event sync endpoints
type SyncHandler struct {
	sync   services.SyncService
	logger *logrus.Entry
}

func NewSyncHandler(sync services.SyncService, logger *logrus.Entry) *SyncHandler {
	return &SyncHandler{sync: sync, logger: logger}
}

// Routes mounts the sync endpoints. Callers wrap it with AuthGate.
func (h *SyncHandler) Routes(r chi.Router) {
	r.Post("/events", h.UploadEvents)
	r.Get("/events", h.DownloadEvents)
	r.Get("/status", h.GetSyncStatus)
}

func (h *SyncHandler) UploadEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "unauthorized"})
		return
	}

	var req models.UploadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUploadBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_error",
			Message: "invalid request body",
		})
		return
	}

	result, err := h.sync.UploadEvents(r.Context(), id.OwnerID, id.DeviceID, req.Events)
	if err != nil {
		h.writeError(w, err)
		return
	}

	conflicts := make([]models.ConflictPayload, 0, len(result.Conflicts))
	for _, c := range result.Conflicts {
		conflicts = append(conflicts, models.ConflictPayload{
			EventID:       c.EventID.String(),
			ServerVersion: models.NewEventPayload(c.ServerSnapshot),
		})
	}

	if len(conflicts) > 0 {
		writeJSON(w, http.StatusConflict, models.UploadConflictResponse{
			Error:          "sync_conflict",
			Resolution:     "last_write_wins",
			ProcessedCount: result.ProcessedCount,
			Conflicts:      conflicts,
			SyncedAt:       result.SyncedAt,
		})
		return
	}

	writeJSON(w, http.StatusOK, models.UploadResponse{
		SyncedAt:       result.SyncedAt,
		ProcessedCount: result.ProcessedCount,
		Conflicts:      conflicts,
	})
}

func (h *SyncHandler) DownloadEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "unauthorized"})
		return
	}

	var input models.DownloadInput
	query := r.URL.Query()

	if raw := query.Get("since"); raw != "" {
		since, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.writeError(w, &services.ValidationError{Field: "since", Reason: "must be an integer"})
			return
		}
		input.Since = &since
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, &services.ValidationError{Field: "limit", Reason: "must be an integer"})
			return
		}
		input.Limit = &limit
	}

	result, err := h.sync.DownloadEvents(r.Context(), id.OwnerID, id.DeviceID, input)
	if err != nil {
		h.writeError(w, err)
		return
	}

	events := make([]models.EventPayload, 0, len(result.Events))
	for _, e := range result.Events {
		events = append(events, models.NewEventPayload(e))
	}

	writeJSON(w, http.StatusOK, models.DownloadResponse{
		Events:          events,
		HasMore:         result.HasMore,
		LatestTimestamp: result.LatestTimestamp,
	})
}

func (h *SyncHandler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "unauthorized"})
		return
	}

	status, err := h.sync.GetSyncStatus(r.Context(), id.OwnerID, id.DeviceID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, models.SyncStatusResponse{
		DeviceID:     status.DeviceID.String(),
		LastSyncAt:   status.LastSyncAt,
		PendingCount: status.PendingCount,
		SyncedCount:  status.SyncedCount,
	})
}

// writeError maps the service error taxonomy onto HTTP. Store and unknown
// failures are logged and reported without detail.
func (h *SyncHandler) writeError(w http.ResponseWriter, err error) {
	var (
		verr *services.ValidationError
		nerr *services.NotFoundError
		rerr *services.RateLimitError
		derr *services.DatabaseError
	)

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_error",
			Message: verr.Reason,
			Field:   verr.Field,
		})
	case errors.As(err, &nerr):
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{
			Error:   "not_found",
			Message: nerr.Resource + " not found",
		})
	case errors.As(err, &rerr):
		middleware.WriteRateLimited(w, rerr)
	case errors.As(err, &derr):
		h.logger.WithError(derr.Err).WithField("op", derr.Op).Error("sync store failure")
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "internal_error"})
	default:
		h.logger.WithError(err).Error("unexpected sync failure")
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "internal_error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
