package repositories

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/activitysync/internal/models"
)

const eventColumns = `id, owner_id, origin_device_id, event_type, timestamp, duration,
	encrypted_data, nonce, tag, app_name, category, domain, created_at, updated_at`

// upsertEventsQuery is the single statement that arbitrates concurrent
// writers: a stored row is replaced only by a strictly newer timestamp from
// the same owner. RETURNING yields exactly the rows that were written.
const upsertEventsQuery = `
INSERT INTO events (id, owner_id, origin_device_id, event_type, timestamp, duration,
                    encrypted_data, nonce, tag, app_name, category, domain)
SELECT u.id::uuid, $1, $2, u.event_type, u.ts, u.duration,
       u.encrypted_data, u.nonce, u.tag, u.app_name, u.category, u.domain
FROM unnest($3::text[], $4::text[], $5::bigint[], $6::int[],
            $7::bytea[], $8::bytea[], $9::bytea[], $10::text[], $11::text[], $12::text[])
     AS u(id, event_type, ts, duration, encrypted_data, nonce, tag, app_name, category, domain)
ON CONFLICT (id) DO UPDATE
SET origin_device_id = EXCLUDED.origin_device_id,
    event_type       = EXCLUDED.event_type,
    timestamp        = EXCLUDED.timestamp,
    duration         = EXCLUDED.duration,
    encrypted_data   = EXCLUDED.encrypted_data,
    nonce            = EXCLUDED.nonce,
    tag              = EXCLUDED.tag,
    app_name         = EXCLUDED.app_name,
    category         = EXCLUDED.category,
    domain           = EXCLUDED.domain,
    updated_at       = NOW()
WHERE events.owner_id = EXCLUDED.owner_id
  AND events.timestamp < EXCLUDED.timestamp
RETURNING id`

type PostgresEventStore struct {
	pool *pgxpool.Pool
}

func NewPostgresEventStore(pool *pgxpool.Pool) *PostgresEventStore {
	return &PostgresEventStore{pool: pool}
}

func (r *PostgresEventStore) GetByIDs(ctx context.Context, ownerID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]*models.Event, error) {
	result := make(map[uuid.UUID]*models.Event, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query := `SELECT ` + eventColumns + `
	          FROM events 
	          WHERE owner_id = $1 AND id = ANY($2::text[]::uuid[])`

	rows, err := r.pool.Query(ctx, query, ownerID, uuidStrings(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result[event.ID] = event
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return result, nil
}

// CommitUpload returns ErrNotFound, and rolls back, when the owning account
// no longer exists.
func (r *PostgresEventStore) CommitUpload(ctx context.Context, commit *models.SyncCommit) (*models.CommitResult, error) {
	result := &models.CommitResult{}

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		applied, err := upsertEvents(ctx, tx, commit)
		if err != nil {
			return err
		}
		result.Applied = applied

		audit := commit.Audit
		audit.EventsProcessed = len(applied)
		if err := insertAudit(ctx, tx, &audit); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx,
			`UPDATE accounts SET last_sync_at = $1, updated_at = NOW() WHERE id = $2 AND deleted_at IS NULL`,
			commit.SyncedAt, commit.OwnerID)
		if err != nil {
			return fmt.Errorf("failed to update account sync time: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		_, err = tx.Exec(ctx,
			`UPDATE devices SET last_seen_at = $1, updated_at = NOW() WHERE id = $2 AND deleted_at IS NULL`,
			commit.SyncedAt, commit.DeviceID)
		if err != nil {
			return fmt.Errorf("failed to update device last seen: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// sortedByID returns a copy of writes ordered by id. Concurrent uploads that
// share ids then take row locks in the same order instead of deadlocking.
func sortedByID(writes []*models.Event) []*models.Event {
	sorted := slices.Clone(writes)
	slices.SortFunc(sorted, func(a, b *models.Event) int {
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	return sorted
}

func upsertEvents(ctx context.Context, tx pgx.Tx, commit *models.SyncCommit) ([]uuid.UUID, error) {
	if len(commit.Writes) == 0 {
		return nil, nil
	}

	writes := sortedByID(commit.Writes)
	n := len(writes)
	var (
		ids        = make([]string, n)
		types      = make([]string, n)
		timestamps = make([]int64, n)
		durations  = make([]int32, n)
		data       = make([][]byte, n)
		nonces     = make([][]byte, n)
		tags       = make([][]byte, n)
		appNames   = make([]*string, n)
		categories = make([]*string, n)
		domains    = make([]*string, n)
	)
	for i, e := range writes {
		ids[i] = e.ID.String()
		types[i] = string(e.Type)
		timestamps[i] = e.Timestamp
		durations[i] = e.Duration
		data[i] = e.EncryptedData
		nonces[i] = e.Nonce
		tags[i] = e.Tag
		appNames[i] = e.AppName
		if e.Category != nil {
			c := string(*e.Category)
			categories[i] = &c
		}
		domains[i] = e.Domain
	}

	rows, err := tx.Query(ctx, upsertEventsQuery,
		commit.OwnerID, commit.DeviceID,
		ids, types, timestamps, durations, data, nonces, tags, appNames, categories, domains,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert events: %w", err)
	}
	defer rows.Close()

	applied := make([]uuid.UUID, 0, n)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan upserted id: %w", err)
		}
		applied = append(applied, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to upsert events: %w", err)
	}
	return applied, nil
}

func insertAudit(ctx context.Context, tx pgx.Tx, audit *models.AuditEntry) error {
	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}

	query := `INSERT INTO sync_audit (id, owner_id, device_id, events_received, events_processed, conflicts_detected, synced_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := tx.Exec(ctx, query,
		audit.ID,
		audit.OwnerID,
		audit.DeviceID,
		audit.EventsReceived,
		audit.EventsProcessed,
		audit.ConflictsDetected,
		audit.SyncedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record sync audit: %w", err)
	}
	return nil
}

func (r *PostgresEventStore) ListSince(ctx context.Context, ownerID uuid.UUID, since int64, limit int) ([]*models.Event, error) {
	query := `SELECT ` + eventColumns + `
	          FROM events 
	          WHERE owner_id = $1 AND timestamp > $2
	          ORDER BY timestamp ASC, id ASC
	          LIMIT $3`

	rows, err := r.pool.Query(ctx, query, ownerID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.Event, 0, limit)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

func (r *PostgresEventStore) CountByOwner(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM events WHERE owner_id = $1`, ownerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// ListAudit returns the most recent audit entries for an owner, newest first.
func (r *PostgresEventStore) ListAudit(ctx context.Context, ownerID uuid.UUID, limit int) ([]*models.AuditEntry, error) {
	query := `SELECT id, owner_id, device_id, events_received, events_processed, conflicts_detected, synced_at
	          FROM sync_audit
	          WHERE owner_id = $1
	          ORDER BY synced_at DESC
	          LIMIT $2`

	rows, err := r.pool.Query(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync audit: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var entry models.AuditEntry
		err := rows.Scan(
			&entry.ID,
			&entry.OwnerID,
			&entry.DeviceID,
			&entry.EventsReceived,
			&entry.EventsProcessed,
			&entry.ConflictsDetected,
			&entry.SyncedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync audit: %w", err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync audit: %w", err)
	}
	return entries, nil
}

func scanEvent(row pgx.Row) (*models.Event, error) {
	var (
		event     models.Event
		eventType string
		category  *string
	)
	err := row.Scan(
		&event.ID,
		&event.OwnerID,
		&event.OriginDeviceID,
		&eventType,
		&event.Timestamp,
		&event.Duration,
		&event.EncryptedData,
		&event.Nonce,
		&event.Tag,
		&event.AppName,
		&category,
		&event.Domain,
		&event.CreatedAt,
		&event.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	event.Type = models.EventType(eventType)
	if category != nil {
		c := models.Category(*category)
		event.Category = &c
	}
	return &event, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
