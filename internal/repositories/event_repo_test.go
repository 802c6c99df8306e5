package repositories

import (
	"context"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/activitysync/internal/database"
	"github.com/prudhvinik1/activitysync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEventStore_CommitUpload_Insert tests inserting new events with audit and sync times
func TestEventStore_CommitUpload_Insert(t *testing.T) {
	pool := getTestPool(t)
	store := NewPostgresEventStore(pool)
	ctx := context.Background()

	accountID, deviceID := setupTestAccountAndDevice(t, ctx, pool)
	defer cleanupTestData(t, pool, ctx, accountID)

	e1 := newTestEvent(1000)
	e2 := newTestEvent(2000)
	syncedAt := time.Now().UTC().Truncate(time.Millisecond)

	result, err := store.CommitUpload(ctx, &models.SyncCommit{
		OwnerID:  accountID,
		DeviceID: deviceID,
		Writes:   []*models.Event{e1, e2},
		SyncedAt: syncedAt,
		Audit:    models.AuditEntry{OwnerID: accountID, DeviceID: deviceID, EventsReceived: 2, SyncedAt: syncedAt},
	})

	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{e1.ID, e2.ID}, result.Applied)

	stored, err := store.GetByIDs(ctx, accountID, []uuid.UUID{e1.ID, e2.ID})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, e1.EncryptedData, stored[e1.ID].EncryptedData)
	assert.Equal(t, deviceID, stored[e1.ID].OriginDeviceID)
	assert.Equal(t, models.CategoryDevelopment, *stored[e1.ID].Category)

	account, err := NewPostgresAccountRepository(pool).GetByID(ctx, accountID)
	require.NoError(t, err)
	require.NotNil(t, account.LastSyncAt)
	assert.True(t, account.LastSyncAt.Equal(syncedAt))

	device, err := NewPostgresDeviceRepository(pool).GetByID(ctx, deviceID)
	require.NoError(t, err)
	require.NotNil(t, device.LastSeenAt)

	audit, err := store.ListAudit(ctx, accountID, 10)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, 2, audit[0].EventsReceived)
	assert.Equal(t, 2, audit[0].EventsProcessed)
}

// TestEventStore_CommitUpload_LastWriteWins tests that only strictly newer timestamps replace a row
// This is the CRITICAL test - the statement itself must arbitrate!
func TestEventStore_CommitUpload_LastWriteWins(t *testing.T) {
	pool := getTestPool(t)
	store := NewPostgresEventStore(pool)
	ctx := context.Background()

	accountID, deviceID := setupTestAccountAndDevice(t, ctx, pool)
	defer cleanupTestData(t, pool, ctx, accountID)

	first := newTestEvent(5000)
	commit := func(e *models.Event) []uuid.UUID {
		result, err := store.CommitUpload(ctx, &models.SyncCommit{
			OwnerID:  accountID,
			DeviceID: deviceID,
			Writes:   []*models.Event{e},
			SyncedAt: time.Now(),
			Audit:    models.AuditEntry{OwnerID: accountID, DeviceID: deviceID, EventsReceived: 1, SyncedAt: time.Now()},
		})
		require.NoError(t, err)
		return result.Applied
	}

	require.Len(t, commit(first), 1)

	older := *first
	older.Timestamp = 4000
	older.EncryptedData = []byte("older")
	assert.Empty(t, commit(&older), "Older write must be declined")

	same := *first
	same.EncryptedData = []byte("same")
	assert.Empty(t, commit(&same), "Equal timestamp must be declined")

	newer := *first
	newer.Timestamp = 6000
	newer.EncryptedData = []byte("newer")
	assert.Len(t, commit(&newer), 1, "Newer write must be applied")

	stored, err := store.GetByIDs(ctx, accountID, []uuid.UUID{first.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(6000), stored[first.ID].Timestamp)
	assert.Equal(t, []byte("newer"), stored[first.ID].EncryptedData)
}

// TestEventStore_CommitUpload_ForeignOwner tests that an id owned by another account is never overwritten
func TestEventStore_CommitUpload_ForeignOwner(t *testing.T) {
	pool := getTestPool(t)
	store := NewPostgresEventStore(pool)
	ctx := context.Background()

	ownerA, deviceA := setupTestAccountAndDevice(t, ctx, pool)
	defer cleanupTestData(t, pool, ctx, ownerA)
	ownerB, deviceB := setupTestAccountAndDevice(t, ctx, pool)
	defer cleanupTestData(t, pool, ctx, ownerB)

	e := newTestEvent(1000)
	_, err := store.CommitUpload(ctx, &models.SyncCommit{
		OwnerID: ownerA, DeviceID: deviceA, Writes: []*models.Event{e}, SyncedAt: time.Now(),
		Audit: models.AuditEntry{OwnerID: ownerA, DeviceID: deviceA, EventsReceived: 1, SyncedAt: time.Now()},
	})
	require.NoError(t, err)

	hijack := *e
	hijack.Timestamp = 9000
	result, err := store.CommitUpload(ctx, &models.SyncCommit{
		OwnerID: ownerB, DeviceID: deviceB, Writes: []*models.Event{&hijack}, SyncedAt: time.Now(),
		Audit: models.AuditEntry{OwnerID: ownerB, DeviceID: deviceB, EventsReceived: 1, SyncedAt: time.Now()},
	})
	require.NoError(t, err)
	assert.Empty(t, result.Applied)

	visible, err := store.GetByIDs(ctx, ownerB, []uuid.UUID{e.ID})
	require.NoError(t, err)
	assert.Empty(t, visible, "Other owners must not see the row")

	stored, err := store.GetByIDs(ctx, ownerA, []uuid.UUID{e.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), stored[e.ID].Timestamp)
}

// TestEventStore_CommitUpload_MissingAccount tests that the whole commit rolls back
func TestEventStore_CommitUpload_MissingAccount(t *testing.T) {
	pool := getTestPool(t)
	store := NewPostgresEventStore(pool)
	ctx := context.Background()

	accountID, deviceID := setupTestAccountAndDevice(t, ctx, pool)
	defer cleanupTestData(t, pool, ctx, accountID)

	_, err := pool.Exec(ctx, `UPDATE accounts SET deleted_at = NOW() WHERE id = $1`, accountID)
	require.NoError(t, err)

	e := newTestEvent(1000)
	_, err = store.CommitUpload(ctx, &models.SyncCommit{
		OwnerID: accountID, DeviceID: deviceID, Writes: []*models.Event{e}, SyncedAt: time.Now(),
		Audit: models.AuditEntry{OwnerID: accountID, DeviceID: deviceID, EventsReceived: 1, SyncedAt: time.Now()},
	})
	assert.ErrorIs(t, err, ErrNotFound)

	stored, err := store.GetByIDs(ctx, accountID, []uuid.UUID{e.ID})
	require.NoError(t, err)
	assert.Empty(t, stored, "Upsert must roll back with the account update")

	audit, err := store.ListAudit(ctx, accountID, 10)
	require.NoError(t, err)
	assert.Empty(t, audit)
}

// TestEventStore_ListSince tests strict cursor semantics and ordering
func TestEventStore_ListSince(t *testing.T) {
	pool := getTestPool(t)
	store := NewPostgresEventStore(pool)
	ctx := context.Background()

	accountID, deviceID := setupTestAccountAndDevice(t, ctx, pool)
	defer cleanupTestData(t, pool, ctx, accountID)

	var writes []*models.Event
	for _, ts := range []int64{300, 100, 200, 400} {
		writes = append(writes, newTestEvent(ts))
	}
	_, err := store.CommitUpload(ctx, &models.SyncCommit{
		OwnerID: accountID, DeviceID: deviceID, Writes: writes, SyncedAt: time.Now(),
		Audit: models.AuditEntry{OwnerID: accountID, DeviceID: deviceID, EventsReceived: len(writes), SyncedAt: time.Now()},
	})
	require.NoError(t, err)

	page, err := store.ListSince(ctx, accountID, 100, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(200), page[0].Timestamp)
	assert.Equal(t, int64(300), page[1].Timestamp)

	count, err := store.CountByOwner(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestSortedByID(t *testing.T) {
	events := make([]*models.Event, 20)
	for i := range events {
		events[i] = newTestEvent(int64(i))
	}
	original := slices.Clone(events)

	sorted := sortedByID(events)

	require.Len(t, sorted, len(events))
	assert.True(t, slices.IsSortedFunc(sorted, func(a, b *models.Event) int {
		return slices.Compare(a.ID[:], b.ID[:])
	}))
	assert.ElementsMatch(t, original, sorted)
	assert.Equal(t, original, events, "Input slice should not be reordered")
}

// TestEventStore_CommitUpload_OverlappingBatches tests that concurrent uploads sharing ids in opposite orders all commit
func TestEventStore_CommitUpload_OverlappingBatches(t *testing.T) {
	pool := getTestPool(t)
	store := NewPostgresEventStore(pool)
	ctx := context.Background()

	accountID, deviceID := setupTestAccountAndDevice(t, ctx, pool)
	defer cleanupTestData(t, pool, ctx, accountID)

	ids := make([]uuid.UUID, 50)
	for i := range ids {
		ids[i] = uuid.New()
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			writes := make([]*models.Event, len(ids))
			for i, id := range ids {
				e := newTestEvent(int64(1000 + w))
				e.ID = id
				writes[i] = e
			}
			if w%2 == 1 {
				slices.Reverse(writes)
			}
			syncedAt := time.Now().UTC()
			_, err := store.CommitUpload(ctx, &models.SyncCommit{
				OwnerID:  accountID,
				DeviceID: deviceID,
				Writes:   writes,
				SyncedAt: syncedAt,
				Audit:    models.AuditEntry{OwnerID: accountID, DeviceID: deviceID, EventsReceived: len(writes), SyncedAt: syncedAt},
			})
			errs <- err
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	stored, err := store.GetByIDs(ctx, accountID, ids)
	require.NoError(t, err)
	require.Len(t, stored, len(ids))
	for _, e := range stored {
		assert.Equal(t, int64(1007), e.Timestamp, "Newest upload should win every row")
	}
}

func newTestEvent(ts int64) *models.Event {
	app := "editor"
	category := models.CategoryDevelopment
	return &models.Event{
		ID:            uuid.New(),
		Type:          models.EventTypeAppUsage,
		Timestamp:     ts,
		Duration:      60,
		EncryptedData: []byte("ciphertext"),
		Nonce:         make([]byte, models.NonceSize),
		Tag:           make([]byte, models.TagSize),
		AppName:       &app,
		Category:      &category,
	}
}

// Helper functions

func getTestPool(t *testing.T) *pgxpool.Pool {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err, "Failed to connect to test database")
	t.Cleanup(pool.Close)

	require.NoError(t, database.Migrate(ctx, pool), "Failed to migrate test database")
	return pool
}

// setupTestAccountAndDevice creates a test account and device for foreign key constraints
func setupTestAccountAndDevice(t *testing.T, ctx context.Context, pool *pgxpool.Pool) (uuid.UUID, uuid.UUID) {
	account := &models.Account{
		Email:        "test-" + uuid.New().String() + "@example.com",
		PasswordHash: "test-hash",
	}
	err := NewPostgresAccountRepository(pool).Create(ctx, account)
	require.NoError(t, err, "Failed to create test account")

	device := &models.Device{
		AccountID:  account.ID,
		Name:       "Test Device",
		DeviceType: "desktop",
	}
	err = NewPostgresDeviceRepository(pool).Create(ctx, device)
	require.NoError(t, err, "Failed to create test device")

	return account.ID, device.ID
}

// cleanupTestData removes test data (cascades to devices, events and audit)
func cleanupTestData(t *testing.T, pool *pgxpool.Pool, ctx context.Context, accountID uuid.UUID) {
	if _, err := pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, accountID); err != nil {
		t.Logf("Warning: failed to cleanup test account: %v", err)
	}
}
