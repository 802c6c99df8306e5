// Package repotest provides in-memory repositories with the same write
// semantics as the Postgres store, for tests of code built on top of them.
package repotest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/activitysync/internal/models"
	"github.com/prudhvinik1/activitysync/internal/repositories"
)

// Store holds accounts, devices, events and audit rows behind one lock so a
// commit is atomic like a database transaction.
type Store struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*models.Account
	devices  map[uuid.UUID]*models.Device
	events   map[uuid.UUID]*models.Event
	audit    []models.AuditEntry

	errs        map[string]error
	deviceReads int

	// BeforeCommit runs inside CommitUpload before the upsert, under no lock.
	// Tests use it to interleave a concurrent writer.
	BeforeCommit func()
}

func NewStore() *Store {
	return &Store{
		accounts: make(map[uuid.UUID]*models.Account),
		devices:  make(map[uuid.UUID]*models.Device),
		events:   make(map[uuid.UUID]*models.Event),
		errs:     make(map[string]error),
	}
}

// FailOn makes every call of op return err until cleared with a nil err.
// Ops are named after the interface method, e.g. "CommitUpload".
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errs, op)
		return
	}
	s.errs[op] = err
}

func (s *Store) failure(op string) error {
	return s.errs[op]
}

// AddAccount registers an account and returns it.
func (s *Store) AddAccount() *models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	a := &models.Account{ID: uuid.New(), Email: uuid.NewString() + "@example.com", CreatedAt: now, UpdatedAt: now}
	s.accounts[a.ID] = a
	return a
}

// AddDevice registers an active device for accountID and returns it.
func (s *Store) AddDevice(accountID uuid.UUID) *models.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := &models.Device{ID: uuid.New(), AccountID: accountID, Name: "laptop", DeviceType: "desktop", CreatedAt: time.Now()}
	s.devices[d.ID] = d
	return d
}

func (s *Store) RevokeDevice(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.devices[id]; ok {
		now := time.Now()
		d.RevokedAt = &now
	}
}

func (s *Store) DeleteAccount(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, id)
}

// PutEvent stores e as is, bypassing last-write-wins.
func (s *Store) PutEvent(e *models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.events[e.ID] = &cp
}

// Event returns a copy of the stored row, or nil.
func (s *Store) Event(id uuid.UUID) *models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

func (s *Store) Account(id uuid.UUID) *models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil
	}
	cp := *a
	return &cp
}

func (s *Store) Device(id uuid.UUID) *models.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return nil
	}
	cp := *d
	return &cp
}

func (s *Store) Audit() []models.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AuditEntry(nil), s.audit...)
}

// DeviceReads counts DeviceRepo.GetByID calls.
func (s *Store) DeviceReads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceReads
}

func (s *Store) Accounts() *AccountRepo { return &AccountRepo{s} }
func (s *Store) Devices() *DeviceRepo   { return &DeviceRepo{s} }
func (s *Store) Events() *EventStore    { return &EventStore{s} }

type AccountRepo struct{ s *Store }

var _ repositories.AccountRepository = (*AccountRepo)(nil)

func (r *AccountRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("AccountGetByID"); err != nil {
		return nil, err
	}
	a, ok := r.s.accounts[id]
	if !ok || a.DeletedAt != nil {
		return nil, repositories.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

type DeviceRepo struct{ s *Store }

var _ repositories.DeviceRepository = (*DeviceRepo)(nil)

func (r *DeviceRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Device, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.deviceReads++
	if err := r.s.failure("DeviceGetByID"); err != nil {
		return nil, err
	}
	d, ok := r.s.devices[id]
	if !ok || d.DeletedAt != nil {
		return nil, repositories.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

type EventStore struct{ s *Store }

var _ repositories.EventStore = (*EventStore)(nil)

func (r *EventStore) GetByIDs(_ context.Context, ownerID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]*models.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("GetByIDs"); err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]*models.Event, len(ids))
	for _, id := range ids {
		if e, ok := r.s.events[id]; ok && e.OwnerID == ownerID {
			cp := *e
			out[id] = &cp
		}
	}
	return out, nil
}

// CommitUpload mirrors the Postgres upsert: a row is written when absent, or
// replaced when it has the same owner and a strictly older timestamp.
func (r *EventStore) CommitUpload(_ context.Context, commit *models.SyncCommit) (*models.CommitResult, error) {
	if r.s.BeforeCommit != nil {
		r.s.BeforeCommit()
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("CommitUpload"); err != nil {
		return nil, err
	}

	account, ok := r.s.accounts[commit.OwnerID]
	if !ok || account.DeletedAt != nil {
		return nil, repositories.ErrNotFound
	}

	result := &models.CommitResult{}
	for _, w := range commit.Writes {
		stored, exists := r.s.events[w.ID]
		if exists && (stored.OwnerID != commit.OwnerID || stored.Timestamp >= w.Timestamp) {
			continue
		}
		cp := *w
		cp.OwnerID = commit.OwnerID
		cp.OriginDeviceID = commit.DeviceID
		cp.UpdatedAt = commit.SyncedAt
		if exists {
			cp.CreatedAt = stored.CreatedAt
		} else {
			cp.CreatedAt = commit.SyncedAt
		}
		r.s.events[w.ID] = &cp
		result.Applied = append(result.Applied, w.ID)
	}

	audit := commit.Audit
	audit.EventsProcessed = len(result.Applied)
	r.s.audit = append(r.s.audit, audit)

	syncedAt := commit.SyncedAt
	account.LastSyncAt = &syncedAt
	if d, ok := r.s.devices[commit.DeviceID]; ok {
		d.LastSeenAt = &syncedAt
	}
	return result, nil
}

func (r *EventStore) ListSince(_ context.Context, ownerID uuid.UUID, since int64, limit int) ([]*models.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("ListSince"); err != nil {
		return nil, err
	}

	var out []*models.Event
	for _, e := range r.s.events {
		if e.OwnerID == ownerID && e.Timestamp > since {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *EventStore) CountByOwner(_ context.Context, ownerID uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("CountByOwner"); err != nil {
		return 0, err
	}
	var n int64
	for _, e := range r.s.events {
		if e.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}
