package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/prudhvinik1/activitysync/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestResolveWrite(t *testing.T) {
	stored := &models.Event{ID: uuid.New(), Timestamp: 100}

	tests := []struct {
		name     string
		stored   *models.Event
		incoming int64
		want     writeOutcome
	}{
		{"absent", nil, 1, outcomeInsert},
		{"newer", stored, 101, outcomeUpdate},
		{"older", stored, 99, outcomeConflict},
		{"equal", stored, 100, outcomeNoop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			incoming := &models.Event{ID: stored.ID, Timestamp: tt.incoming}
			assert.Equal(t, tt.want, resolveWrite(tt.stored, incoming))
		})
	}
}

func TestPlanBatch(t *testing.T) {
	absent := &models.Event{ID: uuid.New(), Timestamp: 5}
	newer := &models.Event{ID: uuid.New(), Timestamp: 20}
	older := &models.Event{ID: uuid.New(), Timestamp: 1}
	equal := &models.Event{ID: uuid.New(), Timestamp: 7}

	existing := map[uuid.UUID]*models.Event{
		newer.ID: {ID: newer.ID, Timestamp: 10},
		older.ID: {ID: older.ID, Timestamp: 10},
		equal.ID: {ID: equal.ID, Timestamp: 7},
	}

	plan := planBatch([]*models.Event{absent, newer, older, equal}, existing)

	assert.Equal(t, []*models.Event{absent, newer}, plan.writes)
	assert.Equal(t, 1, plan.inserts)
	assert.Equal(t, 1, plan.updates)
	assert.Equal(t, 1, plan.noops)
	assert.Len(t, plan.conflicts, 1)
	assert.Equal(t, int64(10), plan.conflicts[older.ID].ServerTimestamp)
	assert.Same(t, existing[older.ID], plan.conflicts[older.ID].ServerSnapshot)
}
