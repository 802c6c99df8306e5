package services

import (
	"github.com/google/uuid"
	"github.com/prudhvinik1/activitysync/internal/models"
)

type writeOutcome int

const (
	outcomeInsert writeOutcome = iota
	outcomeUpdate
	outcomeConflict
	outcomeNoop
)

// resolveWrite applies last-write-wins by caller timestamp. A nil stored row
// means the event is absent.
func resolveWrite(stored, incoming *models.Event) writeOutcome {
	switch {
	case stored == nil:
		return outcomeInsert
	case incoming.Timestamp > stored.Timestamp:
		return outcomeUpdate
	case incoming.Timestamp < stored.Timestamp:
		return outcomeConflict
	default:
		return outcomeNoop
	}
}

// batchPlan is advisory: the store's upsert has the final word.
type batchPlan struct {
	writes    []*models.Event
	inserts   int
	updates   int
	noops     int
	conflicts map[uuid.UUID]models.ConflictRecord
}

func planBatch(events []*models.Event, existing map[uuid.UUID]*models.Event) batchPlan {
	plan := batchPlan{conflicts: make(map[uuid.UUID]models.ConflictRecord)}

	for _, event := range events {
		stored := existing[event.ID]
		switch resolveWrite(stored, event) {
		case outcomeInsert:
			plan.inserts++
			plan.writes = append(plan.writes, event)
		case outcomeUpdate:
			plan.updates++
			plan.writes = append(plan.writes, event)
		case outcomeConflict:
			plan.conflicts[event.ID] = newConflict(stored)
		case outcomeNoop:
			plan.noops++
		}
	}
	return plan
}

func newConflict(stored *models.Event) models.ConflictRecord {
	return models.ConflictRecord{
		EventID:         stored.ID,
		ServerTimestamp: stored.Timestamp,
		ServerSnapshot:  stored,
	}
}

// orderedConflicts lists conflicts in the order the events were uploaded.
func orderedConflicts(events []*models.Event, conflicts map[uuid.UUID]models.ConflictRecord) []models.ConflictRecord {
	out := make([]models.ConflictRecord, 0, len(conflicts))
	for _, event := range events {
		if c, ok := conflicts[event.ID]; ok {
			out = append(out, c)
		}
	}
	return out
}
