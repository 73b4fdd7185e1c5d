package service

import (
	"context"
	"time"

	"github.com/farmacia/farmacia-backend/internal/inventory/domain"
	"github.com/farmacia/farmacia-backend/pkg/clock"
	"github.com/farmacia/farmacia-backend/pkg/errors"
)

// MovementEntry describes one stock change to append to the log.
type MovementEntry struct {
	Type         domain.MovementType
	MedicationID string
	BatchCode    *string
	Quantity     int
	ActorID      string
	// OccurredAt defaults to now and must not lie in the future.
	OccurredAt *time.Time
	Notes      *string
}

// MovementLog appends validated movements. It never edits or removes one.
type MovementLog struct {
	store MovementStore
	clock clock.Clock
}

// NewMovementLog creates a movement log over store.
func NewMovementLog(store MovementStore, clk clock.Clock) *MovementLog {
	if clk == nil {
		clk = clock.System{}
	}
	return &MovementLog{store: store, clock: clk}
}

// Record validates and appends one movement.
func (l *MovementLog) Record(ctx context.Context, e MovementEntry) (*domain.Movement, error) {
	m, err := domain.NewMovement(e.Type, e.MedicationID, e.BatchCode, e.Quantity, e.ActorID, e.OccurredAt, l.clock.Now())
	if err != nil {
		return nil, err
	}
	m.Notes = e.Notes

	if err := l.store.Create(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordDelta appends the movement matching a signed batch change. A zero
// delta records nothing and returns nil.
func (l *MovementLog) RecordDelta(ctx context.Context, medicationID string, batchCode *string, delta int, actorID string) (*domain.Movement, error) {
	typ, qty, ok := domain.MovementForDelta(delta)
	if !ok {
		return nil, nil
	}
	return l.Record(ctx, MovementEntry{
		Type:         typ,
		MedicationID: medicationID,
		BatchCode:    batchCode,
		Quantity:     qty,
		ActorID:      actorID,
	})
}

// ListMovements returns a page of movements, newest first, with the total
// number matching the filter.
func (s *InventoryService) ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.MovementView, int, error) {
	if err := validateMovementFilter(filter); err != nil {
		return nil, 0, err
	}
	filter.Normalize()
	return s.movements.store.List(ctx, filter)
}

// ExportMovements returns every movement matching filter, newest first.
func (s *InventoryService) ExportMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.MovementView, error) {
	if err := validateMovementFilter(filter); err != nil {
		return nil, err
	}
	return s.movements.store.ListForExport(ctx, filter)
}

func validateMovementFilter(filter domain.MovementFilter) error {
	if filter.Type != "" && !filter.Type.IsValid() {
		return errors.ValidationField("type", "must be one of: INBOUND, OUTBOUND")
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return errors.ValidationField("to", "must not be before from")
	}
	return nil
}
