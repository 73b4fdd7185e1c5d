package service

import (
	"context"
	"fmt"
	"time"

	"github.com/farmacia/farmacia-backend/internal/inventory/domain"
	"github.com/farmacia/farmacia-backend/pkg/actor"
	"github.com/farmacia/farmacia-backend/pkg/errors"
)

// CreateMedicationInput carries a new medication and its opening batches.
type CreateMedicationInput struct {
	Name       string
	SupplierID string
	// LowStockThreshold falls back to the configured default when nil.
	LowStockThreshold *int
	Batches           []domain.Batch
}

// UpdateMedicationInput patches a medication. Nil fields are left alone and
// batch operations run in the order remove, modify, add.
type UpdateMedicationInput struct {
	Name              *string
	SupplierID        *string
	LowStockThreshold *int
	RemoveBatches     []string
	ModifyBatches     []BatchModification
	AddBatches        []domain.Batch
}

// BatchModification changes one existing batch.
type BatchModification struct {
	Code string
	domain.BatchPatch
}

// ExpiringMedication is a medication with the batches about to expire.
type ExpiringMedication struct {
	*domain.Medication
	ExpiringBatches []domain.Batch `json:"expiring_batches"`
}

// CreateMedication stores a medication with its opening batches and records
// one inbound movement per batch holding stock.
func (s *InventoryService) CreateMedication(ctx context.Context, a *actor.Actor, in CreateMedicationInput) (*domain.Medication, error) {
	if err := requireActor(a); err != nil {
		return nil, err
	}

	details := map[string]string{}
	if trimmed(in.Name) == "" {
		details["name"] = "is required"
	}
	if trimmed(in.SupplierID) == "" {
		details["supplier_id"] = "is required"
	}
	threshold := s.threshold
	if in.LowStockThreshold != nil {
		threshold = *in.LowStockThreshold
		if threshold < 0 {
			details["low_stock_threshold"] = "must not be negative"
		}
	}
	if len(details) > 0 {
		return nil, errors.Validation(details)
	}

	med := &domain.Medication{
		Name:              trimmed(in.Name),
		SupplierID:        trimmed(in.SupplierID),
		LowStockThreshold: threshold,
		IsActive:          true,
		Batches:           []domain.Batch{},
	}
	for i, b := range in.Batches {
		if _, err := med.AddBatch(b); err != nil {
			return nil, nestValidation(err, fmt.Sprintf("batches[%d]", i))
		}
	}

	now := s.clock.Now()
	var recorded []*domain.Movement

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		supplier, err := s.suppliers.GetByID(ctx, med.SupplierID)
		if err != nil {
			return err
		}
		med.SupplierName = &supplier.Name

		if err := s.medications.Create(ctx, med); err != nil {
			return err
		}

		for _, b := range med.Batches {
			if b.Quantity == 0 {
				continue
			}
			code := b.Code
			var at *time.Time
			if !b.IngestedAt.After(now) {
				ingested := b.IngestedAt
				at = &ingested
			}
			m, err := s.movements.Record(ctx, MovementEntry{
				Type:         domain.MovementInbound,
				MedicationID: med.ID,
				BatchCode:    &code,
				Quantity:     b.Quantity,
				ActorID:      a.ID,
				OccurredAt:   at,
			})
			if err != nil {
				return err
			}
			recorded = append(recorded, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("medication_id", med.ID).
		Str("name", med.Name).
		Int("stock_total", med.StockTotal).
		Str("user_id", a.ID).
		Msg("medication created")

	s.publisher.MedicationCreated(ctx, med)
	s.publishMovements(ctx, recorded)

	return med, nil
}

// AddBatch receives stock into a medication. A batch whose code already
// exists is topped up and keeps its original dates.
func (s *InventoryService) AddBatch(ctx context.Context, a *actor.Actor, medicationID string, b domain.Batch) (*domain.Medication, error) {
	if err := requireActor(a); err != nil {
		return nil, err
	}
	if err := validateIncomingBatch(b, s.clock.Now()); err != nil {
		return nil, err
	}

	var med *domain.Medication
	var recorded *domain.Movement

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		med, err = s.medications.GetForUpdate(ctx, medicationID)
		if err != nil {
			return err
		}
		if !med.IsActive {
			return errors.BusinessRule(fmt.Sprintf("medication %q is inactive", med.Name))
		}

		delta, err := med.AddBatch(b)
		if err != nil {
			return err
		}
		if err := s.medications.Update(ctx, med); err != nil {
			return err
		}

		code := b.Code
		recorded, err = s.movements.RecordDelta(ctx, med.ID, &code, delta, a.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("medication_id", med.ID).
		Str("batch_code", b.Code).
		Int("quantity", b.Quantity).
		Int("stock_total", med.StockTotal).
		Msg("batch added")

	if recorded != nil {
		s.publisher.MovementRecorded(ctx, recorded)
	}

	return med, nil
}

// validateIncomingBatch applies the receiving rules to stock arriving after
// creation: it must carry units and must not already be expired.
func validateIncomingBatch(b domain.Batch, now time.Time) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if b.Quantity <= 0 {
		return errors.ValidationField("quantity", "must be greater than 0")
	}
	if b.ExpiresAt.Before(now) {
		return errors.ValidationField("expires_at", "must not be in the past")
	}
	return nil
}

// UpdateMedication applies a patch. Every batch quantity change is recorded
// as a movement in the same transaction.
func (s *InventoryService) UpdateMedication(ctx context.Context, a *actor.Actor, id string, in UpdateMedicationInput) (*domain.Medication, error) {
	if err := requireActor(a); err != nil {
		return nil, err
	}

	details := map[string]string{}
	if in.Name != nil && trimmed(*in.Name) == "" {
		details["name"] = "must not be empty"
	}
	if in.SupplierID != nil && trimmed(*in.SupplierID) == "" {
		details["supplier_id"] = "must not be empty"
	}
	if in.LowStockThreshold != nil && *in.LowStockThreshold < 0 {
		details["low_stock_threshold"] = "must not be negative"
	}
	if len(details) > 0 {
		return nil, errors.Validation(details)
	}

	now := s.clock.Now()
	for i, b := range in.AddBatches {
		if err := validateIncomingBatch(b, now); err != nil {
			return nil, nestValidation(err, fmt.Sprintf("add_batches[%d]", i))
		}
	}

	touchesBatches := len(in.RemoveBatches)+len(in.ModifyBatches)+len(in.AddBatches) > 0

	var med *domain.Medication
	var recorded []*domain.Movement

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		med, err = s.medications.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if touchesBatches && !med.IsActive {
			return errors.BusinessRule(fmt.Sprintf("medication %q is inactive", med.Name))
		}

		if in.Name != nil {
			med.Name = trimmed(*in.Name)
		}
		if in.SupplierID != nil {
			supplier, err := s.suppliers.GetByID(ctx, trimmed(*in.SupplierID))
			if err != nil {
				return err
			}
			med.SupplierID = supplier.ID
			med.SupplierName = &supplier.Name
		}
		if in.LowStockThreshold != nil {
			med.LowStockThreshold = *in.LowStockThreshold
		}

		type change struct {
			code  string
			delta int
		}
		var changes []change

		for _, code := range in.RemoveBatches {
			removed, err := med.RemoveBatch(code)
			if err != nil {
				return err
			}
			changes = append(changes, change{code, -removed})
		}
		for i, mod := range in.ModifyBatches {
			delta, err := med.ModifyBatch(mod.Code, mod.BatchPatch)
			if err != nil {
				return nestValidation(err, fmt.Sprintf("modify_batches[%d]", i))
			}
			changes = append(changes, change{mod.Code, delta})
		}
		for i, b := range in.AddBatches {
			delta, err := med.AddBatch(b)
			if err != nil {
				return nestValidation(err, fmt.Sprintf("add_batches[%d]", i))
			}
			changes = append(changes, change{b.Code, delta})
		}

		if err := s.medications.Update(ctx, med); err != nil {
			return err
		}

		for _, c := range changes {
			code := c.code
			m, err := s.movements.RecordDelta(ctx, med.ID, &code, c.delta, a.ID)
			if err != nil {
				return err
			}
			if m != nil {
				recorded = append(recorded, m)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("medication_id", med.ID).
		Int("stock_total", med.StockTotal).
		Int("movements", len(recorded)).
		Msg("medication updated")

	s.publishMovements(ctx, recorded)

	return med, nil
}

// DeactivateMedication retires a medication. Its remaining stock is written
// off with one outbound movement carrying no batch code; the batches are
// kept as history. Deactivating an inactive medication changes nothing.
func (s *InventoryService) DeactivateMedication(ctx context.Context, a *actor.Actor, id string) (*domain.Medication, error) {
	if err := requireActor(a); err != nil {
		return nil, err
	}

	var med *domain.Medication
	var recorded *domain.Movement
	changed := false
	removed := 0

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		med, err = s.medications.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !med.IsActive {
			return nil
		}

		changed = true
		removed = med.StockTotal
		med.IsActive = false
		if err := s.medications.Update(ctx, med); err != nil {
			return err
		}

		if removed > 0 {
			notes := "medication deactivated"
			recorded, err = s.movements.Record(ctx, MovementEntry{
				Type:         domain.MovementOutbound,
				MedicationID: med.ID,
				Quantity:     removed,
				ActorID:      a.ID,
				Notes:        &notes,
			})
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return med, nil
	}

	s.logger.Info().
		Str("medication_id", med.ID).
		Int("quantity", removed).
		Str("user_id", a.ID).
		Msg("medication deactivated")

	if recorded != nil {
		s.publisher.MovementRecorded(ctx, recorded)
	}
	s.publisher.MedicationDeactivated(ctx, med, removed, a.ID)

	return med, nil
}

// GetMedication gets a medication with its batches
func (s *InventoryService) GetMedication(ctx context.Context, id string) (*domain.Medication, error) {
	return s.medications.GetByID(ctx, id)
}

// ListMedications lists medications sorted by name.
func (s *InventoryService) ListMedications(ctx context.Context, includeInactive bool) ([]*domain.Medication, error) {
	return s.medications.List(ctx, includeInactive)
}

// ListLowStock lists active medications below their threshold.
func (s *InventoryService) ListLowStock(ctx context.Context) ([]*domain.Medication, error) {
	return s.medications.ListLowStock(ctx)
}

// ListExpiring lists medications holding stock that expires within days.
func (s *InventoryService) ListExpiring(ctx context.Context, days int) ([]ExpiringMedication, error) {
	if days <= 0 {
		return nil, errors.ValidationField("days", "must be greater than 0")
	}

	from := s.clock.Now()
	until := from.AddDate(0, 0, days)

	meds, err := s.medications.ListExpiring(ctx, from, until)
	if err != nil {
		return nil, err
	}

	out := make([]ExpiringMedication, 0, len(meds))
	for _, m := range meds {
		batches := m.ExpiringBatches(from, until)
		if len(batches) == 0 {
			continue
		}
		out = append(out, ExpiringMedication{Medication: m, ExpiringBatches: batches})
	}
	return out, nil
}
