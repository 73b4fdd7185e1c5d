package testutil

import (
	"fmt"
	"time"

	"github.com/farmacia/farmacia-backend/internal/inventory/domain"
	"github.com/farmacia/farmacia-backend/pkg/actor"
	"github.com/google/uuid"
)

// SupplierFixture represents test supplier data
type SupplierFixture struct {
	ID   string
	Name string
}

// FixtureFactory creates test fixtures with sensible defaults
type FixtureFactory struct {
	sequence int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{sequence: 0}
}

// nextSeq returns the next sequence number for unique values
func (f *FixtureFactory) nextSeq() int {
	f.sequence++
	return f.sequence
}

// Supplier creates a supplier fixture with a unique name
func (f *FixtureFactory) Supplier() SupplierFixture {
	return SupplierFixture{
		ID:   uuid.New().String(),
		Name: fmt.Sprintf("Laboratorio %d", f.nextSeq()),
	}
}

// Admin returns an ADMIN actor with a fresh ID
func (f *FixtureFactory) Admin() *actor.Actor {
	seq := f.nextSeq()
	return &actor.Actor{
		ID:    uuid.New().String(),
		Name:  fmt.Sprintf("Admin %d", seq),
		Email: fmt.Sprintf("admin%d@test.farmacia.cl", seq),
		Role:  actor.RoleAdmin,
	}
}

// TENS returns a TENS actor with a fresh ID
func (f *FixtureFactory) TENS() *actor.Actor {
	seq := f.nextSeq()
	return &actor.Actor{
		ID:    uuid.New().String(),
		Name:  fmt.Sprintf("TENS %d", seq),
		Email: fmt.Sprintf("tens%d@test.farmacia.cl", seq),
		Role:  actor.RoleTENS,
	}
}

// Batch creates a batch ingested a month ago that expires in a year
func (f *FixtureFactory) Batch(code string, quantity int) domain.Batch {
	now := time.Now().UTC().Truncate(time.Second)
	return domain.Batch{
		Code:       code,
		Quantity:   quantity,
		IngestedAt: now.AddDate(0, -1, 0),
		ExpiresAt:  now.AddDate(1, 0, 0),
	}
}

// Medication creates an active medication of supplierID holding batches
func (f *FixtureFactory) Medication(supplierID string, batches ...domain.Batch) *domain.Medication {
	m := &domain.Medication{
		ID:                uuid.New().String(),
		Name:              fmt.Sprintf("Medicamento %d", f.nextSeq()),
		SupplierID:        supplierID,
		Batches:           batches,
		LowStockThreshold: 10,
		IsActive:          true,
	}
	m.RecomputeStock()
	return m
}

// WithThreshold sets the low-stock threshold of m and returns it
func WithThreshold(m *domain.Medication, threshold int) *domain.Medication {
	m.LowStockThreshold = threshold
	return m
}
