package repository

import (
	"context"
	"database/sql"

	"github.com/farmacia/farmacia-backend/internal/inventory/domain"
	"github.com/farmacia/farmacia-backend/pkg/database"
	"github.com/farmacia/farmacia-backend/pkg/errors"
)

// SupplierRepository stores the local copy of the supplier catalogue. Rows
// arrive through supplier events; medications reference them by ID.
type SupplierRepository struct {
	db *database.DB
}

// NewSupplierRepository creates a new supplier repository
func NewSupplierRepository(db *database.DB) *SupplierRepository {
	return &SupplierRepository{db: db}
}

// GetByID gets a supplier by ID
func (r *SupplierRepository) GetByID(ctx context.Context, id string) (*domain.Supplier, error) {
	var s domain.Supplier
	query := `SELECT id, name, created_at FROM suppliers WHERE id = $1`
	if err := r.db.Conn(ctx).GetContext(ctx, &s, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("supplier")
		}
		return nil, mapErr(err)
	}
	return &s, nil
}

// Upsert inserts a supplier or renames an existing one.
func (r *SupplierRepository) Upsert(ctx context.Context, s *domain.Supplier) error {
	query := `
		INSERT INTO suppliers (id, name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
		RETURNING created_at`

	if err := r.db.Conn(ctx).GetContext(ctx, &s.CreatedAt, query, s.ID, s.Name); err != nil {
		return mapErr(err)
	}
	return nil
}
