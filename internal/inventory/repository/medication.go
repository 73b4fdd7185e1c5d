package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/farmacia/farmacia-backend/internal/inventory/domain"
	"github.com/farmacia/farmacia-backend/pkg/database"
	"github.com/farmacia/farmacia-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const medicationColumns = `
	m.id, m.name, m.supplier_id, s.name AS supplier_name, m.stock_total,
	m.low_stock_threshold, m.is_active, m.created_at, m.updated_at`

// MedicationRepository persists medications together with their batches.
// Batches are stored in medication_batches with an explicit position so the
// stored order survives round trips.
type MedicationRepository struct {
	db *database.DB
}

// NewMedicationRepository creates a new medication repository
func NewMedicationRepository(db *database.DB) *MedicationRepository {
	return &MedicationRepository{db: db}
}

// Create inserts the medication row and its batches. Call inside WithinTx.
func (r *MedicationRepository) Create(ctx context.Context, m *domain.Medication) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}

	query := `
		INSERT INTO medications (id, name, supplier_id, stock_total, low_stock_threshold, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	err := r.db.Conn(ctx).QueryRowxContext(ctx, query,
		m.ID, m.Name, m.SupplierID, m.StockTotal, m.LowStockThreshold, m.IsActive,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}

	return r.insertBatches(ctx, m.ID, m.Batches)
}

// GetByID loads a medication and its batches.
func (r *MedicationRepository) GetByID(ctx context.Context, id string) (*domain.Medication, error) {
	return r.get(ctx, id, false)
}

// GetForUpdate loads a medication and locks its row until the surrounding
// transaction ends, serialising concurrent stock changes.
func (r *MedicationRepository) GetForUpdate(ctx context.Context, id string) (*domain.Medication, error) {
	return r.get(ctx, id, true)
}

func (r *MedicationRepository) get(ctx context.Context, id string, forUpdate bool) (*domain.Medication, error) {
	query := `SELECT` + medicationColumns + `
		FROM medications m
		LEFT JOIN suppliers s ON s.id = m.supplier_id
		WHERE m.id = $1`
	if forUpdate {
		query += ` FOR UPDATE OF m`
	}

	var m domain.Medication
	if err := r.db.Conn(ctx).GetContext(ctx, &m, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("medication")
		}
		return nil, mapErr(err)
	}

	batches, err := r.loadBatches(ctx, []string{m.ID})
	if err != nil {
		return nil, err
	}
	m.Batches = batches[m.ID]

	return &m, nil
}

// Update writes the medication row and replaces its batch list.
func (r *MedicationRepository) Update(ctx context.Context, m *domain.Medication) error {
	query := `
		UPDATE medications SET
			name = $2, supplier_id = $3, stock_total = $4,
			low_stock_threshold = $5, is_active = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.Conn(ctx).QueryRowxContext(ctx, query,
		m.ID, m.Name, m.SupplierID, m.StockTotal, m.LowStockThreshold, m.IsActive,
	).Scan(&m.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return errors.NotFound("medication")
		}
		return mapErr(err)
	}

	if _, err := r.db.Conn(ctx).ExecContext(ctx, `DELETE FROM medication_batches WHERE medication_id = $1`, m.ID); err != nil {
		return mapErr(err)
	}

	return r.insertBatches(ctx, m.ID, m.Batches)
}

// List returns medications ordered by name.
func (r *MedicationRepository) List(ctx context.Context, includeInactive bool) ([]*domain.Medication, error) {
	query := `SELECT` + medicationColumns + `
		FROM medications m
		LEFT JOIN suppliers s ON s.id = m.supplier_id
		WHERE ($1 OR m.is_active)
		ORDER BY m.name, m.id`

	return r.selectWithBatches(ctx, query, includeInactive)
}

// ListLowStock returns active medications whose stock is below threshold.
func (r *MedicationRepository) ListLowStock(ctx context.Context) ([]*domain.Medication, error) {
	query := `SELECT` + medicationColumns + `
		FROM medications m
		LEFT JOIN suppliers s ON s.id = m.supplier_id
		WHERE m.is_active AND m.stock_total < m.low_stock_threshold
		ORDER BY m.stock_total, m.name`

	return r.selectWithBatches(ctx, query)
}

// ListExpiring returns active medications holding stock in a batch that
// expires within [from, until].
func (r *MedicationRepository) ListExpiring(ctx context.Context, from, until time.Time) ([]*domain.Medication, error) {
	query := `SELECT` + medicationColumns + `
		FROM medications m
		LEFT JOIN suppliers s ON s.id = m.supplier_id
		WHERE m.is_active AND EXISTS (
			SELECT 1 FROM medication_batches b
			WHERE b.medication_id = m.id
			AND b.quantity > 0
			AND b.expires_at BETWEEN $1 AND $2
		)
		ORDER BY m.name`

	return r.selectWithBatches(ctx, query, from, until)
}

func (r *MedicationRepository) selectWithBatches(ctx context.Context, query string, args ...interface{}) ([]*domain.Medication, error) {
	var meds []*domain.Medication
	if err := r.db.Conn(ctx).SelectContext(ctx, &meds, query, args...); err != nil {
		return nil, mapErr(err)
	}
	if len(meds) == 0 {
		return meds, nil
	}

	ids := make([]string, len(meds))
	for i, m := range meds {
		ids[i] = m.ID
	}

	batches, err := r.loadBatches(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, m := range meds {
		m.Batches = batches[m.ID]
	}

	return meds, nil
}

type batchRow struct {
	MedicationID string `db:"medication_id"`
	domain.Batch
}

func (r *MedicationRepository) loadBatches(ctx context.Context, medicationIDs []string) (map[string][]domain.Batch, error) {
	query := `
		SELECT medication_id, code, quantity, ingested_at, expires_at
		FROM medication_batches
		WHERE medication_id = ANY($1)
		ORDER BY medication_id, position
	`

	var rows []batchRow
	if err := r.db.Conn(ctx).SelectContext(ctx, &rows, query, pq.Array(medicationIDs)); err != nil {
		return nil, mapErr(err)
	}

	out := make(map[string][]domain.Batch, len(medicationIDs))
	for _, row := range rows {
		out[row.MedicationID] = append(out[row.MedicationID], row.Batch)
	}
	for _, id := range medicationIDs {
		if out[id] == nil {
			out[id] = []domain.Batch{}
		}
	}
	return out, nil
}

func (r *MedicationRepository) insertBatches(ctx context.Context, medicationID string, batches []domain.Batch) error {
	query := `
		INSERT INTO medication_batches (medication_id, position, code, quantity, ingested_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	for i, b := range batches {
		if _, err := r.db.Conn(ctx).ExecContext(ctx, query,
			medicationID, i, b.Code, b.Quantity, b.IngestedAt, b.ExpiresAt,
		); err != nil {
			return mapErr(err)
		}
	}
	return nil
}

// mapErr turns constraint violations into AppErrors and passes the rest through.
func mapErr(err error) error {
	if appErr := database.MapPQError(err); appErr != nil {
		return appErr
	}
	return err
}
