package repository

import (
	"context"
	"database/sql"

	"github.com/farmacia/farmacia-backend/internal/inventory/domain"
	"github.com/farmacia/farmacia-backend/pkg/database"
	"github.com/farmacia/farmacia-backend/pkg/errors"
	"github.com/google/uuid"
)

// DeliveryRepository persists deliveries. A delivery is written once and
// never changed; the unique request_id constraint rejects a second one.
type DeliveryRepository struct {
	db *database.DB
}

// NewDeliveryRepository creates a new delivery repository
func NewDeliveryRepository(db *database.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

// Create inserts the delivery and its details. Call inside WithinTx.
func (r *DeliveryRepository) Create(ctx context.Context, d *domain.Delivery) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}

	query := `
		INSERT INTO deliveries (id, request_id, delivered_by, delivered_at, idempotency_key)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query,
		d.ID, d.RequestID, d.DeliveredBy, d.DeliveredAt, d.IdempotencyKey,
	); err != nil {
		return mapErr(err)
	}

	detailQuery := `
		INSERT INTO delivery_details (delivery_id, position, medication_id, batch_code, quantity)
		VALUES ($1, $2, $3, $4, $5)
	`
	for i, detail := range d.Details {
		if _, err := r.db.Conn(ctx).ExecContext(ctx, detailQuery,
			d.ID, i, detail.MedicationID, detail.BatchCode, detail.Quantity,
		); err != nil {
			return mapErr(err)
		}
	}

	return nil
}

// GetByID gets a delivery with its details
func (r *DeliveryRepository) GetByID(ctx context.Context, id string) (*domain.Delivery, error) {
	return r.getWhere(ctx, "id", id)
}

// GetByRequestID gets the delivery recorded for a request
func (r *DeliveryRepository) GetByRequestID(ctx context.Context, requestID string) (*domain.Delivery, error) {
	return r.getWhere(ctx, "request_id", requestID)
}

func (r *DeliveryRepository) getWhere(ctx context.Context, column, value string) (*domain.Delivery, error) {
	query := `
		SELECT id, request_id, delivered_by, delivered_at, idempotency_key
		FROM deliveries
		WHERE ` + column + ` = $1`

	var d domain.Delivery
	if err := r.db.Conn(ctx).GetContext(ctx, &d, query, value); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("delivery")
		}
		return nil, mapErr(err)
	}

	detailQuery := `
		SELECT medication_id, batch_code, quantity
		FROM delivery_details
		WHERE delivery_id = $1
		ORDER BY position
	`
	d.Details = []domain.DeliveryDetail{}
	if err := r.db.Conn(ctx).SelectContext(ctx, &d.Details, detailQuery, d.ID); err != nil {
		return nil, mapErr(err)
	}

	return &d, nil
}
