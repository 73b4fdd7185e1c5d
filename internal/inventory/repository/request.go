package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/farmacia/farmacia-backend/internal/inventory/domain"
	"github.com/farmacia/farmacia-backend/pkg/database"
	"github.com/farmacia/farmacia-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// RequestRepository persists stock requests and their items.
type RequestRepository struct {
	db *database.DB
}

// NewRequestRepository creates a new request repository
func NewRequestRepository(db *database.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create inserts the request and its items in order. Call inside WithinTx.
func (r *RequestRepository) Create(ctx context.Context, req *domain.Request) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	query := `
		INSERT INTO stock_requests (id, requester_id, status, notes)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`

	err := r.db.Conn(ctx).QueryRowxContext(ctx, query,
		req.ID, req.RequesterID, req.Status, req.Notes,
	).Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}

	itemQuery := `
		INSERT INTO stock_request_items (request_id, position, medication_id, quantity)
		VALUES ($1, $2, $3, $4)
	`
	for i, item := range req.Items {
		if _, err := r.db.Conn(ctx).ExecContext(ctx, itemQuery, req.ID, i, item.MedicationID, item.Quantity); err != nil {
			return mapErr(err)
		}
	}

	return nil
}

// GetByID gets a request with its items
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*domain.Request, error) {
	return r.get(ctx, id, false)
}

// GetForUpdate gets a request and locks its row for the surrounding transaction.
func (r *RequestRepository) GetForUpdate(ctx context.Context, id string) (*domain.Request, error) {
	return r.get(ctx, id, true)
}

func (r *RequestRepository) get(ctx context.Context, id string, forUpdate bool) (*domain.Request, error) {
	query := `
		SELECT id, requester_id, status, notes, created_at, updated_at
		FROM stock_requests
		WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var req domain.Request
	if err := r.db.Conn(ctx).GetContext(ctx, &req, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("request")
		}
		return nil, mapErr(err)
	}

	items, err := r.loadItems(ctx, []string{req.ID})
	if err != nil {
		return nil, err
	}
	req.Items = items[req.ID]

	return &req, nil
}

// UpdateStatus stores a new status for the request.
func (r *RequestRepository) UpdateStatus(ctx context.Context, req *domain.Request) error {
	query := `
		UPDATE stock_requests SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	if err := r.db.Conn(ctx).QueryRowxContext(ctx, query, req.ID, req.Status).Scan(&req.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return errors.NotFound("request")
		}
		return mapErr(err)
	}
	return nil
}

// List returns requests, newest first.
func (r *RequestRepository) List(ctx context.Context, filter domain.RequestFilter) ([]*domain.Request, error) {
	var conds []string
	var args []interface{}

	if filter.RequesterID != "" {
		args = append(args, filter.RequesterID)
		conds = append(conds, fmt.Sprintf("requester_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT id, requester_id, status, notes, created_at, updated_at FROM stock_requests`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	requests := []*domain.Request{}
	if err := r.db.Conn(ctx).SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, mapErr(err)
	}
	if len(requests) == 0 {
		return requests, nil
	}

	ids := make([]string, len(requests))
	for i, req := range requests {
		ids[i] = req.ID
	}
	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, req := range requests {
		req.Items = items[req.ID]
	}

	return requests, nil
}

type requestItemRow struct {
	RequestID string `db:"request_id"`
	domain.RequestItem
}

func (r *RequestRepository) loadItems(ctx context.Context, requestIDs []string) (map[string][]domain.RequestItem, error) {
	query := `
		SELECT request_id, medication_id, quantity
		FROM stock_request_items
		WHERE request_id = ANY($1)
		ORDER BY request_id, position
	`

	var rows []requestItemRow
	if err := r.db.Conn(ctx).SelectContext(ctx, &rows, query, pq.Array(requestIDs)); err != nil {
		return nil, mapErr(err)
	}

	out := make(map[string][]domain.RequestItem, len(requestIDs))
	for _, row := range rows {
		out[row.RequestID] = append(out[row.RequestID], row.RequestItem)
	}
	return out, nil
}
