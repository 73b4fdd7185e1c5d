package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/farmacia/farmacia-backend/internal/inventory/domain"
	"github.com/farmacia/farmacia-backend/pkg/database"
	"github.com/google/uuid"
)

// ExportLimit caps how many movements one export may contain.
const ExportLimit = 50000

// MovementRepository is the append-only movement log. It deliberately has no
// update or delete.
type MovementRepository struct {
	db *database.DB
}

// NewMovementRepository creates a new movement repository
func NewMovementRepository(db *database.DB) *MovementRepository {
	return &MovementRepository{db: db}
}

// Create appends a movement
func (r *MovementRepository) Create(ctx context.Context, m *domain.Movement) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}

	query := `
		INSERT INTO stock_movements (id, type, medication_id, batch_code, quantity, actor_id, occurred_at, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	err := r.db.Conn(ctx).QueryRowxContext(ctx, query,
		m.ID, m.Type, m.MedicationID, m.BatchCode, m.Quantity, m.ActorID, m.OccurredAt, m.Notes,
	).Scan(&m.CreatedAt)
	return mapErr(err)
}

// List returns one page of movements, newest first, and the filtered total.
func (r *MovementRepository) List(ctx context.Context, filter domain.MovementFilter) ([]domain.MovementView, int, error) {
	filter.Normalize()
	where, args := movementWhere(filter)

	var total int
	countQuery := `SELECT COUNT(*) FROM stock_movements sm` + where
	if err := r.db.Conn(ctx).GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, mapErr(err)
	}

	args = append(args, filter.PerPage, filter.Offset())
	query := movementSelect + where + fmt.Sprintf(`
		ORDER BY sm.occurred_at DESC, sm.created_at DESC
		LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	movements := []domain.MovementView{}
	if err := r.db.Conn(ctx).SelectContext(ctx, &movements, query, args...); err != nil {
		return nil, 0, mapErr(err)
	}

	return movements, total, nil
}

// ListForExport returns every movement matching filter, newest first,
// ignoring paging. At most ExportLimit rows are returned.
func (r *MovementRepository) ListForExport(ctx context.Context, filter domain.MovementFilter) ([]domain.MovementView, error) {
	where, args := movementWhere(filter)
	args = append(args, ExportLimit)
	query := movementSelect + where + fmt.Sprintf(`
		ORDER BY sm.occurred_at DESC, sm.created_at DESC
		LIMIT $%d`, len(args))

	movements := []domain.MovementView{}
	if err := r.db.Conn(ctx).SelectContext(ctx, &movements, query, args...); err != nil {
		return nil, mapErr(err)
	}
	return movements, nil
}

const movementSelect = `
	SELECT sm.id, sm.type, sm.medication_id, sm.batch_code, sm.quantity, sm.actor_id,
		sm.occurred_at, sm.notes, sm.created_at,
		m.name AS medication_name, uc.name AS actor_name, uc.role AS actor_role
	FROM stock_movements sm
	JOIN medications m ON m.id = sm.medication_id
	LEFT JOIN user_cache uc ON uc.user_id = sm.actor_id`

func movementWhere(filter domain.MovementFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}

	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.MedicationID != "" {
		add("sm.medication_id = $%d", filter.MedicationID)
	}
	if filter.Type != "" {
		add("sm.type = $%d", filter.Type)
	}
	if filter.From != nil {
		add("sm.occurred_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("sm.occurred_at <= $%d", *filter.To)
	}

	if len(conds) == 0 {
		return "", args
	}
	return "\n\tWHERE " + strings.Join(conds, " AND "), args
}
