package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/farmacia/farmacia-backend/internal/inventory/domain"
	"github.com/farmacia/farmacia-backend/internal/inventory/repository"
	"github.com/farmacia/farmacia-backend/pkg/actor"
	"github.com/farmacia/farmacia-backend/pkg/database"
	"github.com/farmacia/farmacia-backend/pkg/errors"
	"github.com/farmacia/farmacia-backend/pkg/testutil"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ts         = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	medColumns = []string{"id", "name", "supplier_id", "supplier_name", "stock_total", "low_stock_threshold", "is_active", "created_at", "updated_at"}
	batchCols  = []string{"medication_id", "code", "quantity", "ingested_at", "expires_at"}
)

func newMock(t *testing.T) (*testutil.MockDB, *database.DB) {
	t.Helper()
	m := testutil.NewMockDB(t)
	t.Cleanup(func() {
		m.ExpectationsWereMet(t)
		m.Close()
	})
	return m, m.Database()
}

func TestMedicationRepository_Create(t *testing.T) {
	mock, db := newMock(t)
	repo := repository.NewMedicationRepository(db)

	med := &domain.Medication{
		ID:                "med-1",
		Name:              "Paracetamol",
		SupplierID:        "sup-1",
		LowStockThreshold: 10,
		IsActive:          true,
		Batches: []domain.Batch{
			{Code: "A", Quantity: 10, IngestedAt: ts, ExpiresAt: ts.AddDate(1, 0, 0)},
			{Code: "B", Quantity: 20, IngestedAt: ts, ExpiresAt: ts.AddDate(1, 0, 0)},
		},
	}
	med.RecomputeStock()

	mock.Mock.ExpectQuery(`INSERT INTO medications`).
		WithArgs("med-1", "Paracetamol", "sup-1", 30, 10, true).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(ts, ts))
	mock.Mock.ExpectExec(`INSERT INTO medication_batches`).
		WithArgs("med-1", 0, "A", 10, testutil.AnyTime{}, testutil.AnyTime{}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.Mock.ExpectExec(`INSERT INTO medication_batches`).
		WithArgs("med-1", 1, "B", 20, testutil.AnyTime{}, testutil.AnyTime{}).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), med))
	assert.Equal(t, ts, med.CreatedAt)
}

func TestMedicationRepository_CreateGeneratesID(t *testing.T) {
	mock, db := newMock(t)
	repo := repository.NewMedicationRepository(db)

	mock.Mock.ExpectQuery(`INSERT INTO medications`).
		WithArgs(testutil.AnyUUID{}, "Ibuprofeno", "sup-1", 0, 10, true).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(ts, ts))

	med := &domain.Medication{Name: "Ibuprofeno", SupplierID: "sup-1", LowStockThreshold: 10, IsActive: true}
	require.NoError(t, repo.Create(context.Background(), med))
	assert.NotEmpty(t, med.ID)
}

func TestMedicationRepository_CreateUnknownSupplier(t *testing.T) {
	mock, db := newMock(t)
	repo := repository.NewMedicationRepository(db)

	mock.Mock.ExpectQuery(`INSERT INTO medications`).
		WillReturnError(&pq.Error{Code: "23503", Constraint: "medications_supplier_id_fkey"})

	err := repo.Create(context.Background(), &domain.Medication{ID: "med-1", Name: "X", SupplierID: "nope"})

	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.Contains(t, err.Error(), "supplier")
}

func TestMedicationRepository_GetForUpdate(t *testing.T) {
	mock, db := newMock(t)
	repo := repository.NewMedicationRepository(db)

	mock.Mock.ExpectQuery(`SELECT .* FROM medications m LEFT JOIN suppliers s ON s.id = m.supplier_id WHERE m.id = \$1 FOR UPDATE OF m`).
		WithArgs("med-1").
		WillReturnRows(sqlmock.NewRows(medColumns).AddRow("med-1", "Paracetamol", "sup-1", "Lab Chile", 12, 10, true, ts, ts))
	mock.Mock.ExpectQuery(`SELECT medication_id, code, quantity, ingested_at, expires_at FROM medication_batches WHERE medication_id = ANY\(\$1\) ORDER BY medication_id, position`).
		WillReturnRows(sqlmock.NewRows(batchCols).
			AddRow("med-1", "Z", 5, ts, ts.AddDate(1, 0, 0)).
			AddRow("med-1", "A", 7, ts, ts.AddDate(1, 0, 0)))

	med, err := repo.GetForUpdate(context.Background(), "med-1")

	require.NoError(t, err)
	require.NotNil(t, med.SupplierName)
	assert.Equal(t, "Lab Chile", *med.SupplierName)
	require.Len(t, med.Batches, 2)
	assert.Equal(t, "Z", med.Batches[0].Code, "stored order is kept")
	assert.Equal(t, "A", med.Batches[1].Code)
}

func TestMedicationRepository_GetForUpdateDeadlock(t *testing.T) {
	mock, db := newMock(t)
	repo := repository.NewMedicationRepository(db)

	mock.Mock.ExpectQuery(`FOR UPDATE OF m`).
		WithArgs("med-1").
		WillReturnError(&pq.Error{Code: "40P01"})

	_, err := repo.GetForUpdate(context.Background(), "med-1")

	require.Error(t, err)
	assert.True(t, errors.IsConflict(err), "got %v", err)
}

func TestMedicationRepository_GetByIDNotFound(t *testing.T) {
	mock, db := newMock(t)
	repo := repository.NewMedicationRepository(db)

	mock.Mock.ExpectQuery(`FROM medications m`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(medColumns))

	med, err := repo.GetByID(context.Background(), "missing")

	assert.Nil(t, med)
	assert.True(t, errors.IsNotFound(err))
}

func TestMedicationRepository_UpdateReplacesBatches(t *testing.T) {
	mock, db := newMock(t)
	repo := repository.NewMedicationRepository(db)

	med := &domain.Medication{
		ID: "med-1", Name: "Paracetamol", SupplierID: "sup-1", StockTotal: 4, LowStockThreshold: 10, IsActive: true,
		Batches: []domain.Batch{{Code: "A", Quantity: 4, IngestedAt: ts, ExpiresAt: ts.AddDate(1, 0, 0)}},
	}

	mock.ExpectTx(func() {
		mock.Mock.ExpectQuery(`UPDATE medications SET`).
			WithArgs("med-1", "Paracetamol", "sup-1", 4, 10, true).
			WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(ts))
		mock.Mock.ExpectExec(`DELETE FROM medication_batches WHERE medication_id = \$1`).
			WithArgs("med-1").
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.Mock.ExpectExec(`INSERT INTO medication_batches`).
			WithArgs("med-1", 0, "A", 4, testutil.AnyTime{}, testutil.AnyTime{}).
			WillReturnResult(sqlmock.NewResult(0, 1))
	})

	err := db.WithinTx(context.Background(), func(ctx context.Context) error {
		return repo.Update(ctx, med)
	})
	require.NoError(t, err)
}

func TestMedicationRepository_NegativeQuantityRejectedByStore(t *testing.T) {
	mock, db := newMock(t)
	repo := repository.NewMedicationRepository(db)

	mock.Mock.ExpectBegin()
	mock.Mock.ExpectQuery(`UPDATE medications SET`).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(ts))
	mock.Mock.ExpectExec(`DELETE FROM medication_batches`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.Mock.ExpectExec(`INSERT INTO medication_batches`).
		WillReturnError(&pq.Error{Code: "23514", Constraint: "medication_batches_quantity_check"})
	mock.Mock.ExpectRollback()

	err := db.WithinTx(context.Background(), func(ctx context.Context) error {
		return repo.Update(ctx, &domain.Medication{ID: "med-1", Batches: []domain.Batch{{Code: "A", Quantity: -1}}})
	})

	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestMedicationRepository_ListExpiring(t *testing.T) {
	mock, db := newMock(t)
	repo := repository.NewMedicationRepository(db)
	until := ts.AddDate(0, 0, 30)

	mock.Mock.ExpectQuery(`WHERE m.is_active AND EXISTS .* b.quantity > 0 AND b.expires_at BETWEEN \$1 AND \$2`).
		WithArgs(ts, until).
		WillReturnRows(sqlmock.NewRows(medColumns))

	meds, err := repo.ListExpiring(context.Background(), ts, until)

	require.NoError(t, err)
	assert.Empty(t, meds)
}

func TestMovementRepository_Create(t *testing.T) {
	mock, db := newMock(t)
	repo := repository.NewMovementRepository(db)
	code := "A"

	mock.Mock.ExpectQuery(`INSERT INTO stock_movements`).
		WithArgs(testutil.AnyUUID{}, "OUTBOUND", "med-1", "A", 3, "u-1", ts, nil).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(ts))

	m := &domain.Movement{Type: domain.MovementOutbound, MedicationID: "med-1", BatchCode: &code, Quantity: 3, ActorID: "u-1", OccurredAt: ts}
	require.NoError(t, repo.Create(context.Background(), m))
	assert.NotEmpty(t, m.ID)
}

func TestMovementRepository_List(t *testing.T) {
	mock, db := newMock(t)
	repo := repository.NewMovementRepository(db)

	mock.Mock.ExpectQuery(`SELECT COUNT\(\*\) FROM stock_movements sm WHERE sm.medication_id = \$1 AND sm.type = \$2`).
		WithArgs("med-1", "OUTBOUND").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.Mock.ExpectQuery(`LEFT JOIN user_cache uc ON uc.user_id = sm.actor_id WHERE sm.medication_id = \$1 AND sm.type = \$2 ORDER BY sm.occurred_at DESC, sm.created_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("med-1", "OUTBOUND", 2, 2).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "type", "medication_id", "batch_code", "quantity", "actor_id", "occurred_at", "notes", "created_at",
			"medication_name", "actor_name", "actor_role",
		}).AddRow("mv-1", "OUTBOUND", "med-1", "A", 3, "u-1", ts, nil, ts, "Paracetamol", "Ana", "ADMIN"))

	views, total, err := repo.List(context.Background(), domain.MovementFilter{
		MedicationID: "med-1", Type: domain.MovementOutbound, Page: 2, PerPage: 2,
	})

	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, views, 1)
	assert.Equal(t, "Paracetamol", views[0].MedicationName)
	assert.Equal(t, "Ana", *views[0].ActorName)
	assert.Equal(t, domain.MovementOutbound, views[0].Type)
	assert.Nil(t, views[0].Notes)
}

func TestMovementRepository_ListForExportCapsRows(t *testing.T) {
	mock, db := newMock(t)
	repo := repository.NewMovementRepository(db)

	mock.Mock.ExpectQuery(`FROM stock_movements sm .* ORDER BY sm.occurred_at DESC, sm.created_at DESC LIMIT \$1$`).
		WithArgs(repository.ExportLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	views, err := repo.ListForExport(context.Background(), domain.MovementFilter{})

	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestRequestRepository_UpdateStatusNotFound(t *testing.T) {
	mock, db := newMock(t)
	repo := repository.NewRequestRepository(db)

	mock.Mock.ExpectQuery(`UPDATE stock_requests SET status = \$2`).
		WithArgs("req-1", "APPROVED").
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}))

	err := repo.UpdateStatus(context.Background(), &domain.Request{ID: "req-1", Status: domain.StatusApproved})

	assert.True(t, errors.IsNotFound(err))
}

func TestRequestRepository_ListFilters(t *testing.T) {
	mock, db := newMock(t)
	repo := repository.NewRequestRepository(db)

	mock.Mock.ExpectQuery(`FROM stock_requests WHERE requester_id = \$1 AND status = \$2 ORDER BY created_at DESC`).
		WithArgs("u-1", "PENDING").
		WillReturnRows(sqlmock.NewRows([]string{"id", "requester_id", "status", "notes", "created_at", "updated_at"}).
			AddRow("req-1", "u-1", "PENDING", nil, ts, ts))
	mock.Mock.ExpectQuery(`FROM stock_request_items WHERE request_id = ANY\(\$1\) ORDER BY request_id, position`).
		WillReturnRows(sqlmock.NewRows([]string{"request_id", "medication_id", "quantity"}).
			AddRow("req-1", "med-1", 2).
			AddRow("req-1", "med-2", 1))

	reqs, err := repo.List(context.Background(), domain.RequestFilter{RequesterID: "u-1", Status: domain.StatusPending})

	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, []domain.RequestItem{{MedicationID: "med-1", Quantity: 2}, {MedicationID: "med-2", Quantity: 1}}, reqs[0].Items)
}

func TestDeliveryRepository_SecondDeliveryConflicts(t *testing.T) {
	mock, db := newMock(t)
	repo := repository.NewDeliveryRepository(db)

	mock.Mock.ExpectExec(`INSERT INTO deliveries`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "deliveries_request_id_key"})

	err := repo.Create(context.Background(), &domain.Delivery{RequestID: "req-1", DeliveredBy: "u-1", DeliveredAt: ts})

	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
	assert.Contains(t, err.Error(), "request already has a delivery")
}

func TestDeliveryRepository_GetByRequestID(t *testing.T) {
	mock, db := newMock(t)
	repo := repository.NewDeliveryRepository(db)

	mock.Mock.ExpectQuery(`FROM deliveries WHERE request_id = \$1`).
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "request_id", "delivered_by", "delivered_at", "idempotency_key"}).
			AddRow("d-1", "req-1", "u-1", ts, "key-1"))
	mock.Mock.ExpectQuery(`FROM delivery_details WHERE delivery_id = \$1 ORDER BY position`).
		WithArgs("d-1").
		WillReturnRows(sqlmock.NewRows([]string{"medication_id", "batch_code", "quantity"}).AddRow("med-1", "A", 3))

	d, err := repo.GetByRequestID(context.Background(), "req-1")

	require.NoError(t, err)
	require.NotNil(t, d.IdempotencyKey)
	assert.Equal(t, "key-1", *d.IdempotencyKey)
	assert.Equal(t, []domain.DeliveryDetail{{MedicationID: "med-1", BatchCode: "A", Quantity: 3}}, d.Details)
}

func TestUserCacheRepository(t *testing.T) {
	mock, db := newMock(t)
	repo := repository.NewUserCacheRepository(db)
	ctx := context.Background()

	mock.Mock.ExpectExec(`INSERT INTO user_cache .* ON CONFLICT \(user_id\)`).
		WithArgs("u-1", "Ana", "ana@farmacia.cl", "TENS").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.Mock.ExpectQuery(`SELECT user_id, name, email, role FROM user_cache WHERE user_id = \$1`).
		WithArgs("u-2").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "name", "email", "role"}))

	require.NoError(t, repo.Set(ctx, &actor.UserCache{UserID: "u-1", Name: "Ana", Email: "ana@farmacia.cl", Role: "TENS"}))

	_, err := repo.Get(ctx, "u-2")
	assert.True(t, errors.IsNotFound(err))
}

func TestSupplierRepository_GetByIDNotFound(t *testing.T) {
	mock, db := newMock(t)
	repo := repository.NewSupplierRepository(db)

	mock.Mock.ExpectQuery(`FROM suppliers WHERE id = \$1`).
		WithArgs("sup-x").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))

	_, err := repo.GetByID(context.Background(), "sup-x")
	assert.True(t, errors.IsNotFound(err))
}

func TestSupplierRepository_Upsert(t *testing.T) {
	mock, db := newMock(t)
	repo := repository.NewSupplierRepository(db)

	mock.Mock.ExpectQuery(`INSERT INTO suppliers \(id, name\) VALUES \(\$1, \$2\) ON CONFLICT \(id\) DO UPDATE SET name = EXCLUDED.name`).
		WithArgs("sup-1", "Laboratorio Chile").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(ts))

	s := &domain.Supplier{ID: "sup-1", Name: "Laboratorio Chile"}
	require.NoError(t, repo.Upsert(context.Background(), s))
	assert.Equal(t, ts, s.CreatedAt)
}

func TestSupplierRepository_UpsertDuplicateName(t *testing.T) {
	mock, db := newMock(t)
	repo := repository.NewSupplierRepository(db)

	mock.Mock.ExpectQuery(`INSERT INTO suppliers`).
		WithArgs("sup-2", "Laboratorio Chile").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "suppliers_name_key"})

	err := repo.Upsert(context.Background(), &domain.Supplier{ID: "sup-2", Name: "Laboratorio Chile"})
	assert.True(t, errors.IsConflict(err), "got %v", err)
}
