package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/farmacia/farmacia-backend/internal/inventory/domain"
	"github.com/farmacia/farmacia-backend/pkg/actor"
	"github.com/farmacia/farmacia-backend/pkg/clock"
	"github.com/farmacia/farmacia-backend/pkg/errors"
	"github.com/farmacia/farmacia-backend/pkg/logger"
)

// MedicationStore persists medications with their batches.
type MedicationStore interface {
	Create(ctx context.Context, m *domain.Medication) error
	GetByID(ctx context.Context, id string) (*domain.Medication, error)
	GetForUpdate(ctx context.Context, id string) (*domain.Medication, error)
	Update(ctx context.Context, m *domain.Medication) error
	List(ctx context.Context, includeInactive bool) ([]*domain.Medication, error)
	ListLowStock(ctx context.Context) ([]*domain.Medication, error)
	ListExpiring(ctx context.Context, from, until time.Time) ([]*domain.Medication, error)
}

// SupplierStore resolves supplier references.
type SupplierStore interface {
	GetByID(ctx context.Context, id string) (*domain.Supplier, error)
}

// MovementStore is the append-only movement log.
type MovementStore interface {
	Create(ctx context.Context, m *domain.Movement) error
	List(ctx context.Context, filter domain.MovementFilter) ([]domain.MovementView, int, error)
	ListForExport(ctx context.Context, filter domain.MovementFilter) ([]domain.MovementView, error)
}

// RequestStore persists stock requests.
type RequestStore interface {
	Create(ctx context.Context, r *domain.Request) error
	GetByID(ctx context.Context, id string) (*domain.Request, error)
	GetForUpdate(ctx context.Context, id string) (*domain.Request, error)
	UpdateStatus(ctx context.Context, r *domain.Request) error
	List(ctx context.Context, filter domain.RequestFilter) ([]*domain.Request, error)
}

// DeliveryStore persists deliveries.
type DeliveryStore interface {
	Create(ctx context.Context, d *domain.Delivery) error
	GetByID(ctx context.Context, id string) (*domain.Delivery, error)
	GetByRequestID(ctx context.Context, requestID string) (*domain.Delivery, error)
}

// Transactor runs fn in a transaction carried by the context it receives.
// Stores called with that context join the transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventPublisher receives domain events after their transaction committed.
type EventPublisher interface {
	MovementRecorded(ctx context.Context, m *domain.Movement)
	MedicationCreated(ctx context.Context, m *domain.Medication)
	MedicationDeactivated(ctx context.Context, m *domain.Medication, removed int, actorID string)
	RequestCreated(ctx context.Context, r *domain.Request)
	RequestStatusChanged(ctx context.Context, r *domain.Request, from domain.RequestStatus, actorID string)
	RequestDelivered(ctx context.Context, d *domain.Delivery)
}

// FulfillmentGuard provides the per-request lock and the idempotency record
// used by fulfillment. *cache.Cache implements it.
type FulfillmentGuard interface {
	Lock(ctx context.Context, name string) (func(), error)
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Stores bundles the persistence collaborators.
type Stores struct {
	Medications MedicationStore
	Suppliers   SupplierStore
	Movements   MovementStore
	Requests    RequestStore
	Deliveries  DeliveryStore
}

// Options tunes the service. Zero values fall back to sensible defaults.
type Options struct {
	Clock                    clock.Clock
	Publisher                EventPublisher
	Guard                    FulfillmentGuard
	DefaultLowStockThreshold int
	IdempotencyTTL           time.Duration
}

const defaultLowStockThreshold = 10

// InventoryService implements the batch ledger, the request workflow and
// delivery fulfillment on top of the stores.
type InventoryService struct {
	tx          Transactor
	medications MedicationStore
	suppliers   SupplierStore
	requests    RequestStore
	deliveries  DeliveryStore
	movements   *MovementLog

	publisher      EventPublisher
	guard          FulfillmentGuard
	clock          clock.Clock
	threshold      int
	idempotencyTTL time.Duration
	logger         *logger.Logger
}

// NewInventoryService creates a new inventory service
func NewInventoryService(tx Transactor, stores Stores, opts Options, log *logger.Logger) *InventoryService {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Publisher == nil {
		opts.Publisher = noopPublisher{}
	}
	if opts.Guard == nil {
		opts.Guard = noopGuard{}
	}
	if opts.DefaultLowStockThreshold <= 0 {
		opts.DefaultLowStockThreshold = defaultLowStockThreshold
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	if log == nil {
		log = logger.Nop()
	}

	return &InventoryService{
		tx:             tx,
		medications:    stores.Medications,
		suppliers:      stores.Suppliers,
		requests:       stores.Requests,
		deliveries:     stores.Deliveries,
		movements:      NewMovementLog(stores.Movements, opts.Clock),
		publisher:      opts.Publisher,
		guard:          opts.Guard,
		clock:          opts.Clock,
		threshold:      opts.DefaultLowStockThreshold,
		idempotencyTTL: opts.IdempotencyTTL,
		logger:         log.WithComponent("inventory"),
	}
}

// Movements exposes the movement log.
func (s *InventoryService) Movements() *MovementLog {
	return s.movements
}

func (s *InventoryService) publishMovements(ctx context.Context, movements []*domain.Movement) {
	for _, m := range movements {
		s.publisher.MovementRecorded(ctx, m)
	}
}

func requireActor(a *actor.Actor) error {
	if a == nil || a.ID == "" {
		return errors.Unauthorized("actor is required")
	}
	return nil
}

// nestValidation prefixes the detail keys of a validation error, so a batch
// error reads "batches[1].code" instead of "code".
func nestValidation(err error, prefix string) error {
	var appErr *errors.AppError
	if !errors.As(err, &appErr) || !errors.IsValidation(err) {
		return err
	}

	details := make(map[string]string, len(appErr.Details))
	for k, v := range appErr.Details {
		details[fmt.Sprintf("%s.%s", prefix, k)] = v
	}
	return errors.Validation(details)
}

func trimmed(s string) string {
	return strings.TrimSpace(s)
}

type noopPublisher struct{}

func (noopPublisher) MovementRecorded(context.Context, *domain.Movement)     {}
func (noopPublisher) MedicationCreated(context.Context, *domain.Medication) {}
func (noopPublisher) MedicationDeactivated(context.Context, *domain.Medication, int, string) {
}
func (noopPublisher) RequestCreated(context.Context, *domain.Request) {}
func (noopPublisher) RequestStatusChanged(context.Context, *domain.Request, domain.RequestStatus, string) {
}
func (noopPublisher) RequestDelivered(context.Context, *domain.Delivery) {}

type noopGuard struct{}

func (noopGuard) Lock(context.Context, string) (func(), error) { return func() {}, nil }
func (noopGuard) Get(context.Context, string) (string, bool, error) {
	return "", false, nil
}
func (noopGuard) Set(context.Context, string, string, time.Duration) error { return nil }
