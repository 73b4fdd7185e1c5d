package consumers

import (
	"context"
	"strings"

	"github.com/farmacia/farmacia-backend/internal/inventory/domain"
	"github.com/farmacia/farmacia-backend/pkg/errors"
	"github.com/farmacia/farmacia-backend/pkg/logger"
	"github.com/farmacia/farmacia-backend/pkg/messaging"
)

// QueueSupplierEvents is the durable queue this service reads supplier events from.
const QueueSupplierEvents = "pharmacy-service.supplier-events"

// SupplierStore is the storage behind the local supplier catalogue.
type SupplierStore interface {
	Upsert(ctx context.Context, s *domain.Supplier) error
}

// SupplierEventConsumer fills the suppliers table that medications point at.
type SupplierEventConsumer struct {
	consumer *messaging.Consumer
	store    SupplierStore
	logger   *logger.Logger
}

// NewSupplierEventConsumer declares the queue, binds it to supplier events
// and registers the handlers.
func NewSupplierEventConsumer(rmq *messaging.RabbitMQ, store SupplierStore, log *logger.Logger) (*SupplierEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, QueueSupplierEvents, log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeSupplierEvents, "supplier.#"); err != nil {
		return nil, err
	}

	c := newSupplierEventConsumer(store, log)
	c.consumer = consumer
	c.register(consumer)

	return c, nil
}

func newSupplierEventConsumer(store SupplierStore, log *logger.Logger) *SupplierEventConsumer {
	return &SupplierEventConsumer{
		store:  store,
		logger: log.WithComponent("supplier-consumer"),
	}
}

func (c *SupplierEventConsumer) register(consumer *messaging.Consumer) {
	consumer.RegisterHandler(messaging.EventSupplierCreated, c.handleSupplier)
	consumer.RegisterHandler(messaging.EventSupplierUpdated, c.handleSupplier)
}

// Start starts consuming messages
func (c *SupplierEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

// handleSupplier upserts on both created and updated, so an update that
// overtakes its create still leaves a usable row.
func (c *SupplierEventConsumer) handleSupplier(ctx context.Context, event *messaging.Event) error {
	var data messaging.SupplierEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	name := strings.TrimSpace(data.Name)
	if data.SupplierID == "" || name == "" {
		// Redelivery cannot fix a malformed payload.
		c.logger.Warn().
			Str("event_id", event.ID).
			Str("supplier_id", data.SupplierID).
			Msg("supplier event without id or name dropped")
		return nil
	}

	c.logger.Info().
		Str("supplier_id", data.SupplierID).
		Str("event_type", event.Type).
		Msg("syncing supplier")

	err := c.store.Upsert(ctx, &domain.Supplier{ID: data.SupplierID, Name: name})
	if errors.Is(err, errors.ErrBadRequest) {
		c.logger.Warn().Err(err).Str("supplier_id", data.SupplierID).Msg("supplier rejected by store")
		return nil
	}
	return err
}
