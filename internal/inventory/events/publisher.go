package events

import (
	"context"

	"github.com/farmacia/farmacia-backend/internal/inventory/domain"
	"github.com/farmacia/farmacia-backend/pkg/logger"
	"github.com/farmacia/farmacia-backend/pkg/messaging"
)

// Sink is where events end up. *messaging.Publisher is the production sink.
type Sink interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
}

// InventoryEventPublisher publishes inventory-related events. Publishing is
// best effort: failures are logged and never fail the operation that
// produced the event. A nil publisher drops everything.
type InventoryEventPublisher struct {
	sink   Sink
	logger *logger.Logger
}

// NewInventoryEventPublisher creates a publisher on the inventory exchange.
func NewInventoryEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*InventoryEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeInventoryEvents, "pharmacy-service", log)
	if err != nil {
		return nil, err
	}

	return NewWithSink(publisher, log), nil
}

// NewWithSink creates a publisher writing to an arbitrary sink.
func NewWithSink(sink Sink, log *logger.Logger) *InventoryEventPublisher {
	return &InventoryEventPublisher{sink: sink, logger: log}
}

// MovementRecorded publishes one appended movement.
func (p *InventoryEventPublisher) MovementRecorded(ctx context.Context, m *domain.Movement) {
	if p == nil {
		return
	}

	p.publish(ctx, messaging.EventMovementRecorded, messaging.MovementRecordedEvent{
		MovementID:   m.ID,
		Type:         string(m.Type),
		MedicationID: m.MedicationID,
		BatchCode:    m.BatchCode,
		Quantity:     m.Quantity,
		ActorID:      m.ActorID,
		OccurredAt:   m.OccurredAt,
	}, "movement_id", m.ID)
}

// MedicationCreated publishes a new medication.
func (p *InventoryEventPublisher) MedicationCreated(ctx context.Context, m *domain.Medication) {
	if p == nil {
		return
	}

	p.publish(ctx, messaging.EventMedicationCreated, messaging.MedicationCreatedEvent{
		MedicationID: m.ID,
		Name:         m.Name,
		SupplierID:   m.SupplierID,
		StockTotal:   m.StockTotal,
	}, "medication_id", m.ID)
}

// MedicationDeactivated publishes a deactivation and the stock it wrote off.
func (p *InventoryEventPublisher) MedicationDeactivated(ctx context.Context, m *domain.Medication, removed int, actorID string) {
	if p == nil {
		return
	}

	p.publish(ctx, messaging.EventMedicationDeactivated, messaging.MedicationDeactivatedEvent{
		MedicationID:  m.ID,
		RemovedStock:  removed,
		DeactivatedBy: actorID,
	}, "medication_id", m.ID)
}

// RequestCreated publishes a new request.
func (p *InventoryEventPublisher) RequestCreated(ctx context.Context, r *domain.Request) {
	if p == nil {
		return
	}

	p.publish(ctx, messaging.EventRequestCreated, messaging.RequestCreatedEvent{
		RequestID:   r.ID,
		RequesterID: r.RequesterID,
		ItemCount:   len(r.Items),
	}, "request_id", r.ID)
}

// RequestStatusChanged publishes a workflow transition.
func (p *InventoryEventPublisher) RequestStatusChanged(ctx context.Context, r *domain.Request, from domain.RequestStatus, actorID string) {
	if p == nil {
		return
	}

	p.publish(ctx, messaging.EventRequestStatusChanged, messaging.RequestStatusChangedEvent{
		RequestID: r.ID,
		OldStatus: string(from),
		NewStatus: string(r.Status),
		ChangedBy: actorID,
	}, "request_id", r.ID)
}

// RequestDelivered publishes a completed delivery.
func (p *InventoryEventPublisher) RequestDelivered(ctx context.Context, d *domain.Delivery) {
	if p == nil {
		return
	}

	details := make([]messaging.DeliveredItemPayload, len(d.Details))
	for i, detail := range d.Details {
		details[i] = messaging.DeliveredItemPayload{
			MedicationID: detail.MedicationID,
			BatchCode:    detail.BatchCode,
			Quantity:     detail.Quantity,
		}
	}

	p.publish(ctx, messaging.EventRequestDelivered, messaging.RequestDeliveredEvent{
		RequestID:   d.RequestID,
		DeliveryID:  d.ID,
		DeliveredBy: d.DeliveredBy,
		Details:     details,
	}, "delivery_id", d.ID)
}

func (p *InventoryEventPublisher) publish(ctx context.Context, eventType string, data interface{}, idField, id string) {
	if err := p.sink.Publish(ctx, eventType, data); err != nil {
		p.logger.WithError(err).Error().Str(idField, id).Str("event_type", eventType).Msg("failed to publish event")
	}
}
