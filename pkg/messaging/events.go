package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// User directory events, consumed to keep the local user cache fresh.
	EventUserCreated     = "user.created"
	EventUserUpdated     = "user.updated"
	EventUserDeleted     = "user.deleted"
	EventUserRoleChanged = "user.role.changed"

	// Supplier catalogue events, consumed to populate the suppliers table.
	EventSupplierCreated = "supplier.created"
	EventSupplierUpdated = "supplier.updated"

	// Inventory events published by the pharmacy service.
	EventMovementRecorded      = "inventory.movement.recorded"
	EventMedicationCreated     = "inventory.medication.created"
	EventMedicationDeactivated = "inventory.medication.deactivated"
	EventRequestCreated        = "inventory.request.created"
	EventRequestStatusChanged  = "inventory.request.status_changed"
	EventRequestDelivered      = "inventory.request.delivered"
)

// Exchange names
const (
	ExchangeUserEvents      = "user.events"
	ExchangeSupplierEvents  = "supplier.events"
	ExchangeInventoryEvents = "inventory.events"
)

// Event is the envelope shared by every message on the bus.
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          raw,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// User events

type UserCreatedEvent struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	RoleName string `json:"role_name"`
}

type UserUpdatedEvent struct {
	UserID string         `json:"user_id"`
	Fields map[string]any `json:"fields"`
}

type UserDeletedEvent struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

type UserRoleChangedEvent struct {
	UserID      string `json:"user_id"`
	OldRoleName string `json:"old_role_name"`
	NewRoleName string `json:"new_role_name"`
}

// Supplier events

// SupplierEvent carries the full supplier record for created and updated.
type SupplierEvent struct {
	SupplierID string `json:"supplier_id"`
	Name       string `json:"name"`
}

// Inventory events

// MovementRecordedEvent mirrors one appended ledger entry.
type MovementRecordedEvent struct {
	MovementID   string    `json:"movement_id"`
	Type         string    `json:"type"`
	MedicationID string    `json:"medication_id"`
	BatchCode    *string   `json:"batch_code,omitempty"`
	Quantity     int       `json:"quantity"`
	ActorID      string    `json:"actor_id"`
	OccurredAt   time.Time `json:"occurred_at"`
}

type MedicationCreatedEvent struct {
	MedicationID string `json:"medication_id"`
	Name         string `json:"name"`
	SupplierID   string `json:"supplier_id"`
	StockTotal   int    `json:"stock_total"`
}

type MedicationDeactivatedEvent struct {
	MedicationID  string `json:"medication_id"`
	RemovedStock  int    `json:"removed_stock"`
	DeactivatedBy string `json:"deactivated_by"`
}

type RequestCreatedEvent struct {
	RequestID   string `json:"request_id"`
	RequesterID string `json:"requester_id"`
	ItemCount   int    `json:"item_count"`
}

type RequestStatusChangedEvent struct {
	RequestID string `json:"request_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
	ChangedBy string `json:"changed_by"`
}

type RequestDeliveredEvent struct {
	RequestID   string                 `json:"request_id"`
	DeliveryID  string                 `json:"delivery_id"`
	DeliveredBy string                 `json:"delivered_by"`
	Details     []DeliveredItemPayload `json:"details"`
}

type DeliveredItemPayload struct {
	MedicationID string `json:"medication_id"`
	BatchCode    string `json:"batch_code"`
	Quantity     int    `json:"quantity"`
}
