package domain

import (
	"fmt"
	"time"

	"github.com/farmacia/farmacia-backend/pkg/errors"
)

// RequestStatus is a state of the request workflow.
type RequestStatus string

const (
	StatusPending   RequestStatus = "PENDING"
	StatusApproved  RequestStatus = "APPROVED"
	StatusRejected  RequestStatus = "REJECTED"
	StatusDelivered RequestStatus = "DELIVERED"
)

var transitions = map[RequestStatus][]RequestStatus{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusDelivered},
}

func (s RequestStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusDelivered:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s RequestStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// CanTransitionTo reports whether the workflow allows s -> next.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RequestItem asks for a quantity of one medication.
type RequestItem struct {
	MedicationID string `json:"medication_id" db:"medication_id"`
	Quantity     int    `json:"quantity" db:"quantity"`
}

// Request is a requester's ask for stock.
type Request struct {
	ID          string        `json:"id" db:"id"`
	RequesterID string        `json:"requester_id" db:"requester_id"`
	Items       []RequestItem `json:"items" db:"-"`
	Status      RequestStatus `json:"status" db:"status"`
	Notes       *string       `json:"notes,omitempty" db:"notes"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`
}

// NewRequest validates items and returns a PENDING request.
func NewRequest(requesterID string, items []RequestItem, notes *string) (*Request, error) {
	details := map[string]string{}
	if requesterID == "" {
		details["requester_id"] = "is required"
	}
	if len(items) == 0 {
		details["items"] = "must contain at least 1 item"
	}
	for i, item := range items {
		if item.MedicationID == "" {
			details[fmt.Sprintf("items[%d].medication_id", i)] = "is required"
		}
		if item.Quantity <= 0 {
			details[fmt.Sprintf("items[%d].quantity", i)] = "must be greater than 0"
		}
	}
	if len(details) > 0 {
		return nil, errors.Validation(details)
	}

	return &Request{
		RequesterID: requesterID,
		Items:       append([]RequestItem(nil), items...),
		Status:      StatusPending,
		Notes:       notes,
	}, nil
}

// TransitionTo moves the request to next if the workflow allows it.
func (r *Request) TransitionTo(next RequestStatus) error {
	if !r.Status.CanTransitionTo(next) {
		return errors.ValidationField("status", fmt.Sprintf("cannot change from %s to %s", r.Status, next))
	}
	r.Status = next
	return nil
}

// Decide applies an approver's decision. Only APPROVED and REJECTED are
// decisions; DELIVERED is reached through fulfillment alone.
func (r *Request) Decide(next RequestStatus) error {
	if next != StatusApproved && next != StatusRejected {
		return errors.ValidationField("status", "must be one of: APPROVED, REJECTED")
	}
	return r.TransitionTo(next)
}

// RequestFilter narrows request listings.
type RequestFilter struct {
	RequesterID string
	Status      RequestStatus
}

// DeliveryDetail records which batch served one request item.
type DeliveryDetail struct {
	MedicationID string `json:"medication_id" db:"medication_id"`
	BatchCode    string `json:"batch_code" db:"batch_code"`
	Quantity     int    `json:"quantity" db:"quantity"`
}

// Delivery is the immutable receipt of a fulfilled request. At most one
// exists per request.
type Delivery struct {
	ID             string           `json:"id" db:"id"`
	RequestID      string           `json:"request_id" db:"request_id"`
	Details        []DeliveryDetail `json:"details" db:"-"`
	DeliveredBy    string           `json:"delivered_by" db:"delivered_by"`
	DeliveredAt    time.Time        `json:"delivered_at" db:"delivered_at"`
	IdempotencyKey *string          `json:"idempotency_key,omitempty" db:"idempotency_key"`
}

// MatchesKey reports whether the delivery was produced with key.
func (d *Delivery) MatchesKey(key string) bool {
	return key != "" && d.IdempotencyKey != nil && *d.IdempotencyKey == key
}
