package domain

import (
	"time"

	"github.com/farmacia/farmacia-backend/pkg/errors"
)

// MovementType is the direction of a stock change.
type MovementType string

const (
	MovementInbound  MovementType = "INBOUND"
	MovementOutbound MovementType = "OUTBOUND"
)

func (t MovementType) IsValid() bool {
	return t == MovementInbound || t == MovementOutbound
}

// Movement is one immutable ledger entry. Quantity is always a positive
// magnitude; the direction lives in Type.
type Movement struct {
	ID           string       `json:"id" db:"id"`
	Type         MovementType `json:"type" db:"type"`
	MedicationID string       `json:"medication_id" db:"medication_id"`
	BatchCode    *string      `json:"batch_code,omitempty" db:"batch_code"`
	Quantity     int          `json:"quantity" db:"quantity"`
	ActorID      string       `json:"actor_id" db:"actor_id"`
	OccurredAt   time.Time    `json:"occurred_at" db:"occurred_at"`
	Notes        *string      `json:"notes,omitempty" db:"notes"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
}

// MovementView is a movement joined with display names for listing.
type MovementView struct {
	Movement
	MedicationName string  `json:"medication_name" db:"medication_name"`
	ActorName      *string `json:"actor_name,omitempty" db:"actor_name"`
	ActorRole      *string `json:"actor_role,omitempty" db:"actor_role"`
}

// NewMovement validates a ledger entry. A nil occurredAt means now; a
// timestamp after now is rejected.
func NewMovement(typ MovementType, medicationID string, batchCode *string, quantity int, actorID string, occurredAt *time.Time, now time.Time) (*Movement, error) {
	details := map[string]string{}
	if !typ.IsValid() {
		details["type"] = "must be one of: INBOUND, OUTBOUND"
	}
	if medicationID == "" {
		details["medication_id"] = "is required"
	}
	if quantity <= 0 {
		details["quantity"] = "must be greater than 0"
	}
	if actorID == "" {
		details["actor_id"] = "is required"
	}

	at := now
	if occurredAt != nil {
		if occurredAt.After(now) {
			details["occurred_at"] = "must not be in the future"
		}
		at = *occurredAt
	}

	if len(details) > 0 {
		return nil, errors.Validation(details)
	}

	return &Movement{
		Type:         typ,
		MedicationID: medicationID,
		BatchCode:    batchCode,
		Quantity:     quantity,
		ActorID:      actorID,
		OccurredAt:   at,
	}, nil
}

// MovementForDelta maps a signed quantity change to a movement type and
// magnitude. ok is false for a zero delta, which records nothing.
func MovementForDelta(delta int) (typ MovementType, quantity int, ok bool) {
	switch {
	case delta > 0:
		return MovementInbound, delta, true
	case delta < 0:
		return MovementOutbound, -delta, true
	default:
		return "", 0, false
	}
}

// MovementFilter narrows movement listings.
type MovementFilter struct {
	MedicationID string
	Type         MovementType
	From         *time.Time
	To           *time.Time
	Page         int
	PerPage      int
}

const (
	DefaultPerPage = 50
	MaxPerPage     = 500
)

// Normalize applies paging defaults and bounds.
func (f *MovementFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = DefaultPerPage
	}
	if f.PerPage > MaxPerPage {
		f.PerPage = MaxPerPage
	}
}

// Offset is the row offset of the current page.
func (f MovementFilter) Offset() int {
	return (f.Page - 1) * f.PerPage
}
