package database

import (
	stderrors "errors"
	"strings"

	"github.com/farmacia/farmacia-backend/pkg/errors"
	"github.com/lib/pq"
)

// MapPQError converts a PostgreSQL error to an AppError.
// Returns nil if err is not a pq.Error or has no specific mapping.
func MapPQError(err error) *errors.AppError {
	var pqErr *pq.Error
	if !stderrors.As(err, &pqErr) {
		return nil
	}

	switch pqErr.Code {
	case "23514": // check_violation
		return mapCheckConstraint(pqErr)

	case "23505": // unique_violation
		return errors.Conflict(uniqueMessage(pqErr))

	case "23503": // foreign_key_violation
		return mapForeignKey(pqErr)

	case "23502": // not_null_violation
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.ValidationField(col, "must not be empty")

	case "22P02": // invalid_text_representation, e.g. a malformed uuid
		return errors.BadRequest("invalid identifier")

	case "40P01", "40001": // deadlock_detected, serialization_failure
		return errors.Conflict("concurrent update, retry")

	default:
		return nil
	}
}

func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	c := pqErr.Constraint

	switch {
	case strings.Contains(c, "quantity"):
		return errors.ValidationField("quantity", "must not be negative")
	case strings.Contains(c, "expiry"):
		return errors.ValidationField("expires_at", "must be after ingested_at")
	case strings.Contains(c, "threshold"):
		return errors.ValidationField("low_stock_threshold", "must not be negative")
	case strings.Contains(c, "status"):
		return errors.ValidationField("status", "must be one of: PENDING, APPROVED, REJECTED, DELIVERED")
	case strings.Contains(c, "type"):
		return errors.ValidationField("type", "must be one of: INBOUND, OUTBOUND")
	default:
		return errors.BadRequest("data validation failed: " + c)
	}
}

func uniqueMessage(pqErr *pq.Error) string {
	c := pqErr.Constraint

	switch {
	case strings.Contains(c, "deliveries_request"):
		return "request already has a delivery"
	case strings.Contains(c, "batches"):
		return "batch code already exists for this medication"
	case strings.Contains(c, "suppliers_name"):
		return "supplier name already exists"
	default:
		return "a record with these values already exists"
	}
}

func mapForeignKey(pqErr *pq.Error) *errors.AppError {
	c := pqErr.Constraint

	switch {
	case strings.Contains(c, "supplier"):
		return errors.NotFound("supplier")
	case strings.Contains(c, "medication"):
		return errors.NotFound("medication")
	case strings.Contains(c, "request"):
		return errors.NotFound("request")
	default:
		return errors.BadRequest("referenced record does not exist")
	}
}
