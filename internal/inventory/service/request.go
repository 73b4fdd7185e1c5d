package service

import (
	"context"

	"github.com/farmacia/farmacia-backend/internal/inventory/domain"
	"github.com/farmacia/farmacia-backend/pkg/actor"
	"github.com/farmacia/farmacia-backend/pkg/errors"
)

// CreateRequest opens a PENDING request on behalf of the actor. Medication
// references are checked at fulfillment, not here.
func (s *InventoryService) CreateRequest(ctx context.Context, a *actor.Actor, items []domain.RequestItem, notes *string) (*domain.Request, error) {
	if err := requireActor(a); err != nil {
		return nil, err
	}

	req, err := domain.NewRequest(a.ID, items, notes)
	if err != nil {
		return nil, err
	}

	if err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		return s.requests.Create(ctx, req)
	}); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("request_id", req.ID).
		Str("user_id", a.ID).
		Int("items", len(req.Items)).
		Msg("request created")

	s.publisher.RequestCreated(ctx, req)

	return req, nil
}

// SetRequestStatus approves or rejects a PENDING request. It never touches
// stock.
func (s *InventoryService) SetRequestStatus(ctx context.Context, a *actor.Actor, id string, status domain.RequestStatus) (*domain.Request, error) {
	if err := requireActor(a); err != nil {
		return nil, err
	}
	if status != domain.StatusApproved && status != domain.StatusRejected {
		return nil, errors.ValidationField("status", "must be one of: APPROVED, REJECTED")
	}

	var req *domain.Request
	var from domain.RequestStatus

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		req, err = s.requests.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		from = req.Status
		if err := req.Decide(status); err != nil {
			return err
		}
		return s.requests.UpdateStatus(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("request_id", req.ID).
		Str("from", string(from)).
		Str("to", string(req.Status)).
		Str("user_id", a.ID).
		Msg("request status changed")

	s.publisher.RequestStatusChanged(ctx, req, from, a.ID)

	return req, nil
}

// GetRequest gets a request with its items
func (s *InventoryService) GetRequest(ctx context.Context, id string) (*domain.Request, error) {
	return s.requests.GetByID(ctx, id)
}

// ListRequests lists requests, newest first.
func (s *InventoryService) ListRequests(ctx context.Context, filter domain.RequestFilter) ([]*domain.Request, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, errors.ValidationField("status", "must be one of: PENDING, APPROVED, REJECTED, DELIVERED")
	}
	return s.requests.List(ctx, filter)
}
