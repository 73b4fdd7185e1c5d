package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/farmacia/farmacia-backend/internal/inventory/domain"
	"github.com/farmacia/farmacia-backend/pkg/actor"
	"github.com/farmacia/farmacia-backend/pkg/cache"
	"github.com/farmacia/farmacia-backend/pkg/errors"
)

// FulfillRequest delivers an APPROVED request. Every item is withdrawn from
// a single batch; the first item that cannot be served aborts the whole
// delivery and nothing is changed.
//
// idempotencyKey is optional. Repeating a successful call with the same key
// returns the recorded delivery without touching stock.
func (s *InventoryService) FulfillRequest(ctx context.Context, a *actor.Actor, requestID, idempotencyKey string) (*domain.Delivery, error) {
	if err := requireActor(a); err != nil {
		return nil, err
	}
	log := s.logger.WithUserID(a.ID)

	if d := s.cachedDelivery(ctx, requestID, idempotencyKey); d != nil {
		return d, nil
	}

	release, err := s.guard.Lock(ctx, "fulfill:"+requestID)
	if errors.Is(err, cache.ErrLocked) {
		return nil, errors.Conflict("fulfillment already in progress")
	}
	if err != nil {
		return nil, err
	}
	defer release()

	var delivery *domain.Delivery
	var recorded []*domain.Movement
	replayed := false

	var req *domain.Request
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		req, err = s.requests.GetForUpdate(ctx, requestID)
		if err != nil {
			return err
		}

		switch req.Status {
		case domain.StatusApproved:
		case domain.StatusDelivered:
			existing, err := s.deliveries.GetByRequestID(ctx, req.ID)
			if err != nil {
				return err
			}
			if existing.MatchesKey(idempotencyKey) {
				delivery = existing
				replayed = true
				return nil
			}
			return errors.Conflict("request already delivered")
		default:
			return errors.ValidationField("status", fmt.Sprintf("only APPROVED requests can be delivered, request is %s", req.Status))
		}

		delivery = &domain.Delivery{
			RequestID:   req.ID,
			Details:     make([]domain.DeliveryDetail, 0, len(req.Items)),
			DeliveredBy: a.ID,
			DeliveredAt: s.clock.Now(),
		}
		if idempotencyKey != "" {
			key := idempotencyKey
			delivery.IdempotencyKey = &key
		}

		meds, err := s.lockMedications(ctx, req.Items)
		if err != nil {
			return err
		}

		for i, item := range req.Items {
			med := meds[item.MedicationID]
			code, err := med.Withdraw(item.Quantity)
			if err != nil {
				return withItemIndex(err, i)
			}
			if err := s.medications.Update(ctx, med); err != nil {
				return err
			}

			batch := code
			m, err := s.movements.Record(ctx, MovementEntry{
				Type:         domain.MovementOutbound,
				MedicationID: med.ID,
				BatchCode:    &batch,
				Quantity:     item.Quantity,
				ActorID:      a.ID,
			})
			if err != nil {
				return err
			}
			recorded = append(recorded, m)

			delivery.Details = append(delivery.Details, domain.DeliveryDetail{
				MedicationID: med.ID,
				BatchCode:    code,
				Quantity:     item.Quantity,
			})
		}

		if err := s.deliveries.Create(ctx, delivery); err != nil {
			return err
		}

		if err := req.TransitionTo(domain.StatusDelivered); err != nil {
			return err
		}
		return s.requests.UpdateStatus(ctx, req)
	})
	if err != nil {
		log.Warn().
			Err(err).
			Str("request_id", requestID).
			Msg("fulfillment failed")
		return nil, err
	}

	if replayed {
		log.Info().
			Str("request_id", requestID).
			Str("delivery_id", delivery.ID).
			Msg("fulfillment replayed")
		return delivery, nil
	}

	s.rememberDelivery(ctx, delivery)

	log.Info().
		Str("request_id", requestID).
		Str("delivery_id", delivery.ID).
		Int("items", len(delivery.Details)).
		Msg("request delivered")

	s.publishMovements(ctx, recorded)
	s.publisher.RequestStatusChanged(ctx, req, domain.StatusApproved, a.ID)
	s.publisher.RequestDelivered(ctx, delivery)

	return delivery, nil
}

// lockMedications takes the row lock on every medication the items name,
// once each and in ID order, so two deliveries sharing medications always
// acquire them in the same sequence.
func (s *InventoryService) lockMedications(ctx context.Context, items []domain.RequestItem) (map[string]*domain.Medication, error) {
	ids := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if !seen[item.MedicationID] {
			seen[item.MedicationID] = true
			ids = append(ids, item.MedicationID)
		}
	}
	sort.Strings(ids)

	meds := make(map[string]*domain.Medication, len(ids))
	for _, id := range ids {
		med, err := s.medications.GetForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		meds[id] = med
	}
	return meds, nil
}

// ApproveAndDeliver approves a PENDING request and then fulfills it. The two
// steps commit separately: when delivery fails the request stays APPROVED
// and the call can simply be repeated.
func (s *InventoryService) ApproveAndDeliver(ctx context.Context, a *actor.Actor, requestID, idempotencyKey string) (*domain.Delivery, error) {
	if err := requireActor(a); err != nil {
		return nil, err
	}

	if err := s.approveIfPending(ctx, a, requestID); err != nil {
		return nil, err
	}

	return s.FulfillRequest(ctx, a, requestID, idempotencyKey)
}

func (s *InventoryService) approveIfPending(ctx context.Context, a *actor.Actor, requestID string) error {
	var req *domain.Request
	approved := false

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		req, err = s.requests.GetForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != domain.StatusPending {
			return nil
		}

		if err := req.Decide(domain.StatusApproved); err != nil {
			return err
		}
		approved = true
		return s.requests.UpdateStatus(ctx, req)
	})
	if err != nil || !approved {
		return err
	}

	s.logger.Info().
		Str("request_id", req.ID).
		Str("user_id", a.ID).
		Msg("request approved for delivery")

	s.publisher.RequestStatusChanged(ctx, req, domain.StatusPending, a.ID)
	return nil
}

// GetDeliveryByRequest returns the delivery recorded for a request.
func (s *InventoryService) GetDeliveryByRequest(ctx context.Context, requestID string) (*domain.Delivery, error) {
	if _, err := s.requests.GetByID(ctx, requestID); err != nil {
		return nil, err
	}
	return s.deliveries.GetByRequestID(ctx, requestID)
}

func idempotencyCacheKey(requestID, key string) string {
	return "idempotency:fulfill:" + requestID + ":" + key
}

// cachedDelivery short-circuits a replayed call whose key is still cached.
// Cache trouble only costs the shortcut; the database check still applies.
func (s *InventoryService) cachedDelivery(ctx context.Context, requestID, key string) *domain.Delivery {
	if key == "" {
		return nil
	}

	deliveryID, ok, err := s.guard.Get(ctx, idempotencyCacheKey(requestID, key))
	if err != nil {
		s.logger.Warn().Err(err).Str("request_id", requestID).Msg("idempotency lookup failed")
		return nil
	}
	if !ok {
		return nil
	}

	d, err := s.deliveries.GetByID(ctx, deliveryID)
	if err != nil || d.RequestID != requestID || !d.MatchesKey(key) {
		return nil
	}
	return d
}

func (s *InventoryService) rememberDelivery(ctx context.Context, d *domain.Delivery) {
	if d.IdempotencyKey == nil {
		return
	}
	if err := s.guard.Set(ctx, idempotencyCacheKey(d.RequestID, *d.IdempotencyKey), d.ID, s.idempotencyTTL); err != nil {
		s.logger.Warn().Err(err).Str("delivery_id", d.ID).Msg("failed to cache idempotency key")
	}
}

// withItemIndex tags a withdrawal failure with the request item it belongs to.
func withItemIndex(err error, index int) error {
	var appErr *errors.AppError
	if !errors.As(err, &appErr) {
		return err
	}

	details := map[string]string{"item": fmt.Sprint(index)}
	for k, v := range appErr.Details {
		details[k] = v
	}
	appErr.Details = details
	return appErr
}
