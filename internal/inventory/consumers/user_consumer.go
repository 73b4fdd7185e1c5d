// Package consumers keeps local read models in sync with events from other
// services.
package consumers

import (
	"context"
	"strings"

	"github.com/farmacia/farmacia-backend/pkg/actor"
	"github.com/farmacia/farmacia-backend/pkg/errors"
	"github.com/farmacia/farmacia-backend/pkg/logger"
	"github.com/farmacia/farmacia-backend/pkg/messaging"
)

// QueueUserEvents is the durable queue this service reads user events from.
const QueueUserEvents = "pharmacy-service.user-events"

// UserCacheStore is the storage behind the local user cache.
type UserCacheStore interface {
	Set(ctx context.Context, user *actor.UserCache) error
	Get(ctx context.Context, userID string) (*actor.UserCache, error)
	Delete(ctx context.Context, userID string) error
}

// UserEventConsumer mirrors the user directory into the user cache so
// movement listings can show who acted.
type UserEventConsumer struct {
	consumer *messaging.Consumer
	store    UserCacheStore
	logger   *logger.Logger
}

// NewUserEventConsumer declares the queue, binds it to user events and
// registers the handlers.
func NewUserEventConsumer(rmq *messaging.RabbitMQ, store UserCacheStore, log *logger.Logger) (*UserEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, QueueUserEvents, log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeUserEvents, "user.#"); err != nil {
		return nil, err
	}

	c := newUserEventConsumer(store, log)
	c.consumer = consumer
	c.register(consumer)

	return c, nil
}

func newUserEventConsumer(store UserCacheStore, log *logger.Logger) *UserEventConsumer {
	return &UserEventConsumer{
		store:  store,
		logger: log.WithComponent("user-consumer"),
	}
}

func (c *UserEventConsumer) register(consumer *messaging.Consumer) {
	consumer.RegisterHandler(messaging.EventUserCreated, c.handleUserCreated)
	consumer.RegisterHandler(messaging.EventUserUpdated, c.handleUserUpdated)
	consumer.RegisterHandler(messaging.EventUserDeleted, c.handleUserDeleted)
	consumer.RegisterHandler(messaging.EventUserRoleChanged, c.handleUserRoleChanged)
}

// Start starts consuming messages
func (c *UserEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

func (c *UserEventConsumer) handleUserCreated(ctx context.Context, event *messaging.Event) error {
	var data messaging.UserCreatedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	c.logger.Info().
		Str("user_id", data.UserID).
		Str("role", data.RoleName).
		Msg("caching created user")

	return c.store.Set(ctx, &actor.UserCache{
		UserID: data.UserID,
		Name:   data.Name,
		Email:  data.Email,
		Role:   normalizeRole(data.RoleName),
	})
}

// handleUserUpdated applies changed fields to a cached user. Updates for
// users never seen are dropped; the next created event fills them in.
func (c *UserEventConsumer) handleUserUpdated(ctx context.Context, event *messaging.Event) error {
	var data messaging.UserUpdatedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	existing, err := c.store.Get(ctx, data.UserID)
	if errors.IsNotFound(err) {
		c.logger.Debug().Str("user_id", data.UserID).Msg("update for uncached user ignored")
		return nil
	}
	if err != nil {
		return err
	}

	changed := false
	if v, ok := changedTo(data.Fields, "name"); ok {
		existing.Name, changed = v, true
	}
	if v, ok := changedTo(data.Fields, "email"); ok {
		existing.Email, changed = v, true
	}
	if v, ok := changedTo(data.Fields, "role_name"); ok {
		existing.Role, changed = normalizeRole(v), true
	}
	if !changed {
		return nil
	}

	c.logger.Info().Str("user_id", data.UserID).Msg("updating cached user")
	return c.store.Set(ctx, existing)
}

func (c *UserEventConsumer) handleUserRoleChanged(ctx context.Context, event *messaging.Event) error {
	var data messaging.UserRoleChangedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	existing, err := c.store.Get(ctx, data.UserID)
	if errors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	c.logger.Info().
		Str("user_id", data.UserID).
		Str("old_role", data.OldRoleName).
		Str("new_role", data.NewRoleName).
		Msg("updating cached user role")

	existing.Role = normalizeRole(data.NewRoleName)
	return c.store.Set(ctx, existing)
}

func (c *UserEventConsumer) handleUserDeleted(ctx context.Context, event *messaging.Event) error {
	var data messaging.UserDeletedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	c.logger.Info().
		Str("user_id", data.UserID).
		Msg("removing cached user")

	return c.store.Delete(ctx, data.UserID)
}

// changedTo reads {"field": {"from": ..., "to": "..."}} from an update event.
func changedTo(fields map[string]any, name string) (string, bool) {
	change, ok := fields[name].(map[string]interface{})
	if !ok {
		return "", false
	}
	v, ok := change["to"].(string)
	return v, ok
}

func normalizeRole(role string) string {
	return strings.ToUpper(strings.TrimSpace(role))
}
