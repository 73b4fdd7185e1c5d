package repository

import (
	"context"
	"database/sql"

	"github.com/farmacia/farmacia-backend/pkg/actor"
	"github.com/farmacia/farmacia-backend/pkg/database"
	"github.com/farmacia/farmacia-backend/pkg/errors"
)

// UserCacheRepository keeps the local copy of users that movement listings
// join against for actor names.
type UserCacheRepository struct {
	db *database.DB
}

// NewUserCacheRepository creates a new user cache repository
func NewUserCacheRepository(db *database.DB) *UserCacheRepository {
	return &UserCacheRepository{db: db}
}

// Set creates or updates a cached user
func (r *UserCacheRepository) Set(ctx context.Context, user *actor.UserCache) error {
	query := `
		INSERT INTO user_cache (user_id, name, email, role, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id)
		DO UPDATE SET name = $2, email = $3, role = $4, updated_at = NOW()
	`

	_, err := r.db.Conn(ctx).ExecContext(ctx, query, user.UserID, user.Name, user.Email, user.Role)
	return mapErr(err)
}

// Get gets a cached user by ID
func (r *UserCacheRepository) Get(ctx context.Context, userID string) (*actor.UserCache, error) {
	var user actor.UserCache
	query := `SELECT user_id, name, email, role FROM user_cache WHERE user_id = $1`
	if err := r.db.Conn(ctx).GetContext(ctx, &user, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("user")
		}
		return nil, mapErr(err)
	}
	return &user, nil
}

// Delete deletes a cached user
func (r *UserCacheRepository) Delete(ctx context.Context, userID string) error {
	_, err := r.db.Conn(ctx).ExecContext(ctx, `DELETE FROM user_cache WHERE user_id = $1`, userID)
	return mapErr(err)
}
