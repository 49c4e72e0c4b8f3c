package models

import (
	"context"
	"errors"
	"time"

	"github.com/stitchworks/garment_backend/utils"
	"gorm.io/gorm"
)

// User is the worker roster. Authentication lives outside this service; rows
// here exist so role gating and assignee checks run against a stored role
// rather than trusting whatever the caller claims.
type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Email     string    `gorm:"size:100;uniqueIndex" json:"email"`
	Role      Role      `gorm:"size:30;not null" json:"role"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetUser(db *gorm.DB, ctx context.Context, id int) (*User, error) {
	var user User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("user %d not found", id)
		}
		return nil, utils.NewInternalError(err)
	}
	return &user, nil
}

// RequireRole checks the calling actor's stored role against the allowed set
// before any state is touched. Admin passes every gate.
func RequireRole(db *gorm.DB, ctx context.Context, allowed ...Role) (*User, error) {
	actorId, ok := utils.GetActorIdFromContext(ctx)
	if !ok || actorId == 0 {
		return nil, utils.NewValidationError("actor id is required")
	}
	actor, err := GetUser(db, ctx, actorId)
	if err != nil {
		return nil, err
	}
	if actor.IsActive != nil && !*actor.IsActive {
		return nil, utils.NewForbiddenError("actor %s is inactive", actor.Name)
	}
	if actor.Role == RoleAdmin {
		return actor, nil
	}
	for _, role := range allowed {
		if actor.Role == role {
			return actor, nil
		}
	}
	return nil, utils.NewForbiddenError("role %s is not allowed to perform this action", actor.Role)
}

// RequireWorker validates that the assignee exists, is active and holds the
// exact worker role the stage demands. Verified at assignment time, never
// trusted from input.
func RequireWorker(db *gorm.DB, ctx context.Context, userId int, role Role) (*User, error) {
	worker, err := GetUser(db, ctx, userId)
	if err != nil {
		return nil, err
	}
	if worker.IsActive != nil && !*worker.IsActive {
		return nil, utils.NewForbiddenError("worker %s is inactive", worker.Name)
	}
	if worker.Role != role {
		return nil, utils.NewForbiddenError("worker %s holds role %s, stage requires %s", worker.Name, worker.Role, role)
	}
	return worker, nil
}
