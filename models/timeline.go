package models

import (
	"context"
	"time"

	"github.com/stitchworks/garment_backend/utils"
	"gorm.io/gorm"
)

// BatchTimeline is the append-only audit trail of batch lifecycle events.
// Rows are written inside the transaction that performs the event they
// describe, and are never updated or deleted.
type BatchTimeline struct {
	ID        int       `gorm:"primary_key" json:"id"`
	BatchId   int       `gorm:"index;not null" json:"batch_id"`
	Event     string    `gorm:"size:50;not null" json:"event"`
	Details   string    `gorm:"type:text" json:"details"`
	ActorId   int       `gorm:"index;not null" json:"actor_id"`
	ActorName string    `gorm:"size:100" json:"actor_name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// AppendBatchTimeline must be called on the caller's open transaction so the
// entry commits or rolls back with the event it records.
func AppendBatchTimeline(tx *gorm.DB, ctx context.Context, batchId int, event string, details string) error {
	actorId, _ := utils.GetActorIdFromContext(ctx)
	actorName, _ := utils.GetActorNameFromContext(ctx)

	entry := BatchTimeline{
		BatchId:   batchId,
		Event:     event,
		Details:   details,
		ActorId:   actorId,
		ActorName: actorName,
	}
	if err := tx.WithContext(ctx).Create(&entry).Error; err != nil {
		return utils.NewInternalError(err)
	}
	return nil
}

// ListBatchTimeline returns entries newest-first.
func ListBatchTimeline(db *gorm.DB, ctx context.Context, batchId int) ([]*BatchTimeline, error) {
	var results []*BatchTimeline
	if err := db.WithContext(ctx).
		Where("batch_id = ?", batchId).
		Order("id DESC").
		Find(&results).Error; err != nil {
		return nil, utils.NewInternalError(err)
	}
	return results, nil
}
