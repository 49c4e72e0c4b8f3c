package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stitchworks/garment_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StageTask is the unit of work for one stage of one batch, assigned to one
// worker. Cutting, sewing and finishing share this entity, tagged by Stage:
// cutting receives material (MaterialReceived), sewing and finishing receive
// pieces (PiecesReceived) seeded from the previous stage's completed count.
// Only the task for the batch's current stage is active; re-assignment within
// a stage replaces the active task, never duplicates it.
type StageTask struct {
	ID               int             `gorm:"primary_key" json:"id"`
	BatchId          int             `gorm:"index;not null" json:"batch_id"`
	Stage            Stage           `gorm:"size:20;not null;index" json:"stage"`
	AssignedToId     int             `gorm:"index;not null" json:"assigned_to_id"`
	MaterialReceived decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"material_received"`
	PiecesReceived   int             `gorm:"default:0" json:"pieces_received"`
	PiecesCompleted  int             `gorm:"default:0" json:"pieces_completed"`
	RejectPieces     int             `gorm:"default:0" json:"reject_pieces"`
	Status           TaskStatus      `gorm:"size:20;not null;default:PENDING" json:"status"`
	Notes            string          `gorm:"type:text" json:"notes"`
	StartedAt        *time.Time      `json:"started_at"`
	CompletedAt      *time.Time      `json:"completed_at"`
	VerifiedAt       *time.Time      `json:"verified_at"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetStageTask(db *gorm.DB, ctx context.Context, id int) (*StageTask, error) {
	var task StageTask
	if err := db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("task %d not found", id)
		}
		return nil, utils.NewInternalError(err)
	}
	return &task, nil
}

// GetStageTaskForUpdate locks the task row so progress updates and status
// flips are serialized per task.
func GetStageTaskForUpdate(tx *gorm.DB, ctx context.Context, id int) (*StageTask, error) {
	var task StageTask
	if err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("task %d not found", id)
		}
		return nil, utils.NewInternalError(err)
	}
	return &task, nil
}

// ActiveStageTask returns the batch's task for the given stage, or nil.
func ActiveStageTask(db *gorm.DB, ctx context.Context, batchId int, stage Stage) (*StageTask, error) {
	var task StageTask
	err := db.WithContext(ctx).Where("batch_id = ? AND stage = ?", batchId, stage).First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, utils.NewInternalError(err)
	}
	return &task, nil
}
