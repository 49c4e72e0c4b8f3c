package models

import (
	"context"
	"errors"
	"time"

	"github.com/stitchworks/garment_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProductionBatch is one production run of a fixed target quantity of a
// single product through cutting, sewing and finishing. The batch exclusively
// owns its allocations, stage tasks and timeline.
type ProductionBatch struct {
	ID                  int                        `gorm:"primary_key" json:"id"`
	BatchSku            string                     `gorm:"size:30;not null;uniqueIndex" json:"batch_sku"`
	ProductId           int                        `gorm:"index;not null" json:"product_id"`
	TargetQuantity      int                        `gorm:"not null" json:"target_quantity"`
	ActualQuantity      int                        `gorm:"default:0" json:"actual_quantity"`
	RejectQuantity      int                        `gorm:"default:0" json:"reject_quantity"`
	Status              BatchStatus                `gorm:"size:30;not null;default:PENDING;index" json:"status"`
	Notes               string                     `gorm:"type:text" json:"notes"`
	CreatedById         int                        `gorm:"not null" json:"created_by_id"`
	CompletedDate       *time.Time                 `json:"completed_date"`
	MaterialAllocations []*BatchMaterialAllocation `gorm:"foreignKey:BatchId" json:"material_allocations"`
	Tasks               []*StageTask               `gorm:"foreignKey:BatchId" json:"tasks"`
	Timeline            []*BatchTimeline           `gorm:"foreignKey:BatchId" json:"timeline,omitempty"`
	CreatedAt           time.Time                  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time                  `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetProductionBatch(db *gorm.DB, ctx context.Context, id int) (*ProductionBatch, error) {
	var batch ProductionBatch
	if err := db.WithContext(ctx).
		Preload("MaterialAllocations").
		Preload("Tasks").
		Where("id = ?", id).
		First(&batch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("batch %d not found", id)
		}
		return nil, utils.NewInternalError(err)
	}
	return &batch, nil
}

// GetProductionBatchForUpdate locks the batch row. Every transition check
// runs against this locked read, so a stale status seen earlier can never be
// trusted into a write.
func GetProductionBatchForUpdate(tx *gorm.DB, ctx context.Context, id int) (*ProductionBatch, error) {
	var batch ProductionBatch
	if err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&batch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("batch %d not found", id)
		}
		return nil, utils.NewInternalError(err)
	}
	return &batch, nil
}

func GetProductionBatchBySku(db *gorm.DB, ctx context.Context, sku string) (*ProductionBatch, error) {
	var batch ProductionBatch
	if err := db.WithContext(ctx).
		Preload("MaterialAllocations").
		Preload("Tasks").
		Where("batch_sku = ?", sku).
		First(&batch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("batch %s not found", sku)
		}
		return nil, utils.NewInternalError(err)
	}
	return &batch, nil
}

func ListProductionBatches(db *gorm.DB, ctx context.Context, status *BatchStatus) ([]*ProductionBatch, error) {
	var results []*ProductionBatch
	dbCtx := db.WithContext(ctx).Preload("MaterialAllocations").Preload("Tasks")
	if status != nil {
		dbCtx = dbCtx.Where("status = ?", *status)
	}
	if err := dbCtx.Order("id DESC").Find(&results).Error; err != nil {
		return nil, utils.NewInternalError(err)
	}
	return results, nil
}

// BatchQRPayload is the opaque batch-identifier transport. The engine only
// resolves BatchId back to a batch; the encoding is a collaborator's concern.
type BatchQRPayload struct {
	BatchId  int       `json:"batchId"`
	BatchSku string    `json:"batchSku"`
	Kind     string    `json:"kind"`
	IssuedAt time.Time `json:"issuedAt"`
}

const QRPayloadKind = "production-batch"

func IssueBatchQRPayload(db *gorm.DB, ctx context.Context, batchId int) (*BatchQRPayload, error) {
	batch, err := GetProductionBatch(db, ctx, batchId)
	if err != nil {
		return nil, err
	}
	return &BatchQRPayload{
		BatchId:  batch.ID,
		BatchSku: batch.BatchSku,
		Kind:     QRPayloadKind,
		IssuedAt: time.Now().UTC(),
	}, nil
}

func ResolveBatchQRPayload(db *gorm.DB, ctx context.Context, payload *BatchQRPayload) (*ProductionBatch, error) {
	if payload == nil || payload.Kind != QRPayloadKind {
		return nil, utils.NewValidationError("unrecognized QR payload kind")
	}
	return GetProductionBatch(db, ctx, payload.BatchId)
}
