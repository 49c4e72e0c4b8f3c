package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stitchworks/garment_backend/utils"
	"gorm.io/gorm"
)

// BatchMaterialAllocation reserves ledger quantity against one batch. One row
// per (batch, material) pair. A REQUESTED row is a demand signal only; stock
// moves when the row flips to ALLOCATED and the matching OUT transaction is
// posted in the same database transaction.
type BatchMaterialAllocation struct {
	ID           int              `gorm:"primary_key" json:"id"`
	BatchId      int              `gorm:"index;not null;uniqueIndex:idx_batch_material" json:"batch_id"`
	MaterialId   int              `gorm:"index;not null;uniqueIndex:idx_batch_material" json:"material_id"`
	RequestedQty decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"requested_qty"`
	Status       AllocationStatus `gorm:"size:20;not null;default:REQUESTED" json:"status"`
	CreatedAt    time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewMaterialRequest struct {
	MaterialId   int             `json:"material_id" binding:"required"`
	RequestedQty decimal.Decimal `json:"requested_qty" binding:"required"`
}

// ListBatchAllocations returns the batch's lines ordered by material id.
// Allocation and cancellation walk this list locking material rows, so the
// ordering gives every batch the same global lock order over materials.
func ListBatchAllocations(db *gorm.DB, ctx context.Context, batchId int) ([]*BatchMaterialAllocation, error) {
	var results []*BatchMaterialAllocation
	if err := db.WithContext(ctx).
		Where("batch_id = ?", batchId).
		Order("material_id").
		Find(&results).Error; err != nil {
		return nil, utils.NewInternalError(err)
	}
	return results, nil
}
