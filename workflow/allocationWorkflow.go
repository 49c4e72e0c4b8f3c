package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/stitchworks/garment_backend/config"
	"github.com/stitchworks/garment_backend/models"
	"github.com/stitchworks/garment_backend/utils"
	"gorm.io/gorm"
)

// RequestAllocation records material demand against a batch. A request is a
// demand signal, not a reservation: no stock is touched. Legal on a PENDING
// batch (which moves to MATERIAL_REQUESTED) or on a MATERIAL_REQUESTED batch
// (adding lines, or re-requesting REJECTED lines).
func (e *BatchEngine) RequestAllocation(ctx context.Context, batchId int, requests []models.NewMaterialRequest) (*models.ProductionBatch, error) {
	if len(requests) == 0 {
		return nil, utils.NewValidationError("at least one material request is required")
	}
	if err := validateMaterialRequests(e.db, ctx, requests); err != nil {
		return nil, err
	}

	return e.transition(ctx, batchId, EventRequestMaterial, models.TimelineEventMaterialRequested,
		func(tx *gorm.DB, batch *models.ProductionBatch, t *Transition) (string, []pendingNotification, error) {
			existing, err := models.ListBatchAllocations(tx, ctx, batch.ID)
			if err != nil {
				return "", nil, err
			}
			byMaterial := make(map[int]*models.BatchMaterialAllocation, len(existing))
			for _, alloc := range existing {
				byMaterial[alloc.MaterialId] = alloc
			}

			for _, req := range requests {
				if prev, ok := byMaterial[req.MaterialId]; ok {
					// One row per (batch, material): REJECTED lines may be
					// re-requested, anything else is already in flight.
					if prev.Status != models.AllocationStatusRejected {
						return "", nil, utils.NewConflictError("material %d already requested for this batch", req.MaterialId)
					}
					if err := tx.WithContext(ctx).Model(prev).Updates(map[string]interface{}{
						"requested_qty": req.RequestedQty,
						"status":        models.AllocationStatusRequested,
					}).Error; err != nil {
						return "", nil, utils.NewInternalError(err)
					}
					continue
				}
				row := models.BatchMaterialAllocation{
					BatchId:      batch.ID,
					MaterialId:   req.MaterialId,
					RequestedQty: req.RequestedQty,
					Status:       models.AllocationStatusRequested,
				}
				if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
					return "", nil, utils.NewInternalError(err)
				}
			}
			return fmt.Sprintf("%d material lines requested", len(requests)), nil, nil
		})
}

// Allocate reserves every REQUESTED line of the batch: per line it verifies
// sufficiency against the row-locked material, posts one OUT transaction
// tagged with the batch, and flips the line to ALLOCATED. All lines succeed
// or the whole allocation rolls back; a partial allocation across materials
// is never a valid end state.
func (e *BatchEngine) Allocate(ctx context.Context, batchId int) (*models.ProductionBatch, error) {
	// Best-effort serialization; the material row locks inside the
	// transaction remain the source of correctness.
	if lock := e.rdb.ObtainLock(ctx, fmt.Sprintf("allocate:%d", batchId), 30*time.Second); lock != nil {
		defer lock.Release(context.WithoutCancel(ctx))
	}

	batch, err := e.transition(ctx, batchId, EventAllocate, models.TimelineEventMaterialAllocated,
		func(tx *gorm.DB, batch *models.ProductionBatch, t *Transition) (string, []pendingNotification, error) {
			allocations, err := models.ListBatchAllocations(tx, ctx, batch.ID)
			if err != nil {
				return "", nil, err
			}

			lines := 0
			for _, alloc := range allocations {
				if alloc.Status != models.AllocationStatusRequested {
					continue
				}
				batchRef := batch.ID
				if _, err := models.RecordStockTransaction(tx, ctx, &models.NewStockTransaction{
					MaterialId: alloc.MaterialId,
					Type:       models.StockTransactionTypeOut,
					Quantity:   alloc.RequestedQty,
					BatchId:    &batchRef,
					Note:       fmt.Sprintf("allocated to %s", batch.BatchSku),
				}); err != nil {
					return "", nil, err
				}
				if err := tx.WithContext(ctx).Model(alloc).
					Update("status", models.AllocationStatusAllocated).Error; err != nil {
					return "", nil, utils.NewInternalError(err)
				}
				lines++
			}
			if lines == 0 {
				return "", nil, utils.NewValidationError("batch has no requested material lines")
			}
			return fmt.Sprintf("%d material lines allocated", lines), nil, nil
		})
	if err != nil {
		return nil, err
	}
	invalidateStockCache(e.rdb, ctx)
	return batch, nil
}

// RejectAllocation marks REQUESTED lines as REJECTED. The batch status does
// not move backwards; the lead may re-request rejected lines.
func (e *BatchEngine) RejectAllocation(ctx context.Context, batchId int, reason string) (*models.ProductionBatch, error) {
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch, err := models.GetProductionBatchForUpdate(tx, ctx, batchId)
		if err != nil {
			return err
		}
		if batch.Status != models.BatchStatusMaterialRequested {
			return utils.NewConflictError(
				"batch status is %s, rejecting material requires MATERIAL_REQUESTED", batch.Status)
		}
		if _, err := models.RequireRole(tx, ctx, models.RoleWarehouse); err != nil {
			return err
		}

		result := tx.WithContext(ctx).Model(&models.BatchMaterialAllocation{}).
			Where("batch_id = ? AND status = ?", batch.ID, models.AllocationStatusRequested).
			Update("status", models.AllocationStatusRejected)
		if result.Error != nil {
			return utils.NewInternalError(result.Error)
		}
		if result.RowsAffected == 0 {
			return utils.NewValidationError("batch has no requested material lines")
		}

		details := fmt.Sprintf("%d material lines rejected: %s", result.RowsAffected, reason)
		return models.AppendBatchTimeline(tx, ctx, batch.ID, models.TimelineEventMaterialRejected, details)
	})
	if err != nil {
		return nil, err
	}
	return models.GetProductionBatch(e.db, ctx, batchId)
}

func invalidateStockCache(rdb *config.Redis, ctx context.Context) {
	models.InvalidateStockStatistics(rdb, ctx)
}
