package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stitchworks/garment_backend/config"
	"github.com/stitchworks/garment_backend/models"
	"github.com/stitchworks/garment_backend/utils"
	"gorm.io/gorm"
)

// BatchEngine is the batch state machine. Every mutation runs as one database
// transaction: the batch row is locked, the precondition is re-checked against
// the locked read, side effects and the timeline entry commit together.
// Notifications are emitted after commit, best-effort.
type BatchEngine struct {
	db       *gorm.DB
	rdb      *config.Redis
	logger   *logrus.Logger
	notifier *models.Notifier
}

func NewBatchEngine(db *gorm.DB, rdb *config.Redis, logger *logrus.Logger) *BatchEngine {
	return &BatchEngine{
		db:       db,
		rdb:      rdb,
		logger:   logger,
		notifier: models.NewNotifier(db, rdb, logger),
	}
}

// pendingNotification is queued inside a transition and delivered only after
// the transaction commits; a failed transition must notify no one.
type pendingNotification struct {
	recipientId int
	notifType   models.NotificationType
	title       string
	message     string
}

// effectFunc performs a transition's side effects on the open transaction and
// returns the timeline details plus notifications to send after commit.
type effectFunc func(tx *gorm.DB, batch *models.ProductionBatch, t *Transition) (string, []pendingNotification, error)

// transition is the single path every table-driven status change goes
// through, so no call site can forget the timeline entry or notification.
func (e *BatchEngine) transition(ctx context.Context, batchId int, event Event, timelineEvent string, effect effectFunc) (*models.ProductionBatch, error) {
	var result *models.ProductionBatch
	var pending []pendingNotification

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch, err := models.GetProductionBatchForUpdate(tx, ctx, batchId)
		if err != nil {
			return err
		}
		t, err := FindTransition(event, batch.Status)
		if err != nil {
			return err
		}
		if _, err := models.RequireRole(tx, ctx, t.Roles...); err != nil {
			return err
		}

		details := ""
		if effect != nil {
			details, pending, err = effect(tx, batch, t)
			if err != nil {
				return err
			}
		}

		if err := tx.WithContext(ctx).Model(batch).Update("status", t.To).Error; err != nil {
			return utils.NewInternalError(err)
		}
		batch.Status = t.To

		if err := models.AppendBatchTimeline(tx, ctx, batch.ID, timelineEvent, details); err != nil {
			return err
		}
		result = batch
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, n := range pending {
		e.notifier.Notify(ctx, n.recipientId, n.notifType, n.title, n.message)
	}
	return models.GetProductionBatch(e.db, ctx, result.ID)
}

type NewProductionBatch struct {
	ProductId        int                         `json:"product_id" binding:"required"`
	TargetQuantity   int                         `json:"target_quantity" binding:"required"`
	Notes            string                      `json:"notes"`
	MaterialRequests []models.NewMaterialRequest `json:"material_requests"`
}

// CreateBatch opens a batch. With material requests supplied the batch starts
// at MATERIAL_REQUESTED and the requests are recorded as REQUESTED rows; no
// stock is touched. Without requests the batch starts at PENDING.
func (e *BatchEngine) CreateBatch(ctx context.Context, input *NewProductionBatch) (*models.ProductionBatch, error) {
	if input.TargetQuantity <= 0 {
		return nil, utils.NewValidationError("target quantity must be positive")
	}
	actor, err := models.RequireRole(e.db, ctx, models.RoleProductionLead)
	if err != nil {
		return nil, err
	}
	if err := validateMaterialRequests(e.db, ctx, input.MaterialRequests); err != nil {
		return nil, err
	}
	if err := utils.ValidateResourceId[models.Product](e.db, ctx, input.ProductId); err != nil {
		return nil, utils.NewNotFoundError("product %d not found", input.ProductId)
	}

	var created *models.ProductionBatch
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sku, err := models.NextBatchSku(tx, ctx, time.Now().UTC())
		if err != nil {
			return err
		}

		batch := models.ProductionBatch{
			BatchSku:       sku,
			ProductId:      input.ProductId,
			TargetQuantity: input.TargetQuantity,
			Notes:          input.Notes,
			Status:         models.BatchStatusPending,
			CreatedById:    actor.ID,
		}
		if len(input.MaterialRequests) > 0 {
			batch.Status = models.BatchStatusMaterialRequested
			for _, req := range input.MaterialRequests {
				batch.MaterialAllocations = append(batch.MaterialAllocations, &models.BatchMaterialAllocation{
					MaterialId:   req.MaterialId,
					RequestedQty: req.RequestedQty,
					Status:       models.AllocationStatusRequested,
				})
			}
		}
		if err := tx.WithContext(ctx).Create(&batch).Error; err != nil {
			return utils.NewInternalError(err)
		}

		details := fmt.Sprintf("batch %s created for product %d, target %d pieces", sku, batch.ProductId, batch.TargetQuantity)
		if err := models.AppendBatchTimeline(tx, ctx, batch.ID, models.TimelineEventBatchCreated, details); err != nil {
			return err
		}
		if len(input.MaterialRequests) > 0 {
			details := fmt.Sprintf("%d material lines requested", len(input.MaterialRequests))
			if err := models.AppendBatchTimeline(tx, ctx, batch.ID, models.TimelineEventMaterialRequested, details); err != nil {
				return err
			}
		}
		created = &batch
		return nil
	})
	if err != nil {
		return nil, err
	}
	return models.GetProductionBatch(e.db, ctx, created.ID)
}

// CancelBatch moves any non-terminal batch to CANCELLED. Material already
// allocated is returned to stock through RETURN ledger entries so the ledger
// explains the restoration.
func (e *BatchEngine) CancelBatch(ctx context.Context, batchId int, reason string) (*models.ProductionBatch, error) {
	return e.transition(ctx, batchId, EventCancel, models.TimelineEventBatchCancelled,
		func(tx *gorm.DB, batch *models.ProductionBatch, t *Transition) (string, []pendingNotification, error) {
			allocations, err := models.ListBatchAllocations(tx, ctx, batch.ID)
			if err != nil {
				return "", nil, err
			}
			returned := 0
			for _, alloc := range allocations {
				if alloc.Status != models.AllocationStatusAllocated {
					continue
				}
				batchRef := batch.ID
				if _, err := models.RecordStockTransaction(tx, ctx, &models.NewStockTransaction{
					MaterialId: alloc.MaterialId,
					Type:       models.StockTransactionTypeReturn,
					Quantity:   alloc.RequestedQty,
					BatchId:    &batchRef,
					Note:       fmt.Sprintf("returned on cancellation of %s", batch.BatchSku),
				}); err != nil {
					return "", nil, err
				}
				returned++
			}
			if returned > 0 {
				invalidateStockCache(e.rdb, ctx)
			}

			details := fmt.Sprintf("batch %s cancelled: %s", batch.BatchSku, reason)
			var pending []pendingNotification
			if assignee := activeAssignee(tx, ctx, batch); assignee != 0 {
				pending = append(pending, pendingNotification{
					recipientId: assignee,
					notifType:   models.NotificationTypeBatchCancelled,
					title:       "Batch cancelled",
					message:     fmt.Sprintf("Batch %s has been cancelled.", batch.BatchSku),
				})
			}
			return details, pending, nil
		})
}

// DeleteBatch hard-deletes a batch and everything it owns. Only PENDING and
// CANCELLED batches may be removed.
func (e *BatchEngine) DeleteBatch(ctx context.Context, batchId int) error {
	if _, err := models.RequireRole(e.db, ctx, models.RoleProductionLead); err != nil {
		return err
	}

	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch, err := models.GetProductionBatchForUpdate(tx, ctx, batchId)
		if err != nil {
			return err
		}
		if !deletableStatus(batch.Status) {
			return utils.NewConflictError(
				"batch status is %s, deletion requires PENDING or CANCELLED", batch.Status)
		}

		// Cascade-scoped ownership: allocations, tasks and timeline go with
		// the batch.
		for _, owned := range []interface{}{
			&models.BatchMaterialAllocation{}, &models.StageTask{}, &models.BatchTimeline{},
		} {
			if err := tx.WithContext(ctx).Where("batch_id = ?", batch.ID).Delete(owned).Error; err != nil {
				return utils.NewInternalError(err)
			}
		}
		if err := tx.WithContext(ctx).Delete(&models.ProductionBatch{}, batch.ID).Error; err != nil {
			return utils.NewInternalError(err)
		}
		return nil
	})
}

// activeAssignee returns the assignee of the batch's current stage task, or 0.
func activeAssignee(tx *gorm.DB, ctx context.Context, batch *models.ProductionBatch) int {
	for _, meta := range stageMetaTable {
		if batch.Status == meta.AssignedStatus || batch.Status == meta.InProgressStatus {
			task, err := models.ActiveStageTask(tx, ctx, batch.ID, meta.Stage)
			if err != nil || task == nil {
				return 0
			}
			return task.AssignedToId
		}
	}
	return 0
}

func validateMaterialRequests(db *gorm.DB, ctx context.Context, requests []models.NewMaterialRequest) error {
	seen := make(map[int]struct{}, len(requests))
	for _, req := range requests {
		if !req.RequestedQty.IsPositive() {
			return utils.NewValidationError("requested quantity must be positive")
		}
		if _, dup := seen[req.MaterialId]; dup {
			return utils.NewValidationError("duplicate material %d in request", req.MaterialId)
		}
		seen[req.MaterialId] = struct{}{}

		material, err := models.GetMaterial(db, ctx, req.MaterialId)
		if err != nil {
			return err
		}
		if material.IsActive != nil && !*material.IsActive {
			return utils.NewValidationError("material %s is deactivated", material.Code)
		}
	}
	return nil
}
