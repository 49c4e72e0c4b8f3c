package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stitchworks/garment_backend/models"
	"github.com/stitchworks/garment_backend/utils"
	"gorm.io/gorm"
)

type AssignStageInput struct {
	Stage        models.Stage    `json:"stage" binding:"required"`
	AssignedToId int             `json:"assigned_to_id" binding:"required"`
	// MaterialQty seeds the cutting task; sewing/finishing receive pieces
	// from the previous stage instead and ignore it.
	MaterialQty decimal.Decimal `json:"material_qty"`
	Notes       string          `json:"notes"`
}

// AssignStage creates the stage's task, advances the batch, appends a
// timeline entry and notifies the assignee, as one atomic unit (notification
// excepted; it follows commit). Re-assignment while the batch is already at
// the stage's assigned status replaces the active task.
func (e *BatchEngine) AssignStage(ctx context.Context, batchId int, input *AssignStageInput) (*models.ProductionBatch, error) {
	meta, err := MetaForStage(input.Stage)
	if err != nil {
		return nil, err
	}

	var pending []pendingNotification
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch, err := models.GetProductionBatchForUpdate(tx, ctx, batchId)
		if err != nil {
			return err
		}
		reassign := batch.Status == meta.AssignedStatus
		if !reassign && batch.Status != meta.RequiredStatus {
			return utils.NewConflictError(
				"batch status is %s, assigning %s requires %s", batch.Status, meta.Stage, meta.RequiredStatus)
		}
		if _, err := models.RequireRole(tx, ctx, models.RoleProductionLead); err != nil {
			return err
		}
		worker, err := models.RequireWorker(tx, ctx, input.AssignedToId, meta.WorkerRole)
		if err != nil {
			return err
		}

		task := models.StageTask{
			BatchId:      batch.ID,
			Stage:        meta.Stage,
			AssignedToId: worker.ID,
			Status:       models.TaskStatusPending,
			Notes:        input.Notes,
		}
		if meta.PreviousStage == "" {
			task.MaterialReceived = input.MaterialQty
		} else {
			prev, err := models.ActiveStageTask(tx, ctx, batch.ID, meta.PreviousStage)
			if err != nil {
				return err
			}
			if prev == nil {
				return utils.NewConflictError("batch has no %s task to seed from", meta.PreviousStage)
			}
			task.PiecesReceived = prev.PiecesCompleted
		}

		if reassign {
			// Replace, never duplicate, the active task.
			if err := tx.WithContext(ctx).
				Where("batch_id = ? AND stage = ?", batch.ID, meta.Stage).
				Delete(&models.StageTask{}).Error; err != nil {
				return utils.NewInternalError(err)
			}
		}
		if err := tx.WithContext(ctx).Create(&task).Error; err != nil {
			return utils.NewInternalError(err)
		}

		if !reassign {
			if err := tx.WithContext(ctx).Model(batch).
				Update("status", meta.AssignedStatus).Error; err != nil {
				return utils.NewInternalError(err)
			}
		}

		details := fmt.Sprintf("%s assigned to %s", meta.Stage, worker.Name)
		if meta.PreviousStage == "" {
			details += fmt.Sprintf(", material received %s", task.MaterialReceived)
		} else {
			details += fmt.Sprintf(", %d pieces received", task.PiecesReceived)
		}
		if err := models.AppendBatchTimeline(tx, ctx, batch.ID, models.TimelineEventStageAssigned, details); err != nil {
			return err
		}

		pending = append(pending, pendingNotification{
			recipientId: worker.ID,
			notifType:   models.NotificationTypeTaskAssigned,
			title:       fmt.Sprintf("%s assigned", meta.Stage),
			message:     fmt.Sprintf("You have been assigned %s for batch %s.", meta.Stage, batch.BatchSku),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, n := range pending {
		e.notifier.Notify(ctx, n.recipientId, n.notifType, n.title, n.message)
	}
	return models.GetProductionBatch(e.db, ctx, batchId)
}

// StartTask moves the task to IN_PROGRESS and the batch to the stage's
// in-progress status. Only the task's assignee may start it.
func (e *BatchEngine) StartTask(ctx context.Context, taskId int) (*models.StageTask, error) {
	// Unlocked read to learn the batch; the checks below run against locked
	// rows, batch first then task, the same order every other mutation uses.
	peek, err := models.GetStageTask(e.db, ctx, taskId)
	if err != nil {
		return nil, err
	}
	meta, err := MetaForStage(peek.Stage)
	if err != nil {
		return nil, err
	}

	var started *models.StageTask
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch, err := models.GetProductionBatchForUpdate(tx, ctx, peek.BatchId)
		if err != nil {
			return err
		}
		task, err := models.GetStageTaskForUpdate(tx, ctx, taskId)
		if err != nil {
			return err
		}
		if err := requireAssignee(tx, ctx, task); err != nil {
			return err
		}
		if task.Status != models.TaskStatusPending {
			return utils.NewConflictError("task status is %s, starting requires PENDING", task.Status)
		}
		if batch.Status != meta.AssignedStatus {
			return utils.NewConflictError(
				"batch status is %s, starting %s requires %s", batch.Status, meta.Stage, meta.AssignedStatus)
		}

		now := time.Now().UTC()
		if err := tx.WithContext(ctx).Model(task).Updates(map[string]interface{}{
			"status":     models.TaskStatusInProgress,
			"started_at": &now,
		}).Error; err != nil {
			return utils.NewInternalError(err)
		}
		if err := tx.WithContext(ctx).Model(batch).
			Update("status", meta.InProgressStatus).Error; err != nil {
			return utils.NewInternalError(err)
		}

		details := fmt.Sprintf("%s started", meta.Stage)
		if err := models.AppendBatchTimeline(tx, ctx, batch.ID, models.TimelineEventStageStarted, details); err != nil {
			return err
		}
		task.Status = models.TaskStatusInProgress
		started = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return started, nil
}

type ProgressUpdate struct {
	DeltaCompleted int `json:"delta_completed"`
	DeltaReject    int `json:"delta_reject"`
}

// UpdateProgress applies incremental deltas to the task's totals. Deltas add
// to the stored values rather than replacing them; calls are deliberately not
// idempotent, retrying callers must deduplicate. Valid only while the task is
// IN_PROGRESS. Does not move batch status and appends no timeline entry.
func (e *BatchEngine) UpdateProgress(ctx context.Context, taskId int, update *ProgressUpdate) (*models.StageTask, error) {
	if update.DeltaCompleted < 0 || update.DeltaReject < 0 {
		return nil, utils.NewValidationError("progress deltas cannot be negative")
	}
	if update.DeltaCompleted == 0 && update.DeltaReject == 0 {
		return nil, utils.NewValidationError("at least one progress delta is required")
	}

	var updated *models.StageTask
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		task, err := models.GetStageTaskForUpdate(tx, ctx, taskId)
		if err != nil {
			return err
		}
		if err := requireAssignee(tx, ctx, task); err != nil {
			return err
		}
		if task.Status != models.TaskStatusInProgress {
			return utils.NewConflictError("task status is %s, progress requires IN_PROGRESS", task.Status)
		}
		// Cutting tracks material consumed and pieces cut; rejected pieces
		// only exist once there are sewn pieces to reject.
		if task.Stage == models.StageCutting && update.DeltaReject != 0 {
			return utils.NewValidationError("cutting tasks do not track rejected pieces")
		}

		task.PiecesCompleted += update.DeltaCompleted
		task.RejectPieces += update.DeltaReject
		if err := tx.WithContext(ctx).Model(task).Updates(map[string]interface{}{
			"pieces_completed": task.PiecesCompleted,
			"reject_pieces":    task.RejectPieces,
		}).Error; err != nil {
			return utils.NewInternalError(err)
		}
		updated = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// CompleteTask marks the assignee's work done. The batch stays at the stage's
// in-progress status until QC verifies.
func (e *BatchEngine) CompleteTask(ctx context.Context, taskId int, notes string) (*models.StageTask, error) {
	var completed *models.StageTask
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		task, err := models.GetStageTaskForUpdate(tx, ctx, taskId)
		if err != nil {
			return err
		}
		if err := requireAssignee(tx, ctx, task); err != nil {
			return err
		}
		if task.Status != models.TaskStatusInProgress {
			return utils.NewConflictError("task status is %s, completing requires IN_PROGRESS", task.Status)
		}

		now := time.Now().UTC()
		updates := map[string]interface{}{
			"status":       models.TaskStatusCompleted,
			"completed_at": &now,
		}
		if notes != "" {
			updates["notes"] = notes
		}
		if err := tx.WithContext(ctx).Model(task).Updates(updates).Error; err != nil {
			return utils.NewInternalError(err)
		}

		details := fmt.Sprintf("%s completed: %d pieces, %d rejects", task.Stage, task.PiecesCompleted, task.RejectPieces)
		if task.Stage == models.StageCutting {
			details = fmt.Sprintf("%s completed: %d pieces", task.Stage, task.PiecesCompleted)
		}
		if err := models.AppendBatchTimeline(tx, ctx, task.BatchId, models.TimelineEventStageCompleted, details); err != nil {
			return err
		}
		task.Status = models.TaskStatusCompleted
		completed = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return completed, nil
}

// VerifyTask is the QC gate. The task must be COMPLETED; the batch advances
// to the stage's verified status. Verifying finishing completes the batch:
// completedDate is set and actual/reject quantities are finalized.
func (e *BatchEngine) VerifyTask(ctx context.Context, taskId int) (*models.ProductionBatch, error) {
	task, err := models.GetStageTask(e.db, ctx, taskId)
	if err != nil {
		return nil, err
	}
	meta, err := MetaForStage(task.Stage)
	if err != nil {
		return nil, err
	}

	timelineEvent := models.TimelineEventStageVerified
	if meta.Stage == models.StageFinishing {
		timelineEvent = models.TimelineEventBatchCompleted
	}

	return e.transition(ctx, task.BatchId, EventVerifyStage, timelineEvent,
		func(tx *gorm.DB, batch *models.ProductionBatch, t *Transition) (string, []pendingNotification, error) {
			if t.To != meta.VerifiedStatus {
				return "", nil, utils.NewConflictError(
					"batch status is %s, verifying %s requires %s", batch.Status, meta.Stage, meta.InProgressStatus)
			}

			locked, err := models.GetStageTaskForUpdate(tx, ctx, taskId)
			if err != nil {
				return "", nil, err
			}
			if locked.Status != models.TaskStatusCompleted {
				return "", nil, utils.NewConflictError("task status is %s, verification requires COMPLETED", locked.Status)
			}

			now := time.Now().UTC()
			if err := tx.WithContext(ctx).Model(locked).Updates(map[string]interface{}{
				"status":      models.TaskStatusVerified,
				"verified_at": &now,
			}).Error; err != nil {
				return "", nil, utils.NewInternalError(err)
			}

			details := fmt.Sprintf("%s verified: %d pieces, %d rejects", meta.Stage, locked.PiecesCompleted, locked.RejectPieces)
			if meta.Stage == models.StageCutting {
				details = fmt.Sprintf("%s verified: %d pieces", meta.Stage, locked.PiecesCompleted)
			}
			var pending []pendingNotification

			if meta.Stage == models.StageFinishing {
				actual, rejects, err := finalQuantities(tx, ctx, batch.ID, locked)
				if err != nil {
					return "", nil, err
				}
				if err := tx.WithContext(ctx).Model(batch).Updates(map[string]interface{}{
					"actual_quantity": actual,
					"reject_quantity": rejects,
					"completed_date":  &now,
				}).Error; err != nil {
					return "", nil, utils.NewInternalError(err)
				}
				details = fmt.Sprintf("batch %s completed: %d of %d pieces, %d rejects",
					batch.BatchSku, actual, batch.TargetQuantity, rejects)
				pending = append(pending, pendingNotification{
					recipientId: batch.CreatedById,
					notifType:   models.NotificationTypeBatchAdvanced,
					title:       "Batch completed",
					message:     details,
				})
			}
			return details, pending, nil
		})
}

// finalQuantities derives the completed batch's actual output from the
// finishing task and its rejects from the sewing and finishing tasks
// (cutting tracks material consumed, not rejected pieces).
func finalQuantities(tx *gorm.DB, ctx context.Context, batchId int, finishing *models.StageTask) (int, int, error) {
	rejects := finishing.RejectPieces
	sewing, err := models.ActiveStageTask(tx, ctx, batchId, models.StageSewing)
	if err != nil {
		return 0, 0, err
	}
	if sewing != nil {
		rejects += sewing.RejectPieces
	}
	return finishing.PiecesCompleted, rejects, nil
}

// requireAssignee checks that the calling actor is the task's assignee.
func requireAssignee(tx *gorm.DB, ctx context.Context, task *models.StageTask) error {
	actorId, ok := utils.GetActorIdFromContext(ctx)
	if !ok || actorId == 0 {
		return utils.NewValidationError("actor id is required")
	}
	actor, err := models.GetUser(tx, ctx, actorId)
	if err != nil {
		return err
	}
	if actor.Role == models.RoleAdmin {
		return nil
	}
	if task.AssignedToId != actor.ID {
		return utils.NewForbiddenError("task %d is assigned to another worker", task.ID)
	}
	return nil
}
