package workflow_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stitchworks/garment_backend/config"
	"github.com/stitchworks/garment_backend/models"
	"github.com/stitchworks/garment_backend/utils"
	"github.com/stitchworks/garment_backend/workflow"
	"gorm.io/gorm"
)

const (
	testLeadId      = 1
	testWarehouseId = 2
	testQCId        = 3
	testCutterId    = 4
	testSewerId     = 5
	testFinisherId  = 6
)

func TestBatchLifecycleEndToEnd(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	db, engine := setupBackend(t)
	ctx := context.Background()
	leadCtx := actorCtx(ctx, testLeadId, "Test Lead")
	warehouseCtx := actorCtx(ctx, testWarehouseId, "Test Warehouse")
	qcCtx := actorCtx(ctx, testQCId, "Test QC")
	cutterCtx := actorCtx(ctx, testCutterId, "Test Cutter")
	sewerCtx := actorCtx(ctx, testSewerId, "Test Sewer")
	finisherCtx := actorCtx(ctx, testFinisherId, "Test Finisher")

	fabric := seedMaterialWithStock(t, db, warehouseCtx, "FAB-001", 500)
	product := seedProduct(t, db, leadCtx, "TS-001", fabric.ID)

	// Lead opens the batch with a material request; no stock moves yet.
	batch, err := engine.CreateBatch(leadCtx, &workflow.NewProductionBatch{
		ProductId:      product.ID,
		TargetQuantity: 500,
		MaterialRequests: []models.NewMaterialRequest{
			{MaterialId: fabric.ID, RequestedQty: decimal.NewFromInt(250)},
		},
	})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if batch.Status != models.BatchStatusMaterialRequested {
		t.Fatalf("expected MATERIAL_REQUESTED, got %s", batch.Status)
	}
	wantSku := models.FormatBatchSku(time.Now().UTC(), 1)
	if batch.BatchSku != wantSku {
		t.Fatalf("expected sku %q, got %q", wantSku, batch.BatchSku)
	}
	mustStock(t, db, ctx, fabric.ID, "500")

	// Warehouse allocates: stock moves exactly once, tagged with the batch.
	batch, err = engine.Allocate(warehouseCtx, batch.ID)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if batch.Status != models.BatchStatusMaterialAllocated {
		t.Fatalf("expected MATERIAL_ALLOCATED, got %s", batch.Status)
	}
	mustStock(t, db, ctx, fabric.ID, "250")

	txns, err := models.ListStockTransactions(db, ctx, fabric.ID)
	if err != nil {
		t.Fatalf("ListStockTransactions: %v", err)
	}
	var outs []*models.StockTransaction
	for _, txn := range txns {
		if txn.Type == models.StockTransactionTypeOut {
			outs = append(outs, txn)
		}
	}
	if len(outs) != 1 {
		t.Fatalf("expected exactly one OUT transaction, got %d", len(outs))
	}
	if outs[0].BatchId == nil || *outs[0].BatchId != batch.ID {
		t.Fatalf("OUT transaction not tagged with batch: %+v", outs[0])
	}
	for _, alloc := range batch.MaterialAllocations {
		if alloc.Status != models.AllocationStatusAllocated {
			t.Fatalf("allocation %d not ALLOCATED: %s", alloc.ID, alloc.Status)
		}
	}

	// Cutting tracks material consumed and pieces cut; no reject count.
	batch = assignAndRun(t, engine, db, leadCtx, qcCtx, cutterCtx, batch.ID, stageRun{
		stage:       models.StageCutting,
		assigneeId:  testCutterId,
		materialQty: decimal.NewFromInt(250),
		completed:   480,
	})
	if batch.Status != models.BatchStatusCuttingVerified {
		t.Fatalf("expected CUTTING_VERIFIED, got %s", batch.Status)
	}

	// Sewing receives the cutter's completed pieces.
	sewTask := mustAssign(t, engine, db, leadCtx, batch.ID, models.StageSewing, testSewerId, decimal.Zero)
	if sewTask.PiecesReceived != 480 {
		t.Fatalf("sewing pieces received = %d, want 480", sewTask.PiecesReceived)
	}
	batch = runStage(t, engine, db, qcCtx, sewerCtx, batch.ID, models.StageSewing, 470, 10)
	if batch.Status != models.BatchStatusSewingVerified {
		t.Fatalf("expected SEWING_VERIFIED, got %s", batch.Status)
	}

	// Finishing verification completes the batch.
	finTask := mustAssign(t, engine, db, leadCtx, batch.ID, models.StageFinishing, testFinisherId, decimal.Zero)
	if finTask.PiecesReceived != 470 {
		t.Fatalf("finishing pieces received = %d, want 470", finTask.PiecesReceived)
	}
	batch = runStage(t, engine, db, qcCtx, finisherCtx, batch.ID, models.StageFinishing, 465, 5)
	if batch.Status != models.BatchStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", batch.Status)
	}
	if batch.ActualQuantity != 465 {
		t.Fatalf("actual quantity = %d, want 465", batch.ActualQuantity)
	}
	if batch.RejectQuantity != 15 {
		t.Fatalf("reject quantity = %d, want 15 (sewing 10 + finishing 5)", batch.RejectQuantity)
	}
	if batch.CompletedDate == nil {
		t.Fatal("completed date not set")
	}

	// The ledger must replay to the material's current stock.
	replayed, consistent, err := engine.ReplayLedger(ctx, fabric.ID)
	if err != nil {
		t.Fatalf("ReplayLedger: %v", err)
	}
	if !consistent {
		t.Fatalf("ledger replay inconsistent: replayed %s", replayed)
	}

	// Timeline carries the full audit trail, newest first.
	timeline, err := models.ListBatchTimeline(db, ctx, batch.ID)
	if err != nil {
		t.Fatalf("ListBatchTimeline: %v", err)
	}
	if len(timeline) == 0 {
		t.Fatal("empty timeline")
	}
	if timeline[0].Event != models.TimelineEventBatchCompleted {
		t.Fatalf("newest timeline event = %s, want BATCH_COMPLETED", timeline[0].Event)
	}
	if timeline[len(timeline)-1].Event != models.TimelineEventBatchCreated {
		t.Fatalf("oldest timeline event = %s, want BATCH_CREATED", timeline[len(timeline)-1].Event)
	}
}

func TestAssignRejectedBeforeAllocationLeavesNoTrace(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	db, engine := setupBackend(t)
	ctx := context.Background()
	leadCtx := actorCtx(ctx, testLeadId, "Test Lead")

	fabric := seedMaterialWithStock(t, db, actorCtx(ctx, testWarehouseId, "Test Warehouse"), "FAB-002", 100)
	product := seedProduct(t, db, leadCtx, "TS-002", fabric.ID)

	// A batch with no material request stays PENDING.
	batch, err := engine.CreateBatch(leadCtx, &workflow.NewProductionBatch{
		ProductId:      product.ID,
		TargetQuantity: 100,
	})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if batch.Status != models.BatchStatusPending {
		t.Fatalf("expected PENDING, got %s", batch.Status)
	}

	timelineBefore, _ := models.ListBatchTimeline(db, ctx, batch.ID)

	_, err = engine.AssignStage(leadCtx, batch.ID, &workflow.AssignStageInput{
		Stage:        models.StageCutting,
		AssignedToId: testCutterId,
		MaterialQty:  decimal.NewFromInt(10),
	})
	if err == nil {
		t.Fatal("expected conflict assigning cutter on PENDING batch")
	}
	if utils.KindOf(err) != utils.KindConflict {
		t.Fatalf("expected ConflictError, got %s: %v", utils.KindOf(err), err)
	}

	// Failed assignment must not leave a task or timeline entry behind.
	task, err := models.ActiveStageTask(db, ctx, batch.ID, models.StageCutting)
	if err != nil {
		t.Fatalf("ActiveStageTask: %v", err)
	}
	if task != nil {
		t.Fatalf("unexpected task after rejected assignment: %+v", task)
	}
	timelineAfter, _ := models.ListBatchTimeline(db, ctx, batch.ID)
	if len(timelineAfter) != len(timelineBefore) {
		t.Fatalf("timeline grew on rejected assignment: %d -> %d", len(timelineBefore), len(timelineAfter))
	}
	got, err := models.GetProductionBatch(db, ctx, batch.ID)
	if err != nil {
		t.Fatalf("GetProductionBatch: %v", err)
	}
	if got.Status != models.BatchStatusPending {
		t.Fatalf("status moved on rejected assignment: %s", got.Status)
	}
}

func TestAssignRejectsWorkerWithWrongRole(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	db, engine := setupBackend(t)
	ctx := context.Background()
	leadCtx := actorCtx(ctx, testLeadId, "Test Lead")
	warehouseCtx := actorCtx(ctx, testWarehouseId, "Test Warehouse")

	fabric := seedMaterialWithStock(t, db, warehouseCtx, "FAB-003", 100)
	product := seedProduct(t, db, leadCtx, "TS-003", fabric.ID)

	batch, err := engine.CreateBatch(leadCtx, &workflow.NewProductionBatch{
		ProductId:      product.ID,
		TargetQuantity: 50,
		MaterialRequests: []models.NewMaterialRequest{
			{MaterialId: fabric.ID, RequestedQty: decimal.NewFromInt(50)},
		},
	})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if _, err := engine.Allocate(warehouseCtx, batch.ID); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	// A sewer cannot hold the cutting task.
	_, err = engine.AssignStage(leadCtx, batch.ID, &workflow.AssignStageInput{
		Stage:        models.StageCutting,
		AssignedToId: testSewerId,
		MaterialQty:  decimal.NewFromInt(50),
	})
	if err == nil {
		t.Fatal("expected forbidden assigning sewer to cutting")
	}
	if utils.KindOf(err) != utils.KindForbidden {
		t.Fatalf("expected ForbiddenError, got %s: %v", utils.KindOf(err), err)
	}
}

func TestAllocateInsufficientStockRollsBackEverything(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	db, engine := setupBackend(t)
	ctx := context.Background()
	leadCtx := actorCtx(ctx, testLeadId, "Test Lead")
	warehouseCtx := actorCtx(ctx, testWarehouseId, "Test Warehouse")

	fabric := seedMaterialWithStock(t, db, warehouseCtx, "FAB-004", 500)
	product := seedProduct(t, db, leadCtx, "TS-004", fabric.ID)

	batch, err := engine.CreateBatch(leadCtx, &workflow.NewProductionBatch{
		ProductId:      product.ID,
		TargetQuantity: 600,
		MaterialRequests: []models.NewMaterialRequest{
			{MaterialId: fabric.ID, RequestedQty: decimal.NewFromInt(600)},
		},
	})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	_, err = engine.Allocate(warehouseCtx, batch.ID)
	if err == nil {
		t.Fatal("expected insufficient stock error")
	}
	if utils.KindOf(err) != utils.KindInsufficientStock {
		t.Fatalf("expected InsufficientStockError, got %s: %v", utils.KindOf(err), err)
	}

	// Nothing may have moved: stock, status, allocation rows, ledger.
	mustStock(t, db, ctx, fabric.ID, "500")
	got, err := models.GetProductionBatch(db, ctx, batch.ID)
	if err != nil {
		t.Fatalf("GetProductionBatch: %v", err)
	}
	if got.Status != models.BatchStatusMaterialRequested {
		t.Fatalf("status moved on failed allocation: %s", got.Status)
	}
	for _, alloc := range got.MaterialAllocations {
		if alloc.Status != models.AllocationStatusRequested {
			t.Fatalf("allocation moved on failed allocation: %s", alloc.Status)
		}
	}
	txns, _ := models.ListStockTransactions(db, ctx, fabric.ID)
	for _, txn := range txns {
		if txn.Type == models.StockTransactionTypeOut {
			t.Fatalf("unexpected OUT transaction after failed allocation: %+v", txn)
		}
	}
}

func TestConcurrentAllocationHasExactlyOneWinner(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	db, engine := setupBackend(t)
	ctx := context.Background()
	leadCtx := actorCtx(ctx, testLeadId, "Test Lead")
	warehouseCtx := actorCtx(ctx, testWarehouseId, "Test Warehouse")

	fabric := seedMaterialWithStock(t, db, warehouseCtx, "FAB-005", 500)
	product := seedProduct(t, db, leadCtx, "TS-005", fabric.ID)

	batch, err := engine.CreateBatch(leadCtx, &workflow.NewProductionBatch{
		ProductId:      product.ID,
		TargetQuantity: 500,
		MaterialRequests: []models.NewMaterialRequest{
			{MaterialId: fabric.ID, RequestedQty: decimal.NewFromInt(250)},
		},
	})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	const racers = 4
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Allocate(warehouseCtx, batch.ID)
		}(i)
	}
	wg.Wait()

	var wins int
	for i, err := range errs {
		if err == nil {
			wins++
			continue
		}
		if utils.KindOf(err) != utils.KindConflict {
			t.Errorf("racer %d: expected ConflictError, got %s: %v", i, utils.KindOf(err), err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one successful allocation, got %d", wins)
	}

	// Stock was decremented exactly once.
	mustStock(t, db, ctx, fabric.ID, "250")
	txns, _ := models.ListStockTransactions(db, ctx, fabric.ID)
	var outs int
	for _, txn := range txns {
		if txn.Type == models.StockTransactionTypeOut {
			outs++
		}
	}
	if outs != 1 {
		t.Fatalf("expected one OUT transaction, got %d", outs)
	}
}

func TestAllocationRaceAcrossBatchesLeavesStockForOne(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	db, engine := setupBackend(t)
	ctx := context.Background()
	leadCtx := actorCtx(ctx, testLeadId, "Test Lead")
	warehouseCtx := actorCtx(ctx, testWarehouseId, "Test Warehouse")

	// 500 in stock, two batches wanting 300 each: only one can be served.
	fabric := seedMaterialWithStock(t, db, warehouseCtx, "FAB-007", 500)
	product := seedProduct(t, db, leadCtx, "TS-007", fabric.ID)

	batches := make([]*models.ProductionBatch, 2)
	for i := range batches {
		batch, err := engine.CreateBatch(leadCtx, &workflow.NewProductionBatch{
			ProductId:      product.ID,
			TargetQuantity: 300,
			MaterialRequests: []models.NewMaterialRequest{
				{MaterialId: fabric.ID, RequestedQty: decimal.NewFromInt(300)},
			},
		})
		if err != nil {
			t.Fatalf("CreateBatch %d: %v", i, err)
		}
		batches[i] = batch
	}

	errs := make([]error, len(batches))
	var wg sync.WaitGroup
	for i := range batches {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Allocate(warehouseCtx, batches[i].ID)
		}(i)
	}
	wg.Wait()

	var wins, starved int
	for i, err := range errs {
		switch {
		case err == nil:
			wins++
		case utils.KindOf(err) == utils.KindInsufficientStock:
			starved++
		default:
			t.Errorf("batch %d: expected InsufficientStockError, got %s: %v", i, utils.KindOf(err), err)
		}
	}
	if wins != 1 || starved != 1 {
		t.Fatalf("expected one winner and one starved batch, got %d wins, %d starved", wins, starved)
	}

	// Stock reflects exactly one deduction; the loser left no trace.
	mustStock(t, db, ctx, fabric.ID, "200")
	txns, _ := models.ListStockTransactions(db, ctx, fabric.ID)
	var outs int
	for _, txn := range txns {
		if txn.Type == models.StockTransactionTypeOut {
			outs++
		}
	}
	if outs != 1 {
		t.Fatalf("expected one OUT transaction, got %d", outs)
	}
	for i, err := range errs {
		if err == nil {
			continue
		}
		loser, getErr := models.GetProductionBatch(db, ctx, batches[i].ID)
		if getErr != nil {
			t.Fatalf("GetProductionBatch: %v", getErr)
		}
		if loser.Status != models.BatchStatusMaterialRequested {
			t.Fatalf("starved batch status = %s, want MATERIAL_REQUESTED", loser.Status)
		}
		for _, alloc := range loser.MaterialAllocations {
			if alloc.Status != models.AllocationStatusRequested {
				t.Fatalf("starved batch allocation moved: %s", alloc.Status)
			}
		}
	}
}

func TestCuttingProgressRejectsRejectedPieces(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	db, engine := setupBackend(t)
	ctx := context.Background()
	leadCtx := actorCtx(ctx, testLeadId, "Test Lead")
	warehouseCtx := actorCtx(ctx, testWarehouseId, "Test Warehouse")
	cutterCtx := actorCtx(ctx, testCutterId, "Test Cutter")

	fabric := seedMaterialWithStock(t, db, warehouseCtx, "FAB-008", 100)
	product := seedProduct(t, db, leadCtx, "TS-008", fabric.ID)

	batch, err := engine.CreateBatch(leadCtx, &workflow.NewProductionBatch{
		ProductId:      product.ID,
		TargetQuantity: 100,
		MaterialRequests: []models.NewMaterialRequest{
			{MaterialId: fabric.ID, RequestedQty: decimal.NewFromInt(50)},
		},
	})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if _, err := engine.Allocate(warehouseCtx, batch.ID); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	task := mustAssign(t, engine, db, leadCtx, batch.ID, models.StageCutting, testCutterId, decimal.NewFromInt(50))
	if _, err := engine.StartTask(cutterCtx, task.ID); err != nil {
		t.Fatalf("StartTask: %v", err)
	}

	_, err = engine.UpdateProgress(cutterCtx, task.ID, &workflow.ProgressUpdate{
		DeltaCompleted: 10,
		DeltaReject:    2,
	})
	if err == nil {
		t.Fatal("expected validation error for rejects on a cutting task")
	}
	if utils.KindOf(err) != utils.KindValidation {
		t.Fatalf("expected ValidationError, got %s: %v", utils.KindOf(err), err)
	}

	// The rejected delta must not have landed partially.
	got, err := models.GetStageTask(db, ctx, task.ID)
	if err != nil {
		t.Fatalf("GetStageTask: %v", err)
	}
	if got.PiecesCompleted != 0 || got.RejectPieces != 0 {
		t.Fatalf("counters moved on rejected update: %d pieces, %d rejects", got.PiecesCompleted, got.RejectPieces)
	}

	// Pieces-only progress still goes through.
	updated, err := engine.UpdateProgress(cutterCtx, task.ID, &workflow.ProgressUpdate{DeltaCompleted: 10})
	if err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	if updated.PiecesCompleted != 10 {
		t.Fatalf("pieces completed = %d, want 10", updated.PiecesCompleted)
	}
}

func TestCancelAllocatedBatchReturnsStock(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	db, engine := setupBackend(t)
	ctx := context.Background()
	leadCtx := actorCtx(ctx, testLeadId, "Test Lead")
	warehouseCtx := actorCtx(ctx, testWarehouseId, "Test Warehouse")

	fabric := seedMaterialWithStock(t, db, warehouseCtx, "FAB-006", 500)
	product := seedProduct(t, db, leadCtx, "TS-006", fabric.ID)

	batch, err := engine.CreateBatch(leadCtx, &workflow.NewProductionBatch{
		ProductId:      product.ID,
		TargetQuantity: 500,
		MaterialRequests: []models.NewMaterialRequest{
			{MaterialId: fabric.ID, RequestedQty: decimal.NewFromInt(200)},
		},
	})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if _, err := engine.Allocate(warehouseCtx, batch.ID); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	mustStock(t, db, ctx, fabric.ID, "300")

	batch, err = engine.CancelBatch(leadCtx, batch.ID, "order withdrawn")
	if err != nil {
		t.Fatalf("CancelBatch: %v", err)
	}
	if batch.Status != models.BatchStatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", batch.Status)
	}
	// Allocated material came back via a RETURN entry.
	mustStock(t, db, ctx, fabric.ID, "500")
	txns, _ := models.ListStockTransactions(db, ctx, fabric.ID)
	var returns int
	for _, txn := range txns {
		if txn.Type == models.StockTransactionTypeReturn {
			returns++
		}
	}
	if returns != 1 {
		t.Fatalf("expected one RETURN transaction, got %d", returns)
	}
	replayed, consistent, err := engine.ReplayLedger(ctx, fabric.ID)
	if err != nil {
		t.Fatalf("ReplayLedger: %v", err)
	}
	if !consistent {
		t.Fatalf("ledger replay inconsistent after cancel: %s", replayed)
	}
}

// --- helpers ---

type stageRun struct {
	stage       models.Stage
	assigneeId  int
	materialQty decimal.Decimal
	completed   int
	rejected    int
}

func assignAndRun(t *testing.T, engine *workflow.BatchEngine, db *gorm.DB, leadCtx, qcCtx, workerCtx context.Context, batchId int, run stageRun) *models.ProductionBatch {
	t.Helper()
	mustAssign(t, engine, db, leadCtx, batchId, run.stage, run.assigneeId, run.materialQty)
	return runStage(t, engine, db, qcCtx, workerCtx, batchId, run.stage, run.completed, run.rejected)
}

func mustAssign(t *testing.T, engine *workflow.BatchEngine, db *gorm.DB, leadCtx context.Context, batchId int, stage models.Stage, assigneeId int, materialQty decimal.Decimal) *models.StageTask {
	t.Helper()
	_, err := engine.AssignStage(leadCtx, batchId, &workflow.AssignStageInput{
		Stage:        stage,
		AssignedToId: assigneeId,
		MaterialQty:  materialQty,
	})
	if err != nil {
		t.Fatalf("AssignStage(%s): %v", stage, err)
	}
	task := mustActiveTask(t, db, batchId, stage)
	if task.Status != models.TaskStatusPending {
		t.Fatalf("fresh %s task status = %s, want PENDING", stage, task.Status)
	}
	return task
}

func runStage(t *testing.T, engine *workflow.BatchEngine, db *gorm.DB, qcCtx, workerCtx context.Context, batchId int, stage models.Stage, completed, rejected int) *models.ProductionBatch {
	t.Helper()
	task := mustActiveTask(t, db, batchId, stage)

	if _, err := engine.StartTask(workerCtx, task.ID); err != nil {
		t.Fatalf("StartTask(%s): %v", stage, err)
	}
	if _, err := engine.UpdateProgress(workerCtx, task.ID, &workflow.ProgressUpdate{
		DeltaCompleted: completed,
		DeltaReject:    rejected,
	}); err != nil {
		t.Fatalf("UpdateProgress(%s): %v", stage, err)
	}
	if _, err := engine.CompleteTask(workerCtx, task.ID, ""); err != nil {
		t.Fatalf("CompleteTask(%s): %v", stage, err)
	}
	batch, err := engine.VerifyTask(qcCtx, task.ID)
	if err != nil {
		t.Fatalf("VerifyTask(%s): %v", stage, err)
	}
	verified, err := models.GetStageTask(db, context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetStageTask(%s): %v", stage, err)
	}
	if verified.Status != models.TaskStatusVerified {
		t.Fatalf("%s task status = %s, want VERIFIED", stage, verified.Status)
	}
	return batch
}

func mustActiveTask(t *testing.T, db *gorm.DB, batchId int, stage models.Stage) *models.StageTask {
	t.Helper()
	task, err := models.ActiveStageTask(db, context.Background(), batchId, stage)
	if err != nil {
		t.Fatalf("ActiveStageTask(%s): %v", stage, err)
	}
	if task == nil {
		t.Fatalf("no active %s task", stage)
	}
	return task
}

func mustStock(t *testing.T, db *gorm.DB, ctx context.Context, materialId int, want string) {
	t.Helper()
	material, err := models.GetMaterial(db, ctx, materialId)
	if err != nil {
		t.Fatalf("GetMaterial: %v", err)
	}
	if material.CurrentStock.Cmp(decimal.RequireFromString(want)) != 0 {
		t.Fatalf("material %d stock = %s, want %s", materialId, material.CurrentStock, want)
	}
}

func actorCtx(ctx context.Context, actorId int, name string) context.Context {
	ctx = utils.SetActorIdInContext(ctx, actorId)
	return utils.SetActorNameInContext(ctx, name)
}

func seedMaterialWithStock(t *testing.T, db *gorm.DB, warehouseCtx context.Context, code string, qty int64) *models.Material {
	t.Helper()
	material, err := models.CreateMaterial(db, warehouseCtx, &models.NewMaterial{
		Code: code,
		Name: "Material " + code,
		Unit: "m",
	})
	if err != nil {
		t.Fatalf("CreateMaterial: %v", err)
	}
	err = db.WithContext(warehouseCtx).Transaction(func(tx *gorm.DB) error {
		_, err := models.RecordStockTransaction(tx, warehouseCtx, &models.NewStockTransaction{
			MaterialId: material.ID,
			Type:       models.StockTransactionTypeIn,
			Quantity:   decimal.NewFromInt(qty),
			Note:       "opening stock",
		})
		return err
	})
	if err != nil {
		t.Fatalf("RecordStockTransaction: %v", err)
	}
	return material
}

func seedProduct(t *testing.T, db *gorm.DB, ctx context.Context, sku string, materialId int) *models.Product {
	t.Helper()
	product, err := models.CreateProduct(db, ctx, &models.NewProduct{
		Sku:  sku,
		Name: "Product " + sku,
		Materials: []models.NewProductMaterial{
			{MaterialId: materialId, QtyPerPiece: decimal.NewFromFloat(0.5)},
		},
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	return product
}

func seedRoster(t *testing.T, db *gorm.DB) {
	t.Helper()
	users := []models.User{
		{ID: testLeadId, Name: "Test Lead", Email: "lead@test.local", Role: models.RoleProductionLead, IsActive: utils.NewTrue()},
		{ID: testWarehouseId, Name: "Test Warehouse", Email: "warehouse@test.local", Role: models.RoleWarehouse, IsActive: utils.NewTrue()},
		{ID: testQCId, Name: "Test QC", Email: "qc@test.local", Role: models.RoleQC, IsActive: utils.NewTrue()},
		{ID: testCutterId, Name: "Test Cutter", Email: "cutter@test.local", Role: models.RoleCutter, IsActive: utils.NewTrue()},
		{ID: testSewerId, Name: "Test Sewer", Email: "sewer@test.local", Role: models.RoleSewer, IsActive: utils.NewTrue()},
		{ID: testFinisherId, Name: "Test Finisher", Email: "finisher@test.local", Role: models.RoleFinisher, IsActive: utils.NewTrue()},
	}
	for i := range users {
		if err := db.Create(&users[i]).Error; err != nil {
			t.Fatalf("seed user %q: %v", users[i].Name, err)
		}
	}
}

func setupBackend(t *testing.T) (*gorm.DB, *workflow.BatchEngine) {
	t.Helper()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "garment_test")

	db := config.ConnectDatabaseWithRetry()
	models.MigrateTable(db)
	rdb := config.ConnectRedis()

	seedRoster(t, db)

	logger := logrus.New()
	engine := workflow.NewBatchEngine(db, rdb, logger)
	return db, engine
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("garment-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("garment-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=garment_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
