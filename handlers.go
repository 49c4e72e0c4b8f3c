package main

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stitchworks/garment_backend/config"
	"github.com/stitchworks/garment_backend/models"
	"github.com/stitchworks/garment_backend/utils"
	"github.com/stitchworks/garment_backend/workflow"
	"gorm.io/gorm"
)

type apiServer struct {
	db     *gorm.DB
	rdb    *config.Redis
	logger *logrus.Logger
	engine *workflow.BatchEngine
}

func newAPIServer(db *gorm.DB, rdb *config.Redis, logger *logrus.Logger) *apiServer {
	return &apiServer{
		db:     db,
		rdb:    rdb,
		logger: logger,
		engine: workflow.NewBatchEngine(db, rdb, logger),
	}
}

var errorStatus = map[utils.ErrorKind]int{
	utils.KindValidation:        http.StatusBadRequest,
	utils.KindForbidden:         http.StatusForbidden,
	utils.KindNotFound:          http.StatusNotFound,
	utils.KindConflict:          http.StatusConflict,
	utils.KindInsufficientStock: http.StatusUnprocessableEntity,
	utils.KindInternal:          http.StatusInternalServerError,
}

func (s *apiServer) respondError(c *gin.Context, funcName string, err error) {
	appErr := utils.AsAppError(err)
	if appErr.Kind == utils.KindInternal {
		config.LogError(s.logger, "handlers.go", funcName, c.FullPath(), nil, err)
	}
	status, ok := errorStatus[appErr.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{
		"error":     string(appErr.Kind),
		"message":   appErr.Error(),
		"retryable": appErr.Retryable(),
	})
}

func pathId(c *gin.Context) (int, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return 0, utils.NewValidationError("invalid id %q", c.Param("id"))
	}
	return id, nil
}

// --- materials & stock ledger ---

func (s *apiServer) createMaterial(c *gin.Context) {
	var input models.NewMaterial
	if err := c.ShouldBindJSON(&input); err != nil {
		s.respondError(c, "createMaterial", utils.NewValidationError("%s", err.Error()))
		return
	}
	material, err := models.CreateMaterial(s.db, c.Request.Context(), &input)
	if err != nil {
		s.respondError(c, "createMaterial", err)
		return
	}
	c.JSON(http.StatusCreated, material)
}

func (s *apiServer) updateMaterial(c *gin.Context) {
	id, err := pathId(c)
	if err != nil {
		s.respondError(c, "updateMaterial", err)
		return
	}
	var input models.NewMaterial
	if err := c.ShouldBindJSON(&input); err != nil {
		s.respondError(c, "updateMaterial", utils.NewValidationError("%s", err.Error()))
		return
	}
	material, err := models.UpdateMaterial(s.db, c.Request.Context(), id, &input)
	if err != nil {
		s.respondError(c, "updateMaterial", err)
		return
	}
	c.JSON(http.StatusOK, material)
}

func (s *apiServer) getMaterial(c *gin.Context) {
	id, err := pathId(c)
	if err != nil {
		s.respondError(c, "getMaterial", err)
		return
	}
	material, err := models.GetMaterial(s.db, c.Request.Context(), id)
	if err != nil {
		s.respondError(c, "getMaterial", err)
		return
	}
	c.JSON(http.StatusOK, material)
}

func (s *apiServer) listMaterials(c *gin.Context) {
	var name *string
	if q := c.Query("name"); q != "" {
		name = &q
	}
	materials, err := models.ListMaterials(s.db, c.Request.Context(), name)
	if err != nil {
		s.respondError(c, "listMaterials", err)
		return
	}
	c.JSON(http.StatusOK, materials)
}

func (s *apiServer) deleteMaterial(c *gin.Context) {
	id, err := pathId(c)
	if err != nil {
		s.respondError(c, "deleteMaterial", err)
		return
	}
	material, err := models.DeleteMaterial(s.db, c.Request.Context(), id)
	if err != nil {
		s.respondError(c, "deleteMaterial", err)
		return
	}
	c.JSON(http.StatusOK, material)
}

func (s *apiServer) toggleMaterial(c *gin.Context) {
	id, err := pathId(c)
	if err != nil {
		s.respondError(c, "toggleMaterial", err)
		return
	}
	var input struct {
		IsActive *bool `json:"is_active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		s.respondError(c, "toggleMaterial", utils.NewValidationError("%s", err.Error()))
		return
	}
	material, err := models.ToggleActiveMaterial(s.db, c.Request.Context(), id, *input.IsActive)
	if err != nil {
		s.respondError(c, "toggleMaterial", err)
		return
	}
	c.JSON(http.StatusOK, material)
}

func (s *apiServer) recordStockTransaction(c *gin.Context) {
	var input models.NewStockTransaction
	if err := c.ShouldBindJSON(&input); err != nil {
		s.respondError(c, "recordStockTransaction", utils.NewValidationError("%s", err.Error()))
		return
	}
	record, err := s.engine.RecordStockEntry(c.Request.Context(), &input)
	if err != nil {
		s.respondError(c, "recordStockTransaction", err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

func (s *apiServer) listStockTransactions(c *gin.Context) {
	id, err := pathId(c)
	if err != nil {
		s.respondError(c, "listStockTransactions", err)
		return
	}
	transactions, err := models.ListStockTransactions(s.db, c.Request.Context(), id)
	if err != nil {
		s.respondError(c, "listStockTransactions", err)
		return
	}
	c.JSON(http.StatusOK, transactions)
}

func (s *apiServer) replayLedger(c *gin.Context) {
	id, err := pathId(c)
	if err != nil {
		s.respondError(c, "replayLedger", err)
		return
	}
	replayed, consistent, err := s.engine.ReplayLedger(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, "replayLedger", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"replayed_stock": replayed, "consistent": consistent})
}

func (s *apiServer) stockStatistics(c *gin.Context) {
	stats, err := s.engine.StockStatistics(c.Request.Context())
	if err != nil {
		s.respondError(c, "stockStatistics", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// --- products ---

func (s *apiServer) createProduct(c *gin.Context) {
	var input models.NewProduct
	if err := c.ShouldBindJSON(&input); err != nil {
		s.respondError(c, "createProduct", utils.NewValidationError("%s", err.Error()))
		return
	}
	product, err := models.CreateProduct(s.db, c.Request.Context(), &input)
	if err != nil {
		s.respondError(c, "createProduct", err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (s *apiServer) listProducts(c *gin.Context) {
	products, err := models.ListProducts(s.db, c.Request.Context())
	if err != nil {
		s.respondError(c, "listProducts", err)
		return
	}
	c.JSON(http.StatusOK, products)
}

func (s *apiServer) getProduct(c *gin.Context) {
	id, err := pathId(c)
	if err != nil {
		s.respondError(c, "getProduct", err)
		return
	}
	product, err := models.GetProduct(s.db, c.Request.Context(), id)
	if err != nil {
		s.respondError(c, "getProduct", err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// --- batches ---

func (s *apiServer) createBatch(c *gin.Context) {
	var input workflow.NewProductionBatch
	if err := c.ShouldBindJSON(&input); err != nil {
		s.respondError(c, "createBatch", utils.NewValidationError("%s", err.Error()))
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "engine.CreateBatch")
	defer span.End()
	batch, err := s.engine.CreateBatch(ctx, &input)
	if err != nil {
		s.respondError(c, "createBatch", err)
		return
	}
	c.JSON(http.StatusCreated, batch)
}

func (s *apiServer) getBatch(c *gin.Context) {
	id, err := pathId(c)
	if err != nil {
		s.respondError(c, "getBatch", err)
		return
	}
	batch, err := models.GetProductionBatch(s.db, c.Request.Context(), id)
	if err != nil {
		s.respondError(c, "getBatch", err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (s *apiServer) listBatches(c *gin.Context) {
	var status *models.BatchStatus
	if q := c.Query("status"); q != "" {
		st := models.BatchStatus(q)
		status = &st
	}
	batches, err := models.ListProductionBatches(s.db, c.Request.Context(), status)
	if err != nil {
		s.respondError(c, "listBatches", err)
		return
	}
	c.JSON(http.StatusOK, batches)
}

func (s *apiServer) deleteBatch(c *gin.Context) {
	id, err := pathId(c)
	if err != nil {
		s.respondError(c, "deleteBatch", err)
		return
	}
	if err := s.engine.DeleteBatch(c.Request.Context(), id); err != nil {
		s.respondError(c, "deleteBatch", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *apiServer) cancelBatch(c *gin.Context) {
	id, err := pathId(c)
	if err != nil {
		s.respondError(c, "cancelBatch", err)
		return
	}
	var input struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&input)
	batch, err := s.engine.CancelBatch(c.Request.Context(), id, input.Reason)
	if err != nil {
		s.respondError(c, "cancelBatch", err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (s *apiServer) requestAllocation(c *gin.Context) {
	id, err := pathId(c)
	if err != nil {
		s.respondError(c, "requestAllocation", err)
		return
	}
	var input struct {
		Requests []models.NewMaterialRequest `json:"requests" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		s.respondError(c, "requestAllocation", utils.NewValidationError("%s", err.Error()))
		return
	}
	batch, err := s.engine.RequestAllocation(c.Request.Context(), id, input.Requests)
	if err != nil {
		s.respondError(c, "requestAllocation", err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (s *apiServer) allocate(c *gin.Context) {
	id, err := pathId(c)
	if err != nil {
		s.respondError(c, "allocate", err)
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "engine.Allocate")
	defer span.End()
	batch, err := s.engine.Allocate(ctx, id)
	if err != nil {
		s.respondError(c, "allocate", err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (s *apiServer) rejectAllocation(c *gin.Context) {
	id, err := pathId(c)
	if err != nil {
		s.respondError(c, "rejectAllocation", err)
		return
	}
	var input struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&input)
	batch, err := s.engine.RejectAllocation(c.Request.Context(), id, input.Reason)
	if err != nil {
		s.respondError(c, "rejectAllocation", err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (s *apiServer) assignStage(c *gin.Context) {
	id, err := pathId(c)
	if err != nil {
		s.respondError(c, "assignStage", err)
		return
	}
	var input workflow.AssignStageInput
	if err := c.ShouldBindJSON(&input); err != nil {
		s.respondError(c, "assignStage", utils.NewValidationError("%s", err.Error()))
		return
	}
	batch, err := s.engine.AssignStage(c.Request.Context(), id, &input)
	if err != nil {
		s.respondError(c, "assignStage", err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (s *apiServer) listBatchAllocations(c *gin.Context) {
	id, err := pathId(c)
	if err != nil {
		s.respondError(c, "listBatchAllocations", err)
		return
	}
	allocations, err := models.ListBatchAllocations(s.db, c.Request.Context(), id)
	if err != nil {
		s.respondError(c, "listBatchAllocations", err)
		return
	}
	c.JSON(http.StatusOK, allocations)
}

func (s *apiServer) batchTimeline(c *gin.Context) {
	id, err := pathId(c)
	if err != nil {
		s.respondError(c, "batchTimeline", err)
		return
	}
	timeline, err := models.ListBatchTimeline(s.db, c.Request.Context(), id)
	if err != nil {
		s.respondError(c, "batchTimeline", err)
		return
	}
	c.JSON(http.StatusOK, timeline)
}

func (s *apiServer) issueBatchQR(c *gin.Context) {
	id, err := pathId(c)
	if err != nil {
		s.respondError(c, "issueBatchQR", err)
		return
	}
	payload, err := models.IssueBatchQRPayload(s.db, c.Request.Context(), id)
	if err != nil {
		s.respondError(c, "issueBatchQR", err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (s *apiServer) resolveBatchQR(c *gin.Context) {
	var payload models.BatchQRPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		s.respondError(c, "resolveBatchQR", utils.NewValidationError("%s", err.Error()))
		return
	}
	batch, err := models.ResolveBatchQRPayload(s.db, c.Request.Context(), &payload)
	if err != nil {
		s.respondError(c, "resolveBatchQR", err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

// --- stage tasks ---

func (s *apiServer) startTask(c *gin.Context) {
	id, err := pathId(c)
	if err != nil {
		s.respondError(c, "startTask", err)
		return
	}
	task, err := s.engine.StartTask(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, "startTask", err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *apiServer) updateTaskProgress(c *gin.Context) {
	id, err := pathId(c)
	if err != nil {
		s.respondError(c, "updateTaskProgress", err)
		return
	}
	var input workflow.ProgressUpdate
	if err := c.ShouldBindJSON(&input); err != nil {
		s.respondError(c, "updateTaskProgress", utils.NewValidationError("%s", err.Error()))
		return
	}
	task, err := s.engine.UpdateProgress(c.Request.Context(), id, &input)
	if err != nil {
		s.respondError(c, "updateTaskProgress", err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *apiServer) completeTask(c *gin.Context) {
	id, err := pathId(c)
	if err != nil {
		s.respondError(c, "completeTask", err)
		return
	}
	var input struct {
		Notes string `json:"notes"`
	}
	_ = c.ShouldBindJSON(&input)
	task, err := s.engine.CompleteTask(c.Request.Context(), id, input.Notes)
	if err != nil {
		s.respondError(c, "completeTask", err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *apiServer) verifyTask(c *gin.Context) {
	id, err := pathId(c)
	if err != nil {
		s.respondError(c, "verifyTask", err)
		return
	}
	batch, err := s.engine.VerifyTask(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, "verifyTask", err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

// --- notifications ---

func (s *apiServer) listNotifications(c *gin.Context) {
	actorId, ok := utils.GetActorIdFromContext(c.Request.Context())
	if !ok || actorId == 0 {
		s.respondError(c, "listNotifications", utils.NewValidationError("actor id is required"))
		return
	}
	notifications, err := models.ListNotifications(s.db, c.Request.Context(), actorId)
	if err != nil {
		s.respondError(c, "listNotifications", err)
		return
	}
	c.JSON(http.StatusOK, notifications)
}
