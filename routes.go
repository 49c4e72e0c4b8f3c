package main

import "github.com/gin-gonic/gin"

func registerRoutes(router *gin.Engine, s *apiServer) {
	api := router.Group("/api/v1")

	materials := api.Group("/materials")
	{
		materials.POST("", s.createMaterial)
		materials.GET("", s.listMaterials)
		materials.GET("/statistics", s.stockStatistics)
		materials.GET("/:id", s.getMaterial)
		materials.PUT("/:id", s.updateMaterial)
		materials.DELETE("/:id", s.deleteMaterial)
		materials.PATCH("/:id/active", s.toggleMaterial)
		materials.GET("/:id/transactions", s.listStockTransactions)
		materials.POST("/:id/replay", s.replayLedger)
	}

	api.POST("/stock-transactions", s.recordStockTransaction)

	products := api.Group("/products")
	{
		products.POST("", s.createProduct)
		products.GET("", s.listProducts)
		products.GET("/:id", s.getProduct)
	}

	batches := api.Group("/batches")
	{
		batches.POST("", s.createBatch)
		batches.GET("", s.listBatches)
		batches.GET("/:id", s.getBatch)
		batches.DELETE("/:id", s.deleteBatch)
		batches.POST("/:id/cancel", s.cancelBatch)
		batches.POST("/:id/material-requests", s.requestAllocation)
		batches.POST("/:id/allocate", s.allocate)
		batches.POST("/:id/reject-allocation", s.rejectAllocation)
		batches.POST("/:id/assign", s.assignStage)
		batches.GET("/:id/allocations", s.listBatchAllocations)
		batches.GET("/:id/timeline", s.batchTimeline)
		batches.GET("/:id/qr", s.issueBatchQR)
	}
	api.POST("/qr/resolve", s.resolveBatchQR)

	tasks := api.Group("/tasks")
	{
		tasks.POST("/:id/start", s.startTask)
		tasks.POST("/:id/progress", s.updateTaskProgress)
		tasks.POST("/:id/complete", s.completeTask)
		tasks.POST("/:id/verify", s.verifyTask)
	}

	api.GET("/notifications", s.listNotifications)
}
