package workflow

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/stitchworks/garment_backend/models"
	"gorm.io/gorm"
)

// RecordStockEntry posts a standalone ledger entry (goods receipt, stock
// count correction, supplier return). Warehouse-gated; allocation OUT
// postings go through Allocate instead so they stay tied to a batch.
func (e *BatchEngine) RecordStockEntry(ctx context.Context, input *models.NewStockTransaction) (*models.StockTransaction, error) {
	if _, err := models.RequireRole(e.db, ctx, models.RoleWarehouse); err != nil {
		return nil, err
	}

	var record *models.StockTransaction
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		record, err = models.RecordStockTransaction(tx, ctx, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	models.InvalidateStockStatistics(e.rdb, ctx)
	return record, nil
}

// ReplayLedger folds a material's full transaction history and reports
// whether it reproduces the stored stock.
func (e *BatchEngine) ReplayLedger(ctx context.Context, materialId int) (decimal.Decimal, bool, error) {
	return models.ReplayMaterialLedger(e.db, ctx, materialId)
}

func (e *BatchEngine) StockStatistics(ctx context.Context) (*models.StockStatistics, error) {
	return models.GetStockStatistics(e.db, e.rdb, ctx)
}
