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

// StockTransaction is an append-only ledger entry. It is the sole explanation
// for how a material's CurrentStock reached its value: every stock mutation
// is exactly one of these rows, and rows are never updated or deleted.
type StockTransaction struct {
	ID             int                  `gorm:"primary_key" json:"id"`
	MaterialId     int                  `gorm:"index;not null" json:"material_id"`
	Type           StockTransactionType `gorm:"size:20;not null" json:"type"`
	Quantity       decimal.Decimal      `gorm:"type:decimal(20,4);not null" json:"quantity"`
	ResultingStock decimal.Decimal      `gorm:"type:decimal(20,4);not null" json:"resulting_stock"`
	BatchId        *int                 `gorm:"index" json:"batch_id"`
	ActorId        int                  `gorm:"not null" json:"actor_id"`
	Note           string               `gorm:"size:255" json:"note"`
	CreatedAt      time.Time            `gorm:"autoCreateTime" json:"created_at"`
}

type NewStockTransaction struct {
	MaterialId int                  `json:"material_id" binding:"required"`
	Type       StockTransactionType `json:"type" binding:"required"`
	Quantity   decimal.Decimal      `json:"quantity" binding:"required"`
	BatchId    *int                 `json:"batch_id"`
	Note       string               `json:"note"`
}

// ApplyStockTransactionType folds one ledger entry into a stock value.
// IN and RETURN add, OUT subtracts, ADJUSTMENT is an authoritative absolute
// set (stock-count correction) and bypasses the sufficiency check.
func ApplyStockTransactionType(current decimal.Decimal, txnType StockTransactionType, quantity decimal.Decimal) (decimal.Decimal, error) {
	switch txnType {
	case StockTransactionTypeIn, StockTransactionTypeReturn:
		return current.Add(quantity), nil
	case StockTransactionTypeOut:
		next := current.Sub(quantity)
		if next.IsNegative() {
			return current, utils.NewInsufficientStockError(
				"stock %s is insufficient for out quantity %s", current, quantity)
		}
		return next, nil
	case StockTransactionTypeAdjustment:
		if quantity.IsNegative() {
			return current, utils.NewValidationError("adjustment stock value cannot be negative")
		}
		return quantity, nil
	default:
		return current, utils.NewValidationError("invalid stock transaction type %q", txnType)
	}
}

// RecordStockTransaction posts one ledger entry and the resulting material
// stock as one atomic unit. Must run inside the caller's transaction: the
// material row is locked FOR UPDATE so the sufficiency check is made against
// the value seen inside this same transaction, never a stale read.
func RecordStockTransaction(tx *gorm.DB, ctx context.Context, input *NewStockTransaction) (*StockTransaction, error) {
	if !input.Type.Valid() {
		return nil, utils.NewValidationError("invalid stock transaction type %q", input.Type)
	}
	if input.Type != StockTransactionTypeAdjustment && !input.Quantity.IsPositive() {
		return nil, utils.NewValidationError("quantity must be positive")
	}
	actorId, ok := utils.GetActorIdFromContext(ctx)
	if !ok {
		return nil, utils.NewValidationError("actor id is required")
	}

	var material Material
	if err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", input.MaterialId).First(&material).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("material %d not found", input.MaterialId)
		}
		return nil, utils.NewInternalError(err)
	}

	newStock, err := ApplyStockTransactionType(material.CurrentStock, input.Type, input.Quantity)
	if err != nil {
		var appErr *utils.AppError
		if errors.As(err, &appErr) && appErr.Kind == utils.KindInsufficientStock {
			return nil, utils.NewInsufficientStockError(
				"material %s: stock %s is insufficient for out quantity %s",
				material.Code, material.CurrentStock, input.Quantity)
		}
		return nil, err
	}

	record := StockTransaction{
		MaterialId:     input.MaterialId,
		Type:           input.Type,
		Quantity:       input.Quantity,
		ResultingStock: newStock,
		BatchId:        input.BatchId,
		ActorId:        actorId,
		Note:           input.Note,
	}
	if err := tx.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, utils.NewInternalError(err)
	}
	if err := tx.WithContext(ctx).Model(&material).Update("current_stock", newStock).Error; err != nil {
		return nil, utils.NewInternalError(err)
	}
	return &record, nil
}

func ListStockTransactions(db *gorm.DB, ctx context.Context, materialId int) ([]*StockTransaction, error) {
	var results []*StockTransaction
	if err := db.WithContext(ctx).
		Where("material_id = ?", materialId).
		Order("id").
		Find(&results).Error; err != nil {
		return nil, utils.NewInternalError(err)
	}
	return results, nil
}

// ReplayMaterialLedger folds all of a material's transactions in creation
// order and reports whether the fold reproduces CurrentStock exactly.
func ReplayMaterialLedger(db *gorm.DB, ctx context.Context, materialId int) (decimal.Decimal, bool, error) {
	material, err := GetMaterial(db, ctx, materialId)
	if err != nil {
		return decimal.Zero, false, err
	}
	transactions, err := ListStockTransactions(db, ctx, materialId)
	if err != nil {
		return decimal.Zero, false, err
	}

	replayed := decimal.Zero
	for _, txn := range transactions {
		next, err := ApplyStockTransactionType(replayed, txn.Type, txn.Quantity)
		if err != nil {
			return replayed, false, utils.NewConflictError(
				"ledger replay for material %s diverges at transaction %d: %s", material.Code, txn.ID, err)
		}
		replayed = next
	}
	return replayed, replayed.Equal(material.CurrentStock), nil
}
