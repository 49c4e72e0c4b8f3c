package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stitchworks/garment_backend/config"
	"github.com/stitchworks/garment_backend/utils"
	"gorm.io/gorm"
)

// Material is a raw material. CurrentStock is derived state: it is only ever
// mutated through RecordStockTransaction, never written directly.
type Material struct {
	ID           int             `gorm:"primary_key" json:"id"`
	Code         string          `gorm:"size:50;not null;uniqueIndex" json:"code" binding:"required"`
	Name         string          `gorm:"size:100;not null" json:"name" binding:"required"`
	Unit         string          `gorm:"size:20;not null" json:"unit" binding:"required"`
	CurrentStock decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"current_stock"`
	MinimumStock decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"minimum_stock"`
	Price        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"price"`
	IsActive     *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewMaterial struct {
	Code         string          `json:"code" binding:"required"`
	Name         string          `json:"name" binding:"required"`
	Unit         string          `json:"unit" binding:"required"`
	MinimumStock decimal.Decimal `json:"minimum_stock"`
	Price        decimal.Decimal `json:"price"`
}

// validate input for both create & update. (id = 0 for create)
func (input *NewMaterial) validate(db *gorm.DB, ctx context.Context, id int) error {
	if strings.TrimSpace(input.Code) == "" {
		return utils.NewValidationError("material code is required")
	}
	if strings.TrimSpace(input.Name) == "" {
		return utils.NewValidationError("material name is required")
	}
	if input.MinimumStock.IsNegative() {
		return utils.NewValidationError("minimum stock cannot be negative")
	}
	if input.Price.IsNegative() {
		return utils.NewValidationError("price cannot be negative")
	}
	if err := utils.ValidateUnique[Material](db, ctx, "code", input.Code, id); err != nil {
		return err
	}
	return nil
}

func CreateMaterial(db *gorm.DB, ctx context.Context, input *NewMaterial) (*Material, error) {
	if err := input.validate(db, ctx, 0); err != nil {
		return nil, err
	}

	material := Material{
		Code:         strings.TrimSpace(input.Code),
		Name:         input.Name,
		Unit:         input.Unit,
		CurrentStock: decimal.Zero,
		MinimumStock: input.MinimumStock,
		Price:        input.Price,
		IsActive:     utils.NewTrue(),
	}

	if err := db.WithContext(ctx).Create(&material).Error; err != nil {
		return nil, utils.NewInternalError(err)
	}
	return &material, nil
}

func UpdateMaterial(db *gorm.DB, ctx context.Context, id int, input *NewMaterial) (*Material, error) {
	if err := input.validate(db, ctx, id); err != nil {
		return nil, err
	}

	material, err := GetMaterial(db, ctx, id)
	if err != nil {
		return nil, err
	}

	// CurrentStock deliberately not updatable here.
	err = db.WithContext(ctx).Model(material).Updates(map[string]interface{}{
		"code":          strings.TrimSpace(input.Code),
		"name":          input.Name,
		"unit":          input.Unit,
		"minimum_stock": input.MinimumStock,
		"price":         input.Price,
	}).Error
	if err != nil {
		return nil, utils.NewInternalError(err)
	}
	return material, nil
}

func GetMaterial(db *gorm.DB, ctx context.Context, id int) (*Material, error) {
	var material Material
	if err := db.WithContext(ctx).Where("id = ?", id).First(&material).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("material %d not found", id)
		}
		return nil, utils.NewInternalError(err)
	}
	return &material, nil
}

func ListMaterials(db *gorm.DB, ctx context.Context, name *string) ([]*Material, error) {
	var results []*Material
	dbCtx := db.WithContext(ctx)
	if name != nil && len(*name) > 0 {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	if err := dbCtx.Order("name").Find(&results).Error; err != nil {
		return nil, utils.NewInternalError(err)
	}
	return results, nil
}

// materialIsReferenced reports whether the material has allocation history or
// sits on a product's bill of materials. Referenced materials cannot be hard
// deleted, only deactivated.
func materialIsReferenced(db *gorm.DB, ctx context.Context, id int) (bool, error) {
	var count int64
	if err := db.WithContext(ctx).Model(&BatchMaterialAllocation{}).
		Where("material_id = ?", id).Count(&count).Error; err != nil {
		return false, utils.NewInternalError(err)
	}
	if count > 0 {
		return true, nil
	}
	if err := db.WithContext(ctx).Model(&ProductMaterial{}).
		Where("material_id = ?", id).Count(&count).Error; err != nil {
		return false, utils.NewInternalError(err)
	}
	return count > 0, nil
}

func DeleteMaterial(db *gorm.DB, ctx context.Context, id int) (*Material, error) {
	material, err := GetMaterial(db, ctx, id)
	if err != nil {
		return nil, err
	}

	referenced, err := materialIsReferenced(db, ctx, id)
	if err != nil {
		return nil, err
	}
	if referenced {
		return nil, utils.NewConflictError("material %s is referenced by allocations or products; deactivate it instead", material.Code)
	}

	if err := db.WithContext(ctx).Delete(material).Error; err != nil {
		return nil, utils.NewInternalError(err)
	}
	return material, nil
}

func ToggleActiveMaterial(db *gorm.DB, ctx context.Context, id int, isActive bool) (*Material, error) {
	material, err := GetMaterial(db, ctx, id)
	if err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Model(material).Update("is_active", isActive).Error; err != nil {
		return nil, utils.NewInternalError(err)
	}
	return material, nil
}

// StockStatistics are derived aggregates, never stored. Low counts materials
// at/below minimum but above zero; Out counts materials at exactly zero.
type StockStatistics struct {
	LowStockCount   int64           `json:"low_stock_count"`
	OutOfStockCount int64           `json:"out_of_stock_count"`
	TotalValuation  decimal.Decimal `json:"total_valuation"`
}

const stockStatisticsCacheKey = "stockStatistics"

func GetStockStatistics(db *gorm.DB, rdb *config.Redis, ctx context.Context) (*StockStatistics, error) {
	var stats StockStatistics
	if found, err := rdb.GetObject(ctx, stockStatisticsCacheKey, &stats); err == nil && found {
		return &stats, nil
	}

	if err := db.WithContext(ctx).Model(&Material{}).
		Where("is_active = ? AND current_stock > 0 AND current_stock <= minimum_stock", true).
		Count(&stats.LowStockCount).Error; err != nil {
		return nil, utils.NewInternalError(err)
	}
	if err := db.WithContext(ctx).Model(&Material{}).
		Where("is_active = ? AND current_stock = 0", true).
		Count(&stats.OutOfStockCount).Error; err != nil {
		return nil, utils.NewInternalError(err)
	}
	if err := db.WithContext(ctx).Model(&Material{}).
		Where("is_active = ?", true).
		Select("COALESCE(SUM(current_stock * price), 0)").
		Scan(&stats.TotalValuation).Error; err != nil {
		return nil, utils.NewInternalError(err)
	}

	// Short TTL: statistics tolerate slight staleness; writers also invalidate.
	_ = rdb.SetObject(ctx, stockStatisticsCacheKey, &stats, 30*time.Second)
	return &stats, nil
}

// InvalidateStockStatistics drops the cached aggregates after any write that
// moves stock.
func InvalidateStockStatistics(rdb *config.Redis, ctx context.Context) {
	rdb.Delete(ctx, stockStatisticsCacheKey)
}
