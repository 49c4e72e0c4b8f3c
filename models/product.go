package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stitchworks/garment_backend/utils"
	"gorm.io/gorm"
)

type Product struct {
	ID        int                `gorm:"primary_key" json:"id"`
	Sku       string             `gorm:"size:50;not null;uniqueIndex" json:"sku" binding:"required"`
	Name      string             `gorm:"size:100;not null" json:"name" binding:"required"`
	Materials []*ProductMaterial `gorm:"foreignKey:ProductId" json:"materials"`
	IsActive  *bool              `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// ProductMaterial is one bill-of-materials line: quantity of a material
// needed per produced piece.
type ProductMaterial struct {
	ID          int             `gorm:"primary_key" json:"id"`
	ProductId   int             `gorm:"index;not null" json:"product_id"`
	MaterialId  int             `gorm:"index;not null" json:"material_id"`
	QtyPerPiece decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty_per_piece"`
}

type NewProduct struct {
	Sku       string               `json:"sku" binding:"required"`
	Name      string               `json:"name" binding:"required"`
	Materials []NewProductMaterial `json:"materials"`
}

type NewProductMaterial struct {
	MaterialId  int             `json:"material_id" binding:"required"`
	QtyPerPiece decimal.Decimal `json:"qty_per_piece" binding:"required"`
}

func CreateProduct(db *gorm.DB, ctx context.Context, input *NewProduct) (*Product, error) {
	if strings.TrimSpace(input.Sku) == "" || strings.TrimSpace(input.Name) == "" {
		return nil, utils.NewValidationError("product sku and name are required")
	}
	if err := utils.ValidateUnique[Product](db, ctx, "sku", input.Sku, 0); err != nil {
		return nil, err
	}
	for _, line := range input.Materials {
		if err := utils.ValidateResourceId[Material](db, ctx, line.MaterialId); err != nil {
			return nil, utils.NewNotFoundError("material %d not found", line.MaterialId)
		}
		if !line.QtyPerPiece.IsPositive() {
			return nil, utils.NewValidationError("qty per piece must be positive")
		}
	}

	product := Product{
		Sku:      strings.TrimSpace(input.Sku),
		Name:     input.Name,
		IsActive: utils.NewTrue(),
	}
	for _, line := range input.Materials {
		product.Materials = append(product.Materials, &ProductMaterial{
			MaterialId:  line.MaterialId,
			QtyPerPiece: line.QtyPerPiece,
		})
	}

	if err := db.WithContext(ctx).Create(&product).Error; err != nil {
		return nil, utils.NewInternalError(err)
	}
	return &product, nil
}

func GetProduct(db *gorm.DB, ctx context.Context, id int) (*Product, error) {
	var product Product
	if err := db.WithContext(ctx).Preload("Materials").Where("id = ?", id).First(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("product %d not found", id)
		}
		return nil, utils.NewInternalError(err)
	}
	return &product, nil
}

func ListProducts(db *gorm.DB, ctx context.Context) ([]*Product, error) {
	var results []*Product
	if err := db.WithContext(ctx).Preload("Materials").Order("name").Find(&results).Error; err != nil {
		return nil, utils.NewInternalError(err)
	}
	return results, nil
}
