// seed-dev populates a development database with a worker roster, a few
// raw materials with opening stock, and one product with a bill of materials.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-dev
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/stitchworks/garment_backend/config"
	"github.com/stitchworks/garment_backend/models"
	"github.com/stitchworks/garment_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var seedUsers = []models.User{
	{ID: 1, Name: "Dev Admin", Email: "admin@dev.local", Role: models.RoleAdmin, IsActive: utils.NewTrue()},
	{ID: 2, Name: "Thiri Lead", Email: "lead@dev.local", Role: models.RoleProductionLead, IsActive: utils.NewTrue()},
	{ID: 3, Name: "Kyaw Warehouse", Email: "warehouse@dev.local", Role: models.RoleWarehouse, IsActive: utils.NewTrue()},
	{ID: 4, Name: "Su QC", Email: "qc@dev.local", Role: models.RoleQC, IsActive: utils.NewTrue()},
	{ID: 5, Name: "Aung Cutter", Email: "cutter@dev.local", Role: models.RoleCutter, IsActive: utils.NewTrue()},
	{ID: 6, Name: "Hla Sewer", Email: "sewer@dev.local", Role: models.RoleSewer, IsActive: utils.NewTrue()},
	{ID: 7, Name: "Min Finisher", Email: "finisher@dev.local", Role: models.RoleFinisher, IsActive: utils.NewTrue()},
}

type seedMaterial struct {
	input        models.NewMaterial
	openingStock decimal.Decimal
}

var seedMaterials = []seedMaterial{
	{
		input:        models.NewMaterial{Code: "FAB-CTN-WHT", Name: "Cotton Fabric White", Unit: "m", MinimumStock: decimal.NewFromInt(50), Price: decimal.NewFromFloat(3.2)},
		openingStock: decimal.NewFromInt(500),
	},
	{
		input:        models.NewMaterial{Code: "THR-POLY-BLK", Name: "Polyester Thread Black", Unit: "spool", MinimumStock: decimal.NewFromInt(20), Price: decimal.NewFromFloat(0.8)},
		openingStock: decimal.NewFromInt(200),
	},
	{
		input:        models.NewMaterial{Code: "BTN-15MM", Name: "Button 15mm", Unit: "pc", MinimumStock: decimal.NewFromInt(500), Price: decimal.NewFromFloat(0.05)},
		openingStock: decimal.NewFromInt(5000),
	},
}

func main() {
	_ = godotenv.Load()
	ctx := context.Background()

	db := config.ConnectDatabaseWithRetry()
	models.MigrateTable(db)

	// Seed actions are recorded in the ledger under the admin user.
	ctx = utils.SetActorIdInContext(ctx, 1)
	ctx = utils.SetActorNameInContext(ctx, "Dev Admin")

	for i := range seedUsers {
		if err := db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&seedUsers[i]).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to seed user %q: %v\n", seedUsers[i].Name, err)
			os.Exit(1)
		}
	}
	fmt.Printf("Seeded %d users\n", len(seedUsers))

	materialIds := make(map[string]int, len(seedMaterials))
	for _, sm := range seedMaterials {
		material, err := models.CreateMaterial(db, ctx, &sm.input)
		if err != nil {
			if utils.KindOf(err) != utils.KindValidation {
				fmt.Fprintf(os.Stderr, "failed to seed material %q: %v\n", sm.input.Code, err)
				os.Exit(1)
			}
			// Already seeded on a previous run.
			material, err = materialByCode(db, ctx, sm.input.Code)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to look up material %q: %v\n", sm.input.Code, err)
				os.Exit(1)
			}
			materialIds[sm.input.Code] = material.ID
			continue
		}
		materialIds[sm.input.Code] = material.ID

		err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			_, err := models.RecordStockTransaction(tx, ctx, &models.NewStockTransaction{
				MaterialId: material.ID,
				Type:       models.StockTransactionTypeIn,
				Quantity:   sm.openingStock,
				Note:       "opening stock",
			})
			return err
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to post opening stock for %q: %v\n", sm.input.Code, err)
			os.Exit(1)
		}
	}
	fmt.Printf("Seeded %d materials with opening stock\n", len(seedMaterials))

	product, err := models.CreateProduct(db, ctx, &models.NewProduct{
		Sku:  "TS-BASIC-M",
		Name: "Basic T-Shirt (M)",
		Materials: []models.NewProductMaterial{
			{MaterialId: materialIds["FAB-CTN-WHT"], QtyPerPiece: decimal.NewFromFloat(1.5)},
			{MaterialId: materialIds["THR-POLY-BLK"], QtyPerPiece: decimal.NewFromFloat(0.1)},
			{MaterialId: materialIds["BTN-15MM"], QtyPerPiece: decimal.NewFromInt(3)},
		},
	})
	if err != nil {
		if utils.KindOf(err) == utils.KindValidation {
			fmt.Println("Product already seeded")
			return
		}
		fmt.Fprintf(os.Stderr, "failed to seed product: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Seeded product %q (id=%d)\n", product.Sku, product.ID)
}

func materialByCode(db *gorm.DB, ctx context.Context, code string) (*models.Material, error) {
	var material models.Material
	if err := db.WithContext(ctx).Where("code = ?", code).First(&material).Error; err != nil {
		return nil, err
	}
	return &material, nil
}
