package models

import (
	"log"

	"gorm.io/gorm"
)

func MigrateTable(db *gorm.DB) {
	err := db.AutoMigrate(
		&Material{}, &StockTransaction{},
		&Product{}, &ProductMaterial{},
		&ProductionBatch{}, &BatchSkuSequence{}, &BatchMaterialAllocation{},
		&StageTask{}, &BatchTimeline{},
		&User{}, &Notification{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
