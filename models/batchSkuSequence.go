package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stitchworks/garment_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const batchSkuPrefix = "PROD"

// BatchSkuSequence holds one counter row per day. The row is locked FOR
// UPDATE inside the batch-creating transaction, which keeps the per-day
// sequence dense: two concurrent creates serialize on the row and a rolled
// back create rolls back its increment.
type BatchSkuSequence struct {
	Day     string `gorm:"primary_key;size:8" json:"day"`
	LastSeq int    `gorm:"not null;default:0" json:"last_seq"`
}

// FormatBatchSku renders PROD-YYYYMMDD-NNN.
func FormatBatchSku(day time.Time, seq int) string {
	return fmt.Sprintf("%s-%s-%03d", batchSkuPrefix, day.Format("20060102"), seq)
}

// NextBatchSku must be called on an open transaction.
func NextBatchSku(tx *gorm.DB, ctx context.Context, day time.Time) (string, error) {
	key := day.Format("20060102")

	var row BatchSkuSequence
	err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("day = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = BatchSkuSequence{Day: key, LastSeq: 0}
		if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
			// Lost the insert race; lock the winner's row.
			if lockErr := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("day = ?", key).First(&row).Error; lockErr != nil {
				return "", utils.NewInternalError(lockErr)
			}
		}
	} else if err != nil {
		return "", utils.NewInternalError(err)
	}

	row.LastSeq++
	if err := tx.WithContext(ctx).Model(&BatchSkuSequence{}).
		Where("day = ?", key).Update("last_seq", row.LastSeq).Error; err != nil {
		return "", utils.NewInternalError(err)
	}
	return FormatBatchSku(day, row.LastSeq), nil
}
