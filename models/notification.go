package models

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stitchworks/garment_backend/config"
	"gorm.io/gorm"
)

type Notification struct {
	ID          int              `gorm:"primary_key" json:"id"`
	RecipientId int              `gorm:"index;not null" json:"recipient_id"`
	Type        NotificationType `gorm:"size:30;not null" json:"type"`
	Title       string           `gorm:"size:100;not null" json:"title"`
	Message     string           `gorm:"type:text" json:"message"`
	IsRead      *bool            `gorm:"not null;default:false" json:"is_read"`
	CreatedAt   time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

const notificationChannel = "notifications"

// Notifier delivers notifications best-effort: a persisted row plus a redis
// publish, both after the transition's transaction has committed. Delivery
// failure is logged and never rolls back or fails the transition it follows.
type Notifier struct {
	db     *gorm.DB
	rdb    *config.Redis
	logger *logrus.Logger
}

func NewNotifier(db *gorm.DB, rdb *config.Redis, logger *logrus.Logger) *Notifier {
	return &Notifier{db: db, rdb: rdb, logger: logger}
}

func (n *Notifier) Notify(ctx context.Context, recipientId int, notifType NotificationType, title string, message string) {
	if n == nil || recipientId == 0 {
		return
	}
	record := Notification{
		RecipientId: recipientId,
		Type:        notifType,
		Title:       title,
		Message:     message,
	}
	if err := n.db.WithContext(ctx).Create(&record).Error; err != nil {
		config.LogError(n.logger, "notification.go", "Notify", "persist notification", record, err)
		return
	}
	if err := n.rdb.Publish(ctx, notificationChannel, &record); err != nil {
		config.LogError(n.logger, "notification.go", "Notify", "publish notification", record.ID, err)
	}
}

func ListNotifications(db *gorm.DB, ctx context.Context, recipientId int) ([]*Notification, error) {
	var results []*Notification
	if err := db.WithContext(ctx).
		Where("recipient_id = ?", recipientId).
		Order("id DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
