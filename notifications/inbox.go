package notifications

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"fieldservice-server/models"
)

// ErrNotificationNotFound is returned when a user has no notification with
// the given id.
var ErrNotificationNotFound = errors.New("notification not found")

// Inbox reads and marks the in-app notifications written by DBSink.
type Inbox struct {
	db *gorm.DB
}

// NewInbox creates an Inbox.
func NewInbox(db *gorm.DB) *Inbox {
	return &Inbox{db: db}
}

// List returns the user's latest notifications, newest first.
func (i *Inbox) List(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	var out []models.Notification
	err := i.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// MarkRead marks one notification of the user as read.
func (i *Inbox) MarkRead(ctx context.Context, userID string, id uint) error {
	res := i.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]interface{}{
			"read":       true,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// MarkAllRead marks every unread notification of the user as read.
func (i *Inbox) MarkAllRead(ctx context.Context, userID string) error {
	return i.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Updates(map[string]interface{}{
			"read":       true,
			"updated_at": time.Now(),
		}).Error
}

// UnreadCount returns the number of unread notifications of the user.
func (i *Inbox) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := i.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&count).Error
	return count, err
}
