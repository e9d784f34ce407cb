package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-chat-api/internal/apperror"
	"github.com/noah-isme/gema-chat-api/internal/models"
)

// NotificationFilter narrows a receiver's notification listing.
type NotificationFilter struct {
	ReceiverID string
	UnreadOnly bool
	Limit      int
	Offset     int
}

// NotificationRepository handles persistence for notification entities.
type NotificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	List(ctx context.Context, filter NotificationFilter) ([]models.Notification, int64, error)
	UnreadStats(ctx context.Context, receiverID string) (map[models.NotificationType]int64, error)
	MarkRead(ctx context.Context, id, receiverID string) (models.Notification, error)
	MarkManyRead(ctx context.Context, receiverID string, ids []string) (int64, error)
	MarkAllRead(ctx context.Context, receiverID string) (int64, error)
	DeleteMany(ctx context.Context, receiverID string, ids []string) (int64, error)
	DeleteRead(ctx context.Context, receiverID string) (int64, error)
}

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository constructs a repository backed by GORM.
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	return apperror.FromStorage(r.db.WithContext(ctx).Create(notification).Error)
}

func (r *notificationRepository) List(ctx context.Context, filter NotificationFilter) ([]models.Notification, int64, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	query := r.db.WithContext(ctx).Model(&models.Notification{}).Where("receiver_id = ?", filter.ReceiverID)
	if filter.UnreadOnly {
		query = query.Where("is_read = ?", false)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, apperror.FromStorage(err)
	}

	var notifications []models.Notification
	if err := query.
		Order("created_at DESC").
		Offset(filter.Offset).
		Limit(filter.Limit).
		Find(&notifications).Error; err != nil {
		return nil, 0, apperror.FromStorage(err)
	}

	return notifications, total, nil
}

func (r *notificationRepository) UnreadStats(ctx context.Context, receiverID string) (map[models.NotificationType]int64, error) {
	var rows []struct {
		Type  models.NotificationType
		Count int64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Select("type, COUNT(*) AS count").
		Where("receiver_id = ? AND is_read = ?", receiverID, false).
		Group("type").
		Scan(&rows).Error; err != nil {
		return nil, apperror.FromStorage(err)
	}

	stats := make(map[models.NotificationType]int64, len(rows))
	for _, row := range rows {
		stats[row.Type] = row.Count
	}
	return stats, nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, id, receiverID string) (models.Notification, error) {
	var notification models.Notification
	if err := r.db.WithContext(ctx).Where("id = ? AND receiver_id = ?", id, receiverID).First(&notification).Error; err != nil {
		return models.Notification{}, apperror.FromStorage(err)
	}

	if notification.IsRead {
		return notification, nil
	}

	notification.IsRead = true
	if err := r.db.WithContext(ctx).Model(&notification).UpdateColumn("is_read", true).Error; err != nil {
		return models.Notification{}, apperror.FromStorage(err)
	}

	return notification, nil
}

func (r *notificationRepository) MarkManyRead(ctx context.Context, receiverID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("receiver_id = ? AND id IN ? AND is_read = ?", receiverID, ids, false).
		UpdateColumn("is_read", true)
	return result.RowsAffected, apperror.FromStorage(result.Error)
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, receiverID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("receiver_id = ? AND is_read = ?", receiverID, false).
		UpdateColumn("is_read", true)
	return result.RowsAffected, apperror.FromStorage(result.Error)
}

func (r *notificationRepository) DeleteMany(ctx context.Context, receiverID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).
		Where("receiver_id = ? AND id IN ?", receiverID, ids).
		Delete(&models.Notification{})
	return result.RowsAffected, apperror.FromStorage(result.Error)
}

func (r *notificationRepository) DeleteRead(ctx context.Context, receiverID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("receiver_id = ? AND is_read = ?", receiverID, true).
		Delete(&models.Notification{})
	return result.RowsAffected, apperror.FromStorage(result.Error)
}
