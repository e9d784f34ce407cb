package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-chat-api/internal/apperror"
	"github.com/noah-isme/gema-chat-api/internal/models"
)

// UserRepository reads user identities and persists presence state.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (models.User, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.User, error)
	NotificationsEnabled(ctx context.Context, ids []string) (map[string]bool, error)
	UpdatePresence(ctx context.Context, id string, status models.UserStatus, lastSeen *time.Time) error
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository constructs a user repository backed by GORM.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) FindByID(ctx context.Context, id string) (models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return models.User{}, apperror.FromStorage(err)
	}
	return user, nil
}

func (r *userRepository) FindByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}

	var users []models.User
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, apperror.FromStorage(err)
	}
	return users, nil
}

func (r *userRepository) NotificationsEnabled(ctx context.Context, ids []string) (map[string]bool, error) {
	result := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var rows []struct {
		ID                   string
		NotificationsEnabled bool
	}
	if err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Select("id", "notifications_enabled").
		Where("id IN ?", ids).
		Scan(&rows).Error; err != nil {
		return nil, apperror.FromStorage(err)
	}

	for _, row := range rows {
		result[row.ID] = row.NotificationsEnabled
	}
	return result, nil
}

func (r *userRepository) UpdatePresence(ctx context.Context, id string, status models.UserStatus, lastSeen *time.Time) error {
	updates := map[string]interface{}{"status": status}
	if lastSeen != nil {
		updates["last_seen"] = lastSeen.UTC()
	}

	result := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).UpdateColumns(updates)
	if result.Error != nil {
		return apperror.FromStorage(result.Error)
	}
	if result.RowsAffected == 0 {
		return apperror.ErrNotFound
	}
	return nil
}
