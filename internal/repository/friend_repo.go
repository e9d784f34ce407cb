package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-chat-api/internal/apperror"
	"github.com/noah-isme/gema-chat-api/internal/models"
)

// Friend workflow refusals. All wrap a taxonomy error.
var (
	ErrAlreadyFriends = fmt.Errorf("%w: users are already friends", apperror.ErrConflict)
	ErrRequestPending = fmt.Errorf("%w: a pending request already exists", apperror.ErrConflict)
	ErrUserBlocked    = fmt.Errorf("%w: user is blocked", apperror.ErrForbidden)
	ErrNotPending     = fmt.Errorf("%w: request is no longer pending", apperror.ErrConflict)
)

// NotificationBuilder renders the notification that accompanies a friend request
// state change.
type NotificationBuilder func(request models.FriendRequest) models.Notification

// FriendResolution is the outcome of accepting or rejecting a request.
type FriendResolution struct {
	Request      models.FriendRequest
	Friendship   *models.Friendship
	Notification models.Notification
}

// FriendRepository persists friend requests and friendships.
type FriendRepository interface {
	CreateRequest(ctx context.Context, request *models.FriendRequest, build NotificationBuilder) (models.Notification, error)
	FindRequest(ctx context.Context, id string) (models.FriendRequest, error)
	Accept(ctx context.Context, requestID, actorID string, build NotificationBuilder) (FriendResolution, error)
	Reject(ctx context.Context, requestID, actorID string, build NotificationBuilder) (FriendResolution, error)
	AreFriends(ctx context.Context, a, b string) (bool, error)
}

type friendRepository struct {
	db *gorm.DB
}

// NewFriendRepository constructs a friend repository backed by GORM.
func NewFriendRepository(db *gorm.DB) FriendRepository {
	return &friendRepository{db: db}
}

// CreateRequest checks blocks, pending requests and existing friendships inside the
// insert transaction so concurrent sends cannot both succeed.
func (r *friendRepository) CreateRequest(ctx context.Context, request *models.FriendRequest, build NotificationBuilder) (models.Notification, error) {
	var notification models.Notification

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		blocked, err := isBlocked(tx, request.SenderID, request.ReceiverID)
		if err != nil {
			return err
		}
		if blocked {
			return ErrUserBlocked
		}

		friends, err := areFriends(tx, request.SenderID, request.ReceiverID)
		if err != nil {
			return err
		}
		if friends {
			return ErrAlreadyFriends
		}

		var pending int64
		if err := tx.Model(&models.FriendRequest{}).
			Where("status = ? AND ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))",
				models.FriendRequestPending, request.SenderID, request.ReceiverID, request.ReceiverID, request.SenderID).
			Count(&pending).Error; err != nil {
			return err
		}
		if pending > 0 {
			return ErrRequestPending
		}

		request.Status = models.FriendRequestPending
		if err := tx.Create(request).Error; err != nil {
			return err
		}

		notification = build(*request)
		return tx.Create(&notification).Error
	})
	if err != nil {
		return models.Notification{}, apperror.FromStorage(err)
	}

	return notification, nil
}

func (r *friendRepository) FindRequest(ctx context.Context, id string) (models.FriendRequest, error) {
	var request models.FriendRequest
	if err := r.db.WithContext(ctx).First(&request, "id = ?", id).Error; err != nil {
		return models.FriendRequest{}, apperror.FromStorage(err)
	}
	return request, nil
}

func (r *friendRepository) Accept(ctx context.Context, requestID, actorID string, build NotificationBuilder) (FriendResolution, error) {
	var resolution FriendResolution

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		request, err := pendingRequestFor(tx, requestID, actorID)
		if err != nil {
			return err
		}

		request.Status = models.FriendRequestAccepted
		if err := tx.Model(&models.FriendRequest{}).Where("id = ?", request.ID).Update("status", request.Status).Error; err != nil {
			return err
		}

		friendship := models.Friendship{UserID: request.SenderID, FriendID: request.ReceiverID}
		if friendship.FriendID < friendship.UserID {
			friendship.UserID, friendship.FriendID = friendship.FriendID, friendship.UserID
		}
		if err := tx.Create(&friendship).Error; err != nil {
			return err
		}

		if err := tx.Where("id <> ? AND status = ? AND ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))",
			request.ID, models.FriendRequestPending, request.SenderID, request.ReceiverID, request.ReceiverID, request.SenderID).
			Delete(&models.FriendRequest{}).Error; err != nil {
			return err
		}

		notification := build(request)
		if err := tx.Create(&notification).Error; err != nil {
			return err
		}

		resolution = FriendResolution{Request: request, Friendship: &friendship, Notification: notification}
		return nil
	})
	if err != nil {
		return FriendResolution{}, apperror.FromStorage(err)
	}

	return resolution, nil
}

func (r *friendRepository) Reject(ctx context.Context, requestID, actorID string, build NotificationBuilder) (FriendResolution, error) {
	var resolution FriendResolution

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		request, err := pendingRequestFor(tx, requestID, actorID)
		if err != nil {
			return err
		}

		request.Status = models.FriendRequestRejected
		if err := tx.Model(&models.FriendRequest{}).Where("id = ?", request.ID).Update("status", request.Status).Error; err != nil {
			return err
		}

		notification := build(request)
		if err := tx.Create(&notification).Error; err != nil {
			return err
		}

		resolution = FriendResolution{Request: request, Notification: notification}
		return nil
	})
	if err != nil {
		return FriendResolution{}, apperror.FromStorage(err)
	}

	return resolution, nil
}

func (r *friendRepository) AreFriends(ctx context.Context, a, b string) (bool, error) {
	friends, err := areFriends(r.db.WithContext(ctx), a, b)
	return friends, apperror.FromStorage(err)
}

// pendingRequestFor hides requests addressed to someone else behind NotFound.
func pendingRequestFor(tx *gorm.DB, requestID, receiverID string) (models.FriendRequest, error) {
	var request models.FriendRequest
	if err := tx.First(&request, "id = ? AND receiver_id = ?", requestID, receiverID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.FriendRequest{}, apperror.ErrNotFound
		}
		return models.FriendRequest{}, err
	}
	if request.Status != models.FriendRequestPending {
		return models.FriendRequest{}, ErrNotPending
	}
	return request, nil
}

func areFriends(db *gorm.DB, a, b string) (bool, error) {
	if b < a {
		a, b = b, a
	}
	var count int64
	err := db.Model(&models.Friendship{}).Where("user_id = ? AND friend_id = ?", a, b).Count(&count).Error
	return count > 0, err
}

func isBlocked(db *gorm.DB, a, b string) (bool, error) {
	var count int64
	err := db.Model(&models.Block{}).
		Where("(blocker_id = ? AND blocked_id = ?) OR (blocker_id = ? AND blocked_id = ?)", a, b, b, a).
		Count(&count).Error
	return count > 0, err
}
