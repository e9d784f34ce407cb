package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-chat-api/internal/apperror"
	"github.com/noah-isme/gema-chat-api/internal/models"
)

// CreateMessageParams carries an already-encoded message into the store.
type CreateMessageParams struct {
	ChatID    string
	SenderID  string
	ReplyToID *string
	Content   string
	Encrypted bool
	Type      models.MessageType
}

// CreatedMessage is the outcome of a successful insert.
type CreatedMessage struct {
	Message models.Message
	Chat    models.Chat
	Members []models.ChatMember
}

// DeletedMessage identifies a removed message and the chat it belonged to.
type DeletedMessage struct {
	Message   models.Message
	MemberIDs []string
}

// ChatUnread is the unread counter of one membership.
type ChatUnread struct {
	ChatID string
	Unread int64
}

// ReadReceipt is the watermark produced by MarkRead.
type ReadReceipt struct {
	Member    models.ChatMember
	MemberIDs []string
}

// MessageRepository persists messages and read watermarks.
type MessageRepository interface {
	Create(ctx context.Context, params CreateMessageParams) (CreatedMessage, error)
	FindByID(ctx context.Context, id string) (models.Message, error)
	ListByChat(ctx context.Context, chatID string, beforeSeq int64, limit int) ([]models.Message, error)
	LatestByChats(ctx context.Context, chatIDs []string) (map[string]models.Message, error)
	Delete(ctx context.Context, messageID, actorID string) (DeletedMessage, error)
	MarkRead(ctx context.Context, chatID, userID string) (ReadReceipt, error)
	UnreadCount(ctx context.Context, chatID, userID string) (int64, error)
	UnreadByUser(ctx context.Context, userID string) ([]ChatUnread, error)
}

type messageRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewMessageRepository constructs a message repository backed by GORM.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db, now: time.Now}
}

// Create inserts the message, advances the chat sequence and activity time, and
// moves the sender's watermark past the new message, all in one transaction. The
// sequence bump is the first write, so concurrent senders to one chat queue on its
// row lock.
func (r *messageRepository) Create(ctx context.Context, params CreateMessageParams) (CreatedMessage, error) {
	var created CreatedMessage

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		member, err := findMember(tx, params.ChatID, params.SenderID)
		if err != nil {
			return err
		}

		if params.ReplyToID != nil {
			var count int64
			if err := tx.Model(&models.Message{}).
				Where("id = ? AND chat_id = ?", *params.ReplyToID, params.ChatID).
				Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return apperror.ErrInvalidReply
			}
		}

		bump := tx.Model(&models.Chat{}).Where("id = ?", params.ChatID).UpdateColumn("last_seq", gorm.Expr("last_seq + ?", 1))
		if bump.Error != nil {
			return bump.Error
		}
		if bump.RowsAffected == 0 {
			return apperror.ErrNotFound
		}

		var chat models.Chat
		if err := tx.First(&chat, "id = ?", params.ChatID).Error; err != nil {
			return err
		}

		createdAt := r.now().UTC()
		if chat.LastMessageAt != nil && !createdAt.After(*chat.LastMessageAt) {
			createdAt = chat.LastMessageAt.Add(time.Microsecond)
		}

		message := models.Message{
			ChatID:    params.ChatID,
			Seq:       chat.LastSeq,
			SenderID:  params.SenderID,
			ReplyToID: params.ReplyToID,
			Content:   params.Content,
			Encrypted: params.Encrypted,
			Type:      params.Type,
			CreatedAt: createdAt,
			UpdatedAt: createdAt,
		}
		if err := tx.Omit("Sender").Create(&message).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.Chat{}).Where("id = ?", chat.ID).UpdateColumns(map[string]interface{}{
			"updated_at":      createdAt,
			"last_message_at": createdAt,
		}).Error; err != nil {
			return err
		}
		chat.UpdatedAt = createdAt
		chat.LastMessageAt = &createdAt

		if err := advanceWatermark(tx, member, message.Seq, createdAt); err != nil {
			return err
		}

		var members []models.ChatMember
		if err := tx.Where("chat_id = ?", chat.ID).Order("joined_at ASC").Find(&members).Error; err != nil {
			return err
		}

		created = CreatedMessage{Message: message, Chat: chat, Members: members}
		return nil
	})
	if err != nil {
		return CreatedMessage{}, apperror.FromStorage(err)
	}

	return created, nil
}

func (r *messageRepository) FindByID(ctx context.Context, id string) (models.Message, error) {
	var message models.Message
	if err := r.db.WithContext(ctx).Preload("Sender").First(&message, "id = ?", id).Error; err != nil {
		return models.Message{}, apperror.FromStorage(err)
	}
	return message, nil
}

// ListByChat returns up to limit messages with seq below beforeSeq (all when zero),
// oldest first.
func (r *messageRepository) ListByChat(ctx context.Context, chatID string, beforeSeq int64, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := r.db.WithContext(ctx).Preload("Sender").Where("chat_id = ?", chatID)
	if beforeSeq > 0 {
		query = query.Where("seq < ?", beforeSeq)
	}

	var messages []models.Message
	if err := query.Order("seq DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, apperror.FromStorage(err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (r *messageRepository) LatestByChats(ctx context.Context, chatIDs []string) (map[string]models.Message, error) {
	latest := make(map[string]models.Message, len(chatIDs))
	if len(chatIDs) == 0 {
		return latest, nil
	}

	heads := r.db.Model(&models.Message{}).
		Select("chat_id, MAX(seq) AS max_seq").
		Where("chat_id IN ?", chatIDs).
		Group("chat_id")

	var messages []models.Message
	if err := r.db.WithContext(ctx).
		Preload("Sender").
		Select("messages.*").
		Joins("JOIN (?) AS heads ON heads.chat_id = messages.chat_id AND heads.max_seq = messages.seq", heads).
		Find(&messages).Error; err != nil {
		return nil, apperror.FromStorage(err)
	}

	for _, message := range messages {
		latest[message.ChatID] = message
	}
	return latest, nil
}

func (r *messageRepository) Delete(ctx context.Context, messageID, actorID string) (DeletedMessage, error) {
	var deleted DeletedMessage

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var message models.Message
		if err := tx.First(&message, "id = ?", messageID).Error; err != nil {
			return err
		}

		var chat models.Chat
		if err := tx.First(&chat, "id = ?", message.ChatID).Error; err != nil {
			return err
		}

		actor, err := findMember(tx, chat.ID, actorID)
		if err != nil {
			if errors.Is(err, apperror.ErrNotMember) {
				return apperror.ErrNotFound
			}
			return err
		}

		allowed := message.SenderID == actorID ||
			(chat.Type == models.ChatTypeGroup && actor.Role.CanModerate())
		if !allowed {
			return apperror.ErrForbidden
		}

		if err := tx.Model(&models.Message{}).
			Where("reply_to_id = ?", message.ID).
			UpdateColumn("reply_to_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.Message{}, "id = ?", message.ID).Error; err != nil {
			return err
		}
		if err := touchChat(tx, chat.ID, r.now().UTC()); err != nil {
			return err
		}

		var memberIDs []string
		if err := tx.Model(&models.ChatMember{}).Where("chat_id = ?", chat.ID).Pluck("user_id", &memberIDs).Error; err != nil {
			return err
		}

		deleted = DeletedMessage{Message: message, MemberIDs: memberIDs}
		return nil
	})
	if err != nil {
		return DeletedMessage{}, apperror.FromStorage(err)
	}

	return deleted, nil
}

// MarkRead moves the member's watermark to the newest message. Repeated calls are
// no-ops apart from refreshing the returned receipt.
func (r *messageRepository) MarkRead(ctx context.Context, chatID, userID string) (ReadReceipt, error) {
	var receipt ReadReceipt

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		member, err := findMember(tx, chatID, userID)
		if err != nil {
			return err
		}

		var chat models.Chat
		if err := tx.Select("id", "type", "last_seq").First(&chat, "id = ?", chatID).Error; err != nil {
			return err
		}

		now := r.now().UTC()
		if err := advanceWatermark(tx, member, chat.LastSeq, now); err != nil {
			return err
		}

		if chat.Type == models.ChatTypePrivate {
			if err := tx.Model(&models.Message{}).
				Where("chat_id = ? AND sender_id <> ? AND is_read = ? AND seq <= ?", chatID, userID, false, chat.LastSeq).
				UpdateColumns(map[string]interface{}{"is_read": true, "updated_at": now}).Error; err != nil {
				return err
			}
		}

		if err := tx.First(&receipt.Member, "id = ?", member.ID).Error; err != nil {
			return err
		}
		return tx.Model(&models.ChatMember{}).Where("chat_id = ?", chatID).Pluck("user_id", &receipt.MemberIDs).Error
	})
	if err != nil {
		return ReadReceipt{}, apperror.FromStorage(err)
	}

	return receipt, nil
}

func (r *messageRepository) UnreadCount(ctx context.Context, chatID, userID string) (int64, error) {
	db := r.db.WithContext(ctx)

	member, err := findMember(db, chatID, userID)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := db.Model(&models.Message{}).
		Where("chat_id = ? AND seq > ? AND sender_id <> ?", chatID, member.LastReadSeq, userID).
		Count(&count).Error; err != nil {
		return 0, apperror.FromStorage(err)
	}
	return count, nil
}

func (r *messageRepository) UnreadByUser(ctx context.Context, userID string) ([]ChatUnread, error) {
	var rows []ChatUnread
	if err := r.db.WithContext(ctx).
		Table("chat_members AS cm").
		Select("cm.chat_id AS chat_id, COUNT(m.id) AS unread").
		Joins("LEFT JOIN messages AS m ON m.chat_id = cm.chat_id AND m.seq > cm.last_read_seq AND m.sender_id <> cm.user_id").
		Where("cm.user_id = ?", userID).
		Group("cm.chat_id").
		Scan(&rows).Error; err != nil {
		return nil, apperror.FromStorage(err)
	}
	return rows, nil
}

// advanceWatermark moves both watermark columns forward independently. The
// comparisons run inside the UPDATE, so a stale writer racing a newer one at the
// same seq cannot rewind last_read.
func advanceWatermark(tx *gorm.DB, member models.ChatMember, seq int64, at time.Time) error {
	return tx.Model(&models.ChatMember{}).
		Where("id = ?", member.ID).
		UpdateColumns(map[string]interface{}{
			"last_read_seq": gorm.Expr("CASE WHEN last_read_seq < ? THEN ? ELSE last_read_seq END", seq, seq),
			"last_read":     gorm.Expr("CASE WHEN last_read < ? THEN ? ELSE last_read END", at, at),
		}).Error
}
