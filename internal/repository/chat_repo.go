package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-chat-api/internal/apperror"
	"github.com/noah-isme/gema-chat-api/internal/models"
)

// LeaveResult describes the state transition performed by Leave.
type LeaveResult struct {
	ChatType           models.ChatType
	ChatDeleted        bool
	NewOwnerID         string
	RemainingMemberIDs []string
}

// AddedMembers lists the memberships and invites AddMembers actually created.
type AddedMembers struct {
	Members []models.ChatMember
	Invites []models.Notification
}

// ChatRepository persists chats and their memberships.
type ChatRepository interface {
	Create(ctx context.Context, chat *models.Chat, members []models.ChatMember, invites []models.Notification) error
	FindPrivate(ctx context.Context, pairKey string) (models.Chat, error)
	FindByID(ctx context.Context, chatID string) (models.Chat, error)
	Exists(ctx context.Context, chatID string) (bool, error)
	FindMember(ctx context.Context, chatID, userID string) (models.ChatMember, error)
	ListMemberIDs(ctx context.Context, chatID string) ([]string, error)
	ListForUser(ctx context.Context, userID string) ([]models.Chat, error)
	Leave(ctx context.Context, chatID, userID string) (LeaveResult, error)
	AddMembers(ctx context.Context, chatID, actorID string, members []models.ChatMember, invites []models.Notification) (AddedMembers, error)
	UpdateRole(ctx context.Context, chatID, actorID, userID string, role models.MemberRole) (models.ChatMember, error)
	RemoveMember(ctx context.Context, chatID, actorID, userID string) error
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository constructs a chat repository backed by GORM.
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) Create(ctx context.Context, chat *models.Chat, members []models.ChatMember, invites []models.Notification) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(chat).Error; err != nil {
			return err
		}

		for i := range members {
			members[i].ChatID = chat.ID
		}
		if len(members) > 0 {
			if err := tx.Omit(clause.Associations).Create(&members).Error; err != nil {
				return err
			}
		}

		if len(invites) > 0 {
			if err := tx.Create(&invites).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return apperror.FromStorage(err)
	}

	chat.Members = members
	return nil
}

func (r *chatRepository) FindPrivate(ctx context.Context, pairKey string) (models.Chat, error) {
	var chat models.Chat
	err := r.db.WithContext(ctx).
		Preload("Members", orderMembers).
		Preload("Members.User").
		Where("type = ? AND pair_key = ?", models.ChatTypePrivate, pairKey).
		First(&chat).Error
	if err != nil {
		return models.Chat{}, apperror.FromStorage(err)
	}
	return chat, nil
}

func (r *chatRepository) FindByID(ctx context.Context, chatID string) (models.Chat, error) {
	var chat models.Chat
	err := r.db.WithContext(ctx).
		Preload("Members", orderMembers).
		Preload("Members.User").
		First(&chat, "id = ?", chatID).Error
	if err != nil {
		return models.Chat{}, apperror.FromStorage(err)
	}
	return chat, nil
}

func (r *chatRepository) Exists(ctx context.Context, chatID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Chat{}).Where("id = ?", chatID).Count(&count).Error; err != nil {
		return false, apperror.FromStorage(err)
	}
	return count > 0, nil
}

func (r *chatRepository) FindMember(ctx context.Context, chatID, userID string) (models.ChatMember, error) {
	member, err := findMember(r.db.WithContext(ctx), chatID, userID)
	if err != nil {
		return models.ChatMember{}, err
	}
	return member, nil
}

func (r *chatRepository) ListMemberIDs(ctx context.Context, chatID string) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).
		Model(&models.ChatMember{}).
		Where("chat_id = ?", chatID).
		Order("joined_at ASC").
		Pluck("user_id", &ids).Error; err != nil {
		return nil, apperror.FromStorage(err)
	}
	return ids, nil
}

func (r *chatRepository) ListForUser(ctx context.Context, userID string) ([]models.Chat, error) {
	memberships := r.db.Model(&models.ChatMember{}).Select("chat_id").Where("user_id = ?", userID)

	var chats []models.Chat
	if err := r.db.WithContext(ctx).
		Preload("Members", orderMembers).
		Preload("Members.User").
		Where("id IN (?)", memberships).
		Order("updated_at DESC").
		Find(&chats).Error; err != nil {
		return nil, apperror.FromStorage(err)
	}
	return chats, nil
}

// Leave removes userID from the chat. The chat row is locked for the whole
// transaction, so concurrent leaves observe each other's ownership transfer.
func (r *chatRepository) Leave(ctx context.Context, chatID, userID string) (LeaveResult, error) {
	var result LeaveResult

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chat models.Chat
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&chat, "id = ?", chatID).Error; err != nil {
			return err
		}
		result.ChatType = chat.Type

		member, err := findMember(tx, chatID, userID)
		if err != nil {
			return err
		}

		if chat.Type == models.ChatTypePrivate {
			return apperror.Invalid("chatId", "private chats cannot be left")
		}

		var others []models.ChatMember
		if err := tx.Where("chat_id = ? AND user_id <> ?", chatID, userID).Find(&others).Error; err != nil {
			return err
		}

		if len(others) == 0 {
			result.ChatDeleted = true
			return deleteChat(tx, chatID)
		}

		if member.Role == models.MemberRoleOwner {
			successor := pickSuccessor(others)
			if err := tx.Model(&models.ChatMember{}).
				Where("id = ?", successor.ID).
				UpdateColumn("role", models.MemberRoleOwner).Error; err != nil {
				return err
			}
			result.NewOwnerID = successor.UserID
		}

		if err := tx.Delete(&models.ChatMember{}, "id = ?", member.ID).Error; err != nil {
			return err
		}

		result.RemainingMemberIDs = make([]string, 0, len(others))
		for _, other := range others {
			result.RemainingMemberIDs = append(result.RemainingMemberIDs, other.UserID)
		}
		return nil
	})
	if err != nil {
		return LeaveResult{}, apperror.FromStorage(err)
	}

	return result, nil
}

func (r *chatRepository) AddMembers(ctx context.Context, chatID, actorID string, members []models.ChatMember, invites []models.Notification) (AddedMembers, error) {
	var (
		added   []models.ChatMember
		pending []models.Notification
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chat, actor, err := lockChatForActor(tx, chatID, actorID)
		if err != nil {
			return err
		}
		if chat.Type != models.ChatTypeGroup {
			return apperror.Invalid("chatId", "members can only be added to group chats")
		}
		if !actor.Role.CanModerate() {
			return apperror.ErrForbidden
		}

		var existing []string
		if err := tx.Model(&models.ChatMember{}).Where("chat_id = ?", chatID).Pluck("user_id", &existing).Error; err != nil {
			return err
		}
		present := make(map[string]struct{}, len(existing))
		for _, id := range existing {
			present[id] = struct{}{}
		}

		for _, member := range members {
			if _, ok := present[member.UserID]; ok {
				continue
			}
			member.ChatID = chatID
			added = append(added, member)
			present[member.UserID] = struct{}{}
		}
		if len(added) == 0 {
			return nil
		}

		if err := tx.Omit(clause.Associations).Create(&added).Error; err != nil {
			return err
		}

		addedIDs := make(map[string]struct{}, len(added))
		for _, member := range added {
			addedIDs[member.UserID] = struct{}{}
		}
		for _, invite := range invites {
			if _, ok := addedIDs[invite.ReceiverID]; ok {
				pending = append(pending, invite)
			}
		}
		if len(pending) > 0 {
			if err := tx.Create(&pending).Error; err != nil {
				return err
			}
		}

		return touchChat(tx, chatID, time.Now().UTC())
	})
	if err != nil {
		return AddedMembers{}, apperror.FromStorage(err)
	}

	return AddedMembers{Members: added, Invites: pending}, nil
}

func (r *chatRepository) UpdateRole(ctx context.Context, chatID, actorID, userID string, role models.MemberRole) (models.ChatMember, error) {
	var target models.ChatMember

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chat, actor, err := lockChatForActor(tx, chatID, actorID)
		if err != nil {
			return err
		}
		if chat.Type != models.ChatTypeGroup {
			return apperror.Invalid("chatId", "roles only apply to group chats")
		}
		if actor.Role != models.MemberRoleOwner {
			return apperror.ErrForbidden
		}

		target, err = findMember(tx, chatID, userID)
		if err != nil {
			return err
		}
		if target.Role == models.MemberRoleOwner {
			return apperror.Invalid("userId", "the owner's role changes only through leaving the chat")
		}

		target.Role = role
		return tx.Model(&models.ChatMember{}).Where("id = ?", target.ID).UpdateColumn("role", role).Error
	})
	if err != nil {
		return models.ChatMember{}, apperror.FromStorage(err)
	}

	return target, nil
}

func (r *chatRepository) RemoveMember(ctx context.Context, chatID, actorID, userID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chat, actor, err := lockChatForActor(tx, chatID, actorID)
		if err != nil {
			return err
		}
		if chat.Type != models.ChatTypeGroup {
			return apperror.Invalid("chatId", "members can only be removed from group chats")
		}
		if !actor.Role.CanModerate() {
			return apperror.ErrForbidden
		}

		target, err := findMember(tx, chatID, userID)
		if err != nil {
			return err
		}
		if target.Role == models.MemberRoleOwner {
			return apperror.ErrForbidden
		}
		if actor.Role == models.MemberRoleAdmin && target.Role == models.MemberRoleAdmin {
			return apperror.ErrForbidden
		}

		if err := tx.Delete(&models.ChatMember{}, "id = ?", target.ID).Error; err != nil {
			return err
		}
		return touchChat(tx, chatID, time.Now().UTC())
	})

	return apperror.FromStorage(err)
}

func orderMembers(db *gorm.DB) *gorm.DB {
	return db.Order("joined_at ASC")
}

func findMember(db *gorm.DB, chatID, userID string) (models.ChatMember, error) {
	var member models.ChatMember
	err := db.Where("chat_id = ? AND user_id = ?", chatID, userID).First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ChatMember{}, apperror.ErrNotMember
		}
		return models.ChatMember{}, apperror.FromStorage(err)
	}
	return member, nil
}

func lockChatForActor(tx *gorm.DB, chatID, actorID string) (models.Chat, models.ChatMember, error) {
	var chat models.Chat
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&chat, "id = ?", chatID).Error; err != nil {
		return models.Chat{}, models.ChatMember{}, err
	}

	actor, err := findMember(tx, chatID, actorID)
	if err != nil {
		return models.Chat{}, models.ChatMember{}, err
	}
	return chat, actor, nil
}

func touchChat(tx *gorm.DB, chatID string, at time.Time) error {
	return tx.Model(&models.Chat{}).Where("id = ?", chatID).UpdateColumn("updated_at", at).Error
}

func deleteChat(tx *gorm.DB, chatID string) error {
	if err := tx.Where("chat_id = ?", chatID).Delete(&models.Message{}).Error; err != nil {
		return err
	}
	if err := tx.Where("chat_id = ?", chatID).Delete(&models.ChatMember{}).Error; err != nil {
		return err
	}
	return tx.Delete(&models.Chat{}, "id = ?", chatID).Error
}

// pickSuccessor prefers the longest-standing ADMIN, then the longest-standing MEMBER.
func pickSuccessor(candidates []models.ChatMember) models.ChatMember {
	ordered := make([]models.ChatMember, len(candidates))
	copy(ordered, candidates)

	rank := func(role models.MemberRole) int {
		if role == models.MemberRoleAdmin {
			return 0
		}
		return 1
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		if rank(ordered[i].Role) != rank(ordered[j].Role) {
			return rank(ordered[i].Role) < rank(ordered[j].Role)
		}
		if !ordered[i].JoinedAt.Equal(ordered[j].JoinedAt) {
			return ordered[i].JoinedAt.Before(ordered[j].JoinedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	return ordered[0]
}
