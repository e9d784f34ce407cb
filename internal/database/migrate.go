package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-chat-api/internal/models"
)

// Migrate creates or updates the chat schema.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	// Serves the unread count range query: chat_id = ? AND seq > ? AND sender_id <> ?.
	if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_messages_chat_seq_sender ON messages (chat_id, seq, sender_id)").Error; err != nil {
		return fmt.Errorf("failed to create unread index: %w", err)
	}

	return nil
}
