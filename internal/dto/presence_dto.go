package dto

import (
	"time"

	"github.com/noah-isme/gema-chat-api/internal/models"
)

// PresenceStatusRequest sets the caller's declared status. OFFLINE is derived from
// connections and cannot be requested.
type PresenceStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=ONLINE AWAY BUSY DO_NOT_DISTURB"`
}

// PresenceResponse is a user's presence as seen by others.
type PresenceResponse struct {
	UserID   string            `json:"user_id"`
	Status   models.UserStatus `json:"status"`
	Online   bool              `json:"online"`
	LastSeen *time.Time        `json:"last_seen,omitempty"`
}
