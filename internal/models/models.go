package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an account that can chat. Email is the identity peers use to
// address each other.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// ChatMessage is one stored direct message.
//
// SenderEmail is not a column; stores fill it from a join so the history
// endpoint can return the sender identity without a second lookup.
type ChatMessage struct {
	ID          int64     `json:"id"`
	SenderID    uuid.UUID `json:"sender_id"`
	ReceiverID  uuid.UUID `json:"receiver_id"`
	SenderEmail string    `json:"sender_email"`
	Body        string    `json:"body"`
	IsRead      bool      `json:"is_read"`
	CreatedAt   time.Time `json:"created_at"`
}
