package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/lalith-99/storefront/internal/models"
)

// Lookups return nil, nil when the row does not exist.

// UserRepository handles user accounts.
type UserRepository interface {
	// Create inserts a user and returns it with ID and CreatedAt populated.
	Create(ctx context.Context, email, displayName, passwordHash string) (*models.User, error)

	GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error)

	// GetByEmail is used by login and to resolve chat peers.
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// MessageRepository handles direct message persistence.
type MessageRepository interface {
	// Create persists a message from sender to receiver.
	Create(ctx context.Context, senderID, receiverID uuid.UUID, body string) (*models.ChatMessage, error)

	// ListConversation returns the latest limit messages exchanged between
	// a and b in either direction, oldest first. Returns an empty slice,
	// not nil.
	ListConversation(ctx context.Context, a, b uuid.UUID, limit int) ([]models.ChatMessage, error)

	// MarkRead flags every unread message from sender to receiver as read
	// and reports how many changed.
	MarkRead(ctx context.Context, senderID, receiverID uuid.UUID) (int64, error)
}
