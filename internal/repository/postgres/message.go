package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/storefront/internal/models"
)

type MessageStore struct {
	pool *pgxpool.Pool
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

// Create stores a message and returns it with the sender's email.
//
// Why a CTE with a join instead of a plain INSERT ... RETURNING?
//   - The stream relays the stored row to both parties, and frames are
//     addressed by email, not UUID.
//   - Doing the lookup in the same statement saves a round trip per frame.
//
// The bigserial id comes back too. Clients use it to tell a history entry
// from a live frame for the same message.
func (s *MessageStore) Create(ctx context.Context, senderID, receiverID uuid.UUID, body string) (*models.ChatMessage, error) {
	query := `
		WITH inserted AS (
			INSERT INTO chat_messages (sender_id, receiver_id, body, created_at)
			VALUES ($1, $2, $3, now())
			RETURNING id, sender_id, receiver_id, body, is_read, created_at
		)
		SELECT i.id, i.sender_id, i.receiver_id, u.email, i.body, i.is_read, i.created_at
		FROM inserted i JOIN users u ON u.id = i.sender_id`

	var msg models.ChatMessage
	err := s.pool.QueryRow(ctx, query, senderID, receiverID, body).Scan(
		&msg.ID,
		&msg.SenderID,
		&msg.ReceiverID,
		&msg.SenderEmail,
		&msg.Body,
		&msg.IsRead,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert chat message: %w", err)
	}
	return &msg, nil
}

// ListConversation returns the newest limit messages between a and b,
// oldest first.
//
// Why select newest-first and then flip?
//   - LIMIT has to cut off the OLD end of a long conversation, so the inner
//     query orders by id DESC.
//   - Chat clients render top to bottom, so the outer query restores
//     ascending order. The client never has to reverse the list.
//
// Why order by id and not created_at?
//   - id (bigserial) follows insert order exactly; two messages stored in
//     the same microsecond still come back in the order they were sent.
func (s *MessageStore) ListConversation(ctx context.Context, a, b uuid.UUID, limit int) ([]models.ChatMessage, error) {
	query := `
		SELECT id, sender_id, receiver_id, sender_email, body, is_read, created_at
		FROM (
			SELECT m.id, m.sender_id, m.receiver_id, u.email AS sender_email,
			       m.body, m.is_read, m.created_at
			FROM chat_messages m
			JOIN users u ON u.id = m.sender_id
			WHERE (m.sender_id = $1 AND m.receiver_id = $2)
			   OR (m.sender_id = $2 AND m.receiver_id = $1)
			ORDER BY m.id DESC
			LIMIT $3
		) latest
		ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query, a, b, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	defer rows.Close()

	messages := make([]models.ChatMessage, 0)
	for rows.Next() {
		var msg models.ChatMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.SenderID,
			&msg.ReceiverID,
			&msg.SenderEmail,
			&msg.Body,
			&msg.IsRead,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}

	return messages, nil
}

// MarkRead flags every unread message from sender to receiver as read and
// returns how many rows changed. Called when receiver opens the stream.
func (s *MessageStore) MarkRead(ctx context.Context, senderID, receiverID uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE chat_messages SET is_read = true
		WHERE sender_id = $1 AND receiver_id = $2 AND NOT is_read`,
		senderID, receiverID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return tag.RowsAffected(), nil
}
