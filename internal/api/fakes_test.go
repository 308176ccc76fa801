package api

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/storefront/internal/models"
	"golang.org/x/crypto/bcrypt"
)

type memUsers struct {
	mu      sync.Mutex
	byEmail map[string]*models.User
	err     error
}

func newMemUsers() *memUsers {
	return &memUsers{byEmail: make(map[string]*models.User)}
}

func (r *memUsers) add(email, password string) *models.User {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	u, _ := r.Create(context.Background(), email, strings.Split(email, "@")[0], string(hash))
	return u
}

func (r *memUsers) Create(ctx context.Context, email, displayName, passwordHash string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	if _, ok := r.byEmail[email]; ok {
		return nil, errors.New("duplicate email")
	}
	u := &models.User{
		ID:           uuid.New(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	r.byEmail[email] = u
	return u, nil
}

func (r *memUsers) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	for _, u := range r.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func (r *memUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.byEmail[strings.ToLower(email)], nil
}

type memMessages struct {
	mu     sync.Mutex
	users  *memUsers
	rows   []models.ChatMessage
	nextID int64
}

func newMemMessages(users *memUsers) *memMessages {
	return &memMessages{users: users}
}

func (r *memMessages) Create(ctx context.Context, senderID, receiverID uuid.UUID, body string) (*models.ChatMessage, error) {
	sender, _ := r.users.GetByID(ctx, senderID)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	m := models.ChatMessage{
		ID:         r.nextID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Body:       body,
		CreatedAt:  time.Now(),
	}
	if sender != nil {
		m.SenderEmail = sender.Email
	}
	r.rows = append(r.rows, m)
	return &m, nil
}

func (r *memMessages) ListConversation(ctx context.Context, a, b uuid.UUID, limit int) ([]models.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ChatMessage, 0)
	for _, m := range r.rows {
		if (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a) {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (r *memMessages) MarkRead(ctx context.Context, senderID, receiverID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for i := range r.rows {
		m := &r.rows[i]
		if m.SenderID == senderID && m.ReceiverID == receiverID && !m.IsRead {
			m.IsRead = true
			n++
		}
	}
	return n, nil
}

func (r *memMessages) all() []models.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ChatMessage(nil), r.rows...)
}
