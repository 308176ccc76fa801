package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/storefront/internal/middleware"
	"github.com/lalith-99/storefront/internal/observ"
	"github.com/lalith-99/storefront/internal/repository"
	"go.uber.org/zap"
)

type MessageHandler struct {
	users    repository.UserRepository
	messages repository.MessageRepository
	limit    int
	logger   *zap.Logger
}

func NewMessageHandler(users repository.UserRepository, messages repository.MessageRepository, limit int, logger *zap.Logger) *MessageHandler {
	if limit <= 0 {
		limit = 200
	}
	return &MessageHandler{users: users, messages: messages, limit: limit, logger: logger}
}

// historyItem is one stored message in the shape chat clients consume.
type historyItem struct {
	ID      int64     `json:"id"`
	Message string    `json:"message"`
	Sender  string    `json:"sender"`
	Date    time.Time `json:"date"`
	IsRead  bool      `json:"is_read"`
}

// History handles GET /v1/chat/messages?email=peer
//
// Returns the conversation between the caller and peer, oldest first.
// An unknown peer is a 404.
//
// Why cap at CHAT_HISTORY_LIMIT instead of paginating?
//   - The client loads history once per conversation and splices live
//     messages after it; it has no "load older" interaction.
//   - The cap keeps a years-long conversation from turning one page load
//     into a multi-megabyte response.
//
// Each item carries the stored id so clients can match it against live
// frames that arrived while this request was in flight.
func (h *MessageHandler) History(c *gin.Context) {
	peerEmail := strings.TrimSpace(c.Query("email"))
	if peerEmail == "" {
		observ.HistoryRequests.WithLabelValues("error").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "email query parameter is required"})
		return
	}

	peer, err := h.users.GetByEmail(c.Request.Context(), peerEmail)
	if err != nil {
		observ.HistoryRequests.WithLabelValues("error").Inc()
		h.logger.Error("failed to look up peer", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if peer == nil {
		observ.HistoryRequests.WithLabelValues("not_found").Inc()
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	msgs, err := h.messages.ListConversation(c.Request.Context(), middleware.GetUserID(c), peer.ID, h.limit)
	if err != nil {
		observ.HistoryRequests.WithLabelValues("error").Inc()
		h.logger.Error("failed to list conversation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	items := make([]historyItem, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, historyItem{
			ID:      m.ID,
			Message: m.Body,
			Sender:  m.SenderEmail,
			Date:    m.CreatedAt,
			IsRead:  m.IsRead,
		})
	}
	observ.HistoryRequests.WithLabelValues("ok").Inc()
	c.JSON(http.StatusOK, items)
}
