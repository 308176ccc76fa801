package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/storefront/internal/middleware"
	"github.com/lalith-99/storefront/internal/repository"
	"go.uber.org/zap"
)

type UserHandler struct {
	repo   repository.UserRepository
	logger *zap.Logger
}

func NewUserHandler(repo repository.UserRepository, logger *zap.Logger) *UserHandler {
	return &UserHandler{repo: repo, logger: logger}
}

// GetMe handles GET /v1/users/me
//
// Returns the currently authenticated user's profile.
//
// Why /users/me and not /users/:email?
//   - The client learns its own identity from the token; /users/me lets it
//     confirm the account still exists without knowing anything else.
//   - Looking up other users happens implicitly through the stream and
//     history endpoints, which 404 or close with 4002 for unknown peers.
func (h *UserHandler) GetMe(c *gin.Context) {
	user, err := h.repo.GetByID(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		h.logger.Error("failed to get user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get user"})
		return
	}

	// A valid token for a deleted account.
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	c.JSON(http.StatusOK, user)
}
