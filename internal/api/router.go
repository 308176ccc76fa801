package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/storefront/internal/middleware"
	"github.com/lalith-99/storefront/internal/observ"
	"github.com/lalith-99/storefront/internal/relay"
	"github.com/lalith-99/storefront/internal/repository"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Deps is what the gateway's routes need.
type Deps struct {
	Users    repository.UserRepository
	Messages repository.MessageRepository
	Broker   relay.Broker

	JWTSecret    string
	TokenTTL     time.Duration
	HistoryLimit int
	SendRate     float64
	SendBurst    int

	// Health reports whether the backing stores are reachable. Nil means
	// always healthy.
	Health func(ctx context.Context) error

	Logger *zap.Logger
}

func NewRouter(d Deps) *gin.Engine {
	logger := observ.OrNop(d.Logger)

	r := gin.New()
	r.Use(middleware.RequestLogger(logger), gin.Recovery())

	authHandler := NewAuthHandler(d.Users, d.JWTSecret, d.TokenTTL, logger)
	userHandler := NewUserHandler(d.Users, logger)
	messageHandler := NewMessageHandler(d.Users, d.Messages, d.HistoryLimit, logger)
	streamHandler := NewStreamHandler(d.Users, d.Messages, d.Broker,
		StreamLimits{Rate: rate.Limit(d.SendRate), Burst: d.SendBurst}, logger)

	r.GET("/v1/health", func(c *gin.Context) {
		if d.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := d.Health(ctx); err != nil {
				logger.Warn("health check failed", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/v1/auth/signup", authHandler.Signup)
	r.POST("/v1/auth/login", authHandler.Login)

	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(d.JWTSecret))
	v1.GET("/users/me", userHandler.GetMe)
	v1.GET("/chat/messages", messageHandler.History)

	// Authentication failures on the stream are reported as close codes.
	r.GET("/ws/chat/:peer/", middleware.OptionalAuth(d.JWTSecret), streamHandler.Serve)

	return r
}
