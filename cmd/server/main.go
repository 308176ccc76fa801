package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/storefront/internal/api"
	"github.com/lalith-99/storefront/internal/config"
	"github.com/lalith-99/storefront/internal/db"
	"github.com/lalith-99/storefront/internal/observ"
	"github.com/lalith-99/storefront/internal/relay"
	"github.com/lalith-99/storefront/internal/repository/postgres"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ---------------------------------------------------------------
	// 1. Load config
	// ---------------------------------------------------------------
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// ---------------------------------------------------------------
	// 2. Create logger
	// ---------------------------------------------------------------
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------------------------------------------------------
	// 3. Connect to Postgres and apply the schema
	// ---------------------------------------------------------------
	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	database, err := db.New(startCtx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(startCtx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// ---------------------------------------------------------------
	// 4. Pick the room broker
	//
	// With REDIS_URL set, rooms span every gateway instance sharing that
	// Redis. Without it, rooms are local to this process.
	// ---------------------------------------------------------------
	var broker relay.Broker
	if cfg.RedisURL != "" {
		rb, err := relay.NewRedisBroker(startCtx, cfg.RedisURL, logger)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		broker = rb
		logger.Info("using redis broker")
	} else {
		broker = relay.NewMemoryBroker(logger)
		logger.Info("using in-process broker")
	}
	defer broker.Close()

	// ---------------------------------------------------------------
	// 5. Wire repositories and routes
	// ---------------------------------------------------------------
	pool := database.Pool()
	router := api.NewRouter(api.Deps{
		Users:        postgres.NewUserStore(pool),
		Messages:     postgres.NewMessageStore(pool),
		Broker:       broker,
		JWTSecret:    cfg.JWTSecret,
		TokenTTL:     cfg.TokenTTL,
		HistoryLimit: cfg.HistoryLimit,
		SendRate:     cfg.SendRate,
		SendBurst:    cfg.SendBurst,
		Health:       database.Health,
		Logger:       logger,
	})

	// ---------------------------------------------------------------
	// 6. Serve until interrupted
	// ---------------------------------------------------------------
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting chat gateway",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.Env),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	// Closing the broker ends every open stream with a normal closure;
	// Shutdown does not wait for hijacked connections.
	if err := broker.Close(); err != nil {
		logger.Warn("close broker", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
