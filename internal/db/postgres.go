package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/storefront/internal/observ"
	"go.uber.org/zap"
)

type DB struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New creates a connection pool from a Postgres URL and pings it.
//
// Why ping here instead of on the first query?
//   - pgxpool.NewWithConfig connects lazily, so a wrong DATABASE_URL would
//     only show up when the first user tries to log in.
//   - Failing at startup keeps a broken gateway out of the load balancer.
func New(ctx context.Context, databaseURL string, logger *zap.Logger) (*DB, error) {
	logger = observ.OrNop(logger)
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	// Pool sizing for a chat gateway:
	//
	// MaxConns (25): an open stream does not hold a connection. It borrows
	//   one for each persisted frame, plus once for MarkRead on connect,
	//   so 25 covers many more streams than that.
	//
	// MinConns (2): the gateway idles between bursts of chat traffic; two
	//   warm connections keep the first login after a quiet period fast.
	//
	// MaxConnLifetime / MaxConnIdleTime / HealthCheckPeriod: recycle and
	//   probe connections so failovers and dropped TCP sessions are found
	//   before a query hits them.
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 20 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping DB: %w", err)
	}

	logger.Info("DB connection established",
		zap.String("host", poolConfig.ConnConfig.Host),
		zap.String("database", poolConfig.ConnConfig.Database),
		zap.Int32("max_conns", poolConfig.MaxConns),
	)
	return &DB{
		pool:   pool,
		logger: logger,
	}, nil
}

// Migrate creates the chat tables if they do not exist yet.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	db.logger.Info("schema up to date")
	return nil
}

func (db *DB) Close() {
	db.logger.Info("closing database connection pool")
	db.pool.Close()
}

func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

func (db *DB) Health(ctx context.Context) error {
	return db.pool.Ping(ctx)
}
