// Package authgatepg backs the user store with a pgx connection pool for
// deployments that already run the rest of their stack on pgx.
package authgatepg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	poolMinConns          = 1
	poolMaxConns          = 8
	poolMaxConnLifetime   = 30 * time.Minute
	poolMaxConnIdleTime   = 5 * time.Minute
	poolHealthCheckPeriod = 30 * time.Second
)

// BuildPool parses the database URL, applies pool limits sized for the
// token-refresh write pattern, and verifies connectivity before returning.
func BuildPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolConfig, parseErr := pgxpool.ParseConfig(databaseURL)
	if parseErr != nil {
		return nil, fmt.Errorf("pool.parse_config: %w", parseErr)
	}
	poolConfig.MinConns = poolMinConns
	poolConfig.MaxConns = poolMaxConns
	poolConfig.MaxConnLifetime = poolMaxConnLifetime
	poolConfig.MaxConnIdleTime = poolMaxConnIdleTime
	poolConfig.HealthCheckPeriod = poolHealthCheckPeriod

	pool, poolErr := pgxpool.NewWithConfig(ctx, poolConfig)
	if poolErr != nil {
		return nil, fmt.Errorf("pool.connect: %w", poolErr)
	}
	if pingErr := pool.Ping(ctx); pingErr != nil {
		pool.Close()
		return nil, fmt.Errorf("pool.ping: %w", pingErr)
	}
	return pool, nil
}
