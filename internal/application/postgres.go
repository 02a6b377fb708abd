package application

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"thirdcoast.systems/showreel/internal/config"
)

var (
	dbOpenBackoffBase  = 1 * time.Second
	dbOpenBackoffScale = 1.618
)

// OpenDBPoolWithRetry opens a PostgreSQL connection pool and verifies it with
// a ping, retrying with growing backoff. Services start alongside the
// database in compose, so the first attempts routinely race its boot.
func OpenDBPoolWithRetry(ctx context.Context, conf config.Config) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(conf.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("parse database DSN: %w", err)
	}

	slog.Info("connecting to database", "host", cfg.ConnConfig.Host)

	var lastErr error
	for attempt := 0; attempt < conf.DatabaseRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(float64(dbOpenBackoffBase) * math.Pow(dbOpenBackoffScale, float64(attempt-1)))
			slog.Info("database not ready, retrying", "backoff", backoff, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			lastErr = err
			continue
		}

		pingCtx, cancel := context.WithTimeout(ctx, 1*time.Second)
		err = pool.Ping(pingCtx)
		cancel()
		if err != nil {
			pool.Close()
			lastErr = err
			continue
		}

		slog.Info("database connected", "host", cfg.ConnConfig.Host)
		return pool, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("database unreachable after %d attempts: %w", conf.DatabaseRetries, lastErr)
	}
	return nil, fmt.Errorf("database unreachable after %d attempts", conf.DatabaseRetries)
}
