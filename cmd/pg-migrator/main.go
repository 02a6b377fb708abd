package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"thirdcoast.systems/showreel/internal/application"
	"thirdcoast.systems/showreel/internal/config"
	"thirdcoast.systems/showreel/internal/db"
)

// The migrator runs as a one-shot job before the services come up. A hung
// migration should fail the deploy, not stall it.
const migrateTimeout = 2 * time.Minute

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
	defer cancel()

	if err := run(ctx); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("migrations applied")
}

func run(ctx context.Context) error {
	conf, err := config.LoadConfig(ctx)
	if err != nil {
		return err
	}

	pool, err := application.OpenDBPoolWithRetry(ctx, *conf)
	if err != nil {
		return err
	}
	defer pool.Close()

	dbc, err := db.NewDatabaseConnection(ctx, pool)
	if err != nil {
		return err
	}
	defer dbc.Close()

	return dbc.Migrate(ctx)
}
