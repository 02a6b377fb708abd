package db

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// DatabaseConnection wraps the pgx pool with query and migration helpers.
type DatabaseConnection struct {
	*pgxpool.Pool
}

// NewDatabaseConnection wraps an already opened pool. The pool arrives
// retry-verified from application.OpenDBPoolWithRetry; the ping here only
// guards against a pool handed over after the database went away again.
func NewDatabaseConnection(ctx context.Context, pool *pgxpool.Pool) (*DatabaseConnection, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DatabaseConnection{pool}, nil
}

func (db *DatabaseConnection) Close() {
	db.Pool.Close()
}

// Queries returns a query runner bound to the pool.
func (db *DatabaseConnection) Queries(ctx context.Context) *Queries {
	return New(db)
}

// NewWithTX begins a transaction and returns a query runner bound to it.
// The caller owns the transaction and must commit or roll back.
func (db *DatabaseConnection) NewWithTX(ctx context.Context) (*Queries, pgx.Tx, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return New(tx), tx, nil
}

//go:embed sql/migrations/*.sql
var embedMigrations embed.FS

// Migrate brings the schema to the target version with goose, using the
// migrations embedded in the binary. GOOSE_UP_TO and GOOSE_DOWN_TO override
// the target; the default is the newest embedded version.
func (db *DatabaseConnection) Migrate(ctx context.Context) error {
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	stdDb := stdlib.OpenDBFromPool(db.Pool)
	defer stdDb.Close()

	currentVersion, err := goose.GetDBVersionContext(ctx, stdDb)
	if err != nil {
		return err
	}

	migrations, err := goose.CollectMigrations("sql/migrations", 0, goose.MaxVersion)
	if err != nil {
		return err
	}
	newest := int64(0)
	for _, m := range migrations {
		if m.Version > newest {
			newest = m.Version
		}
	}
	slog.Info("schema state",
		"current", currentVersion, "newest", newest, "embedded", len(migrations))

	if down, ok := os.LookupEnv("GOOSE_DOWN_TO"); ok {
		target, err := strconv.ParseInt(down, 10, 64)
		if err != nil {
			return fmt.Errorf("parse GOOSE_DOWN_TO: %w", err)
		}
		slog.Info("migrating down", "target", target)
		return goose.DownToContext(ctx, stdDb, "sql/migrations", target)
	}

	target := newest
	if up, ok := os.LookupEnv("GOOSE_UP_TO"); ok {
		target, err = strconv.ParseInt(up, 10, 64)
		if err != nil {
			return fmt.Errorf("parse GOOSE_UP_TO: %w", err)
		}
	}
	if currentVersion >= target {
		slog.Info("schema already at target", "version", currentVersion)
		return nil
	}
	return goose.UpToContext(ctx, stdDb, "sql/migrations", target)
}
