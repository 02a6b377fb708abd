package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"

	"thirdcoast.systems/showreel/internal/application"
	"thirdcoast.systems/showreel/internal/config"
	"thirdcoast.systems/showreel/internal/db"
	"thirdcoast.systems/showreel/pkg/rategate"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting dispatcher service")

	conf, err := config.LoadConfig(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if conf.DatabaseRetries <= 0 {
		conf.DatabaseRetries = 10
	}

	pool, err := application.OpenDBPoolWithRetry(ctx, *conf)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	dbc, err := db.NewDatabaseConnection(ctx, pool)
	if err != nil {
		slog.Error("failed to create database connection", "error", err)
		os.Exit(1)
	}
	defer dbc.Close()

	workers := conf.DispatchConcurrency
	if workers < 1 {
		workers = 1
	}

	// Use hostname (container ID) for unique worker ID since PID is always 1 in containers
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = fmt.Sprintf("pid-%d", os.Getpid())
	}
	workerID := fmt.Sprintf("dispatcher-%s", hostname)

	// A claim older than the worker timeout plus slack belongs to a dead
	// instance; the delivery outcome is unknown so the row just goes back to
	// pending.
	stuckAfter := conf.WorkerTimeout + time.Minute
	go recoverStuckLoop(ctx, dbc, stuckAfter)

	gate := rategate.New(conf.DispatchInterval, workers)
	client := &http.Client{Timeout: conf.WorkerTimeout}

	wake := make(chan struct{}, 1)
	go db.ListenAndSignal(ctx, conf.DatabaseDSN, db.DispatchChannel, wake)

	slog.Info("Dispatcher workers started",
		"workers", workers, "worker_id", workerID,
		"interval", conf.DispatchInterval, "max_attempts", conf.DispatchMaxAttempts)
	for range workers {
		go dispatchWorker(ctx, dbc, conf, gate, client, workerID, wake)
	}

	<-ctx.Done()
	slog.Info("Dispatcher service stopping")
}

func dispatchWorker(ctx context.Context, dbc *db.DatabaseConnection, conf *config.Config, gate *rategate.Gate, client *http.Client, workerID string, wake <-chan struct{}) {
	q := dbc.Queries(ctx)
	for {
		if ctx.Err() != nil {
			return
		}

		// Deliver due requests until the queue is drained
		for {
			request, err := q.FindAndLockDueDispatchRequest(ctx, workerID)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					break
				}
				if ctx.Err() != nil {
					return
				}
				slog.Error("failed to claim dispatch request", "error", err)
				time.Sleep(2 * time.Second)
				break
			}

			// The launch budget is acquired after the claim so that empty
			// polls never consume a launch window.
			if err := gate.Acquire(ctx); err != nil {
				unclaimDispatchRequest(dbc, request)
				return
			}
			permanent, deliverErr := deliver(ctx, client, conf, request)
			gate.Release()

			settleDelivery(ctx, dbc, conf, request, permanent, deliverErr)
		}

		select {
		case <-ctx.Done():
			return
		case <-wake:
			// new request notification
		case <-time.After(5 * time.Second):
			// periodic poll
		}
	}
}

// unclaimDispatchRequest runs on shutdown after the worker claimed a row but
// before it attempted delivery. The parent context is already dead.
func unclaimDispatchRequest(dbc *db.DatabaseConnection, request *db.DispatchRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := dbc.Queries(ctx).UnclaimDispatchRequest(ctx, request.ID); err != nil {
		slog.Error("failed to unclaim dispatch request", "request_id", request.ID.String(), "error", err)
	}
}

func recoverStuckLoop(ctx context.Context, dbc *db.DatabaseConnection, stuckAfter time.Duration) {
	q := dbc.Queries(ctx)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		n, err := q.ResetStuckDispatchRequests(ctx, time.Now().Add(-stuckAfter))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("failed to recover stuck dispatch requests", "error", err)
		} else if n > 0 {
			slog.Info("recovered stuck dispatch requests", "count", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
