package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"

	"thirdcoast.systems/showreel/internal/application"
	"thirdcoast.systems/showreel/internal/config"
	"thirdcoast.systems/showreel/internal/db"
	"thirdcoast.systems/showreel/internal/objstore"
)

// reclaimMaxAttempts caps redeliveries of a task whose storage operations
// keep failing. Lineage failures never burn attempts, they retire the task
// on first sight.
const reclaimMaxAttempts = 5

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting reclaimer service")

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

	store, err := objstore.NewClient(ctx, conf)
	if err != nil {
		slog.Error("failed to create object storage client", "error", err)
		os.Exit(1)
	}

	workers := envInt("RECLAIMER_WORKERS", 1)
	// Use hostname (container ID) for unique worker ID since PID is always 1 in containers
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = fmt.Sprintf("pid-%d", os.Getpid())
	}
	workerID := fmt.Sprintf("reclaimer-%s", hostname)

	// A reclamation is a handful of row updates and one object move; a lease
	// older than this belongs to a dead instance.
	stuckAfter := 5 * time.Minute
	go recoverStuckLoop(ctx, dbc, stuckAfter)

	wake := make(chan struct{}, 1)
	go db.ListenAndSignal(ctx, conf.DatabaseDSN, db.ReclamationChannel, wake)

	r := &Reclaimer{conf: conf, dbc: dbc, store: store}

	slog.Info("Reclaimer workers started", "workers", workers, "worker_id", workerID)
	for range workers {
		go reclaimWorker(ctx, r, workerID, wake)
	}

	<-ctx.Done()
	slog.Info("Reclaimer service stopping")
}

func reclaimWorker(ctx context.Context, r *Reclaimer, workerID string, wake <-chan struct{}) {
	q := r.dbc.Queries(ctx)
	for {
		if ctx.Err() != nil {
			return
		}

		// Work through due tasks until the queue is drained
		for {
			task, err := q.FindAndLockDueReclamationTask(ctx, workerID)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					break
				}
				if ctx.Err() != nil {
					return
				}
				slog.Error("failed to claim reclamation task", "error", err)
				time.Sleep(2 * time.Second)
				break
			}

			if err := r.processTask(ctx, task); err != nil {
				settleReclaimFailure(ctx, r, task, err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-wake:
			// new task notification
		case <-time.After(5 * time.Second):
			// periodic poll
		}
	}
}

// settleReclaimFailure reschedules a failed task or, once the redelivery
// budget is spent, retires it. It runs on a detached context so shutdown
// cannot leave the task leased.
func settleReclaimFailure(ctx context.Context, r *Reclaimer, task *db.ReclamationTask, taskErr error) {
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if ctx.Err() != nil {
		// Shutdown interrupted the task; hand it back without burning an
		// attempt.
		if err := r.dbc.Queries(settleCtx).UnclaimReclamationTask(settleCtx, task.ID); err != nil {
			slog.Error("failed to unclaim reclamation task", "task_id", task.ID.String(), "error", err)
		}
		return
	}

	errMsg := taskErr.Error()
	attempts := task.AttemptCount + 1
	if attempts >= reclaimMaxAttempts {
		if err := r.failTask(settleCtx, task, errMsg); err != nil {
			slog.Error("failed to retire reclamation task", "task_id", task.ID.String(), "error", err)
			return
		}
		slog.Error("reclamation failed terminally",
			"task_id", task.ID.String(), "artifact", task.Ref(),
			"attempts", attempts, "error", errMsg)
		return
	}

	delay := time.Duration(attempts) * 30 * time.Second
	if err := r.dbc.Queries(settleCtx).RescheduleReclamationTask(settleCtx, &db.RescheduleReclamationTaskParams{
		ID:        task.ID,
		NotBefore: time.Now().Add(delay),
		LastError: &errMsg,
	}); err != nil {
		slog.Error("failed to reschedule reclamation task", "task_id", task.ID.String(), "error", err)
		return
	}
	slog.Warn("reclamation failed, rescheduled",
		"task_id", task.ID.String(), "artifact", task.Ref(),
		"attempt", attempts, "backoff", delay, "error", taskErr)
}

func recoverStuckLoop(ctx context.Context, dbc *db.DatabaseConnection, stuckAfter time.Duration) {
	q := dbc.Queries(ctx)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		n, err := q.ResetStuckReclamationTasks(ctx, time.Now().Add(-stuckAfter))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("failed to recover stuck reclamation tasks", "error", err)
		} else if n > 0 {
			slog.Info("recovered stuck reclamation tasks", "count", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func envInt(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
