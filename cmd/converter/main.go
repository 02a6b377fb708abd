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

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting converter service")

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

	workers := envInt("CONVERTER_WORKERS", 1)
	// Use hostname (container ID) for unique worker ID since PID is always 1 in containers
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = fmt.Sprintf("pid-%d", os.Getpid())
	}
	workerID := fmt.Sprintf("converter-%s", hostname)

	// Transcodes finish in minutes; anything claimed far longer belongs to a
	// dead instance.
	stuckAfter := 15 * time.Minute
	go recoverStuckLoop(ctx, dbc, stuckAfter)

	wake := make(chan struct{}, 1)
	go db.ListenAndSignal(ctx, conf.DatabaseDSN, db.ApprovalChannel, wake)

	cv := &Converter{conf: conf, dbc: dbc, store: store}

	slog.Info("Converter workers started",
		"workers", workers, "worker_id", workerID, "format", conf.ConvertFormat)
	for range workers {
		go convertWorker(ctx, cv, workerID, wake)
	}

	<-ctx.Done()
	slog.Info("Converter service stopping")
}

func convertWorker(ctx context.Context, cv *Converter, workerID string, wake <-chan struct{}) {
	q := cv.dbc.Queries(ctx)
	for {
		if ctx.Err() != nil {
			return
		}

		// Convert due events until the queue is drained
		for {
			event, err := q.FindAndLockDueApprovalEvent(ctx, workerID)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					break
				}
				if ctx.Err() != nil {
					return
				}
				slog.Error("failed to claim approval event", "error", err)
				time.Sleep(2 * time.Second)
				break
			}

			if err := cv.processEvent(ctx, event); err != nil {
				settleConversionFailure(ctx, cv, event, err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-wake:
			// new event notification
		case <-time.After(5 * time.Second):
			// periodic poll
		}
	}
}

// settleConversionFailure reschedules a failed event or, once the redelivery
// budget is spent, fails it and the job terminally. It runs on a detached
// context so shutdown cannot leave the event leased.
func settleConversionFailure(ctx context.Context, cv *Converter, event *db.ApprovalEvent, convErr error) {
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if ctx.Err() != nil {
		// Shutdown killed the conversion; the error says nothing about the
		// event. Hand it back without burning an attempt.
		if err := cv.dbc.Queries(settleCtx).UnclaimApprovalEvent(settleCtx, event.ID); err != nil {
			slog.Error("failed to unclaim approval event", "event_id", event.ID.String(), "error", err)
		}
		return
	}

	errMsg := convErr.Error()
	attempts := event.AttemptCount + 1
	if attempts >= int32(cv.conf.ConvertMaxAttempts) {
		if err := failConversion(settleCtx, cv, event, errMsg); err != nil {
			slog.Error("failed to fail out approval event", "event_id", event.ID.String(), "error", err)
		}
		return
	}

	// Linear backoff; the budget is small and the usual causes (storage
	// hiccups, transient ffmpeg trouble) clear quickly.
	delay := time.Duration(attempts) * 30 * time.Second
	if err := cv.dbc.Queries(settleCtx).RescheduleApprovalEvent(settleCtx, &db.RescheduleApprovalEventParams{
		ID:        event.ID,
		NotBefore: time.Now().Add(delay),
		LastError: &errMsg,
	}); err != nil {
		slog.Error("failed to reschedule approval event", "event_id", event.ID.String(), "error", err)
		return
	}
	slog.Warn("conversion failed, rescheduled",
		"event_id", event.ID.String(), "job_id", event.JobID.String(),
		"attempt", attempts, "backoff", delay, "error", convErr)
}

// failConversion retires the event, fails the job, restores the asset to
// generated (its artifact is still intact), and records the failure, all in
// one transaction.
func failConversion(ctx context.Context, cv *Converter, event *db.ApprovalEvent, errMsg string) error {
	qtx, tx, err := cv.dbc.NewWithTX(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := qtx.FailApprovalEvent(ctx, &db.FailApprovalEventParams{
		ID:        event.ID,
		LastError: &errMsg,
	}); err != nil {
		return fmt.Errorf("fail event: %w", err)
	}

	job, err := qtx.GetJob(ctx, event.JobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	asset, err := qtx.GetAsset(ctx, job.AssetID)
	if err != nil {
		return fmt.Errorf("load asset: %w", err)
	}

	if err := qtx.SetJobStatus(ctx, job.ID, db.JobStatusFailed); err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if asset.Status == db.AssetStatusConverting {
		if err := qtx.SetAssetStatus(ctx, asset.ID, db.AssetStatusGenerated); err != nil {
			return fmt.Errorf("restore asset: %w", err)
		}
	}
	if err := qtx.AppendLedgerRecord(ctx, &db.AppendLedgerRecordParams{
		JobID:    job.ID,
		AssetRef: asset.Ref(),
		Event:    db.LedgerEventConversionFailed,
		Detail:   errMsg,
	}); err != nil {
		return fmt.Errorf("append ledger record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	slog.Error("conversion failed terminally",
		"event_id", event.ID.String(), "job_id", event.JobID.String(),
		"attempts", event.AttemptCount+1, "error", errMsg)
	return nil
}

func recoverStuckLoop(ctx context.Context, dbc *db.DatabaseConnection, stuckAfter time.Duration) {
	q := dbc.Queries(ctx)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		n, err := q.ResetStuckApprovalEvents(ctx, time.Now().Add(-stuckAfter))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("failed to recover stuck approval events", "error", err)
		} else if n > 0 {
			slog.Info("recovered stuck approval events", "count", n)
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
