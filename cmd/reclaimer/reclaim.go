package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"thirdcoast.systems/showreel/internal/config"
	"thirdcoast.systems/showreel/internal/db"
	"thirdcoast.systems/showreel/internal/objstore"
)

// Reclaimer restores the source images of deleted approved artifacts to the
// ingestion flow. The deletion is the trigger; the restored image re-enters
// through the normal arrival path and gets a fresh job.
type Reclaimer struct {
	conf  *config.Config
	dbc   *db.DatabaseConnection
	store objstore.Client
}

// processTask resolves one deleted artifact back to its source asset and
// returns that asset to the ingest bucket. Lineage failures retire the task
// with zero pipeline mutations; only transient trouble returns an error for
// the caller to reschedule.
func (r *Reclaimer) processTask(ctx context.Context, task *db.ReclamationTask) error {
	q := r.dbc.Queries(ctx)

	record, err := q.FindLedgerRecordByArtifact(ctx, task.Ref())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			slog.Warn("no ledger record matches deleted artifact, dropping",
				"task_id", task.ID.String(), "artifact", task.Ref())
			return r.failTask(ctx, task, "no ledger record matches artifact")
		}
		return fmt.Errorf("ledger lookup: %w", err)
	}

	job, err := q.GetJob(ctx, record.JobID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			slog.Warn("ledger record points at a missing job, dropping",
				"task_id", task.ID.String(), "job_id", record.JobID.String())
			return r.failTask(ctx, task, "ledger record points at missing job")
		}
		return fmt.Errorf("load job: %w", err)
	}
	asset, err := q.GetAsset(ctx, job.AssetID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			slog.Warn("job points at a missing asset, dropping",
				"task_id", task.ID.String(), "job_id", job.ID.String())
			return r.failTask(ctx, task, "job points at missing asset")
		}
		return fmt.Errorf("load asset: %w", err)
	}

	if job.Status == db.JobStatusReclaimed {
		return r.resumeReclaim(ctx, task, job, asset)
	}
	if job.Status != db.JobStatusApproved {
		slog.Warn("deleted artifact belongs to a job not in approved state, dropping",
			"task_id", task.ID.String(), "job_id", job.ID.String(), "status", string(job.Status))
		return q.MarkReclamationTaskDone(ctx, task.ID)
	}

	// Commit the reclamation before touching storage. The task stays leased
	// across the move, so a crash in between resumes here instead of
	// stranding a half-moved asset.
	artifactRef := task.Ref()
	qtx, tx, err := r.dbc.NewWithTX(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := qtx.SetJobStatus(ctx, job.ID, db.JobStatusReclaimed); err != nil {
		return fmt.Errorf("reclaim job: %w", err)
	}
	if err := qtx.AppendLedgerRecord(ctx, &db.AppendLedgerRecordParams{
		JobID:       job.ID,
		AssetRef:    asset.Ref(),
		ArtifactRef: &artifactRef,
		Event:       db.LedgerEventReclaimed,
		Detail:      "approved artifact deleted",
	}); err != nil {
		return fmt.Errorf("append ledger record: %w", err)
	}
	if err := qtx.RelocateAsset(ctx, &db.RelocateAssetParams{
		ID:     asset.ID,
		Bucket: r.conf.IngestBucket,
		Status: db.AssetStatusPending,
	}); err != nil {
		return fmt.Errorf("relocate asset: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	// The move fires the ingest bucket's arrival notification, which opens
	// the replacement job. The loaded asset still carries the pre-relocation
	// bucket.
	if err := r.store.Move(ctx, asset.Bucket, asset.ObjectName, r.conf.IngestBucket, asset.ObjectName); err != nil {
		return fmt.Errorf("restore source image: %w", err)
	}

	if err := q.MarkReclamationTaskDone(ctx, task.ID); err != nil {
		return fmt.Errorf("settle task: %w", err)
	}

	slog.Info("asset reclaimed",
		"job_id", job.ID.String(), "product_code", job.ProductCode,
		"source", asset.ObjectName, "artifact", task.Ref())
	return nil
}

// resumeReclaim finishes a task whose reclamation already committed: either
// this process died between the commit and the move, or a duplicate deletion
// notification arrived after everything was done.
func (r *Reclaimer) resumeReclaim(ctx context.Context, task *db.ReclamationTask, job *db.Job, asset *db.Asset) error {
	q := r.dbc.Queries(ctx)

	if asset.Bucket != r.conf.IngestBucket || asset.Status != db.AssetStatusPending {
		// A replacement job owns the asset now. Nothing left to restore.
		slog.Info("reclamation already complete",
			"task_id", task.ID.String(), "job_id", job.ID.String())
		return q.MarkReclamationTaskDone(ctx, task.ID)
	}

	inProcessed, err := r.store.Exists(ctx, r.conf.ProcessedBucket, asset.ObjectName)
	if err != nil {
		return fmt.Errorf("probe processed bucket: %w", err)
	}
	if inProcessed {
		if err := r.store.Move(ctx, r.conf.ProcessedBucket, asset.ObjectName, r.conf.IngestBucket, asset.ObjectName); err != nil {
			return fmt.Errorf("restore source image: %w", err)
		}
		slog.Info("finished interrupted reclamation move",
			"job_id", job.ID.String(), "source", asset.ObjectName)
		return q.MarkReclamationTaskDone(ctx, task.ID)
	}

	inIngest, err := r.store.Exists(ctx, r.conf.IngestBucket, asset.ObjectName)
	if err != nil {
		return fmt.Errorf("probe ingest bucket: %w", err)
	}
	if inIngest {
		return q.MarkReclamationTaskDone(ctx, task.ID)
	}

	slog.Error("source image missing from both buckets, cannot restore",
		"task_id", task.ID.String(), "job_id", job.ID.String(), "object", asset.ObjectName)
	return r.failTask(ctx, task, "source image missing from both buckets")
}

// failTask records the reason and retires the task.
func (r *Reclaimer) failTask(ctx context.Context, task *db.ReclamationTask, reason string) error {
	return r.dbc.Queries(ctx).FailReclamationTask(ctx, &db.FailReclamationTaskParams{
		ID:        task.ID,
		LastError: &reason,
	})
}
