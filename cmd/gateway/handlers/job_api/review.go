package job_api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"thirdcoast.systems/showreel/cmd/gateway/handlers/common"
	"thirdcoast.systems/showreel/internal/db"
	"thirdcoast.systems/showreel/internal/objstore"
	"thirdcoast.systems/showreel/pkg/utils/markdown"
)

type reviewRequest struct {
	Decision string            `json:"decision"`
	Reviewer string            `json:"reviewer"`
	Notes    markdown.Markdown `json:"notes"`
}

// HandleReview records a human review decision for a generated video.
// approve queues the artifact for conversion, regenerate sends the job back
// through the dispatcher, remove rejects the job and deletes the artifact.
func HandleReview(dbc *db.DatabaseConnection, store objstore.Client) echo.HandlerFunc {
	return func(c echo.Context) error {
		jobUUID, err := common.RequireUUIDParam(c, "id")
		if err != nil {
			return err
		}

		var req reviewRequest
		if err := c.Bind(&req); err != nil {
			return common.ErrBadRequest("invalid request body")
		}
		if req.Reviewer == "" {
			return common.ErrBadRequest("reviewer is required")
		}

		verdict := db.ReviewVerdict(req.Decision)
		switch verdict {
		case db.ReviewVerdictApprove, db.ReviewVerdictRegenerate, db.ReviewVerdictRemove:
		default:
			return common.ErrBadRequest("unknown decision " + req.Decision)
		}

		ctx := c.Request().Context()
		job, err := dbc.Queries(ctx).GetJob(ctx, jobUUID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return common.ErrNotFound("job not found")
			}
			slog.Error("failed to load job", "job_id", jobUUID.String(), "error", err)
			return common.ErrInternal("failed to load job")
		}

		switch verdict {
		case db.ReviewVerdictApprove:
			return approveJob(c, dbc, job, &req)
		case db.ReviewVerdictRegenerate:
			return regenerateJob(c, dbc, job, &req)
		default:
			return removeJob(c, dbc, store, job, &req)
		}
	}
}

func approveJob(c echo.Context, dbc *db.DatabaseConnection, job *db.Job, req *reviewRequest) error {
	if job.Status != db.JobStatusGenerated {
		return common.ErrConflict("job is not awaiting review")
	}

	ctx := c.Request().Context()
	qtx, tx, err := dbc.NewWithTX(ctx)
	if err != nil {
		return common.ErrInternal("failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	artifactRef, err := qtx.LatestArtifactForJob(ctx, job.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return common.ErrConflict("job has no generated artifact")
		}
		slog.Error("failed to resolve artifact", "job_id", job.ID.String(), "error", err)
		return common.ErrInternal("failed to resolve artifact")
	}

	asset, err := qtx.GetAsset(ctx, job.AssetID)
	if err != nil {
		slog.Error("failed to load asset", "job_id", job.ID.String(), "error", err)
		return common.ErrInternal("failed to load asset")
	}

	if _, err := qtx.InsertReviewDecision(ctx, &db.InsertReviewDecisionParams{
		JobID:    job.ID,
		Verdict:  db.ReviewVerdictApprove,
		Reviewer: req.Reviewer,
		Notes:    req.Notes,
	}); err != nil {
		slog.Error("failed to record review decision", "job_id", job.ID.String(), "error", err)
		return common.ErrInternal("failed to record decision")
	}

	published, err := qtx.PublishApprovalEvent(ctx, &db.PublishApprovalEventParams{
		JobID:             job.ID,
		GeneratedAssetRef: artifactRef,
	})
	if err != nil {
		slog.Error("failed to publish approval event", "job_id", job.ID.String(), "error", err)
		return common.ErrInternal("failed to publish approval")
	}

	if err := qtx.AppendLedgerRecord(ctx, &db.AppendLedgerRecordParams{
		JobID:       job.ID,
		AssetRef:    asset.Ref(),
		ArtifactRef: &artifactRef,
		Event:       db.LedgerEventApproved,
		Detail:      req.Reviewer,
	}); err != nil {
		slog.Error("failed to append ledger record", "job_id", job.ID.String(), "error", err)
		return common.ErrInternal("failed to append ledger record")
	}

	if published {
		if err := qtx.NotifyApprovalQueue(ctx); err != nil {
			slog.Error("failed to notify approval queue", "error", err)
			return common.ErrInternal("failed to notify approval queue")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return common.ErrInternal("failed to commit")
	}

	slog.Info("job approved", "job_id", job.ID.String(), "artifact", artifactRef, "reviewer", req.Reviewer)
	return c.JSON(200, map[string]any{"status": "approved", "queued": published})
}

func regenerateJob(c echo.Context, dbc *db.DatabaseConnection, job *db.Job, req *reviewRequest) error {
	switch job.Status {
	case db.JobStatusGenerated, db.JobStatusFailed:
	default:
		return common.ErrConflict("job is not in a regenerable state")
	}

	ctx := c.Request().Context()
	qtx, tx, err := dbc.NewWithTX(ctx)
	if err != nil {
		return common.ErrInternal("failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	asset, err := qtx.GetAsset(ctx, job.AssetID)
	if err != nil {
		slog.Error("failed to load asset", "job_id", job.ID.String(), "error", err)
		return common.ErrInternal("failed to load asset")
	}

	if _, err := qtx.InsertReviewDecision(ctx, &db.InsertReviewDecisionParams{
		JobID:    job.ID,
		Verdict:  db.ReviewVerdictRegenerate,
		Reviewer: req.Reviewer,
		Notes:    req.Notes,
	}); err != nil {
		slog.Error("failed to record review decision", "job_id", job.ID.String(), "error", err)
		return common.ErrInternal("failed to record decision")
	}

	if err := qtx.AppendLedgerRecord(ctx, &db.AppendLedgerRecordParams{
		JobID:    job.ID,
		AssetRef: asset.Ref(),
		Event:    db.LedgerEventRegenerateRequested,
		Detail:   req.Reviewer,
	}); err != nil {
		slog.Error("failed to append ledger record", "job_id", job.ID.String(), "error", err)
		return common.ErrInternal("failed to append ledger record")
	}

	if err := qtx.SetJobStatus(ctx, job.ID, db.JobStatusPending); err != nil {
		return common.ErrInternal("failed to update job")
	}
	if err := qtx.SetAssetStatus(ctx, asset.ID, db.AssetStatusPending); err != nil {
		return common.ErrInternal("failed to update asset")
	}

	// The payload carries the asset's current home, which moved to the
	// processed bucket when the first generation succeeded.
	payload, err := json.Marshal(db.DispatchPayload{JobID: job.ID.String(), SourceRef: asset.Ref()})
	if err != nil {
		return common.ErrInternal("failed to encode payload")
	}

	dispatched, err := qtx.EnqueueDispatchRequest(ctx, &db.EnqueueDispatchRequestParams{
		JobID:            job.ID,
		TargetCapability: db.CapabilityGenerate,
		Payload:          payload,
	})
	if err != nil {
		slog.Error("failed to enqueue dispatch", "job_id", job.ID.String(), "error", err)
		return common.ErrInternal("failed to enqueue dispatch")
	}
	if dispatched {
		if err := qtx.NotifyDispatchQueue(ctx); err != nil {
			return common.ErrInternal("failed to notify dispatch queue")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return common.ErrInternal("failed to commit")
	}

	slog.Info("job regeneration requested", "job_id", job.ID.String(), "reviewer", req.Reviewer)
	return c.JSON(200, map[string]any{"status": "queued", "dispatched": dispatched})
}

func removeJob(c echo.Context, dbc *db.DatabaseConnection, store objstore.Client, job *db.Job, req *reviewRequest) error {
	if job.Status != db.JobStatusGenerated {
		return common.ErrConflict("job is not awaiting review")
	}

	ctx := c.Request().Context()
	qtx, tx, err := dbc.NewWithTX(ctx)
	if err != nil {
		return common.ErrInternal("failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	var artifactPtr *string
	artifactRef, err := qtx.LatestArtifactForJob(ctx, job.ID)
	switch {
	case err == nil:
		artifactPtr = &artifactRef
	case errors.Is(err, pgx.ErrNoRows):
		// Nothing was produced; reject the job anyway.
	default:
		slog.Error("failed to resolve artifact", "job_id", job.ID.String(), "error", err)
		return common.ErrInternal("failed to resolve artifact")
	}

	asset, err := qtx.GetAsset(ctx, job.AssetID)
	if err != nil {
		slog.Error("failed to load asset", "job_id", job.ID.String(), "error", err)
		return common.ErrInternal("failed to load asset")
	}

	if _, err := qtx.InsertReviewDecision(ctx, &db.InsertReviewDecisionParams{
		JobID:    job.ID,
		Verdict:  db.ReviewVerdictRemove,
		Reviewer: req.Reviewer,
		Notes:    req.Notes,
	}); err != nil {
		slog.Error("failed to record review decision", "job_id", job.ID.String(), "error", err)
		return common.ErrInternal("failed to record decision")
	}

	if err := qtx.AppendLedgerRecord(ctx, &db.AppendLedgerRecordParams{
		JobID:       job.ID,
		AssetRef:    asset.Ref(),
		ArtifactRef: artifactPtr,
		Event:       db.LedgerEventRejected,
		Detail:      req.Reviewer,
	}); err != nil {
		slog.Error("failed to append ledger record", "job_id", job.ID.String(), "error", err)
		return common.ErrInternal("failed to append ledger record")
	}

	if err := qtx.SetJobStatus(ctx, job.ID, db.JobStatusRejected); err != nil {
		return common.ErrInternal("failed to update job")
	}
	if err := qtx.SetAssetStatus(ctx, asset.ID, db.AssetStatusRejected); err != nil {
		return common.ErrInternal("failed to update asset")
	}

	if err := tx.Commit(ctx); err != nil {
		return common.ErrInternal("failed to commit")
	}

	// Best effort: the rejection is already durable, a leftover artifact only
	// wastes storage.
	if artifactPtr != nil {
		if bucket, key, found := strings.Cut(artifactRef, "/"); found {
			if err := store.Delete(ctx, bucket, key); err != nil {
				slog.Error("failed to delete rejected artifact", "artifact", artifactRef, "error", err)
			}
		}
	}

	slog.Info("job rejected", "job_id", job.ID.String(), "reviewer", req.Reviewer)
	return c.JSON(200, map[string]any{"status": "rejected"})
}
