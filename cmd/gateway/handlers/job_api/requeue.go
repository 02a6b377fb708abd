package job_api

import (
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"thirdcoast.systems/showreel/cmd/gateway/handlers/common"
	"thirdcoast.systems/showreel/internal/db"
)

// HandleRequeue puts a dead-lettered dispatch request back on the queue with
// a fresh attempt budget and returns its job to pending.
func HandleRequeue(dbc *db.DatabaseConnection) echo.HandlerFunc {
	return func(c echo.Context) error {
		reqUUID, err := common.RequireUUIDParam(c, "id")
		if err != nil {
			return err
		}

		ctx := c.Request().Context()
		qtx, tx, err := dbc.NewWithTX(ctx)
		if err != nil {
			return common.ErrInternal("failed to begin transaction")
		}
		defer tx.Rollback(ctx)

		request, err := qtx.GetDispatchRequest(ctx, reqUUID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return common.ErrNotFound("dispatch request not found")
			}
			slog.Error("failed to load dispatch request", "request_id", reqUUID.String(), "error", err)
			return common.ErrInternal("failed to load dispatch request")
		}

		requeued, err := qtx.RequeueDeadLetteredDispatch(ctx, reqUUID)
		if err != nil {
			slog.Error("failed to requeue dispatch request", "request_id", reqUUID.String(), "error", err)
			return common.ErrInternal("failed to requeue")
		}
		if !requeued {
			return common.ErrConflict("dispatch request is not dead-lettered")
		}

		job, err := qtx.GetJob(ctx, request.JobID)
		if err != nil {
			slog.Error("failed to load job", "job_id", request.JobID.String(), "error", err)
			return common.ErrInternal("failed to load job")
		}
		asset, err := qtx.GetAsset(ctx, job.AssetID)
		if err != nil {
			slog.Error("failed to load asset", "job_id", job.ID.String(), "error", err)
			return common.ErrInternal("failed to load asset")
		}

		if err := qtx.SetJobStatus(ctx, job.ID, db.JobStatusPending); err != nil {
			return common.ErrInternal("failed to update job")
		}
		if err := qtx.AppendLedgerRecord(ctx, &db.AppendLedgerRecordParams{
			JobID:    job.ID,
			AssetRef: asset.Ref(),
			Event:    db.LedgerEventQueued,
			Detail:   "requeued from dead letter",
		}); err != nil {
			return common.ErrInternal("failed to append ledger record")
		}
		if err := qtx.NotifyDispatchQueue(ctx); err != nil {
			return common.ErrInternal("failed to notify dispatch queue")
		}

		if err := tx.Commit(ctx); err != nil {
			return common.ErrInternal("failed to commit")
		}

		slog.Info("dead letter requeued", "request_id", reqUUID.String(), "job_id", job.ID.String())
		return c.JSON(200, map[string]any{"status": "queued"})
	}
}
