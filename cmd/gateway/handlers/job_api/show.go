package job_api

import (
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"thirdcoast.systems/showreel/cmd/gateway/handlers/common"
	"thirdcoast.systems/showreel/internal/db"
)

// HandleShow returns a job together with its full ledger history and any
// review decisions, the complete audit trail for one source image.
func HandleShow(dbc *db.DatabaseConnection) echo.HandlerFunc {
	return func(c echo.Context) error {
		jobUUID, err := common.RequireUUIDParam(c, "id")
		if err != nil {
			return err
		}

		ctx := c.Request().Context()
		q := dbc.Queries(ctx)

		job, err := q.GetJob(ctx, jobUUID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return common.ErrNotFound("job not found")
			}
			slog.Error("failed to load job", "job_id", jobUUID.String(), "error", err)
			return common.ErrInternal("failed to load job")
		}

		records, err := q.ListLedgerRecordsForJob(ctx, jobUUID)
		if err != nil {
			slog.Error("failed to load ledger", "job_id", jobUUID.String(), "error", err)
			return common.ErrInternal("failed to load ledger")
		}

		decisions, err := q.ListReviewDecisionsForJob(ctx, jobUUID)
		if err != nil {
			slog.Error("failed to load review decisions", "job_id", jobUUID.String(), "error", err)
			return common.ErrInternal("failed to load review decisions")
		}

		return c.JSON(200, map[string]any{
			"job":     renderJob(job),
			"ledger":  renderLedger(records),
			"reviews": renderDecisions(decisions),
		})
	}
}
