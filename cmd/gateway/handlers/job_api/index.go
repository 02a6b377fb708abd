package job_api

import (
	"log/slog"
	"strconv"

	"github.com/labstack/echo/v4"

	"thirdcoast.systems/showreel/cmd/gateway/handlers/common"
	"thirdcoast.systems/showreel/internal/db"
)

func parseJobStatus(s string) (*db.JobStatus, bool) {
	if s == "" {
		return nil, true
	}
	status := db.JobStatus(s)
	switch status {
	case db.JobStatusPending, db.JobStatusGenerating, db.JobStatusGenerated,
		db.JobStatusConverting, db.JobStatusApproved, db.JobStatusRejected,
		db.JobStatusFailed, db.JobStatusReclaimed:
		return &status, true
	default:
		return nil, false
	}
}

func HandleIndex(dbc *db.DatabaseConnection) echo.HandlerFunc {
	return func(c echo.Context) error {
		status, ok := parseJobStatus(c.QueryParam("status"))
		if !ok {
			return common.ErrBadRequest("unknown status " + c.QueryParam("status"))
		}

		limit := 100
		if raw := c.QueryParam("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				return common.ErrBadRequest("invalid limit")
			}
			limit = min(n, 500)
		}

		ctx := c.Request().Context()
		jobs, err := dbc.Queries(ctx).ListJobs(ctx, &db.ListJobsParams{
			Status: status,
			Limit:  int32(limit),
		})
		if err != nil {
			slog.Error("failed to list jobs", "error", err)
			return common.ErrInternal("failed to list jobs")
		}

		out := make([]jobJSON, 0, len(jobs))
		for _, j := range jobs {
			out = append(out, renderJob(j))
		}
		return c.JSON(200, out)
	}
}
