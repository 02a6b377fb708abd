package job_api

import (
	"log/slog"
	"strconv"

	"github.com/labstack/echo/v4"

	"thirdcoast.systems/showreel/cmd/gateway/handlers/common"
	"thirdcoast.systems/showreel/internal/db"
)

func HandleDeadLetters(dbc *db.DatabaseConnection) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := 100
		if raw := c.QueryParam("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				return common.ErrBadRequest("invalid limit")
			}
			limit = min(n, 500)
		}

		ctx := c.Request().Context()
		rows, err := dbc.Queries(ctx).ListDeadLetteredDispatches(ctx, int32(limit))
		if err != nil {
			slog.Error("failed to list dead letters", "error", err)
			return common.ErrInternal("failed to list dead letters")
		}

		out := make([]deadLetterJSON, 0, len(rows))
		for _, r := range rows {
			out = append(out, renderDeadLetter(r))
		}
		return c.JSON(200, out)
	}
}
