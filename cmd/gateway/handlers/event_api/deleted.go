package event_api

import (
	"io"
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"

	"thirdcoast.systems/showreel/cmd/gateway/handlers/common"
	"thirdcoast.systems/showreel/internal/config"
	"thirdcoast.systems/showreel/internal/db"
	"thirdcoast.systems/showreel/internal/pubsub"
)

type reclamationResponse struct {
	Ref    string `json:"ref"`
	Queued bool   `json:"queued"`
}

// HandleObjectDeleted turns deletions of approved artifacts into reclamation
// tasks. The reclaimer resolves lineage through the ledger, so this handler
// only filters and enqueues.
func HandleObjectDeleted(conf *config.Config, dbc *db.DatabaseConnection) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return common.ErrBadRequest("unreadable body")
		}

		notifications, err := pubsub.ParseNotifications(raw)
		if err != nil {
			slog.Warn("unrecognized storage notification", "error", err)
			return common.ErrBadRequest("unrecognized notification payload")
		}

		results := make([]reclamationResponse, 0, len(notifications))
		for _, n := range notifications {
			if n.Bucket != conf.ApprovedBucket {
				slog.Debug("ignoring delete event outside approved bucket", "ref", n.Ref())
				continue
			}
			if conf.ApprovedPrefix != "" && !strings.HasPrefix(n.ObjectName, conf.ApprovedPrefix) {
				continue
			}

			queued, err := enqueueReclamation(c, dbc, n.Bucket, n.ObjectName)
			if err != nil {
				slog.Error("failed to enqueue reclamation", "ref", n.Ref(), "error", err)
				return common.ErrInternal("failed to enqueue reclamation")
			}

			slog.Info("artifact deletion recorded", "ref", n.Ref(), "queued", queued)
			results = append(results, reclamationResponse{Ref: n.Ref(), Queued: queued})
		}

		if len(results) == 0 {
			return c.NoContent(204)
		}
		return c.JSON(200, results)
	}
}

func enqueueReclamation(c echo.Context, dbc *db.DatabaseConnection, bucket, objectName string) (bool, error) {
	ctx := c.Request().Context()

	qtx, tx, err := dbc.NewWithTX(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	queued, err := qtx.EnqueueReclamationTask(ctx, &db.EnqueueReclamationTaskParams{
		Bucket:     bucket,
		ObjectName: objectName,
	})
	if err != nil {
		return false, err
	}
	if queued {
		// Sent on commit, so the reclaimer never wakes for an invisible row.
		if err := qtx.NotifyReclamationQueue(ctx); err != nil {
			return false, err
		}
	}

	return queued, tx.Commit(ctx)
}
