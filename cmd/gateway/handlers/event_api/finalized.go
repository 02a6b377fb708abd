// Package event_api receives storage notifications and records them.
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
	"thirdcoast.systems/showreel/internal/veo"
	"thirdcoast.systems/showreel/pkg/utils/filename"
)

type arrivalResponse struct {
	Ref       string `json:"ref"`
	JobID     string `json:"job_id"`
	Duplicate bool   `json:"duplicate"`
}

// HandleObjectFinalized records new source images arriving in the ingest
// bucket. Notifications for other buckets (the generator's own uploads to the
// processed bucket fan in through the same subscription) are acknowledged
// without action so the push subscription does not redeliver them.
func HandleObjectFinalized(conf *config.Config, dbc *db.DatabaseConnection) echo.HandlerFunc {
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

		ctx := c.Request().Context()
		results := make([]arrivalResponse, 0, len(notifications))
		for _, n := range notifications {
			if n.Bucket != conf.IngestBucket {
				slog.Debug("ignoring finalize event outside ingest bucket", "ref", n.Ref())
				continue
			}
			if conf.IngestPrefix != "" && !strings.HasPrefix(n.ObjectName, conf.IngestPrefix) {
				continue
			}
			if !isSourceImage(&n) {
				slog.Debug("ignoring non-image object", "ref", n.Ref(), "content_type", n.ContentType)
				continue
			}

			res, err := dbc.RecordAssetArrival(ctx, &db.RecordAssetArrivalParams{
				Bucket:      n.Bucket,
				ObjectName:  n.ObjectName,
				Generation:  n.Generation,
				ContentType: n.ContentType,
				ProductCode: filename.ProductCode(n.ObjectName),
				Category:    filename.Category(n.ObjectName),
			})
			if err != nil {
				slog.Error("failed to record asset arrival", "ref", n.Ref(), "error", err)
				return common.ErrInternal("failed to record arrival")
			}

			slog.Info("asset arrival recorded",
				"ref", n.Ref(), "job_id", res.JobID.String(), "duplicate", res.Duplicate)
			results = append(results, arrivalResponse{
				Ref:       n.Ref(),
				JobID:     res.JobID.String(),
				Duplicate: res.Duplicate,
			})
		}

		if len(results) == 0 {
			return c.NoContent(204)
		}
		return c.JSON(200, results)
	}
}

// isSourceImage gates intake on objects the generator can submit as a
// reference image. S3 notifications carry no content type, so the object
// name decides when the header is absent.
func isSourceImage(n *pubsub.Notification) bool {
	if n.ContentType != "" {
		return strings.HasPrefix(n.ContentType, "image/")
	}
	_, ok := veo.ImageMIMEType(n.ObjectName)
	return ok
}
