package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/labstack/echo/v4"

	"thirdcoast.systems/showreel/internal/config"
	"thirdcoast.systems/showreel/internal/db"
	"thirdcoast.systems/showreel/internal/objstore"
	"thirdcoast.systems/showreel/internal/veo"
)

// Generator owns the end to end handling of one generate request.
type Generator struct {
	conf  *config.Config
	dbc   *db.DatabaseConnection
	store objstore.Client
	veo   *veo.Client

	// slots caps concurrent generations; requests beyond capacity are
	// turned away with 429 so the dispatcher reschedules them.
	slots chan struct{}
}

type generateResponse struct {
	JobID     string `json:"job_id"`
	Artifact  string `json:"artifact,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// HandleGenerate runs one generation end to end: download the source image,
// call the video model, upload the result to the processed bucket, and move
// the source alongside it.
//
// The response status tells the dispatcher how to settle the request: 2xx
// marks it delivered, 408/425/429 and 5xx reschedule it, any other 4xx
// dead-letters it.
func (g *Generator) HandleGenerate(c echo.Context) error {
	ctx := c.Request().Context()

	var payload db.DispatchPayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}

	var jobID pgtype.UUID
	if err := jobID.Scan(payload.JobID); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid job id")
	}

	select {
	case g.slots <- struct{}{}:
	default:
		return echo.NewHTTPError(http.StatusTooManyRequests, "all workers busy")
	}
	defer func() { <-g.slots }()

	q := g.dbc.Queries(ctx)
	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, "unknown job")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load job")
	}

	switch job.Status {
	case db.JobStatusGenerated, db.JobStatusConverting, db.JobStatusApproved:
		// Redelivery of work that already finished. Report success so the
		// dispatcher settles the request.
		return c.JSON(http.StatusOK, generateResponse{JobID: job.ID.String(), Duplicate: true})
	case db.JobStatusRejected, db.JobStatusReclaimed, db.JobStatusFailed:
		return echo.NewHTTPError(http.StatusConflict, "job is "+string(job.Status))
	}

	// The payload's source_ref is informational; the asset row is the
	// authority on where the object lives now (a regenerate request arrives
	// after the source already moved to the processed bucket).
	asset, err := q.GetAsset(ctx, job.AssetID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load asset")
	}

	mimeType, ok := veo.ImageMIMEType(asset.ObjectName)
	if !ok {
		g.recordGenerationFailure(ctx, job, asset.Ref(), "unsupported source image type")
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "unsupported source image type")
	}

	if err := q.SetJobStatus(ctx, job.ID, db.JobStatusGenerating); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update job")
	}
	if err := q.SetAssetStatus(ctx, asset.ID, db.AssetStatusGenerating); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update asset")
	}

	tmpDir, err := os.MkdirTemp("", "generate-")
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create temp dir")
	}
	defer os.RemoveAll(tmpDir)

	imageFile, sourceBucket, size, notFound, err := g.downloadSource(ctx, tmpDir, asset)
	if notFound {
		g.recordGenerationFailure(ctx, job, asset.Ref(), "source object missing")
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "source object missing")
	}
	if err != nil {
		slog.Error("failed to download source image", "job_id", job.ID.String(), "ref", asset.Ref(), "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to download source image")
	}
	slog.Info("source image downloaded",
		"job_id", job.ID.String(), "ref", sourceBucket+"/"+asset.ObjectName,
		"size", humanize.Bytes(uint64(size)))

	imageData, err := os.ReadFile(imageFile)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read source image")
	}

	started := time.Now()
	video, err := g.veo.Generate(ctx, &veo.GenerateRequest{
		Prompt:          veo.PromptFor(job.Category),
		ImageData:       imageData,
		ImageMIMEType:   mimeType,
		DurationSeconds: g.conf.VideoDurationSeconds,
		Resolution:      g.conf.VideoResolution,
	})
	if err != nil {
		slog.Error("generation failed", "job_id", job.ID.String(), "product_code", job.ProductCode, "error", err)
		g.recordGenerationFailure(ctx, job, asset.Ref(), err.Error())
		return echo.NewHTTPError(generationStatus(err), "generation failed")
	}
	slog.Info("video generated",
		"job_id", job.ID.String(), "product_code", job.ProductCode,
		"size", humanize.Bytes(uint64(len(video.Data))), "took", time.Since(started))

	artifactRef, err := g.storeGeneration(ctx, tmpDir, job, asset, sourceBucket, video)
	if err != nil {
		slog.Error("failed to store generated video", "job_id", job.ID.String(), "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to store generated video")
	}

	return c.JSON(http.StatusOK, generateResponse{JobID: job.ID.String(), Artifact: artifactRef})
}

// downloadSource fetches the source image. After a crash between the object
// move and the commit, the object is already in the processed bucket while
// the asset row still points at ingest, so a miss falls through to the
// processed bucket before giving up.
func (g *Generator) downloadSource(ctx context.Context, tmpDir string, asset *db.Asset) (filename, bucket string, size int64, notFound bool, err error) {
	filename, size, notFound, err = g.store.Download(ctx, tmpDir, asset.Bucket, asset.ObjectName)
	if err != nil || !notFound {
		return filename, asset.Bucket, size, notFound, err
	}
	if asset.Bucket == g.conf.ProcessedBucket {
		return "", asset.Bucket, 0, true, nil
	}

	filename, size, notFound, err = g.store.Download(ctx, tmpDir, g.conf.ProcessedBucket, asset.ObjectName)
	return filename, g.conf.ProcessedBucket, size, notFound, err
}

// storeGeneration uploads the video, moves the source image next to it, and
// commits the state flip. The object writes happen before the database writes
// so a crash in between leaves a re-runnable job, never a committed row that
// points at nothing.
func (g *Generator) storeGeneration(ctx context.Context, tmpDir string, job *db.Job, asset *db.Asset, sourceBucket string, video *veo.Video) (string, error) {
	artifactKey := job.ProductCode + ".mp4"
	videoFile := filepath.Join(tmpDir, artifactKey)
	if err := os.WriteFile(videoFile, video.Data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write video file: %w", err)
	}

	contentType := video.MIMEType
	if contentType == "" {
		contentType = "video/mp4"
	}
	if err := g.store.Upload(ctx, g.conf.ProcessedBucket, artifactKey, videoFile, contentType); err != nil {
		return "", fmt.Errorf("failed to upload video: %w", err)
	}
	artifactRef := g.conf.ProcessedBucket + "/" + artifactKey

	// The source image follows its artifact so review and regeneration keep
	// working after the ingest bucket is cleaned out.
	if sourceBucket != g.conf.ProcessedBucket {
		if err := g.store.Move(ctx, sourceBucket, asset.ObjectName, g.conf.ProcessedBucket, asset.ObjectName); err != nil {
			return "", fmt.Errorf("failed to move source image: %w", err)
		}
	}
	processedRef := g.conf.ProcessedBucket + "/" + asset.ObjectName

	qtx, tx, err := g.dbc.NewWithTX(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	err = qtx.RelocateAsset(ctx, &db.RelocateAssetParams{
		ID:     asset.ID,
		Bucket: g.conf.ProcessedBucket,
		Status: db.AssetStatusGenerated,
	})
	if err != nil {
		return "", err
	}
	err = qtx.AppendLedgerRecord(ctx, &db.AppendLedgerRecordParams{
		JobID:       job.ID,
		AssetRef:    processedRef,
		ArtifactRef: &artifactRef,
		Event:       db.LedgerEventGenerated,
		Detail:      "model " + g.conf.VeoModel,
	})
	if err != nil {
		return "", err
	}
	if err := qtx.SetJobStatus(ctx, job.ID, db.JobStatusGenerated); err != nil {
		return "", err
	}

	if !g.conf.ReviewRequired {
		published, err := qtx.PublishApprovalEvent(ctx, &db.PublishApprovalEventParams{
			JobID:             job.ID,
			GeneratedAssetRef: artifactRef,
		})
		if err != nil {
			return "", err
		}
		err = qtx.AppendLedgerRecord(ctx, &db.AppendLedgerRecordParams{
			JobID:       job.ID,
			AssetRef:    processedRef,
			ArtifactRef: &artifactRef,
			Event:       db.LedgerEventApproved,
			Detail:      "auto-approved",
		})
		if err != nil {
			return "", err
		}
		if published {
			// Sent on commit, so the converter never wakes for an invisible row.
			if err := qtx.NotifyApprovalQueue(ctx); err != nil {
				return "", err
			}
		}
	}

	return artifactRef, tx.Commit(ctx)
}

// recordGenerationFailure appends the failure to the ledger on a detached
// context so a dispatcher timeout cannot lose the record. The job keeps its
// status; the dispatcher decides between retry and dead letter.
func (g *Generator) recordGenerationFailure(ctx context.Context, job *db.Job, assetRef, detail string) {
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	err := g.dbc.Queries(recordCtx).AppendLedgerRecord(recordCtx, &db.AppendLedgerRecordParams{
		JobID:    job.ID,
		AssetRef: assetRef,
		Event:    db.LedgerEventGenerationFailed,
		Detail:   detail,
	})
	if err != nil {
		slog.Error("failed to record generation failure", "job_id", job.ID.String(), "error", err)
	}
}

// generationStatus maps a model error onto the response code the dispatcher
// keys its retry decision on. Rejections of the input itself will not pass on
// a retry; quota exhaustion and server trouble will.
func generationStatus(err error) int {
	var apiErr *veo.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
			http.StatusNotFound, http.StatusUnprocessableEntity:
			return http.StatusUnprocessableEntity
		}
	}
	return http.StatusBadGateway
}
