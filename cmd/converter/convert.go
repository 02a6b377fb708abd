package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"thirdcoast.systems/showreel/internal/config"
	"thirdcoast.systems/showreel/internal/db"
	"thirdcoast.systems/showreel/internal/objstore"
	"thirdcoast.systems/showreel/pkg/ffmpeg"
)

// Converter turns approved generation artifacts into the delivery format.
type Converter struct {
	conf  *config.Config
	dbc   *db.DatabaseConnection
	store objstore.Client
}

// processEvent converts one approval event's artifact and settles the event
// as done inside the success transaction. The caller handles reschedule and
// fail-out on error.
func (cv *Converter) processEvent(ctx context.Context, event *db.ApprovalEvent) error {
	q := cv.dbc.Queries(ctx)

	job, err := q.GetJob(ctx, event.JobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}

	switch job.Status {
	case db.JobStatusApproved:
		// Already converted; absorb the redelivery.
		slog.Info("conversion already complete", "job_id", job.ID.String())
		return q.MarkApprovalEventDone(ctx, event.ID)
	case db.JobStatusGenerated, db.JobStatusConverting:
	default:
		slog.Warn("approval event for a settled job, dropping",
			"job_id", job.ID.String(), "status", job.Status)
		return q.MarkApprovalEventDone(ctx, event.ID)
	}

	asset, err := q.GetAsset(ctx, job.AssetID)
	if err != nil {
		return fmt.Errorf("load asset: %w", err)
	}

	bucket, key, found := strings.Cut(event.GeneratedAssetRef, "/")
	if !found {
		return fmt.Errorf("malformed artifact ref %q", event.GeneratedAssetRef)
	}
	if cv.conf.ApprovedPrefix != "" && strings.HasPrefix(key, cv.conf.ApprovedPrefix) {
		// A delivery object queued back onto its own queue; converting it
		// again would loop forever.
		slog.Warn("artifact already under the approved prefix, dropping",
			"job_id", job.ID.String(), "ref", event.GeneratedAssetRef)
		return q.MarkApprovalEventDone(ctx, event.ID)
	}

	if err := q.SetJobStatus(ctx, job.ID, db.JobStatusConverting); err != nil {
		return fmt.Errorf("mark job converting: %w", err)
	}
	if err := q.SetAssetStatus(ctx, asset.ID, db.AssetStatusConverting); err != nil {
		return fmt.Errorf("mark asset converting: %w", err)
	}

	tmpDir, err := os.MkdirTemp("", "convert-")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	started := time.Now()
	inputFile, inputSize, notFound, err := cv.store.Download(ctx, tmpDir, bucket, key)
	if notFound {
		return fmt.Errorf("generated artifact %s missing", event.GeneratedAssetRef)
	}
	if err != nil {
		return fmt.Errorf("download artifact: %w", err)
	}
	slog.Info("artifact downloaded",
		"job_id", job.ID.String(), "ref", event.GeneratedAssetRef,
		"size", humanize.Bytes(uint64(inputSize)))

	probe, err := ffmpeg.Probe(ctx, inputFile)
	if err != nil {
		return fmt.Errorf("probe artifact: %w", err)
	}

	opts, ext, contentType := ffmpeg.ConversionPresetForFormat(cv.conf.ConvertFormat)

	// Cap the frame rate; never raise it above the source, padding frames
	// only inflates the output.
	fps := probe.FPS
	targetFPS := float64(cv.conf.ConvertTargetFPS)
	if targetFPS > 0 && (fps <= 0 || fps > targetFPS) {
		opts = append(opts, ffmpeg.FPS(targetFPS))
		fps = targetFPS
	}

	if width := downscaleWidth(probe.Width, probe.Height, probe.Duration, fps, cv.conf.ConvertMaxPixels); width > 0 {
		slog.Info("downscaling to fit the pixel budget",
			"job_id", job.ID.String(), "source_width", probe.Width, "width", width)
		opts = append(opts, ffmpeg.ScaleWidth(width))
	}

	outputPath := filepath.Join(tmpDir, job.ProductCode+ext)
	if err := cv.transcode(ctx, job, inputFile, outputPath, opts); err != nil {
		return err
	}

	st, err := os.Stat(outputPath)
	if err != nil {
		return fmt.Errorf("output file missing: %w", err)
	}

	// Validate the output is a decodable media file before publishing it.
	out, err := ffmpeg.Probe(ctx, outputPath)
	if err != nil {
		_ = os.Remove(outputPath)
		return fmt.Errorf("output validation failed: %w", err)
	}
	if ext == ".webm" && out.Duration < 0.5 {
		_ = os.Remove(outputPath)
		return fmt.Errorf("output validation failed: duration too short (%.2fs)", out.Duration)
	}

	outputKey := cv.conf.ApprovedPrefix + job.ProductCode + ext
	if err := cv.store.Upload(ctx, cv.conf.ApprovedBucket, outputKey, outputPath, contentType); err != nil {
		return fmt.Errorf("upload delivery file: %w", err)
	}
	approvedRef := cv.conf.ApprovedBucket + "/" + outputKey

	qtx, tx, err := cv.dbc.NewWithTX(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = qtx.AppendLedgerRecord(ctx, &db.AppendLedgerRecordParams{
		JobID:       job.ID,
		AssetRef:    asset.Ref(),
		ArtifactRef: &approvedRef,
		Event:       db.LedgerEventConverted,
		Detail:      "format " + strings.TrimPrefix(ext, "."),
	})
	if err != nil {
		return err
	}
	if err := qtx.SetJobStatus(ctx, job.ID, db.JobStatusApproved); err != nil {
		return err
	}
	if err := qtx.SetAssetStatus(ctx, asset.ID, db.AssetStatusApproved); err != nil {
		return err
	}
	if err := qtx.MarkApprovalEventDone(ctx, event.ID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	slog.Info("conversion complete",
		"job_id", job.ID.String(), "artifact", approvedRef,
		"size", humanize.Bytes(uint64(st.Size())), "took", time.Since(started))
	return nil
}

// transcode runs ffmpeg with progress reporting, logging every few seconds so
// long encodes are visibly alive.
func (cv *Converter) transcode(ctx context.Context, job *db.Job, inputFile, outputPath string, opts []ffmpeg.Option) error {
	progressChan := make(chan ffmpeg.Progress, 100)
	cmd := ffmpeg.NewCommand(inputFile, outputPath, opts...)

	proc, err := cmd.StartWithProgress(ctx, progressChan)
	if err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	lastLog := time.Now()
	for progress := range progressChan {
		if time.Since(lastLog) < 5*time.Second {
			continue
		}
		lastLog = time.Now()
		slog.Debug("transcode progress",
			"job_id", job.ID.String(), "out_time", progress.OutTimeSeconds(),
			"speed", progress.Speed)
	}

	if err := proc.Wait(); err != nil {
		_ = os.Remove(outputPath)
		return fmt.Errorf("transcode: %w", err)
	}
	return nil
}

// downscaleWidth returns the even output width that keeps the whole clip
// under maxPixels (width x height x duration x fps), or 0 when the source
// already fits. The ceiling comes from the delivery platform's limit on
// animated images.
func downscaleWidth(width, height int, duration, fps float64, maxPixels int64) int {
	if width <= 0 || height <= 0 || duration <= 0 || fps <= 0 || maxPixels <= 0 {
		return 0
	}

	totalFrames := duration * fps
	totalPixels := float64(width) * float64(height) * totalFrames
	if totalPixels <= float64(maxPixels) {
		return 0
	}

	perFrame := float64(maxPixels) / totalFrames
	scale := math.Sqrt(perFrame / (float64(width) * float64(height)))
	newWidth := int(float64(width) * scale)
	if newWidth%2 != 0 {
		newWidth--
	}
	if newWidth < 2 {
		newWidth = 2
	}
	return newWidth
}
