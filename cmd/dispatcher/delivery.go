package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"thirdcoast.systems/showreel/internal/config"
	"thirdcoast.systems/showreel/internal/db"
)

// deliver posts one dispatch request to the worker endpoint. A nil error
// means the worker accepted the delivery; otherwise permanent reports whether
// retrying can ever succeed.
func deliver(ctx context.Context, client *http.Client, conf *config.Config, request *db.DispatchRequest) (permanent bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conf.WorkerURL, bytes.NewReader(request.Payload))
	if err != nil {
		return true, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if conf.WorkerToken != "" {
		req.Header.Set("Authorization", "Bearer "+conf.WorkerToken)
	}

	resp, err := client.Do(req)
	if err != nil {
		// Transport errors and timeouts are worth another attempt.
		return false, fmt.Errorf("delivery failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}

	err = fmt.Errorf("worker returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	return permanentStatus(resp.StatusCode), err
}

// permanentStatus reports whether a delivery failure can never succeed on
// retry. 408 (request timeout), 425 (too early), and 429 (worker over
// capacity) are the retryable members of the 4xx family.
func permanentStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return false
	}
	return code >= 400 && code < 500
}

// backoffFor doubles from base once per completed attempt, capped at max.
func backoffFor(base, max time.Duration, priorAttempts int32) time.Duration {
	d := base
	for range priorAttempts {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// settleDelivery records the outcome of one delivery attempt. It runs on a
// detached context so a shutdown right after a completed delivery cannot
// leave the row leased.
func settleDelivery(ctx context.Context, dbc *db.DatabaseConnection, conf *config.Config, request *db.DispatchRequest, permanent bool, deliverErr error) {
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	q := dbc.Queries(settleCtx)
	if deliverErr == nil {
		if err := q.MarkDispatchDelivered(settleCtx, request.ID); err != nil {
			slog.Error("failed to mark dispatch delivered", "request_id", request.ID.String(), "error", err)
			return
		}
		slog.Info("dispatch delivered",
			"request_id", request.ID.String(), "job_id", request.JobID.String(),
			"attempt", request.AttemptCount+1)
		return
	}

	errMsg := deliverErr.Error()
	attempts := request.AttemptCount + 1
	if permanent || attempts >= int32(conf.DispatchMaxAttempts) {
		if err := deadLetter(settleCtx, dbc, request, errMsg); err != nil {
			slog.Error("failed to dead-letter dispatch request", "request_id", request.ID.String(), "error", err)
		}
		return
	}

	backoff := backoffFor(conf.DispatchBackoffBase, conf.DispatchBackoffMax, request.AttemptCount)
	if err := q.RescheduleDispatchRequest(settleCtx, &db.RescheduleDispatchRequestParams{
		ID:        request.ID,
		NotBefore: time.Now().Add(backoff),
		LastError: &errMsg,
	}); err != nil {
		slog.Error("failed to reschedule dispatch request", "request_id", request.ID.String(), "error", err)
		return
	}
	slog.Warn("dispatch delivery failed, rescheduled",
		"request_id", request.ID.String(), "job_id", request.JobID.String(),
		"attempt", attempts, "backoff", backoff, "error", deliverErr)
}

// deadLetter retires a request whose budget is spent, fails its job, and
// records the failure in the ledger, all in one transaction.
func deadLetter(ctx context.Context, dbc *db.DatabaseConnection, request *db.DispatchRequest, errMsg string) error {
	qtx, tx, err := dbc.NewWithTX(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := qtx.DeadLetterDispatchRequest(ctx, &db.DeadLetterDispatchRequestParams{
		ID:        request.ID,
		LastError: &errMsg,
	}); err != nil {
		return fmt.Errorf("dead-letter request: %w", err)
	}

	job, err := qtx.GetJob(ctx, request.JobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	asset, err := qtx.GetAsset(ctx, job.AssetID)
	if err != nil {
		return fmt.Errorf("load asset: %w", err)
	}

	// A job the review flow already settled keeps its status; the dead
	// letter still records why the delivery died.
	switch job.Status {
	case db.JobStatusPending, db.JobStatusGenerating:
		if err := qtx.SetJobStatus(ctx, job.ID, db.JobStatusFailed); err != nil {
			return fmt.Errorf("fail job: %w", err)
		}
	}
	if err := qtx.AppendLedgerRecord(ctx, &db.AppendLedgerRecordParams{
		JobID:    job.ID,
		AssetRef: asset.Ref(),
		Event:    db.LedgerEventDeadLetter,
		Detail:   errMsg,
	}); err != nil {
		return fmt.Errorf("append ledger record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	slog.Error("dispatch request dead-lettered",
		"request_id", request.ID.String(), "job_id", request.JobID.String(),
		"attempts", request.AttemptCount+1, "error", errMsg)
	return nil
}
