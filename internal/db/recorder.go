package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// CapabilityGenerate is the target capability stamped on dispatch requests
// produced by asset arrivals.
const CapabilityGenerate = "generate"

// DispatchPayload is the body the dispatcher delivers to a generation worker.
type DispatchPayload struct {
	JobID     string `json:"job_id"`
	SourceRef string `json:"source_ref"`
}

type RecordAssetArrivalParams struct {
	Bucket      string
	ObjectName  string
	Generation  string
	ContentType string
	ProductCode string
	Category    string
}

type ArrivalResult struct {
	JobID     pgtype.UUID
	AssetID   pgtype.UUID
	Duplicate bool
}

// RecordAssetArrival registers an arrived source asset and opens exactly one
// job for it. The asset upsert, dedupe check, job insert, ledger append and
// dispatch enqueue commit or roll back together, so a job is never visible
// without its queue entry. Replayed notifications for a source that already
// has a live job return that job's id with Duplicate set.
func (db *DatabaseConnection) RecordAssetArrival(ctx context.Context, params *RecordAssetArrivalParams) (*ArrivalResult, error) {
	qtx, tx, err := db.NewWithTX(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	asset, err := qtx.UpsertAsset(ctx, &UpsertAssetParams{
		Bucket:      params.Bucket,
		ObjectName:  params.ObjectName,
		ProductCode: params.ProductCode,
		ContentType: params.ContentType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert asset: %w", err)
	}

	live, err := qtx.FindLiveJobBySource(ctx, params.Bucket, params.ObjectName, params.Generation)
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit arrival: %w", err)
		}
		return &ArrivalResult{JobID: live.ID, AssetID: asset.ID, Duplicate: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up live job: %w", err)
	}

	job, err := qtx.insertJob(ctx, &insertJobParams{
		ID:               NewUUID(),
		AssetID:          asset.ID,
		SourceBucket:     params.Bucket,
		SourceObject:     params.ObjectName,
		SourceGeneration: params.Generation,
		ProductCode:      params.ProductCode,
		Category:         params.Category,
	})
	if err != nil {
		if IsUniqueViolation(err) {
			// A concurrent arrival won the insert; surface the winner's job.
			_ = tx.Rollback(ctx)
			live, lookupErr := db.Queries(ctx).FindLiveJobBySource(ctx, params.Bucket, params.ObjectName, params.Generation)
			if lookupErr != nil {
				return nil, fmt.Errorf("lost arrival race and could not find winning job: %w", lookupErr)
			}
			return &ArrivalResult{JobID: live.ID, AssetID: live.AssetID, Duplicate: true}, nil
		}
		return nil, fmt.Errorf("failed to insert job: %w", err)
	}

	// A fresh job restarts the asset's lifecycle.
	if err := qtx.SetAssetStatus(ctx, asset.ID, AssetStatusPending); err != nil {
		return nil, fmt.Errorf("failed to reset asset status: %w", err)
	}

	err = qtx.AppendLedgerRecord(ctx, &AppendLedgerRecordParams{
		JobID:    job.ID,
		AssetRef: asset.Ref(),
		Event:    LedgerEventQueued,
		Detail:   params.ContentType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append ledger record: %w", err)
	}

	payload, err := json.Marshal(DispatchPayload{
		JobID:     job.ID.String(),
		SourceRef: job.SourceRef(),
	})
	if err != nil {
		return nil, err
	}

	_, err = qtx.EnqueueDispatchRequest(ctx, &EnqueueDispatchRequestParams{
		JobID:            job.ID,
		TargetCapability: CapabilityGenerate,
		Payload:          payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue dispatch request: %w", err)
	}

	// Sent on commit, so the dispatcher never wakes for an invisible row.
	if err := qtx.NotifyDispatchQueue(ctx); err != nil {
		return nil, fmt.Errorf("failed to notify dispatch queue: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit arrival: %w", err)
	}

	return &ArrivalResult{JobID: job.ID, AssetID: asset.ID, Duplicate: false}, nil
}
