package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// ApprovalChannel is the pg_notify channel that wakes the converter.
const ApprovalChannel = "approval_events"

const approvalColumns = `id, job_id, generated_asset_ref, attempt_count, not_before,
status, last_error, claimed_by, claimed_at, created_at`

const publishApprovalEventSQL = `
INSERT INTO approval_events (id, job_id, generated_asset_ref)
VALUES ($1, $2, $3)
ON CONFLICT (job_id) WHERE status IN ('pending','leased') DO NOTHING
`

type PublishApprovalEventParams struct {
	JobID             pgtype.UUID
	GeneratedAssetRef string
}

// PublishApprovalEvent queues a generated artifact for conversion. Duplicate
// publishes for a job with a live event are absorbed.
func (q *Queries) PublishApprovalEvent(ctx context.Context, params *PublishApprovalEventParams) (bool, error) {
	tag, err := q.db.Exec(ctx, publishApprovalEventSQL,
		NewUUID(), params.JobID, params.GeneratedAssetRef)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (q *Queries) NotifyApprovalQueue(ctx context.Context) error {
	_, err := q.db.Exec(ctx, `SELECT pg_notify($1, '')`, ApprovalChannel)
	return err
}

const findAndLockDueApprovalEventSQL = `
UPDATE approval_events
SET status = 'leased', claimed_by = $1, claimed_at = now()
WHERE id = (
    SELECT id FROM approval_events
    WHERE status = 'pending' AND not_before <= now()
    ORDER BY not_before
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
RETURNING ` + approvalColumns

func (q *Queries) FindAndLockDueApprovalEvent(ctx context.Context, claimedBy string) (*ApprovalEvent, error) {
	return scanApprovalEvent(q.db.QueryRow(ctx, findAndLockDueApprovalEventSQL, claimedBy))
}

const markApprovalEventDoneSQL = `
UPDATE approval_events
SET status = 'done', attempt_count = attempt_count + 1, last_error = NULL,
    claimed_by = NULL, claimed_at = NULL
WHERE id = $1
`

func (q *Queries) MarkApprovalEventDone(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, markApprovalEventDoneSQL, id)
	return err
}

const rescheduleApprovalEventSQL = `
UPDATE approval_events
SET status = 'pending', attempt_count = attempt_count + 1, not_before = $2,
    last_error = $3, claimed_by = NULL, claimed_at = NULL
WHERE id = $1
`

type RescheduleApprovalEventParams struct {
	ID        pgtype.UUID
	NotBefore time.Time
	LastError *string
}

func (q *Queries) RescheduleApprovalEvent(ctx context.Context, params *RescheduleApprovalEventParams) error {
	_, err := q.db.Exec(ctx, rescheduleApprovalEventSQL, params.ID, params.NotBefore, params.LastError)
	return err
}

const failApprovalEventSQL = `
UPDATE approval_events
SET status = 'failed', attempt_count = attempt_count + 1, last_error = $2,
    claimed_by = NULL, claimed_at = NULL
WHERE id = $1
`

type FailApprovalEventParams struct {
	ID        pgtype.UUID
	LastError *string
}

// FailApprovalEvent retires an event whose redelivery budget is spent.
func (q *Queries) FailApprovalEvent(ctx context.Context, params *FailApprovalEventParams) error {
	_, err := q.db.Exec(ctx, failApprovalEventSQL, params.ID, params.LastError)
	return err
}

const unclaimApprovalEventSQL = `
UPDATE approval_events
SET status = 'pending', claimed_by = NULL, claimed_at = NULL
WHERE id = $1 AND status = 'leased'
`

// UnclaimApprovalEvent hands a claimed event back to the queue untouched, for
// shutdown mid-conversion. No attempt is counted.
func (q *Queries) UnclaimApprovalEvent(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, unclaimApprovalEventSQL, id)
	return err
}

const resetStuckApprovalEventsSQL = `
UPDATE approval_events
SET status = 'pending', claimed_by = NULL, claimed_at = NULL
WHERE status = 'leased' AND claimed_at < $1
`

func (q *Queries) ResetStuckApprovalEvents(ctx context.Context, claimedBefore time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, resetStuckApprovalEventsSQL, claimedBefore)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanApprovalEvent(row rowScanner) (*ApprovalEvent, error) {
	var e ApprovalEvent
	err := row.Scan(&e.ID, &e.JobID, &e.GeneratedAssetRef, &e.AttemptCount, &e.NotBefore,
		&e.Status, &e.LastError, &e.ClaimedBy, &e.ClaimedAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
