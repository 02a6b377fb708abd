package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// DispatchChannel is the pg_notify channel that wakes the dispatcher.
const DispatchChannel = "dispatch_requests"

const dispatchColumns = `id, job_id, target_capability, payload, attempt_count, not_before,
status, last_error, claimed_by, claimed_at, created_at, updated_at`

const enqueueDispatchRequestSQL = `
INSERT INTO dispatch_requests (id, job_id, target_capability, payload)
VALUES ($1, $2, $3, $4)
ON CONFLICT (job_id) WHERE status IN ('pending','leased') DO NOTHING
`

type EnqueueDispatchRequestParams struct {
	JobID            pgtype.UUID
	TargetCapability string
	Payload          []byte
}

// EnqueueDispatchRequest adds a generation request to the dispatch queue.
// A job with a live (pending or leased) request is not enqueued twice; the
// bool reports whether a row was actually inserted.
func (q *Queries) EnqueueDispatchRequest(ctx context.Context, params *EnqueueDispatchRequestParams) (bool, error) {
	tag, err := q.db.Exec(ctx, enqueueDispatchRequestSQL,
		NewUUID(), params.JobID, params.TargetCapability, params.Payload)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// NotifyDispatchQueue wakes dispatcher processes waiting on LISTEN. Run it in
// the same transaction as the enqueue so the notification fires on commit.
func (q *Queries) NotifyDispatchQueue(ctx context.Context) error {
	_, err := q.db.Exec(ctx, `SELECT pg_notify($1, '')`, DispatchChannel)
	return err
}

const findAndLockDueDispatchRequestSQL = `
UPDATE dispatch_requests
SET status = 'leased', claimed_by = $1, claimed_at = now(), updated_at = now()
WHERE id = (
    SELECT id FROM dispatch_requests
    WHERE status = 'pending' AND not_before <= now()
    ORDER BY not_before
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
RETURNING ` + dispatchColumns

// FindAndLockDueDispatchRequest claims the next due request for this worker.
// Returns pgx.ErrNoRows when the queue is drained.
func (q *Queries) FindAndLockDueDispatchRequest(ctx context.Context, claimedBy string) (*DispatchRequest, error) {
	return scanDispatchRequest(q.db.QueryRow(ctx, findAndLockDueDispatchRequestSQL, claimedBy))
}

const markDispatchDeliveredSQL = `
UPDATE dispatch_requests
SET status = 'delivered', attempt_count = attempt_count + 1, last_error = NULL,
    claimed_by = NULL, claimed_at = NULL, updated_at = now()
WHERE id = $1
`

func (q *Queries) MarkDispatchDelivered(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, markDispatchDeliveredSQL, id)
	return err
}

const rescheduleDispatchRequestSQL = `
UPDATE dispatch_requests
SET status = 'pending', attempt_count = attempt_count + 1, not_before = $2,
    last_error = $3, claimed_by = NULL, claimed_at = NULL, updated_at = now()
WHERE id = $1
`

type RescheduleDispatchRequestParams struct {
	ID        pgtype.UUID
	NotBefore time.Time
	LastError *string
}

// RescheduleDispatchRequest returns a failed delivery to the queue with its
// backoff deadline. The attempt that just failed is counted here.
func (q *Queries) RescheduleDispatchRequest(ctx context.Context, params *RescheduleDispatchRequestParams) error {
	_, err := q.db.Exec(ctx, rescheduleDispatchRequestSQL, params.ID, params.NotBefore, params.LastError)
	return err
}

const deadLetterDispatchRequestSQL = `
UPDATE dispatch_requests
SET status = 'dead_letter', attempt_count = attempt_count + 1, last_error = $2,
    claimed_by = NULL, claimed_at = NULL, updated_at = now()
WHERE id = $1
`

type DeadLetterDispatchRequestParams struct {
	ID        pgtype.UUID
	LastError *string
}

func (q *Queries) DeadLetterDispatchRequest(ctx context.Context, params *DeadLetterDispatchRequestParams) error {
	_, err := q.db.Exec(ctx, deadLetterDispatchRequestSQL, params.ID, params.LastError)
	return err
}

const unclaimDispatchRequestSQL = `
UPDATE dispatch_requests
SET status = 'pending', claimed_by = NULL, claimed_at = NULL, updated_at = now()
WHERE id = $1 AND status = 'leased'
`

// UnclaimDispatchRequest hands a claimed row back untouched, for shutdown
// before the delivery was attempted. No attempt is counted.
func (q *Queries) UnclaimDispatchRequest(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, unclaimDispatchRequestSQL, id)
	return err
}

const resetStuckDispatchRequestsSQL = `
UPDATE dispatch_requests
SET status = 'pending', claimed_by = NULL, claimed_at = NULL, updated_at = now()
WHERE status = 'leased' AND claimed_at < $1
`

// ResetStuckDispatchRequests requeues leases abandoned by dead dispatcher
// instances. The attempt count is not bumped: the delivery outcome is
// unknown, and the idempotent worker absorbs a duplicate.
func (q *Queries) ResetStuckDispatchRequests(ctx context.Context, claimedBefore time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, resetStuckDispatchRequestsSQL, claimedBefore)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listDeadLetteredDispatchesSQL = `
SELECT ` + dispatchColumns + `
FROM dispatch_requests
WHERE status = 'dead_letter'
ORDER BY updated_at DESC
LIMIT $1
`

func (q *Queries) ListDeadLetteredDispatches(ctx context.Context, limit int32) ([]*DispatchRequest, error) {
	rows, err := q.db.Query(ctx, listDeadLetteredDispatchesSQL, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []*DispatchRequest
	for rows.Next() {
		r, err := scanDispatchRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

const getDispatchRequestSQL = `
SELECT ` + dispatchColumns + ` FROM dispatch_requests WHERE id = $1
`

func (q *Queries) GetDispatchRequest(ctx context.Context, id pgtype.UUID) (*DispatchRequest, error) {
	return scanDispatchRequest(q.db.QueryRow(ctx, getDispatchRequestSQL, id))
}

const requeueDeadLetteredDispatchSQL = `
UPDATE dispatch_requests
SET status = 'pending', attempt_count = 0, not_before = now(), last_error = NULL,
    claimed_by = NULL, claimed_at = NULL, updated_at = now()
WHERE id = $1 AND status = 'dead_letter'
`

// RequeueDeadLetteredDispatch gives a dead-lettered request a fresh attempt
// budget. Only dead_letter rows are eligible, so repeated clicks are harmless.
func (q *Queries) RequeueDeadLetteredDispatch(ctx context.Context, id pgtype.UUID) (bool, error) {
	tag, err := q.db.Exec(ctx, requeueDeadLetteredDispatchSQL, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanDispatchRequest(row rowScanner) (*DispatchRequest, error) {
	var r DispatchRequest
	err := row.Scan(&r.ID, &r.JobID, &r.TargetCapability, &r.Payload, &r.AttemptCount,
		&r.NotBefore, &r.Status, &r.LastError, &r.ClaimedBy, &r.ClaimedAt,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
