package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// ReclamationChannel is the pg_notify channel that wakes the reclaimer.
const ReclamationChannel = "reclamation_tasks"

const reclamationColumns = `id, bucket, object_name, attempt_count, not_before,
status, last_error, claimed_by, claimed_at, created_at`

const enqueueReclamationTaskSQL = `
INSERT INTO reclamation_tasks (id, bucket, object_name)
VALUES ($1, $2, $3)
ON CONFLICT (bucket, object_name) WHERE status IN ('pending','leased') DO NOTHING
`

type EnqueueReclamationTaskParams struct {
	Bucket     string
	ObjectName string
}

// EnqueueReclamationTask records a deleted artifact for the reclaimer to
// process. Redelivered deletion notifications collapse onto the live task.
func (q *Queries) EnqueueReclamationTask(ctx context.Context, params *EnqueueReclamationTaskParams) (bool, error) {
	tag, err := q.db.Exec(ctx, enqueueReclamationTaskSQL, NewUUID(), params.Bucket, params.ObjectName)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (q *Queries) NotifyReclamationQueue(ctx context.Context) error {
	_, err := q.db.Exec(ctx, `SELECT pg_notify($1, '')`, ReclamationChannel)
	return err
}

const findAndLockDueReclamationTaskSQL = `
UPDATE reclamation_tasks
SET status = 'leased', claimed_by = $1, claimed_at = now()
WHERE id = (
    SELECT id FROM reclamation_tasks
    WHERE status = 'pending' AND not_before <= now()
    ORDER BY not_before
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
RETURNING ` + reclamationColumns

func (q *Queries) FindAndLockDueReclamationTask(ctx context.Context, claimedBy string) (*ReclamationTask, error) {
	return scanReclamationTask(q.db.QueryRow(ctx, findAndLockDueReclamationTaskSQL, claimedBy))
}

const markReclamationTaskDoneSQL = `
UPDATE reclamation_tasks
SET status = 'done', attempt_count = attempt_count + 1, last_error = NULL,
    claimed_by = NULL, claimed_at = NULL
WHERE id = $1
`

func (q *Queries) MarkReclamationTaskDone(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, markReclamationTaskDoneSQL, id)
	return err
}

const rescheduleReclamationTaskSQL = `
UPDATE reclamation_tasks
SET status = 'pending', attempt_count = attempt_count + 1, not_before = $2,
    last_error = $3, claimed_by = NULL, claimed_at = NULL
WHERE id = $1
`

type RescheduleReclamationTaskParams struct {
	ID        pgtype.UUID
	NotBefore time.Time
	LastError *string
}

func (q *Queries) RescheduleReclamationTask(ctx context.Context, params *RescheduleReclamationTaskParams) error {
	_, err := q.db.Exec(ctx, rescheduleReclamationTaskSQL, params.ID, params.NotBefore, params.LastError)
	return err
}

const failReclamationTaskSQL = `
UPDATE reclamation_tasks
SET status = 'failed', attempt_count = attempt_count + 1, last_error = $2,
    claimed_by = NULL, claimed_at = NULL
WHERE id = $1
`

type FailReclamationTaskParams struct {
	ID        pgtype.UUID
	LastError *string
}

// FailReclamationTask retires a task that cannot be completed, typically
// because no ledger record matches the deleted artifact.
func (q *Queries) FailReclamationTask(ctx context.Context, params *FailReclamationTaskParams) error {
	_, err := q.db.Exec(ctx, failReclamationTaskSQL, params.ID, params.LastError)
	return err
}

const unclaimReclamationTaskSQL = `
UPDATE reclamation_tasks
SET status = 'pending', claimed_by = NULL, claimed_at = NULL
WHERE id = $1 AND status = 'leased'
`

// UnclaimReclamationTask hands a claimed task back to the queue untouched,
// for shutdown mid-reclamation. No attempt is counted.
func (q *Queries) UnclaimReclamationTask(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, unclaimReclamationTaskSQL, id)
	return err
}

const resetStuckReclamationTasksSQL = `
UPDATE reclamation_tasks
SET status = 'pending', claimed_by = NULL, claimed_at = NULL
WHERE status = 'leased' AND claimed_at < $1
`

func (q *Queries) ResetStuckReclamationTasks(ctx context.Context, claimedBefore time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, resetStuckReclamationTasksSQL, claimedBefore)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanReclamationTask(row rowScanner) (*ReclamationTask, error) {
	var t ReclamationTask
	err := row.Scan(&t.ID, &t.Bucket, &t.ObjectName, &t.AttemptCount, &t.NotBefore,
		&t.Status, &t.LastError, &t.ClaimedBy, &t.ClaimedAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
