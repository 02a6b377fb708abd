package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const jobColumns = `id, asset_id, source_bucket, source_object, source_generation,
product_code, category, status, created_at, updated_at`

const insertJobSQL = `
INSERT INTO jobs (id, asset_id, source_bucket, source_object, source_generation, product_code, category, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
RETURNING ` + jobColumns

type insertJobParams struct {
	ID               pgtype.UUID
	AssetID          pgtype.UUID
	SourceBucket     string
	SourceObject     string
	SourceGeneration string
	ProductCode      string
	Category         string
}

// insertJob fails with a unique violation when a live job already exists for
// the same source bucket/object/generation; RecordAssetArrival handles that.
func (q *Queries) insertJob(ctx context.Context, params *insertJobParams) (*Job, error) {
	row := q.db.QueryRow(ctx, insertJobSQL,
		params.ID, params.AssetID, params.SourceBucket, params.SourceObject,
		params.SourceGeneration, params.ProductCode, params.Category)
	return scanJob(row)
}

const getJobSQL = `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

func (q *Queries) GetJob(ctx context.Context, id pgtype.UUID) (*Job, error) {
	return scanJob(q.db.QueryRow(ctx, getJobSQL, id))
}

// Live statuses mirror the partial unique index on jobs: one live job per
// source object at a time.
const findLiveJobBySourceSQL = `
SELECT ` + jobColumns + `
FROM jobs
WHERE source_bucket = $1 AND source_object = $2 AND source_generation = $3
  AND status IN ('pending','generating','generated','converting','approved')
LIMIT 1
`

func (q *Queries) FindLiveJobBySource(ctx context.Context, bucket, object, generation string) (*Job, error) {
	return scanJob(q.db.QueryRow(ctx, findLiveJobBySourceSQL, bucket, object, generation))
}

const listJobsSQL = `
SELECT ` + jobColumns + `
FROM jobs
WHERE $1::job_status IS NULL OR status = $1
ORDER BY created_at DESC
LIMIT $2
`

type ListJobsParams struct {
	Status *JobStatus
	Limit  int32
}

func (q *Queries) ListJobs(ctx context.Context, params *ListJobsParams) ([]*Job, error) {
	rows, err := q.db.Query(ctx, listJobsSQL, params.Status, params.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

const setJobStatusSQL = `
UPDATE jobs SET status = $2, updated_at = now() WHERE id = $1
`

func (q *Queries) SetJobStatus(ctx context.Context, id pgtype.UUID, status JobStatus) error {
	_, err := q.db.Exec(ctx, setJobStatusSQL, id, status)
	return err
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.AssetID, &j.SourceBucket, &j.SourceObject, &j.SourceGeneration,
		&j.ProductCode, &j.Category, &j.Status, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}
