package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const ledgerColumns = `id, job_id, asset_ref, artifact_ref, event, detail, created_at`

const appendLedgerRecordSQL = `
INSERT INTO ledger_records (job_id, asset_ref, artifact_ref, event, detail)
VALUES ($1, $2, $3, $4, $5)
`

type AppendLedgerRecordParams struct {
	JobID       pgtype.UUID
	AssetRef    string
	ArtifactRef *string
	Event       LedgerEvent
	Detail      string
}

// AppendLedgerRecord writes one audit entry. The table is append-only: there
// is no update or delete query, corrections are additional records against
// the same job_id.
func (q *Queries) AppendLedgerRecord(ctx context.Context, params *AppendLedgerRecordParams) error {
	_, err := q.db.Exec(ctx, appendLedgerRecordSQL,
		params.JobID, params.AssetRef, params.ArtifactRef, params.Event, params.Detail)
	return err
}

const listLedgerRecordsForJobSQL = `
SELECT ` + ledgerColumns + `
FROM ledger_records
WHERE job_id = $1
ORDER BY id
`

func (q *Queries) ListLedgerRecordsForJob(ctx context.Context, jobID pgtype.UUID) ([]*LedgerRecord, error) {
	rows, err := q.db.Query(ctx, listLedgerRecordsForJobSQL, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*LedgerRecord
	for rows.Next() {
		r, err := scanLedgerRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

const latestArtifactForJobSQL = `
SELECT artifact_ref
FROM ledger_records
WHERE job_id = $1 AND event = 'generated' AND artifact_ref IS NOT NULL
ORDER BY id DESC
LIMIT 1
`

// LatestArtifactForJob returns the artifact reference of the job's most
// recent successful generation. pgx.ErrNoRows when the job never produced
// one.
func (q *Queries) LatestArtifactForJob(ctx context.Context, jobID pgtype.UUID) (string, error) {
	var ref string
	err := q.db.QueryRow(ctx, latestArtifactForJobSQL, jobID).Scan(&ref)
	return ref, err
}

// Reclamation lineage lookup: newest record that produced this artifact wins,
// so a regenerated job shadows its predecessor.
const findLedgerRecordByArtifactSQL = `
SELECT ` + ledgerColumns + `
FROM ledger_records
WHERE artifact_ref = $1
ORDER BY id DESC
LIMIT 1
`

func (q *Queries) FindLedgerRecordByArtifact(ctx context.Context, artifactRef string) (*LedgerRecord, error) {
	return scanLedgerRecord(q.db.QueryRow(ctx, findLedgerRecordByArtifactSQL, artifactRef))
}

func scanLedgerRecord(row rowScanner) (*LedgerRecord, error) {
	var r LedgerRecord
	err := row.Scan(&r.ID, &r.JobID, &r.AssetRef, &r.ArtifactRef, &r.Event, &r.Detail, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
