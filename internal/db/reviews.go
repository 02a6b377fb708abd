package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"

	"thirdcoast.systems/showreel/pkg/utils/markdown"
)

const insertReviewDecisionSQL = `
INSERT INTO review_decisions (id, job_id, verdict, reviewer, notes)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, job_id, verdict, reviewer, notes, created_at
`

type InsertReviewDecisionParams struct {
	JobID    pgtype.UUID
	Verdict  ReviewVerdict
	Reviewer string
	Notes    markdown.Markdown
}

func (q *Queries) InsertReviewDecision(ctx context.Context, params *InsertReviewDecisionParams) (*ReviewDecision, error) {
	row := q.db.QueryRow(ctx, insertReviewDecisionSQL,
		NewUUID(), params.JobID, params.Verdict, params.Reviewer, params.Notes)
	return scanReviewDecision(row)
}

const listReviewDecisionsForJobSQL = `
SELECT id, job_id, verdict, reviewer, notes, created_at
FROM review_decisions
WHERE job_id = $1
ORDER BY created_at
`

func (q *Queries) ListReviewDecisionsForJob(ctx context.Context, jobID pgtype.UUID) ([]*ReviewDecision, error) {
	rows, err := q.db.Query(ctx, listReviewDecisionsForJobSQL, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []*ReviewDecision
	for rows.Next() {
		d, err := scanReviewDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

func scanReviewDecision(row rowScanner) (*ReviewDecision, error) {
	var d ReviewDecision
	err := row.Scan(&d.ID, &d.JobID, &d.Verdict, &d.Reviewer, &d.Notes, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
