package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const upsertAssetSQL = `
INSERT INTO assets (id, bucket, object_name, product_code, content_type, status)
VALUES ($1, $2, $3, $4, $5, 'pending')
ON CONFLICT (bucket, object_name)
DO UPDATE SET content_type = EXCLUDED.content_type, updated_at = now()
RETURNING id, bucket, object_name, product_code, content_type, status, created_at, updated_at
`

type UpsertAssetParams struct {
	Bucket      string
	ObjectName  string
	ProductCode string
	ContentType string
}

// UpsertAsset registers an asset reference, or refreshes it when the same
// bucket/object arrives again. The lifecycle status is left untouched on
// conflict; only the stage owners move it.
func (q *Queries) UpsertAsset(ctx context.Context, params *UpsertAssetParams) (*Asset, error) {
	row := q.db.QueryRow(ctx, upsertAssetSQL,
		NewUUID(), params.Bucket, params.ObjectName, params.ProductCode, params.ContentType)
	return scanAsset(row)
}

const getAssetSQL = `
SELECT id, bucket, object_name, product_code, content_type, status, created_at, updated_at
FROM assets WHERE id = $1
`

func (q *Queries) GetAsset(ctx context.Context, id pgtype.UUID) (*Asset, error) {
	return scanAsset(q.db.QueryRow(ctx, getAssetSQL, id))
}

const getAssetByRefSQL = `
SELECT id, bucket, object_name, product_code, content_type, status, created_at, updated_at
FROM assets WHERE bucket = $1 AND object_name = $2
`

func (q *Queries) GetAssetByRef(ctx context.Context, bucket, objectName string) (*Asset, error) {
	return scanAsset(q.db.QueryRow(ctx, getAssetByRefSQL, bucket, objectName))
}

const setAssetStatusSQL = `
UPDATE assets SET status = $2, updated_at = now() WHERE id = $1
`

func (q *Queries) SetAssetStatus(ctx context.Context, id pgtype.UUID, status AssetStatus) error {
	_, err := q.db.Exec(ctx, setAssetStatusSQL, id, status)
	return err
}

const relocateAssetSQL = `
UPDATE assets SET bucket = $2, status = $3, updated_at = now() WHERE id = $1
`

type RelocateAssetParams struct {
	ID     pgtype.UUID
	Bucket string
	Status AssetStatus
}

// RelocateAsset records that the underlying object moved to another bucket
// (ingest -> processed on generation, processed -> ingest on reclamation).
func (q *Queries) RelocateAsset(ctx context.Context, params *RelocateAssetParams) error {
	_, err := q.db.Exec(ctx, relocateAssetSQL, params.ID, params.Bucket, params.Status)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(row rowScanner) (*Asset, error) {
	var a Asset
	err := row.Scan(&a.ID, &a.Bucket, &a.ObjectName, &a.ProductCode, &a.ContentType,
		&a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
