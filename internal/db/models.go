package db

import (
	"github.com/jackc/pgx/v5/pgtype"

	"thirdcoast.systems/showreel/pkg/utils/markdown"
)

type AssetStatus string

const (
	AssetStatusPending    AssetStatus = "pending"
	AssetStatusGenerating AssetStatus = "generating"
	AssetStatusGenerated  AssetStatus = "generated"
	AssetStatusConverting AssetStatus = "converting"
	AssetStatusApproved   AssetStatus = "approved"
	AssetStatusRejected   AssetStatus = "rejected"
	AssetStatusReclaimed  AssetStatus = "reclaimed"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusGenerating JobStatus = "generating"
	JobStatusGenerated  JobStatus = "generated"
	JobStatusConverting JobStatus = "converting"
	JobStatusApproved   JobStatus = "approved"
	JobStatusRejected   JobStatus = "rejected"
	JobStatusFailed     JobStatus = "failed"
	JobStatusReclaimed  JobStatus = "reclaimed"
)

type DispatchStatus string

const (
	DispatchStatusPending    DispatchStatus = "pending"
	DispatchStatusLeased     DispatchStatus = "leased"
	DispatchStatusDelivered  DispatchStatus = "delivered"
	DispatchStatusDeadLetter DispatchStatus = "dead_letter"
)

// QueueStatus is shared by the approval and reclamation queues.
type QueueStatus string

const (
	QueueStatusPending QueueStatus = "pending"
	QueueStatusLeased  QueueStatus = "leased"
	QueueStatusDone    QueueStatus = "done"
	QueueStatusFailed  QueueStatus = "failed"
)

type ReviewVerdict string

const (
	ReviewVerdictApprove    ReviewVerdict = "approve"
	ReviewVerdictRegenerate ReviewVerdict = "regenerate"
	ReviewVerdictRemove     ReviewVerdict = "remove"
)

type LedgerEvent string

const (
	LedgerEventQueued              LedgerEvent = "queued"
	LedgerEventGenerated           LedgerEvent = "generated"
	LedgerEventGenerationFailed    LedgerEvent = "generation_failed"
	LedgerEventDeadLetter          LedgerEvent = "dead_letter"
	LedgerEventApproved            LedgerEvent = "approved"
	LedgerEventRejected            LedgerEvent = "rejected"
	LedgerEventRegenerateRequested LedgerEvent = "regenerate_requested"
	LedgerEventConverted           LedgerEvent = "converted"
	LedgerEventConversionFailed    LedgerEvent = "conversion_failed"
	LedgerEventReclaimed           LedgerEvent = "reclaimed"
)

type Asset struct {
	ID          pgtype.UUID
	Bucket      string
	ObjectName  string
	ProductCode string
	ContentType string
	Status      AssetStatus
	CreatedAt   pgtype.Timestamptz
	UpdatedAt   pgtype.Timestamptz
}

// Ref is the asset's bucket/object reference as recorded in the ledger.
func (a *Asset) Ref() string {
	return a.Bucket + "/" + a.ObjectName
}

type Job struct {
	ID               pgtype.UUID
	AssetID          pgtype.UUID
	SourceBucket     string
	SourceObject     string
	SourceGeneration string
	ProductCode      string
	Category         string
	Status           JobStatus
	CreatedAt        pgtype.Timestamptz
	UpdatedAt        pgtype.Timestamptz
}

func (j *Job) SourceRef() string {
	return j.SourceBucket + "/" + j.SourceObject
}

type LedgerRecord struct {
	ID          int64
	JobID       pgtype.UUID
	AssetRef    string
	ArtifactRef *string
	Event       LedgerEvent
	Detail      string
	CreatedAt   pgtype.Timestamptz
}

type DispatchRequest struct {
	ID               pgtype.UUID
	JobID            pgtype.UUID
	TargetCapability string
	Payload          []byte
	AttemptCount     int32
	NotBefore        pgtype.Timestamptz
	Status           DispatchStatus
	LastError        *string
	ClaimedBy        *string
	ClaimedAt        pgtype.Timestamptz
	CreatedAt        pgtype.Timestamptz
	UpdatedAt        pgtype.Timestamptz
}

type ApprovalEvent struct {
	ID                pgtype.UUID
	JobID             pgtype.UUID
	GeneratedAssetRef string
	AttemptCount      int32
	NotBefore         pgtype.Timestamptz
	Status            QueueStatus
	LastError         *string
	ClaimedBy         *string
	ClaimedAt         pgtype.Timestamptz
	CreatedAt         pgtype.Timestamptz
}

type ReclamationTask struct {
	ID           pgtype.UUID
	Bucket       string
	ObjectName   string
	AttemptCount int32
	NotBefore    pgtype.Timestamptz
	Status       QueueStatus
	LastError    *string
	ClaimedBy    *string
	ClaimedAt    pgtype.Timestamptz
	CreatedAt    pgtype.Timestamptz
}

// Ref is the deleted artifact's bucket/object reference for ledger lookup.
func (t *ReclamationTask) Ref() string {
	return t.Bucket + "/" + t.ObjectName
}

type ReviewDecision struct {
	ID        pgtype.UUID
	JobID     pgtype.UUID
	Verdict   ReviewVerdict
	Reviewer  string
	Notes     markdown.Markdown
	CreatedAt pgtype.Timestamptz
}
