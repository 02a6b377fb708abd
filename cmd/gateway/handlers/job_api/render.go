// Package job_api exposes the pipeline's inspection and review endpoints.
package job_api

import (
	"encoding/json"
	"time"

	"thirdcoast.systems/showreel/internal/db"
)

type jobJSON struct {
	ID               string    `json:"id"`
	AssetID          string    `json:"asset_id"`
	SourceRef        string    `json:"source_ref"`
	SourceGeneration string    `json:"source_generation,omitempty"`
	ProductCode      string    `json:"product_code"`
	Category         string    `json:"category,omitempty"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func renderJob(j *db.Job) jobJSON {
	return jobJSON{
		ID:               j.ID.String(),
		AssetID:          j.AssetID.String(),
		SourceRef:        j.SourceRef(),
		SourceGeneration: j.SourceGeneration,
		ProductCode:      j.ProductCode,
		Category:         j.Category,
		Status:           string(j.Status),
		CreatedAt:        j.CreatedAt.Time,
		UpdatedAt:        j.UpdatedAt.Time,
	}
}

type ledgerJSON struct {
	ID          int64     `json:"id"`
	Event       string    `json:"event"`
	AssetRef    string    `json:"asset_ref"`
	ArtifactRef string    `json:"artifact_ref,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func renderLedger(records []*db.LedgerRecord) []ledgerJSON {
	out := make([]ledgerJSON, 0, len(records))
	for _, r := range records {
		entry := ledgerJSON{
			ID:        r.ID,
			Event:     string(r.Event),
			AssetRef:  r.AssetRef,
			Detail:    r.Detail,
			CreatedAt: r.CreatedAt.Time,
		}
		if r.ArtifactRef != nil {
			entry.ArtifactRef = *r.ArtifactRef
		}
		out = append(out, entry)
	}
	return out
}

type decisionJSON struct {
	ID        string    `json:"id"`
	Verdict   string    `json:"verdict"`
	Reviewer  string    `json:"reviewer"`
	Notes     string    `json:"notes,omitempty"`
	NotesHTML string    `json:"notes_html,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func renderDecisions(decisions []*db.ReviewDecision) []decisionJSON {
	out := make([]decisionJSON, 0, len(decisions))
	for _, d := range decisions {
		out = append(out, decisionJSON{
			ID:        d.ID.String(),
			Verdict:   string(d.Verdict),
			Reviewer:  d.Reviewer,
			Notes:     d.Notes.Source,
			NotesHTML: string(d.Notes.Render()),
			CreatedAt: d.CreatedAt.Time,
		})
	}
	return out
}

type deadLetterJSON struct {
	ID        string          `json:"id"`
	JobID     string          `json:"job_id"`
	Attempts  int32           `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func renderDeadLetter(r *db.DispatchRequest) deadLetterJSON {
	entry := deadLetterJSON{
		ID:        r.ID.String(),
		JobID:     r.JobID.String(),
		Attempts:  r.AttemptCount,
		Payload:   json.RawMessage(r.Payload),
		CreatedAt: r.CreatedAt.Time,
		UpdatedAt: r.UpdatedAt.Time,
	}
	if r.LastError != nil {
		entry.LastError = *r.LastError
	}
	return entry
}
