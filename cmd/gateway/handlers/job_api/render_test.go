package job_api

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	"thirdcoast.systems/showreel/internal/db"
	"thirdcoast.systems/showreel/pkg/utils/markdown"
)

func TestParseJobStatus(t *testing.T) {
	t.Parallel()

	t.Run("empty means no filter", func(t *testing.T) {
		t.Parallel()
		status, ok := parseJobStatus("")
		require.True(t, ok)
		require.Nil(t, status)
	})

	t.Run("known status", func(t *testing.T) {
		t.Parallel()
		status, ok := parseJobStatus("generating")
		require.True(t, ok)
		require.NotNil(t, status)
		require.Equal(t, db.JobStatusGenerating, *status)
	})

	t.Run("unknown status", func(t *testing.T) {
		t.Parallel()
		_, ok := parseJobStatus("exploded")
		require.False(t, ok)
	})
}

func TestRenderJob(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	job := &db.Job{
		ID:           db.NewUUID(),
		AssetID:      db.NewUUID(),
		SourceBucket: "showreel-ingest",
		SourceObject: "toys/31000012_01.png",
		ProductCode:  "31000012",
		Category:     "toys",
		Status:       db.JobStatusPending,
		CreatedAt:    pgtype.Timestamptz{Time: now, Valid: true},
		UpdatedAt:    pgtype.Timestamptz{Time: now, Valid: true},
	}

	out := renderJob(job)
	require.Equal(t, job.ID.String(), out.ID)
	require.Equal(t, "showreel-ingest/toys/31000012_01.png", out.SourceRef)
	require.Equal(t, "31000012", out.ProductCode)
	require.Equal(t, "pending", out.Status)
	require.Equal(t, now, out.CreatedAt)
}

func TestRenderLedger(t *testing.T) {
	t.Parallel()

	artifact := "showreel-processed/31000012.mp4"
	records := []*db.LedgerRecord{
		{ID: 1, Event: db.LedgerEventQueued, AssetRef: "showreel-ingest/toys/31000012_01.png"},
		{ID: 2, Event: db.LedgerEventGenerated, AssetRef: "showreel-processed/toys/31000012_01.png", ArtifactRef: &artifact},
	}

	out := renderLedger(records)
	require.Len(t, out, 2)
	require.Equal(t, "queued", out[0].Event)
	require.Empty(t, out[0].ArtifactRef)
	require.Equal(t, artifact, out[1].ArtifactRef)
}

func TestRenderDecisions_SanitizesNotes(t *testing.T) {
	t.Parallel()

	decisions := []*db.ReviewDecision{{
		ID:       db.NewUUID(),
		Verdict:  db.ReviewVerdictRegenerate,
		Reviewer: "sam",
		Notes:    markdown.Markdown{Source: "left hand is **melted** <script>x</script>"},
	}}

	out := renderDecisions(decisions)
	require.Len(t, out, 1)
	require.Equal(t, "regenerate", out[0].Verdict)
	require.Contains(t, out[0].NotesHTML, "<strong>melted</strong>")
	require.NotContains(t, out[0].NotesHTML, "<script>")
	require.Equal(t, "left hand is **melted** <script>x</script>", out[0].Notes)
}

func TestRenderDeadLetter(t *testing.T) {
	t.Parallel()

	lastErr := "delivery failed: 502"
	row := &db.DispatchRequest{
		ID:           db.NewUUID(),
		JobID:        db.NewUUID(),
		AttemptCount: 5,
		Payload:      []byte(`{"job_id":"x","source_ref":"y"}`),
		LastError:    &lastErr,
	}

	out := renderDeadLetter(row)
	require.Equal(t, int32(5), out.Attempts)
	require.Equal(t, lastErr, out.LastError)
	require.JSONEq(t, `{"job_id":"x","source_ref":"y"}`, string(out.Payload))
}
