package event_api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"thirdcoast.systems/showreel/internal/config"
)

func postEvent(t *testing.T, handler echo.HandlerFunc, body string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/events/object-finalized", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return rec, handler(e.NewContext(req, rec))
}

func TestHandleObjectFinalized_RejectsMalformedPayload(t *testing.T) {
	t.Parallel()

	conf := &config.Config{IngestBucket: "showreel-ingest"}
	_, err := postEvent(t, HandleObjectFinalized(conf, nil), `{"neither": "shape"}`)

	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func TestHandleObjectFinalized_IgnoresOtherBuckets(t *testing.T) {
	t.Parallel()

	// A finalize event for the processed bucket must be acked without any
	// database work; the nil connection proves none is attempted.
	conf := &config.Config{IngestBucket: "showreel-ingest"}
	payload := `{"kind": "storage#object", "bucket": "showreel-processed", "name": "toys/31000012_01.png"}`

	rec, err := postEvent(t, HandleObjectFinalized(conf, nil), payload)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandleObjectFinalized_IgnoresOutsidePrefix(t *testing.T) {
	t.Parallel()

	conf := &config.Config{IngestBucket: "showreel-ingest", IngestPrefix: "incoming/"}
	payload := `{"kind": "storage#object", "bucket": "showreel-ingest", "name": "archive/31000012_01.png"}`

	rec, err := postEvent(t, HandleObjectFinalized(conf, nil), payload)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandleObjectFinalized_IgnoresNonImageObjects(t *testing.T) {
	t.Parallel()

	conf := &config.Config{IngestBucket: "showreel-ingest"}

	tests := []struct {
		name    string
		payload string
	}{
		{
			name:    "declared content type",
			payload: `{"kind": "storage#object", "bucket": "showreel-ingest", "name": "toys/31000012_manifest.txt", "contentType": "text/plain"}`,
		},
		{
			// S3 events carry no content type; the object name decides.
			name:    "name fallback",
			payload: `{"Records": [{"s3": {"bucket": {"name": "showreel-ingest"}, "object": {"key": "toys/31000012_manifest.txt"}}}]}`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec, err := postEvent(t, HandleObjectFinalized(conf, nil), tc.payload)
			require.NoError(t, err)
			require.Equal(t, http.StatusNoContent, rec.Code)
		})
	}
}

func TestHandleObjectDeleted_IgnoresOtherBuckets(t *testing.T) {
	t.Parallel()

	conf := &config.Config{ApprovedBucket: "showreel-approved", ApprovedPrefix: "!production/"}
	payload := `{"kind": "storage#object", "bucket": "showreel-ingest", "name": "toys/31000012_01.png"}`

	rec, err := postEvent(t, HandleObjectDeleted(conf, nil), payload)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandleObjectDeleted_IgnoresOutsidePrefix(t *testing.T) {
	t.Parallel()

	conf := &config.Config{ApprovedBucket: "showreel-approved", ApprovedPrefix: "!production/"}
	payload := `{"kind": "storage#object", "bucket": "showreel-approved", "name": "scratch/31000012.webm"}`

	rec, err := postEvent(t, HandleObjectDeleted(conf, nil), payload)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, rec.Code)
}
