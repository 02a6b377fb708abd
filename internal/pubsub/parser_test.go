package pubsub

import (
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

const gcsFinalizePayload = `{
	"kind": "storage#object",
	"id": "showreel-ingest/toys/31000012_bear.png/1724580000000000",
	"bucket": "showreel-ingest",
	"name": "toys/31000012_bear.png",
	"contentType": "image/png",
	"size": "482133",
	"generation": "1724580000000000"
}`

func TestParseNotifications_GCS(t *testing.T) {
	items, err := ParseNotifications([]byte(gcsFinalizePayload))
	require.NoError(t, err)
	require.Len(t, items, 1)

	n := items[0]
	require.Equal(t, "showreel-ingest", n.Bucket)
	require.Equal(t, "toys/31000012_bear.png", n.ObjectName)
	require.Equal(t, "image/png", n.ContentType)
	require.Equal(t, int64(482133), n.Size)
	require.Equal(t, "1724580000000000", n.Generation)
	require.Equal(t, "showreel-ingest/toys/31000012_bear.png", n.Ref())
}

func TestParseNotifications_GCSPushEnvelope(t *testing.T) {
	data := base64.StdEncoding.EncodeToString([]byte(gcsFinalizePayload))
	envelope := fmt.Sprintf(`{
		"message": {
			"data": %q,
			"attributes": {"eventType": "OBJECT_FINALIZE"}
		},
		"subscription": "projects/p/subscriptions/showreel-ingest"
	}`, data)

	items, err := ParseNotifications([]byte(envelope))
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "showreel-ingest", items[0].Bucket)
	require.Equal(t, "toys/31000012_bear.png", items[0].ObjectName)
}

func TestParseNotifications_GCSBucketFromID(t *testing.T) {
	payload := `{
		"kind": "storage#object",
		"id": "showreel-ingest/img-42.png/1111",
		"name": "img-42.png"
	}`

	items, err := ParseNotifications([]byte(payload))
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "showreel-ingest", items[0].Bucket)
}

func TestParseNotifications_S3(t *testing.T) {
	payload := `{
		"Records": [
			{
				"eventName": "ObjectCreated:Put",
				"s3": {
					"bucket": {"name": "showreel-ingest"},
					"object": {"key": "toys/31000012+bear.png", "size": 482133, "versionId": "v7"}
				}
			},
			{
				"eventName": "ObjectCreated:Put",
				"s3": {
					"bucket": {"name": "showreel-ingest"},
					"object": {"key": "toys/", "size": 0}
				}
			}
		]
	}`

	items, err := ParseNotifications([]byte(payload))
	require.NoError(t, err)
	// The directory marker record is dropped.
	require.Len(t, items, 1)

	n := items[0]
	require.Equal(t, "showreel-ingest", n.Bucket)
	require.Equal(t, "toys/31000012 bear.png", n.ObjectName)
	require.Equal(t, int64(482133), n.Size)
	require.Equal(t, "v7", n.Generation)
}

func TestParseNotifications_UnknownPayload(t *testing.T) {
	_, err := ParseNotifications([]byte(`{"hello": "world"}`))
	require.Error(t, err)
}

func TestParserFor(t *testing.T) {
	p, err := ParserFor([]byte(gcsFinalizePayload))
	require.NoError(t, err)
	require.Equal(t, "gcs", p.Source())

	p, err = ParserFor([]byte(`{"Records": [{}]}`))
	require.NoError(t, err)
	require.Equal(t, "s3", p.Source())

	_, err = ParserFor([]byte(`not json`))
	require.Error(t, err)
}

func TestGCSParser_RejectsWrongKind(t *testing.T) {
	p := &GCSEventParser{}
	_, err := p.Parse([]byte(`{"kind": "storage#bucket", "name": "x"}`))
	require.Error(t, err)
}

func TestUnwrapPushEnvelope_PassThrough(t *testing.T) {
	_, _, ok := UnwrapPushEnvelope([]byte(gcsFinalizePayload))
	require.False(t, ok)
}
