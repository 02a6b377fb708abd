// Package pubsub parses object storage event notifications into a provider
// neutral form. GCS delivers storage#object payloads (directly or wrapped in
// a Pub/Sub push envelope), S3 delivers Records arrays via SNS/SQS.
package pubsub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
)

// Notification is one object storage event in provider neutral form.
type Notification struct {
	Bucket      string
	ObjectName  string
	ContentType string
	Size        int64
	// Generation identifies the object revision. GCS sets it; S3 fills it
	// from versionId when bucket versioning is on, otherwise it is empty.
	Generation string
}

// Ref is the notification's bucket/object reference.
func (n *Notification) Ref() string {
	return n.Bucket + "/" + n.ObjectName
}

// EventParser turns one raw notification payload into storage notifications.
type EventParser interface {
	Parse(raw []byte) ([]Notification, error)
	Source() string
}

// GCSEventParser handles Cloud Storage storage#object payloads.
type GCSEventParser struct{}

func (p *GCSEventParser) Source() string {
	return "gcs"
}

func (p *GCSEventParser) Parse(raw []byte) ([]Notification, error) {
	var evt struct {
		Kind        string `json:"kind"`
		ID          string `json:"id"`
		Bucket      string `json:"bucket"`
		Name        string `json:"name"`
		ContentType string `json:"contentType"`
		Size        string `json:"size"`
		Generation  string `json:"generation"`
	}

	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, fmt.Errorf("failed to parse GCS storage event: %w", err)
	}

	if evt.Kind != "storage#object" {
		return nil, fmt.Errorf("unexpected GCS event kind: %s", evt.Kind)
	}

	bucket := evt.Bucket
	if bucket == "" {
		// Some notification formats omit the bucket field; the id is
		// "bucket/object/generation".
		idParts := strings.Split(evt.ID, "/")
		if len(idParts) < 2 {
			return nil, fmt.Errorf("invalid GCS storage event id: %s", evt.ID)
		}
		bucket = idParts[0]
	}

	if evt.Name == "" || strings.HasSuffix(evt.Name, "/") {
		return nil, nil
	}

	var size int64
	if evt.Size != "" {
		n, err := strconv.ParseInt(evt.Size, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid GCS object size %q: %w", evt.Size, err)
		}
		size = n
	}

	return []Notification{{
		Bucket:      bucket,
		ObjectName:  evt.Name,
		ContentType: evt.ContentType,
		Size:        size,
		Generation:  evt.Generation,
	}}, nil
}

// S3EventParser handles AWS S3 event records.
type S3EventParser struct{}

func (p *S3EventParser) Source() string {
	return "s3"
}

func (p *S3EventParser) Parse(raw []byte) ([]Notification, error) {
	var evt struct {
		Records []struct {
			S3 struct {
				Bucket struct {
					Name string `json:"name"`
				} `json:"bucket"`
				Object struct {
					Key       string `json:"key"`
					Size      int64  `json:"size"`
					VersionID string `json:"versionId"`
				} `json:"object"`
			} `json:"s3"`
		} `json:"Records"`
	}

	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, fmt.Errorf("failed to parse S3 event: %w", err)
	}

	out := make([]Notification, 0, len(evt.Records))
	for _, rec := range evt.Records {
		// S3 keys arrive URL-encoded.
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			slog.Error("Failed to unescape S3 object key", "key", rec.S3.Object.Key, "error", err)
			continue
		}
		if key == "" || strings.HasSuffix(key, "/") {
			continue
		}
		out = append(out, Notification{
			Bucket:     rec.S3.Bucket.Name,
			ObjectName: key,
			Size:       rec.S3.Object.Size,
			Generation: rec.S3.Object.VersionID,
		})
	}
	return out, nil
}

// ParserFor sniffs the payload and picks the matching parser.
func ParserFor(raw []byte) (EventParser, error) {
	var gcsEvent struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &gcsEvent); err == nil && gcsEvent.Kind == "storage#object" {
		return &GCSEventParser{}, nil
	}

	var s3Event struct {
		Records []any `json:"Records"`
	}
	if err := json.Unmarshal(raw, &s3Event); err == nil && len(s3Event.Records) > 0 {
		return &S3EventParser{}, nil
	}

	return nil, fmt.Errorf("unable to determine event type from content")
}

// UnwrapPushEnvelope unpacks a Pub/Sub push delivery. The inner payload and
// the message attributes are returned when the body is an envelope; otherwise
// ok is false and the body should be parsed as-is.
func UnwrapPushEnvelope(raw []byte) (payload []byte, attributes map[string]string, ok bool) {
	var env struct {
		Message struct {
			Data       []byte            `json:"data"`
			Attributes map[string]string `json:"attributes"`
		} `json:"message"`
		Subscription string `json:"subscription"`
	}

	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, false
	}
	if len(env.Message.Data) == 0 {
		return nil, nil, false
	}
	return env.Message.Data, env.Message.Attributes, true
}

// ParseNotifications unwraps any push envelope and parses the payload with
// the detected parser.
func ParseNotifications(raw []byte) ([]Notification, error) {
	if inner, _, ok := UnwrapPushEnvelope(raw); ok {
		raw = inner
	}

	parser, err := ParserFor(raw)
	if err != nil {
		return nil, err
	}

	items, err := parser.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s event: %w", parser.Source(), err)
	}
	return items, nil
}
