// Package objstore provides a unified client for the object storage backends
// the pipeline runs against: Google Cloud Storage, S3 compatible stores, and
// the local filesystem for development and tests.
package objstore

import (
	"context"
	"fmt"

	"thirdcoast.systems/showreel/internal/config"
)

// Client is the storage surface the pipeline workers use.
type Client interface {
	// Download copies an object into a temp file under tmpdir and returns
	// the temp filename, the object size, and whether the object was absent.
	Download(ctx context.Context, tmpdir, bucket, key string) (filename string, size int64, notFound bool, err error)

	// Upload writes a local file to bucket/key with the given content type.
	Upload(ctx context.Context, bucket, key, sourceFilename, contentType string) error

	// Delete removes bucket/key. Deleting an absent object is not an error.
	Delete(ctx context.Context, bucket, key string) error

	// Move copies bucket/key to another location and deletes the source.
	Move(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error

	// Exists reports whether bucket/key is present.
	Exists(ctx context.Context, bucket, key string) (bool, error)
}

// NewClient builds the client selected by STORAGE_PROVIDER.
func NewClient(ctx context.Context, conf *config.Config) (Client, error) {
	switch conf.StorageProvider {
	case "gcs":
		return newGCSClient(ctx, conf.GCSCredentialsFile)
	case "s3":
		return newS3Client(ctx, conf)
	case "fs":
		return newFSClient(conf.FSRoot)
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", conf.StorageProvider)
	}
}
