package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

type gcsClient struct {
	client *storage.Client
}

func newGCSClient(ctx context.Context, credentialsFile string) (*gcsClient, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}
	return &gcsClient{client: client}, nil
}

func (c *gcsClient) Download(ctx context.Context, tmpdir, bucket, key string) (string, int64, bool, error) {
	// Keep the original filename so downstream type detection works.
	filename := filepath.Base(key)
	f, err := os.CreateTemp(tmpdir, "*-"+filename)
	if err != nil {
		return "", 0, false, fmt.Errorf("create temp file: %w", err)
	}

	reader, err := c.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		if errors.Is(err, storage.ErrObjectNotExist) {
			return "", 0, true, nil
		}
		return "", 0, false, fmt.Errorf("download %s/%s: %w", bucket, key, err)
	}
	defer func() { _ = reader.Close() }()

	size, err := io.Copy(f, reader)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", 0, false, fmt.Errorf("copy object content: %w", err)
	}

	_ = f.Close()
	return f.Name(), size, false, nil
}

func (c *gcsClient) Upload(ctx context.Context, bucket, key, sourceFilename, contentType string) error {
	file, err := os.Open(sourceFilename)
	if err != nil {
		return fmt.Errorf("failed to open source file %s: %w", sourceFilename, err)
	}
	defer func() { _ = file.Close() }()

	writer := c.client.Bucket(bucket).Object(key).NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := io.Copy(writer, file); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to upload object %s/%s: %w", bucket, key, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer for %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (c *gcsClient) Delete(ctx context.Context, bucket, key string) error {
	err := c.client.Bucket(bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Move rewrites the object server side, then deletes the source.
func (c *gcsClient) Move(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	src := c.client.Bucket(srcBucket).Object(srcKey)
	dst := c.client.Bucket(dstBucket).Object(dstKey)

	if _, err := dst.CopierFrom(src).Run(ctx); err != nil {
		return fmt.Errorf("failed to copy %s/%s to %s/%s: %w", srcBucket, srcKey, dstBucket, dstKey, err)
	}
	if err := src.Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete source %s/%s after copy: %w", srcBucket, srcKey, err)
	}
	return nil
}

func (c *gcsClient) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := c.client.Bucket(bucket).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object %s/%s: %w", bucket, key, err)
	}
	return true, nil
}
