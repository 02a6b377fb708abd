package objstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// fsClient maps buckets to subdirectories under a base path. It backs local
// development and tests, where the "bucket notification" is an HTTP call
// made by hand or by the test itself.
type fsClient struct {
	base string
}

func newFSClient(base string) (*fsClient, error) {
	if base == "" {
		return nil, fmt.Errorf("fs storage requires FS_ROOT")
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root %s: %w", base, err)
	}
	return &fsClient{base: base}, nil
}

func (c *fsClient) path(bucket, key string) string {
	return filepath.Join(c.base, bucket, filepath.FromSlash(key))
}

func (c *fsClient) Download(ctx context.Context, tmpdir, bucket, key string) (string, int64, bool, error) {
	src := c.path(bucket, key)
	fi, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return "", 0, true, nil
		}
		return "", 0, false, err
	}

	filename := filepath.Base(key)
	dst, err := os.CreateTemp(tmpdir, "*-"+filename)
	if err != nil {
		return "", 0, false, err
	}
	defer func() { _ = dst.Close() }()

	f, err := os.Open(src)
	if err != nil {
		return "", 0, false, err
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(dst, f); err != nil {
		return "", 0, false, err
	}
	return dst.Name(), fi.Size(), false, nil
}

func (c *fsClient) Upload(ctx context.Context, bucket, key, sourceFilename, contentType string) error {
	dst := c.path(bucket, key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	src, err := os.Open(sourceFilename)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	_, err = io.Copy(out, src)
	return err
}

func (c *fsClient) Delete(ctx context.Context, bucket, key string) error {
	if err := os.Remove(c.path(bucket, key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (c *fsClient) Move(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	dst := c.path(dstBucket, dstKey)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	// Buckets share one filesystem, so a rename is the whole move.
	return os.Rename(c.path(srcBucket, srcKey), dst)
}

func (c *fsClient) Exists(ctx context.Context, bucket, key string) (bool, error) {
	if _, err := os.Stat(c.path(bucket, key)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
