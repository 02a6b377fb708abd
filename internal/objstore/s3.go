package objstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"thirdcoast.systems/showreel/internal/config"
)

type s3Client struct {
	client *s3.Client
}

// newS3Client uses static credentials when configured, otherwise the default
// AWS credential chain. A custom endpoint (MinIO and friends) forces path
// style addressing.
func newS3Client(ctx context.Context, conf *config.Config) (*s3Client, error) {
	if conf.S3AccessKey != "" {
		opts := s3.Options{
			Region:      conf.S3Region,
			Credentials: credentials.NewStaticCredentialsProvider(conf.S3AccessKey, conf.S3SecretKey, ""),
		}
		if conf.S3Endpoint != "" {
			opts.BaseEndpoint = aws.String(conf.S3Endpoint)
			opts.UsePathStyle = true
		}
		return &s3Client{client: s3.New(opts)}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(conf.S3Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if conf.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(conf.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return &s3Client{client: client}, nil
}

// s3ErrorIs404 matches both absence shapes: GetObject reports NoSuchKey,
// HeadObject reports the bare NotFound.
func s3ErrorIs404(err error) bool {
	var noKeyErr *types.NoSuchKey
	if errors.As(err, &noKeyErr) {
		return true
	}
	var notFoundErr *types.NotFound
	return errors.As(err, &notFoundErr)
}

func (c *s3Client) Download(ctx context.Context, tmpdir, bucket, key string) (string, int64, bool, error) {
	downloader := manager.NewDownloader(c.client)

	// Keep the original filename so downstream type detection works.
	filename := filepath.Base(key)
	f, err := os.CreateTemp(tmpdir, "*-"+filename)
	if err != nil {
		return "", 0, false, fmt.Errorf("create temp file: %w", err)
	}

	size, err := downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		if s3ErrorIs404(err) {
			return "", 0, true, nil
		}
		return "", 0, false, fmt.Errorf("download %s/%s: %w", bucket, key, err)
	}

	_ = f.Close()
	return f.Name(), size, false, nil
}

func (c *s3Client) Upload(ctx context.Context, bucket, key, sourceFilename, contentType string) error {
	uploader := manager.NewUploader(c.client)

	file, err := os.Open(sourceFilename)
	if err != nil {
		return fmt.Errorf("failed to open source file %s: %w", sourceFilename, err)
	}
	defer func() { _ = file.Close() }()

	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload object %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (c *s3Client) Delete(ctx context.Context, bucket, key string) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Move copies the object server side, then deletes the source.
func (c *s3Client) Move(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	_, err := c.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dstBucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(url.PathEscape(srcBucket + "/" + srcKey)),
	})
	if err != nil {
		return fmt.Errorf("failed to copy %s/%s to %s/%s: %w", srcBucket, srcKey, dstBucket, dstKey, err)
	}

	if err := c.Delete(ctx, srcBucket, srcKey); err != nil {
		return fmt.Errorf("failed to delete source after copy: %w", err)
	}
	return nil
}

func (c *s3Client) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if s3ErrorIs404(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object %s/%s: %w", bucket, key, err)
	}
	return true, nil
}
