// Package snapshot copies the durable SQLite snapshot to an S3-compatible
// bucket (MinIO in the default deployment) after each flush, so losing the
// host does not lose the vault.
package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sc "github.com/avolkovs/termvault/internal/server/config"
	"github.com/google/uuid"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in)
	}
)

type S3Uploader struct {
	config *sc.Config
}

func NewS3Uploader(cfg *sc.Config) *S3Uploader {
	return &S3Uploader{config: cfg}
}

// Enabled reports whether uploads are configured at all.
func (u *S3Uploader) Enabled() bool {
	return u.config.S3Bucket != ""
}

func (u *S3Uploader) getClient() (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(context.Background(),
		config.WithRegion(u.config.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			u.config.S3RootUser,     // MINIO_ROOT_USER
			u.config.S3RootPassword, // MINIO_ROOT_PASSWORD
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(u.config.S3BaseEndpoint)
		o.UsePathStyle = true
	})

	return client, nil
}

// storageKey places each copy under a date prefix with a random suffix so
// uploads never overwrite each other.
func storageKey(path string) string {
	d := time.Now()
	return fmt.Sprintf("snapshots/%d/%02d/%02d/%s-%s", d.Year(), d.Month(), d.Day(), filepath.Base(path), uuid.New())
}

// Upload copies the snapshot file at path to the configured bucket.
func (u *S3Uploader) Upload(ctx context.Context, path string) error {
	client, err := u.getClient()
	if err != nil {
		return fmt.Errorf("s3 client: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	bucket := u.config.S3Bucket
	key := storageKey(path)

	if _, err := putObject(client, ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
		Body:   f,
	}); err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}

	return nil
}
