// Package backup pushes partition dumps to an S3-compatible store so a
// field-recovered device leaves a copy of its original contents behind before
// anything is overwritten.
package backup

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/otarescue-io/otarescue/pkg/log"
	"github.com/otarescue-io/otarescue/pkg/options"
)

// Uploader stores named partition dumps off-device.
type Uploader interface {
	// EnsureBucket creates the target bucket when it does not exist yet.
	EnsureBucket(ctx context.Context) error

	// Upload streams size bytes from r into the store under objectKey and
	// returns the stored object's key.
	Upload(ctx context.Context, objectKey string, r io.Reader, size int64) (string, error)
}

// ObjectKey builds the canonical backup object name: device-scoped, carrying
// the partition label, base address and byte length so dumps are
// self-describing.
func ObjectKey(deviceID, label string, base, size uint32) string {
	return fmt.Sprintf("%s/%s_0x%06x_%d.bin", deviceID, label, base, size)
}

type minioUploader struct {
	client     *minio.Client
	bucketName string
}

var _ Uploader = (*minioUploader)(nil)

// NewMinIOUploader creates an S3-protocol uploader from the agent's options.
func NewMinIOUploader(opts *options.S3Options) (Uploader, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &minioUploader{
		client:     client,
		bucketName: opts.BucketName,
	}, nil
}

func (u *minioUploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		log.Info("Bucket does not exist, creating...", "bucket", u.bucketName)
		if err := u.client.MakeBucket(ctx, u.bucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

func (u *minioUploader) Upload(ctx context.Context, objectKey string, r io.Reader, size int64) (string, error) {
	info, err := u.client.PutObject(ctx, u.bucketName, objectKey, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload backup object: %w", err)
	}

	log.Info("Backup uploaded", "bucket", u.bucketName, "key", info.Key, "bytes", info.Size)
	return info.Key, nil
}
