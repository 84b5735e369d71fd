package filestore

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/autopeer-io/webapkd/internal/webapk/core"
	"github.com/autopeer-io/webapkd/pkg/log"
	"github.com/autopeer-io/webapkd/pkg/options"
)

// MinIO is a core.FileStore backed by an S3-compatible bucket. Paths are
// object keys.
type MinIO struct {
	client     *minio.Client
	bucketName string
}

var _ core.FileStore = (*MinIO)(nil)

// NewMinIO creates a bucket-backed store from opts.
func NewMinIO(opts *options.S3Options) (*MinIO, error) {
	minioOpts := &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	}
	if opts.InsecureSkipVerify {
		minioOpts.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	client, err := minio.New(opts.Endpoint, minioOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinIO{
		client:     client,
		bucketName: opts.BucketName,
	}, nil
}

// CheckBucket creates the bucket when it does not exist yet.
func (m *MinIO) CheckBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		log.Info("Bucket does not exist, creating", "bucket", m.bucketName)
		if err := m.client.MakeBucket(ctx, m.bucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

func (m *MinIO) Write(ctx context.Context, path string, data []byte) error {
	_, err := m.client.PutObject(ctx, m.bucketName, objectKey(path), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", path, err)
	}
	return nil
}

func (m *MinIO) Read(ctx context.Context, path string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucketName, objectKey(path), minio.GetObjectOptions{})
	if err != nil {
		return nil, m.wrap(path, err)
	}
	defer obj.Close()

	b, err := io.ReadAll(obj)
	if err != nil {
		return nil, m.wrap(path, err)
	}
	return b, nil
}

func (m *MinIO) Delete(ctx context.Context, path string) error {
	err := m.client.RemoveObject(ctx, m.bucketName, objectKey(path), minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

func (m *MinIO) Exists(ctx context.Context, path string) (bool, error) {
	_, err := m.client.StatObject(ctx, m.bucketName, objectKey(path), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", path, err)
}

func (m *MinIO) wrap(path string, err error) error {
	if isNoSuchKey(err) {
		return fmt.Errorf("%s: %w", path, core.ErrFileNotFound)
	}
	return fmt.Errorf("failed to read %s: %w", path, err)
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func objectKey(path string) string {
	return strings.TrimPrefix(path, "/")
}
