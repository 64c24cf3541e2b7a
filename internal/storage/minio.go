package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const contentType = "application/vnd.apache.parquet"

// ObjectInfo is one listed object.
type ObjectInfo struct {
	Key  string
	Size int64
}

// Store is the object store capability the compactor needs.
type Store interface {
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Download(ctx context.Context, key, path string) error
	Upload(ctx context.Context, path, key string) error
	Delete(ctx context.Context, keys []string) error
}

// MinIOClient implements Store against any S3-compatible endpoint.
type MinIOClient struct {
	client     *minio.Client
	bucketName string
}

// MinIOConfig holds MinIO connection settings.
type MinIOConfig struct {
	Endpoint  string // e.g., "localhost:9000"
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool
}

// NewMinIOClient creates a client and checks that the bucket is reachable.
func NewMinIOClient(ctx context.Context, cfg MinIOConfig) (*MinIOClient, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, &StoreAccessError{Bucket: cfg.Bucket, Err: fmt.Errorf("check bucket existence: %w", err)}
	}
	if !exists {
		return nil, &StoreAccessError{Bucket: cfg.Bucket, Err: errors.New("bucket does not exist")}
	}

	return &MinIOClient{
		client:     client,
		bucketName: cfg.Bucket,
	}, nil
}

// Bucket returns the bucket this client operates on.
func (m *MinIOClient) Bucket() string {
	return m.bucketName
}

// List returns every object under prefix, following pagination.
func (m *MinIOClient) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	// stops the listing goroutine when we return early
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var objects []ObjectInfo
	for obj := range m.client.ListObjects(ctx, m.bucketName, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, &StoreAccessError{Bucket: m.bucketName, Prefix: prefix, Err: obj.Err}
		}
		objects = append(objects, ObjectInfo{Key: obj.Key, Size: obj.Size})
	}
	return objects, nil
}

// Download writes the object to a local file at path.
func (m *MinIOClient) Download(ctx context.Context, key, path string) error {
	if err := m.client.FGetObject(ctx, m.bucketName, key, path, minio.GetObjectOptions{}); err != nil {
		return &ObjectReadError{Key: key, Err: err}
	}
	return nil
}

// Upload stores the local file at path under key.
func (m *MinIOClient) Upload(ctx context.Context, path, key string) error {
	_, err := m.client.FPutObject(ctx, m.bucketName, key, path, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return &ObjectWriteError{Key: key, Err: err}
	}
	return nil
}

// Delete removes keys in one batch call.
func (m *MinIOClient) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	objects := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objects <- minio.ObjectInfo{Key: key}
	}
	close(objects)

	var result *multierror.Error
	for rerr := range m.client.RemoveObjects(ctx, m.bucketName, objects, minio.RemoveObjectsOptions{}) {
		result = multierror.Append(result, &ObjectWriteError{Key: rerr.ObjectName, Err: rerr.Err})
	}
	return result.ErrorOrNil()
}
