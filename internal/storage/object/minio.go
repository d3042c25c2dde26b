// Package object stores uploaded documents and rendered explainability
// overlays in a MinIO (S3-compatible) bucket.
package object

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/mediscan/backend/pkg/logger"
)

type Store struct {
	client *minio.Client
	bucket string
}

func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	logger.Info("Object store initialized",
		zap.String("endpoint", endpoint),
		zap.String("bucket", bucket),
	)
	return &Store{client: cli, bucket: bucket}, nil
}

// PutPNG uploads a rendered overlay and returns its object URL.
func (s *Store) PutPNG(ctx context.Context, name string, data []byte) (string, error) {
	return s.put(ctx, name, data, "image/png")
}

// PutDocument uploads an original document image under the given key.
func (s *Store) PutDocument(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return s.put(ctx, name, data, contentType)
}

func (s *Store) put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("failed to store object %s: %w", name, err)
	}
	return fmt.Sprintf("%s://%s/%s/%s", s.scheme(), s.client.EndpointURL().Host, s.bucket, name), nil
}

// Get fetches an object's content by key.
func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch object %s: %w", name, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", name, err)
	}
	return data, nil
}

func (s *Store) scheme() string {
	if s.client.EndpointURL().Scheme == "https" {
		return "https"
	}
	return "http"
}
