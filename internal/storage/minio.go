package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/vonshlovens/notionsync-pg/internal/config"
)

// MinIO stores objects in a MinIO bucket.
type MinIO struct {
	urls
	client *minio.Client
	bucket string
}

// NewMinIO creates a MinIO store. It does not contact the server.
func NewMinIO(cfg config.StorageConfig) (*MinIO, error) {
	endpoint := cfg.Endpoint
	secure := cfg.UseSSL
	if after, ok := strings.CutPrefix(endpoint, "https://"); ok {
		endpoint, secure = after, true
	} else if after, ok := strings.CutPrefix(endpoint, "http://"); ok {
		endpoint = after
	}
	endpoint = strings.TrimRight(endpoint, "/")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &MinIO{
		urls:   newURLs(cfg),
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// PutObject uploads data under key, replacing any existing object.
func (m *MinIO) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

// DeleteObject removes key. Removing a missing key succeeds.
func (m *MinIO) DeleteObject(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}
