// Package storage holds durable copies of record assets in an S3-compatible
// object store.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/vonshlovens/notionsync-pg/internal/config"
)

// ObjectStore is a bucket-bound object store.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	DeleteObject(ctx context.Context, key string) error
	PublicURL(key string) string
	KeyFromURL(publicURL string) (string, bool)
}

// New creates the store selected by cfg.Driver.
func New(ctx context.Context, cfg config.StorageConfig) (ObjectStore, error) {
	switch cfg.Driver {
	case "minio":
		return NewMinIO(cfg)
	case "s3":
		return NewS3(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// urls maps object keys to stable public URLs and back.
type urls struct {
	base string
}

func newURLs(cfg config.StorageConfig) urls {
	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base != "" {
		return urls{base: base}
	}

	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	switch {
	case endpoint == "":
		region := cfg.Region
		if region == "" {
			region = "us-east-1"
		}
		base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, region)
	case strings.Contains(endpoint, "://"):
		base = endpoint + "/" + cfg.Bucket
	default:
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s/%s", scheme, endpoint, cfg.Bucket)
	}
	return urls{base: base}
}

func (u urls) PublicURL(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return u.base + "/" + strings.Join(parts, "/")
}

func (u urls) KeyFromURL(publicURL string) (string, bool) {
	rest, ok := strings.CutPrefix(publicURL, u.base+"/")
	if !ok || rest == "" {
		return "", false
	}
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	key, err := url.PathUnescape(rest)
	if err != nil {
		return "", false
	}
	return key, true
}
