// Package mirror copies transient source asset URLs into durable storage.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/vonshlovens/notionsync-pg/internal/storage"
)

var (
	// ErrNotImage is returned when the downloaded body is not image data.
	ErrNotImage = errors.New("asset is not an image")
	// ErrTooLarge is returned when the body exceeds the size limit.
	ErrTooLarge = errors.New("asset exceeds size limit")
)

// Options configures a Mirror.
type Options struct {
	HTTPClient *http.Client
	UserAgent  string
	Timeout    time.Duration
	MaxBytes   int64
}

// Mirror downloads assets and re-uploads them under deterministic keys.
type Mirror struct {
	store     storage.ObjectStore
	client    *http.Client
	userAgent string
	timeout   time.Duration
	maxBytes  int64
}

// New creates a Mirror writing to store.
func New(store storage.ObjectStore, opts Options) *Mirror {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "notionsync-pg/1.0"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 25 << 20
	}
	return &Mirror{
		store:     store,
		client:    client,
		userAgent: ua,
		timeout:   timeout,
		maxBytes:  maxBytes,
	}
}

// Key returns the object key of a record's asset.
func Key(tenantID, recordID, ext string) string {
	return tenantID + "/" + recordID + "." + ext
}

// Mirror copies sourceURL and returns the durable URL, or "" if anything
// goes wrong. Failures are logged and never returned.
func (m *Mirror) Mirror(ctx context.Context, sourceURL, tenantID, recordID string) string {
	publicURL, err := m.Copy(ctx, sourceURL, tenantID, recordID)
	if err != nil {
		slog.Warn("asset mirror failed",
			"tenant", tenantID,
			"record", recordID,
			"error", err)
		return ""
	}
	return publicURL
}

// Copy downloads sourceURL, checks it is image data, and stores it under
// {tenantID}/{recordID}.{ext}, overwriting any previous object.
func (m *Mirror) Copy(ctx context.Context, sourceURL, tenantID, recordID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid asset url: %w", err)
	}
	req.Header.Set("User-Agent", m.userAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("failed to download asset: status %d", resp.StatusCode)
	}

	declared := mediaType(resp.Header.Get("Content-Type"))
	if isMarkup(declared) {
		return "", fmt.Errorf("%w: declared content type %s", ErrNotImage, declared)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, m.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read asset: %w", err)
	}
	if int64(len(data)) > m.maxBytes {
		return "", ErrTooLarge
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty body", ErrNotImage)
	}

	contentType := declared
	if !strings.HasPrefix(contentType, "image/") {
		contentType = mediaType(mimetype.Detect(data).String())
		if !strings.HasPrefix(contentType, "image/") {
			return "", fmt.Errorf("%w: detected %s", ErrNotImage, contentType)
		}
	}

	key := Key(tenantID, recordID, Extension(sourceURL, contentType))
	if err := m.store.PutObject(ctx, key, data, contentType); err != nil {
		return "", err
	}
	return m.store.PublicURL(key), nil
}

// Release deletes the object behind a durable URL. URLs outside the
// store are ignored.
func (m *Mirror) Release(ctx context.Context, assetURL string) error {
	key, ok := m.store.KeyFromURL(assetURL)
	if !ok {
		return nil
	}
	return m.store.DeleteObject(ctx, key)
}

// KeyOf returns the object key behind a durable URL.
func (m *Mirror) KeyOf(assetURL string) (string, bool) {
	return m.store.KeyFromURL(assetURL)
}

// SourceKey identifies a source asset independent of its signed query
// string, so re-signed URLs of the same file compare equal.
func SourceKey(sourceURL string) string {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return sourceURL
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// Extension derives a file extension from the URL path when it names an
// image type, falling back to the content type.
func Extension(sourceURL, contentType string) string {
	if u, err := url.Parse(sourceURL); err == nil {
		ext := strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
		if imageExt(ext) {
			if ext == "jpeg" {
				return "jpg"
			}
			return ext
		}
	}
	if mt := mimetype.Lookup(contentType); mt != nil && mt.Extension() != "" {
		return strings.TrimPrefix(mt.Extension(), ".")
	}
	if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
		return strings.TrimPrefix(exts[0], ".")
	}
	return "bin"
}

func imageExt(ext string) bool {
	if ext == "" {
		return false
	}
	return strings.HasPrefix(mediaType(mime.TypeByExtension("."+ext)), "image/")
}

func mediaType(header string) string {
	if header == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(header))
	}
	return strings.ToLower(mt)
}

func isMarkup(mt string) bool {
	if strings.HasPrefix(mt, "image/") {
		return false
	}
	return strings.HasPrefix(mt, "text/") ||
		strings.Contains(mt, "html") ||
		strings.Contains(mt, "xml") ||
		mt == "application/json"
}
