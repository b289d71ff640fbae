package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrRecordNotInDatabase is returned when a fetched page belongs to a
// different database than the one requested.
var ErrRecordNotInDatabase = errors.New("record does not belong to database")

// APIError is a non-success response from the source API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("notion api error: status=%d code=%s message=%s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("notion api error: status=%d message=%s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the source API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// TokenProvider returns the bearer token to use for a request.
type TokenProvider func(ctx context.Context) (string, error)

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL       string
	TokenProvider TokenProvider
	HTTPClient    *http.Client
	APIVersion    string
	UserAgent     string
	PageSize      int
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
}

// Client talks to the Notion REST API.
type Client struct {
	baseURL       string
	tokenProvider TokenProvider
	httpClient    *http.Client
	apiVersion    string
	userAgent     string
	pageSize      int
	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
}

// NewClient creates a client, filling unset options with defaults.
func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.notion.com"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "2022-06-28"
	}
	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	return &Client{
		baseURL:       baseURL,
		tokenProvider: opts.TokenProvider,
		httpClient:    httpClient,
		apiVersion:    apiVersion,
		userAgent:     strings.TrimSpace(opts.UserAgent),
		pageSize:      pageSize,
		maxRetries:    maxRetries,
		baseDelay:     baseDelay,
		maxDelay:      maxDelay,
	}
}

// RetrieveDatabase fetches a database's title and property schema.
func (c *Client) RetrieveDatabase(ctx context.Context, databaseID string) (*Database, error) {
	var db Database
	if err := c.do(ctx, http.MethodGet, "/v1/databases/"+url.PathEscape(databaseID), nil, &db); err != nil {
		return nil, err
	}
	return &db, nil
}

// ListDatabaseSchema returns the live property schema of a database.
func (c *Client) ListDatabaseSchema(ctx context.Context, databaseID string) (Schema, error) {
	db, err := c.RetrieveDatabase(ctx, databaseID)
	if err != nil {
		return nil, err
	}
	return db.Properties, nil
}

// QueryDatabase fetches one page of records starting at cursor.
func (c *Client) QueryDatabase(ctx context.Context, databaseID, cursor string) (*QueryPage, error) {
	body := map[string]any{"page_size": c.pageSize}
	if cursor != "" {
		body["start_cursor"] = cursor
	}

	var resp struct {
		Results    []Page  `json:"results"`
		NextCursor *string `json:"next_cursor"`
		HasMore    bool    `json:"has_more"`
	}
	path := "/v1/databases/" + url.PathEscape(databaseID) + "/query"
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}

	page := &QueryPage{Records: resp.Results, HasMore: resp.HasMore}
	if resp.NextCursor != nil {
		page.NextCursor = *resp.NextCursor
	}
	return page, nil
}

// GetRecord fetches a single page and checks it belongs to databaseID.
func (c *Client) GetRecord(ctx context.Context, databaseID, recordID string) (*Page, error) {
	var page Page
	if err := c.do(ctx, http.MethodGet, "/v1/pages/"+url.PathEscape(recordID), nil, &page); err != nil {
		return nil, err
	}
	if databaseID != "" && NormalizeID(page.Parent.DatabaseID) != NormalizeID(databaseID) {
		return nil, fmt.Errorf("%w: page %s has parent %s", ErrRecordNotInDatabase, recordID, page.Parent.DatabaseID)
	}
	return &page, nil
}

// CreateRecord creates a page in a database.
func (c *Client) CreateRecord(ctx context.Context, databaseID string, properties map[string]any) (*Page, error) {
	body := map[string]any{
		"parent":     map[string]any{"database_id": databaseID},
		"properties": properties,
	}
	var page Page
	if err := c.do(ctx, http.MethodPost, "/v1/pages", body, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// UpdateRecord patches properties of an existing page.
func (c *Client) UpdateRecord(ctx context.Context, recordID string, properties map[string]any) (*Page, error) {
	body := map[string]any{"properties": properties}
	var page Page
	if err := c.do(ctx, http.MethodPatch, "/v1/pages/"+url.PathEscape(recordID), body, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	if c.tokenProvider == nil {
		return fmt.Errorf("notion token provider is required")
	}
	token, err := c.tokenProvider(ctx)
	if err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("notion token is empty")
	}

	var bodyBytes []byte
	if payload != nil {
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	backoff := retry.NewExponential(c.baseDelay)
	backoff = retry.WithCappedDuration(c.maxDelay, backoff)
	backoff = retry.WithMaxRetries(uint64(c.maxRetries), backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		var body io.Reader
		if bodyBytes != nil {
			body = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Notion-Version", c.apiVersion)
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return retry.RetryableError(err)
		}
		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return retry.RetryableError(readErr)
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(respBody) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("failed to decode notion response: %w", err)
			}
			return nil
		}

		apiErr := parseAPIError(resp.StatusCode, respBody)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			if wait := c.retryAfter(resp.Header.Get("Retry-After")); wait > 0 {
				if err := sleepContext(ctx, wait); err != nil {
					return err
				}
			}
			return retry.RetryableError(apiErr)
		}
		return apiErr
	})
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status, Message: strings.TrimSpace(string(body))}
	var parsed struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		apiErr.Code = parsed.Code
		if strings.TrimSpace(parsed.Message) != "" {
			apiErr.Message = parsed.Message
		}
	}
	return apiErr
}

func (c *Client) retryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds <= 0 {
		return 0
	}
	wait := time.Duration(seconds) * time.Second
	if wait > c.maxDelay {
		return c.maxDelay
	}
	return wait
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
