package source

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/vonshlovens/notionsync-pg/internal/config"
)

// ErrNoCredentials means no integration token is configured for a tenant.
var ErrNoCredentials = errors.New("no source credentials configured for tenant")

// Registry hands out one Client per tenant, each bound to that tenant's token.
type Registry struct {
	cfg        config.SourceConfig
	httpClient *http.Client
	pageSize   int

	mu      sync.Mutex
	clients map[string]*Client
}

// NewRegistry creates a registry from source configuration.
func NewRegistry(cfg config.SourceConfig, pageSize int) *Registry {
	return &Registry{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		pageSize:   pageSize,
		clients:    make(map[string]*Client),
	}
}

// ForTenant returns the client for a tenant.
func (r *Registry) ForTenant(tenantID string) (*Client, error) {
	token := r.cfg.TokenFor(tenantID)
	if token == "" {
		return nil, ErrNoCredentials
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[tenantID]; ok {
		return c, nil
	}
	c := NewClient(ClientOptions{
		BaseURL: r.cfg.BaseURL,
		TokenProvider: func(ctx context.Context) (string, error) {
			return token, nil
		},
		HTTPClient: r.httpClient,
		APIVersion: r.cfg.APIVersion,
		UserAgent:  r.cfg.UserAgent,
		PageSize:   r.pageSize,
		MaxRetries: r.cfg.MaxRetries,
	})
	r.clients[tenantID] = c
	return c, nil
}
