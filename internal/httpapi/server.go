// Package httpapi exposes the webhook endpoint and the authenticated sync
// trigger over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vonshlovens/notionsync-pg/internal/mapping"
	"github.com/vonshlovens/notionsync-pg/internal/sync"
	"github.com/vonshlovens/notionsync-pg/internal/webhook"
)

// Engine runs tenant-triggered sync work.
type Engine interface {
	SyncTenant(ctx context.Context, tenantID string) []*sync.Result
	SyncTenantType(ctx context.Context, tenantID string, lt mapping.LogicalType) *sync.Result
	CreateRecord(ctx context.Context, tenantID string, lt mapping.LogicalType, fields map[string]any) *sync.Result
}

// Dispatcher handles decoded webhook events.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev webhook.Event) ([]*sync.Result, error)
}

// Pinger reports whether the local store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config configures the HTTP surface.
type Config struct {
	WebhookSecret string
	JWTSecret     string
	JWTAudience   string
	MaxBodyBytes  int64
	Logger        *slog.Logger
}

// Server routes HTTP requests to the sync engine.
type Server struct {
	cfg        Config
	engine     Engine
	dispatcher Dispatcher
	health     Pinger
	logger     *slog.Logger
	router     chi.Router
}

// NewServer creates the HTTP server and mounts its routes.
func NewServer(cfg Config, engine Engine, dispatcher Dispatcher, health Pinger) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		cfg:        cfg,
		engine:     engine,
		dispatcher: dispatcher,
		health:     health,
		logger:     cfg.Logger,
	}
	s.mountRoutes()
	return s
}

func (s *Server) mountRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Post("/webhooks/notion", s.handleWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/sync", s.handleSyncTenant)
		r.Post("/sync/{type}", s.handleSyncType)
		r.Post("/records/{type}", s.handleCreateRecord)
	})
	s.router = r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "unavailable", "database unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}

	header := r.Header.Get(webhook.SignatureHeader)
	verifyErr := webhook.VerifySignature(s.cfg.WebhookSecret, header, body)
	ev, parseErr := webhook.ParseEvent(body)

	if verifyErr != nil {
		// The subscription handshake arrives before a secret exists and
		// is never signed.
		if parseErr == nil && ev.Verification() && header == "" {
			s.logger.Info("webhook verification token received", "verification_token", ev.VerificationToken)
			writeJSON(w, http.StatusOK, map[string]string{"status": "verification_received"})
			return
		}
		s.logger.Warn("rejected webhook", "error", verifyErr)
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid webhook signature")
		return
	}

	switch {
	case errors.Is(parseErr, webhook.ErrUnsupportedEvent):
		s.logger.Debug("ignoring webhook event", "error", parseErr)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	case parseErr != nil:
		writeError(w, http.StatusBadRequest, "bad_request", parseErr.Error())
		return
	case ev.Verification():
		writeJSON(w, http.StatusOK, map[string]string{"status": "verification_received"})
		return
	}

	results, err := s.dispatcher.Dispatch(r.Context(), ev)
	if results == nil {
		results = []*sync.Result{}
	}
	if err != nil {
		s.logger.Error("webhook handling failed", "kind", ev.Kind, "database", ev.DatabaseID, "record", ev.RecordID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"code":    "dispatch_failed",
			"message": err.Error(),
			"results": results,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "handled", "results": results})
}

func (s *Server) handleSyncTenant(w http.ResponseWriter, r *http.Request) {
	results := s.engine.SyncTenant(context.WithoutCancel(r.Context()), TenantFrom(r.Context()))
	status := http.StatusOK
	for _, res := range results {
		if !res.Success {
			status = statusFor(res)
			break
		}
	}
	writeJSON(w, status, results)
}

func (s *Server) handleSyncType(w http.ResponseWriter, r *http.Request) {
	lt, ok := logicalType(w, r)
	if !ok {
		return
	}
	res := s.engine.SyncTenantType(context.WithoutCancel(r.Context()), TenantFrom(r.Context()), lt)
	writeJSON(w, statusFor(res), res)
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	lt, ok := logicalType(w, r)
	if !ok {
		return
	}
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		writeError(w, http.StatusBadRequest, "bad_request", "body must be a JSON object of column values")
		return
	}

	res := s.engine.CreateRecord(context.WithoutCancel(r.Context()), TenantFrom(r.Context()), lt, fields)
	status := statusFor(res)
	if res.Success {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func logicalType(w http.ResponseWriter, r *http.Request) (mapping.LogicalType, bool) {
	lt, err := mapping.ParseLogicalType(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_type", err.Error())
		return "", false
	}
	return lt, true
}

// statusFor maps a result's error code onto an HTTP status.
func statusFor(res *sync.Result) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.Code {
	case "tenant_not_configured", "invalid_record":
		return http.StatusUnprocessableEntity
	case "source_unavailable", "pagination_protocol_violation":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"code":    code,
		"error":   message,
	})
}
