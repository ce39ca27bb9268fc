// Package handlers is the HTTP-facing dispatch pipeline: it wires the
// middleware chain (CORS, rate limit, auth) to the tool endpoints and is the
// only place HTTP status codes are assigned.
package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fairwaylabs/mcp-gateway/internal/gateway/auth"
	"github.com/fairwaylabs/mcp-gateway/internal/gateway/proxy"
	"github.com/fairwaylabs/mcp-gateway/internal/gateway/ratelimit"
	"github.com/fairwaylabs/mcp-gateway/internal/gateway/registry"
	"github.com/fairwaylabs/mcp-gateway/internal/shared/apperr"
	"github.com/fairwaylabs/mcp-gateway/internal/shared/config"
	"github.com/fairwaylabs/mcp-gateway/internal/shared/database"
)

// Server metadata returned by the discovery endpoints.
const (
	ServerName      = "mcp-gateway"
	ServerVersion   = "1.0.0"
	ProtocolVersion = "2024-11-05"
)

type Handler struct {
	cfg       *config.Config
	logger    *slog.Logger
	cache     *auth.Cache
	validator *auth.Validator
	limiter   ratelimit.Limiter
	registry  *registry.Registry
	proxy     *proxy.Client
	db        *database.DB // nil unless DATABASE_URL is configured
}

// New creates the handler set. db may be nil.
func New(cfg *config.Config, logger *slog.Logger, cache *auth.Cache, validator *auth.Validator,
	limiter ratelimit.Limiter, reg *registry.Registry, client *proxy.Client, db *database.DB) *Handler {
	return &Handler{
		cfg:       cfg,
		logger:    logger,
		cache:     cache,
		validator: validator,
		limiter:   limiter,
		registry:  reg,
		proxy:     client,
		db:        db,
	}
}

// HandleHealth handles GET /health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":            "ok",
		"backend_reachable": h.proxy.Ping(r.Context()),
		"cache_size":        h.cache.Len(),
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
	}
	if h.db != nil {
		body["database_ok"] = h.db.Ping(r.Context()) == nil
	}
	writeJSON(w, http.StatusOK, body)
}

// HandleSchema handles GET /mcp/schema
func (h *Handler) HandleSchema(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":             ServerName,
		"version":          ServerVersion,
		"protocol_version": ProtocolVersion,
		"tools":            h.registry.List(),
	})
}

// HandleListTools handles GET /mcp/tools
func (h *Handler) HandleListTools(w http.ResponseWriter, r *http.Request) {
	record, ok := auth.RecordFromContext(r.Context())
	if !ok {
		h.writeError(w, r, apperr.New(apperr.KindUnauthenticated))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tools":   h.registry.List(),
		"user_id": record.UserID,
	})
}

// HandleInitialize handles POST /mcp/initialize
func (h *Handler) HandleInitialize(w http.ResponseWriter, r *http.Request) {
	record, ok := auth.RecordFromContext(r.Context())
	if !ok {
		h.writeError(w, r, apperr.New(apperr.KindUnauthenticated))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"protocol_version": ProtocolVersion,
		"server": map[string]string{
			"name":    ServerName,
			"version": ServerVersion,
		},
		"scopes": record.Scopes,
	})
}

// callRequest is the body of POST /mcp/tools/{name}.
type callRequest struct {
	Arguments map[string]any `json:"arguments"`
}

// HandleCallTool handles POST /mcp/tools/{name}
func (h *Handler) HandleCallTool(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	toolName := chi.URLParam(r, "name")

	record, ok := auth.RecordFromContext(r.Context())
	if !ok {
		h.writeError(w, r, apperr.New(apperr.KindUnauthenticated))
		return
	}

	handler, found := h.registry.Resolve(toolName)
	if !found {
		err := apperr.New(apperr.KindNotFound).WithDetail(map[string]any{
			"available_tools": h.registry.Names(),
		})
		h.audit(r, toolName, startTime, err)
		h.writeError(w, r, err)
		return
	}

	if scope := handler.Descriptor().RequiredScope; scope != "" && !record.HasScope(scope) {
		err := apperr.New(apperr.KindUnauthenticated)
		h.logger.Warn("scope check failed",
			"tool", toolName,
			"key_id", record.KeyID,
			"required_scope", scope,
		)
		h.audit(r, toolName, startTime, err)
		h.writeError(w, r, err)
		return
	}

	// An empty body means a call with no arguments.
	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		appErr := apperr.New(apperr.KindInvalidParameters).WithDetail([]string{"body: malformed JSON"})
		h.audit(r, toolName, startTime, appErr)
		h.writeError(w, r, appErr)
		return
	}

	params, err := handler.ValidateParams(req.Arguments)
	if err != nil {
		appErr := apperr.From(err)
		h.audit(r, toolName, startTime, appErr)
		h.writeError(w, r, appErr)
		return
	}

	result, err := handler.Invoke(r.Context(), params, record)
	if err != nil {
		appErr := h.mapToolError(r, err)
		h.audit(r, toolName, startTime, appErr)
		h.writeError(w, r, appErr)
		return
	}

	h.audit(r, toolName, startTime, nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"tool":              toolName,
		"result":            result,
		"execution_time_ms": time.Since(startTime).Milliseconds(),
		"user_id":           record.UserID,
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
	})
}

// mapToolError translates a tool failure into the shared taxonomy. A 401 from
// the backend despite a cached "valid" record means the credential was
// revoked; the stale cache entry is removed so the next request re-validates.
func (h *Handler) mapToolError(r *http.Request, err error) *apperr.Error {
	var proxyErr *proxy.Error
	if asProxyError(err, &proxyErr) {
		switch {
		case proxyErr.Kind == proxy.KindNetwork:
			return apperr.Wrap(apperr.KindUpstreamUnavailable, err)
		case proxyErr.StatusCode == http.StatusUnauthorized:
			if credential, ok := auth.CredentialFromContext(r.Context()); ok {
				h.cache.Invalidate(credential)
				h.logger.Info("cached credential invalidated after backend 401",
					"credential_prefix", auth.CredentialPrefix(credential))
			}
			return apperr.Wrap(apperr.KindUnauthenticated, err)
		case proxyErr.StatusCode >= 500 || proxyErr.StatusCode == http.StatusRequestTimeout:
			return apperr.Wrap(apperr.KindUpstreamUnavailable, err)
		default:
			return apperr.Wrap(apperr.KindServerError, err)
		}
	}
	return apperr.From(err)
}
