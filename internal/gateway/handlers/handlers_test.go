package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairwaylabs/mcp-gateway/internal/gateway/auth"
	"github.com/fairwaylabs/mcp-gateway/internal/gateway/proxy"
	"github.com/fairwaylabs/mcp-gateway/internal/gateway/ratelimit"
	"github.com/fairwaylabs/mcp-gateway/internal/gateway/registry"
	"github.com/fairwaylabs/mcp-gateway/internal/gateway/tools"
	"github.com/fairwaylabs/mcp-gateway/internal/shared/config"
)

// fakeBackend plays both the identity service and the business backend,
// exactly as the gateway sees them in production.
type fakeBackend struct {
	validateCalls atomic.Int64
	slowSheets    atomic.Bool // simulate a backend timeout on expense sheets
	reject401     atomic.Bool // simulate revocation discovered downstream
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/keys/validate", func(w http.ResponseWriter, r *http.Request) {
		b.validateCalls.Add(1)
		var body struct {
			APIKey string `json:"api_key"`
		}
		json.NewDecoder(r.Body).Decode(&body)

		w.Header().Set("Content-Type", "application/json")
		switch body.APIKey {
		case "gcp_valid1":
			json.NewEncoder(w).Encode(map[string]any{
				"valid":  true,
				"user":   map[string]string{"id": "u1", "name": "Pat"},
				"key_id": "k1",
				"scopes": []string{"mcp:read"},
			})
		case "gcp_noscope":
			json.NewEncoder(w).Encode(map[string]any{
				"valid":  true,
				"user":   map[string]string{"id": "u2", "name": "Sam"},
				"key_id": "k2",
				"scopes": []string{"billing:write"},
			})
		default:
			json.NewEncoder(w).Encode(map[string]any{"valid": false, "reason": "revoked"})
		}
	})

	mux.HandleFunc("/api/expense-sheets", func(w http.ResponseWriter, r *http.Request) {
		if b.slowSheets.Load() {
			time.Sleep(300 * time.Millisecond)
		}
		if b.reject401.Load() {
			http.Error(w, "key revoked", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sheets":[{"id":1,"season":"2026"}]}`))
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

type testGateway struct {
	router  http.Handler
	backend *fakeBackend
	cache   *auth.Cache
}

// newTestGateway assembles the full pipeline against a fake backend, with
// the same middleware ordering as cmd/gateway.
func newTestGateway(t *testing.T, rateMax int) *testGateway {
	t.Helper()

	backend := &fakeBackend{}
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		Port:            "0",
		Env:             "test",
		BackendBaseURL:  srv.URL,
		ServiceToken:    "svc-token",
		AllowedOrigin:   "*",
		RateLimitWindow: 60 * time.Second,
		RateLimitMax:    rateMax,
		CacheTTL:        5 * time.Minute,
		RequestTimeout:  100 * time.Millisecond,
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := auth.NewCache(cfg.CacheTTL)
	validator := auth.NewValidator(cache, cfg.BackendBaseURL, cfg.RequestTimeout, logger)
	limiter := ratelimit.NewMemoryLimiter(cfg.RateLimitWindow, cfg.RateLimitMax)
	proxyClient := proxy.New(cfg.BackendBaseURL, cfg.ServiceToken, cfg.RequestTimeout)

	reg := registry.New()
	require.NoError(t, tools.RegisterAll(reg, proxyClient, logger))

	handler := New(cfg, logger, cache, validator, limiter, reg, proxyClient, nil)

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(handler.CORSMiddleware)
	r.Get("/health", handler.HandleHealth)
	r.Get("/mcp/schema", handler.HandleSchema)
	r.Route("/mcp", func(r chi.Router) {
		r.Use(handler.ExtractMiddleware)
		r.Use(handler.RateLimitMiddleware)
		r.Use(handler.ValidateMiddleware)
		r.Get("/tools", handler.HandleListTools)
		r.Post("/tools/{name}", handler.HandleCallTool)
		r.Post("/initialize", handler.HandleInitialize)
	})

	return &testGateway{router: r, backend: backend, cache: cache}
}

func (g *testGateway) do(method, path, credential, body string) *httptest.ResponseRecorder {
	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reqBody)
	req.RemoteAddr = "203.0.113.7:52100"
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}
	w := httptest.NewRecorder()
	g.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func errorKind(t *testing.T, body map[string]any) string {
	t.Helper()
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected error envelope, got %v", body)
	kind, _ := errObj["kind"].(string)
	return kind
}

func TestHealth(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, 100)

	w := g.do(http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["backend_reachable"])
	assert.Equal(t, float64(0), body["cache_size"])
}

func TestSchemaRequiresNoAuth(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, 100)

	w := g.do(http.MethodGet, "/mcp/schema", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, ServerName, body["name"])
	toolList, ok := body["tools"].([]any)
	require.True(t, ok)
	assert.Len(t, toolList, 3)
}

// A valid credential lists tools with the resolved user id.
func TestListTools_ValidCredential(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, 100)

	w := g.do(http.MethodGet, "/mcp/tools", "gcp_valid1", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "u1", body["user_id"])
	toolList, ok := body["tools"].([]any)
	require.True(t, ok)
	assert.Len(t, toolList, 3)
}

// A missing credential is a terminal Unauthenticated.
func TestProtectedEndpoints_MissingCredential(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, 100)

	for _, path := range []string{"/mcp/tools", "/mcp/initialize"} {
		method := http.MethodGet
		if path == "/mcp/initialize" {
			method = http.MethodPost
		}
		w := g.do(method, path, "", "")
		require.Equal(t, http.StatusUnauthorized, w.Code, "path %s", path)
		assert.Equal(t, "unauthenticated", errorKind(t, decode(t, w)))
	}
}

// A rejected credential is not cached, so the next attempt hits
// the identity service again.
func TestRejectedCredentialNotCached(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, 100)

	w := g.do(http.MethodGet, "/mcp/tools", "gcp_revoked", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = g.do(http.MethodGet, "/mcp/tools", "gcp_revoked", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	assert.Equal(t, int64(2), g.backend.validateCalls.Load())
	assert.Equal(t, 0, g.cache.Len())
}

func TestCachedCredentialSkipsRevalidation(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, 100)

	for i := 0; i < 4; i++ {
		w := g.do(http.MethodGet, "/mcp/tools", "gcp_valid1", "")
		require.Equal(t, http.StatusOK, w.Code)
	}

	assert.Equal(t, int64(1), g.backend.validateCalls.Load())
}

func TestInitialize(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, 100)

	w := g.do(http.MethodPost, "/mcp/initialize", "gcp_valid1", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, ProtocolVersion, body["protocol_version"])
	scopes, ok := body["scopes"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"mcp:read"}, scopes)
}

func TestCallTool_Success(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, 100)

	w := g.do(http.MethodPost, "/mcp/tools/list_expense_sheets", "gcp_valid1",
		`{"arguments":{"season":"2026"}}`)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "list_expense_sheets", body["tool"])
	assert.Equal(t, "u1", body["user_id"])
	assert.NotNil(t, body["result"])
	_, hasLatency := body["execution_time_ms"]
	assert.True(t, hasLatency)
}

// A key whose scopes do not cover the tool's required scope is rejected
// before the backend is contacted.
func TestCallTool_MissingScope(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, 100)

	w := g.do(http.MethodGet, "/mcp/tools", "gcp_noscope", "")
	require.Equal(t, http.StatusOK, w.Code, "listing tools needs no scope")

	w = g.do(http.MethodPost, "/mcp/tools/list_expense_sheets", "gcp_noscope",
		`{"arguments":{}}`)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthenticated", errorKind(t, decode(t, w)))
}

func TestCallTool_UnknownTool(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, 100)

	w := g.do(http.MethodPost, "/mcp/tools/launch_rockets", "gcp_valid1", `{"arguments":{}}`)
	require.Equal(t, http.StatusNotFound, w.Code)

	body := decode(t, w)
	assert.Equal(t, "not_found", errorKind(t, body))

	errObj := body["error"].(map[string]any)
	detail, ok := errObj["detail"].(map[string]any)
	require.True(t, ok)
	available, ok := detail["available_tools"].([]any)
	require.True(t, ok)
	assert.Contains(t, available, "list_expense_sheets")
}

func TestCallTool_InvalidParameters(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, 100)

	w := g.do(http.MethodPost, "/mcp/tools/get_expense_sheet", "gcp_valid1", `{"arguments":{}}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	body := decode(t, w)
	assert.Equal(t, "invalid_parameters", errorKind(t, body))

	errObj := body["error"].(map[string]any)
	detail, ok := errObj["detail"].([]any)
	require.True(t, ok)
	assert.Contains(t, detail, "sheet_id: required")
}

// A backend timeout surfaces as 503 UpstreamUnavailable.
func TestCallTool_BackendTimeout(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, 100)
	g.backend.slowSheets.Store(true)

	w := g.do(http.MethodPost, "/mcp/tools/list_expense_sheets", "gcp_valid1", `{"arguments":{}}`)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "upstream_unavailable", errorKind(t, decode(t, w)))
}

// A downstream 401 despite a cached "valid" record means revocation; the
// stale cache entry must be removed so the next request re-validates.
func TestCallTool_Backend401InvalidatesCache(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, 100)

	w := g.do(http.MethodGet, "/mcp/tools", "gcp_valid1", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, g.cache.Len())

	g.backend.reject401.Store(true)
	w = g.do(http.MethodPost, "/mcp/tools/list_expense_sheets", "gcp_valid1", `{"arguments":{}}`)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthenticated", errorKind(t, decode(t, w)))
	assert.Equal(t, 0, g.cache.Len(), "stale entry must not mask revocation")
}

// The request over budget is rejected with a positive retryAfter.
func TestRateLimit(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, 3)

	for i := 0; i < 3; i++ {
		w := g.do(http.MethodGet, "/mcp/tools", "gcp_valid1", "")
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}

	w := g.do(http.MethodGet, "/mcp/tools", "gcp_valid1", "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	body := decode(t, w)
	assert.Equal(t, "rate_limited", errorKind(t, body))
	retryAfter, ok := body["retry_after"].(float64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, retryAfter, float64(1))
	assert.LessOrEqual(t, retryAfter, float64(60))
}

// A request with no credential at all is terminal before the limiter, so it
// never consumes points.
func TestMissingCredentialConsumesNoPoints(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, 1)

	w := g.do(http.MethodGet, "/mcp/tools", "", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = g.do(http.MethodGet, "/mcp/tools", "gcp_valid1", "")
	require.Equal(t, http.StatusOK, w.Code, "budget untouched by credential-less requests")
}

// Rate limiting runs before credential validation, shedding bursts without
// upstream cost.
func TestRateLimit_BeforeValidation(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, 1)

	w := g.do(http.MethodGet, "/mcp/tools", "gcp_bad", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, int64(1), g.backend.validateCalls.Load())

	w = g.do(http.MethodGet, "/mcp/tools", "gcp_bad", "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, int64(1), g.backend.validateCalls.Load(),
		"rejected request must not reach the identity service")
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, 100)

	req := httptest.NewRequest(http.MethodOptions, "/mcp/tools", nil)
	w := httptest.NewRecorder()
	g.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
