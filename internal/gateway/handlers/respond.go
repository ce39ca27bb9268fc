package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fairwaylabs/mcp-gateway/internal/gateway/auth"
	"github.com/fairwaylabs/mcp-gateway/internal/gateway/proxy"
	"github.com/fairwaylabs/mcp-gateway/internal/shared/apperr"
	"github.com/fairwaylabs/mcp-gateway/internal/shared/models"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError renders a taxonomy error. The caller sees only the fixed
// catalog message (plus parameter detail); the cause stays in the logs.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, appErr *apperr.Error) {
	if appErr.Kind == apperr.KindServerError || appErr.Kind == apperr.KindUpstreamUnavailable {
		h.logger.Error("request failed",
			"kind", string(appErr.Kind),
			"path", r.URL.Path,
			"error", appErr.Error())
	}

	errBody := map[string]any{
		"kind":    string(appErr.Kind),
		"message": appErr.Message(),
	}
	if appErr.Detail != nil {
		errBody["detail"] = appErr.Detail
	}

	body := map[string]any{
		"success": false,
		"error":   errBody,
	}

	if appErr.Kind == apperr.KindRateLimited {
		retryAfter := int(appErr.RetryAfter.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		body["retry_after"] = retryAfter
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
	}

	writeJSON(w, appErr.Status(), body)
}

// audit emits one structured record per terminal dispatch outcome, and
// persists it when a database is configured. Persistence runs off the
// request path so a slow insert never delays the response.
func (h *Handler) audit(r *http.Request, tool string, startTime time.Time, appErr *apperr.Error) {
	record, _ := auth.RecordFromContext(r.Context())
	latency := time.Since(startTime)

	rec := &models.AuditRecord{
		ID:        uuid.NewString(),
		Tool:      tool,
		ClientIP:  clientIP(r),
		Success:   appErr == nil,
		LatencyMs: int(latency.Milliseconds()),
		CreatedAt: time.Now().UTC(),
	}
	if record != nil {
		rec.UserID = record.UserID
		rec.KeyID = record.KeyID
	}
	if appErr != nil {
		rec.ErrorKind = string(appErr.Kind)
	}

	h.logger.Info("tool dispatch",
		"tool", rec.Tool,
		"user_id", rec.UserID,
		"key_id", rec.KeyID,
		"success", rec.Success,
		"error_kind", rec.ErrorKind,
		"latency_ms", rec.LatencyMs)

	if h.db != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.db.InsertAudit(ctx, rec); err != nil {
				h.logger.Warn("audit insert failed", "error", err)
			}
		}()
	}
}

func asProxyError(err error, target **proxy.Error) bool {
	return errors.As(err, target)
}
