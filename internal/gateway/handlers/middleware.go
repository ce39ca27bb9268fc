package handlers

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/fairwaylabs/mcp-gateway/internal/gateway/auth"
	"github.com/fairwaylabs/mcp-gateway/internal/shared/apperr"
)

// CORSMiddleware handles CORS for the configured origin.
func (h *Handler) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", h.cfg.AllowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+auth.APIKeyHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RateLimitMiddleware sheds load before credential validation. Buckets are
// keyed by client network address because the user identity is unknown here.
func (h *Handler) RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		decision, err := h.limiter.Consume(r.Context(), clientIP(r))
		if err != nil {
			// Limiter backend trouble must not take the gateway down.
			h.logger.Warn("rate limiter unavailable", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", decision.Remaining))

		if !decision.Allowed {
			appErr := apperr.New(apperr.KindRateLimited).WithRetryAfter(decision.RetryAfter)
			h.audit(r, "", startTime, appErr)
			h.writeError(w, r, appErr)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ExtractMiddleware pulls the caller's credential out of the request before
// any points are consumed; a request with no credential at all is terminal
// here.
func (h *Handler) ExtractMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential, ok := auth.ExtractCredential(r)
		if !ok {
			appErr := apperr.New(apperr.KindUnauthenticated)
			h.audit(r, "", time.Now(), appErr)
			h.writeError(w, r, appErr)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithCredential(r.Context(), credential)))
	})
}

// ValidateMiddleware resolves the extracted credential to an AuthRecord. It
// runs after the rate limiter so bursts are shed before the validation cost.
func (h *Handler) ValidateMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		credential, ok := auth.CredentialFromContext(r.Context())
		if !ok {
			appErr := apperr.New(apperr.KindUnauthenticated)
			h.audit(r, "", startTime, appErr)
			h.writeError(w, r, appErr)
			return
		}

		record, err := h.validator.Validate(r.Context(), credential)
		if err != nil {
			var appErr *apperr.Error
			switch {
			case errors.Is(err, auth.ErrInvalidCredential):
				appErr = apperr.Wrap(apperr.KindUnauthenticated, err)
			case errors.Is(err, auth.ErrValidatorUnavailable):
				// 503 to the caller, but the log keeps the distinction from
				// a rejected credential.
				appErr = apperr.Wrap(apperr.KindUpstreamUnavailable, err)
			default:
				appErr = apperr.Wrap(apperr.KindServerError, err)
			}
			h.audit(r, "", startTime, appErr)
			h.writeError(w, r, appErr)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithRecord(r.Context(), record)))
	})
}

// clientIP returns the request's network address without the port. Real IPs
// behind a proxy are resolved by chi's RealIP middleware upstream of this.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
