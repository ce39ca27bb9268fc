package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fairwaylabs/mcp-gateway/internal/shared/models"
)

var (
	// ErrInvalidCredential means the identity endpoint definitively rejected
	// the credential. Never cached.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrValidatorUnavailable means the identity endpoint could not be
	// reached or gave an indeterminate answer. Never cached, no retry.
	ErrValidatorUnavailable = errors.New("identity service unavailable")
)

// validateResponse is the wire shape of the backend's key-validation endpoint.
type validateResponse struct {
	Valid  bool     `json:"valid"`
	Reason string   `json:"reason,omitempty"`
	KeyID  string   `json:"key_id,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
	User   struct {
		ID    string `json:"id"`
		Name  string `json:"name,omitempty"`
		Email string `json:"email,omitempty"`
	} `json:"user,omitempty"`
}

// Validator resolves credentials to AuthRecords, consulting the cache first
// and de-duplicating concurrent misses for the same credential.
type Validator struct {
	cache      *Cache
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
	flight     singleflight.Group
}

// NewValidator creates a validator that calls the key-validation endpoint at
// baseURL on cache misses.
func NewValidator(cache *Cache, baseURL string, timeout time.Duration, logger *slog.Logger) *Validator {
	return &Validator{
		cache:    cache,
		endpoint: baseURL + "/api/keys/validate",
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Validate returns the AuthRecord for the credential. On a cache miss exactly
// one upstream call is made per distinct credential, shared by all concurrent
// callers (single-flight).
func (v *Validator) Validate(ctx context.Context, credential string) (*models.AuthRecord, error) {
	if record, ok := v.cache.Get(credential); ok {
		return record, nil
	}

	result, err, _ := v.flight.Do(credential, func() (interface{}, error) {
		// Another caller may have populated the cache while we waited.
		if record, ok := v.cache.Get(credential); ok {
			return record, nil
		}

		record, err := v.callIdentityService(ctx, credential)
		if err != nil {
			return nil, err
		}

		v.cache.Put(credential, record)
		return record, nil
	})

	if err != nil {
		return nil, err
	}

	return result.(*models.AuthRecord), nil
}

// callIdentityService issues one validation call and maps the outcome to the
// invalid/unavailable split.
func (v *Validator) callIdentityService(ctx context.Context, credential string) (*models.AuthRecord, error) {
	reqBody, _ := json.Marshal(map[string]string{"api_key": credential})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidatorUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := v.httpClient.Do(httpReq)
	if err != nil {
		v.logger.Warn("identity service unreachable", "credential_prefix", CredentialPrefix(credential), "error", err)
		return nil, fmt.Errorf("%w: %v", ErrValidatorUnavailable, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrValidatorUnavailable, err)
	}

	// Identity endpoint answers 200 for both valid and invalid keys; any
	// other status is indeterminate.
	if httpResp.StatusCode != http.StatusOK {
		v.logger.Warn("identity service error",
			"status", httpResp.StatusCode,
			"credential_prefix", CredentialPrefix(credential))
		return nil, fmt.Errorf("%w: status %d", ErrValidatorUnavailable, httpResp.StatusCode)
	}

	var resp validateResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrValidatorUnavailable, err)
	}

	if !resp.Valid {
		v.logger.Info("credential rejected",
			"credential_prefix", CredentialPrefix(credential),
			"reason", resp.Reason)
		return nil, ErrInvalidCredential
	}

	return &models.AuthRecord{
		UserID:      resp.User.ID,
		UserName:    resp.User.Name,
		UserEmail:   resp.User.Email,
		KeyID:       resp.KeyID,
		Scopes:      resp.Scopes,
		ValidatedAt: time.Now(),
	}, nil
}

// CredentialPrefix returns the fixed-length diagnostic prefix of a
// credential. Full credentials are never logged.
func CredentialPrefix(credential string) string {
	const n = 8
	if len(credential) <= n {
		return credential
	}
	return credential[:n]
}
