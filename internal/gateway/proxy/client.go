// Package proxy performs outbound authenticated calls to the backend on
// behalf of tools. It attaches the service credential plus user/key context
// headers and translates transport failures into a small error type; it
// performs no authorization logic of its own.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fairwaylabs/mcp-gateway/internal/shared/models"
)

// Context headers the backend trusts for authorization scoping. The raw
// end-user credential is never forwarded.
const (
	HeaderUserID = "X-Gateway-User-ID"
	HeaderKeyID  = "X-Gateway-Key-ID"
)

// ErrorKind classifies a proxy failure.
type ErrorKind string

const (
	// KindNetwork covers timeouts and connection failures.
	KindNetwork ErrorKind = "network"
	// KindStatus covers HTTP error responses from the backend.
	KindStatus ErrorKind = "status"
)

// Error is returned for any failed backend call.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Body       string
	cause      error
}

func (e *Error) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend unreachable: %v", e.cause)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Client makes authenticated calls to the backend.
type Client struct {
	baseURL      string
	serviceToken string
	httpClient   *http.Client
}

// New creates a backend client with a fixed request timeout. No automatic
// retries: a failed attempt is surfaced as-is.
func New(baseURL, serviceToken string, timeout time.Duration) *Client {
	return &Client{
		baseURL:      baseURL,
		serviceToken: serviceToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Call issues one request to the backend and returns the raw JSON response
// body on success.
func (c *Client) Call(ctx context.Context, method, path string, body any, record *models.AuthRecord) (json.RawMessage, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.serviceToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.serviceToken)
	}
	httpReq.Header.Set(HeaderUserID, record.UserID)
	httpReq.Header.Set(HeaderKeyID, record.KeyID)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, cause: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, cause: err}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &Error{Kind: KindStatus, StatusCode: httpResp.StatusCode, Body: string(respBody)}
	}

	return json.RawMessage(respBody), nil
}

// Get is shorthand for a GET call.
func (c *Client) Get(ctx context.Context, path string, record *models.AuthRecord) (json.RawMessage, error) {
	return c.Call(ctx, http.MethodGet, path, nil, record)
}

// Ping probes backend reachability for the health endpoint.
func (c *Client) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return false
	}
	httpResp.Body.Close()
	return httpResp.StatusCode < 500
}
