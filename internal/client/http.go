package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alfredjeanlab/leafbus/internal/server"
)

// HTTPClient implements EarthClient over the hub's HTTP/JSON API.
type HTTPClient struct {
	base  string
	token string
	hc    *http.Client
}

// NewHTTPClient targets baseURL, e.g. "http://localhost:8080". A non-empty
// token is sent as a bearer credential on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
		hc:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) Close() error { return nil }

func (c *HTTPClient) Connections(ctx context.Context) (*server.ConnectionsResponse, error) {
	return call[server.ConnectionsResponse](ctx, c, http.MethodGet, "/v1/connections")
}

func (c *HTTPClient) Health(ctx context.Context) (*HealthResponse, error) {
	return call[HealthResponse](ctx, c, http.MethodGet, "/v1/health")
}

// RebuildConfig asks the hub to rebuild and broadcast its config document
// and returns the new version.
func (c *HTTPClient) RebuildConfig(ctx context.Context) (string, error) {
	resp, err := call[struct {
		Version string `json:"version"`
	}](ctx, c, http.MethodPost, "/v1/config/rebuild")
	if err != nil {
		return "", err
	}
	return resp.Version, nil
}

// APIError is a non-2xx answer from the hub.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsUnauthorized reports whether err is the hub rejecting the admin token.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

func call[T any](ctx context.Context, c *HTTPClient, method, path string) (*T, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, readAPIError(resp)
	}
	out := new(T)
	if resp.StatusCode == http.StatusNoContent {
		return out, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", path, err)
	}
	return out, nil
}

// readAPIError prefers the server's {"error": ...} body and falls back to
// the raw text.
func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
