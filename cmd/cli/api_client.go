// Package cli provides CLI helpers for making API calls.
// This file implements the HTTP client used by commands that talk to a
// running scancache daemon.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	apihandlers "github.com/anstrom/scancache/internal/api/handlers"
)

const (
	apiBasePath       = "/api/v1"
	apiRequestTimeout = 30 * time.Second
)

// APIClient provides authenticated HTTP client functionality for CLI commands
type APIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	userAgent  string
}

// APIError represents an API error response
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	RequestID  string
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("API error (status %d, request %s): %s", e.StatusCode, e.RequestID, e.Message)
	}
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// NewAPIClient creates a client for the daemon at serverURL. apiKey may be
// empty when the daemon runs without authentication.
func NewAPIClient(serverURL, apiKey string) *APIClient {
	return &APIClient{
		baseURL: strings.TrimSuffix(serverURL, "/") + apiBasePath,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: apiRequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		userAgent: "scancache-cli/" + version,
	}
}

// newAPIClientFromConfig resolves the daemon address from --server or
// SCANCACHE_SERVER, falling back to the API section of the config file.
func newAPIClientFromConfig() (*APIClient, error) {
	server := viper.GetString("server")
	if server == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		scheme := "http"
		if cfg.API.TLS.Enabled {
			scheme = "https"
		}
		server = fmt.Sprintf("%s://%s", scheme, cfg.GetAPIAddress())
	}
	return NewAPIClient(server, getAPIKeyFromSources()), nil
}

// getAPIKeyFromSources retrieves the API key from --api-key,
// SCANCACHE_API_KEY or the file named by SCANCACHE_API_KEY_FILE.
func getAPIKeyFromSources() string {
	if key := viper.GetString("api-key"); key != "" {
		return key
	}

	if keyFile := os.Getenv(envPrefix + "_API_KEY_FILE"); keyFile != "" && !strings.Contains(keyFile, "..") {
		// #nosec G304 - Intentional file reading for API key configuration
		if keyData, err := os.ReadFile(keyFile); err == nil {
			return strings.TrimSpace(string(keyData))
		}
	}
	return ""
}

// Get performs a GET request and decodes the response into out.
func (c *APIClient) Get(ctx context.Context, endpoint string, out any) error {
	return c.request(ctx, http.MethodGet, endpoint, nil, out)
}

// Post performs a POST request with JSON payload
func (c *APIClient) Post(ctx context.Context, endpoint string, payload, out any) error {
	return c.request(ctx, http.MethodPost, endpoint, payload, out)
}

// Delete performs a DELETE request
func (c *APIClient) Delete(ctx context.Context, endpoint string) error {
	return c.request(ctx, http.MethodDelete, endpoint, nil, nil)
}

// request performs the actual HTTP request with authentication
func (c *APIClient) request(ctx context.Context, method, endpoint string, payload, out any) error {
	var requestBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request payload: %w", err)
		}
		requestBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, requestBody)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errResp apihandlers.ErrorResponse
		if json.Unmarshal(bodyBytes, &errResp) == nil {
			apiErr.Message = errResp.Message
			apiErr.Code = errResp.Code
			apiErr.RequestID = errResp.RequestID
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(bodyBytes))
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil || len(bodyBytes) == 0 {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// describeAPIError turns err into a user-facing error for operation.
func describeAPIError(err error, operation string) error {
	apiErr, ok := err.(*APIError)
	if !ok {
		return fmt.Errorf("%s failed: %w", operation, err)
	}

	switch apiErr.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("authentication failed for %s: set SCANCACHE_API_KEY or --api-key", operation)
	case http.StatusForbidden:
		return fmt.Errorf("insufficient permissions for %s: the API key is read-only", operation)
	case http.StatusNotFound:
		return fmt.Errorf("%s failed: %s", operation, apiErr.Message)
	case http.StatusTooManyRequests:
		return fmt.Errorf("rate limit exceeded for %s, please wait a moment and try again", operation)
	default:
		return fmt.Errorf("%s failed: %w", operation, apiErr)
	}
}
