package cli

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apihandlers "github.com/anstrom/scancache/internal/api/handlers"
)

func TestAPIClient_Get(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/interfaces", r.URL.Path)
		assert.Equal(t, "sc_testkey", r.Header.Get("X-API-Key"))
		assert.Contains(t, r.Header.Get("User-Agent"), "scancache-cli/")

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]apihandlers.InterfaceView{{Name: "wlan0", NumEntries: 3, MaxEntries: 64}})
	}))
	defer server.Close()

	client := NewAPIClient(server.URL+"/", "sc_testkey")
	var views []apihandlers.InterfaceView
	require.NoError(t, client.Get(context.Background(), "/interfaces", &views))
	require.Len(t, views, 1)
	assert.Equal(t, "wlan0", views[0].Name)
	assert.Equal(t, 3, views[0].NumEntries)
}

func TestAPIClient_PostAndDelete(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("X-API-Key"))
		switch r.Method {
		case http.MethodPost:
			data, err := io.ReadAll(r.Body)
			assert.NoError(t, err)
			if len(data) > 0 {
				assert.NoError(t, json.Unmarshal(data, &gotBody))
			}
			_ = json.NewEncoder(w).Encode(apihandlers.FlushResponse{Interface: "wlan0", Removed: 2})
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer server.Close()

	client := NewAPIClient(server.URL, "")
	var resp apihandlers.FlushResponse
	require.NoError(t, client.Post(context.Background(), "/interfaces/wlan0/flush", map[string]any{"limit": 1}, &resp))
	assert.Equal(t, 2, resp.Removed)
	assert.EqualValues(t, 1, gotBody["limit"])

	gotBody = nil
	require.NoError(t, client.Post(context.Background(), "/interfaces/wlan0/flush", nil, nil))
	assert.Nil(t, gotBody)

	require.NoError(t, client.Delete(context.Background(), "/interfaces/wlan1"))
}

func TestAPIClient_Errors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
		wantCode    string
		wantRequest string
	}{
		{
			name:        "structured",
			status:      http.StatusNotFound,
			body:        `{"error":"Not Found","message":"interface wlan9 not found","code":"INTERFACE_NOT_FOUND","request_id":"req-1"}`,
			wantMessage: "interface wlan9 not found",
			wantCode:    "INTERFACE_NOT_FOUND",
			wantRequest: "req-1",
		},
		{
			name:        "plain text",
			status:      http.StatusBadGateway,
			body:        "upstream down\n",
			wantMessage: "upstream down",
		},
		{
			name:        "empty",
			status:      http.StatusInternalServerError,
			wantMessage: http.StatusText(http.StatusInternalServerError),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			err := NewAPIClient(server.URL, "").Get(context.Background(), "/status", nil)
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr), "got %v", err)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.wantMessage, apiErr.Message)
			assert.Equal(t, tt.wantCode, apiErr.Code)
			assert.Equal(t, tt.wantRequest, apiErr.RequestID)
			if tt.wantRequest != "" {
				assert.Contains(t, apiErr.Error(), tt.wantRequest)
			}
		})
	}
}

func TestAPIClient_BadJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer server.Close()

	var out apihandlers.StatusResponse
	err := NewAPIClient(server.URL, "").Get(context.Background(), "/status", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode response")
}

func TestDescribeAPIError(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusUnauthorized, "authentication failed"},
		{http.StatusForbidden, "read-only"},
		{http.StatusNotFound, "no such thing"},
		{http.StatusTooManyRequests, "rate limit exceeded"},
		{http.StatusConflict, "status 409"},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := describeAPIError(&APIError{StatusCode: tt.status, Message: "no such thing"}, "lookup")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	err := describeAPIError(errors.New("connection refused"), "lookup")
	assert.EqualError(t, err, "lookup failed: connection refused")
}

func TestGetAPIKeyFromSources(t *testing.T) {
	t.Cleanup(func() { viper.Set("api-key", "") })

	viper.Set("api-key", "")
	t.Setenv(envPrefix+"_API_KEY_FILE", "")
	assert.Empty(t, getAPIKeyFromSources())

	keyFile := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(keyFile, []byte("sc_fromfile\n"), 0o600))
	t.Setenv(envPrefix+"_API_KEY_FILE", keyFile)
	assert.Equal(t, "sc_fromfile", getAPIKeyFromSources())

	viper.Set("api-key", "sc_fromflag")
	assert.Equal(t, "sc_fromflag", getAPIKeyFromSources())
}

func TestNewAPIClientFromConfig_Server(t *testing.T) {
	t.Cleanup(func() { viper.Set("server", "") })
	viper.Set("server", "http://10.0.0.5:9090")

	client, err := newAPIClientFromConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:9090/api/v1", client.baseURL)
}
