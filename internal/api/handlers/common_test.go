package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/scancache/internal/errors"
	"github.com/anstrom/scancache/internal/logging"
	"github.com/anstrom/scancache/internal/metrics"
)

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestNewBaseHandler(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		h := NewBaseHandler(nil, nil, 0)
		assert.NotNil(t, h.logger)
		assert.NotNil(t, h.metrics)
		assert.Equal(t, int64(DefaultMaxRequestSize), h.maxRequestSize)
	})

	t.Run("explicit", func(t *testing.T) {
		logger := createTestLogger()
		registry := metrics.NewRegistry()
		h := NewBaseHandler(logger, registry, 512)
		assert.Same(t, logger, h.logger)
		assert.Equal(t, metrics.MetricsRegistry(registry), h.metrics)
		assert.Equal(t, int64(512), h.maxRequestSize)
	})
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{errors.NewCacheError(errors.CodeValidation, "x"), http.StatusBadRequest},
		{errors.NewCacheError(errors.CodeInvalidObservation, "x"), http.StatusBadRequest},
		{errors.NewIEError(0, 0, "x"), http.StatusBadRequest},
		{errors.ErrInterfaceUnknown("wlan9"), http.StatusNotFound},
		{errors.NewDatabaseError(errors.CodeNotFound, "x"), http.StatusNotFound},
		{errors.ErrInterfaceExists("wlan0"), http.StatusConflict},
		{errors.NewCacheError(errors.CodeUnauthorized, "x"), http.StatusUnauthorized},
		{errors.NewCacheError(errors.CodeRateLimited, "x"), http.StatusTooManyRequests},
		{errors.NewDatabaseError(errors.CodeDatabaseTimeout, "x"), http.StatusGatewayTimeout},
		{errors.ErrOutOfMemory("wlan0"), http.StatusServiceUnavailable},
		{errors.NewDatabaseError(errors.CodeDatabaseConnection, "x"), http.StatusServiceUnavailable},
		{fmt.Errorf("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.status, statusForError(tt.err))
		})
	}
}

func TestParseJSON(t *testing.T) {
	h := NewBaseHandler(createTestLogger(), metrics.NewRegistry(), 64)

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "valid", body: `{"name":"wlan0"}`},
		{name: "empty body", body: "", wantErr: "request body is empty"},
		{name: "malformed", body: `{"name":`, wantErr: "invalid JSON"},
		{name: "unknown field", body: `{"name":"wlan0","extra":1}`, wantErr: "invalid JSON"},
		{name: "too large", body: `{"name":"` + strings.Repeat("a", 100) + `"}`, wantErr: "too large"},
		{name: "fails validation", body: `{"name":""}`, wantErr: "required"},
		{name: "name too long", body: `{"name":"abcdefghijklmnop"}`, wantErr: "max"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body *strings.Reader
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.body != "" {
				body = strings.NewReader(tt.body)
				req = httptest.NewRequest(http.MethodPost, "/", body)
			}
			rec := httptest.NewRecorder()

			var dest AddInterfaceRequest
			err := h.parseJSON(rec, req, &dest)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "wlan0", dest.Name)
				return
			}
			require.Error(t, err)
			assert.Equal(t, errors.CodeValidation, errors.GetCode(err))
			assert.Contains(t, errorMessage(err), tt.wantErr)
		})
	}
}

func TestGetQueryParamInt(t *testing.T) {
	tests := []struct {
		query   string
		want    int
		wantErr bool
	}{
		{"", 10, false},
		{"limit=5", 5, false},
		{"limit=0", 0, true},
		{"limit=101", 0, true},
		{"limit=abc", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
			got, err := getQueryParamInt(req, "limit", 10, 1, 100)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.CodeValidation, errors.GetCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractUUIDFromPath(t *testing.T) {
	id := uuid.New()

	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"id": id.String()})
	got, err := extractUUIDFromPath(req)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	req = mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"id": "nope"})
	_, err = extractUUIDFromPath(req)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))

	_, err = extractUUIDFromPath(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Error(t, err)
}

func TestWriteError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(logging.ContextWithRequestID(req.Context(), "req-1"))
	rec := httptest.NewRecorder()

	writeError(rec, req, http.StatusNotFound, errors.ErrInterfaceUnknown("wlan9"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp ErrorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "Not Found", resp.Error)
	assert.Equal(t, string(errors.CodeInterfaceUnknown), resp.Code)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.NotContains(t, resp.Message, "[")
}
