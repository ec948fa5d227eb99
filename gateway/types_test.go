package gateway_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/protojour/pymoriam/errors"
	"github.com/protojour/pymoriam/gateway"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		config      gateway.Config
		expectError bool
	}{
		{name: "defaults", config: gateway.DefaultConfig()},
		{name: "zero value gets defaults", config: gateway.Config{}},
		{name: "negative size", config: gateway.Config{MaxRequestSize: -1}, expectError: true},
		{name: "oversized limit", config: gateway.Config{MaxRequestSize: 200 * 1024 * 1024}, expectError: true},
		{name: "negative timeout", config: gateway.Config{RequestTimeout: -time.Second}, expectError: true},
		{name: "cors without origins", config: gateway.Config{EnableCORS: true}, expectError: true},
		{name: "cors with origins", config: gateway.Config{EnableCORS: true, CORSOrigins: []string{"*"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectError {
				require.Error(t, err)
				assert.True(t, pkgerrors.IsInvalid(err))
				return
			}
			require.NoError(t, err)
			assert.Positive(t, tt.config.MaxRequestSize)
			assert.Positive(t, tt.config.RequestTimeout)
		})
	}
}

func TestRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(gateway.RequestIDHeader, "given")
	assert.Equal(t, "given", gateway.RequestID(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	first, second := gateway.RequestID(req), gateway.RequestID(req)
	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}

func TestApplyCORS(t *testing.T) {
	cfg := gateway.Config{EnableCORS: true, CORSOrigins: []string{"https://app.example.com"}}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	cfg.ApplyCORS(rec, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	cfg.ApplyCORS(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{
			name:   "schema error",
			err:    pkgerrors.Schemaf("Invalid sort statement"),
			status: http.StatusBadRequest,
			body:   `{"error": "Invalid sort statement", "status": 400}`,
		},
		{
			name:   "hook body passes through",
			err:    &pkgerrors.HookRejected{Status: http.StatusUnprocessableEntity, Body: `{"reason": "duplicate"}`},
			status: http.StatusUnprocessableEntity,
			body:   `{"reason": "duplicate"}`,
		},
		{
			name:   "hook transport failure",
			err:    &pkgerrors.HookRejected{Listener: "http://hook/x", Err: pkgerrors.New("refused")},
			status: http.StatusInternalServerError,
			body:   `{"error": "error while requesting http://hook/x: refused", "status": 500}`,
		},
		{
			name:   "backend error keeps its message",
			err:    &pkgerrors.BackendError{Method: "POST", URL: "/_api/cursor", Status: 409, Num: 1210, Message: "unique constraint violated"},
			status: http.StatusConflict,
			body:   `{"error": "error on POST /_api/cursor: [1210] unique constraint violated", "status": 409}`,
		},
		{
			name:   "internal errors are not described",
			err:    pkgerrors.WrapFatal(pkgerrors.New("nil map"), "Engine", "Create", "insert"),
			status: http.StatusInternalServerError,
			body:   `{"error": "Internal Server Error", "status": 500}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			gateway.WriteError(rec, tt.err)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.JSONEq(t, tt.body, rec.Body.String())
			assert.True(t, json.Valid(rec.Body.Bytes()))
		})
	}
}
