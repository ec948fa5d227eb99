package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/protojour/pymoriam/errors"
)

// RequestIDHeader carries the request id across the gateway, hook listeners
// and logs.
const RequestIDHeader = "X-Request-ID"

// Config holds configuration shared by the REST and GraphQL surfaces
type Config struct {
	// EnableCORS enables CORS headers (default: false, requires explicit cors_origins)
	EnableCORS bool `json:"enable_cors" yaml:"enable_cors"`

	// CORSOrigins lists allowed CORS origins (required when EnableCORS is true)
	// Use ["*"] for development only
	CORSOrigins []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`

	// MaxRequestSize limits request body size in bytes (default: 10MB)
	MaxRequestSize int64 `json:"max_request_size,omitempty" yaml:"max_request_size,omitempty"`

	// RequestTimeout bounds the handling of one request (default: 60s)
	RequestTimeout time.Duration `json:"request_timeout,omitempty" yaml:"request_timeout,omitempty"`
}

// Validate ensures the gateway configuration is valid and fills defaults
func (c *Config) Validate() error {
	if c.MaxRequestSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot be negative")
	}
	if c.MaxRequestSize == 0 {
		c.MaxRequestSize = 10 * 1024 * 1024
	}
	if c.MaxRequestSize > 100*1024*1024 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot exceed 100MB")
	}

	if c.RequestTimeout < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"request_timeout cannot be negative")
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 60 * time.Second
	}

	// CORS requires explicit origin configuration
	if c.EnableCORS && len(c.CORSOrigins) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"enable_cors requires explicit cors_origins configuration (use [\"*\"] for development only)")
	}
	return nil
}

// DefaultConfig returns default gateway configuration
func DefaultConfig() Config {
	return Config{
		EnableCORS:     false,
		CORSOrigins:    []string{},
		MaxRequestSize: 10 * 1024 * 1024,
		RequestTimeout: 60 * time.Second,
	}
}

// RequestID extracts the request id from the headers or generates a new one
func RequestID(r *http.Request) string {
	if id := r.Header.Get(RequestIDHeader); id != "" {
		return id
	}
	return uuid.NewString()
}

// ApplyCORS sets the CORS headers when the request origin is allowed.
func (c *Config) ApplyCORS(w http.ResponseWriter, r *http.Request) {
	if !c.EnableCORS {
		return
	}
	origin := r.Header.Get("Origin")

	allowed := false
	for _, allowedOrigin := range c.CORSOrigins {
		if allowedOrigin == "*" || allowedOrigin == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}

	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	} else {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, x-arango-trx-id")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// WriteJSON writes v with status code.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes err as {"error": message, "status": code}. A rejecting
// hook's own body is passed through unchanged when it is JSON.
func WriteError(w http.ResponseWriter, err error) {
	code := errors.StatusCode(err)

	var hookErr *errors.HookRejected
	if errors.As(err, &hookErr) && hookErr.Err == nil && json.Valid([]byte(hookErr.Body)) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write([]byte(hookErr.Body))
		return
	}

	WriteJSON(w, code, map[string]any{
		"error":  Message(err, code),
		"status": code,
	})
}

// Message is the client-facing text of err. Server errors are described
// only when a hook or the backend produced them.
func Message(err error, code int) string {
	if code < http.StatusInternalServerError {
		return err.Error()
	}
	var (
		hookErr    *errors.HookRejected
		backendErr *errors.BackendError
	)
	if errors.As(err, &hookErr) || errors.As(err, &backendErr) {
		return err.Error()
	}
	return http.StatusText(code)
}
