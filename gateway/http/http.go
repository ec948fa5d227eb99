// Package http serves the REST surface: the domain routes under
// /{domain}/api/ and the system routes under /system/api/.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/protojour/pymoriam/domain"
	"github.com/protojour/pymoriam/errors"
	"github.com/protojour/pymoriam/gateway"
	"github.com/protojour/pymoriam/metric"
)

const systemPrefix = "/system/api/"

// Gateway routes REST requests to the domain engine.
//
// System and domain routes live on separate muxes: a domain named "system"
// is reserved, and the two route sets would otherwise overlap.
type Gateway struct {
	engine  *domain.Engine
	config  gateway.Config
	logger  *slog.Logger
	metrics *metric.Metrics

	root    *http.ServeMux
	system  *http.ServeMux
	domains *http.ServeMux

	mu           sync.RWMutex
	startTime    time.Time
	lastActivity time.Time

	requestsTotal  atomic.Uint64
	requestsFailed atomic.Uint64
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// WithMetrics records request counts and durations.
func WithMetrics(m *metric.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// NewGateway creates the REST gateway for engine.
func NewGateway(engine *domain.Engine, config gateway.Config, opts ...Option) (*Gateway, error) {
	if engine == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Gateway", "NewGateway",
			"domain engine is required")
	}
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Gateway", "NewGateway", "config validation")
	}

	g := &Gateway{
		engine:    engine,
		config:    config,
		logger:    slog.Default(),
		root:      http.NewServeMux(),
		system:    http.NewServeMux(),
		domains:   http.NewServeMux(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "http-gateway")

	g.registerSystemRoutes()
	g.registerDomainRoutes()
	g.root.HandleFunc("/", g.dispatch)
	return g, nil
}

// Mount registers h on the domain mux, next to /{domain}/api/.
func (g *Gateway) Mount(h gateway.HTTPHandler) {
	h.RegisterHTTPHandlers("", g.domains)
}

// Handle registers a root level handler such as /health or /metrics.
func (g *Gateway) Handle(pattern string, h http.Handler) {
	g.root.Handle(pattern, h)
}

// RegisterHTTPHandlers mounts the whole gateway under prefix on mux.
func (g *Gateway) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		mux.Handle("/", g)
		return
	}
	mux.Handle(prefix+"/", http.StripPrefix(prefix, g))
}

// ServeHTTP applies request ids, CORS, the body size limit and the request
// timeout before routing.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := gateway.RequestID(r)
	w.Header().Set(gateway.RequestIDHeader, requestID)
	r.Header.Set(gateway.RequestIDHeader, requestID)

	g.requestsTotal.Add(1)
	g.mu.Lock()
	g.lastActivity = time.Now()
	g.mu.Unlock()

	g.config.ApplyCORS(w, r)
	if g.config.EnableCORS && r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, g.config.MaxRequestSize)
	}
	ctx, cancel := context.WithTimeout(r.Context(), g.config.RequestTimeout)
	defer cancel()

	g.root.ServeHTTP(w, r.WithContext(ctx))
}

func (g *Gateway) dispatch(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, systemPrefix) {
		g.system.ServeHTTP(w, r)
		return
	}
	g.domains.ServeHTTP(w, r)
}

// Stats reports the request counters since start.
type Stats struct {
	RequestsTotal  uint64    `json:"requests_total"`
	RequestsFailed uint64    `json:"requests_failed"`
	Uptime         string    `json:"uptime"`
	LastActivity   time.Time `json:"last_activity"`
}

// Stats returns the request counters.
func (g *Gateway) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Stats{
		RequestsTotal:  g.requestsTotal.Load(),
		RequestsFailed: g.requestsFailed.Load(),
		Uptime:         time.Since(g.startTime).Round(time.Second).String(),
		LastActivity:   g.lastActivity,
	}
}

// statusWriter remembers the status code written through it.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (s *statusWriter) WriteHeader(code int) {
	if s.code == 0 {
		s.code = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusWriter) Write(b []byte) (int, error) {
	if s.code == 0 {
		s.code = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

// handlerFunc is a route handler. A returned error is written as the
// error envelope.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// route registers fn on mux under pattern and records its outcome under the
// pattern name.
func (g *Gateway) route(mux *http.ServeMux, pattern string, fn handlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}

		if err := fn(sw, r); err != nil {
			g.fail(sw, r, err)
		}
		if sw.code == 0 {
			sw.WriteHeader(http.StatusNoContent)
		}

		g.metrics.RecordHTTPRequest(pattern, sw.code, time.Since(start))
		g.logger.Debug("request",
			"request_id", r.Header.Get(gateway.RequestIDHeader),
			"route", pattern,
			"path", r.URL.Path,
			"status", sw.code,
			"duration_ms", float64(time.Since(start).Microseconds())/1000)
	})
}

func (g *Gateway) fail(w http.ResponseWriter, r *http.Request, err error) {
	g.requestsFailed.Add(1)

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		gateway.WriteJSON(w, http.StatusRequestEntityTooLarge, map[string]any{
			"error":  "request body exceeds maximum size of " + strconv.FormatInt(tooLarge.Limit, 10) + " bytes",
			"status": http.StatusRequestEntityTooLarge,
		})
		return
	}

	code := errors.StatusCode(err)
	if code >= http.StatusInternalServerError {
		g.logger.Error("request failed",
			"request_id", r.Header.Get(gateway.RequestIDHeader),
			"path", r.URL.Path,
			"status", code,
			"error", err)
	}
	gateway.WriteError(w, err)
}

func caller(r *http.Request) domain.Caller {
	return domain.CallerFromHeader(r.Header)
}

// decodeObject reads a JSON object body.
func decodeObject(r *http.Request) (map[string]any, error) {
	var body map[string]any
	if err := decodeBody(r, &body); err != nil {
		return nil, err
	}
	if body == nil {
		return nil, errors.Schemaf("Request body must be a JSON object")
	}
	return body, nil
}

// decodeObjects reads a JSON array of objects.
func decodeObjects(r *http.Request) ([]map[string]any, error) {
	var body []map[string]any
	if err := decodeBody(r, &body); err != nil {
		return nil, err
	}
	if body == nil {
		return nil, errors.Schemaf("Request body must be a JSON array")
	}
	return body, nil
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.Schemaf("Missing request body")
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return errors.Schemaf("Invalid JSON body: %v", err)
	}
	return nil
}

// flag reads a boolean query argument. nil means absent. A present value
// that is not a boolean literal counts as true.
func flag(r *http.Request, name string) *bool {
	values, ok := r.URL.Query()[name]
	if !ok || len(values) == 0 {
		return nil
	}
	v, err := strconv.ParseBool(values[0])
	if err != nil {
		v = values[0] != ""
	}
	return &v
}

func isSet(r *http.Request, name string) bool {
	v := flag(r, name)
	return v != nil && *v
}
