package graphql

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gqlgen "github.com/99designs/gqlgen/graphql"
	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/protojour/pymoriam/domain"
	"github.com/protojour/pymoriam/errors"
	"github.com/protojour/pymoriam/gateway"
	"github.com/protojour/pymoriam/metric"
	"github.com/protojour/pymoriam/pkg/cache"
)

const route = "/{domain}/graphql"

// Handler serves the read-only GraphQL endpoint of every domain. The
// schema of a domain is its catalog model: one {Type} and one {Type}List
// field per class, relations as nested results.
type Handler struct {
	engine  *domain.Engine
	config  Config
	logger  *slog.Logger
	metrics *metric.Metrics
	version string

	registry *metric.MetricsRegistry
	docs     *cache.LRU[*ast.QueryDocument]
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithMetrics records request counts and durations.
func WithMetrics(m *metric.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithCacheMetrics exports query cache counters through registry.
func WithCacheMetrics(registry *metric.MetricsRegistry) Option {
	return func(h *Handler) { h.registry = registry }
}

// WithVersion sets the value of the version root field.
func WithVersion(v string) Option {
	return func(h *Handler) { h.version = v }
}

// NewHandler creates the GraphQL handler for engine.
func NewHandler(engine *domain.Engine, config Config, opts ...Option) (*Handler, error) {
	if engine == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Handler", "NewHandler",
			"domain engine is required")
	}
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Handler", "NewHandler", "config validation")
	}

	h := &Handler{
		engine: engine,
		config: config,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "graphql")

	docs, err := cache.NewLRU(config.QueryCacheSize,
		cache.WithMetrics[*ast.QueryDocument](h.registry, "graphql_query_documents"))
	if err != nil {
		return nil, errors.WrapFatal(err, "Handler", "NewHandler", "query cache")
	}
	h.docs = docs
	return h, nil
}

// RegisterHTTPHandlers registers GET and POST {prefix}/{domain}/graphql.
func (h *Handler) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	prefix = strings.TrimSuffix(prefix, "/")
	mux.HandleFunc("GET "+prefix+route, h.serveGet)
	mux.HandleFunc("POST "+prefix+route, h.servePost)
}

// serveGet runs a query given as URL arguments, or serves GraphiQL.
func (h *Handler) serveGet(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	if !values.Has("query") {
		if !h.config.EnablePlayground {
			http.NotFound(w, r)
			return
		}
		playground.Handler("Memoriam "+r.PathValue("domain"), r.URL.Path).ServeHTTP(w, r)
		return
	}

	params := gqlgen.RawParams{
		Query:         values.Get("query"),
		OperationName: values.Get("operationName"),
	}
	if raw := values.Get("variables"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params.Variables); err != nil {
			h.write(w, r, time.Now(), http.StatusBadRequest, &gqlgen.Response{
				Errors: gqlerror.List{requestError(nil, "variables could not be decoded: %v", err)},
			})
			return
		}
	}
	h.serve(w, r, &params)
}

func (h *Handler) servePost(w http.ResponseWriter, r *http.Request) {
	var params gqlgen.RawParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		code := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			code = http.StatusRequestEntityTooLarge
		}
		h.write(w, r, time.Now(), code, &gqlgen.Response{
			Errors: gqlerror.List{requestError(nil, "json request body could not be decoded: %v", err)},
		})
		return
	}
	h.serve(w, r, &params)
}

// serve executes params. Parse and operation errors answer 400 without
// data; field errors keep the partial data and answer 200.
func (h *Handler) serve(w http.ResponseWriter, r *http.Request, params *gqlgen.RawParams) {
	start := time.Now()
	ctx := r.Context()

	model, err := h.engine.Model(ctx, r.PathValue("domain"))
	if err != nil {
		h.write(w, r, start, errors.StatusCode(err), &gqlgen.Response{Errors: gqlerror.List{mapError(err, nil, nil)}})
		return
	}

	doc, errs := h.document(params.Query)
	if errs != nil {
		h.write(w, r, start, http.StatusBadRequest, &gqlgen.Response{Errors: errs})
		return
	}
	op, errs := operation(doc, params.OperationName)
	if errs != nil {
		h.write(w, r, start, http.StatusBadRequest, &gqlgen.Response{Errors: errs})
		return
	}
	vars, errs := variables(op, params.Variables)
	if errs != nil {
		h.write(w, r, start, http.StatusBadRequest, &gqlgen.Response{Errors: errs})
		return
	}

	exec := &executor{
		engine:      h.engine,
		caller:      domain.CallerFromHeader(r.Header),
		model:       model,
		doc:         doc,
		vars:        vars,
		version:     h.version,
		maxDepth:    h.config.MaxQueryDepth,
		concurrency: h.config.Concurrency,
		types:       rootTypes(model),
	}
	data, errs := exec.execute(ctx, op)
	h.write(w, r, start, http.StatusOK, &gqlgen.Response{Data: data, Errors: errs})
}

// document returns the parsed query, from the cache when seen before.
func (h *Handler) document(query string) (*ast.QueryDocument, gqlerror.List) {
	if doc, ok := h.docs.Get(query); ok {
		return doc, nil
	}
	doc, errs := parseDocument(query)
	if errs != nil {
		return nil, errs
	}
	if _, err := h.docs.Set(query, doc); err != nil {
		h.logger.Debug("query cache set failed", "error", err)
	}
	return doc, nil
}

func (h *Handler) write(w http.ResponseWriter, r *http.Request, start time.Time, code int, resp *gqlgen.Response) {
	gateway.WriteJSON(w, code, resp)

	h.metrics.RecordHTTPRequest(r.Method+" "+route, code, time.Since(start))
	if len(resp.Errors) > 0 {
		h.logger.Debug("query returned errors",
			"request_id", r.Header.Get(gateway.RequestIDHeader),
			"domain", r.PathValue("domain"),
			"status", code,
			"errors", resp.Errors.Error())
	}
}
