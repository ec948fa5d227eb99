package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protojour/pymoriam/arango"
	"github.com/protojour/pymoriam/domain"
	"github.com/protojour/pymoriam/gateway"
	"github.com/protojour/pymoriam/hooks"
	"github.com/protojour/pymoriam/pkg/timestamp"
	"github.com/protojour/pymoriam/schema"
	"github.com/protojour/pymoriam/tasks"
	"github.com/protojour/pymoriam/testutil"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestGateway(t *testing.T, cfg domain.Config, opts ...domain.Option) (*Gateway, *testutil.MockStore) {
	t.Helper()
	store := testutil.NewMockStore()
	runner := &tasks.Inline{}
	schemas := schema.NewRegistry(schema.NewCatalog("gen-1", testutil.DBSchema(t), testutil.Model(t)))
	dispatcher := hooks.NewDispatcher(hooks.NewRegistry(nil), runner, hooks.WithTimeout(5*time.Second))
	opts = append([]domain.Option{domain.WithClock(timestamp.Fixed(now))}, opts...)
	engine := domain.New(store, schemas, dispatcher, nil, runner, cfg, opts...)

	g, err := NewGateway(engine, gateway.DefaultConfig())
	require.NoError(t, err)
	return g, store
}

func serve(g *Gateway, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestNewGatewayRequiresEngine(t *testing.T) {
	_, err := NewGateway(nil, gateway.DefaultConfig())
	assert.Error(t, err)
}

func TestListRoute(t *testing.T) {
	g, store := newTestGateway(t, domain.Config{})
	store.EnqueueCursor(&arango.Cursor{Count: 2, Total: 7, Result: testutil.Datasets[:2]})

	rec := serve(g, http.MethodGet, "/memoriam/api/dataset?sort=name&limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var page struct {
		Skip    int              `json:"skip"`
		Limit   int              `json:"limit"`
		Total   int              `json:"results_total"`
		Results []map[string]any `json:"results"`
	}
	decode(t, rec, &page)
	assert.Equal(t, 2, page.Limit)
	assert.Equal(t, 7, page.Total)
	require.Len(t, page.Results, 2)
	assert.Equal(t, "a", page.Results[0]["name"])
	assert.NotEmpty(t, rec.Header().Get(gateway.RequestIDHeader))

	queries := store.Queries()
	require.Len(t, queries, 1)
	assert.Contains(t, queries[0].Query, "SORT")
}

func TestErrorEnvelope(t *testing.T) {
	g, store := newTestGateway(t, domain.Config{})

	tests := []struct {
		name    string
		method  string
		target  string
		body    string
		status  int
		message string
	}{
		{"unknown class", http.MethodGet, "/memoriam/api/nothing", "", http.StatusNotFound, "nothing does not exist"},
		{"unknown domain", http.MethodGet, "/elsewhere/api/dataset", "", http.StatusNotFound, "Domain elsewhere does not exist"},
		{"operation not permitted", http.MethodDelete, "/memoriam/api/read_only_thing/1", "", http.StatusMethodNotAllowed, ""},
		{"invalid filter", http.MethodGet, "/memoriam/api/dataset?filter=nope%20%3D%3D%201", "", http.StatusBadRequest, ""},
		{"invalid body", http.MethodPost, "/memoriam/api/dataset", "{", http.StatusBadRequest, ""},
		{"array for object", http.MethodPost, "/memoriam/api/dataset", "[]", http.StatusBadRequest, ""},
		{"missing object", http.MethodGet, "/memoriam/api/dataset/9", "", http.StatusNotFound, "dataset 9 does not exist"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(g, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var envelope struct {
				Error  string `json:"error"`
				Status int    `json:"status"`
			}
			decode(t, rec, &envelope)
			assert.Equal(t, tt.status, envelope.Status)
			if tt.message != "" {
				assert.Equal(t, tt.message, envelope.Error)
			}
		})
	}
	assert.Empty(t, store.Writes())
}

func TestCreateRoute(t *testing.T) {
	g, store := newTestGateway(t, domain.Config{})
	store.Enqueue([]map[string]any{{"new": map[string]any{
		"_key": "k1", "_id": "dataset/k1", "_class": "dataset", "name": "fresh",
	}}})

	req := httptest.NewRequest(http.MethodPost, "/memoriam/api/dataset", strings.NewReader(`{"name": "fresh"}`))
	req.Header.Set(domain.EntityHeader, "user-1")
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out map[string]any
	decode(t, rec, &out)
	assert.Equal(t, "k1", out["_key"])
	assert.Equal(t, "fresh", out["name"])

	inserts := store.QueriesMatching("INSERT")
	require.Len(t, inserts, 1)
	data := inserts[0].BindVars["data"].(map[string]any)
	assert.Equal(t, "user-1", data["creator"])
	assert.Equal(t, timestamp.Format(now), data["created"])
}

func TestDeleteRoutes(t *testing.T) {
	g, store := newTestGateway(t, domain.Config{})
	store.Enqueue([]map[string]any{{"old": map[string]any{"_key": "1", "_id": "dataset/1"}}})

	rec := serve(g, http.MethodDelete, "/memoriam/api/dataset/1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.Bytes())

	g, _ = newTestGateway(t, domain.Config{NoDelete: true})
	rec = serve(g, http.MethodDelete, "/memoriam/api/dataset/1", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestBulkRouteIsNotAKey(t *testing.T) {
	g, store := newTestGateway(t, domain.Config{})

	rec := serve(g, http.MethodPost, "/memoriam/api/dataset/_bulk?sync=false", `[{"name": "a"}, {"name": "b"}]`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out []map[string]any
	decode(t, rec, &out)
	assert.Len(t, out, 2)

	writes := store.WritesTo("dataset")
	require.Len(t, writes, 1)
	assert.Equal(t, "create", writes[0].Op)
	assert.False(t, writes[0].Opts.Sync)
}

func TestSystemRoutesAreSeparate(t *testing.T) {
	g, store := newTestGateway(t, domain.Config{})
	store.Enqueue([]map[string]any{{"_key": "memoriam", "label": "memoriam", "_resources": map[string]any{}}})

	rec := serve(g, http.MethodGet, "/system/api/domain", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var domains []map[string]any
	decode(t, rec, &domains)
	assert.Equal(t, []map[string]any{{"_key": "memoriam", "label": "memoriam"}}, domains)

	rec = serve(g, http.MethodPost, "/system/api/domain/_validate", `{"label": "docs"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(g, http.MethodGet, "/system/api/nothing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServiceRoutes(t *testing.T) {
	g, _ := newTestGateway(t, domain.Config{})

	rec := serve(g, http.MethodPost, "/system/api/service", `{"name": "Indexer", "info": "indexes"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = serve(g, http.MethodGet, "/system/api/service", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]map[string]any
	decode(t, rec, &status)
	assert.Contains(t, status, "indexer")

	rec = serve(g, http.MethodDelete, "/system/api/service/indexer", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(g, http.MethodDelete, "/system/api/service/indexer", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(g, http.MethodPost, "/system/api/service", `{"name": "incomplete"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestBodyLimit(t *testing.T) {
	store := testutil.NewMockStore()
	runner := &tasks.Inline{}
	schemas := schema.NewRegistry(schema.NewCatalog("gen-1", testutil.DBSchema(t), testutil.Model(t)))
	engine := domain.New(store, schemas, hooks.NewDispatcher(hooks.NewRegistry(nil), runner), nil, runner, domain.Config{})

	cfg := gateway.DefaultConfig()
	cfg.MaxRequestSize = 16
	g, err := NewGateway(engine, cfg)
	require.NoError(t, err)

	rec := serve(g, http.MethodPost, "/memoriam/api/dataset", `{"name": "far too long for the limit"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, store.Queries())
}

func TestCORSPreflight(t *testing.T) {
	store := testutil.NewMockStore()
	runner := &tasks.Inline{}
	schemas := schema.NewRegistry(schema.NewCatalog("gen-1", testutil.DBSchema(t)))
	engine := domain.New(store, schemas, hooks.NewDispatcher(hooks.NewRegistry(nil), runner), nil, runner, domain.Config{})

	cfg := gateway.DefaultConfig()
	cfg.EnableCORS = true
	cfg.CORSOrigins = []string{"https://app.example.com"}
	g, err := NewGateway(engine, cfg)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodOptions, "/memoriam/api/dataset", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMountAndHandle(t *testing.T) {
	g, _ := newTestGateway(t, domain.Config{})
	g.Handle("GET /health", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		gateway.WriteJSON(w, http.StatusOK, "Ok")
	}))
	g.Mount(domainEcho{})

	rec := serve(g, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(g, http.MethodGet, "/memoriam/graphql", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `"memoriam"`, rec.Body.String())

	stats := g.Stats()
	assert.Equal(t, uint64(2), stats.RequestsTotal)
}

// domainEcho stands in for a mounted surface and answers with the domain.
type domainEcho struct{}

func (domainEcho) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	mux.HandleFunc("GET "+prefix+"/{domain}/graphql", func(w http.ResponseWriter, r *http.Request) {
		gateway.WriteJSON(w, http.StatusOK, r.PathValue("domain"))
	})
}
