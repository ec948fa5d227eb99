package graphql

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
	gwhttp "github.com/protojour/pymoriam/gateway/http"
	"github.com/protojour/pymoriam/hooks"
	"github.com/protojour/pymoriam/schema"
	"github.com/protojour/pymoriam/tasks"
	"github.com/protojour/pymoriam/testutil"
)

func newTestEngine(t *testing.T) (*domain.Engine, *testutil.MockStore) {
	t.Helper()
	store := testutil.NewMockStore()
	runner := &tasks.Inline{}
	schemas := schema.NewRegistry(schema.NewCatalog("gen-1", testutil.DBSchema(t), testutil.Model(t)))
	dispatcher := hooks.NewDispatcher(hooks.NewRegistry(nil), runner, hooks.WithTimeout(5*time.Second))
	return domain.New(store, schemas, dispatcher, nil, runner, domain.Config{}), store
}

func newTestMux(t *testing.T, opts ...Option) (*http.ServeMux, *testutil.MockStore) {
	t.Helper()
	engine, store := newTestEngine(t)
	h, err := NewHandler(engine, DefaultConfig(), opts...)
	require.NoError(t, err)
	mux := http.NewServeMux()
	h.RegisterHTTPHandlers("", mux)
	return mux, store
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message    string         `json:"message"`
		Path       []any          `json:"path"`
		Extensions map[string]any `json:"extensions"`
	} `json:"errors"`
}

func post(t *testing.T, h http.Handler, target, q string, vars map[string]any) (int, response) {
	t.Helper()
	body, err := json.Marshal(map[string]any{"query": q, "variables": vars})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func dataset(key, name string) map[string]any {
	return map[string]any{"_key": key, "_id": "dataset/" + key, "_class": "dataset", "name": name, "active": true}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "valid default config", config: DefaultConfig()},
		{name: "zero value gets defaults", config: Config{}},
		{name: "negative depth", config: Config{MaxQueryDepth: -1}, wantErr: true},
		{name: "depth too large", config: Config{MaxQueryDepth: 51}, wantErr: true},
		{name: "negative concurrency", config: Config{Concurrency: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Positive(t, tt.config.MaxQueryDepth)
			assert.Positive(t, tt.config.Concurrency)
		})
	}
}

func TestNewHandlerRequiresEngine(t *testing.T) {
	_, err := NewHandler(nil, DefaultConfig())
	assert.Error(t, err)
}

func TestListQuery(t *testing.T) {
	mux, store := newTestMux(t)

	root := dataset("1", "a")
	child := dataset("2", "b")
	child["_edge"] = map[string]any{"label": "first"}
	root["objects"] = []any{child}
	store.EnqueueCursor(&arango.Cursor{Count: 1, Total: 7, Result: []map[string]any{root}})

	code, resp := post(t, mux, "/memoriam/graphql", `{
		DatasetList(filter: ["name == 'a'"], limit: 2) {
			results_total
			results {
				__typename
				_key
				name
				objects(sort: ["-name"], limit: 5) {
					results_total
					results { _key name _edge { label } }
				}
			}
		}
	}`, nil)
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, resp.Errors)

	assert.JSONEq(t, `{"DatasetList": {
		"results_total": 7,
		"results": [{
			"__typename": "Dataset",
			"_key": "1",
			"name": "a",
			"objects": {"results_total": 1, "results": [{"_key": "2", "name": "b", "_edge": {"label": "first"}}]}
		}]
	}}`, string(resp.Data))
	assert.True(t, strings.HasPrefix(string(resp.Data), `{"DatasetList":{"results_total":7,"results":[{"__typename":"Dataset","_key":"1","name":"a"`),
		"data follows selection order: %s", resp.Data)

	queries := store.Queries()
	require.Len(t, queries, 1)
	q := queries[0].Query
	assert.Contains(t, q, "LET object_objects = (")
	assert.Contains(t, q, "FILTER object.name ==")
	assert.Contains(t, q, "SORT sub_object.name DESC")
	assert.Contains(t, q, "LIMIT 0, 5")
	assert.Contains(t, q, "LIMIT 0, 2")
}

func TestGetQueryWithVariablesAndAliases(t *testing.T) {
	mux, store := newTestMux(t)
	store.QueryFunc = func(q testutil.RecordedQuery) (*arango.Cursor, error) {
		if q.BindVars["_key"] == "1" {
			return &arango.Cursor{Count: 1, Result: []map[string]any{dataset("1", "a")}}, nil
		}
		return &arango.Cursor{}, nil
	}

	code, resp := post(t, mux, "/memoriam/graphql", `query One($key: ID!) {
		thing: Dataset(_key: $key) { _key title: name }
		missing: Dataset(_key: "9") { _key }
	}`, map[string]any{"key": "1"})
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, resp.Errors)
	assert.JSONEq(t, `{"thing": {"_key": "1", "title": "a"}, "missing": null}`, string(resp.Data))
}

func TestFragmentsAndDirectives(t *testing.T) {
	mux, store := newTestMux(t)
	store.EnqueueCursor(&arango.Cursor{Count: 1, Total: 1, Result: []map[string]any{dataset("1", "a")}})

	code, resp := post(t, mux, "/memoriam/graphql", `query($withName: Boolean!) {
		DatasetList {
			results {
				...Keys
				... on Dataset { name @include(if: $withName) }
				... on Person { kind }
			}
		}
	}
	fragment Keys on Dataset { _key }`, map[string]any{"withName": false})
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, resp.Errors)
	assert.JSONEq(t, `{"DatasetList": {"results": [{"_key": "1"}]}}`, string(resp.Data))
}

func TestPermissiveClassAcceptsUndeclaredFields(t *testing.T) {
	mux, store := newTestMux(t)
	store.EnqueueCursor(&arango.Cursor{Count: 1, Total: 1, Result: []map[string]any{
		{"_key": "p", "_class": "person", "name": "Ann", "nickname": "annie"},
	}})

	code, resp := post(t, mux, "/memoriam/graphql", `{ PersonList { results { name kind nickname } } }`, nil)
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, resp.Errors)
	assert.JSONEq(t, `{"PersonList": {"results": [{"name": "Ann", "kind": "person", "nickname": "annie"}]}}`, string(resp.Data))
}

func TestQueryErrors(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		query   string
		vars    map[string]any
		status  int
		code    float64
		message string
		noData  bool
	}{
		{
			name:   "syntax error",
			target: "/memoriam/graphql",
			query:  `{ DatasetList {`,
			status: http.StatusBadRequest,
			code:   400,
			noData: true,
		},
		{
			name:    "mutations are not served",
			target:  "/memoriam/graphql",
			query:   `mutation { createDataset { _key } }`,
			status:  http.StatusBadRequest,
			code:    405,
			message: "Only queries are supported: domain objects are changed through the REST API",
			noData:  true,
		},
		{
			name:    "unknown root field",
			target:  "/memoriam/graphql",
			query:   `{ Nothing { _key } }`,
			status:  http.StatusOK,
			code:    400,
			message: `Cannot query field "Nothing" on type "Query".`,
		},
		{
			name:    "unknown object field",
			target:  "/memoriam/graphql",
			query:   `{ DatasetList { results { bogus } } }`,
			status:  http.StatusOK,
			code:    400,
			message: `Cannot query field "bogus" on type "Dataset".`,
		},
		{
			name:    "unknown argument",
			target:  "/memoriam/graphql",
			query:   `{ DatasetList(order: "x") { results_total } }`,
			status:  http.StatusOK,
			code:    400,
			message: `Unknown argument "order" on field "DatasetList".`,
		},
		{
			name:    "invalid filter",
			target:  "/memoriam/graphql",
			query:   `{ DatasetList(filter: ["nope"]) { results_total } }`,
			status:  http.StatusOK,
			code:    400,
			message: `Invalid filter statement "nope"`,
		},
		{
			name:    "missing variable",
			target:  "/memoriam/graphql",
			query:   `query($key: ID!) { Dataset(_key: $key) { _key } }`,
			status:  http.StatusBadRequest,
			code:    400,
			message: `Variable "$key" of required type "ID!" was not provided.`,
			noData:  true,
		},
		{
			name:    "unknown domain",
			target:  "/nowhere/graphql",
			query:   `{ version }`,
			status:  http.StatusNotFound,
			code:    404,
			message: "Domain nowhere does not exist",
			noData:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux, _ := newTestMux(t)
			code, resp := post(t, mux, tt.target, tt.query, tt.vars)
			assert.Equal(t, tt.status, code)
			require.NotEmpty(t, resp.Errors)
			assert.Equal(t, tt.code, resp.Errors[0].Extensions["code"])
			if tt.message != "" {
				assert.Equal(t, tt.message, resp.Errors[0].Message)
			}
			if tt.noData {
				assert.True(t, len(resp.Data) == 0 || string(resp.Data) == "null", string(resp.Data))
			}
		})
	}
}

func TestFieldErrorKeepsOtherFields(t *testing.T) {
	mux, _ := newTestMux(t, WithVersion("1.2.3"))

	code, resp := post(t, mux, "/memoriam/graphql", `{ version ReadOnlyThingList(limit: -1) { results_total } }`, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"version": "1.2.3", "ReadOnlyThingList": null}`, string(resp.Data))
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, []any{"ReadOnlyThingList"}, resp.Errors[0].Path)
}

func TestMaxDepth(t *testing.T) {
	engine, _ := newTestEngine(t)
	h, err := NewHandler(engine, Config{MaxQueryDepth: 1})
	require.NoError(t, err)
	mux := http.NewServeMux()
	h.RegisterHTTPHandlers("", mux)

	_, resp := post(t, mux, "/memoriam/graphql",
		`{ DatasetList { results { objects { results { _key } } } } }`, nil)
	require.NotEmpty(t, resp.Errors)
	assert.Equal(t, "Query exceeds the maximum depth of 1", resp.Errors[0].Message)
}

func TestGetServesPlaygroundOrQuery(t *testing.T) {
	mux, _ := newTestMux(t, WithVersion("1.2.3"))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/memoriam/graphql", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/memoriam/graphql?query=%7Bversion%7D", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data": {"version": "1.2.3"}}`, rec.Body.String())
}

func TestPlaygroundDisabled(t *testing.T) {
	engine, _ := newTestEngine(t)
	h, err := NewHandler(engine, Config{EnablePlayground: false})
	require.NoError(t, err)
	mux := http.NewServeMux()
	h.RegisterHTTPHandlers("", mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/memoriam/graphql", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMountedOnGateway(t *testing.T) {
	engine, store := newTestEngine(t)
	store.EnqueueCursor(&arango.Cursor{Count: 1, Total: 1, Result: []map[string]any{dataset("1", "a")}})

	gw, err := gwhttp.NewGateway(engine, gateway.DefaultConfig())
	require.NoError(t, err)
	h, err := NewHandler(engine, DefaultConfig())
	require.NoError(t, err)
	gw.Mount(h)

	code, resp := post(t, gw, "/memoriam/graphql", `{ DatasetList { results_total } }`, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"DatasetList": {"results_total": 1}}`, string(resp.Data))
}

func TestObjectKeepsInsertionOrder(t *testing.T) {
	o := newObject()
	o.set("b", 1)
	o.set("a", newObject())
	o.set("b", 2)

	raw, err := json.Marshal(o)
	require.NoError(t, err)
	assert.Equal(t, `{"b":2,"a":{}}`, string(raw))
}

func TestParsedDocumentsAreCached(t *testing.T) {
	engine, _ := newTestEngine(t)
	h, err := NewHandler(engine, Config{QueryCacheSize: 2})
	require.NoError(t, err)
	mux := http.NewServeMux()
	h.RegisterHTTPHandlers("", mux)

	q := `{ DatasetList { results_total } }`
	for i := 0; i < 3; i++ {
		code, resp := post(t, mux, "/memoriam/graphql", q, nil)
		require.Equal(t, http.StatusOK, code)
		assert.Empty(t, resp.Errors)
	}
	assert.Equal(t, 1, h.docs.Size())

	code, _ := post(t, mux, "/memoriam/graphql", `{ DatasetList {`, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, 1, h.docs.Size(), "parse failures are not cached")

	post(t, mux, "/memoriam/graphql", `{ version }`, nil)
	post(t, mux, "/memoriam/graphql", `{ __typename }`, nil)
	assert.Equal(t, 2, h.docs.Size())
}
