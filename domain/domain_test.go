package domain_test

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protojour/pymoriam/arango"
	"github.com/protojour/pymoriam/audit"
	"github.com/protojour/pymoriam/domain"
	"github.com/protojour/pymoriam/errors"
	"github.com/protojour/pymoriam/hooks"
	"github.com/protojour/pymoriam/pkg/timestamp"
	"github.com/protojour/pymoriam/query"
	"github.com/protojour/pymoriam/schema"
	"github.com/protojour/pymoriam/search"
	"github.com/protojour/pymoriam/tasks"
	"github.com/protojour/pymoriam/testutil"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// fixture wires an engine to a mock store that answers mutation queries
// like the document store would, and to a hook listener.
type fixture struct {
	t        *testing.T
	store    *testutil.MockStore
	listener *testutil.Listener
	engine   *domain.Engine
	registry *hooks.Registry
	schemas  *schema.Registry

	mu      sync.Mutex
	reads   []*arango.Cursor
	answers map[string]func(q testutil.RecordedQuery) []map[string]any
	nextKey int
}

func newFixture(t *testing.T, cfg domain.Config, rpc map[string]hooks.ClassRPC, opts ...domain.Option) *fixture {
	t.Helper()
	return newFixtureWithRunner(t, &tasks.Inline{}, cfg, rpc, opts...)
}

// newFixtureWithRunner is newFixture with background work going to runner.
func newFixtureWithRunner(t *testing.T, runner tasks.Runner, cfg domain.Config, rpc map[string]hooks.ClassRPC, opts ...domain.Option) *fixture {
	t.Helper()
	f := &fixture{
		t:        t,
		store:    testutil.NewMockStore(),
		listener: testutil.NewListener(t),
		registry: hooks.NewRegistry(nil),
		answers:  map[string]func(q testutil.RecordedQuery) []map[string]any{},
	}
	f.store.QueryFunc = f.answer
	if rpc != nil {
		require.NoError(t, f.registry.Register(hooks.Service{Name: "listener", Info: "test", Host: f.listener.URL, RPC: rpc}))
	}

	f.schemas = schema.NewRegistry(schema.NewCatalog("gen-1", testutil.DBSchema(t), testutil.Model(t)))
	dispatcher := hooks.NewDispatcher(f.registry, runner, hooks.WithTimeout(5*time.Second))
	recorder := audit.NewRecorder(f.store, runner, audit.Config{LogDB: true}, audit.WithClock(timestamp.Fixed(now)))
	opts = append([]domain.Option{domain.WithClock(timestamp.Fixed(now)), domain.WithSearch(testutil.Search(t))}, opts...)
	f.engine = domain.New(f.store, f.schemas, dispatcher, recorder, runner, cfg, opts...)
	return f
}

// read queues the cursor answering the next read query.
func (f *fixture) read(results []map[string]any, total int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, &arango.Cursor{Count: len(results), Total: total, Result: results})
}

// on overrides the answer to queries of kind.
func (f *fixture) on(kind string, fn func(q testutil.RecordedQuery) []map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers[kind] = fn
}

func (f *fixture) answer(q testutil.RecordedQuery) (*arango.Cursor, error) {
	f.mu.Lock()
	fn := f.answers[q.Opts.Kind]
	f.mu.Unlock()
	if fn != nil {
		return cursorOf(fn(q)), nil
	}

	collection, _ := q.BindVars["@collection"].(string)
	data, _ := q.BindVars["data"].(map[string]any)
	switch q.Opts.Kind {
	case "insert":
		doc := copyMap(data)
		key, _ := doc["_key"].(string)
		if key == "" {
			f.mu.Lock()
			f.nextKey++
			key = fmt.Sprintf("k%d", f.nextKey)
			f.mu.Unlock()
			doc["_key"] = key
		}
		doc["_id"] = collection + "/" + key
		return cursorOf([]map[string]any{{"new": doc}}), nil
	case "update":
		key, _ := data["_key"].(string)
		old := map[string]any{"_id": collection + "/" + key, "_key": key, "name": "old", "_class": collection}
		doc := copyMap(old)
		for k, v := range data {
			doc[k] = v
		}
		return cursorOf([]map[string]any{{"new": doc, "old": old}}), nil
	case "remove":
		key, _ := q.BindVars["_key"].(string)
		return cursorOf([]map[string]any{{"old": map[string]any{"_id": collection + "/" + key, "_key": key, "name": "gone"}}}), nil
	case "update_edge", "remove_edge":
		edge := map[string]any{"_id": collection + "/e1", "_key": "e1", "_from": q.BindVars["_from"], "_to": q.BindVars["_to"]}
		updated := copyMap(edge)
		for k, v := range data {
			updated[k] = v
		}
		return cursorOf([]map[string]any{{"old": edge, "new": updated}}), nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reads) == 0 {
		return cursorOf(nil), nil
	}
	next := f.reads[0]
	f.reads = f.reads[1:]
	return next, nil
}

func cursorOf(results []map[string]any) *arango.Cursor {
	if results == nil {
		results = []map[string]any{}
	}
	return &arango.Cursor{Count: len(results), Total: len(results), Result: results}
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func queriesOfKind(store *testutil.MockStore, kind string) []testutil.RecordedQuery {
	var out []testutil.RecordedQuery
	for _, q := range store.Queries() {
		if q.Opts.Kind == kind {
			out = append(out, q)
		}
	}
	return out
}

func datasetRPC(ops map[string]hooks.Endpoint) map[string]hooks.ClassRPC {
	return map[string]hooks.ClassRPC{"Dataset": {Operations: ops}}
}

var user = domain.Caller{EntityID: "user-1"}

func TestCreateRunsTriggersHooksAndAudit(t *testing.T) {
	f := newFixture(t, domain.Config{}, datasetRPC(map[string]hooks.Endpoint{
		"create": {Pre: "/pre", Post: "/post"},
	}))
	f.listener.ReplyFunc("/pre", func(c testutil.ListenerCall) testutil.Reply {
		body := copyMap(c.Body)
		body["description"] = "from hook"
		return testutil.Reply{Body: body}
	})

	out, err := f.engine.Create(context.Background(), user, "memoriam", "dataset", map[string]any{
		"name":  "a",
		"_meta": map[string]any{"note": "first"},
	})
	require.NoError(t, err)

	stamp := timestamp.Format(now)
	assert.Equal(t, "k1", out["_key"])
	assert.Equal(t, "dataset", out["_class"])
	assert.Equal(t, "a", out["name"])
	assert.Equal(t, "from hook", out["description"])
	assert.Equal(t, stamp, out["created"])
	assert.Equal(t, stamp, out["updated"])
	assert.Equal(t, true, out["active"])
	assert.NotContains(t, out, "_meta")

	pre := f.listener.CallsTo("/pre")
	require.Len(t, pre, 1)
	assert.Equal(t, "user-1", pre[0].Body["creator"])
	assert.Equal(t, map[string]any{"note": "first"}, pre[0].Body["_meta"])

	inserts := queriesOfKind(f.store, "insert")
	require.Len(t, inserts, 1)
	stored := inserts[0].BindVars["data"].(map[string]any)
	assert.Equal(t, "a from hook", stored[search.IndexField])
	assert.NotContains(t, stored, "_meta")

	post := f.listener.CallsTo("/post")
	require.Len(t, post, 1)
	assert.Equal(t, map[string]any{}, post[0].Body["pre"])
	postDoc := post[0].Body["post"].(map[string]any)
	assert.Equal(t, "dataset/k1", postDoc["_id"])
	assert.Equal(t, map[string]any{"note": "first"}, postDoc["_meta"])

	records := f.store.WritesTo(audit.Collection)
	require.Len(t, records, 1)
	record := records[0].Docs[0]
	assert.Equal(t, "dataset/k1", record["changed_id"])
	assert.Equal(t, "user-1", record["creator"])
	assert.Equal(t, "first", record["note"])
}

func TestCreateRejectedByPreHookWritesNothing(t *testing.T) {
	f := newFixture(t, domain.Config{}, datasetRPC(map[string]hooks.Endpoint{
		"create": {Pre: "/pre", Post: "/post"},
	}))
	f.listener.Reply("/pre", testutil.Reply{Status: http.StatusInternalServerError, Body: "name is taken"})

	_, err := f.engine.Create(context.Background(), user, "memoriam", "dataset", map[string]any{"name": "a"})
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, errors.StatusCode(err))
	assert.Equal(t, "name is taken", err.Error())

	assert.Empty(t, queriesOfKind(f.store, "insert"))
	assert.Empty(t, f.store.Writes())
	assert.Empty(t, f.listener.CallsTo("/post"))
}

func TestCreateInTransactionSurfacesPostHookFailure(t *testing.T) {
	f := newFixture(t, domain.Config{}, datasetRPC(map[string]hooks.Endpoint{
		"create": {Pre: "/pre", Post: "/post"},
	}))
	f.listener.ReplyFunc("/pre", func(c testutil.ListenerCall) testutil.Reply {
		return testutil.Reply{Body: c.Body, Header: map[string]string{hooks.TrxHeader: "trx-2"}}
	})
	f.listener.Reply("/post", testutil.Reply{Status: http.StatusConflict, Body: "busy"})

	caller := user
	caller.TrxID = "trx-1"
	_, err := f.engine.Create(context.Background(), caller, "memoriam", "dataset", map[string]any{"name": "a"})
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, errors.StatusCode(err))

	assert.Equal(t, "trx-1", f.listener.CallsTo("/pre")[0].Header.Get(hooks.TrxHeader))
	inserts := queriesOfKind(f.store, "insert")
	require.Len(t, inserts, 1)
	assert.Equal(t, "trx-2", inserts[0].Opts.TrxID)
	assert.Equal(t, "trx-2", f.listener.CallsTo("/post")[0].Header.Get(hooks.TrxHeader))
	assert.Empty(t, f.store.WritesTo(audit.Collection), "no audit after a failed post hook")
}

func TestCreateThroughAlias(t *testing.T) {
	f := newFixture(t, domain.Config{}, nil)

	out, err := f.engine.Create(context.Background(), user, "memoriam", "admin", map[string]any{
		"name":     "root",
		"password": "hunter2",
	})
	require.NoError(t, err)
	assert.Equal(t, "root", out["name"])
	assert.NotContains(t, out, "password", "write-only fields are never returned")

	stored := queriesOfKind(f.store, "insert")[0].BindVars["data"].(map[string]any)
	assert.Equal(t, "person", stored["_class"])
	assert.Equal(t, "hunter2", stored["secret"])
	assert.Empty(t, f.store.WritesTo(audit.Collection), "person has no audit trigger")
}

func TestOperationNotPermitted(t *testing.T) {
	f := newFixture(t, domain.Config{}, nil)

	_, err := f.engine.Create(context.Background(), user, "memoriam", "read_only_thing", map[string]any{"name": "x"})
	require.Error(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, errors.StatusCode(err))

	_, err = f.engine.Create(context.Background(), user, "memoriam", "unknown", map[string]any{})
	assert.Equal(t, http.StatusNotFound, errors.StatusCode(err))

	_, err = f.engine.Create(context.Background(), user, "nowhere", "dataset", map[string]any{})
	assert.Equal(t, http.StatusNotFound, errors.StatusCode(err))
}

func TestUpdateStampsAndReindexes(t *testing.T) {
	f := newFixture(t, domain.Config{}, nil)

	out, err := f.engine.Update(context.Background(), user, "memoriam", "dataset", "1",
		map[string]any{"description": "new"}, false)
	require.NoError(t, err)
	assert.Equal(t, "new", out["description"])
	assert.Equal(t, timestamp.Format(now), out["updated"])

	updates := queriesOfKind(f.store, "update")
	require.Len(t, updates, 1)
	patch := updates[0].BindVars["data"].(map[string]any)
	assert.Equal(t, "1", patch["_key"])
	assert.Equal(t, timestamp.Format(now), patch["updated"])
	assert.NotContains(t, patch, "created")

	indexed := f.store.WritesTo("dataset")
	require.Len(t, indexed, 1)
	assert.Equal(t, []map[string]any{{"_key": "1", "_index": "old new"}}, indexed[0].Docs)

	records := f.store.WritesTo(audit.Collection)
	require.Len(t, records, 1)
	assert.Equal(t, "update", records[0].Docs[0]["operation"])
}

func TestUpdateWithQueuedAudit(t *testing.T) {
	queue := tasks.NewQueue(4, 100)
	require.NoError(t, queue.Start(context.Background()))
	f := newFixtureWithRunner(t, queue, domain.Config{}, nil)

	const updates = 50
	for i := range updates {
		out, err := f.engine.Update(context.Background(), user, "memoriam", "dataset", "1",
			map[string]any{"description": fmt.Sprintf("d%d", i)}, false)
		require.NoError(t, err)
		assert.NotContains(t, out, search.IndexField)
	}
	require.NoError(t, queue.Stop(5*time.Second))

	assert.Len(t, f.store.WritesTo(audit.Collection), updates)
	assert.Len(t, f.store.WritesTo("dataset"), updates, "one _index patch per update")
}

func TestUpdateMissingObject(t *testing.T) {
	f := newFixture(t, domain.Config{}, nil)
	f.on("update", func(testutil.RecordedQuery) []map[string]any { return nil })

	_, err := f.engine.Update(context.Background(), user, "memoriam", "dataset", "404", map[string]any{"name": "x"}, true)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, errors.StatusCode(err))
	assert.Equal(t, "dataset 404 does not exist", err.Error())
}

func TestDelete(t *testing.T) {
	f := newFixture(t, domain.Config{}, datasetRPC(map[string]hooks.Endpoint{
		"delete": {Pre: "/pre", Post: "/post"},
	}))

	require.NoError(t, f.engine.Delete(context.Background(), user, "memoriam", "dataset", "1"))

	pre := f.listener.CallsTo("/pre")
	require.Len(t, pre, 1)
	assert.Equal(t, "dataset/1", pre[0].Body["_id"])
	assert.Equal(t, "1", pre[0].Body["_key"])

	post := f.listener.CallsTo("/post")
	require.Len(t, post, 1)
	assert.Equal(t, map[string]any{"_id": "dataset/1", "_key": "1", "name": "gone"}, post[0].Body["pre"])

	records := f.store.WritesTo(audit.Collection)
	require.Len(t, records, 1)
	assert.Equal(t, "delete", records[0].Docs[0]["operation"])
}

func TestDeleteDisabled(t *testing.T) {
	f := newFixture(t, domain.Config{NoDelete: true}, nil)

	err := f.engine.Delete(context.Background(), user, "memoriam", "dataset", "1")
	require.Error(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, errors.StatusCode(err))
	assert.Equal(t, "Object deletions are disabled", err.Error())

	_, err = f.engine.DeleteBulk(context.Background(), user, "memoriam", "dataset", []any{"1"}, domain.BulkParams{})
	assert.Equal(t, http.StatusMethodNotAllowed, errors.StatusCode(err))
	assert.Empty(t, f.store.Queries())
	assert.Empty(t, f.store.Writes())
}

func TestCreateBulkKeepsErrorItemsInPlace(t *testing.T) {
	f := newFixture(t, domain.Config{}, nil)
	f.store.WriteFunc = func(w testutil.RecordedWrite) ([]arango.WriteResult, error) {
		if w.Collection != "dataset" {
			return nil, nil
		}
		return []arango.WriteResult{
			{ID: "dataset/1", Key: "1", New: map[string]any{"_key": "1", "_id": "dataset/1", "_class": "dataset", "name": "a"}},
			{Error: true, ErrorNum: 1210, ErrorMessage: "unique constraint violated"},
		}, nil
	}

	out, err := f.engine.CreateBulk(context.Background(), user, "memoriam", "dataset",
		[]map[string]any{{"name": "a"}, {"name": "a"}}, domain.BulkParams{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0]["name"])
	assert.Equal(t, true, out[1]["error"])
	assert.Equal(t, 1210, out[1]["errorNum"])

	writes := f.store.WritesTo("dataset")
	require.Len(t, writes, 1)
	assert.Equal(t, "conflict", writes[0].Opts.OverwriteMode)
	require.Len(t, writes[0].Docs, 2)
	assert.Equal(t, "dataset", writes[0].Docs[0]["_class"])
	assert.Equal(t, "user-1", writes[0].Docs[1]["creator"])

	assert.Len(t, f.store.WritesTo(audit.Collection), 1, "only the stored item is audited")
}

func TestUpdateBulk(t *testing.T) {
	f := newFixture(t, domain.Config{}, nil)

	_, err := f.engine.UpdateBulk(context.Background(), user, "memoriam", "dataset",
		[]map[string]any{{"_key": "1", "name": "x"}, {"name": "y"}}, domain.BulkParams{})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, errors.StatusCode(err))
	assert.Equal(t, "Missing _key in item 1", err.Error())
	assert.Empty(t, f.store.Writes())

	out, err := f.engine.UpdateBulk(context.Background(), user, "memoriam", "dataset",
		[]map[string]any{{"_key": "1", "name": "x"}, {"_key": "2", "name": "y"}}, domain.BulkParams{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "2", out[1]["_key"])

	writes := f.store.WritesTo("dataset")
	require.Len(t, writes, 2, "bulk update then _index update")
	assert.True(t, writes[0].Opts.ReturnOld)
	assert.False(t, writes[0].Opts.MergeObjects)
	assert.Equal(t, []map[string]any{{"_key": "1", "_index": "x "}, {"_key": "2", "_index": "y "}}, writes[1].Docs)

	records := f.store.WritesTo(audit.Collection)
	assert.Len(t, records, 2)
}

func TestDeleteBulk(t *testing.T) {
	f := newFixture(t, domain.Config{}, nil)

	_, err := f.engine.DeleteBulk(context.Background(), user, "memoriam", "dataset", []any{42}, domain.BulkParams{})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, errors.StatusCode(err))

	out, err := f.engine.DeleteBulk(context.Background(), user, "memoriam", "dataset",
		[]any{"1", map[string]any{"_key": "2"}}, domain.BulkParams{})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"_key": "1"}, {"_key": "2"}}, out)

	deletes := f.store.WritesTo("dataset")
	require.Len(t, deletes, 1)
	assert.Equal(t, "delete", deletes[0].Op)
	assert.True(t, deletes[0].Opts.ReturnOld)
}

func TestList(t *testing.T) {
	f := newFixture(t, domain.Config{}, datasetRPC(map[string]hooks.Endpoint{
		"access": {Pre: "/access"},
	}))
	f.read(testutil.Datasets, 10)
	f.listener.ReplyFunc("/access", func(c testutil.ListenerCall) testutil.Reply {
		return testutil.Reply{Body: []map[string]any{testutil.Datasets[0]}}
	})

	page, err := f.engine.List(context.Background(), user, "memoriam", "dataset", query.Request{Sorts: []string{"name"}})
	require.NoError(t, err)
	assert.Equal(t, 10, page.Total)
	assert.Equal(t, 0, page.Skip)
	assert.Equal(t, 100, page.Limit)
	assert.Equal(t, []map[string]any{{"_key": "1", "_class": "dataset", "name": "a", "active": true}}, page.Results)

	lists := queriesOfKind(f.store, "list")
	require.Len(t, lists, 1)
	assert.Contains(t, lists[0].Query, "SORT")
}

func TestGet(t *testing.T) {
	f := newFixture(t, domain.Config{}, nil)
	f.read([]map[string]any{testutil.Datasets[1]}, 1)

	obj, err := f.engine.Get(context.Background(), user, "memoriam", "dataset", "2", query.Request{})
	require.NoError(t, err)
	assert.Equal(t, "b", obj["name"])

	_, err = f.engine.Get(context.Background(), user, "memoriam", "dataset", "9", query.Request{})
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, errors.StatusCode(err))
	assert.Equal(t, "dataset 9 does not exist", err.Error())
}

func TestRelationListTranslatesPerClass(t *testing.T) {
	f := newFixture(t, domain.Config{}, nil)
	f.read([]map[string]any{
		{"_key": "2", "_class": "dataset", "name": "b", "_edge": map[string]any{"label": "first"}},
		{"_key": "p", "_class": "person", "name": "P", "extra": 1, "_edge": map[string]any{"label": "second"}},
	}, 2)

	page, err := f.engine.RelationList(context.Background(), user, "memoriam", "dataset", "1", "members", query.Request{})
	require.NoError(t, err)
	require.Len(t, page.Results, 2)
	assert.Equal(t, map[string]any{"_key": "2", "_class": "dataset", "name": "b", "_edge": map[string]any{"label": "first"}}, page.Results[0])
	assert.Equal(t, "person", page.Results[1]["kind"])
	assert.Equal(t, 1, page.Results[1]["extra"])

	_, err = f.engine.RelationList(context.Background(), user, "memoriam", "dataset", "1", "nothing", query.Request{})
	assert.Equal(t, http.StatusNotFound, errors.StatusCode(err))
}

func TestNeighbors(t *testing.T) {
	f := newFixture(t, domain.Config{}, nil)
	f.read([]map[string]any{
		{"node": map[string]any{"_id": "dataset/1", "_key": "1", "_class": "dataset", "name": "a"}},
		{
			"node": map[string]any{"_id": "dataset/2", "_key": "2", "_class": "dataset", "name": "b"},
			"edge": map[string]any{"_id": "includes/e1", "_from": "dataset/1", "_to": "dataset/2"},
		},
		{
			"node": map[string]any{"_id": "other/1", "_key": "1", "_class": "unknown"},
			"edge": map[string]any{"_id": "relates/r1", "_from": "other/1", "_to": "dataset/1"},
		},
	}, 3)

	n, err := f.engine.Neighbors(context.Background(), user, "memoriam", "dataset", "1")
	require.NoError(t, err)
	require.Len(t, n.Nodes, 2)
	assert.Equal(t, "dataset/2", n.Nodes[1]["_id"])
	require.Len(t, n.Edges, 1)
	assert.Equal(t, []string{"objects", "members"}, n.Edges[0]["_relations"])
	assert.Equal(t, []string{"parents"}, n.Edges[0]["_external_relations"])
}

func TestChanges(t *testing.T) {
	f := newFixture(t, domain.Config{}, nil)

	_, err := f.engine.Changes(context.Background(), user, "memoriam", "person", "p", false, query.Request{})
	require.Error(t, err)
	assert.Equal(t, "No audit trigger registered for this domain class", err.Error())

	f.read([]map[string]any{{
		"operation": "update",
		"pre":       map[string]any{"name": "a", "secret": "x"},
		"post":      map[string]any{"name": "b"},
	}}, 1)
	page, err := f.engine.Changes(context.Background(), user, "memoriam", "dataset", "1", false, query.Request{})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, map[string]any{"name": "a"}, page.Results[0]["pre"])
	assert.Equal(t, map[string]any{"name": "b"}, page.Results[0]["post"])

	changes := queriesOfKind(f.store, "changes")
	require.Len(t, changes, 1)
	assert.Contains(t, changes[0].Query, "audit_log")
}

func TestSearchRequiresConfig(t *testing.T) {
	f := newFixture(t, domain.Config{}, nil, domain.WithSearch(nil))

	_, err := f.engine.Search(context.Background(), user, "memoriam", query.Request{Search: []string{"a"}})
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, errors.StatusCode(err))
	assert.Equal(t, "Search is not configured", err.Error())
}

func TestAttachExisting(t *testing.T) {
	f := newFixture(t, domain.Config{}, map[string]hooks.ClassRPC{"Dataset": {
		Relations: map[string]map[string]hooks.Endpoint{"objects": {"create": {Pre: "/pre", Post: "/post"}}},
	}})

	edge, err := f.engine.Attach(context.Background(), user, "memoriam", "dataset", "1", "objects", map[string]any{
		"direction":   "outbound",
		"other_class": "Dataset",
		"other_key":   "2",
		"label":       "x",
	})
	require.NoError(t, err)
	assert.Equal(t, "dataset/1", edge["_from"])
	assert.Equal(t, "dataset/2", edge["_to"])

	inserts := queriesOfKind(f.store, "insert")
	require.Len(t, inserts, 1)
	assert.Equal(t, "includes", inserts[0].BindVars["@collection"])
	data := inserts[0].BindVars["data"].(map[string]any)
	assert.Equal(t, "x", data["label"])
	assert.EqualValues(t, 1, data["weight"])
	assert.Equal(t, "user-1", data["creator"])
	assert.NotContains(t, data, "direction")
	assert.NotContains(t, data, "other_key")

	assert.Len(t, f.listener.CallsTo("/pre"), 1)
	assert.Len(t, f.listener.CallsTo("/post"), 1)
	records := f.store.WritesTo(audit.Collection)
	require.Len(t, records, 1)
	assert.Equal(t, true, records[0].Docs[0]["edge"])
}

func TestAttachInbound(t *testing.T) {
	f := newFixture(t, domain.Config{}, nil)

	edge, err := f.engine.Attach(context.Background(), user, "memoriam", "dataset", "1", "parents", map[string]any{
		"direction":   "inbound",
		"other_class": "dataset",
		"other_key":   "9",
	})
	require.NoError(t, err)
	assert.Equal(t, "dataset/9", edge["_from"])
	assert.Equal(t, "dataset/1", edge["_to"])
}

func TestAttachCreatesNestedObject(t *testing.T) {
	f := newFixture(t, domain.Config{}, nil)

	out, err := f.engine.Attach(context.Background(), user, "memoriam", "dataset", "1", "objects", map[string]any{
		"_class": "Dataset",
		"name":   "child",
		"_edge":  map[string]any{"label": "nested"},
	})
	require.NoError(t, err)
	assert.Equal(t, "child", out["name"])
	edge := out["_edge"].(map[string]any)
	assert.Equal(t, "nested", edge["label"])
	assert.NotContains(t, edge, "_from")

	inserts := queriesOfKind(f.store, "insert")
	require.Len(t, inserts, 2)
	assert.Equal(t, "dataset", inserts[0].BindVars["@collection"])
	edgeData := inserts[1].BindVars["data"].(map[string]any)
	assert.Equal(t, "dataset/1", edgeData["_from"])
	assert.Equal(t, "dataset/k1", edgeData["_to"])
}

func TestPatchAndDetachRelation(t *testing.T) {
	f := newFixture(t, domain.Config{}, nil)

	err := f.engine.PatchRelation(context.Background(), user, "memoriam", "dataset", "1", "objects",
		map[string]any{"to_class": "dataset", "to_key": "2", "label": "renamed"}, false)
	require.NoError(t, err)
	patches := queriesOfKind(f.store, "update_edge")
	require.Len(t, patches, 1)
	assert.Equal(t, "dataset/1", patches[0].BindVars["_from"])
	assert.Equal(t, "dataset/2", patches[0].BindVars["_to"])
	assert.Equal(t, "renamed", patches[0].BindVars["data"].(map[string]any)["label"])

	require.NoError(t, f.engine.Detach(context.Background(), user, "memoriam", "dataset", "1", "objects",
		domain.Endpoints{ToClass: "dataset", ToKey: "2"}))
	assert.Len(t, queriesOfKind(f.store, "remove_edge"), 1)
	assert.Len(t, f.store.WritesTo(audit.Collection), 2)
}

func TestPatchRelationWithoutMatch(t *testing.T) {
	f := newFixture(t, domain.Config{}, nil)
	none := func(testutil.RecordedQuery) []map[string]any { return nil }
	f.on("update_edge", none)
	f.on("remove_edge", none)

	err := f.engine.PatchRelation(context.Background(), user, "memoriam", "dataset", "1", "objects",
		map[string]any{"to_key": "2"}, false)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, errors.StatusCode(err))
	assert.Equal(t, "No objects relation between dataset/1 and dataset/2", err.Error())

	err = f.engine.Detach(context.Background(), user, "memoriam", "dataset", "1", "objects", domain.Endpoints{ToKey: "3"})
	assert.Equal(t, http.StatusBadRequest, errors.StatusCode(err))
}

type denyAll struct{}

func (denyAll) Authorize(_ context.Context, _ domain.Caller, resource, op string) error {
	return &errors.PermissionDenied{Message: fmt.Sprintf("%s %s denied", op, resource)}
}

func TestAuthorizerGuardsOperations(t *testing.T) {
	f := newFixture(t, domain.Config{}, nil, domain.WithAuthorizer(denyAll{}))

	_, err := f.engine.List(context.Background(), user, "memoriam", "dataset", query.Request{})
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, errors.StatusCode(err))

	_, err = f.engine.AuditLog(context.Background(), user, "dataset", "1", false, query.Request{})
	assert.Equal(t, http.StatusForbidden, errors.StatusCode(err))
	assert.Empty(t, f.store.Queries())
}

func TestCallerFromHeader(t *testing.T) {
	h := http.Header{}
	h.Set(domain.EntityHeader, "user-7")
	h.Set(hooks.TrxHeader, "trx-3")

	c := domain.CallerFromHeader(h)
	assert.Equal(t, "user-7", c.EntityID)
	assert.Equal(t, "trx-3", c.TrxID)
}
