//go:build integration

package arango_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protojour/pymoriam/arango"
	"github.com/protojour/pymoriam/audit"
	"github.com/protojour/pymoriam/domain"
	"github.com/protojour/pymoriam/errors"
	"github.com/protojour/pymoriam/hooks"
	"github.com/protojour/pymoriam/query"
	"github.com/protojour/pymoriam/schema"
	"github.com/protojour/pymoriam/tasks"
	"github.com/protojour/pymoriam/testutil"
)

func TestBootstrapIsIdempotent(t *testing.T) {
	ac := testutil.NewArangoContainer(t, "")
	ctx := context.Background()
	db := testutil.DBSchema(t).WithAuditLog()

	created, err := ac.Client.Bootstrap(ctx, db)
	require.NoError(t, err)
	assert.Subset(t, created, []string{"audit_log", "dataset", "domain", "entity", "includes", "relates"})

	created, err = ac.Client.Bootstrap(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, created)

	collections, err := ac.Client.Collections(ctx)
	require.NoError(t, err)
	types := map[string]int{}
	for _, c := range collections {
		types[c.Name] = c.Type
	}
	assert.Equal(t, 3, types["includes"], "edge collection")
	assert.Equal(t, 2, types["dataset"], "document collection")
}

func TestBulkWritesAndCursor(t *testing.T) {
	ac := testutil.NewArangoContainer(t, "")
	ctx := context.Background()
	_, err := ac.Client.Bootstrap(ctx, testutil.DBSchema(t))
	require.NoError(t, err)

	results, err := ac.Client.BulkCreate(ctx, "dataset", []map[string]any{
		{"_key": "1", "name": "a"},
		{"_key": "2", "name": "b"},
		{"_key": "1", "name": "duplicate"},
	}, arango.DefaultCreateOptions())
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.False(t, results[0].Error)
	assert.Equal(t, "a", results[0].New["name"])
	assert.True(t, results[2].Error, "conflicting key is reported per item")
	assert.NotZero(t, results[2].ErrorNum)

	results, err = ac.Client.BulkUpdate(ctx, "dataset", []map[string]any{{"_key": "2", "name": "bb"}}, arango.DefaultUpdateOptions())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].Old["name"])
	assert.Equal(t, "bb", results[0].New["name"])

	cursor, err := ac.Client.Query(ctx,
		"FOR d IN dataset SORT d.name LIMIT 0, 1 RETURN d",
		nil, arango.QueryOptions{FullCount: true, Kind: "list"})
	require.NoError(t, err)
	assert.Equal(t, 2, cursor.Total)
	require.Len(t, cursor.Result, 1)
	assert.Equal(t, "a", cursor.First()["name"])

	results, err = ac.Client.BulkDelete(ctx, "dataset", []any{"1"}, arango.DefaultDeleteOptions())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Old["name"])

	_, err = ac.Client.Query(ctx, "FOR d IN nowhere RETURN d", nil, arango.QueryOptions{})
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, errors.StatusCode(err))
}

func TestEngineAgainstStore(t *testing.T) {
	ac := testutil.NewArangoContainer(t, "")
	ctx := context.Background()
	db := testutil.DBSchema(t).WithAuditLog()
	_, err := ac.Client.Bootstrap(ctx, db)
	require.NoError(t, err)

	runner := &tasks.Inline{}
	schemas := schema.NewRegistry(schema.NewCatalog("gen-1", db, testutil.Model(t)))
	dispatcher := hooks.NewDispatcher(hooks.NewRegistry(nil), runner, hooks.WithTimeout(5*time.Second))
	recorder := audit.NewRecorder(ac.Client, runner, audit.Config{LogDB: true})
	engine := domain.New(ac.Client, schemas, dispatcher, recorder, runner, domain.Config{DefaultLimit: 100})
	caller := domain.Caller{EntityID: "user-1", Header: http.Header{}}

	keys := map[string]string{}
	for _, name := range []string{"a", "b", "c"} {
		out, err := engine.Create(ctx, caller, "memoriam", "dataset", map[string]any{"name": name})
		require.NoError(t, err)
		assert.Equal(t, "user-1", out["creator"])
		keys[name] = out["_key"].(string)
	}

	_, err = ac.Client.BulkCreate(ctx, "includes", []map[string]any{
		{"_from": "dataset/" + keys["a"], "_to": "dataset/" + keys["b"], "label": "first"},
	}, arango.DefaultCreateOptions())
	require.NoError(t, err)

	page, err := engine.List(ctx, caller, "memoriam", "dataset", query.Request{
		Filters:   []string{"name == 'a'"},
		Relations: []string{"objects"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	var listed []struct {
		Key     string `json:"_key"`
		Objects []struct {
			Name string `json:"name"`
			Edge struct {
				Label string `json:"label"`
			} `json:"_edge"`
		} `json:"objects"`
	}
	roundTrip(t, page.Results, &listed)
	require.Len(t, listed, 1)
	assert.Equal(t, keys["a"], listed[0].Key)
	require.Len(t, listed[0].Objects, 1)
	assert.Equal(t, "b", listed[0].Objects[0].Name)
	assert.Equal(t, "first", listed[0].Objects[0].Edge.Label)

	updated, err := engine.Update(ctx, caller, "memoriam", "dataset", keys["c"], map[string]any{"description": "third"}, false)
	require.NoError(t, err)
	assert.Equal(t, "third", updated["description"])

	changes, err := engine.AuditLog(ctx, caller, "dataset", keys["c"], false, query.Request{})
	require.NoError(t, err)
	assert.Equal(t, 2, changes.Total, "create and update are both recorded")

	require.NoError(t, engine.Delete(ctx, caller, "memoriam", "dataset", keys["c"]))
	_, err = engine.Get(ctx, caller, "memoriam", "dataset", keys["c"], query.Request{})
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, errors.StatusCode(err))
}

func roundTrip(t *testing.T, in, out any) {
	t.Helper()
	data, err := json.Marshal(in)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, out))
}
