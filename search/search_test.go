package search_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protojour/pymoriam/arango"
	"github.com/protojour/pymoriam/errors"
	"github.com/protojour/pymoriam/search"
	"github.com/protojour/pymoriam/testutil"
)

func TestParseConfig(t *testing.T) {
	cfg := testutil.Search(t)

	assert.True(t, cfg.Enabled())
	assert.Equal(t, "memoriam_text_search", cfg.ViewName)
	assert.Equal(t, []string{"dataset", "entity"}, cfg.Links())
	assert.Equal(t, []string{"dataset"}, cfg.Collections("dataset", false))
	assert.Equal(t, []string{"dataset", "entity"}, cfg.Collections("dataset", true))
	assert.True(t, cfg.Indexed("dataset"))
	assert.False(t, cfg.Indexed("entity"))
	require.Len(t, cfg.Analyzers, 1)
	assert.Equal(t, "text_en", cfg.Analyzers[0]["name"])
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"missing view", "view_props: {links: {}}\nindex_fields: {}\n", "view_name"},
		{"bad index fields", "view_name: v\nview_props: {links: {}}\nindex_fields: {dataset: name}\n", "dataset"},
		{"not yaml", "view_name: [", "Invalid search config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := search.ParseConfig([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDisabledConfig(t *testing.T) {
	cfg, err := search.LoadConfig("")
	require.NoError(t, err)
	assert.Nil(t, cfg)
	assert.False(t, cfg.Enabled())
	assert.False(t, cfg.Indexed("dataset"))
	assert.Empty(t, cfg.BuildIndex("dataset", map[string]any{"name": "a"}))
}

func TestBuildIndex(t *testing.T) {
	cfg := testutil.Search(t)

	index := cfg.BuildIndex("dataset", map[string]any{"name": "some data", "description": "more data"})
	assert.Equal(t, "some data more data", index)

	index = cfg.BuildIndex("dataset", map[string]any{"name": "only"})
	assert.Equal(t, "only ", index)

	assert.Empty(t, cfg.BuildIndex("entity", map[string]any{"name": "x"}))
}

func TestCleanString(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"text", "text"},
		{float64(3), "3"},
		{2.5, "2.5"},
		{true, "true"},
		{[]any{"a", nil, float64(1)}, "a  1"},
		{map[string]any{"b": "second", "a": "first"}, "first second"},
		{[]any{map[string]any{"x": []any{"deep"}}}, "deep"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, search.CleanString(tt.in))
	}
}

type fakeAdmin struct {
	analyzers []string
	views     map[string]map[string]any
	props     map[string]any

	createdAnalyzers []string
	createdViews     []string
	updatedViews     []string
}

func (f *fakeAdmin) Analyzers(context.Context) ([]string, error) { return f.analyzers, nil }

func (f *fakeAdmin) CreateAnalyzer(_ context.Context, def map[string]any) error {
	f.createdAnalyzers = append(f.createdAnalyzers, def["name"].(string))
	return nil
}

func (f *fakeAdmin) Views(context.Context) (map[string]map[string]any, error) { return f.views, nil }

func (f *fakeAdmin) ViewProperties(context.Context, string) (map[string]any, error) {
	return f.props, nil
}

func (f *fakeAdmin) CreateView(_ context.Context, name string, _ map[string]any) error {
	f.createdViews = append(f.createdViews, name)
	return nil
}

func (f *fakeAdmin) UpdateView(_ context.Context, name string, _ map[string]any) error {
	f.updatedViews = append(f.updatedViews, name)
	return nil
}

func TestEnsureAnalyzers(t *testing.T) {
	cfg := testutil.Search(t)
	ctx := context.Background()

	admin := &fakeAdmin{}
	require.NoError(t, cfg.EnsureAnalyzers(ctx, admin, nil))
	assert.Equal(t, []string{"text_en"}, admin.createdAnalyzers)

	admin = &fakeAdmin{analyzers: []string{"identity", "text_en"}}
	require.NoError(t, cfg.EnsureAnalyzers(ctx, admin, nil))
	assert.Empty(t, admin.createdAnalyzers)
}

func TestEnsureView(t *testing.T) {
	cfg := testutil.Search(t)
	ctx := context.Background()

	admin := &fakeAdmin{views: map[string]map[string]any{}}
	require.NoError(t, cfg.EnsureView(ctx, admin, nil))
	assert.Equal(t, []string{"memoriam_text_search"}, admin.createdViews)

	admin = &fakeAdmin{
		views: map[string]map[string]any{"memoriam_text_search": {"name": "memoriam_text_search"}},
		props: map[string]any{"links": map[string]any{"entity": map[string]any{}, "dataset": map[string]any{}}},
	}
	require.NoError(t, cfg.EnsureView(ctx, admin, nil))
	assert.Empty(t, admin.createdViews)
	assert.Empty(t, admin.updatedViews)

	admin.props = map[string]any{"links": map[string]any{"dataset": map[string]any{}}}
	require.NoError(t, cfg.EnsureView(ctx, admin, nil))
	assert.Equal(t, []string{"memoriam_text_search"}, admin.updatedViews)
}

func TestReindex(t *testing.T) {
	cfg := testutil.Search(t)
	store := testutil.NewMockStore().Enqueue([]map[string]any{
		{"_key": "1", "name": "a", "description": "first", "_index": "a first"},
		{"_key": "2", "name": "b", "description": "second", "_index": "stale"},
		{"_key": "3", "name": "c"},
	})

	updated, err := cfg.Reindex(context.Background(), store, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, updated)

	queries := store.Queries()
	require.Len(t, queries, 1)
	assert.Equal(t, "dataset", queries[0].BindVars["@collection"])

	writes := store.WritesTo("dataset")
	require.Len(t, writes, 1)
	assert.Equal(t, "update", writes[0].Op)
	assert.Equal(t, []map[string]any{
		{"_key": "2", "_index": "b second"},
		{"_key": "3", "_index": "c "},
	}, writes[0].Docs)
	assert.False(t, writes[0].Opts.ReturnNew)
}

var _ search.Admin = (*arango.Client)(nil)
