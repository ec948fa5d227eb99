package query_test

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protojour/pymoriam/errors"
	"github.com/protojour/pymoriam/query"
	"github.com/protojour/pymoriam/schema"
	"github.com/protojour/pymoriam/testutil"
)

func render(ops ...query.Op) string {
	return (&query.Statement{}).Add(ops...).String()
}

func class(t *testing.T, m *schema.Model, name string) *schema.Class {
	t.Helper()
	c, ok := m.Class(name)
	require.True(t, ok, name)
	return c
}

func TestScope(t *testing.T) {
	statements := []string{"a", "sub.c", "sub.sub2.e"}

	assert.Equal(t, []string{"a"}, query.Scope(statements, "", 0))
	assert.Equal(t, []string{"c"}, query.Scope(statements, "sub", 1))
	assert.Equal(t, []string{"e"}, query.Scope(statements, "sub2", 2))
	assert.Empty(t, query.Scope(statements, "other", 1))

	filters := []string{"name == 'a'", "objects.name == 'b c'", "objects.objects.name == 'c'"}
	assert.Equal(t, []string{"name == 'a'"}, query.Scope(filters, "", 0))
	assert.Equal(t, []string{"name == 'b c'"}, query.Scope(filters, "objects", 1))
	assert.Equal(t, []string{"name == 'c'"}, query.Scope(filters, "objects", 2))
}

func TestFromValues(t *testing.T) {
	v, err := url.ParseQuery("filter=name+%3D%3D+%27a%27&relation=objects&relation=objects.objects&limit=5")
	require.NoError(t, err)

	req := query.FromValues(v)
	assert.Equal(t, []string{"name == 'a'"}, req.Filters)
	assert.Equal(t, []string{"objects", "objects.objects"}, req.Relations)
	assert.Equal(t, []string{"5"}, req.Limit)
	assert.Empty(t, req.Sorts)
}

func TestFiltersBindTypedValues(t *testing.T) {
	ctx := query.NewContext()
	attrs := query.Attributes{"age": "age", "name": "full_name"}

	ops, err := query.Filters(ctx, "object", attrs, []string{"age >= 3", "name LIKE 'a%'"})
	require.NoError(t, err)

	assert.Equal(t,
		"FILTER object.age >= @object_age_comp_1\nFILTER object.full_name LIKE @object_full_name_comp_2",
		render(ops...))
	assert.Equal(t, map[string]any{
		"object_age_comp_1":       int64(3),
		"object_full_name_comp_2": "a%",
	}, ctx.BindVars)
}

func TestFiltersRejectWithoutBinding(t *testing.T) {
	attrs := query.Attributes{"name": "name"}

	tests := []struct {
		name      string
		statement string
		message   string
	}{
		{"unknown field", "nope == 1", `Invalid filter statement: Field "nope" is not part of domain object spec`},
		{"unknown operator", "name ~~ 1", `Invalid filter operator "~~"`},
		{"bad value", "name == a", `Invalid filter comparison value "a"`},
		{"trailing value", "name == 1 2", `Invalid filter comparison value "1 2"`},
		{"too short", "name ==", `Invalid filter statement "name =="`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := query.NewContext()
			_, err := query.Filters(ctx, "object", attrs, []string{"name == 'ok'", tt.statement})
			require.Error(t, err)
			assert.Equal(t, tt.message, err.Error())
			assert.True(t, errors.IsInvalid(err))
			assert.Equal(t, 400, errors.StatusCode(err))
			assert.Empty(t, ctx.BindVars)
		})
	}
}

func TestParseValue(t *testing.T) {
	v, err := query.ParseValue("3")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	v, err = query.ParseValue("2.5")
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)

	v, err = query.ParseValue(`[1, "a", {"n": 2}]`)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), "a", map[string]any{"n": int64(2)}}, v)

	_, err = query.ParseValue("3 4")
	assert.Error(t, err)
}

func TestSortOp(t *testing.T) {
	attrs := query.Attributes{"name": "name", "id": "_key"}

	op, err := query.SortOp("object", attrs, nil)
	require.NoError(t, err)
	assert.Nil(t, op)

	op, err = query.SortOp("object", attrs, []string{"-name"})
	require.NoError(t, err)
	assert.Equal(t, "SORT object.name DESC, object._key", render(op))

	op, err = query.SortOp("object", attrs, []string{"_key"})
	require.NoError(t, err)
	assert.Equal(t, "SORT object._key", render(op))

	op, err = query.SortOp("object", attrs, []string{"name", "-id"})
	require.NoError(t, err)
	assert.Equal(t, "SORT object.name, object._key DESC", render(op))

	_, err = query.SortOp("object", attrs, []string{"-nope"})
	require.Error(t, err)
	assert.Equal(t, 400, errors.StatusCode(err))
}

func TestListRender(t *testing.T) {
	m := testutil.Model(t)
	c := query.NewCompiler(m)

	compiled, err := c.List(class(t, m, "dataset"), query.Request{
		Filters: []string{"name == 'a'"},
		Sorts:   []string{"-name"},
		Fields:  []string{"name"},
	})
	require.NoError(t, err)

	expected := strings.Join([]string{
		"WITH dataset, entity, includes, relates",
		"FOR object IN dataset",
		`    FILTER object._class == "dataset"`,
		"    FILTER object.name == @object_name_comp_1",
		"    SORT object.name DESC, object._key",
		"    LIMIT 0, 100",
		"    RETURN {@object__class_key_2: object._class, @object_name_key_3: object.name}",
	}, "\n")
	assert.Equal(t, expected, compiled.Query())
	assert.Equal(t, map[string]any{
		"object_name_comp_1":  "a",
		"object__class_key_2": "_class",
		"object_name_key_3":   "name",
	}, compiled.BindVars)
	assert.Equal(t, []string{"name"}, compiled.Fields)
	assert.Equal(t, 100, compiled.Limit)
}

func TestListNestedRelation(t *testing.T) {
	m := testutil.Model(t)
	c := query.NewCompiler(m)

	compiled, err := c.List(class(t, m, "dataset"), query.Request{
		Relations: []string{"objects"},
		Fields:    []string{"name"},
		Sorts:     []string{"objects.name"},
	})
	require.NoError(t, err)

	expected := strings.Join([]string{
		"WITH dataset, entity, includes, relates",
		"FOR object IN dataset",
		`    FILTER object._class == "dataset"`,
		"    LET object_objects = (",
		"        FOR sub_object, sub_object_edge IN 1..1 OUTBOUND object includes",
		`            FILTER IS_SAME_COLLECTION("dataset", sub_object)`,
		"            SORT sub_object.name, sub_object._key",
		"            LIMIT 0, 100",
		`            RETURN DISTINCT MERGE(sub_object, {_edge: UNSET(sub_object_edge, "_id", "_key", "_rev", "_from", "_to")})`,
		"    )",
		"    LIMIT 0, 100",
		"    RETURN MERGE({@object__class_key_1: object._class, @object_name_key_2: object.name}, {objects: object_objects})",
	}, "\n")
	assert.Equal(t, expected, compiled.Query())
	assert.Equal(t, []string{"objects"}, compiled.Relations)
}

func TestListRecursiveRelationsUseDistinctAliases(t *testing.T) {
	m := testutil.Model(t)
	c := query.NewCompiler(m)

	compiled, err := c.List(class(t, m, "dataset"), query.Request{
		Relations: []string{"objects", "objects.objects"},
		Filters:   []string{"objects.objects.name == 'c'"},
		Limit:     []string{"objects.2"},
		Fields:    []string{"objects.objects.name", "objects.objects._edge"},
	})
	require.NoError(t, err)
	q := compiled.Query()

	assert.Contains(t, q, "LET object_objects = (")
	assert.Contains(t, q, "FOR sub_object, sub_object_edge IN 1..1 OUTBOUND object includes")
	assert.Contains(t, q, "LET sub_object_objects = (")
	assert.Contains(t, q, "FOR sub_sub_object, sub_sub_object_edge IN 1..1 OUTBOUND sub_object includes")
	assert.Contains(t, q, "FILTER sub_sub_object.name == @sub_sub_object_name_comp_1")
	assert.Contains(t, q, "LIMIT 0, 2")
	assert.Contains(t, q, "            LIMIT 0, 100\n", "unpaged levels still use the default limit")
	assert.Contains(t, q, "MERGE(sub_object, {_edge: UNSET(sub_object_edge")
	assert.Contains(t, q, "{objects: sub_object_objects}")
	assert.Contains(t, q, "RETURN DISTINCT MERGE({@sub_sub_object__class_key_2: sub_sub_object._class, @sub_sub_object_name_key_3: sub_sub_object.name}, {_edge: UNSET(sub_sub_object_edge")
	assert.Equal(t, 1, strings.Count(q, "LET object_objects"))
	assert.Equal(t, 1, strings.Count(q, "LET sub_object_objects"))
	assert.Equal(t, "c", compiled.BindVars["sub_sub_object_name_comp_1"])
}

func TestListRelationEdgeAndTypeFilters(t *testing.T) {
	m := testutil.Model(t)
	c := query.NewCompiler(m)

	compiled, err := c.List(class(t, m, "dataset"), query.Request{
		Relations:   []string{"members", "anything", "unknown"},
		EdgeFilters: []string{"members.label == 'x'"},
	})
	require.NoError(t, err)
	q := compiled.Query()

	assert.Equal(t, []string{"members", "anything"}, compiled.Relations)
	assert.Contains(t, q, "FOR sub_object, sub_object_edge IN 1..2 OUTBOUND object includes")
	assert.Contains(t, q, "FILTER sub_object_edge.label == @sub_object_edge_label_comp_1")
	assert.Contains(t, q, `FILTER IS_SAME_COLLECTION("entity", sub_object) OR IS_SAME_COLLECTION("dataset", sub_object)`)
	assert.Contains(t, q, "FOR sub_object, sub_object_edge IN 1..1 ANY object relates")
	assert.Equal(t, 1, strings.Count(q, "FILTER IS_SAME_COLLECTION"))
}

func TestParentFilters(t *testing.T) {
	m := testutil.Model(t)
	c := query.NewCompiler(m)
	dataset := class(t, m, "dataset")

	compiled, err := c.List(dataset, query.Request{
		Relations:     []string{"objects"},
		ParentFilters: []string{"objects"},
	})
	require.NoError(t, err)
	assert.Contains(t, compiled.Query(), "    )\n    FILTER LENGTH(object_objects)\n")

	_, err = c.List(dataset, query.Request{ParentFilters: []string{"objects"}})
	require.Error(t, err)
	assert.Equal(t, "Invalid parent_filter statement: objects is not given in `relations`", err.Error())
}

func TestListPaging(t *testing.T) {
	m := testutil.Model(t)
	dataset := class(t, m, "dataset")

	compiled, err := query.NewCompiler(m, query.WithDefaultLimit(20)).List(dataset, query.Request{})
	require.NoError(t, err)
	assert.Contains(t, compiled.Query(), "LIMIT 0, 20")

	compiled, err = query.NewCompiler(m).List(dataset, query.Request{Skip: []string{"5"}, Limit: []string{"10"}})
	require.NoError(t, err)
	assert.Contains(t, compiled.Query(), "LIMIT 5, 10")
	assert.Equal(t, 5, compiled.Skip)
	assert.Equal(t, 10, compiled.Limit)

	_, err = query.NewCompiler(m).List(dataset, query.Request{Limit: []string{"ten"}})
	require.Error(t, err)
	assert.Equal(t, 400, errors.StatusCode(err))

	_, err = query.NewCompiler(m).List(dataset, query.Request{Skip: []string{"-1"}})
	require.Error(t, err)
}

func TestListSearch(t *testing.T) {
	m := testutil.Model(t)
	dataset := class(t, m, "dataset")

	compiled, err := query.NewCompiler(m).List(dataset, query.Request{Search: []string{"example.com"}})
	require.NoError(t, err)
	assert.Contains(t, compiled.Query(),
		`FILTER LENGTH(INTERSECTION(TOKENS(object._index, "text_en"), TOKENS(@object_search_1, "text_en"))) > 0`)
	assert.Equal(t, "example.com", compiled.BindVars["object_search_1"])

	compiled, err = query.NewCompiler(m, query.WithSearch(testutil.Search(t))).List(dataset, query.Request{
		Search:    []string{"objects.nested", "root text"},
		Relations: []string{"objects"},
	})
	require.NoError(t, err)
	q := compiled.Query()
	assert.True(t, strings.HasPrefix(q, strings.Join([]string{
		"WITH dataset, entity, includes, relates",
		"LET dataset = (",
		"    FOR result IN memoriam_text_search",
		`        SEARCH ANALYZER(result._index IN TOKENS(@search, "text_en"), "text_en") OPTIONS {waitForSync: true, collections: ["dataset"]}`,
		"        RETURN result",
		")",
		"FOR object IN dataset",
	}, "\n")), q)
	assert.Equal(t, "root text", compiled.BindVars["search"])
	assert.Contains(t, q, "TOKENS(sub_object._index")
	assert.Equal(t, "nested", compiled.BindVars["sub_object_search_1"])
}

func TestGet(t *testing.T) {
	m := testutil.Model(t)
	compiled, err := query.NewCompiler(m).Get(class(t, m, "dataset"), "1", query.Request{Relations: []string{"objects"}})
	require.NoError(t, err)
	q := compiled.Query()

	assert.Contains(t, q, "FOR object IN dataset\n    FILTER object._key == @_key\n")
	assert.Contains(t, q, "LET object_objects = (")
	assert.Contains(t, q, "LIMIT 0, 1\n    RETURN MERGE(object, {objects: object_objects})")
	assert.Equal(t, "1", compiled.BindVars["_key"])
}

func TestRelationList(t *testing.T) {
	m := testutil.Model(t)
	c := query.NewCompiler(m)
	dataset := class(t, m, "dataset")

	compiled, err := c.RelationList(dataset, "1", "objects", query.Request{
		EdgeFilters: []string{"label == 'first'"},
		Filters:     []string{"name == 'b'"},
	})
	require.NoError(t, err)

	expected := strings.Join([]string{
		"WITH dataset, entity, includes, relates",
		"LET doc = DOCUMENT(@_id)",
		"FOR object, object_edge IN 1..1 OUTBOUND doc includes",
		"    FILTER object_edge.label == @object_edge_label_comp_1",
		`    FILTER IS_SAME_COLLECTION("dataset", object)`,
		"    FILTER object.name == @object_name_comp_2",
		"    LIMIT 0, 100",
		`    RETURN DISTINCT MERGE(object, {_edge: UNSET(object_edge, "_id", "_key", "_rev", "_from", "_to")})`,
	}, "\n")
	assert.Equal(t, expected, compiled.Query())
	assert.Equal(t, "dataset/1", compiled.BindVars["_id"])

	compiled, err = c.RelationList(dataset, "1", "objects", query.Request{Fields: []string{"name", "_edge"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, compiled.Fields)
	assert.Contains(t, compiled.Query(), "object.name}, {_edge: UNSET(object_edge")

	compiled, err = c.RelationList(dataset, "1", "objects", query.Request{Fields: []string{"name"}})
	require.NoError(t, err)
	assert.NotContains(t, compiled.Query(), "_edge: UNSET")

	_, err = c.RelationList(dataset, "1", "nope", query.Request{})
	require.Error(t, err)
	assert.Equal(t, 404, errors.StatusCode(err))
}

func TestSearch(t *testing.T) {
	m := testutil.Model(t)

	_, err := query.NewCompiler(m).Search(query.Request{Search: []string{"a"}})
	require.Error(t, err)
	assert.Equal(t, 404, errors.StatusCode(err))

	c := query.NewCompiler(m, query.WithSearch(testutil.Search(t)))
	_, err = c.Search(query.Request{})
	require.Error(t, err)
	assert.Equal(t, 400, errors.StatusCode(err))

	compiled, err := c.Search(query.Request{Search: []string{"needle"}, Limit: []string{"3"}})
	require.NoError(t, err)
	q := compiled.Query()
	assert.Contains(t, q, `OPTIONS {waitForSync: true, collections: ["dataset", "entity"]}`)
	assert.Contains(t, q, "FOR object IN search")
	assert.Contains(t, q, `FILTER object._class == "dataset" OR object._class == "person" OR object._class == "read_only_thing"`)
	assert.Contains(t, q, "SORT TFIDF(object) DESC\n    LIMIT 0, 3\n    RETURN object")
}

func TestNeighbors(t *testing.T) {
	m := testutil.Model(t)
	c := query.NewCompiler(m)

	compiled, err := c.Neighbors(class(t, m, "dataset"), "1")
	require.NoError(t, err)
	assert.Contains(t, compiled.Query(), "FOR node, edge IN 0..1 ANY DOCUMENT(@_id) includes, relates\n    RETURN {node: node, edge: edge}")
	assert.Equal(t, "dataset/1", compiled.BindVars["_id"])

	_, err = c.Neighbors(class(t, m, "read_only_thing"), "1")
	require.Error(t, err)
	assert.Equal(t, "domain class has no relations", err.Error())
	assert.Equal(t, 404, errors.StatusCode(err))
}

func TestChanges(t *testing.T) {
	m := testutil.Model(t)
	c := query.NewCompiler(m)

	compiled, err := c.Changes("dataset/1", true, query.Request{})
	require.NoError(t, err)
	expected := strings.Join([]string{
		"WITH audit_log",
		"FOR object IN audit_log",
		"    FILTER object.changed_id == @_id OR object.from_id == @_id OR object.to_id == @_id",
		"    SORT object.created DESC, object._key",
		"    LIMIT 0, 100",
		"    RETURN object",
	}, "\n")
	assert.Equal(t, expected, compiled.Query())

	compiled, err = c.Changes("dataset/1", false, query.Request{Sorts: []string{"created"}})
	require.NoError(t, err)
	assert.Contains(t, compiled.Query(), "FILTER object.changed_id == @_id\n    SORT object.created, object._key")

	_, err = c.Changes("dataset/1", false, query.Request{Sorts: []string{"name"}})
	require.Error(t, err)
}

func TestMutations(t *testing.T) {
	doc := map[string]any{"name": "a"}

	insert := query.InsertDoc("dataset", doc)
	assert.Equal(t, "INSERT @data INTO @@collection\nRETURN {new: NEW}", insert.Query())
	assert.Equal(t, map[string]any{"@collection": "dataset", "data": doc}, insert.BindVars)

	update := query.UpdateDoc("dataset", map[string]any{"_key": "1", "name": "b"}, false)
	assert.Equal(t, "UPDATE @data IN @@collection OPTIONS {mergeObjects: false}\nRETURN {new: NEW, old: OLD}", update.Query())

	remove := query.RemoveDoc("dataset", "1")
	assert.Equal(t, "REMOVE @_key IN @@collection\nRETURN {old: OLD}", remove.Query())
	assert.Equal(t, "1", remove.BindVars["_key"])

	edge := query.UpdateEdge("includes", "dataset/1", "dataset/2", map[string]any{"label": "x"}, true)
	assert.Equal(t, strings.Join([]string{
		"FOR edge IN @@collection",
		"    FILTER edge._from == @_from AND edge._to == @_to",
		"    UPDATE edge WITH @data IN @@collection OPTIONS {mergeObjects: true}",
		"    RETURN {new: NEW, old: OLD}",
	}, "\n"), edge.Query())
	assert.Equal(t, "dataset/2", edge.BindVars["_to"])

	removeEdge := query.RemoveEdge("includes", "dataset/1", "dataset/2")
	assert.Contains(t, removeEdge.Query(), "    REMOVE edge IN @@collection\n    RETURN {old: OLD}")
}

func TestIdentQuoting(t *testing.T) {
	ctx := query.NewContext()
	ops, err := query.Filters(ctx, "object", query.Attributes{"full": "full-name"}, []string{"full == 'x'"})
	require.NoError(t, err)
	assert.Equal(t, "FILTER object.`full-name` == @object_full_name_comp_1", render(ops...))
}
