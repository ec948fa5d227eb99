// Package query compiles read requests against a domain model into
// parameterized AQL statements. Dot-scoped request arguments address nested
// relation traversals; every literal travels as a bind variable.
package query

import (
	"slices"
	"strconv"
	"strings"

	"github.com/protojour/pymoriam/errors"
	"github.com/protojour/pymoriam/schema"
	"github.com/protojour/pymoriam/search"
)

// Root is the variable the queried objects are bound to. Nested traversals
// prefix it with "sub_" once per level.
const Root = "object"

// DefaultLimit applies when a request gives no limit.
const DefaultLimit = 100

// Compiled is a statement ready to run, plus what the caller needs to shape
// its results.
type Compiled struct {
	Statement *Statement
	BindVars  map[string]any
	// Kind labels the statement in logs and metrics.
	Kind  string
	Skip  int
	Limit int
	// Relations are the root relation labels that were compiled.
	Relations []string
	// Fields is the root field list; empty means whole objects.
	Fields []string
}

// Query renders the statement.
func (c *Compiled) Query() string { return c.Statement.String() }

// Compiler compiles requests for one domain model.
type Compiler struct {
	model        *schema.Model
	search       *search.Config
	defaultLimit int
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithSearch enables root search subsets over the configured view.
func WithSearch(cfg *search.Config) Option {
	return func(c *Compiler) { c.search = cfg }
}

// WithDefaultLimit sets the limit used when a request has none.
func WithDefaultLimit(n int) Option {
	return func(c *Compiler) {
		if n > 0 {
			c.defaultLimit = n
		}
	}
}

// NewCompiler creates a compiler for model.
func NewCompiler(model *schema.Model, opts ...Option) *Compiler {
	c := &Compiler{model: model, defaultLimit: DefaultLimit}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the model the compiler works against.
func (c *Compiler) Model() *schema.Model { return c.model }

func (c *Compiler) with() Op {
	if c.model.DB == nil {
		return nil
	}
	return With{Collections: c.model.DB.AllCollections()}
}

// page reads skip and limit addressed to level, falling back to 0 and the
// default limit.
func (c *Compiler) page(req Request, subject string, level int) (skip, limit int, err error) {
	skip, limit = 0, c.defaultLimit
	if v := first(Scope(req.Skip, subject, level)); v != "" {
		if skip, err = strconv.Atoi(v); err != nil || skip < 0 {
			return 0, 0, errors.Schemaf("Invalid skip value %q", v)
		}
	}
	if v := first(Scope(req.Limit, subject, level)); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, errors.Schemaf("Invalid limit value %q", v)
		}
	}
	return skip, limit, nil
}

func classRelations(class *schema.Class) map[string]*schema.Relation {
	out := make(map[string]*schema.Relation, len(class.Relations))
	for _, rel := range class.Relations {
		out[rel.Label] = rel
	}
	return out
}

// requested keeps the labels that name a relation, in request order and
// without duplicates.
func requested(labels []string, relations map[string]*schema.Relation) []string {
	var out []string
	for _, label := range labels {
		if _, ok := relations[label]; ok && !slices.Contains(out, label) {
			out = append(out, label)
		}
	}
	return out
}

// rootSearch returns the first search text not scoped to a requested
// relation.
func rootSearch(values, labels []string) string {
	for _, v := range values {
		head, _, _ := strings.Cut(v, " ")
		prefix, _, dotted := strings.Cut(head, ".")
		if v != "" && (!dotted || !slices.Contains(labels, prefix)) {
			return v
		}
	}
	return ""
}

// searchSubset binds name to the documents of collections matching the
// search text in the view.
func (c *Compiler) searchSubset(ctx *Context, name, text string, collections []string) Op {
	bind := ctx.Set("search", text)
	cols := make(List, len(collections))
	for i, coll := range collections {
		cols[i] = Str(coll)
	}
	matches := Call{Fn: "ANALYZER", Args: []Expr{
		Binary{Left: Attr{Var("result"), search.IndexField}, Op: "IN", Right: Call{Fn: "TOKENS", Args: []Expr{Bind(bind), Str(search.Analyzer)}}},
		Str(search.Analyzer),
	}}
	stmt := (&Statement{}).Add(
		For{Var: "result", In: Var(c.search.ViewName)},
		Search{Cond: matches, Options: Object{
			{Key: Var("waitForSync"), Value: Bool(true)},
			{Key: Var("collections"), Value: cols},
		}},
		Return{Value: Var("result")},
	)
	return Let{Name: name, Value: Subquery{stmt}}
}

// traversals compiles one LET subquery per requested relation of the
// objects bound to alias. Each level binds its vertices to "sub_" + alias,
// so no traversal variable shadows a parent's.
func (c *Compiler) traversals(ctx *Context, alias string, relations map[string]*schema.Relation, req Request, labels []string, level int) ([]Op, error) {
	sub := "sub_" + alias
	lvl := level + 1

	ops := make([]Op, 0, len(labels))
	for _, label := range labels {
		rel := relations[label]
		attrs := Attributes(c.model.RelationAttributes(rel))

		stmt := (&Statement{}).Add(Traverse{
			Vertex:    sub,
			Edge:      sub + "_edge",
			Traversal: rel.Traversal(),
			Start:     Var(alias),
			Edges:     []Expr{Var(rel.EdgeCollection)},
		})

		edgeFilters, err := Filters(ctx, sub+"_edge", Attributes(c.model.EdgeAttributes(rel)), Scope(req.EdgeFilters, label, lvl))
		if err != nil {
			return nil, err
		}
		stmt.Add(edgeFilters...)
		stmt.Add(TypeFilter(c.model, rel, sub))
		stmt.Add(SearchFilter(ctx, sub, first(Scope(req.Search, label, lvl))))

		filters, err := Filters(ctx, sub, attrs, Scope(req.Filters, label, lvl))
		if err != nil {
			return nil, err
		}
		stmt.Add(filters...)

		subRelations := c.model.RelationRelations(rel)
		subLabels := requested(Scope(req.Relations, label, lvl), subRelations)
		nested, err := c.traversals(ctx, sub, subRelations, req, subLabels, lvl)
		if err != nil {
			return nil, err
		}
		stmt.Add(nested...)

		parents, err := ParentFilters(sub, Scope(req.ParentFilters, label, lvl), subLabels)
		if err != nil {
			return nil, err
		}
		stmt.Add(parents...)

		sortOp, err := SortOp(sub, attrs, Scope(req.Sorts, label, lvl))
		if err != nil {
			return nil, err
		}
		stmt.Add(sortOp)

		skip, limit, err := c.page(req, label, lvl)
		if err != nil {
			return nil, err
		}
		stmt.Add(Limit{Offset: skip, Count: limit})

		fields := Scope(req.Fields, label, lvl)
		edge := len(fields) == 0 || slices.Contains(fields, "_edge")
		fields = slices.DeleteFunc(fields, func(f string) bool { return f == "_edge" })
		projection, err := Projection(ctx, sub, attrs, fields)
		if err != nil {
			return nil, err
		}
		stmt.Add(Return{Distinct: true, Value: ReturnSpec(projection, sub, edge, subLabels)})

		ops = append(ops, Let{Name: alias + "_" + label, Value: Subquery{stmt}})
	}
	return ops, nil
}

// List compiles a paged listing of class objects with filters, sorting,
// field projection, search and nested relations.
func (c *Compiler) List(class *schema.Class, req Request) (*Compiled, error) {
	ctx := NewContext()
	skip, limit, err := c.page(req, "", 0)
	if err != nil {
		return nil, err
	}
	attrs := ClassAttributes(class)
	labels := requested(Scope(req.Relations, "", 0), classRelations(class))

	stmt := (&Statement{}).Add(c.with())

	var searchOp Op
	if text := rootSearch(req.Search, labels); text != "" {
		if c.search.Enabled() {
			stmt.Add(c.searchSubset(ctx, class.Resolver, text, c.search.Collections(class.Resolver, false)))
		} else {
			searchOp = SearchFilter(ctx, Root, text)
		}
	}

	stmt.Add(For{Var: Root, In: Var(class.Resolver)}, ClassFilter(Root, class.Class))

	nested, err := c.traversals(ctx, Root, classRelations(class), req, labels, 0)
	if err != nil {
		return nil, err
	}
	stmt.Add(nested...)

	parents, err := ParentFilters(Root, Scope(req.ParentFilters, "", 0), labels)
	if err != nil {
		return nil, err
	}
	stmt.Add(parents...)
	stmt.Add(searchOp)

	filters, err := Filters(ctx, Root, attrs, Scope(req.Filters, "", 0))
	if err != nil {
		return nil, err
	}
	stmt.Add(filters...)

	sortOp, err := SortOp(Root, attrs, Scope(req.Sorts, "", 0))
	if err != nil {
		return nil, err
	}
	stmt.Add(sortOp, Limit{Offset: skip, Count: limit})

	fields := Scope(req.Fields, "", 0)
	projection, err := Projection(ctx, Root, attrs, fields)
	if err != nil {
		return nil, err
	}
	stmt.Add(Return{Value: ReturnSpec(projection, Root, false, labels)})

	return &Compiled{
		Statement: stmt, BindVars: ctx.BindVars, Kind: "list",
		Skip: skip, Limit: limit, Relations: labels, Fields: fields,
	}, nil
}

// Get compiles a lookup of one class object by key with field projection
// and nested relations.
func (c *Compiler) Get(class *schema.Class, key string, req Request) (*Compiled, error) {
	ctx := NewContext()
	attrs := ClassAttributes(class)
	labels := requested(Scope(req.Relations, "", 0), classRelations(class))

	stmt := (&Statement{}).Add(
		c.with(),
		For{Var: Root, In: Var(class.Resolver)},
		Filter{Cond: Binary{Left: Attr{Var(Root), "_key"}, Op: "==", Right: Bind(ctx.Set("_key", key))}},
		ClassFilter(Root, class.Class),
	)

	nested, err := c.traversals(ctx, Root, classRelations(class), req, labels, 0)
	if err != nil {
		return nil, err
	}
	stmt.Add(nested...)

	fields := Scope(req.Fields, "", 0)
	projection, err := Projection(ctx, Root, attrs, fields)
	if err != nil {
		return nil, err
	}
	stmt.Add(Limit{Count: 1}, Return{Value: ReturnSpec(projection, Root, false, labels)})

	return &Compiled{Statement: stmt, BindVars: ctx.BindVars, Kind: "get", Limit: 1, Relations: labels, Fields: fields}, nil
}

// RelationList compiles a paged listing of the objects related to one
// object through label, each merged with its edge as _edge.
func (c *Compiler) RelationList(class *schema.Class, key, label string, req Request) (*Compiled, error) {
	rel, ok := class.Relation(label)
	if !ok {
		return nil, errors.NotFoundf("Relation %s does not exist on %s", label, class.Name)
	}
	ctx := NewContext()
	skip, limit, err := c.page(req, "", 0)
	if err != nil {
		return nil, err
	}
	attrs := Attributes(c.model.RelationAttributes(rel))
	subRelations := c.model.RelationRelations(rel)
	labels := requested(Scope(req.Relations, "", 0), subRelations)

	stmt := (&Statement{}).Add(
		c.with(),
		Let{Name: "doc", Value: Call{Fn: "DOCUMENT", Args: []Expr{Bind(ctx.Set("_id", class.Resolver+"/"+key))}}},
		Traverse{Vertex: Root, Edge: Root + "_edge", Traversal: rel.Traversal(), Start: Var("doc"), Edges: []Expr{Var(rel.EdgeCollection)}},
	)

	edgeFilters, err := Filters(ctx, Root+"_edge", Attributes(c.model.EdgeAttributes(rel)), Scope(req.EdgeFilters, "", 0))
	if err != nil {
		return nil, err
	}
	stmt.Add(edgeFilters...)
	stmt.Add(TypeFilter(c.model, rel, Root))
	stmt.Add(SearchFilter(ctx, Root, rootSearch(req.Search, labels)))

	filters, err := Filters(ctx, Root, attrs, Scope(req.Filters, "", 0))
	if err != nil {
		return nil, err
	}
	stmt.Add(filters...)

	nested, err := c.traversals(ctx, Root, subRelations, req, labels, 0)
	if err != nil {
		return nil, err
	}
	stmt.Add(nested...)

	sortOp, err := SortOp(Root, attrs, Scope(req.Sorts, "", 0))
	if err != nil {
		return nil, err
	}
	stmt.Add(sortOp, Limit{Offset: skip, Count: limit})

	fields := Scope(req.Fields, "", 0)
	edge := len(fields) == 0 || slices.Contains(fields, "_edge")
	fields = slices.DeleteFunc(fields, func(f string) bool { return f == "_edge" })
	projection, err := Projection(ctx, Root, attrs, fields)
	if err != nil {
		return nil, err
	}
	stmt.Add(Return{Distinct: true, Value: ReturnSpec(projection, Root, edge, labels)})

	return &Compiled{
		Statement: stmt, BindVars: ctx.BindVars, Kind: "relation_list",
		Skip: skip, Limit: limit, Relations: labels, Fields: fields,
	}, nil
}

// Search compiles a search across every class of the domain, ranked by
// TFIDF.
func (c *Compiler) Search(req Request) (*Compiled, error) {
	if !c.search.Enabled() {
		return nil, errors.NotFoundf("Search is not configured")
	}
	text := rootSearch(req.Search, nil)
	if text == "" {
		return nil, errors.Schemaf("Missing search query")
	}
	ctx := NewContext()
	skip, limit, err := c.page(req, "", 0)
	if err != nil {
		return nil, err
	}

	attrs := Attributes{}
	var classes []string
	for _, class := range c.model.Classes() {
		for _, a := range class.Attributes {
			attrs[a.Name] = a.Field
		}
		if !slices.Contains(classes, class.Class) {
			classes = append(classes, class.Class)
		}
	}

	stmt := (&Statement{}).Add(
		c.with(),
		c.searchSubset(ctx, "search", text, c.search.Collections("", true)),
		For{Var: Root, In: Var("search")},
		ClassFilter(Root, classes...),
	)
	filters, err := Filters(ctx, Root, attrs, Scope(req.Filters, "", 0))
	if err != nil {
		return nil, err
	}
	stmt.Add(filters...)
	stmt.Add(
		Sort{Keys: []SortKey{{Expr: Call{Fn: "TFIDF", Args: []Expr{Var(Root)}}, Desc: true}}},
		Limit{Offset: skip, Count: limit},
		Return{Value: Var(Root)},
	)
	return &Compiled{Statement: stmt, BindVars: ctx.BindVars, Kind: "search", Skip: skip, Limit: limit}, nil
}

// Neighbors compiles the one-step neighborhood of an object over every edge
// collection, returning {node, edge} pairs. The object itself comes back
// with a null edge.
func (c *Compiler) Neighbors(class *schema.Class, key string) (*Compiled, error) {
	if c.model.DB == nil || len(c.model.DB.EdgeCollections) == 0 {
		return nil, errors.NotFoundf("No edge collections in schema")
	}
	if len(class.Relations) == 0 {
		return nil, errors.NotFoundf("domain class has no relations")
	}
	ctx := NewContext()
	names := c.model.DB.EdgeCollectionNames()
	edges := make([]Expr, len(names))
	for i, name := range names {
		edges[i] = Var(name)
	}
	start := Call{Fn: "DOCUMENT", Args: []Expr{Bind(ctx.Set("_id", class.Resolver+"/"+key))}}

	stmt := (&Statement{}).Add(
		c.with(),
		Traverse{Vertex: "node", Edge: "edge", Traversal: "0..1 ANY", Start: start, Edges: edges},
		Return{Value: Object{{Key: Var("node"), Value: Var("node")}, {Key: Var("edge"), Value: Var("edge")}}},
	)
	return &Compiled{Statement: stmt, BindVars: ctx.BindVars, Kind: "neighbors"}, nil
}

// Changes compiles the audit records of one document id, newest first by
// default. With edges set, records of edges from or to the document are
// included.
func (c *Compiler) Changes(id string, edges bool, req Request) (*Compiled, error) {
	ctx := NewContext()
	skip, limit, err := c.page(req, "", 0)
	if err != nil {
		return nil, err
	}
	sorts := Scope(req.Sorts, "", 0)
	if len(sorts) == 0 {
		sorts = []string{"-created"}
	}
	sortOp, err := SortOp(Root, Attributes{"created": "created"}, sorts)
	if err != nil {
		return nil, err
	}

	bind := Bind(ctx.Set("_id", id))
	var cond Expr = Binary{Left: Attr{Var(Root), "changed_id"}, Op: "==", Right: bind}
	if edges {
		cond = Or{
			cond,
			Binary{Left: Attr{Var(Root), "from_id"}, Op: "==", Right: bind},
			Binary{Left: Attr{Var(Root), "to_id"}, Op: "==", Right: bind},
		}
	}

	stmt := (&Statement{}).Add(
		With{Collections: []string{schema.AuditCollection}},
		For{Var: Root, In: Var(schema.AuditCollection)},
		Filter{Cond: cond},
		sortOp,
		Limit{Offset: skip, Count: limit},
		Return{Value: Var(Root)},
	)
	return &Compiled{Statement: stmt, BindVars: ctx.BindVars, Kind: "changes", Skip: skip, Limit: limit}, nil
}
