package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
	"golang.org/x/sync/errgroup"

	"github.com/protojour/pymoriam/domain"
	"github.com/protojour/pymoriam/errors"
	"github.com/protojour/pymoriam/query"
	"github.com/protojour/pymoriam/schema"
)

// Reserved fields every object type answers besides its attributes.
var objectFields = []string{"__typename", "_key", "_class", "_edge", "_all"}

// Arguments accepted by list fields and relation fields.
var (
	listArgs     = []string{"filter", "sort", "skip", "limit", "search"}
	relationArgs = []string{"filter", "edge_filter", "sort", "skip", "limit", "search"}
)

// executor runs one operation of a query document against a domain.
type executor struct {
	engine      *domain.Engine
	caller      domain.Caller
	model       *schema.Model
	doc         *ast.QueryDocument
	vars        map[string]any
	version     string
	maxDepth    int
	concurrency int

	// types maps PascalCase type names to the classes served at the root.
	types map[string]*schema.Class
}

// fieldSet is the set of fields an object type answers. An open set
// accepts any name; permissive classes pass undeclared fields through.
type fieldSet struct {
	names map[string]bool
	open  bool
}

func (s fieldSet) has(name string) bool { return s.open || s.names[name] }

func newFieldSet(classes []*schema.Class, relations map[string]*schema.Relation) fieldSet {
	s := fieldSet{names: make(map[string]bool)}
	for _, name := range objectFields {
		s.names[name] = true
	}
	for _, c := range classes {
		for _, attr := range c.Attributes {
			s.names[attr.Name] = true
		}
		for name := range c.Constants {
			s.names[name] = true
		}
		if c.Permissive.Output() {
			s.open = true
		}
	}
	for label := range relations {
		s.names[label] = true
	}
	return s
}

func classRelations(c *schema.Class) map[string]*schema.Relation {
	out := make(map[string]*schema.Relation, len(c.Relations))
	for _, rel := range c.Relations {
		out[rel.Label] = rel
	}
	return out
}

// TypeName is the GraphQL type name of a class.
func TypeName(class string) string { return schema.PascalCase(class) }

// rootTypes indexes the classes readable at the root. Alias classes share
// the root class's type.
func rootTypes(model *schema.Model) map[string]*schema.Class {
	out := make(map[string]*schema.Class)
	for _, c := range model.Classes() {
		if c.Alias != "" {
			continue
		}
		out[TypeName(c.Name)] = c
	}
	return out
}

// parseDocument parses a query document. Documents are read-only once
// parsed and may be shared between requests.
func parseDocument(source string) (*ast.QueryDocument, gqlerror.List) {
	doc, err := parser.ParseQuery(&ast.Source{Name: "request", Input: source})
	if err != nil {
		return nil, gqlerror.List{parseError(err)}
	}
	return doc, nil
}

// operation picks the operation of doc to run.
func operation(doc *ast.QueryDocument, operationName string) (*ast.OperationDefinition, gqlerror.List) {
	var op *ast.OperationDefinition
	switch {
	case operationName != "":
		for _, candidate := range doc.Operations {
			if candidate.Name == operationName {
				op = candidate
			}
		}
		if op == nil {
			return nil, gqlerror.List{requestError(nil, "Unknown operation named %q.", operationName)}
		}
	case len(doc.Operations) == 1:
		op = doc.Operations[0]
	case len(doc.Operations) == 0:
		return nil, gqlerror.List{requestError(nil, "No operation provided.")}
	default:
		return nil, gqlerror.List{requestError(nil, "Must provide operation name if query contains multiple operations.")}
	}

	if op.Operation != ast.Query {
		return nil, gqlerror.List{{
			Message:    "Only queries are supported: domain objects are changed through the REST API",
			Extensions: map[string]interface{}{"code": 405},
		}}
	}
	return op, nil
}

// variables applies the operation's defaults to the supplied variables and
// checks required ones are present.
func variables(op *ast.OperationDefinition, supplied map[string]any) (map[string]any, gqlerror.List) {
	vars := make(map[string]any, len(supplied))
	for k, v := range supplied {
		vars[k] = v
	}
	var errs gqlerror.List
	for _, def := range op.VariableDefinitions {
		if _, ok := vars[def.Variable]; ok {
			continue
		}
		if def.DefaultValue != nil {
			v, err := def.DefaultValue.Value(nil)
			if err != nil {
				errs = append(errs, requestError(nil, "Variable \"$%s\" has an invalid default value: %v", def.Variable, err))
				continue
			}
			vars[def.Variable] = v
			continue
		}
		if def.Type != nil && def.Type.NonNull {
			errs = append(errs, requestError(nil, "Variable \"$%s\" of required type \"%s\" was not provided.", def.Variable, def.Type.String()))
		}
	}
	return vars, errs
}

// result is one resolved root field.
type result struct {
	key   string
	value any
	err   *gqlerror.Error
}

// execute resolves every root field of op. Root fields run concurrently;
// the data object keeps their selection order.
func (e *executor) execute(ctx context.Context, op *ast.OperationDefinition) (json.RawMessage, gqlerror.List) {
	fields := e.collect(op.SelectionSet, "Query")
	results := make([]result, len(fields))

	g := errgroup.Group{}
	g.SetLimit(e.concurrency)
	for i, f := range fields {
		g.Go(func() error {
			value, err := e.root(ctx, f)
			results[i] = result{key: responseKey(f), value: value, err: err}
			return nil
		})
	}
	_ = g.Wait()

	data := newObject()
	var errs gqlerror.List
	for _, r := range results {
		data.set(r.key, r.value)
		if r.err != nil {
			errs = append(errs, r.err)
		}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, append(errs, mapError(err, nil, nil))
	}
	return raw, errs
}

// root resolves one field of the Query type.
func (e *executor) root(ctx context.Context, f *ast.Field) (any, *gqlerror.Error) {
	path := ast.Path{ast.PathName(responseKey(f))}
	switch f.Name {
	case "__typename":
		return "Query", nil
	case "version":
		return e.version, nil
	}

	if typeName, ok := strings.CutSuffix(f.Name, "List"); ok {
		if class, ok := e.types[typeName]; ok {
			value, err := e.list(ctx, f, class)
			if err != nil {
				return nil, mapError(err, f, path)
			}
			return value, nil
		}
	}
	if class, ok := e.types[f.Name]; ok {
		value, err := e.get(ctx, f, class)
		if err != nil {
			return nil, mapError(err, f, path)
		}
		return value, nil
	}

	gqlErr := requestError(f, "Cannot query field %q on type \"Query\".", f.Name)
	gqlErr.Path = path
	return nil, gqlErr
}

func (e *executor) list(ctx context.Context, f *ast.Field, class *schema.Class) (any, error) {
	req, err := e.request(f, class, listArgs, true)
	if err != nil {
		return nil, err
	}
	page, err := e.engine.List(ctx, e.caller, e.model.Label, class.Name, req)
	if err != nil {
		return nil, err
	}
	return e.results(page.Results, page.Total, f, TypeName(class.Name)+"Results", classRelations(class)), nil
}

func (e *executor) get(ctx context.Context, f *ast.Field, class *schema.Class) (any, error) {
	key, err := e.stringArg(f, "_key")
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, requestError(f, "Field %q argument \"_key\" of type \"ID!\" is required but not provided.", f.Name)
	}
	req, err := e.request(f, class, []string{"_key"}, false)
	if err != nil {
		return nil, err
	}
	obj, err := e.engine.Get(ctx, e.caller, e.model.Label, class.Name, key, req)
	if err != nil {
		var notFound *errors.NotFoundError
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, err
	}
	return e.shape(obj, f.SelectionSet, classRelations(class)), nil
}

// request compiles the arguments and selections of a root field into a
// read request. Relation fields become dot-scoped entries carrying their
// own arguments.
func (e *executor) request(f *ast.Field, class *schema.Class, allowed []string, wrapped bool) (query.Request, error) {
	var req query.Request
	if err := e.arguments(&req, f, "", allowed); err != nil {
		return req, err
	}

	relations := classRelations(class)
	fields := newFieldSet([]*schema.Class{class}, relations)
	set := f.SelectionSet
	if wrapped {
		set = e.resultsSelection(f.SelectionSet)
	}
	err := e.walk(&req, set, TypeName(class.Name), "", fields, relations, 1)
	return req, err
}

// resultsSelection merges the selections of every results field of a
// results wrapper.
func (e *executor) resultsSelection(set ast.SelectionSet) ast.SelectionSet {
	var out ast.SelectionSet
	for _, f := range e.collect(set, "") {
		if f.Name == "results" {
			out = append(out, f.SelectionSet...)
		}
	}
	return out
}

func (e *executor) walk(req *query.Request, set ast.SelectionSet, typeName, prefix string, fields fieldSet, relations map[string]*schema.Relation, depth int) error {
	if depth > e.maxDepth {
		return errors.Schemaf("Query exceeds the maximum depth of %d", e.maxDepth)
	}
	for _, f := range e.collect(set, typeName) {
		rel, ok := relations[f.Name]
		if !ok {
			if !fields.has(f.Name) {
				return requestError(f, "Cannot query field %q on type %q.", f.Name, orAny(typeName))
			}
			continue
		}

		scope := prefix + f.Name
		req.Relations = appendOnce(req.Relations, scope)
		if err := e.arguments(req, f, scope+".", relationArgs); err != nil {
			return err
		}

		targets := e.model.TargetClasses(rel)
		subRelations := e.model.RelationRelations(rel)
		subFields := newFieldSet(targets, subRelations)
		if rel.Any {
			subFields.open = true
		}
		err := e.walk(req, e.resultsSelection(f.SelectionSet), "", scope+".", subFields, subRelations, depth+1)
		if err != nil {
			return err
		}
	}
	return nil
}

func orAny(typeName string) string {
	if typeName == "" {
		return "Any"
	}
	return typeName
}

func appendOnce(list []string, v string) []string {
	for _, item := range list {
		if item == v {
			return list
		}
	}
	return append(list, v)
}

// arguments appends the field's arguments to req, each statement prefixed
// with scope.
func (e *executor) arguments(req *query.Request, f *ast.Field, scope string, allowed []string) error {
	for _, arg := range f.Arguments {
		if !contains(allowed, arg.Name) {
			return requestError(f, "Unknown argument %q on field %q.", arg.Name, f.Name)
		}
		switch arg.Name {
		case "filter", "edge_filter", "sort":
			values, err := e.stringsArg(f, arg.Name)
			if err != nil {
				return err
			}
			for _, v := range values {
				switch arg.Name {
				case "filter":
					req.Filters = append(req.Filters, scope+v)
				case "edge_filter":
					req.EdgeFilters = append(req.EdgeFilters, scope+v)
				default:
					req.Sorts = append(req.Sorts, scope+v)
				}
			}
		case "search":
			v, err := e.stringArg(f, arg.Name)
			if err != nil {
				return err
			}
			if v != "" {
				req.Search = append(req.Search, scope+v)
			}
		case "skip", "limit":
			v, ok, err := e.intArg(f, arg.Name)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if arg.Name == "skip" {
				req.Skip = append(req.Skip, scope+strconv.Itoa(v))
			} else {
				req.Limit = append(req.Limit, scope+strconv.Itoa(v))
			}
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func (e *executor) argValue(f *ast.Field, name string) (any, error) {
	arg := f.Arguments.ForName(name)
	if arg == nil || arg.Value == nil {
		return nil, nil
	}
	v, err := arg.Value.Value(e.vars)
	if err != nil {
		return nil, requestError(f, "Argument %q has an invalid value: %v", name, err)
	}
	return v, nil
}

func (e *executor) stringArg(f *ast.Field, name string) (string, error) {
	v, err := e.argValue(f, name)
	if err != nil || v == nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", requestError(f, "Argument %q of type \"String\" has an invalid value.", name)
	}
	return s, nil
}

// stringsArg reads a [String] argument. A single string is coerced to a
// one-element list.
func (e *executor) stringsArg(f *ast.Field, name string) ([]string, error) {
	v, err := e.argValue(f, name)
	if err != nil || v == nil {
		return nil, err
	}
	switch val := v.(type) {
	case string:
		return []string{val}, nil
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, requestError(f, "Argument %q of type \"[String]\" has an invalid value.", name)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, requestError(f, "Argument %q of type \"[String]\" has an invalid value.", name)
}

func (e *executor) intArg(f *ast.Field, name string) (int, bool, error) {
	v, err := e.argValue(f, name)
	if err != nil || v == nil {
		return 0, false, err
	}
	switch val := v.(type) {
	case int64:
		return int(val), true, nil
	case int:
		return val, true, nil
	case float64:
		if val == math.Trunc(val) {
			return int(val), true, nil
		}
	}
	return 0, false, requestError(f, "Argument %q of type \"Int\" has an invalid value.", name)
}

// collect flattens a selection set into its fields, expanding fragments
// whose type condition matches typeName and honouring @skip and @include.
// An empty typeName matches every condition.
func (e *executor) collect(set ast.SelectionSet, typeName string) []*ast.Field {
	var out []*ast.Field
	e.collectInto(&out, set, typeName, map[string]bool{})
	return out
}

func (e *executor) collectInto(out *[]*ast.Field, set ast.SelectionSet, typeName string, visited map[string]bool) {
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			if e.included(s.Directives) {
				*out = append(*out, s)
			}
		case *ast.InlineFragment:
			if e.included(s.Directives) && matches(s.TypeCondition, typeName) {
				e.collectInto(out, s.SelectionSet, typeName, visited)
			}
		case *ast.FragmentSpread:
			if visited[s.Name] || !e.included(s.Directives) {
				continue
			}
			visited[s.Name] = true
			def := e.doc.Fragments.ForName(s.Name)
			if def != nil && matches(def.TypeCondition, typeName) {
				e.collectInto(out, def.SelectionSet, typeName, visited)
			}
		}
	}
}

func matches(condition, typeName string) bool {
	return condition == "" || typeName == "" || condition == typeName
}

func (e *executor) included(directives ast.DirectiveList) bool {
	if d := directives.ForName("skip"); d != nil && e.directiveIf(d) {
		return false
	}
	if d := directives.ForName("include"); d != nil && !e.directiveIf(d) {
		return false
	}
	return true
}

func (e *executor) directiveIf(d *ast.Directive) bool {
	arg := d.Arguments.ForName("if")
	if arg == nil || arg.Value == nil {
		return false
	}
	v, err := arg.Value.Value(e.vars)
	if err != nil {
		return false
	}
	b, _ := v.(bool)
	return b
}

func responseKey(f *ast.Field) string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

// results shapes a results wrapper: results_total and results.
func (e *executor) results(docs []map[string]any, total int, f *ast.Field, typeName string, relations map[string]*schema.Relation) *object {
	out := newObject()
	for _, wf := range e.collect(f.SelectionSet, typeName) {
		switch wf.Name {
		case "__typename":
			out.set(responseKey(wf), typeName)
		case "results_total":
			out.set(responseKey(wf), total)
		case "results":
			items := make([]any, len(docs))
			for i, doc := range docs {
				items[i] = e.shape(doc, wf.SelectionSet, relations)
			}
			out.set(responseKey(wf), items)
		default:
			out.set(responseKey(wf), nil)
		}
	}
	return out
}

// shape shapes a domain object to a selection set. Relation fields
// become results wrappers over the nested relation results.
func (e *executor) shape(obj map[string]any, set ast.SelectionSet, relations map[string]*schema.Relation) *object {
	class, _ := obj["_class"].(string)
	typeName := TypeName(class)

	out := newObject()
	for _, f := range e.collect(set, typeName) {
		key := responseKey(f)
		switch f.Name {
		case "__typename":
			out.set(key, typeName)
		case "_all":
			all := make(map[string]any, len(obj))
			for k, v := range obj {
				if _, isRelation := relations[k]; !isRelation {
					all[k] = v
				}
			}
			out.set(key, all)
		case "_edge":
			out.set(key, e.value(obj["_edge"], f.SelectionSet, "Edge"))
		default:
			if rel, ok := relations[f.Name]; ok {
				docs := relationDocs(obj[f.Name])
				out.set(key, e.results(docs, len(docs), f, relationType(rel), e.model.RelationRelations(rel)))
				continue
			}
			out.set(key, e.value(obj[f.Name], f.SelectionSet, ""))
		}
	}
	return out
}

// value shapes a plain attribute. Nested objects are projected to their
// sub-selection.
func (e *executor) value(v any, set ast.SelectionSet, typeName string) any {
	if len(set) == 0 {
		return v
	}
	switch val := v.(type) {
	case map[string]any:
		out := newObject()
		for _, f := range e.collect(set, typeName) {
			if f.Name == "__typename" {
				out.set(responseKey(f), typeName)
				continue
			}
			out.set(responseKey(f), e.value(val[f.Name], f.SelectionSet, ""))
		}
		return out
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = e.value(item, set, typeName)
		}
		return items
	}
	return v
}

func relationType(rel *schema.Relation) string {
	if len(rel.Targets) == 1 && !rel.Any {
		return TypeName(rel.Targets[0]) + "Results"
	}
	return TypeName(rel.Label) + "Results"
}

func relationDocs(v any) []map[string]any {
	switch val := v.(type) {
	case []map[string]any:
		return val
	case map[string]any:
		return []map[string]any{val}
	case []any:
		out := make([]map[string]any, 0, len(val))
		for _, item := range val {
			if doc, ok := item.(map[string]any); ok {
				out = append(out, doc)
			}
		}
		return out
	}
	return []map[string]any{}
}

// object is a JSON object that keeps insertion order, so responses follow
// the order of the selection set.
type object struct {
	keys   []string
	values map[string]any
}

func newObject() *object {
	return &object{values: make(map[string]any)}
}

func (o *object) set(key string, value any) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
}

// MarshalJSON writes the fields in insertion order.
func (o *object) MarshalJSON() ([]byte, error) {

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(o.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
