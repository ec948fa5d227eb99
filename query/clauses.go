package query

import (
	"bytes"
	"encoding/json"
	"slices"
	"strings"

	"github.com/protojour/pymoriam/errors"
	"github.com/protojour/pymoriam/schema"
	"github.com/protojour/pymoriam/search"
)

// filterOps maps the accepted filter operators to AQL.
var filterOps = map[string]string{
	"==": "==", "!=": "!=", "<": "<", "<=": "<=", ">": ">", ">=": ">=",
	"IN": "IN", "NOTIN": "NOT IN", "LIKE": "LIKE", "NOTLIKE": "NOT LIKE",
	"=~": "=~", "!~": "!~",
}

// edgeInternal are stripped from edges merged into results as _edge.
var edgeInternal = []Expr{Str("_id"), Str("_key"), Str("_rev"), Str("_from"), Str("_to")}

// Attributes maps domain fields to storage fields.
type Attributes map[string]string

// ClassAttributes returns the attribute map of a class.
func ClassAttributes(c *schema.Class) Attributes {
	out := make(Attributes, len(c.Attributes))
	for _, a := range c.Attributes {
		out[a.Name] = a.Field
	}
	return out
}

// resolve maps a domain field to its storage field; _key and _class map to
// themselves.
func (a Attributes) resolve(key string) (string, bool) {
	if key == "_key" || key == "_class" {
		return key, true
	}
	field, ok := a[key]
	return field, ok && field != ""
}

type comparison struct {
	field string
	op    string
	value any
}

// Filters compiles "field op value" statements into FILTER operations on
// alias. Every statement is validated before any value is bound, so a
// failing list leaves ctx untouched.
func Filters(ctx *Context, alias string, attrs Attributes, statements []string) ([]Op, error) {
	comps := make([]comparison, 0, len(statements))
	for _, statement := range statements {
		parts := strings.SplitN(statement, " ", 3)
		if len(parts) < 3 {
			return nil, errors.Schemaf("Invalid filter statement %q", statement)
		}
		key, op, raw := parts[0], parts[1], parts[2]

		field, ok := attrs.resolve(key)
		if !ok {
			return nil, errors.Schemaf("Invalid filter statement: Field %q is not part of domain object spec", key)
		}
		aqlOp, ok := filterOps[op]
		if !ok {
			return nil, errors.Schemaf("Invalid filter operator %q", op)
		}
		raw = strings.ReplaceAll(raw, "'", `"`)
		value, err := ParseValue(raw)
		if err != nil {
			return nil, errors.Schemaf("Invalid filter comparison value %q", raw)
		}
		comps = append(comps, comparison{field: field, op: aqlOp, value: value})
	}

	ops := make([]Op, 0, len(comps))
	for _, c := range comps {
		name := ctx.Bind(alias+"_"+c.field+"_comp", c.value)
		ops = append(ops, Filter{Cond: Binary{Left: Attr{Var(alias), c.field}, Op: c.op, Right: Bind(name)}})
	}
	return ops, nil
}

// ParseValue decodes a JSON literal. Integral numbers become int64, other
// numbers float64.
func ParseValue(raw string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after value")
	}
	return normalizeNumbers(v), nil
}

func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case []any:
		for i := range val {
			val[i] = normalizeNumbers(val[i])
		}
	case map[string]any:
		for k := range val {
			val[k] = normalizeNumbers(val[k])
		}
	}
	return v
}

// SortOp compiles sort statements; a leading "-" sorts descending. A _key
// tiebreaker is appended unless _key is already sorted on. It returns nil
// for no statements.
func SortOp(alias string, attrs Attributes, statements []string) (Op, error) {
	if len(statements) == 0 {
		return nil, nil
	}
	keys := make([]SortKey, 0, len(statements)+1)
	hasKey := false
	for _, statement := range statements {
		name, desc := statement, false
		if strings.HasPrefix(name, "-") {
			name, desc = name[1:], true
		}
		field, ok := attrs.resolve(name)
		if !ok {
			return nil, errors.Schemaf("Invalid sort statement: Field %q is not part of domain object spec", name)
		}
		if field == "_key" {
			hasKey = true
		}
		keys = append(keys, SortKey{Expr: Attr{Var(alias), field}, Desc: desc})
	}
	if !hasKey {
		keys = append(keys, SortKey{Expr: Attr{Var(alias), "_key"}})
	}
	return Sort{Keys: keys}, nil
}

// Projection compiles a field list into an object renaming storage fields
// to domain fields, always including _class. No fields means the whole
// object.
func Projection(ctx *Context, alias string, attrs Attributes, fields []string) (Expr, error) {
	if len(fields) == 0 {
		return Var(alias), nil
	}
	keys := fields
	if !slices.Contains(fields, "_class") {
		keys = append([]string{"_class"}, fields...)
	}

	resolved := make([]string, len(keys))
	for i, key := range keys {
		field, ok := attrs.resolve(key)
		if !ok {
			return nil, errors.Schemaf("Invalid field statement: Field %q is not part of domain object spec", key)
		}
		resolved[i] = field
	}

	obj := make(Object, len(keys))
	for i, key := range keys {
		name := ctx.Bind(alias+"_"+resolved[i]+"_key", key)
		obj[i] = Pair{Key: Bind(name), Value: Attr{Var(alias), resolved[i]}}
	}
	return obj, nil
}

// SearchFilter keeps objects sharing at least one token with the search
// text. It returns nil for an empty search.
func SearchFilter(ctx *Context, alias, text string) Op {
	if text == "" {
		return nil
	}
	name := ctx.Bind(alias+"_search", text)
	intersection := Call{Fn: "INTERSECTION", Args: []Expr{
		Call{Fn: "TOKENS", Args: []Expr{Attr{Var(alias), search.IndexField}, Str(search.Analyzer)}},
		Call{Fn: "TOKENS", Args: []Expr{Bind(name), Str(search.Analyzer)}},
	}}
	return Filter{Cond: Binary{Left: Call{Fn: "LENGTH", Args: []Expr{intersection}}, Op: ">", Right: Int(0)}}
}

// ClassFilter keeps objects whose _class is one of classes.
func ClassFilter(alias string, classes ...string) Op {
	if len(classes) == 0 {
		return nil
	}
	terms := make(Or, len(classes))
	for i, c := range classes {
		terms[i] = Binary{Left: Attr{Var(alias), "_class"}, Op: "==", Right: Str(c)}
	}
	return Filter{Cond: terms}
}

// TypeFilter keeps traversed vertices stored in a collection of one of the
// relation's targets. It returns nil for ANY.
func TypeFilter(model *schema.Model, rel *schema.Relation, alias string) Op {
	if rel.Any {
		return nil
	}
	var terms Or
	seen := map[string]bool{}
	for _, c := range model.TargetClasses(rel) {
		if seen[c.Resolver] {
			continue
		}
		seen[c.Resolver] = true
		terms = append(terms, Call{Fn: "IS_SAME_COLLECTION", Args: []Expr{Str(c.Resolver), Var(alias)}})
	}
	if len(terms) == 0 {
		return nil
	}
	return Filter{Cond: terms}
}

// ParentFilters keep objects whose named relation result is non-empty.
// Every label must be a relation compiled at the same level.
func ParentFilters(alias string, labels, relations []string) ([]Op, error) {
	ops := make([]Op, 0, len(labels))
	for _, label := range labels {
		if !slices.Contains(relations, label) {
			return nil, errors.Schemaf("Invalid parent_filter statement: %s is not given in `relations`", label)
		}
		ops = append(ops, Filter{Cond: Call{Fn: "LENGTH", Args: []Expr{Var(alias + "_" + label)}}})
	}
	return ops, nil
}

// ReturnSpec merges the projection with the traversed edge and the named
// relation results. It returns the projection alone when there is nothing
// to merge.
func ReturnSpec(projection Expr, alias string, edge bool, relations []string) Expr {
	if !edge && len(relations) == 0 {
		return projection
	}
	args := []Expr{projection}
	if edge {
		args = append(args, Object{{Key: Var("_edge"), Value: Call{Fn: "UNSET", Args: append([]Expr{Var(alias + "_edge")}, edgeInternal...)}}})
	}
	if len(relations) > 0 {
		rels := make(Object, len(relations))
		for i, label := range relations {
			rels[i] = Pair{Key: Var(label), Value: Var(alias + "_" + label)}
		}
		args = append(args, rels)
	}
	return Call{Fn: "MERGE", Args: args}
}
