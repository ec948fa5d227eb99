package query

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Expr is an AQL expression. Expressions render on a single line.
type Expr interface {
	aql() string
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ident renders a variable or attribute name, quoting it when it is not a
// plain identifier.
func ident(name string) string {
	if identPattern.MatchString(name) {
		return name
	}
	return "`" + strings.ReplaceAll(name, "`", "") + "`"
}

// Var references a variable or collection.
type Var string

func (v Var) aql() string { return ident(string(v)) }

// Attr accesses an attribute of an expression.
type Attr struct {
	Of   Expr
	Name string
}

func (a Attr) aql() string { return a.Of.aql() + "." + ident(a.Name) }

// Bind references a bind variable. Names starting with "@" are collection
// bind variables.
type Bind string

func (b Bind) aql() string { return "@" + string(b) }

// Str is a string literal.
type Str string

func (s Str) aql() string {
	out, _ := json.Marshal(string(s))
	return string(out)
}

// Int is an integer literal.
type Int int

func (i Int) aql() string { return strconv.Itoa(int(i)) }

// Bool is a boolean literal.
type Bool bool

func (b Bool) aql() string { return strconv.FormatBool(bool(b)) }

// Null is the null literal.
type Null struct{}

func (Null) aql() string { return "null" }

// Call is a function call.
type Call struct {
	Fn   string
	Args []Expr
}

func (c Call) aql() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.aql()
	}
	return c.Fn + "(" + strings.Join(args, ", ") + ")"
}

// Binary is a binary operation such as a comparison.
type Binary struct {
	Left  Expr
	Op    string
	Right Expr
}

func (b Binary) aql() string { return b.Left.aql() + " " + b.Op + " " + b.Right.aql() }

// Or joins conditions with OR.
type Or []Expr

func (o Or) aql() string {
	terms := make([]string, len(o))
	for i, t := range o {
		terms[i] = t.aql()
	}
	return strings.Join(terms, " OR ")
}

// Pair is one attribute of an object literal.
type Pair struct {
	Key   Expr
	Value Expr
}

// Object is an object literal. Var keys render as plain attribute names,
// Bind keys as bind parameters.
type Object []Pair

func (o Object) aql() string {
	pairs := make([]string, len(o))
	for i, p := range o {
		pairs[i] = p.Key.aql() + ": " + p.Value.aql()
	}
	return "{" + strings.Join(pairs, ", ") + "}"
}

// List is an array literal.
type List []Expr

func (l List) aql() string {
	items := make([]string, len(l))
	for i, item := range l {
		items[i] = item.aql()
	}
	return "[" + strings.Join(items, ", ") + "]"
}

// Subquery wraps a statement used as an expression. As the value of a LET
// it renders over several lines.
type Subquery struct {
	*Statement
}

func (s Subquery) aql() string {
	lines := strings.Split(s.Statement.String(), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return "(" + strings.Join(lines, " ") + ")"
}

// Op is one high-level operation of a statement.
type Op interface {
	write(w *writer)
}

// With declares the collections a traversal may touch.
type With struct {
	Collections []string
}

func (o With) write(w *writer) {
	names := make([]string, len(o.Collections))
	for i, c := range o.Collections {
		names[i] = ident(c)
	}
	w.line("WITH " + strings.Join(names, ", "))
}

// For iterates a collection, view, variable or array.
type For struct {
	Var string
	In  Expr
}

func (o For) write(w *writer) { w.line("FOR " + ident(o.Var) + " IN " + o.In.aql()) }

// Traverse walks a graph from Start through edge collections.
type Traverse struct {
	Vertex    string
	Edge      string
	Traversal string
	Start     Expr
	Edges     []Expr
}

func (o Traverse) write(w *writer) {
	vars := ident(o.Vertex)
	if o.Edge != "" {
		vars += ", " + ident(o.Edge)
	}
	edges := make([]string, len(o.Edges))
	for i, e := range o.Edges {
		edges[i] = e.aql()
	}
	w.line("FOR " + vars + " IN " + o.Traversal + " " + o.Start.aql() + " " + strings.Join(edges, ", "))
}

// Search restricts a view iteration.
type Search struct {
	Cond    Expr
	Options Expr
}

func (o Search) write(w *writer) {
	line := "SEARCH " + o.Cond.aql()
	if o.Options != nil {
		line += " OPTIONS " + o.Options.aql()
	}
	w.line(line)
}

// Filter drops iterations whose condition is false.
type Filter struct {
	Cond Expr
}

func (o Filter) write(w *writer) { w.line("FILTER " + o.Cond.aql()) }

// Let assigns a variable.
type Let struct {
	Name  string
	Value Expr
}

func (o Let) write(w *writer) {
	sub, ok := o.Value.(Subquery)
	if !ok {
		w.line("LET " + ident(o.Name) + " = " + o.Value.aql())
		return
	}
	w.line("LET " + ident(o.Name) + " = (")
	w.indent++
	sub.Statement.write(w)
	w.indent--
	w.line(")")
}

// SortKey is one sort criterion.
type SortKey struct {
	Expr Expr
	Desc bool
}

// Sort orders iterations.
type Sort struct {
	Keys []SortKey
}

func (o Sort) write(w *writer) {
	keys := make([]string, len(o.Keys))
	for i, k := range o.Keys {
		keys[i] = k.Expr.aql()
		if k.Desc {
			keys[i] += " DESC"
		}
	}
	w.line("SORT " + strings.Join(keys, ", "))
}

// Limit pages iterations.
type Limit struct {
	Offset int
	Count  int
}

func (o Limit) write(w *writer) {
	w.line("LIMIT " + strconv.Itoa(o.Offset) + ", " + strconv.Itoa(o.Count))
}

// Return produces the statement's result.
type Return struct {
	Distinct bool
	Value    Expr
}

func (o Return) write(w *writer) {
	line := "RETURN "
	if o.Distinct {
		line += "DISTINCT "
	}
	w.line(line + o.Value.aql())
}

// Insert writes a document into a collection.
type Insert struct {
	Doc  Expr
	Into Expr
}

func (o Insert) write(w *writer) { w.line("INSERT " + o.Doc.aql() + " INTO " + o.Into.aql()) }

// Update patches a document.
type Update struct {
	Key     Expr
	With    Expr
	In      Expr
	Options Object
}

func (o Update) write(w *writer) {
	line := "UPDATE " + o.Key.aql()
	if o.With != nil {
		line += " WITH " + o.With.aql()
	}
	line += " IN " + o.In.aql()
	if len(o.Options) > 0 {
		line += " OPTIONS " + o.Options.aql()
	}
	w.line(line)
}

// Remove deletes a document.
type Remove struct {
	Key Expr
	In  Expr
}

func (o Remove) write(w *writer) { w.line("REMOVE " + o.Key.aql() + " IN " + o.In.aql()) }

// Statement is an ordered list of operations. Operations following a loop
// render one level deeper.
type Statement struct {
	Ops []Op
}

// Add appends operations, skipping nil ones.
func (s *Statement) Add(ops ...Op) *Statement {
	for _, op := range ops {
		if op != nil {
			s.Ops = append(s.Ops, op)
		}
	}
	return s
}

// String renders the statement.
func (s *Statement) String() string {
	w := &writer{}
	s.write(w)
	return strings.TrimRight(w.b.String(), "\n")
}

func (s *Statement) write(w *writer) {
	base := w.indent
	for _, op := range s.Ops {
		op.write(w)
		switch op.(type) {
		case For, Traverse:
			w.indent++
		}
	}
	w.indent = base
}

type writer struct {
	b      strings.Builder
	indent int
}

func (w *writer) line(s string) {
	w.b.WriteString(strings.Repeat("    ", w.indent))
	w.b.WriteString(s)
	w.b.WriteByte('\n')
}
