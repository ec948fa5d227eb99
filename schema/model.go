// Package schema holds the typed domain model: classes, attribute maps,
// relations and the backend collection schema they resolve against.
package schema

import (
	"fmt"
	"sort"

	"github.com/protojour/pymoriam/errors"
)

// Permissive controls whether storage fields that are not declared as
// attributes pass through translation.
type Permissive int

const (
	PermissiveNo Permissive = iota
	PermissiveInput
	PermissiveOutput
	PermissiveBoth
)

var permissiveNames = [...]string{"no", "input", "output", "both"}

func (p Permissive) String() string {
	if p < 0 || int(p) >= len(permissiveNames) {
		return "unknown"
	}
	return permissiveNames[p]
}

// ParsePermissive reads a permissive value; the empty string means no.
func ParsePermissive(s string) (Permissive, error) {
	if s == "" {
		return PermissiveNo, nil
	}
	for i, name := range permissiveNames {
		if s == name {
			return Permissive(i), nil
		}
	}
	return PermissiveNo, fmt.Errorf("permissive should be \"no\", \"input\", \"output\", or \"both\", got %q", s)
}

// Input reports whether undeclared fields pass through on input.
func (p Permissive) Input() bool { return p == PermissiveInput || p == PermissiveBoth }

// Output reports whether undeclared fields pass through on output.
func (p Permissive) Output() bool { return p == PermissiveOutput || p == PermissiveBoth }

func (p Permissive) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Permissive) UnmarshalText(text []byte) error {
	parsed, err := ParsePermissive(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Operation is one of the four object operations a class may permit.
type Operation string

const (
	OpCreate Operation = "create"
	OpRead   Operation = "read"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Operations lists every operation in canonical order.
var Operations = []Operation{OpCreate, OpRead, OpUpdate, OpDelete}

// Trigger is a mutation side effect declared on a class.
type Trigger string

const (
	TriggerSetCreator Trigger = "set_creator"
	TriggerSetCreated Trigger = "set_created"
	TriggerSetUpdated Trigger = "set_updated"
	TriggerAudit      Trigger = "audit"
)

// Triggers lists every known trigger.
var Triggers = []Trigger{TriggerSetCreator, TriggerSetCreated, TriggerSetUpdated, TriggerAudit}

// Any is the wildcard relation target.
const Any = "ANY"

// Reserved storage fields are never passed through as permissive fields.
var Reserved = map[string]bool{
	"_id": true, "_key": true, "_rev": true, "_from": true, "_to": true,
	"_class": true, "_index": true, "_edge": true, "_meta": true,
}

// Attribute maps a domain field to its storage field.
type Attribute struct {
	Name  string
	Field string
}

// Class is a normalized domain class.
type Class struct {
	Name        string
	Description string
	// Resolver is the storage collection.
	Resolver string
	// Class is the value stored in _class: the alias root, or Name.
	Class string
	// Alias names the root class this class shares its resolver with.
	Alias      string
	Attributes []Attribute
	Relations  []*Relation
	Constants  map[string]any
	Permissive Permissive
	Operations []Operation
	Triggers   []Trigger

	// opClass maps each operation to the class spec that serves it.
	opClass map[Operation]string

	byName  map[string]string
	byField map[string]string
	rels    map[string]*Relation
}

func (c *Class) index() {
	c.byName = make(map[string]string, len(c.Attributes))
	c.byField = make(map[string]string, len(c.Attributes))
	for _, attr := range c.Attributes {
		c.byName[attr.Name] = attr.Field
		c.byField[attr.Field] = attr.Name
	}
	c.rels = make(map[string]*Relation, len(c.Relations))
	for _, rel := range c.Relations {
		c.rels[rel.Label] = rel
	}
}

// Field resolves a domain field name to its storage field.
func (c *Class) Field(name string) (string, bool) {
	field, ok := c.byName[name]
	return field, ok
}

// HasField reports whether field is a declared storage field.
func (c *Class) HasField(field string) bool {
	_, ok := c.byField[field]
	return ok
}

// Relation returns the relation with the given label.
func (c *Class) Relation(label string) (*Relation, bool) {
	rel, ok := c.rels[label]
	return rel, ok
}

// Allows reports whether op is in the class's operations.
func (c *Class) Allows(op Operation) bool {
	for _, o := range c.Operations {
		if o == op {
			return true
		}
	}
	return false
}

// HasTrigger reports whether the class declares t.
func (c *Class) HasTrigger(t Trigger) bool {
	for _, tr := range c.Triggers {
		if tr == t {
			return true
		}
	}
	return false
}

// OperationClass returns the name of the class spec that serves op, which
// is an alias class when one declared the operation.
func (c *Class) OperationClass(op Operation) string {
	if name, ok := c.opClass[op]; ok {
		return name
	}
	return c.Name
}

// Model is one domain: a label and its classes.
type Model struct {
	Label   string
	DB      *DBSchema
	classes map[string]*Class
	order   []string
}

// Class returns the class with the given (snake_case) name.
func (m *Model) Class(name string) (*Class, bool) {
	c, ok := m.classes[name]
	return c, ok
}

// Classes returns classes in declaration order.
func (m *Model) Classes() []*Class {
	out := make([]*Class, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.classes[name])
	}
	return out
}

// ClassNames returns class names in declaration order.
func (m *Model) ClassNames() []string {
	return append([]string(nil), m.order...)
}

// Resolve looks up name and returns the class spec serving op. It fails with
// NotFound for unknown classes and NotPermitted when op is not allowed.
func (m *Model) Resolve(name string, op Operation) (*Class, error) {
	class, ok := m.classes[name]
	if !ok {
		return nil, errors.NotFoundf("%s does not exist", name)
	}
	if served, ok := m.classes[class.OperationClass(op)]; ok {
		class = served
	}
	if !class.Allows(op) {
		return nil, errors.NotPermittedf("Operation '%s' is not permitted for this domain class", op)
	}
	return class, nil
}

// TargetClasses returns the classes a relation may point to; every class
// for ANY.
func (m *Model) TargetClasses(rel *Relation) []*Class {
	if rel.Any {
		return m.Classes()
	}
	out := make([]*Class, 0, len(rel.Targets))
	for _, name := range rel.Targets {
		if c, ok := m.classes[name]; ok {
			out = append(out, c)
		}
	}
	return out
}

// RelationAttributes merges the attribute maps of every target class of
// rel. A later target overrides an earlier one on the same domain field.
func (m *Model) RelationAttributes(rel *Relation) map[string]string {
	out := make(map[string]string)
	for _, c := range m.TargetClasses(rel) {
		for _, attr := range c.Attributes {
			out[attr.Name] = attr.Field
		}
	}
	return out
}

// RelationRelations merges the relations declared on every target class of
// rel, later targets overriding earlier ones.
func (m *Model) RelationRelations(rel *Relation) map[string]*Relation {
	out := make(map[string]*Relation)
	for _, c := range m.TargetClasses(rel) {
		for _, sub := range c.Relations {
			out[sub.Label] = sub
		}
	}
	return out
}

// EdgeAttributes maps each property of the relation's edge collection to
// itself.
func (m *Model) EdgeAttributes(rel *Relation) map[string]string {
	out := make(map[string]string)
	if m.DB == nil {
		return out
	}
	if coll, ok := m.DB.EdgeCollections[rel.EdgeCollection]; ok {
		for name := range coll.Properties {
			out[name] = name
		}
	}
	return out
}

// Catalog maps domain labels to models. A catalog is immutable once built.
type Catalog struct {
	Generation string
	DB         *DBSchema
	domains    map[string]*Model
}

// NewCatalog builds a catalog from models.
func NewCatalog(generation string, db *DBSchema, models ...*Model) *Catalog {
	c := &Catalog{Generation: generation, DB: db, domains: make(map[string]*Model, len(models))}
	for _, m := range models {
		c.domains[m.Label] = m
	}
	return c
}

// Domain returns the model for label.
func (c *Catalog) Domain(label string) (*Model, error) {
	if c != nil {
		if m, ok := c.domains[label]; ok {
			return m, nil
		}
	}
	return nil, errors.NotFoundf("Domain %s does not exist", label)
}

// Labels returns the domain labels in sorted order.
func (c *Catalog) Labels() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.domains))
	for label := range c.domains {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}
