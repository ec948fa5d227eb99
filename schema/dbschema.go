package schema

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/protojour/pymoriam/errors"
)

// Property describes one stored field of a collection.
type Property struct {
	Type        any    `yaml:"type,omitempty" json:"type,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Default     any    `yaml:"default,omitempty" json:"default,omitempty"`
	WriteOnly   bool   `yaml:"writeOnly,omitempty" json:"writeOnly,omitempty"`
	ReadOnly    bool   `yaml:"readOnly,omitempty" json:"readOnly,omitempty"`
}

// Collection is the stored shape of a document or edge collection.
type Collection struct {
	Properties map[string]Property `yaml:"properties" json:"properties"`
}

// DBSchema is the backend schema: document and edge collections.
type DBSchema struct {
	Collections     map[string]Collection `yaml:"collections" json:"collections"`
	EdgeCollections map[string]Collection `yaml:"edge_collections" json:"edge_collections"`
}

// AuditCollection is the collection audit records are stored in.
const AuditCollection = "audit_log"

// LoadDBSchema reads and validates a DB schema YAML file.
func LoadDBSchema(path string) (*DBSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "schema", "LoadDBSchema", "read "+path)
	}
	return ParseDBSchema(data)
}

// ParseDBSchema decodes and validates a DB schema document.
func ParseDBSchema(data []byte) (*DBSchema, error) {
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, errors.Schemaf("Invalid DB schema: %v", err)
	}
	if err := validateAgainst(dbSchemaLoader, generic, "DB schema"); err != nil {
		return nil, err
	}

	var db DBSchema
	if err := yaml.Unmarshal(data, &db); err != nil {
		return nil, errors.Schemaf("Invalid DB schema: %v", err)
	}
	if db.Collections == nil {
		db.Collections = map[string]Collection{}
	}
	if db.EdgeCollections == nil {
		db.EdgeCollections = map[string]Collection{}
	}
	return &db, nil
}

// WithAuditLog returns a copy of the schema that includes the audit_log
// collection.
func (s *DBSchema) WithAuditLog() *DBSchema {
	out := &DBSchema{
		Collections:     make(map[string]Collection, len(s.Collections)+1),
		EdgeCollections: s.EdgeCollections,
	}
	for name, c := range s.Collections {
		out.Collections[name] = c
	}
	out.Collections[AuditCollection] = Collection{Properties: map[string]Property{
		"operation":  {Type: "string"},
		"changed_id": {Type: "string"},
		"from_id":    {Type: "string"},
		"to_id":      {Type: "string"},
		"edge":       {Type: "boolean"},
		"note":       {Type: "string"},
		"pre":        {Type: "object"},
		"post":       {Type: "object"},
		"parent":     {Type: "string"},
		"creator":    {Type: "string"},
		"created":    {Type: "string"},
	}}
	return out
}

// Collection returns a document or edge collection by name.
func (s *DBSchema) Collection(name string) (Collection, bool) {
	if c, ok := s.Collections[name]; ok {
		return c, true
	}
	c, ok := s.EdgeCollections[name]
	return c, ok
}

// IsEdge reports whether name is an edge collection.
func (s *DBSchema) IsEdge(name string) bool {
	_, ok := s.EdgeCollections[name]
	return ok
}

// WriteOnly reports whether field of collection is write-only.
func (s *DBSchema) WriteOnly(collection, field string) bool {
	if s == nil {
		return false
	}
	c, ok := s.Collection(collection)
	if !ok {
		return false
	}
	return c.Properties[field].WriteOnly
}

// Defaults returns the default values declared for collection.
func (s *DBSchema) Defaults(collection string) map[string]any {
	out := make(map[string]any)
	c, ok := s.Collection(collection)
	if !ok {
		return out
	}
	for name, prop := range c.Properties {
		if prop.Default != nil {
			out[name] = prop.Default
		}
	}
	return out
}

// AllCollections lists document then edge collections, each sorted, for
// WITH clauses of traversal queries.
func (s *DBSchema) AllCollections() []string {
	docs := make([]string, 0, len(s.Collections))
	for name := range s.Collections {
		docs = append(docs, name)
	}
	sort.Strings(docs)
	return append(docs, s.EdgeCollectionNames()...)
}

// EdgeCollectionNames lists edge collections sorted by name.
func (s *DBSchema) EdgeCollectionNames() []string {
	edges := make([]string, 0, len(s.EdgeCollections))
	for name := range s.EdgeCollections {
		edges = append(edges, name)
	}
	sort.Strings(edges)
	return edges
}

// With renders the WITH clause listing every collection.
func (s *DBSchema) With() string {
	return "WITH " + strings.Join(s.AllCollections(), ", ")
}

func (s *DBSchema) String() string {
	return fmt.Sprintf("DBSchema(%d collections, %d edge collections)", len(s.Collections), len(s.EdgeCollections))
}
