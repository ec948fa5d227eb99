package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/protojour/pymoriam/errors"
)

type attributeList []Attribute

// UnmarshalYAML keeps the declaration order of the attribute mapping.
func (a *attributeList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("attributes should be a map")
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		*a = append(*a, Attribute{Name: node.Content[i].Value, Field: node.Content[i+1].Value})
	}
	return nil
}

type relationDoc struct {
	label     string
	targets   []string
	edge      string
	direction string
}

type relationList []relationDoc

func (r *relationList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("relations should be a map")
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		var triple []any
		if err := node.Content[i+1].Decode(&triple); err != nil || len(triple) != 3 {
			return fmt.Errorf("Relation should have 3 items (see relations: %s)", node.Content[i].Value)
		}
		rel := relationDoc{label: node.Content[i].Value}
		switch t := triple[0].(type) {
		case string:
			rel.targets = []string{t}
		case []any:
			for _, item := range t {
				s, _ := item.(string)
				rel.targets = append(rel.targets, s)
			}
		}
		for i, target := range rel.targets {
			if target != Any {
				rel.targets[i] = SnakeCase(target)
			}
		}
		rel.edge, _ = triple[1].(string)
		rel.direction, _ = triple[2].(string)
		*r = append(*r, rel)
	}
	return nil
}

type classDoc struct {
	name        string
	Description string         `yaml:"description"`
	Resolver    string         `yaml:"resolver"`
	Alias       string         `yaml:"alias"`
	Operations  []string       `yaml:"operations"`
	Permissive  string         `yaml:"permissive"`
	Constants   map[string]any `yaml:"constants"`
	Attributes  attributeList  `yaml:"attributes"`
	Relations   relationList   `yaml:"relations"`
	Triggers    []string       `yaml:"triggers"`
}

// decodeDomain parses and validates a domain schema document. Class names
// come back snake_cased, in declaration order.
func decodeDomain(data []byte, db *DBSchema) ([]*classDoc, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, errors.Schemaf("%v", err)
	}
	doc := &root
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		doc = doc.Content[0]
	}
	if doc.Kind != yaml.MappingNode {
		return nil, errors.Schemaf("Domain schema should be a map")
	}

	var generic any
	if err := doc.Decode(&generic); err != nil {
		return nil, errors.Schemaf("%v", err)
	}
	if err := validateAgainst(domainSchemaLoader, generic, "domain schema"); err != nil {
		return nil, err
	}

	rawNames := make([]string, 0, len(doc.Content)/2)
	for i := 0; i+1 < len(doc.Content); i += 2 {
		rawNames = append(rawNames, doc.Content[i].Value)
	}
	if collisions := classNameCollisions(rawNames); len(collisions) > 0 {
		return nil, errors.Schemaf("Domain schema contains colliding class names: %s", strings.Join(collisions, ", "))
	}

	docs := make([]*classDoc, 0, len(rawNames))
	names := make(map[string]bool, len(rawNames))
	for i := 0; i+1 < len(doc.Content); i += 2 {
		cd := &classDoc{name: SnakeCase(doc.Content[i].Value)}
		if err := doc.Content[i+1].Decode(cd); err != nil {
			return nil, errors.Schemaf("%v (see %s)", err, doc.Content[i].Value)
		}
		if cd.Alias != "" {
			cd.Alias = SnakeCase(cd.Alias)
		}
		docs = append(docs, cd)
		names[cd.name] = true
	}

	if db != nil {
		for _, cd := range docs {
			if err := checkClass(cd, names, db); err != nil {
				return nil, err
			}
		}
	}
	return docs, nil
}

// ParseDomain validates a domain schema document and builds its model.
func ParseDomain(label string, data []byte, db *DBSchema) (*Model, error) {
	if err := ValidateLabel(label); err != nil {
		return nil, err
	}
	docs, err := decodeDomain(data, db)
	if err != nil {
		return nil, err
	}
	return build(SnakeCase(label), docs, db), nil
}

func build(label string, docs []*classDoc, db *DBSchema) *Model {
	m := &Model{Label: label, DB: db, classes: make(map[string]*Class, len(docs))}

	for _, cd := range docs {
		c := &Class{
			Name:        cd.name,
			Description: cd.Description,
			Resolver:    cd.Resolver,
			Class:       cd.name,
			Alias:       cd.Alias,
			Attributes:  cd.Attributes,
			Constants:   cd.Constants,
			opClass:     make(map[Operation]string),
		}
		c.Permissive, _ = ParsePermissive(cd.Permissive)
		if cd.Operations == nil {
			c.Operations = append([]Operation(nil), Operations...)
		} else {
			for _, op := range cd.Operations {
				c.Operations = append(c.Operations, Operation(op))
			}
		}
		for _, t := range cd.Triggers {
			c.Triggers = append(c.Triggers, Trigger(t))
		}
		for _, rd := range cd.Relations {
			rel := &Relation{Label: rd.label, EdgeCollection: rd.edge}
			rel.MinDepth, rel.MaxDepth, rel.Direction, _ = ParseDepthDirection(rd.direction)
			for _, t := range rd.targets {
				if t == Any {
					rel.Any = true
					rel.Targets = nil
					break
				}
				rel.Targets = append(rel.Targets, t)
			}
			c.Relations = append(c.Relations, rel)
		}
		c.index()

		m.classes[c.Name] = c
		m.order = append(m.order, c.Name)
	}

	// Aliases share the root's _class, extend its operations and serve the
	// operations they declare.
	for _, name := range m.order {
		c := m.classes[name]
		if c.Alias == "" || c.Alias == c.Name {
			continue
		}
		root, ok := m.classes[c.Alias]
		if !ok {
			continue
		}
		c.Class = root.Name
		for _, op := range c.Operations {
			if !root.Allows(op) {
				root.Operations = append(root.Operations, op)
			}
			root.opClass[op] = c.Name
		}
	}
	for _, c := range m.classes {
		sortOperations(c.Operations)
	}

	return m
}

func sortOperations(ops []Operation) {
	rank := map[Operation]int{OpCreate: 0, OpRead: 1, OpUpdate: 2, OpDelete: 3}
	sort.SliceStable(ops, func(i, j int) bool { return rank[ops[i]] < rank[ops[j]] })
}

// DomainFile is the on-disk form of a domain: a label and its schema.
type DomainFile struct {
	Label       string    `yaml:"label"`
	Description string    `yaml:"description"`
	Schema      yaml.Node `yaml:"schema"`
}

// SchemaText renders the schema of a domain file back to YAML, preserving
// class and attribute order.
func (f *DomainFile) SchemaText() (string, error) {
	out, err := yaml.Marshal(&f.Schema)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// LoadDomainFile reads one domain file.
func LoadDomainFile(path string) (*DomainFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "schema", "LoadDomainFile", "read "+path)
	}
	var f DomainFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Schemaf("Invalid domain file %s: %v", filepath.Base(path), err)
	}
	if f.Label == "" {
		return nil, errors.Schemaf("Invalid domain file %s: label is required", filepath.Base(path))
	}
	return &f, nil
}

// LoadDomainDir parses every .yml/.yaml domain file in dir, in file name
// order.
func LoadDomainDir(dir string, db *DBSchema) ([]*Model, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.WrapFatal(err, "schema", "LoadDomainDir", "read "+dir)
	}

	var models []*Model
	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".yml" && ext != ".yaml") {
			continue
		}
		f, err := LoadDomainFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		text, err := f.SchemaText()
		if err != nil {
			return nil, errors.Schemaf("Invalid domain file %s: %v", entry.Name(), err)
		}
		m, err := ParseDomain(f.Label, []byte(text), db)
		if err != nil {
			return nil, fmt.Errorf("domain %s: %w", f.Label, err)
		}
		models = append(models, m)
	}
	return models, nil
}
