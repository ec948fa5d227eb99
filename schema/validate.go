package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/protojour/pymoriam/errors"
)

var (
	//go:embed domain_schema.json
	domainSchemaJSON []byte

	//go:embed db_schema.json
	dbSchemaJSON []byte

	domainSchemaLoader = gojsonschema.NewBytesLoader(domainSchemaJSON)
	dbSchemaLoader     = gojsonschema.NewBytesLoader(dbSchemaJSON)
)

// DomainValidationSchema returns the JSON schema domain documents are
// checked against.
func DomainValidationSchema() []byte {
	return append([]byte(nil), domainSchemaJSON...)
}

// ReservedLabels cannot be used as domain labels.
var ReservedLabels = []string{"system", "authly", "onto", "docs"}

// validateAgainst checks a decoded YAML document against a JSON schema and
// folds every violation into one SchemaError.
func validateAgainst(loader gojsonschema.JSONLoader, doc any, what string) error {
	if _, err := json.Marshal(doc); err != nil {
		return errors.Schemaf("%s should be a map with string keys", what)
	}
	result, err := gojsonschema.Validate(loader, gojsonschema.NewGoLoader(doc))
	if err != nil {
		return errors.Schemaf("Invalid %s: %v", what, err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	sort.Strings(msgs)
	return errors.Schemaf("Invalid %s: %s", what, strings.Join(msgs, "; "))
}

// ValidateLabel rejects reserved domain labels.
func ValidateLabel(label string) error {
	snake := SnakeCase(label)
	if snake == "" {
		return errors.Schemaf("Domain label cannot be empty")
	}
	for _, reserved := range ReservedLabels {
		if snake == reserved {
			return errors.Schemaf("Domain cannot be named %s", label)
		}
	}
	return nil
}

// LabelCollisions returns the existing labels that collide with label after
// snake_case or PascalCase conversion.
func LabelCollisions(label string, existing []string) []string {
	var out []string
	for _, other := range existing {
		if SnakeCase(label) == SnakeCase(other) || PascalCase(label) == PascalCase(other) {
			out = append(out, other)
		}
	}
	sort.Strings(out)
	return out
}

// ValidateDomain checks a domain schema document: structure first, then
// references into the DB schema and between classes.
func ValidateDomain(data []byte, db *DBSchema) error {
	_, err := decodeDomain(data, db)
	return err
}

// checkClass runs the checks that need the DB schema or the other classes.
func checkClass(doc *classDoc, names map[string]bool, db *DBSchema) error {
	name := doc.name
	if _, ok := db.Collections[doc.Resolver]; !ok {
		return errors.Schemaf(`"resolver" should be in backend schema (see %s)`, name)
	}

	permissive, err := ParsePermissive(doc.Permissive)
	if err != nil {
		return errors.Schemaf(`"permissive" should be "no", "input", "output", or "both" (see %s)`, name)
	}

	if permissive == PermissiveNo {
		props := db.Collections[doc.Resolver].Properties
		for _, attr := range doc.Attributes {
			if _, ok := props[attr.Field]; !ok {
				return errors.Schemaf("Attribute resolver should be in backend schema properties (see %s: attributes: %s)", name, attr.Name)
			}
		}
	}

	for _, rel := range doc.Relations {
		for _, target := range rel.targets {
			if target != Any && !names[target] {
				return errors.Schemaf(`Edge type(s) should be other domain classes or "ANY" (see %s: relations: %s)`, name, rel.label)
			}
		}
		if _, ok := db.EdgeCollections[rel.edge]; !ok {
			return errors.Schemaf("Edge collection should be in backend schema (see %s: relations: %s)", name, rel.label)
		}
		if _, _, _, err := ParseDepthDirection(rel.direction); err != nil {
			return errors.Schemaf("%v (see %s: relations: %s)", err, name, rel.label)
		}
	}

	if doc.Alias != "" && !names[doc.Alias] {
		return errors.Schemaf(`"alias" should be another domain class (see %s)`, name)
	}
	return nil
}

// classNameCollisions returns the names that collide after snake_case or
// PascalCase conversion.
func classNameCollisions(names []string) []string {
	snake := make(map[string]string)
	pascal := make(map[string]string)
	dupes := make(map[string]bool)
	for _, name := range names {
		if prev, ok := snake[SnakeCase(name)]; ok && prev != name {
			dupes[SnakeCase(name)] = true
		}
		snake[SnakeCase(name)] = name
		if prev, ok := pascal[PascalCase(name)]; ok && prev != name {
			dupes[PascalCase(name)] = true
		}
		pascal[PascalCase(name)] = name
	}
	out := make([]string, 0, len(dupes))
	for d := range dupes {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
