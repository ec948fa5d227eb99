// Package translate maps documents between their storage form and the
// domain vocabulary of a class. Every function here is pure.
package translate

import (
	"slices"

	"github.com/protojour/pymoriam/query"
	"github.com/protojour/pymoriam/schema"
)

// ToDomain maps a storage document to the domain form of class. Write-only
// fields are never returned. Undeclared fields pass through when the class
// is permissive on output. Relation results named in relations are copied
// unchanged; Relations translates them.
func ToDomain(doc map[string]any, class *schema.Class, db *schema.DBSchema, relations []string) map[string]any {
	out := make(map[string]any, len(doc))
	if key, ok := doc["_key"]; ok && key != nil {
		out["_key"] = key
	}
	if c, ok := doc["_class"]; ok && c != nil {
		out["_class"] = c
	}
	if edge, ok := doc["_edge"]; ok {
		out["_edge"] = edge
	}
	if class == nil {
		return out
	}

	AddConstants(out, class)

	declared := make(map[string]bool, len(class.Attributes))
	for _, attr := range class.Attributes {
		declared[attr.Field] = true
		value, ok := doc[attr.Field]
		if !ok || db.WriteOnly(class.Resolver, attr.Field) {
			continue
		}
		out[attr.Name] = value
	}

	if class.Permissive.Output() {
		for field, value := range doc {
			if schema.Reserved[field] || declared[field] || db.WriteOnly(class.Resolver, field) {
				continue
			}
			if _, taken := out[field]; taken {
				continue
			}
			out[field] = value
		}
	}

	for _, label := range relations {
		if value, ok := doc[label]; ok {
			out[label] = value
		}
	}
	return out
}

// ToStorage maps domain input to the storage form of class. Undeclared,
// non-reserved fields pass through when the class is permissive on input.
func ToStorage(input map[string]any, class *schema.Class) map[string]any {
	out := make(map[string]any, len(input))
	names := make(map[string]bool, len(class.Attributes))
	for _, attr := range class.Attributes {
		names[attr.Name] = true
		if value, ok := input[attr.Name]; ok {
			out[attr.Field] = value
		}
	}

	if class.Permissive.Input() {
		for field, value := range input {
			if schema.Reserved[field] || names[field] {
				continue
			}
			if _, taken := out[field]; taken {
				continue
			}
			out[field] = value
		}
	}
	return out
}

// SetDefaults fills fields missing from data with the defaults the backend
// schema declares for collection.
func SetDefaults(data map[string]any, collection string, db *schema.DBSchema) map[string]any {
	if db == nil {
		return data
	}
	for field, value := range db.Defaults(collection) {
		if _, ok := data[field]; !ok {
			data[field] = value
		}
	}
	return data
}

// AddConstants sets the constants of class on obj.
func AddConstants(obj map[string]any, class *schema.Class) map[string]any {
	for field, value := range class.Constants {
		obj[field] = value
	}
	return obj
}

// Results shapes the root results of a read. Without a field list every
// result is translated; a projected result already carries domain names and
// only loses _class unless it was asked for.
func Results(model *schema.Model, class *schema.Class, results []map[string]any, req query.Request, relations, fields []string) []map[string]any {
	out := make([]map[string]any, len(results))
	for i, doc := range results {
		if len(fields) == 0 {
			out[i] = ToDomain(doc, class, model.DB, relations)
			continue
		}
		if !slices.Contains(fields, "_class") {
			delete(doc, "_class")
		}
		out[i] = doc
	}
	return Relations(model, out, req, relations, 0)
}

// ResultsByClass shapes results that mix classes, such as relation
// listings and domain search. Each result is translated with the class
// named by its own _class.
func ResultsByClass(model *schema.Model, results []map[string]any, req query.Request, relations, fields []string) []map[string]any {
	out := make([]map[string]any, len(results))
	for i, doc := range results {
		if len(fields) == 0 {
			out[i] = ToDomain(doc, classOf(model, doc), model.DB, relations)
			continue
		}
		if !slices.Contains(fields, "_class") {
			delete(doc, "_class")
		}
		out[i] = doc
	}
	return Relations(model, out, req, relations, 0)
}

// Relations translates the nested relation results of results compiled at
// level. Each related object is translated with the class named by its own
// _class.
func Relations(model *schema.Model, results []map[string]any, req query.Request, relations []string, level int) []map[string]any {
	for _, result := range results {
		for _, label := range relations {
			related := asDocs(result[label])
			if len(related) == 0 {
				if _, ok := result[label]; ok {
					result[label] = []map[string]any{}
				}
				continue
			}

			subRelations := query.Scope(req.Relations, label, level+1)
			subFields := query.Scope(req.Fields, label, level+1)
			subFields = slices.DeleteFunc(subFields, func(f string) bool { return f == "_edge" })

			for i, doc := range related {
				if len(subFields) == 0 {
					related[i] = ToDomain(doc, classOf(model, doc), model.DB, subRelations)
				} else if !slices.Contains(subFields, "_class") {
					delete(doc, "_class")
				}
			}
			if len(subRelations) > 0 {
				related = Relations(model, related, req, subRelations, level+1)
			}
			result[label] = related
		}
	}
	return results
}

func classOf(model *schema.Model, doc map[string]any) *schema.Class {
	name, _ := doc["_class"].(string)
	class, _ := model.Class(name)
	return class
}

// asDocs normalizes a relation result decoded from JSON. A single object
// becomes a one-element list.
func asDocs(v any) []map[string]any {
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
	return nil
}
