package domain

import (
	"context"
	"strings"
	"time"

	"github.com/protojour/pymoriam/errors"
	"github.com/protojour/pymoriam/hooks"
	"github.com/protojour/pymoriam/query"
	"github.com/protojour/pymoriam/schema"
	"github.com/protojour/pymoriam/translate"
)

// List returns one page of class objects.
func (e *Engine) List(ctx context.Context, caller Caller, domain, class string, req query.Request) (*Page, error) {
	start := time.Now()
	model, cls, err := e.resolve(ctx, caller, domain, class, schema.OpRead)
	if err != nil {
		return nil, err
	}
	c, err := e.compiled(e.compiler(model).List(cls, req))
	if err != nil {
		return nil, err
	}
	cursor, err := e.run(ctx, c, "", true)
	if err != nil {
		return nil, err
	}
	results, err := e.hooks.PreList(ctx, hooks.AccessChannel(class), cursor.Result, caller.hookCall(""))
	if err != nil {
		return nil, err
	}
	results = translate.Results(model, cls, results, req, c.Relations, c.Fields)
	e.logger.Debug("list resolved", "domain", domain, "class", class, "results", len(results), "ms", elapsed(start))
	return newPage(c, cursor.Total, results), nil
}

// Get returns one class object by key.
func (e *Engine) Get(ctx context.Context, caller Caller, domain, class, key string, req query.Request) (map[string]any, error) {
	model, cls, err := e.resolve(ctx, caller, domain, class, schema.OpRead)
	if err != nil {
		return nil, err
	}
	c, err := e.compiled(e.compiler(model).Get(cls, key, req))
	if err != nil {
		return nil, err
	}
	cursor, err := e.run(ctx, c, "", false)
	if err != nil {
		return nil, err
	}
	if len(cursor.Result) == 0 {
		return nil, errors.NotFoundf("%s %s does not exist", class, key)
	}
	results, err := e.hooks.PreList(ctx, hooks.AccessChannel(class), cursor.Result, caller.hookCall(""))
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, errors.NotFoundf("%s %s does not exist", class, key)
	}
	results = translate.Results(model, cls, results[:1], req, c.Relations, c.Fields)
	return results[0], nil
}

// RelationList returns one page of the objects related to class/key
// through relation. Each result carries its edge as _edge.
func (e *Engine) RelationList(ctx context.Context, caller Caller, domain, class, key, relation string, req query.Request) (*Page, error) {
	model, cls, err := e.resolve(ctx, caller, domain, class, schema.OpRead)
	if err != nil {
		return nil, err
	}
	c, err := e.compiled(e.compiler(model).RelationList(cls, key, relation, req))
	if err != nil {
		return nil, err
	}
	cursor, err := e.run(ctx, c, "", true)
	if err != nil {
		return nil, err
	}
	results, err := e.accessByClass(ctx, cursor.Result, caller)
	if err != nil {
		return nil, err
	}
	results = translate.ResultsByClass(model, results, req, c.Relations, c.Fields)
	return newPage(c, cursor.Total, results), nil
}

// Search runs a ranked text search over every class of the domain.
func (e *Engine) Search(ctx context.Context, caller Caller, domain string, req query.Request) (*Page, error) {
	model, err := e.Model(ctx, domain)
	if err != nil {
		return nil, err
	}
	c, err := e.compiled(e.compiler(model).Search(req))
	if err != nil {
		return nil, err
	}
	cursor, err := e.run(ctx, c, "", true)
	if err != nil {
		return nil, err
	}
	results, err := e.accessByClass(ctx, cursor.Result, caller)
	if err != nil {
		return nil, err
	}
	results = translate.ResultsByClass(model, results, req, nil, nil)
	return newPage(c, cursor.Total, results), nil
}

// accessByClass passes mixed-class results through the access hooks of
// each class. Results keep their order within a class; classes follow in
// order of first appearance.
func (e *Engine) accessByClass(ctx context.Context, results []map[string]any, caller Caller) ([]map[string]any, error) {
	var order []string
	groups := map[string][]map[string]any{}
	for _, doc := range results {
		class, _ := doc["_class"].(string)
		if _, seen := groups[class]; !seen {
			order = append(order, class)
		}
		groups[class] = append(groups[class], doc)
	}
	out := make([]map[string]any, 0, len(results))
	for _, class := range order {
		docs, err := e.hooks.PreList(ctx, hooks.AccessChannel(class), groups[class], caller.hookCall(""))
		if err != nil {
			return nil, err
		}
		out = append(out, docs...)
	}
	return out, nil
}

// Neighborhood is the one-step graph around an object.
type Neighborhood struct {
	Nodes []map[string]any `json:"nodes"`
	Edges []map[string]any `json:"edges"`
}

// Neighbors returns the object and its direct neighbors over every edge
// collection. Each edge lists the relation labels it serves on the object's
// class (_relations) and on the neighbor's class (_external_relations).
// Nodes of classes outside the domain are skipped.
func (e *Engine) Neighbors(ctx context.Context, caller Caller, domain, class, key string) (*Neighborhood, error) {
	model, cls, err := e.resolve(ctx, caller, domain, class, schema.OpRead)
	if err != nil {
		return nil, err
	}
	c, err := e.compiled(e.compiler(model).Neighbors(cls, key))
	if err != nil {
		return nil, err
	}
	cursor, err := e.run(ctx, c, "", false)
	if err != nil {
		return nil, err
	}

	startID := cls.Resolver + "/" + key
	out := &Neighborhood{Nodes: []map[string]any{}, Edges: []map[string]any{}}
	for _, row := range cursor.Result {
		node, _ := row["node"].(map[string]any)
		if node == nil {
			continue
		}
		nodeClassName, _ := node["_class"].(string)
		nodeClass, ok := model.Class(nodeClassName)
		if !ok {
			continue
		}
		translated := translate.ToDomain(node, nodeClass, model.DB, nil)
		translated["_id"] = node["_id"]
		out.Nodes = append(out.Nodes, translated)

		edge, _ := row["edge"].(map[string]any)
		if edge == nil {
			continue
		}
		edgeID, _ := edge["_id"].(string)
		collection, _, _ := strings.Cut(edgeID, "/")
		inbound := edge["_to"] == startID
		edge["_relations"] = matchRelations(cls.Relations, collection, inbound)
		edge["_external_relations"] = matchRelations(nodeClass.Relations, collection, !inbound)
		out.Edges = append(out.Edges, edge)
	}
	return out, nil
}

func matchRelations(relations []*schema.Relation, collection string, inbound bool) []string {
	labels := []string{}
	for _, rel := range relations {
		if rel.MatchEdge(collection, inbound) {
			labels = append(labels, rel.Label)
		}
	}
	return labels
}

// Changes returns the audit records of one object, newest first unless
// sorted otherwise. The pre and post diffs are translated to the class
// vocabulary.
func (e *Engine) Changes(ctx context.Context, caller Caller, domain, class, key string, edges bool, req query.Request) (*Page, error) {
	model, cls, err := e.resolve(ctx, caller, domain, class, schema.OpRead)
	if err != nil {
		return nil, err
	}
	if !cls.HasTrigger(schema.TriggerAudit) {
		return nil, errors.NotFoundf("No audit trigger registered for this domain class")
	}
	c, err := e.compiled(e.compiler(model).Changes(cls.Resolver+"/"+key, edges, req))
	if err != nil {
		return nil, err
	}
	cursor, err := e.run(ctx, c, "", true)
	if err != nil {
		return nil, err
	}
	for _, record := range cursor.Result {
		for _, side := range []string{"pre", "post"} {
			diff, _ := record[side].(map[string]any)
			record[side] = translate.ToDomain(diff, cls, model.DB, nil)
		}
	}
	return newPage(c, cursor.Total, cursor.Result), nil
}

// AuditLog returns the audit records of any stored document, oldest first
// unless sorted otherwise.
func (e *Engine) AuditLog(ctx context.Context, caller Caller, collection, key string, edges bool, req query.Request) (*Page, error) {
	if err := e.authz.Authorize(ctx, caller, "audit", string(schema.OpRead)); err != nil {
		return nil, err
	}
	if len(query.Scope(req.Sorts, "", 0)) == 0 {
		req.Sorts = []string{"created"}
	}
	catalog := e.schemas.Catalog()
	if catalog == nil {
		return nil, errors.NotFoundf("No schema loaded")
	}
	c, err := e.compiled(query.NewCompiler(&schema.Model{DB: catalog.DB}, query.WithDefaultLimit(e.cfg.DefaultLimit)).
		Changes(collection+"/"+key, edges, req))
	if err != nil {
		return nil, err
	}
	cursor, err := e.run(ctx, c, "", true)
	if err != nil {
		return nil, err
	}
	return newPage(c, cursor.Total, cursor.Result), nil
}
