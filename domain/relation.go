package domain

import (
	"context"
	"fmt"
	"strings"

	"github.com/protojour/pymoriam/errors"
	"github.com/protojour/pymoriam/hooks"
	"github.com/protojour/pymoriam/query"
	"github.com/protojour/pymoriam/schema"
	"github.com/protojour/pymoriam/translate"
)

// Endpoints override the ends of an edge. Empty fields fall back to the
// object the relation is addressed on.
type Endpoints struct {
	FromClass string
	FromKey   string
	ToClass   string
	ToKey     string
}

// popEndpoints removes the endpoint fields from data.
func popEndpoints(data map[string]any) Endpoints {
	return Endpoints{
		FromClass: popString(data, "from_class"),
		FromKey:   popString(data, "from_key"),
		ToClass:   popString(data, "to_class"),
		ToKey:     popString(data, "to_key"),
	}
}

func popString(data map[string]any, key string) string {
	v, ok := data[key]
	delete(data, key)
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func or(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// documentID resolves class and key to a stored document id.
func documentID(model *schema.Model, class, key string) (string, error) {
	cls, ok := model.Class(schema.SnakeCase(class))
	if !ok {
		return "", errors.NotFoundf("%s does not exist", class)
	}
	return cls.Resolver + "/" + key, nil
}

// ends resolves the _from and _to ids of an edge.
func ends(model *schema.Model, e Endpoints, class, key string) (string, string, error) {
	from, err := documentID(model, or(e.FromClass, class), or(e.FromKey, key))
	if err != nil {
		return "", "", err
	}
	to, err := documentID(model, or(e.ToClass, class), or(e.ToKey, key))
	if err != nil {
		return "", "", err
	}
	return from, to, nil
}

func relationOf(cls *schema.Class, label string) (*schema.Relation, error) {
	rel, ok := cls.Relation(label)
	if !ok {
		return nil, errors.NotFoundf("Relation %s does not exist on %s", label, cls.Name)
	}
	return rel, nil
}

// Attach creates an edge of relation from class/key. The other end is
// either created on the fly, when input names its _class (the edge data
// then comes from _edge), or named by other_class and other_key together
// with a direction. Explicit from_* and to_* fields override either end.
// A nested creation returns the created object with the edge as _edge;
// otherwise the stored edge is returned.
func (e *Engine) Attach(ctx context.Context, caller Caller, domain, class, key, relation string, input map[string]any) (out map[string]any, err error) {
	defer func() { e.metrics.RecordMutation("attach", err) }()

	model, cls, err := e.resolve(ctx, caller, domain, class, schema.OpCreate)
	if err != nil {
		return nil, err
	}
	rel, err := relationOf(cls, relation)
	if err != nil {
		return nil, err
	}

	input = copyDoc(input)
	meta := popMeta(input)
	trxID := caller.TrxID

	var (
		data     = input
		other    Endpoints
		nested   map[string]any
		otherCls string
		otherKey string
	)
	if name, _ := input["_class"].(string); name != "" {
		data, _ = input["_edge"].(map[string]any)
		data = copyDoc(data)
		delete(input, "_class")
		delete(input, "_edge")
		sub := caller
		sub.TrxID = trxID
		nested, trxID, err = e.create(ctx, sub, domain, schema.SnakeCase(name), input)
		if err != nil {
			return nil, err
		}
		otherCls, otherKey = name, fmt.Sprint(nested["_key"])
	} else if _, ok := input["direction"]; ok {
		otherCls, otherKey = popString(input, "other_class"), popString(input, "other_key")
	}

	direction := string(rel.Direction)
	if d := popString(data, "direction"); d != "" {
		direction = d
	}
	other = popEndpoints(data)
	if strings.Contains(direction, string(schema.Inbound)) {
		other.FromClass, other.FromKey = or(other.FromClass, otherCls), or(other.FromKey, otherKey)
	} else {
		other.ToClass, other.ToKey = or(other.ToClass, otherCls), or(other.ToKey, otherKey)
	}
	from, to, err := ends(model, other, class, key)
	if err != nil {
		return nil, err
	}

	data = translate.SetDefaults(data, rel.EdgeCollection, model.DB)
	data["_from"], data["_to"] = from, to
	data = e.stampEdge(data, cls, caller)

	data, meta, trxID, err = e.preHook(ctx, caller, hooks.RelationChannel(hooks.Pre, schema.OpCreate, class, relation), data, meta, trxID)
	if err != nil {
		return nil, err
	}

	cursor, err := e.run(ctx, query.InsertDoc(rel.EdgeCollection, data), trxID, false)
	if err != nil {
		return nil, err
	}
	edge, _ := cursor.First()["new"].(map[string]any)
	if edge == nil {
		return nil, errors.WrapFatal(fmt.Errorf("insert into %s returned no edge", rel.EdgeCollection), "Engine", "Attach", "insert")
	}

	channel := hooks.RelationChannel(hooks.Post, schema.OpCreate, class, relation)
	if err := e.afterWrite(ctx, caller, trxID, cls, channel, true, change{post: edge, meta: meta}); err != nil {
		return nil, err
	}

	if nested == nil {
		return edge, nil
	}
	edgeData := make(map[string]any, len(edge))
	for k, v := range edge {
		if !schema.Reserved[k] {
			edgeData[k] = v
		}
	}
	nested["_edge"] = edgeData
	return nested, nil
}

// PatchRelation updates the edges of relation between two objects. The
// ends default to class/key and are overridden by from_* and to_* fields
// in input.
func (e *Engine) PatchRelation(ctx context.Context, caller Caller, domain, class, key, relation string, input map[string]any, merge bool) (err error) {
	defer func() { e.metrics.RecordMutation("patch_relation", err) }()

	model, cls, err := e.resolve(ctx, caller, domain, class, schema.OpUpdate)
	if err != nil {
		return err
	}
	rel, err := relationOf(cls, relation)
	if err != nil {
		return err
	}

	data := copyDoc(input)
	meta := popMeta(data)
	delete(data, "direction")
	from, to, err := ends(model, popEndpoints(data), class, key)
	if err != nil {
		return err
	}
	data = e.stampUpdated(data, cls)

	data, meta, trxID, err := e.preHook(ctx, caller, hooks.RelationChannel(hooks.Pre, schema.OpUpdate, class, relation), data, meta, caller.TrxID)
	if err != nil {
		return err
	}

	cursor, err := e.run(ctx, query.UpdateEdge(rel.EdgeCollection, from, to, data, merge), trxID, false)
	if err != nil {
		return err
	}
	if len(cursor.Result) == 0 {
		return errors.Schemaf("No %s relation between %s and %s", relation, from, to)
	}
	changes := make([]change, 0, len(cursor.Result))
	for _, row := range cursor.Result {
		old, _ := row["old"].(map[string]any)
		updated, _ := row["new"].(map[string]any)
		changes = append(changes, change{pre: old, post: updated, meta: meta})
	}
	channel := hooks.RelationChannel(hooks.Post, schema.OpUpdate, class, relation)
	return e.afterWrite(ctx, caller, trxID, cls, channel, true, changes...)
}

// Detach removes the edges of relation between two objects.
func (e *Engine) Detach(ctx context.Context, caller Caller, domain, class, key, relation string, endpoints Endpoints) (err error) {
	defer func() { e.metrics.RecordMutation("detach", err) }()

	if err := e.checkDelete(); err != nil {
		return err
	}
	model, cls, err := e.resolve(ctx, caller, domain, class, schema.OpDelete)
	if err != nil {
		return err
	}
	rel, err := relationOf(cls, relation)
	if err != nil {
		return err
	}
	from, to, err := ends(model, endpoints, class, key)
	if err != nil {
		return err
	}

	target := map[string]any{"_from": from, "_to": to}
	_, _, trxID, err := e.preHook(ctx, caller, hooks.RelationChannel(hooks.Pre, schema.OpDelete, class, relation), target, map[string]any{}, caller.TrxID)
	if err != nil {
		return err
	}

	cursor, err := e.run(ctx, query.RemoveEdge(rel.EdgeCollection, from, to), trxID, false)
	if err != nil {
		return err
	}
	if len(cursor.Result) == 0 {
		return errors.Schemaf("No %s relation between %s and %s", relation, from, to)
	}
	changes := make([]change, 0, len(cursor.Result))
	for _, row := range cursor.Result {
		old, _ := row["old"].(map[string]any)
		changes = append(changes, change{pre: old})
	}
	channel := hooks.RelationChannel(hooks.Post, schema.OpDelete, class, relation)
	return e.afterWrite(ctx, caller, trxID, cls, channel, true, changes...)
}
