package domain

import (
	"github.com/protojour/pymoriam/schema"
)

// stampCreate applies the creation triggers of class to data.
func (e *Engine) stampCreate(data map[string]any, class *schema.Class, caller Caller) map[string]any {
	if class.HasTrigger(schema.TriggerSetCreator) {
		data["creator"] = caller.EntityID
	}
	if class.HasTrigger(schema.TriggerSetCreated) {
		data["created"] = e.now()
	}
	e.stampUpdated(data, class)
	if class.HasTrigger(schema.TriggerAudit) && e.recorder != nil && e.recorder.Config().Versioning {
		data["_version"] = nil
	}
	return data
}

// stampUpdated sets updated. The first stamp of a fresh object copies
// created so both agree.
func (e *Engine) stampUpdated(data map[string]any, class *schema.Class) map[string]any {
	if !class.HasTrigger(schema.TriggerSetUpdated) {
		return data
	}
	_, hasUpdated := data["updated"]
	created, hasCreated := data["created"]
	if !hasUpdated && hasCreated {
		data["updated"] = created
	} else {
		data["updated"] = e.now()
	}
	return data
}

// stampEdge applies creation triggers to a new edge. Edges carry no
// version.
func (e *Engine) stampEdge(data map[string]any, class *schema.Class, caller Caller) map[string]any {
	if class.HasTrigger(schema.TriggerSetCreator) {
		data["creator"] = caller.EntityID
	}
	if class.HasTrigger(schema.TriggerSetCreated) {
		data["created"] = e.now()
	}
	return e.stampUpdated(data, class)
}

// popMeta removes _meta from input and returns it.
func popMeta(input map[string]any) map[string]any {
	meta, _ := input["_meta"].(map[string]any)
	delete(input, "_meta")
	if meta == nil {
		meta = map[string]any{}
	}
	return meta
}

// withMeta attaches meta for a hook call.
func withMeta(data, meta map[string]any) map[string]any {
	data["_meta"] = meta
	return data
}

// takeMeta detaches _meta from a hook answer, keeping prev when the hook
// dropped it.
func takeMeta(data, prev map[string]any) map[string]any {
	meta, ok := data["_meta"].(map[string]any)
	delete(data, "_meta")
	if !ok {
		return prev
	}
	return meta
}
