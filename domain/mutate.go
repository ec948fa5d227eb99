package domain

import (
	"context"
	"fmt"

	"github.com/protojour/pymoriam/arango"
	"github.com/protojour/pymoriam/errors"
	"github.com/protojour/pymoriam/hooks"
	"github.com/protojour/pymoriam/query"
	"github.com/protojour/pymoriam/schema"
	"github.com/protojour/pymoriam/search"
	"github.com/protojour/pymoriam/translate"
)

// BulkParams are the switches of bulk writes. Nil fields keep the
// defaults of the operation.
type BulkParams struct {
	Sync      *bool
	ReturnNew *bool
	ReturnOld *bool
	KeepNull  *bool
	Merge     *bool
	// Mode is the overwrite mode of bulk creates.
	Mode string
}

func pick(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func (p BulkParams) create(trxID string) arango.WriteOptions {
	opts := arango.DefaultCreateOptions()
	opts.Sync = pick(p.Sync, opts.Sync)
	opts.ReturnNew = pick(p.ReturnNew, opts.ReturnNew)
	if p.Mode != "" {
		opts.OverwriteMode = p.Mode
	}
	opts.TrxID = trxID
	return opts
}

func (p BulkParams) update(trxID string) arango.WriteOptions {
	opts := arango.DefaultUpdateOptions()
	opts.Sync = pick(p.Sync, opts.Sync)
	opts.ReturnNew = pick(p.ReturnNew, opts.Sync)
	opts.ReturnOld = pick(p.ReturnOld, opts.Sync)
	opts.KeepNull = pick(p.KeepNull, opts.KeepNull)
	opts.MergeObjects = pick(p.Merge, false)
	opts.TrxID = trxID
	return opts
}

func (p BulkParams) remove(trxID string) arango.WriteOptions {
	opts := arango.DefaultDeleteOptions()
	opts.Sync = pick(p.Sync, opts.Sync)
	opts.ReturnOld = pick(p.ReturnOld, opts.ReturnOld)
	opts.TrxID = trxID
	return opts
}

// change is one written document, before and after.
type change struct {
	pre, post map[string]any
	meta      map[string]any
}

// afterWrite fires the post hooks of channel for every change and then
// schedules their audit records. A post hook failure inside a transaction
// is returned and no audit records are scheduled.
func (e *Engine) afterWrite(ctx context.Context, caller Caller, trxID string, cls *schema.Class, channel string, edge bool, changes ...change) error {
	fires := make([]hooks.Fire, 0, len(changes))
	for i, ch := range changes {
		// Hooks and audit tasks may outlive the request; they get their own documents.
		ch.pre, ch.post = detach(ch.pre), detach(ch.post)
		changes[i] = ch
		post := ch.post
		if post != nil && ch.meta != nil {
			post = withMeta(copyDoc(post), ch.meta)
		}
		fires = append(fires, hooks.Fire{Channel: channel, Pre: ch.pre, Post: post})
	}
	if err := e.hooks.PostFire(ctx, caller.hookCall(trxID), fires...); err != nil {
		return err
	}
	if !cls.HasTrigger(schema.TriggerAudit) {
		return nil
	}
	for _, ch := range changes {
		e.recordAudit(caller, ch.pre, ch.post, edge, trxID, ch.meta["note"])
	}
	return nil
}

// preHook runs the pre hooks of channel on data, passing meta along, and
// returns the possibly rewritten data and meta with the active transaction.
func (e *Engine) preHook(ctx context.Context, caller Caller, channel string, data, meta map[string]any, trxID string) (map[string]any, map[string]any, string, error) {
	if !e.hooks.Has(channel) {
		return data, meta, trxID, nil
	}
	out, trxID, err := e.hooks.PreObject(ctx, channel, withMeta(data, meta), caller.hookCall(trxID))
	if err != nil {
		return nil, nil, trxID, err
	}
	meta = takeMeta(out, meta)
	return out, meta, trxID, nil
}

// index sets _index on data when collection is indexed for search.
func (e *Engine) index(collection string, data map[string]any) string {
	if !e.search.Indexed(collection) {
		return ""
	}
	idx := e.search.BuildIndex(collection, data)
	if idx != "" {
		data[search.IndexField] = idx
	}
	return idx
}

// prepareCreate turns domain input into the stored document: storage
// names, defaults, class, triggers, pre hooks and search index, in that
// order.
func (e *Engine) prepareCreate(ctx context.Context, caller Caller, model *schema.Model, cls *schema.Class, class string, input map[string]any, trxID string) (map[string]any, map[string]any, string, error) {
	input = copyDoc(input)
	meta := popMeta(input)

	data := translate.ToStorage(input, cls)
	data = translate.SetDefaults(data, cls.Resolver, model.DB)
	data["_class"] = cls.Class
	data = e.stampCreate(data, cls, caller)

	data, meta, trxID, err := e.preHook(ctx, caller, hooks.ObjectChannel(hooks.Pre, schema.OpCreate, class), data, meta, trxID)
	if err != nil {
		return nil, nil, trxID, err
	}
	e.index(cls.Resolver, data)
	return data, meta, trxID, nil
}

// Create stores a new class object and returns it in domain form.
func (e *Engine) Create(ctx context.Context, caller Caller, domain, class string, input map[string]any) (out map[string]any, err error) {
	defer func() { e.metrics.RecordMutation("create", err) }()
	out, _, err = e.create(ctx, caller, domain, class, input)
	return out, err
}

// create is Create returning the transaction the write ran in.
func (e *Engine) create(ctx context.Context, caller Caller, domain, class string, input map[string]any) (map[string]any, string, error) {
	model, cls, err := e.resolve(ctx, caller, domain, class, schema.OpCreate)
	if err != nil {
		return nil, caller.TrxID, err
	}
	data, meta, trxID, err := e.prepareCreate(ctx, caller, model, cls, class, input, caller.TrxID)
	if err != nil {
		return nil, trxID, err
	}

	cursor, err := e.run(ctx, query.InsertDoc(cls.Resolver, data), trxID, false)
	if err != nil {
		return nil, trxID, err
	}
	created, _ := cursor.First()["new"].(map[string]any)
	if created == nil {
		return nil, trxID, errors.WrapFatal(fmt.Errorf("insert into %s returned no document", cls.Resolver), "Engine", "Create", "insert")
	}

	channel := hooks.ObjectChannel(hooks.Post, schema.OpCreate, class)
	if err := e.afterWrite(ctx, caller, trxID, cls, channel, false, change{post: created, meta: meta}); err != nil {
		return nil, trxID, err
	}
	return translate.ToDomain(created, cls, model.DB, nil), trxID, nil
}

// CreateBulk stores several class objects with one bulk write. Items the
// store rejected come back as error documents in their position.
func (e *Engine) CreateBulk(ctx context.Context, caller Caller, domain, class string, inputs []map[string]any, params BulkParams) (out []map[string]any, err error) {
	defer func() { e.metrics.RecordMutation("create", err) }()

	model, cls, err := e.resolve(ctx, caller, domain, class, schema.OpCreate)
	if err != nil {
		return nil, err
	}
	trxID := caller.TrxID
	docs := make([]map[string]any, len(inputs))
	metas := make([]map[string]any, len(inputs))
	for i, input := range inputs {
		docs[i], metas[i], trxID, err = e.prepareCreate(ctx, caller, model, cls, class, input, trxID)
		if err != nil {
			return nil, err
		}
	}

	results, err := e.store.BulkCreate(ctx, cls.Resolver, docs, params.create(trxID))
	if err != nil {
		return nil, err
	}

	out = make([]map[string]any, len(results))
	var changes []change
	for i, res := range results {
		if res.New != nil {
			changes = append(changes, change{post: res.New, meta: metaAt(metas, i)})
			out[i] = translate.ToDomain(res.New, cls, model.DB, nil)
			continue
		}
		out[i] = res.Document()
	}
	channel := hooks.ObjectChannel(hooks.Post, schema.OpCreate, class)
	if err := e.afterWrite(ctx, caller, trxID, cls, channel, false, changes...); err != nil {
		return nil, err
	}
	return out, nil
}

func metaAt(metas []map[string]any, i int) map[string]any {
	if i < len(metas) {
		return metas[i]
	}
	return map[string]any{}
}

// prepareUpdate turns a domain patch of key into the stored patch.
func (e *Engine) prepareUpdate(ctx context.Context, caller Caller, cls *schema.Class, class, key string, input map[string]any, trxID string) (map[string]any, map[string]any, string, error) {
	input = copyDoc(input)
	meta := popMeta(input)

	data := translate.ToStorage(input, cls)
	data["_key"] = key
	data = e.stampUpdated(data, cls)
	return e.preHook(ctx, caller, hooks.ObjectChannel(hooks.Pre, schema.OpUpdate, class), data, meta, trxID)
}

// Update patches one class object. With merge set, object values are
// merged into the stored ones instead of replacing them.
func (e *Engine) Update(ctx context.Context, caller Caller, domain, class, key string, input map[string]any, merge bool) (out map[string]any, err error) {
	defer func() { e.metrics.RecordMutation("update", err) }()

	model, cls, err := e.resolve(ctx, caller, domain, class, schema.OpUpdate)
	if err != nil {
		return nil, err
	}
	data, meta, trxID, err := e.prepareUpdate(ctx, caller, cls, class, key, input, caller.TrxID)
	if err != nil {
		return nil, err
	}

	cursor, err := e.run(ctx, query.UpdateDoc(cls.Resolver, data, merge), trxID, false)
	if err != nil {
		return nil, err
	}
	row := cursor.First()
	updated, _ := row["new"].(map[string]any)
	if updated == nil {
		return nil, errors.NotFoundf("%s %s does not exist", class, key)
	}
	old, _ := row["old"].(map[string]any)

	channel := hooks.ObjectChannel(hooks.Post, schema.OpUpdate, class)
	if err := e.afterWrite(ctx, caller, trxID, cls, channel, false, change{pre: old, post: updated, meta: meta}); err != nil {
		return nil, err
	}
	if err := e.reindex(ctx, cls.Resolver, trxID, updated); err != nil {
		return nil, err
	}
	return translate.ToDomain(updated, cls, model.DB, nil), nil
}

// reindex stores the rebuilt _index of updated documents. docs are not
// modified.
func (e *Engine) reindex(ctx context.Context, collection, trxID string, docs ...map[string]any) error {
	if !e.search.Indexed(collection) {
		return nil
	}
	var patches []map[string]any
	for _, doc := range docs {
		idx := e.search.BuildIndex(collection, doc)
		if idx == "" {
			continue
		}
		patches = append(patches, map[string]any{"_key": doc["_key"], search.IndexField: idx})
	}
	if len(patches) == 0 {
		return nil
	}
	_, err := e.store.BulkUpdate(ctx, collection, patches, arango.WriteOptions{Sync: true, KeepNull: true, TrxID: trxID})
	return err
}

// UpdateBulk patches several class objects with one bulk write. Every
// item needs its _key.
func (e *Engine) UpdateBulk(ctx context.Context, caller Caller, domain, class string, inputs []map[string]any, params BulkParams) (out []map[string]any, err error) {
	defer func() { e.metrics.RecordMutation("update", err) }()

	model, cls, err := e.resolve(ctx, caller, domain, class, schema.OpUpdate)
	if err != nil {
		return nil, err
	}
	trxID := caller.TrxID
	docs := make([]map[string]any, len(inputs))
	metas := make([]map[string]any, len(inputs))
	for i, input := range inputs {
		key, _ := input["_key"].(string)
		if key == "" {
			return nil, errors.Schemaf("Missing _key in item %d", i)
		}
		docs[i], metas[i], trxID, err = e.prepareUpdate(ctx, caller, cls, class, key, input, trxID)
		if err != nil {
			return nil, err
		}
	}

	opts := params.update(trxID)
	results, err := e.store.BulkUpdate(ctx, cls.Resolver, docs, opts)
	if err != nil {
		return nil, err
	}

	out = make([]map[string]any, len(results))
	var changes []change
	var written []map[string]any
	for i, res := range results {
		if res.Old != nil && res.New != nil {
			changes = append(changes, change{pre: res.Old, post: res.New, meta: metaAt(metas, i)})
		}
		if res.New != nil {
			written = append(written, res.New)
			out[i] = translate.ToDomain(res.New, cls, model.DB, nil)
			continue
		}
		out[i] = res.Document()
	}
	channel := hooks.ObjectChannel(hooks.Post, schema.OpUpdate, class)
	if err := e.afterWrite(ctx, caller, trxID, cls, channel, false, changes...); err != nil {
		return nil, err
	}
	if opts.Sync {
		if err := e.reindex(ctx, cls.Resolver, trxID, written...); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Delete removes one class object.
func (e *Engine) Delete(ctx context.Context, caller Caller, domain, class, key string) (err error) {
	defer func() { e.metrics.RecordMutation("delete", err) }()

	if err := e.checkDelete(); err != nil {
		return err
	}
	_, cls, err := e.resolve(ctx, caller, domain, class, schema.OpDelete)
	if err != nil {
		return err
	}
	trxID, err := e.preDelete(ctx, caller, cls, class, key, caller.TrxID)
	if err != nil {
		return err
	}

	cursor, err := e.run(ctx, query.RemoveDoc(cls.Resolver, key), trxID, false)
	if err != nil {
		return err
	}
	old, _ := cursor.First()["old"].(map[string]any)
	if old == nil {
		return errors.NotFoundf("%s %s does not exist", class, key)
	}
	channel := hooks.ObjectChannel(hooks.Post, schema.OpDelete, class)
	return e.afterWrite(ctx, caller, trxID, cls, channel, false, change{pre: old})
}

// preDelete lets the pre delete hooks veto the removal of key.
func (e *Engine) preDelete(ctx context.Context, caller Caller, cls *schema.Class, class, key, trxID string) (string, error) {
	target := map[string]any{"_id": cls.Resolver + "/" + key, "_key": key}
	_, _, trxID, err := e.preHook(ctx, caller, hooks.ObjectChannel(hooks.Pre, schema.OpDelete, class), target, map[string]any{}, trxID)
	return trxID, err
}

// DeleteBulk removes several class objects with one bulk write. Selectors
// are keys or objects carrying _key. It returns the removed objects.
func (e *Engine) DeleteBulk(ctx context.Context, caller Caller, domain, class string, selectors []any, params BulkParams) (out []map[string]any, err error) {
	defer func() { e.metrics.RecordMutation("delete", err) }()

	if err := e.checkDelete(); err != nil {
		return nil, err
	}
	model, cls, err := e.resolve(ctx, caller, domain, class, schema.OpDelete)
	if err != nil {
		return nil, err
	}
	trxID := caller.TrxID
	for _, sel := range selectors {
		key := selectorKey(sel)
		if key == "" {
			return nil, errors.Schemaf("Invalid selector %v", sel)
		}
		if trxID, err = e.preDelete(ctx, caller, cls, class, key, trxID); err != nil {
			return nil, err
		}
	}

	results, err := e.store.BulkDelete(ctx, cls.Resolver, selectors, params.remove(trxID))
	if err != nil {
		return nil, err
	}
	out = make([]map[string]any, len(results))
	var changes []change
	for i, res := range results {
		if res.Old != nil {
			changes = append(changes, change{pre: res.Old})
			out[i] = translate.ToDomain(res.Old, cls, model.DB, nil)
			continue
		}
		out[i] = res.Document()
	}
	channel := hooks.ObjectChannel(hooks.Post, schema.OpDelete, class)
	if err := e.afterWrite(ctx, caller, trxID, cls, channel, false, changes...); err != nil {
		return nil, err
	}
	return out, nil
}

func selectorKey(sel any) string {
	switch v := sel.(type) {
	case string:
		return v
	case map[string]any:
		key, _ := v["_key"].(string)
		return key
	}
	return ""
}

// detach copies doc, keeping nil as nil.
func detach(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	return copyDoc(doc)
}

func copyDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
