package domain

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/protojour/pymoriam/arango"
	"github.com/protojour/pymoriam/audit"
	"github.com/protojour/pymoriam/errors"
	"github.com/protojour/pymoriam/hooks"
	"github.com/protojour/pymoriam/query"
	"github.com/protojour/pymoriam/schema"
)

// resourcesField is kept on stored domains for the access-control layer and
// never returned.
const resourcesField = "_resources"

func (e *Engine) domainRows(ctx context.Context, c *query.Compiled) ([]map[string]any, error) {
	cursor, err := e.domains.Query(ctx, c.Query(), c.BindVars, arango.QueryOptions{Kind: c.Kind})
	if err != nil {
		return nil, err
	}
	return cursor.Result, nil
}

// ListDomains returns every stored domain.
func (e *Engine) ListDomains(ctx context.Context, caller Caller) ([]map[string]any, error) {
	if err := e.authz.Authorize(ctx, caller, "domain", string(schema.OpRead)); err != nil {
		return nil, err
	}
	rows, err := e.domainRows(ctx, query.All(arango.DomainCollection, nil))
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(rows))
	for _, doc := range rows {
		delete(doc, resourcesField)
		out = append(out, doc)
	}
	return out, nil
}

// GetDomain returns one stored domain.
func (e *Engine) GetDomain(ctx context.Context, caller Caller, key string) (map[string]any, error) {
	if err := e.authz.Authorize(ctx, caller, "domain", string(schema.OpRead)); err != nil {
		return nil, err
	}
	rows, err := e.domainRows(ctx, query.Lookup(arango.DomainCollection+"/"+key))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, errors.NotFoundf("%s/%s does not exist", arango.DomainCollection, key)
	}
	doc := rows[0]
	delete(doc, resourcesField)
	return doc, nil
}

// ValidateDomain checks a domain document before it is stored. A label must
// not be reserved or collide with the label of another stored domain than
// excludeKey; a schema must be a valid domain schema document.
func (e *Engine) ValidateDomain(ctx context.Context, input map[string]any, excludeKey string) error {
	if raw, ok := input["label"]; ok {
		label, _ := raw.(string)
		if err := schema.ValidateLabel(label); err != nil {
			return err
		}
		rows, err := e.domainRows(ctx, query.All(arango.DomainCollection, nil))
		if err != nil {
			return err
		}
		labels := make([]string, 0, len(rows))
		for _, doc := range rows {
			if key, _ := doc["_key"].(string); key != "" && key == excludeKey {
				continue
			}
			if other, _ := doc["label"].(string); other != "" {
				labels = append(labels, other)
			}
		}
		if collisions := schema.LabelCollisions(label, labels); len(collisions) > 0 {
			return &errors.ConflictError{
				Message: "Domain label collides with existing domains " + strings.Join(collisions, ", "),
			}
		}
	}
	if raw, ok := input["schema"]; ok {
		text, ok := raw.(string)
		if !ok {
			return errors.Schemaf("Domain schema should be a YAML document")
		}
		catalog := e.schemas.Catalog()
		if catalog == nil {
			return errors.NotFoundf("No schema loaded")
		}
		if err := schema.ValidateDomain([]byte(text), catalog.DB); err != nil {
			return err
		}
	}
	return nil
}

// CreateDomain validates and stores a new domain keyed by its snake_case
// label.
func (e *Engine) CreateDomain(ctx context.Context, caller Caller, input map[string]any) (out map[string]any, err error) {
	defer func() { e.metrics.RecordMutation("create_domain", err) }()

	if err := e.authz.Authorize(ctx, caller, "domain", string(schema.OpCreate)); err != nil {
		return nil, err
	}
	label, _ := input["label"].(string)
	if err := schema.ValidateLabel(label); err != nil {
		return nil, err
	}
	if err := e.ValidateDomain(ctx, input, ""); err != nil {
		return nil, err
	}

	doc := copyDoc(input)
	now := e.now()
	doc["_key"] = schema.SnakeCase(label)
	doc[resourcesField] = map[string]any{}
	doc["created"] = now
	doc["updated"] = now

	rows, err := e.domainRows(ctx, query.InsertDoc(arango.DomainCollection, doc))
	if err != nil {
		return nil, err
	}
	created := firstNew(rows)
	if created == nil {
		return nil, errors.WrapFatal(fmt.Errorf("insert into %s returned no document", arango.DomainCollection), "Engine", "CreateDomain", "insert")
	}
	delete(created, resourcesField)
	e.invalidate(ctx)
	e.logger.Info("domain created", "domain", doc["_key"])
	return created, nil
}

// UpdateDomain validates and patches a stored domain. Object values replace
// the stored ones.
func (e *Engine) UpdateDomain(ctx context.Context, caller Caller, key string, input map[string]any) (out map[string]any, err error) {
	defer func() { e.metrics.RecordMutation("update_domain", err) }()

	if err := e.authz.Authorize(ctx, caller, "domain", string(schema.OpUpdate)); err != nil {
		return nil, err
	}
	if err := e.ValidateDomain(ctx, input, key); err != nil {
		return nil, err
	}

	doc := copyDoc(input)
	delete(doc, resourcesField)
	doc["_key"] = key
	doc["updated"] = e.now()

	rows, err := e.domainRows(ctx, query.UpdateDoc(arango.DomainCollection, doc, false))
	if err != nil {
		return nil, err
	}
	updated := firstNew(rows)
	if updated == nil {
		return nil, errors.NotFoundf("%s/%s does not exist", arango.DomainCollection, key)
	}
	delete(updated, resourcesField)
	e.invalidate(ctx)
	e.logger.Info("domain updated", "domain", key)
	return updated, nil
}

// DeleteDomain removes a stored domain.
func (e *Engine) DeleteDomain(ctx context.Context, caller Caller, key string) (err error) {
	defer func() { e.metrics.RecordMutation("delete_domain", err) }()

	if err := e.authz.Authorize(ctx, caller, "domain", string(schema.OpDelete)); err != nil {
		return err
	}
	if err := e.checkDelete(); err != nil {
		return err
	}
	rows, err := e.domainRows(ctx, query.RemoveDoc(arango.DomainCollection, key))
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return errors.NotFoundf("%s/%s does not exist", arango.DomainCollection, key)
	}
	e.invalidate(ctx)
	e.logger.Info("domain deleted", "domain", key)
	return nil
}

func firstNew(rows []map[string]any) map[string]any {
	if len(rows) == 0 {
		return nil
	}
	doc, _ := rows[0]["new"].(map[string]any)
	return doc
}

// invalidate publishes a schema change. Failures leave other instances on
// their current schema until the next change and are only logged.
func (e *Engine) invalidate(ctx context.Context) {
	if e.reloader == nil {
		return
	}
	if err := e.reloader.Invalidate(ctx); err != nil {
		e.logger.Warn("schema change not published", "error", err)
	}
}

// RecordManual stores audit records for changes made outside the engine.
func (e *Engine) RecordManual(ctx context.Context, caller Caller, items []audit.Item) ([]map[string]any, error) {
	if err := e.authz.Authorize(ctx, caller, "audit", string(schema.OpCreate)); err != nil {
		return nil, err
	}
	if e.recorder == nil {
		return nil, errors.NotFoundf("Audit log is not configured")
	}
	return e.recorder.Manual(ctx, items, audit.Meta{TrxID: caller.TrxID, Creator: caller.EntityID})
}

// Services returns the registered hook services.
func (e *Engine) Services() []hooks.Service {
	return e.hooks.Registry().Services()
}

// RegisterService registers svc on this instance and shares it with the
// others.
func (e *Engine) RegisterService(ctx context.Context, caller Caller, svc hooks.Service) error {
	if err := e.authz.Authorize(ctx, caller, "service", "register"); err != nil {
		return err
	}
	if err := e.hooks.Registry().Register(svc); err != nil {
		return err
	}
	if err := e.reloader.shareService(ctx, svc); err != nil {
		e.logger.Warn("service registration not shared", "service", svc.Name, "error", err)
	}
	return nil
}

// UnregisterService removes the service registered under key.
func (e *Engine) UnregisterService(ctx context.Context, caller Caller, key string) error {
	if err := e.authz.Authorize(ctx, caller, "service", "unregister"); err != nil {
		return err
	}
	key = schema.SnakeCase(key)
	if err := e.hooks.Registry().Unregister(key); err != nil {
		return err
	}
	if err := e.reloader.unshareService(ctx, key); err != nil {
		e.logger.Warn("service removal not shared", "service", key, "error", err)
	}
	return nil
}

// ServiceStatus probes the health endpoints of the registered services. ok
// is false when any probe failed.
func (e *Engine) ServiceStatus(ctx context.Context, caller Caller) ([]hooks.ServiceStatus, bool, error) {
	if err := e.authz.Authorize(ctx, caller, "service", "status"); err != nil {
		return nil, false, err
	}
	header := caller.Header
	if header == nil {
		header = http.Header{}
	}
	status, ok := e.hooks.Status(ctx, header)
	return status, ok, nil
}
