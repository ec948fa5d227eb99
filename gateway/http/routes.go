package http

import (
	"encoding/json"
	"net/http"

	"github.com/protojour/pymoriam/audit"
	"github.com/protojour/pymoriam/domain"
	"github.com/protojour/pymoriam/gateway"
	"github.com/protojour/pymoriam/hooks"
	"github.com/protojour/pymoriam/query"
)

func (g *Gateway) registerDomainRoutes() {
	m := g.domains
	g.route(m, "GET /{domain}/api/search", g.search)
	g.route(m, "GET /{domain}/api/{class}", g.list)
	g.route(m, "POST /{domain}/api/{class}", g.create)
	g.route(m, "POST /{domain}/api/{class}/_bulk", g.createBulk)
	g.route(m, "PATCH /{domain}/api/{class}/_bulk", g.updateBulk)
	g.route(m, "DELETE /{domain}/api/{class}/_bulk", g.deleteBulk)
	g.route(m, "GET /{domain}/api/{class}/{key}", g.get)
	g.route(m, "PATCH /{domain}/api/{class}/{key}", g.update)
	g.route(m, "DELETE /{domain}/api/{class}/{key}", g.delete)
	g.route(m, "GET /{domain}/api/{class}/{key}/_neighbors", g.neighbors)
	g.route(m, "GET /{domain}/api/{class}/{key}/_changes", g.changes)
	g.route(m, "GET /{domain}/api/{class}/{key}/{relation}", g.relationList)
	g.route(m, "POST /{domain}/api/{class}/{key}/{relation}", g.attach)
	g.route(m, "PATCH /{domain}/api/{class}/{key}/{relation}", g.patchRelation)
	g.route(m, "DELETE /{domain}/api/{class}/{key}/{relation}", g.detach)
}

func (g *Gateway) registerSystemRoutes() {
	m := g.system
	g.route(m, "GET /system/api/domain", g.listDomains)
	g.route(m, "POST /system/api/domain", g.createDomain)
	g.route(m, "POST /system/api/domain/_validate", g.validateDomain)
	g.route(m, "GET /system/api/domain/{key}", g.getDomain)
	g.route(m, "PATCH /system/api/domain/{key}", g.updateDomain)
	g.route(m, "DELETE /system/api/domain/{key}", g.deleteDomain)
	g.route(m, "POST /system/api/audit_log", g.recordAudit)
	g.route(m, "GET /system/api/audit_log/{collection}/{key}", g.auditLog)
	g.route(m, "GET /system/api/service", g.serviceStatus)
	g.route(m, "POST /system/api/service", g.registerService)
	g.route(m, "DELETE /system/api/service/{name}", g.unregisterService)
}

func readRequest(r *http.Request) query.Request {
	return query.FromValues(r.URL.Query())
}

// Domain routes

func (g *Gateway) search(w http.ResponseWriter, r *http.Request) error {
	page, err := g.engine.Search(r.Context(), caller(r), r.PathValue("domain"), readRequest(r))
	if err != nil {
		return err
	}
	gateway.WriteJSON(w, http.StatusOK, page)
	return nil
}

func (g *Gateway) list(w http.ResponseWriter, r *http.Request) error {
	page, err := g.engine.List(r.Context(), caller(r), r.PathValue("domain"), r.PathValue("class"), readRequest(r))
	if err != nil {
		return err
	}
	gateway.WriteJSON(w, http.StatusOK, page)
	return nil
}

func (g *Gateway) create(w http.ResponseWriter, r *http.Request) error {
	input, err := decodeObject(r)
	if err != nil {
		return err
	}
	out, err := g.engine.Create(r.Context(), caller(r), r.PathValue("domain"), r.PathValue("class"), input)
	if err != nil {
		return err
	}
	gateway.WriteJSON(w, http.StatusCreated, out)
	return nil
}

func bulkParams(r *http.Request) domain.BulkParams {
	return domain.BulkParams{
		Sync:      flag(r, "sync"),
		ReturnNew: flag(r, "new"),
		ReturnOld: flag(r, "old"),
		KeepNull:  flag(r, "keep_null"),
		Merge:     flag(r, "merge"),
		Mode:      r.URL.Query().Get("mode"),
	}
}

func (g *Gateway) createBulk(w http.ResponseWriter, r *http.Request) error {
	inputs, err := decodeObjects(r)
	if err != nil {
		return err
	}
	out, err := g.engine.CreateBulk(r.Context(), caller(r), r.PathValue("domain"), r.PathValue("class"), inputs, bulkParams(r))
	if err != nil {
		return err
	}
	gateway.WriteJSON(w, http.StatusCreated, out)
	return nil
}

func (g *Gateway) updateBulk(w http.ResponseWriter, r *http.Request) error {
	inputs, err := decodeObjects(r)
	if err != nil {
		return err
	}
	out, err := g.engine.UpdateBulk(r.Context(), caller(r), r.PathValue("domain"), r.PathValue("class"), inputs, bulkParams(r))
	if err != nil {
		return err
	}
	gateway.WriteJSON(w, http.StatusOK, out)
	return nil
}

func (g *Gateway) deleteBulk(w http.ResponseWriter, r *http.Request) error {
	var selectors []any
	if err := decodeBody(r, &selectors); err != nil {
		return err
	}
	out, err := g.engine.DeleteBulk(r.Context(), caller(r), r.PathValue("domain"), r.PathValue("class"), selectors, bulkParams(r))
	if err != nil {
		return err
	}
	gateway.WriteJSON(w, http.StatusOK, out)
	return nil
}

func (g *Gateway) get(w http.ResponseWriter, r *http.Request) error {
	out, err := g.engine.Get(r.Context(), caller(r), r.PathValue("domain"), r.PathValue("class"), r.PathValue("key"), readRequest(r))
	if err != nil {
		return err
	}
	gateway.WriteJSON(w, http.StatusOK, out)
	return nil
}

func (g *Gateway) update(w http.ResponseWriter, r *http.Request) error {
	input, err := decodeObject(r)
	if err != nil {
		return err
	}
	out, err := g.engine.Update(r.Context(), caller(r), r.PathValue("domain"), r.PathValue("class"), r.PathValue("key"),
		input, isSet(r, "merge_objects"))
	if err != nil {
		return err
	}
	gateway.WriteJSON(w, http.StatusOK, out)
	return nil
}

func (g *Gateway) delete(w http.ResponseWriter, r *http.Request) error {
	if err := g.engine.Delete(r.Context(), caller(r), r.PathValue("domain"), r.PathValue("class"), r.PathValue("key")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (g *Gateway) neighbors(w http.ResponseWriter, r *http.Request) error {
	out, err := g.engine.Neighbors(r.Context(), caller(r), r.PathValue("domain"), r.PathValue("class"), r.PathValue("key"))
	if err != nil {
		return err
	}
	gateway.WriteJSON(w, http.StatusOK, out)
	return nil
}

func (g *Gateway) changes(w http.ResponseWriter, r *http.Request) error {
	page, err := g.engine.Changes(r.Context(), caller(r), r.PathValue("domain"), r.PathValue("class"), r.PathValue("key"),
		isSet(r, "edges"), readRequest(r))
	if err != nil {
		return err
	}
	gateway.WriteJSON(w, http.StatusOK, page)
	return nil
}

func (g *Gateway) relationList(w http.ResponseWriter, r *http.Request) error {
	page, err := g.engine.RelationList(r.Context(), caller(r), r.PathValue("domain"), r.PathValue("class"), r.PathValue("key"),
		r.PathValue("relation"), readRequest(r))
	if err != nil {
		return err
	}
	gateway.WriteJSON(w, http.StatusOK, page)
	return nil
}

func (g *Gateway) attach(w http.ResponseWriter, r *http.Request) error {
	input, err := decodeObject(r)
	if err != nil {
		return err
	}
	out, err := g.engine.Attach(r.Context(), caller(r), r.PathValue("domain"), r.PathValue("class"), r.PathValue("key"),
		r.PathValue("relation"), input)
	if err != nil {
		return err
	}
	gateway.WriteJSON(w, http.StatusCreated, out)
	return nil
}

func (g *Gateway) patchRelation(w http.ResponseWriter, r *http.Request) error {
	input, err := decodeObject(r)
	if err != nil {
		return err
	}
	err = g.engine.PatchRelation(r.Context(), caller(r), r.PathValue("domain"), r.PathValue("class"), r.PathValue("key"),
		r.PathValue("relation"), input, isSet(r, "merge_objects"))
	if err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (g *Gateway) detach(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	endpoints := domain.Endpoints{
		FromClass: q.Get("from_class"),
		FromKey:   q.Get("from_key"),
		ToClass:   q.Get("to_class"),
		ToKey:     q.Get("to_key"),
	}
	err := g.engine.Detach(r.Context(), caller(r), r.PathValue("domain"), r.PathValue("class"), r.PathValue("key"),
		r.PathValue("relation"), endpoints)
	if err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// System routes

func (g *Gateway) listDomains(w http.ResponseWriter, r *http.Request) error {
	out, err := g.engine.ListDomains(r.Context(), caller(r))
	if err != nil {
		return err
	}
	gateway.WriteJSON(w, http.StatusOK, out)
	return nil
}

func (g *Gateway) createDomain(w http.ResponseWriter, r *http.Request) error {
	input, err := decodeObject(r)
	if err != nil {
		return err
	}
	out, err := g.engine.CreateDomain(r.Context(), caller(r), input)
	if err != nil {
		return err
	}
	gateway.WriteJSON(w, http.StatusCreated, out)
	return nil
}

// validateDomain checks a domain document without storing it. The _key
// argument names the stored domain the document would replace.
func (g *Gateway) validateDomain(w http.ResponseWriter, r *http.Request) error {
	input, err := decodeObject(r)
	if err != nil {
		return err
	}
	if err := g.engine.ValidateDomain(r.Context(), input, r.URL.Query().Get("_key")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (g *Gateway) getDomain(w http.ResponseWriter, r *http.Request) error {
	out, err := g.engine.GetDomain(r.Context(), caller(r), r.PathValue("key"))
	if err != nil {
		return err
	}
	gateway.WriteJSON(w, http.StatusOK, out)
	return nil
}

func (g *Gateway) updateDomain(w http.ResponseWriter, r *http.Request) error {
	input, err := decodeObject(r)
	if err != nil {
		return err
	}
	out, err := g.engine.UpdateDomain(r.Context(), caller(r), r.PathValue("key"), input)
	if err != nil {
		return err
	}
	gateway.WriteJSON(w, http.StatusOK, out)
	return nil
}

func (g *Gateway) deleteDomain(w http.ResponseWriter, r *http.Request) error {
	if err := g.engine.DeleteDomain(r.Context(), caller(r), r.PathValue("key")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (g *Gateway) recordAudit(w http.ResponseWriter, r *http.Request) error {
	var items []audit.Item
	if err := decodeBody(r, &items); err != nil {
		return err
	}
	out, err := g.engine.RecordManual(r.Context(), caller(r), items)
	if err != nil {
		return err
	}
	gateway.WriteJSON(w, http.StatusCreated, out)
	return nil
}

func (g *Gateway) auditLog(w http.ResponseWriter, r *http.Request) error {
	page, err := g.engine.AuditLog(r.Context(), caller(r), r.PathValue("collection"), r.PathValue("key"),
		isSet(r, "edges"), readRequest(r))
	if err != nil {
		return err
	}
	gateway.WriteJSON(w, http.StatusOK, page)
	return nil
}

// serviceStatus answers 500 when any health probe failed, with the status
// of every service keyed by its name.
func (g *Gateway) serviceStatus(w http.ResponseWriter, r *http.Request) error {
	status, ok, err := g.engine.ServiceStatus(r.Context(), caller(r))
	if err != nil {
		return err
	}
	out := make(map[string]hooks.ServiceStatus, len(status))
	for _, st := range status {
		out[st.Key()] = st
	}
	code := http.StatusOK
	if !ok {
		code = http.StatusInternalServerError
	}
	gateway.WriteJSON(w, code, out)
	return nil
}

func (g *Gateway) registerService(w http.ResponseWriter, r *http.Request) error {
	var svc hooks.Service
	if err := decodeBody(r, &svc); err != nil {
		return err
	}
	if err := g.engine.RegisterService(r.Context(), caller(r), svc); err != nil {
		return err
	}
	gateway.WriteJSON(w, http.StatusCreated, json.RawMessage("{}"))
	return nil
}

func (g *Gateway) unregisterService(w http.ResponseWriter, r *http.Request) error {
	if err := g.engine.UnregisterService(r.Context(), caller(r), r.PathValue("name")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
