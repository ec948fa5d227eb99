// Package domain serves the operations of every domain against the document
// store: reads compiled by the query package, mutations with their triggers,
// hook calls and audit records, relation maintenance, manual audit, domain
// management and service registration.
//
// A mutation runs its steps strictly in order:
//
//	stamp triggers -> pre hooks -> write -> post hooks and audit -> translate
//
// A failing pre hook aborts before anything is written. Post hooks and audit
// records run as background tasks unless a transaction is open, in which
// case post hooks complete before the mutation returns.
package domain

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/protojour/pymoriam/arango"
	"github.com/protojour/pymoriam/audit"
	"github.com/protojour/pymoriam/errors"
	"github.com/protojour/pymoriam/hooks"
	"github.com/protojour/pymoriam/metric"
	"github.com/protojour/pymoriam/pkg/timestamp"
	"github.com/protojour/pymoriam/query"
	"github.com/protojour/pymoriam/schema"
	"github.com/protojour/pymoriam/search"
	"github.com/protojour/pymoriam/tasks"
)

// EntityHeader carries the id of the authenticated entity.
const EntityHeader = "x-authly-entity-id"

// Caller identifies the requesting entity and the transaction its request
// runs in.
type Caller struct {
	EntityID string
	TrxID    string
	// Header holds the inbound request headers forwarded to hooks.
	Header http.Header
}

// CallerFromHeader reads the entity and transaction ids from h.
func CallerFromHeader(h http.Header) Caller {
	return Caller{
		EntityID: h.Get(EntityHeader),
		TrxID:    h.Get(hooks.TrxHeader),
		Header:   h,
	}
}

func (c Caller) hookCall(trxID string) hooks.Call {
	return hooks.Call{TrxID: trxID, Header: c.Header}
}

// Authorizer decides whether a caller may run op on resource, a class name
// or one of "domain", "audit" and "service".
type Authorizer interface {
	Authorize(ctx context.Context, caller Caller, resource, op string) error
}

// AllowAll authorizes every request.
type AllowAll struct{}

// Authorize implements Authorizer.
func (AllowAll) Authorize(context.Context, Caller, string, string) error { return nil }

// Config holds the engine switches.
type Config struct {
	// NoDelete rejects every delete operation.
	NoDelete     bool
	DefaultLimit int
}

// Engine runs domain operations.
type Engine struct {
	store    arango.Store
	domains  arango.Store
	schemas  *schema.Registry
	hooks    *hooks.Dispatcher
	recorder *audit.Recorder
	runner   tasks.Runner
	search   *search.Config
	reloader *Reloader
	authz    Authorizer
	cfg      Config
	metrics  *metric.Metrics
	logger   *slog.Logger
	clock    timestamp.Clock
}

// Option configures an Engine.
type Option func(*Engine)

// WithSearch enables _index maintenance and search.
func WithSearch(cfg *search.Config) Option {
	return func(e *Engine) { e.search = cfg }
}

// WithDomainStore sets the store holding managed domain documents. It
// defaults to the object store.
func WithDomainStore(store arango.Store) Option {
	return func(e *Engine) { e.domains = store }
}

// WithReloader publishes schema changes made through domain management.
func WithReloader(r *Reloader) Option {
	return func(e *Engine) { e.reloader = r }
}

// WithAuthorizer sets the access-control collaborator.
func WithAuthorizer(a Authorizer) Option {
	return func(e *Engine) { e.authz = a }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics records compile errors and mutations.
func WithMetrics(m *metric.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock sets the clock trigger timestamps come from.
func WithClock(clock timestamp.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// New creates an engine. Background work (post hooks outside transactions,
// audit records) runs on runner.
func New(store arango.Store, schemas *schema.Registry, dispatcher *hooks.Dispatcher, recorder *audit.Recorder, runner tasks.Runner, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		schemas:  schemas,
		hooks:    dispatcher,
		recorder: recorder,
		runner:   runner,
		authz:    AllowAll{},
		cfg:      cfg,
		logger:   slog.Default(),
		clock:    timestamp.System,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.domains == nil {
		e.domains = store
	}
	e.logger = e.logger.With("component", "domain")
	return e
}

// Schemas returns the schema registry the engine reads from.
func (e *Engine) Schemas() *schema.Registry { return e.schemas }

// Hooks returns the hook dispatcher.
func (e *Engine) Hooks() *hooks.Dispatcher { return e.hooks }

// Model returns the model of a domain, rebuilding a stale catalog first.
func (e *Engine) Model(ctx context.Context, domain string) (*schema.Model, error) {
	if e.reloader != nil {
		if err := e.reloader.Ensure(ctx); err != nil {
			e.logger.Warn("serving previous schema", "error", err)
		}
	}
	return e.schemas.Domain(domain)
}

func (e *Engine) compiler(model *schema.Model) *query.Compiler {
	return query.NewCompiler(model, query.WithSearch(e.search), query.WithDefaultLimit(e.cfg.DefaultLimit))
}

// resolve authorizes op on class and returns the model and the class spec
// serving it.
func (e *Engine) resolve(ctx context.Context, caller Caller, domain, class string, op schema.Operation) (*schema.Model, *schema.Class, error) {
	model, err := e.Model(ctx, domain)
	if err != nil {
		return nil, nil, err
	}
	if err := e.authz.Authorize(ctx, caller, class, string(op)); err != nil {
		return nil, nil, err
	}
	cls, err := model.Resolve(class, op)
	if err != nil {
		return nil, nil, err
	}
	return model, cls, nil
}

// compiled passes a compiler result through, counting rejected requests.
func (e *Engine) compiled(c *query.Compiled, err error) (*query.Compiled, error) {
	if err != nil {
		e.metrics.RecordCompileError("read")
	}
	return c, err
}

func (e *Engine) run(ctx context.Context, c *query.Compiled, trxID string, fullCount bool) (*arango.Cursor, error) {
	return e.store.Query(ctx, c.Query(), c.BindVars, arango.QueryOptions{
		FullCount: fullCount,
		TrxID:     trxID,
		Kind:      c.Kind,
	})
}

func (e *Engine) checkDelete() error {
	if e.cfg.NoDelete {
		return errors.NotPermittedf("Object deletions are disabled")
	}
	return nil
}

func (e *Engine) now() string {
	return timestamp.NowFrom(e.clock)
}

// background submits fn as a named task. Submission failures are logged.
func (e *Engine) background(name, channel string, fn func(ctx context.Context) error) {
	err := e.runner.Submit(tasks.Task{Name: name, Channel: channel, Run: fn})
	if err != nil {
		e.logger.Warn("background task not scheduled", "task", name, "channel", channel, "error", err)
	}
}

// recordAudit schedules the audit record of one change.
func (e *Engine) recordAudit(caller Caller, pre, post map[string]any, edge bool, trxID string, note any) {
	if e.recorder == nil || !e.recorder.Config().Enabled() {
		return
	}
	meta := audit.Meta{TrxID: trxID, Creator: caller.EntityID, Note: noteString(note)}
	channel, _ := post["_id"].(string)
	if channel == "" {
		channel, _ = pre["_id"].(string)
	}
	e.background("audit", channel, func(ctx context.Context) error {
		_, err := e.recorder.Record(ctx, pre, post, edge, meta)
		return err
	})
}

func noteString(note any) string {
	s, _ := note.(string)
	return s
}

// Page is one page of read results.
type Page struct {
	Skip    int              `json:"skip"`
	Limit   int              `json:"limit"`
	Total   int              `json:"results_total"`
	Results []map[string]any `json:"results"`
}

func newPage(c *query.Compiled, total int, results []map[string]any) *Page {
	if results == nil {
		results = []map[string]any{}
	}
	return &Page{Skip: c.Skip, Limit: c.Limit, Total: total, Results: results}
}

func elapsed(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
