package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/singleflight"

	"github.com/protojour/pymoriam/arango"
	"github.com/protojour/pymoriam/errors"
	"github.com/protojour/pymoriam/hooks"
	"github.com/protojour/pymoriam/metric"
	"github.com/protojour/pymoriam/natsclient"
	"github.com/protojour/pymoriam/query"
	"github.com/protojour/pymoriam/schema"
)

// MarkerKey holds the schema generation in the shared bucket. Writing a new
// generation makes every instance rebuild its catalog on next use.
const MarkerKey = "schema.generation"

// servicePrefix prefixes the shared service registrations.
const servicePrefix = "service."

// Marker is the shared key-value bucket of the reload marker and of runtime
// service registrations. *natsclient.KVStore implements it.
type Marker interface {
	Get(ctx context.Context, key string) (*natsclient.KVEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Delete(ctx context.Context, key string) error
	Watch(ctx context.Context, pattern string, opts ...jetstream.WatchOpt) (jetstream.KeyWatcher, error)
}

// Reloader rebuilds the schema catalog from the domain directory and the
// stored domains and swaps it into the registry. Rebuilds triggered
// concurrently collapse into one.
type Reloader struct {
	registry  *schema.Registry
	store     arango.Store
	db        *schema.DBSchema
	dir       string
	fromStore bool
	marker    Marker
	services  *hooks.Registry
	logger    *slog.Logger
	metrics   *metric.Metrics

	group   singleflight.Group
	stale   atomic.Bool
	mu      sync.Mutex
	lastErr error
}

// ReloadOption configures a Reloader.
type ReloadOption func(*Reloader)

// WithDomainDir loads domains from the YAML files in dir.
func WithDomainDir(dir string) ReloadOption {
	return func(r *Reloader) { r.dir = dir }
}

// WithStoredDomains loads the active domains of the domain collection.
func WithStoredDomains(enabled bool) ReloadOption {
	return func(r *Reloader) { r.fromStore = enabled }
}

// WithMarker shares the reload marker and service registrations through
// bucket.
func WithMarker(bucket Marker) ReloadOption {
	return func(r *Reloader) { r.marker = bucket }
}

// WithServices keeps services registered on other instances in sync.
func WithServices(registry *hooks.Registry) ReloadOption {
	return func(r *Reloader) { r.services = registry }
}

// WithReloadLogger sets the logger.
func WithReloadLogger(logger *slog.Logger) ReloadOption {
	return func(r *Reloader) { r.logger = logger }
}

// WithReloadMetrics records rebuilds.
func WithReloadMetrics(m *metric.Metrics) ReloadOption {
	return func(r *Reloader) { r.metrics = m }
}

// NewReloader creates a reloader for registry.
func NewReloader(registry *schema.Registry, store arango.Store, db *schema.DBSchema, opts ...ReloadOption) *Reloader {
	r := &Reloader{registry: registry, store: store, db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "reload")
	return r
}

// Build loads every domain into a new catalog. Stored domains replace
// directory domains with the same label; stored domains that fail to parse
// are skipped with a warning.
func (r *Reloader) Build(ctx context.Context, generation string) (*schema.Catalog, error) {
	byLabel := map[string]*schema.Model{}
	var order []string
	add := func(m *schema.Model) {
		if _, ok := byLabel[m.Label]; !ok {
			order = append(order, m.Label)
		}
		byLabel[m.Label] = m
	}

	if r.dir != "" {
		models, err := schema.LoadDomainDir(r.dir, r.db)
		if err != nil {
			return nil, err
		}
		for _, m := range models {
			add(m)
		}
	}

	if r.fromStore {
		c := query.All(arango.DomainCollection, map[string]any{"active": true})
		cursor, err := r.store.Query(ctx, c.Query(), c.BindVars, arango.QueryOptions{Kind: c.Kind})
		if err != nil {
			return nil, errors.Wrap(err, "Reloader", "Build", "load stored domains")
		}
		for _, doc := range cursor.Result {
			label, _ := doc["label"].(string)
			text, _ := doc["schema"].(string)
			m, err := schema.ParseDomain(label, []byte(text), r.db)
			if err != nil {
				r.logger.Warn("stored domain skipped", "domain", label, "key", doc["_key"], "error", err)
				continue
			}
			add(m)
		}
	}

	models := make([]*schema.Model, 0, len(order))
	for _, label := range order {
		models = append(models, byLabel[label])
	}
	return schema.NewCatalog(generation, r.db, models...), nil
}

// Reload rebuilds the catalog and swaps it in. The new catalog takes the
// shared generation when a marker is configured.
func (r *Reloader) Reload(ctx context.Context) error {
	_, err, _ := r.group.Do("reload", func() (any, error) {
		r.stale.Store(false)
		generation := r.generation(ctx)
		catalog, err := r.Build(ctx, generation)
		r.metrics.RecordSchemaRebuild(err)

		r.mu.Lock()
		r.lastErr = err
		r.mu.Unlock()

		if err != nil {
			r.stale.Store(true)
			r.logger.Error("schema rebuild failed", "error", err)
			return nil, err
		}
		r.registry.Swap(catalog)
		r.logger.Info("schema rebuilt", "generation", generation, "domains", catalog.Labels())
		return nil, nil
	})
	return err
}

func (r *Reloader) generation(ctx context.Context) string {
	if r.marker != nil {
		entry, err := r.marker.Get(ctx, MarkerKey)
		if err == nil && len(entry.Value) > 0 {
			return string(entry.Value)
		}
		if err != nil && !natsclient.IsKVNotFoundError(err) {
			r.logger.Warn("reload marker unreadable", "error", err)
		}
	}
	return uuid.NewString()
}

// Invalidate publishes a new generation and marks the local catalog stale.
func (r *Reloader) Invalidate(ctx context.Context) error {
	r.stale.Store(true)
	if r.marker == nil {
		return nil
	}
	if _, err := r.marker.Put(ctx, MarkerKey, []byte(uuid.NewString())); err != nil {
		return errors.WrapTransient(err, "Reloader", "Invalidate", "publish reload marker")
	}
	return nil
}

// Stale reports whether the catalog waits for a rebuild.
func (r *Reloader) Stale() bool { return r.stale.Load() }

// Ensure rebuilds the catalog when it is stale. A failed rebuild keeps the
// previous catalog in service.
func (r *Reloader) Ensure(ctx context.Context) error {
	if !r.stale.Load() {
		return nil
	}
	return r.Reload(ctx)
}

// Check reports the outcome of the last rebuild.
func (r *Reloader) Check(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastErr != nil {
		return fmt.Errorf("schema rebuild failed: %w", r.lastErr)
	}
	return nil
}

// Watch follows the shared bucket until ctx ends: a new generation marks
// the catalog stale, and service entries are registered or unregistered
// locally.
func (r *Reloader) Watch(ctx context.Context) error {
	if r.marker == nil {
		return nil
	}
	watcher, err := r.marker.Watch(ctx, ">")
	if err != nil {
		return errors.WrapTransient(err, "Reloader", "Watch", "watch marker bucket")
	}
	go func() {
		defer func() { _ = watcher.Stop() }()
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				if entry != nil {
					r.apply(entry)
				}
			}
		}
	}()
	return nil
}

func (r *Reloader) apply(entry jetstream.KeyValueEntry) {
	key := entry.Key()
	switch {
	case key == MarkerKey:
		current := r.registry.Catalog()
		if current == nil || current.Generation != string(entry.Value()) {
			r.stale.Store(true)
			r.logger.Debug("schema marked stale", "generation", string(entry.Value()))
		}
	case strings.HasPrefix(key, servicePrefix) && r.services != nil:
		name := strings.TrimPrefix(key, servicePrefix)
		if entry.Operation() != jetstream.KeyValuePut {
			if err := r.services.Unregister(name); err != nil {
				r.logger.Debug("shared service already unregistered", "service", name)
			}
			return
		}
		var svc hooks.Service
		if err := json.Unmarshal(entry.Value(), &svc); err != nil {
			r.logger.Warn("shared service unreadable", "service", name, "error", err)
			return
		}
		if err := r.services.Register(svc); err != nil {
			r.logger.Warn("shared service rejected", "service", name, "error", err)
		}
	}
}

// shareService publishes a runtime registration to the other instances.
func (r *Reloader) shareService(ctx context.Context, svc hooks.Service) error {
	if r == nil || r.marker == nil {
		return nil
	}
	data, err := json.Marshal(svc)
	if err != nil {
		return errors.WrapInvalid(err, "Reloader", "shareService", "encode service")
	}
	if _, err := r.marker.Put(ctx, servicePrefix+svc.Key(), data); err != nil {
		return errors.WrapTransient(err, "Reloader", "shareService", "publish service")
	}
	return nil
}

// unshareService withdraws a runtime registration.
func (r *Reloader) unshareService(ctx context.Context, key string) error {
	if r == nil || r.marker == nil {
		return nil
	}
	if err := r.marker.Delete(ctx, servicePrefix+key); err != nil && !natsclient.IsKVNotFoundError(err) {
		return errors.WrapTransient(err, "Reloader", "unshareService", "withdraw service")
	}
	return nil
}
