package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/protojour/pymoriam/arango"
	"github.com/protojour/pymoriam/audit"
	"github.com/protojour/pymoriam/config"
	"github.com/protojour/pymoriam/domain"
	"github.com/protojour/pymoriam/gateway"
	"github.com/protojour/pymoriam/gateway/graphql"
	gwhttp "github.com/protojour/pymoriam/gateway/http"
	"github.com/protojour/pymoriam/health"
	"github.com/protojour/pymoriam/hooks"
	"github.com/protojour/pymoriam/metric"
	"github.com/protojour/pymoriam/natsclient"
	"github.com/protojour/pymoriam/pkg/tlsutil"
	"github.com/protojour/pymoriam/schema"
	"github.com/protojour/pymoriam/search"
	"github.com/protojour/pymoriam/tasks"
)

// app holds the running components in start order.
type app struct {
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	store    *arango.Client
	nats     *natsclient.Client
	queue    *tasks.Queue
	reloader *domain.Reloader
	engine   *domain.Engine
	monitor  *health.Monitor
	server   *gateway.Server
}

// newApp connects the store, loads the schemas and builds the HTTP surface.
// Components started before a failure are stopped again.
func newApp(ctx context.Context, cfg *config.Config, cli *CLIConfig, logger *slog.Logger) (_ *app, err error) {
	a := &app{
		logger:   logger,
		registry: metric.NewMetricsRegistry(),
		monitor:  health.NewMonitor(),
	}
	defer func() {
		if err != nil {
			_ = a.close(cli.ShutdownTimeout)
		}
	}()
	metrics := a.registry.CoreMetrics()

	db, err := schema.LoadDBSchema(cfg.Schemas.DBSchema)
	if err != nil {
		return nil, fmt.Errorf("load db schema: %w", err)
	}
	if cfg.Audit.LogDB {
		db = db.WithAuditLog()
	}
	searchCfg, err := search.LoadConfig(cfg.Schemas.SearchConfig)
	if err != nil {
		return nil, fmt.Errorf("load search config: %w", err)
	}

	if a.store, err = connectStore(ctx, cfg, logger, metrics); err != nil {
		return nil, err
	}
	if err := prepareStore(ctx, a.store, db, searchCfg, cli, logger); err != nil {
		return nil, err
	}
	a.monitor.Register("arango", a.store.Ping, true)

	var marker domain.Marker
	if cfg.NATS.Enabled {
		kv, err := a.connectNATS(ctx, cfg.NATS, logger)
		if err != nil {
			return nil, err
		}
		marker = kv
	}

	services := hooks.NewRegistry(logger)
	if cfg.Schemas.ServiceConfig != "" {
		svcs, err := hooks.LoadServiceConfig(cfg.Schemas.ServiceConfig)
		if err != nil {
			return nil, fmt.Errorf("load service config: %w", err)
		}
		services.Load(svcs)
	}

	a.queue = tasks.NewQueue(cfg.Workers.Count, cfg.Workers.QueueSize,
		tasks.WithLogger(logger),
		tasks.WithMetrics(a.registry))
	if err := a.queue.Start(ctx); err != nil {
		return nil, fmt.Errorf("start task queue: %w", err)
	}

	hookClient, err := tlsutil.NewHTTPClient(cfg.Security.TLS.Client, cfg.Hooks.Timeout.Std())
	if err != nil {
		return nil, fmt.Errorf("hook client: %w", err)
	}
	dispatcherOpts := []hooks.Option{
		hooks.WithHTTPClient(hookClient),
		hooks.WithTimeout(cfg.Hooks.Timeout.Std()),
		hooks.WithLogger(logger),
		hooks.WithMetrics(metrics),
	}
	if cfg.Hooks.RateLimit > 0 {
		dispatcherOpts = append(dispatcherOpts, hooks.WithRateLimit(cfg.Hooks.RateLimit, cfg.Hooks.Burst))
	}
	dispatcher := hooks.NewDispatcher(services, a.queue, dispatcherOpts...)

	recorder := audit.NewRecorder(a.store, a.queue, audit.Config{
		Log:          cfg.Audit.Log,
		LogDB:        cfg.Audit.LogDB,
		Versioning:   cfg.Audit.Versioning,
		PollAttempts: cfg.Audit.PollAttempts,
		PollInterval: cfg.Audit.PollInterval.Std(),
	}, audit.WithLogger(logger), audit.WithMetrics(metrics))

	schemas := schema.NewRegistry(nil)
	reloadOpts := []domain.ReloadOption{
		domain.WithDomainDir(cfg.Schemas.DomainDir),
		domain.WithStoredDomains(cfg.Schemas.FromStore),
		domain.WithServices(services),
		domain.WithReloadLogger(logger),
		domain.WithReloadMetrics(metrics),
	}
	if marker != nil {
		reloadOpts = append(reloadOpts, domain.WithMarker(marker))
	}
	a.reloader = domain.NewReloader(schemas, a.store, db, reloadOpts...)
	if err := a.reloader.Reload(ctx); err != nil {
		return nil, fmt.Errorf("build schemas: %w", err)
	}
	if cfg.Schemas.Reload {
		if err := a.reloader.Watch(ctx); err != nil {
			return nil, fmt.Errorf("watch schema marker: %w", err)
		}
	}
	a.monitor.Register("schemas", a.reloader.Check, false)

	a.engine = domain.New(a.store, schemas, dispatcher, recorder, a.queue,
		domain.Config{NoDelete: cfg.NoDelete, DefaultLimit: cfg.Arango.DefaultLimit},
		domain.WithSearch(searchCfg),
		domain.WithReloader(a.reloader),
		domain.WithLogger(logger),
		domain.WithMetrics(metrics))

	handler, err := a.buildGateway(cfg, metrics)
	if err != nil {
		return nil, err
	}

	serverTLS, err := tlsutil.LoadServerTLSConfig(cfg.Security.TLS.Server)
	if err != nil {
		return nil, fmt.Errorf("server TLS: %w", err)
	}
	a.server, err = gateway.NewServer(gateway.ServerConfig{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout.Std(),
		WriteTimeout: cfg.HTTP.WriteTimeout.Std(),
		TLS:          serverTLS,
	}, handler, logger)
	if err != nil {
		return nil, fmt.Errorf("create server: %w", err)
	}
	return a, nil
}

func connectStore(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *metric.Metrics) (*arango.Client, error) {
	httpClient, err := tlsutil.NewHTTPClient(cfg.Security.TLS.Client, cfg.Arango.RequestTimeout.Std())
	if err != nil {
		return nil, fmt.Errorf("store client: %w", err)
	}
	opts := []arango.Option{
		arango.WithDatabase(cfg.Arango.Database),
		arango.WithHTTPClient(httpClient),
		arango.WithLogger(logger),
		arango.WithMetrics(metrics),
		arango.WithQueryLogging(cfg.Logging.Queries),
		arango.WithServiceIdentity(appName),
	}
	if cfg.Arango.Username != "" {
		opts = append(opts, arango.WithBasicAuth(cfg.Arango.Username, cfg.Arango.Password))
	}
	store, err := arango.NewClient(cfg.Arango.Endpoints, opts...)
	if err != nil {
		return nil, fmt.Errorf("create store client: %w", err)
	}

	logger.Info("Connecting to store", "endpoints", cfg.Arango.Endpoints, "database", cfg.Arango.Database)
	if err := store.Connect(ctx, cfg.Arango.ConnectRetries, cfg.Arango.ConnectBackoff.Std()); err != nil {
		return nil, fmt.Errorf("connect to store: %w", err)
	}
	return store, nil
}

// prepareStore creates missing collections and the search view, and
// rebuilds search indexes when asked to.
func prepareStore(ctx context.Context, store *arango.Client, db *schema.DBSchema, searchCfg *search.Config, cli *CLIConfig, logger *slog.Logger) error {
	if cli.InitDB {
		created, err := store.Bootstrap(ctx, db)
		if err != nil {
			return fmt.Errorf("bootstrap store: %w", err)
		}
		if len(created) > 0 {
			logger.Info("Collections created", "collections", created)
		}
	}

	if !searchCfg.Enabled() {
		return nil
	}
	if cli.InitSearch {
		if err := searchCfg.EnsureAnalyzers(ctx, store, logger); err != nil {
			return fmt.Errorf("search analyzers: %w", err)
		}
		if err := searchCfg.EnsureView(ctx, store, logger); err != nil {
			return fmt.Errorf("search view: %w", err)
		}
	}
	if cli.UpdateSearch {
		n, err := searchCfg.Reindex(ctx, store, logger)
		if err != nil {
			return fmt.Errorf("reindex: %w", err)
		}
		logger.Info("Search index updated", "documents", n)
	}
	return nil
}

// connectNATS connects to the first reachable server and opens the shared
// schema bucket.
func (a *app) connectNATS(ctx context.Context, cfg config.NATSConfig, logger *slog.Logger) (*natsclient.KVStore, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithName(appName),
		natsclient.WithLogger(logger),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
		natsclient.WithReconnectWait(cfg.ReconnectWait.Std()),
		natsclient.WithMetrics(a.registry),
		natsclient.WithHealthChangeCallback(func(up bool) {
			if !up {
				logger.Warn("Schema reload signal unavailable until NATS reconnects")
			}
		}),
	}
	switch {
	case cfg.Token != "":
		opts = append(opts, natsclient.WithToken(cfg.Token))
	case cfg.Username != "":
		opts = append(opts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}

	client, err := natsclient.NewClient(strings.Join(cfg.URLs, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}
	a.nats = client

	logger.Info("Connecting to NATS", "urls", cfg.URLs)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}

	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "Memoriam schema generation and service registrations",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("schema bucket: %w", err)
	}

	a.monitor.Register("nats", func(context.Context) error {
		_, err := client.RTT()
		return err
	}, false)
	return client.NewKVStore(bucket), nil
}

// buildGateway mounts the REST routes, GraphQL, /health and /metrics.
func (a *app) buildGateway(cfg *config.Config, metrics *metric.Metrics) (http.Handler, error) {
	gwCfg := gateway.DefaultConfig()
	gwCfg.MaxRequestSize = cfg.HTTP.MaxBodyBytes
	gwCfg.RequestTimeout = cfg.Arango.RequestTimeout.Std()
	if len(cfg.HTTP.CORSOrigins) > 0 {
		gwCfg.EnableCORS = true
		gwCfg.CORSOrigins = cfg.HTTP.CORSOrigins
	}

	gw, err := gwhttp.NewGateway(a.engine, gwCfg, gwhttp.WithLogger(a.logger), gwhttp.WithMetrics(metrics))
	if err != nil {
		return nil, fmt.Errorf("create gateway: %w", err)
	}

	if cfg.GraphQL.Enabled {
		gql, err := graphql.NewHandler(a.engine, graphql.Config{
			EnablePlayground: cfg.GraphQL.Playground,
			MaxQueryDepth:    cfg.GraphQL.MaxQueryDepth,
			Concurrency:      cfg.GraphQL.Concurrency,
			QueryCacheSize:   cfg.GraphQL.QueryCacheSize,
		},
			graphql.WithLogger(a.logger),
			graphql.WithMetrics(metrics),
			graphql.WithCacheMetrics(a.registry),
			graphql.WithVersion(Version))
		if err != nil {
			return nil, fmt.Errorf("create graphql handler: %w", err)
		}
		gw.Mount(gql)
	}

	gw.Handle("GET /health", a.monitor.Handler(appName))
	gw.Handle("GET /metrics", a.registry.Handler())
	return gw, nil
}

// shutdown stops the listener first so no request submits new tasks,
// then drains the queue and closes the connections.
func (a *app) shutdown(timeout time.Duration) error {
	var errs []error
	if a.server != nil {
		if err := a.server.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("stop server: %w", err))
		}
	}
	if err := a.close(timeout); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *app) close(timeout time.Duration) error {
	var errs []error
	if a.queue != nil {
		if err := a.queue.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("stop task queue: %w", err))
		}
	}
	if a.nats != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := a.nats.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close NATS: %w", err))
		}
	}
	return errors.Join(errs...)
}
