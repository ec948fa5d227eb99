// Package pymoriam serves schema-driven domain objects stored in ArangoDB.
//
// A domain is a set of classes declared in YAML: each class maps its
// attributes onto a backend collection, declares relations to other classes
// through edge collections, and lists the operations and triggers it
// supports. Memoriam compiles REST and GraphQL requests against that model
// into AQL, runs hooks registered by external services around every change,
// and keeps an audit log of what changed.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│   gateway/http    gateway/graphql   │  /{domain}/api/..., /{domain}/graphql,
//	│   (REST routes)   (read-only)       │  /system/api/..., /health, /metrics
//	└─────────────────────────────────────┘
//	           ↓ calls
//	┌─────────────────────────────────────┐
//	│             domain.Engine           │  reads, mutations, relations,
//	│   hooks.Dispatcher  audit.Recorder  │  domain management, reload
//	└─────────────────────────────────────┘
//	           ↓ compiles with
//	┌─────────────────────────────────────┐
//	│   schema   query   translate        │  model, AQL compiler,
//	│   search                            │  domain <-> storage shapes
//	└─────────────────────────────────────┘
//	           ↓ runs on
//	┌─────────────────────────────────────┐
//	│   arango.Store        natsclient    │  cursor/bulk HTTP API,
//	│                       (KV marker)   │  schema reload signal
//	└─────────────────────────────────────┘
//
// # Packages
//
// Core:
//   - schema: domain models, the backend schema, validation, the catalog
//   - query: the filter/sort/search DSL and its AQL compiler
//   - translate: renames between domain attributes and stored fields
//   - domain: the Engine every surface calls
//   - hooks: service registry and the pre/post hook dispatcher
//   - audit: change diffs, audit records and version stamps
//   - search: the search view, analyzers and the _index field
//
// Infrastructure:
//   - arango: the document store client
//   - natsclient: NATS connection and JetStream KV
//   - tasks: background task queue over pkg/worker
//   - config, metric, health, errors
//   - pkg/retry, pkg/worker, pkg/cache, pkg/timestamp, pkg/tlsutil, pkg/security
//
// # Running
//
//	memoriam --config /etc/memoriam/config.yml
//
// Every setting can also come from the environment (ARANGO_HOSTS,
// DOMAIN_SCHEMA_DIR, AUDIT_LOG_DB, NATS_URLS, ...). With NATS configured,
// instances share a schema generation marker: changing a stored domain on
// one instance rebuilds the catalog on all of them.
package pymoriam
