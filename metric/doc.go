// Package metric wraps a Prometheus registry with duplicate-safe registration
// and defines the core metrics of the service.
//
// Core metrics (namespace "memoriam"):
//
//   - query_executed_total{kind,status}, query_duration_seconds{kind}
//   - query_compile_errors_total{kind}
//   - mutation_total{operation,status}
//   - hook_calls_total{phase,status}, hook_call_duration_seconds{phase}
//   - audit_records_total{operation}, audit_version_stamps_total{outcome}
//   - schema_rebuilds_total{status}
//   - backend_up, nats_connected
//
// Record helpers are nil-safe so components can run without a registry:
//
//	var m *metric.Metrics // nil
//	m.RecordMutation("create", nil) // no-op
package metric
