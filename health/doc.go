// Package health tracks the health of the service's dependencies.
//
// A Monitor holds one Check per component and runs them all, concurrently,
// each time /health is requested:
//
//	monitor := health.NewMonitor()
//	monitor.Register("arango", store.Ping, true)
//	monitor.Register("nats", natsCheck, false)
//	mux.Handle("GET /health", monitor.Handler("memoriam"))
//
// Any failing critical check makes the system unhealthy (503). Otherwise a
// failing non-critical check makes it degraded. Probe error messages are
// redacted so that URLs, paths, addresses and credentials never reach the
// endpoint.
package health
