package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/protojour/pymoriam/errors"
)

// Registerer is implemented by MetricsRegistry. Packages that add their
// own collectors depend on it instead of the concrete registry.
type Registerer interface {
	Register(owner, name string, collector prometheus.Collector) error
	Unregister(owner, name string) bool
}

// MetricsRegistry owns the Prometheus registry of one process. It holds the
// core service metrics and the collectors other packages add under an
// owner.name key.
type MetricsRegistry struct {
	prom    *prometheus.Registry
	Metrics *Metrics

	mu    sync.Mutex
	owned map[string]prometheus.Collector
}

// NewMetricsRegistry registers the core metrics and the Go runtime and
// process collectors.
func NewMetricsRegistry() *MetricsRegistry {
	r := &MetricsRegistry{
		prom:    prometheus.NewRegistry(),
		Metrics: NewMetrics(),
		owned:   map[string]prometheus.Collector{},
	}
	r.prom.MustRegister(r.Metrics.collectors()...)
	r.prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prom
}

// CoreMetrics is nil on a nil registry, and the Metrics methods accept a
// nil receiver, so callers never check whether metrics are enabled.
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	if r == nil {
		return nil
	}
	return r.Metrics
}

// Register adds collector under owner.name. Registering the same key twice,
// or a collector whose descriptors clash with an existing one, is invalid.
func (r *MetricsRegistry) Register(owner, name string, collector prometheus.Collector) error {
	key := owner + "." + name

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.owned[key]; taken {
		return errors.WrapInvalid(fmt.Errorf("metric %s already registered for %s", name, owner),
			"MetricsRegistry", "Register", "duplicate metric")
	}

	err := r.prom.Register(collector)
	var clash prometheus.AlreadyRegisteredError
	switch {
	case err == nil:
		r.owned[key] = collector
		return nil
	case stderrors.As(err, &clash):
		return errors.WrapInvalid(err, "MetricsRegistry", "Register", "descriptor clash for "+name)
	default:
		return errors.WrapFatal(err, "MetricsRegistry", "Register", "prometheus registration")
	}
}

// Unregister removes the collector registered under owner.name.
func (r *MetricsRegistry) Unregister(owner, name string) bool {
	key := owner + "." + name

	r.mu.Lock()
	defer r.mu.Unlock()

	collector, ok := r.owned[key]
	if !ok || !r.prom.Unregister(collector) {
		return false
	}
	delete(r.owned, key)
	return true
}
