package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/protojour/pymoriam/metric"
)

const (
	opHit    = "hit"
	opMiss   = "miss"
	opSet    = "set"
	opDelete = "delete"
	opEvict  = "evict"
)

// meters methods accept a nil receiver for caches without metrics.
type meters struct {
	ops     *prometheus.CounterVec
	entries prometheus.Gauge
}

func newMeters(registry metric.Registerer, name string) (*meters, error) {
	labels := prometheus.Labels{"cache": name}
	m := &meters{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "memoriam",
			Subsystem:   "cache",
			Name:        "operations_total",
			Help:        "Cache operations by kind (hit, miss, set, delete, evict)",
			ConstLabels: labels,
		}, []string{"op"}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "memoriam",
			Subsystem:   "cache",
			Name:        "entries",
			Help:        "Entries currently held",
			ConstLabels: labels,
		}),
	}
	if err := registry.Register(name, "cache_operations", m.ops); err != nil {
		return nil, err
	}
	if err := registry.Register(name, "cache_entries", m.entries); err != nil {
		registry.Unregister(name, "cache_operations")
		return nil, err
	}
	return m, nil
}

func (m *meters) count(op string) {
	if m != nil {
		m.ops.WithLabelValues(op).Inc()
	}
}

func (m *meters) size(n int) {
	if m != nil {
		m.entries.Set(float64(n))
	}
}
