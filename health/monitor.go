package health

import (
	"cmp"
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Check probes one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

type probe struct {
	check    Check
	critical bool
	failures int
	last     Status
	ran      bool
}

// Monitor runs registered checks on demand and keeps their last results.
type Monitor struct {
	timeout time.Duration

	mu     sync.Mutex
	probes map[string]*probe
}

// NewMonitor bounds every check by 5 seconds.
func NewMonitor() *Monitor {
	return &Monitor{timeout: 5 * time.Second, probes: map[string]*probe{}}
}

// Register adds a check. A failing critical check makes the aggregate
// unhealthy; others only degrade it.
func (m *Monitor) Register(name string, check Check, critical bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[name] = &probe{check: check, critical: critical}
}

func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.probes, name)
}

// Probe runs every check concurrently and records the results.
func (m *Monitor) Probe(ctx context.Context) {
	m.mu.Lock()
	checks := make(map[string]Check, len(m.probes))
	for name, p := range m.probes {
		checks[name] = p.check
	}
	m.mu.Unlock()

	var g errgroup.Group
	for name, check := range checks {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()
			start := time.Now()
			err := check(checkCtx)
			m.record(name, start, err)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Monitor) record(name string, start time.Time, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.probes[name]
	if !ok {
		return
	}
	if err != nil {
		p.failures++
	}
	p.ran = true
	p.last = FromError(name, err, !p.critical).WithMetrics(&Metrics{
		Latency:      time.Since(start),
		ErrorCount:   p.failures,
		LastActivity: start,
	})
}

// Get returns the last result of the named check.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.probes[name]
	if !ok || !p.ran {
		return Status{}, false
	}
	return p.last, true
}

// AggregateHealth combines the last results, ordered by component.
func (m *Monitor) AggregateHealth(system string) Status {
	m.mu.Lock()
	subs := make([]Status, 0, len(m.probes))
	for _, p := range m.probes {
		if p.ran {
			subs = append(subs, p.last)
		}
	}
	m.mu.Unlock()

	slices.SortFunc(subs, func(a, b Status) int { return cmp.Compare(a.Component, b.Component) })
	return Aggregate(system, subs)
}

// Handler probes and writes the aggregate as JSON, 503 when unhealthy.
func (m *Monitor) Handler(system string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Probe(r.Context())
		status := m.AggregateHealth(system)

		code := http.StatusOK
		if status.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
}
