package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/protojour/pymoriam/metric"
)

type poolState int

const (
	stateIdle poolState = iota
	stateRunning
	stateStopped
)

// Pool runs a fixed number of workers over a bounded queue of T.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error
	onError   func(T, error)
	logger    *slog.Logger

	registry      metric.Registerer
	metricsPrefix string
	metrics       *poolMetrics

	mu    sync.Mutex
	state poolState
	queue chan T
	wg    sync.WaitGroup

	submitted, processed, failed, dropped, panicked atomic.Int64
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetricsRegistry exports pool metrics named prefix_*.
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(p *Pool[T]) {
		if registry != nil {
			p.registry = registry
			p.metricsPrefix = prefix
		}
	}
}

// WithErrorHandler receives every item whose processor failed or panicked.
func WithErrorHandler[T any](fn func(T, error)) Option[T] {
	return func(p *Pool[T]) { p.onError = fn }
}

func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(p *Pool[T]) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPool creates a worker pool. Zero workers or queue size fall back to
// 10 and 1000.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if processor == nil {
		panic(ErrNilProcessor)
	}
	p := &Pool[T]{
		workers:   max(workers, 0),
		queueSize: max(queueSize, 0),
		processor: processor,
		logger:    slog.Default(),
	}
	if p.workers == 0 {
		p.workers = 10
	}
	if p.queueSize == 0 {
		p.queueSize = 1000
	}
	p.queue = make(chan T, p.queueSize)

	for _, opt := range opts {
		opt(p)
	}
	if p.registry != nil && p.metricsPrefix != "" {
		p.metrics = newPoolMetrics(p.metricsPrefix)
		p.metrics.register(p.registry, p.logger)
	}
	return p
}

// Start launches the workers. They exit when ctx is cancelled or the queue
// is closed by Stop.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != stateIdle {
		return ErrPoolAlreadyStarted
	}
	p.wg.Add(p.workers)
	for range p.workers {
		go p.work(ctx)
	}
	p.state = stateRunning
	return nil
}

// Submit queues work without blocking.
func (p *Pool[T]) Submit(work T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateIdle:
		return ErrPoolNotStarted
	case stateStopped:
		return ErrPoolStopped
	}

	select {
	case p.queue <- work:
		p.submitted.Add(1)
		p.metrics.submit(len(p.queue))
		return nil
	default:
		p.dropped.Add(1)
		p.metrics.drop()
		return ErrQueueFull
	}
}

// SubmitWait queues work, polling for room until ctx is done.
func (p *Pool[T]) SubmitWait(ctx context.Context, work T) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if err := p.Submit(work); err != ErrQueueFull {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop closes the queue and waits up to timeout for queued work to drain.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if p.state != stateRunning {
		p.mu.Unlock()
		return nil
	}
	p.state = stateStopped
	close(p.queue)
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
	Panicked   int64 `json:"panicked"`
}

func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.queue),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
		Panicked:   p.panicked.Load(),
	}
}

func (p *Pool[T]) work(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-p.queue:
			if !ok {
				return
			}
			start := time.Now()
			err := p.call(ctx, item)
			p.processed.Add(1)
			if err != nil {
				p.failed.Add(1)
				if p.onError != nil {
					p.onError(item, err)
				}
			}
			p.metrics.done(err, time.Since(start), len(p.queue))
		}
	}
}

func (p *Pool[T]) call(ctx context.Context, item T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			p.logger.Error("worker recovered from panic",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
			err = &PanicError{Value: r}
		}
	}()
	return p.processor(ctx, item)
}

// poolMetrics methods accept a nil receiver for pools without a registry.
type poolMetrics struct {
	prefix     string
	queueDepth prometheus.Gauge
	submitted  prometheus.Counter
	processed  prometheus.Counter
	failed     prometheus.Counter
	dropped    prometheus.Counter
	duration   *prometheus.HistogramVec
}

func newPoolMetrics(prefix string) *poolMetrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: prefix + name, Help: help})
	}
	return &poolMetrics{
		prefix:     prefix,
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{Name: prefix + "_queue_depth", Help: "Items waiting in the queue"}),
		submitted:  counter("_submitted_total", "Items accepted into the queue"),
		processed:  counter("_processed_total", "Items taken off the queue and run"),
		failed:     counter("_failed_total", "Items whose processor failed or panicked"),
		dropped:    counter("_dropped_total", "Items rejected on a full queue"),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "_processing_duration_seconds",
			Help:    "Processor run time in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"status"}),
	}
}

func (m *poolMetrics) register(r metric.Registerer, logger *slog.Logger) {
	collectors := map[string]prometheus.Collector{
		"_queue_depth":                 m.queueDepth,
		"_submitted_total":             m.submitted,
		"_processed_total":             m.processed,
		"_failed_total":                m.failed,
		"_dropped_total":               m.dropped,
		"_processing_duration_seconds": m.duration,
	}
	for suffix, c := range collectors {
		if err := r.Register("worker_pool", m.prefix+suffix, c); err != nil {
			logger.Warn("worker pool metric not registered", "metric", m.prefix+suffix, "error", err)
		}
	}
}

func (m *poolMetrics) submit(depth int) {
	if m == nil {
		return
	}
	m.submitted.Inc()
	m.queueDepth.Set(float64(depth))
}

func (m *poolMetrics) drop() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *poolMetrics) done(err error, took time.Duration, depth int) {
	if m == nil {
		return
	}
	m.processed.Inc()
	m.queueDepth.Set(float64(depth))
	status := "success"
	if err != nil {
		m.failed.Inc()
		status = "error"
	}
	m.duration.WithLabelValues(status).Observe(took.Seconds())
}
