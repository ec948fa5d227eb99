// Package tasks runs best-effort background work: post-mutation hooks,
// audit writes and deferred version stamps. A failed task is always logged
// and reported on the result channel; it never reaches the request that
// scheduled it.
package tasks

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/protojour/pymoriam/metric"
	"github.com/protojour/pymoriam/pkg/worker"
)

// Task is one unit of background work.
type Task struct {
	// Name identifies the kind of work, e.g. "post_hook" or "version_stamp".
	Name string
	// Channel is the hook channel or document id the task is about.
	Channel string
	Run     func(ctx context.Context) error
}

// Result reports a finished task.
type Result struct {
	Name     string
	Channel  string
	Err      error
	Duration time.Duration
}

// Runner accepts background tasks.
type Runner interface {
	Submit(task Task) error
}

// Queue runs tasks on a worker pool.
type Queue struct {
	pool    *worker.Pool[Task]
	logger  *slog.Logger
	results chan<- Result
}

// Option configures a Queue.
type Option func(*queueOptions)

type queueOptions struct {
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	results  chan<- Result
}

// WithLogger sets the logger failures are reported to.
func WithLogger(logger *slog.Logger) Option {
	return func(o *queueOptions) { o.logger = logger }
}

// WithMetrics registers queue metrics.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(o *queueOptions) { o.registry = registry }
}

// WithResults reports every finished task on ch. Results are dropped when
// ch is full.
func WithResults(ch chan<- Result) Option {
	return func(o *queueOptions) { o.results = ch }
}

// NewQueue creates a queue with the given worker count and capacity.
func NewQueue(workers, queueSize int, opts ...Option) *Queue {
	o := &queueOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	q := &Queue{
		logger:  o.logger.With("component", "tasks"),
		results: o.results,
	}
	poolOpts := []worker.Option[Task]{worker.WithLogger[Task](q.logger)}
	if o.registry != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[Task](o.registry, "memoriam_tasks"))
	}
	q.pool = worker.NewPool(workers, queueSize, q.run, poolOpts...)
	return q
}

// Start launches the workers. Cancelling ctx cancels running tasks.
func (q *Queue) Start(ctx context.Context) error {
	return q.pool.Start(ctx)
}

// Stop stops accepting tasks and waits up to timeout for queued ones.
func (q *Queue) Stop(timeout time.Duration) error {
	return q.pool.Stop(timeout)
}

// Submit queues task without blocking.
func (q *Queue) Submit(task Task) error {
	if err := q.pool.Submit(task); err != nil {
		q.logger.Error("background task not queued",
			"task", task.Name, "channel", task.Channel, "error", err)
		return err
	}
	return nil
}

// Stats returns the pool statistics.
func (q *Queue) Stats() worker.PoolStats {
	return q.pool.Stats()
}

func (q *Queue) run(ctx context.Context, task Task) error {
	start := time.Now()
	err := safeRun(ctx, task)
	report(q.logger, q.results, task, err, time.Since(start))
	return err
}

func safeRun(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &worker.PanicError{Value: r}
		}
	}()
	if task.Run == nil {
		return errors.New("task has no function")
	}
	return task.Run(ctx)
}

func report(logger *slog.Logger, results chan<- Result, task Task, err error, d time.Duration) {
	if err != nil {
		logger.Error("background task failed",
			"task", task.Name, "channel", task.Channel, "error", err, "duration", d)
	}
	if results == nil {
		return
	}
	select {
	case results <- Result{Name: task.Name, Channel: task.Channel, Err: err, Duration: d}:
	default:
	}
}

// Inline runs tasks synchronously on Submit. Tests use it to observe
// background effects deterministically.
type Inline struct {
	Ctx     context.Context
	Logger  *slog.Logger
	Results chan<- Result
}

// Submit runs task immediately. Task failures are logged, not returned.
func (i *Inline) Submit(task Task) error {
	ctx := i.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	logger := i.Logger
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()
	err := safeRun(ctx, task)
	report(logger, i.Results, task, err, time.Since(start))
	return nil
}
