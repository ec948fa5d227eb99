package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/protojour/pymoriam/errors"
	"github.com/protojour/pymoriam/metric"
	"github.com/protojour/pymoriam/tasks"
)

// TrxHeader carries the backend transaction id between the caller, the
// listeners and the store.
const TrxHeader = "x-arango-trx-id"

// Call carries the request context a hook chain runs with.
type Call struct {
	// TrxID is the open transaction, empty when there is none.
	TrxID string
	// Header holds the inbound request headers forwarded to listeners.
	Header http.Header
}

// Fire is one post-hook invocation.
type Fire struct {
	Channel string
	Pre     map[string]any
	Post    map[string]any
}

// Dispatcher calls hook listeners.
type Dispatcher struct {
	registry *Registry
	runner   tasks.Runner
	client   *http.Client
	logger   *slog.Logger
	metrics  *metric.Metrics

	limit    rate.Limit
	burst    int
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient sets the client listeners are called with.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) { d.client = client }
}

// WithTimeout sets the per-call timeout of the default client.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.client = &http.Client{Timeout: timeout}
		}
	}
}

// WithRateLimit limits calls per listener URL. A limit of zero disables it.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(d *Dispatcher) {
		if perSecond <= 0 {
			d.limit = rate.Inf
			return
		}
		if burst < 1 {
			burst = 1
		}
		d.limit = rate.Limit(perSecond)
		d.burst = burst
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithMetrics records hook calls.
func WithMetrics(m *metric.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher creates a dispatcher. Post-hooks outside a transaction run
// on runner.
func NewDispatcher(registry *Registry, runner tasks.Runner, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		runner:   runner,
		client:   &http.Client{Timeout: 60 * time.Second},
		logger:   slog.Default(),
		limit:    rate.Inf,
		limiters: map[string]*rate.Limiter{},
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "hooks")
	return d
}

// Registry returns the registry channels are looked up in.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Has reports whether channel has listeners.
func (d *Dispatcher) Has(channel string) bool {
	return len(d.registry.Listeners(channel)) > 0
}

// PreChain passes payload through the listeners of channel in order. Each
// listener receives the payload returned by the previous one. A 2xx answer
// with a body replaces the payload, and its transaction header replaces the
// transaction id. Any other answer aborts the chain with a HookRejected.
func (d *Dispatcher) PreChain(ctx context.Context, channel string, payload any, call Call) (any, string, error) {
	trxID := call.TrxID
	for _, url := range d.registry.Listeners(channel) {
		body, header, err := d.call(ctx, channel, url, payload, trxID, call.Header)
		if err != nil {
			return nil, trxID, err
		}
		if len(bytes.TrimSpace(body)) > 0 {
			var next any
			if err := json.Unmarshal(body, &next); err != nil {
				return nil, trxID, &errors.HookRejected{Channel: channel, Listener: url, Body: err.Error()}
			}
			payload = next
		}
		if id := header.Get(TrxHeader); id != "" {
			trxID = id
		}
	}
	return payload, trxID, nil
}

// PreObject is PreChain for a single object payload.
func (d *Dispatcher) PreObject(ctx context.Context, channel string, obj map[string]any, call Call) (map[string]any, string, error) {
	if !d.Has(channel) {
		return obj, call.TrxID, nil
	}
	out, trxID, err := d.PreChain(ctx, channel, obj, call)
	if err != nil {
		return nil, trxID, err
	}
	result, ok := out.(map[string]any)
	if !ok {
		return nil, trxID, &errors.HookRejected{Channel: channel, Body: "hook answered with a non-object payload"}
	}
	return result, trxID, nil
}

// PreList is PreChain for a list of read results.
func (d *Dispatcher) PreList(ctx context.Context, channel string, docs []map[string]any, call Call) ([]map[string]any, error) {
	if !d.Has(channel) {
		return docs, nil
	}
	out, _, err := d.PreChain(ctx, channel, docs, call)
	if err != nil {
		return nil, err
	}
	list, ok := out.([]any)
	if !ok {
		return nil, &errors.HookRejected{Channel: channel, Body: "hook answered with a non-list payload"}
	}
	result := make([]map[string]any, 0, len(list))
	for _, item := range list {
		doc, ok := item.(map[string]any)
		if !ok {
			return nil, &errors.HookRejected{Channel: channel, Body: "hook answered with a non-object list item"}
		}
		result = append(result, doc)
	}
	return result, nil
}

// PostFire sends {pre, post} to the listeners of each fire. Inside a
// transaction the calls complete before PostFire returns, so writes the
// listeners make land in the same transaction, and the first failure is
// returned. Otherwise each fire is queued as a background task and PostFire
// returns at once.
func (d *Dispatcher) PostFire(ctx context.Context, call Call, fires ...Fire) error {
	active := fires[:0:0]
	for _, f := range fires {
		if d.Has(f.Channel) {
			active = append(active, f)
		}
	}
	if len(active) == 0 {
		return nil
	}

	if call.TrxID != "" {
		g, gctx := errgroup.WithContext(ctx)
		for _, f := range active {
			f := f
			g.Go(func() error { return d.fire(gctx, f, call) })
		}
		return g.Wait()
	}

	header := call.Header.Clone()
	for _, f := range active {
		f := f
		err := d.runner.Submit(tasks.Task{
			Name:    "post_hook",
			Channel: f.Channel,
			Run: func(ctx context.Context) error {
				return d.fire(ctx, f, Call{Header: header})
			},
		})
		if err != nil {
			d.logger.Warn("post hook not scheduled", "channel", f.Channel, "error", err)
		}
	}
	return nil
}

func (d *Dispatcher) fire(ctx context.Context, f Fire, call Call) error {
	pre, post := f.Pre, f.Post
	if pre == nil {
		pre = map[string]any{}
	}
	if post == nil {
		post = map[string]any{}
	}
	payload := map[string]any{"pre": pre, "post": post}
	for _, url := range d.registry.Listeners(f.Channel) {
		if _, _, err := d.call(ctx, f.Channel, url, payload, call.TrxID, call.Header); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) limiter(url string) *rate.Limiter {
	if d.limit == rate.Inf {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[url]
	if !ok {
		l = rate.NewLimiter(d.limit, d.burst)
		d.limiters[url] = l
	}
	return l
}

// call posts payload to one listener and returns the body of a 2xx answer.
func (d *Dispatcher) call(ctx context.Context, channel, url string, payload any, trxID string, inbound http.Header) ([]byte, http.Header, error) {
	start := time.Now()
	phase := Post
	if strings.HasPrefix(channel, Pre) {
		phase = Pre
	}

	body, header, err := d.post(ctx, channel, url, payload, trxID, inbound)
	d.metrics.RecordHookCall(phase, err, time.Since(start))
	if err != nil {
		d.logger.Debug("hook call failed", "channel", channel, "listener", url, "error", err)
		return nil, nil, err
	}
	d.logger.Debug("hook call", "channel", channel, "listener", url, "duration", time.Since(start))
	return body, header, nil
}

func (d *Dispatcher) post(ctx context.Context, channel, url string, payload any, trxID string, inbound http.Header) ([]byte, http.Header, error) {
	if l := d.limiter(url); l != nil {
		if err := l.Wait(ctx); err != nil {
			return nil, nil, &errors.HookRejected{Channel: channel, Listener: url, Err: err}
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, errors.WrapInvalid(err, "Dispatcher", "post", "encode payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, nil, &errors.HookRejected{Channel: channel, Listener: url, Err: err}
	}
	for key, values := range scrubHeaders(inbound) {
		req.Header[key] = values
	}
	req.Header.Set("Content-Type", "application/json")
	if trxID != "" {
		req.Header.Set(TrxHeader, trxID)
	} else {
		req.Header.Del(TrxHeader)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, nil, &errors.HookRejected{Channel: channel, Listener: url, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &errors.HookRejected{Channel: channel, Listener: url, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, &errors.HookRejected{
			Channel:  channel,
			Listener: url,
			Status:   resp.StatusCode,
			Body:     string(body),
		}
	}
	return body, resp.Header, nil
}

// scrubHeaders drops headers the outbound request sets itself.
func scrubHeaders(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		return http.Header{}
	}
	out.Del("Transfer-Encoding")
	out.Del("Content-Length")
	out.Del("Content-Type")
	out.Del("Accept-Encoding")
	return out
}
