// Package natsclient manages the NATS connection that carries the schema
// reload signal, with circuit breaker protection and JetStream KV access.
package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/protojour/pymoriam/errors"
)

// ConnectionStatus is the state of the client's connection.
type ConnectionStatus int32

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

var statusNames = [...]string{"disconnected", "connecting", "connected", "reconnecting", "circuit_open"}

func (s ConnectionStatus) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
)

// Status is a snapshot of the connection for diagnostics.
type Status struct {
	Status          ConnectionStatus
	FailureCount    int32
	LastFailureTime time.Time
	RTT             time.Duration
}

// Client is a NATS connection with JetStream, guarded by a circuit breaker
// on connection attempts.
type Client struct {
	url     string
	cfg     settings
	logger  *slog.Logger
	breaker *breaker
	state   atomic.Int32

	mu   sync.RWMutex
	conn *nats.Conn
	js   jetstream.JetStream

	closeOnce sync.Once
	closeErr  error
}

// NewClient prepares a client for url, which may list several servers
// separated by commas. It does not connect.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	cfg := defaultSettings()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	return &Client{
		url:     url,
		cfg:     cfg,
		logger:  cfg.logger.With("component", "natsclient"),
		breaker: newBreaker(cfg.threshold, cfg.maxBackoff),
	}, nil
}

func (c *Client) URL() string { return c.url }

func (c *Client) Status() ConnectionStatus { return ConnectionStatus(c.state.Load()) }

func (c *Client) setStatus(s ConnectionStatus) { c.state.Store(int32(s)) }

func (c *Client) IsHealthy() bool { return c.Status() == StatusConnected }

// Failures counts failed attempts since the last successful connection.
func (c *Client) Failures() int32 {
	n, _, _ := c.breaker.snapshot()
	return n
}

// Backoff is how long the circuit will stay open the next time it opens.
func (c *Client) Backoff() time.Duration {
	_, d, _ := c.breaker.snapshot()
	return d
}

func (c *Client) GetStatus() *Status {
	failures, _, last := c.breaker.snapshot()
	s := &Status{Status: c.Status(), FailureCount: failures, LastFailureTime: last}
	if rtt, err := c.RTT(); err == nil {
		s.RTT = rtt
	}
	return s
}

func (c *Client) recordFailure() {
	opened, wait := c.breaker.fail()
	if !opened {
		return
	}
	if c.Status() == StatusCircuitOpen {
		c.logger.Warn("Circuit breaker still open", "backoff", c.Backoff())
		return
	}
	c.setStatus(StatusCircuitOpen)
	c.logger.Warn("Circuit breaker opened", "retry_after", wait)
	time.AfterFunc(wait, c.halfOpen)
}

func (c *Client) resetCircuit() {
	c.breaker.reset()
	c.state.CompareAndSwap(int32(StatusCircuitOpen), int32(StatusDisconnected))
}

// halfOpen lets the next Connect through after the backoff.
func (c *Client) halfOpen() {
	c.state.CompareAndSwap(int32(StatusCircuitOpen), int32(StatusDisconnected))
}

// Connect dials the servers and opens JetStream. It fails fast with
// ErrCircuitOpen while the breaker is open.
func (c *Client) Connect(ctx context.Context) error {
	if c.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}
	c.setStatus(StatusConnecting)
	c.logger.Info("Connecting to NATS", "url", c.url)

	type dialed struct {
		conn *nats.Conn
		js   jetstream.JetStream
		err  error
	}
	result := make(chan dialed, 1)
	go func() {
		conn, err := nats.Connect(c.url, c.cfg.natsOptions(c)...)
		if err != nil {
			result <- dialed{err: err}
			return
		}
		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
		}
		result <- dialed{conn: conn, js: js, err: err}
	}()

	var d dialed
	select {
	case d = <-result:
	case <-ctx.Done():
		d.err = ctx.Err()
	}
	if d.err != nil {
		c.recordFailure()
		if c.Status() == StatusCircuitOpen {
			return ErrCircuitOpen
		}
		c.setStatus(StatusDisconnected)
		return errors.WrapTransient(d.err, "Client", "Connect", "establish connection")
	}

	c.mu.Lock()
	c.conn, c.js = d.conn, d.js
	c.mu.Unlock()

	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.logger.Info("Connected to NATS", "url", c.url)
	c.notifyHealth(true)
	return nil
}

// WaitForConnection polls until the client is connected or ctx is done.
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for !c.IsHealthy() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("connection timeout: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// Close drains the connection, bounded by the drain timeout and ctx. Later
// calls return the first result.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		conn := c.conn
		c.conn, c.js = nil, nil
		c.cfg.auth = nil
		c.mu.Unlock()
		c.setStatus(StatusDisconnected)

		if conn == nil {
			return
		}
		defer conn.Close()

		drained := make(chan error, 1)
		go func() { drained <- conn.Drain() }()

		timer := time.NewTimer(c.cfg.drainTimeout)
		defer timer.Stop()
		select {
		case err := <-drained:
			c.closeErr = errors.Wrap(err, "Client", "Close", "drain connection")
		case <-timer.C:
			c.closeErr = errors.WrapTransient(
				fmt.Errorf("drain timeout after %v", c.cfg.drainTimeout), "Client", "Close", "drain")
		case <-ctx.Done():
			c.closeErr = errors.Wrap(ctx.Err(), "Client", "Close", "drain")
		}
		if c.closeErr != nil {
			c.logger.Error("NATS drain failed", "error", c.closeErr)
		}
	})
	return c.closeErr
}

// RTT measures the round trip to the server; it is the health probe.
func (c *Client) RTT() (time.Duration, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return 0, ErrNotConnected
	}
	return conn.RTT()
}

func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.js == nil {
		return nil, ErrNotConnected
	}
	return c.js, nil
}

func (c *Client) ready() (jetstream.JetStream, error) {
	switch c.Status() {
	case StatusConnected:
		return c.JetStream()
	case StatusCircuitOpen:
		return nil, ErrCircuitOpen
	default:
		return nil, ErrNotConnected
	}
}

// CreateKeyValueBucket opens the bucket named in cfg, creating it first if
// needed.
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js, err := c.ready()
	if err != nil {
		return nil, err
	}
	bucket, err := js.CreateOrUpdateKeyValue(ctx, cfg)
	if err != nil {
		c.recordFailure()
		return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket", "open bucket "+cfg.Bucket)
	}
	c.logger.Debug("KV bucket ready", "bucket", cfg.Bucket)
	return bucket, nil
}

func (c *Client) GetKeyValueBucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	js, err := c.ready()
	if err != nil {
		return nil, err
	}
	bucket, err := js.KeyValue(ctx, name)
	if err != nil {
		c.recordFailure()
		return nil, err
	}
	return bucket, nil
}

func (c *Client) notifyHealth(healthy bool) {
	c.cfg.metrics.SetNATSConnected(healthy)
	if fn := c.cfg.onHealth; fn != nil {
		go fn(healthy)
	}
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	c.setStatus(StatusReconnecting)
	if err != nil {
		c.logger.Warn("Disconnected from NATS", "error", err)
	}
	c.notifyHealth(false)
}

func (c *Client) handleReconnect(_ *nats.Conn) {
	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.logger.Info("Reconnected to NATS", "url", c.url)
	c.notifyHealth(true)
}

func (c *Client) handleClosed(_ *nats.Conn) {
	c.setStatus(StatusDisconnected)
	c.notifyHealth(false)
}

func (c *Client) handleError(_ *nats.Conn, _ *nats.Subscription, err error) {
	c.logger.Error("NATS error", "error", err)
}
