package natsclient

import (
	"errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/protojour/pymoriam/metric"
)

// ClientOption configures NewClient.
type ClientOption func(*settings) error

type settings struct {
	name          string
	logger        *slog.Logger
	metrics       *metric.Metrics
	onHealth      func(bool)
	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration
	threshold     int32
	maxBackoff    time.Duration
	auth          nats.Option
}

func defaultSettings() settings {
	return settings{
		logger:        slog.Default(),
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		pingInterval:  30 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  10 * time.Second,
		threshold:     5,
		maxBackoff:    time.Minute,
	}
}

func (s *settings) natsOptions(c *Client) []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(s.maxReconnects),
		nats.ReconnectWait(s.reconnectWait),
		nats.PingInterval(s.pingInterval),
		nats.Timeout(s.timeout),
		nats.DrainTimeout(s.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
	}
	if s.name != "" {
		opts = append(opts, nats.Name(s.name))
	}
	if s.auth != nil {
		opts = append(opts, s.auth)
	}
	return opts
}

func positive(d time.Duration, what string) error {
	if d <= 0 {
		return errors.New(what + " must be positive")
	}
	return nil
}

// WithName sets the connection name shown by the server.
func WithName(name string) ClientOption {
	return func(s *settings) error { s.name = name; return nil }
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(s *settings) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		s.logger = logger
		return nil
	}
}

// WithMetrics reports connection state to the memoriam_nats_connected gauge.
func WithMetrics(registry *metric.MetricsRegistry) ClientOption {
	return func(s *settings) error { s.metrics = registry.CoreMetrics(); return nil }
}

// WithHealthChangeCallback is called on its own goroutine whenever the
// connection goes up or down.
func WithHealthChangeCallback(fn func(healthy bool)) ClientOption {
	return func(s *settings) error { s.onHealth = fn; return nil }
}

// WithMaxReconnects bounds reconnection attempts; -1 retries forever.
func WithMaxReconnects(n int) ClientOption {
	return func(s *settings) error { s.maxReconnects = n; return nil }
}

func WithReconnectWait(d time.Duration) ClientOption {
	return func(s *settings) error {
		if d < 0 {
			return errors.New("reconnect wait cannot be negative")
		}
		s.reconnectWait = d
		return nil
	}
}

// WithTimeout bounds the initial dial.
func WithTimeout(d time.Duration) ClientOption {
	return func(s *settings) error {
		if err := positive(d, "timeout"); err != nil {
			return err
		}
		s.timeout = d
		return nil
	}
}

// WithCircuitBreakerThreshold sets how many failed connection attempts open
// the circuit.
func WithCircuitBreakerThreshold(n int32) ClientOption {
	return func(s *settings) error {
		if n <= 0 {
			return errors.New("circuit breaker threshold must be positive")
		}
		s.threshold = n
		return nil
	}
}

// WithMaxBackoff caps how long an open circuit waits before a retry.
func WithMaxBackoff(d time.Duration) ClientOption {
	return func(s *settings) error {
		if err := positive(d, "max backoff"); err != nil {
			return err
		}
		s.maxBackoff = d
		return nil
	}
}

func WithToken(token string) ClientOption {
	return func(s *settings) error { s.auth = nats.Token(token); return nil }
}

func WithCredentials(username, password string) ClientOption {
	return func(s *settings) error { s.auth = nats.UserInfo(username, password); return nil }
}
