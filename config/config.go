package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/protojour/pymoriam/pkg/security"
)

// Duration is a time.Duration that reads "500ms", "2s" or a bare number of
// seconds ("0.5") from YAML, JSON and the environment.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// ParseDuration reads a duration string or a number of seconds.
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return Duration(d), nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*d = Duration(n * float64(time.Second))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Config is the complete service configuration
type Config struct {
	Version  string          `json:"version" yaml:"version"`
	HTTP     HTTPConfig      `json:"http" yaml:"http"`
	Security security.Config `json:"security,omitempty" yaml:"security,omitempty"`
	Arango   ArangoConfig    `json:"arango" yaml:"arango"`
	Audit    AuditConfig     `json:"audit" yaml:"audit"`
	Schemas  SchemaConfig    `json:"schemas" yaml:"schemas"`
	NATS     NATSConfig      `json:"nats" yaml:"nats"`
	Workers  WorkerConfig    `json:"workers" yaml:"workers"`
	Hooks    HookConfig      `json:"hooks" yaml:"hooks"`
	Logging  LogConfig       `json:"logging" yaml:"logging"`
	GraphQL  GraphQLConfig   `json:"graphql" yaml:"graphql"`

	// NoDelete disables every delete operation (405).
	NoDelete bool `json:"no_delete" yaml:"no_delete"`
}

// HTTPConfig configures the REST and GraphQL listener
type HTTPConfig struct {
	Addr            string   `json:"addr" yaml:"addr"`
	ReadTimeout     Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    Duration `json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxBodyBytes    int64    `json:"max_body_bytes" yaml:"max_body_bytes"`
	// CORSOrigins enables CORS for the listed origins; "*" allows any.
	CORSOrigins []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`
}

// ArangoConfig configures the document store client
type ArangoConfig struct {
	Endpoints      []string `json:"endpoints" yaml:"endpoints"`
	Database       string   `json:"database" yaml:"database"`
	Username       string   `json:"username,omitempty" yaml:"username,omitempty"`
	Password       string   `json:"password,omitempty" yaml:"password,omitempty"`
	DefaultLimit   int      `json:"default_limit" yaml:"default_limit"`
	ConnectRetries int      `json:"connect_retries" yaml:"connect_retries"`
	ConnectBackoff Duration `json:"connect_backoff" yaml:"connect_backoff"`
	RequestTimeout Duration `json:"request_timeout" yaml:"request_timeout"`
}

// AuditConfig configures audit logging and version stamping
type AuditConfig struct {
	// Log writes audit records to the service log.
	Log bool `json:"log" yaml:"log"`
	// LogDB writes audit records to the audit_log collection.
	LogDB bool `json:"log_db" yaml:"log_db"`
	// Versioning stamps _version on mutated documents.
	Versioning bool `json:"versioning" yaml:"versioning"`
	// PollAttempts and PollInterval bound the transaction status poll.
	PollAttempts int      `json:"poll_attempts" yaml:"poll_attempts"`
	PollInterval Duration `json:"poll_interval" yaml:"poll_interval"`
}

// SchemaConfig locates the schema documents
type SchemaConfig struct {
	DBSchema      string `json:"db_schema" yaml:"db_schema"`
	DomainDir     string `json:"domain_dir,omitempty" yaml:"domain_dir,omitempty"`
	SearchConfig  string `json:"search_config,omitempty" yaml:"search_config,omitempty"`
	ServiceConfig string `json:"service_config,omitempty" yaml:"service_config,omitempty"`
	// FromStore also loads active domains from the store's domain collection.
	FromStore bool `json:"from_store" yaml:"from_store"`
	// Reload rebuilds schemas when the reload marker changes.
	Reload bool `json:"reload" yaml:"reload"`
}

// NATSConfig configures the schema reload signal transport
type NATSConfig struct {
	Enabled       bool     `json:"enabled" yaml:"enabled"`
	URLs          []string `json:"urls,omitempty" yaml:"urls,omitempty"`
	Bucket        string   `json:"bucket" yaml:"bucket"`
	MaxReconnects int      `json:"max_reconnects,omitempty" yaml:"max_reconnects,omitempty"`
	ReconnectWait Duration `json:"reconnect_wait,omitempty" yaml:"reconnect_wait,omitempty"`
	Username      string   `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string   `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string   `json:"token,omitempty" yaml:"token,omitempty"`
}

// WorkerConfig sizes the background task queue
type WorkerConfig struct {
	Count           int      `json:"count" yaml:"count"`
	QueueSize       int      `json:"queue_size" yaml:"queue_size"`
	ShutdownTimeout Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// HookConfig configures hook listener calls
type HookConfig struct {
	Timeout Duration `json:"timeout" yaml:"timeout"`
	// RateLimit is calls per second per listener, 0 for unlimited.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`
	Burst     int     `json:"burst" yaml:"burst"`
}

// LogConfig configures the service logger
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
	// Queries logs compiled queries and bind variables at debug level.
	Queries bool `json:"queries" yaml:"queries"`
}

// GraphQLConfig configures the read-only query endpoint.
type GraphQLConfig struct {
	Enabled        bool `json:"enabled" yaml:"enabled"`
	Playground     bool `json:"playground" yaml:"playground"`
	MaxQueryDepth  int  `json:"max_query_depth" yaml:"max_query_depth"`
	Concurrency    int  `json:"concurrency" yaml:"concurrency"`
	QueryCacheSize int  `json:"query_cache_size" yaml:"query_cache_size"`
}

// Default returns the configuration used before any layer is applied.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":5002",
			ReadTimeout:     Duration(60 * time.Second),
			WriteTimeout:    Duration(60 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
			MaxBodyBytes:    32 << 20,
		},
		Arango: ArangoConfig{
			Endpoints:      []string{"http://arangodb:8529"},
			Database:       "memoriam",
			DefaultLimit:   100,
			ConnectRetries: 60,
			ConnectBackoff: Duration(500 * time.Millisecond),
			RequestTimeout: Duration(60 * time.Second),
		},
		Audit: AuditConfig{
			PollAttempts: 60,
			PollInterval: Duration(500 * time.Millisecond),
		},
		Schemas: SchemaConfig{
			DBSchema: "data/db_schema.yml",
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			Bucket:        "memoriam_schema",
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
		},
		Workers: WorkerConfig{
			Count:           4,
			QueueSize:       1024,
			ShutdownTimeout: Duration(30 * time.Second),
		},
		Hooks: HookConfig{
			Timeout: Duration(60 * time.Second),
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "json",
		},
		GraphQL: GraphQLConfig{
			Enabled:        true,
			Playground:     true,
			MaxQueryDepth:  10,
			Concurrency:    4,
			QueryCacheSize: 1000,
		},
	}
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if len(c.Arango.Endpoints) == 0 {
		return fmt.Errorf("arango.endpoints is required")
	}
	for _, endpoint := range c.Arango.Endpoints {
		u, err := url.Parse(endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid arango endpoint %q", endpoint)
		}
	}
	if c.Arango.Database == "" {
		return fmt.Errorf("arango.database is required")
	}
	if c.Arango.DefaultLimit <= 0 {
		return fmt.Errorf("arango.default_limit must be positive, got %d", c.Arango.DefaultLimit)
	}
	if c.Arango.ConnectRetries < 0 {
		return fmt.Errorf("arango.connect_retries cannot be negative")
	}
	if c.Audit.Versioning && c.Audit.PollAttempts <= 0 {
		return fmt.Errorf("audit.poll_attempts must be positive when versioning is enabled")
	}
	if c.Schemas.DBSchema == "" {
		return fmt.Errorf("schemas.db_schema is required")
	}
	if c.NATS.Enabled {
		if len(c.NATS.URLs) == 0 {
			return fmt.Errorf("nats.urls is required when nats is enabled")
		}
		if c.NATS.Bucket == "" {
			return fmt.Errorf("nats.bucket is required when nats is enabled")
		}
	}
	if c.Workers.Count <= 0 || c.Workers.QueueSize <= 0 {
		return fmt.Errorf("workers.count and workers.queue_size must be positive")
	}
	if c.GraphQL.MaxQueryDepth < 0 || c.GraphQL.Concurrency < 0 || c.GraphQL.QueryCacheSize < 0 {
		return fmt.Errorf("graphql limits cannot be negative")
	}
	if c.Hooks.RateLimit < 0 {
		return fmt.Errorf("hooks.rate_limit cannot be negative")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}
	return c.validateSecurity()
}

func (c *Config) validateSecurity() error {
	server := c.Security.TLS.Server
	if server.Enabled && (server.CertFile == "" || server.KeyFile == "") {
		return fmt.Errorf("security.tls.server requires cert_file and key_file when enabled")
	}
	for _, v := range []string{server.MinVersion, c.Security.TLS.Client.MinVersion} {
		if v != "" && v != "1.2" && v != "1.3" {
			return fmt.Errorf("invalid TLS min_version %q (must be 1.2 or 1.3)", v)
		}
	}
	if server.MTLS.Enabled && len(server.MTLS.ClientCAFiles) == 0 {
		return fmt.Errorf("security.tls.server.mtls requires client_ca_files when enabled")
	}
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// String renders the configuration with credentials masked
func (c *Config) String() string {
	masked := c.Clone()
	if masked.Arango.Password != "" {
		masked.Arango.Password = "***"
	}
	if masked.NATS.Password != "" {
		masked.NATS.Password = "***"
	}
	if masked.NATS.Token != "" {
		masked.NATS.Token = "***"
	}
	data, _ := json.Marshal(masked)
	return string(data)
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}
