package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	lookupEnv  func(string) (string, bool)
	logger     *slog.Logger
}

// NewLoader creates a new configuration loader reading the process
// environment.
func NewLoader() *Loader {
	return &Loader{
		lookupEnv: os.LookupEnv,
		logger:    slog.Default(),
	}
}

// WithEnv replaces the environment lookup, for tests.
func (l *Loader) WithEnv(lookup func(string) (string, bool)) *Loader {
	l.lookupEnv = lookup
	return l
}

// AddLayer adds a YAML or JSON configuration file. Later layers override
// earlier ones field by field.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// Load applies defaults, every file layer, then environment overrides.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		data, err := readLayer(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		// YAML is a superset of JSON; decoding onto cfg keeps fields the
		// layer does not mention.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

type envBinding struct {
	key   string
	apply func(cfg *Config, value string) error
}

func stringVar(target func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		*target(cfg) = v
		return nil
	}
}

func boolVar(target func(*Config) *bool) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		*target(cfg) = trueish(v)
		return nil
	}
}

func intVar(target func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*target(cfg) = n
		return nil
	}
}

func durationVar(target func(*Config) *Duration) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		d, err := ParseDuration(v)
		if err != nil {
			return err
		}
		*target(cfg) = d
		return nil
	}
}

func listVar(target func(*Config) *[]string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		var items []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		*target(cfg) = items
		return nil
	}
}

var envBindings = []envBinding{
	{"HTTP_ADDR", stringVar(func(c *Config) *string { return &c.HTTP.Addr })},
	{"CORS_ORIGINS", listVar(func(c *Config) *[]string { return &c.HTTP.CORSOrigins })},
	{"CERT_FILE", func(c *Config, v string) error {
		c.Security.TLS.Server.CertFile = v
		c.Security.TLS.Server.Enabled = v != ""
		return nil
	}},
	{"KEY_FILE", stringVar(func(c *Config) *string { return &c.Security.TLS.Server.KeyFile })},
	{"CA_FILE", listVar(func(c *Config) *[]string { return &c.Security.TLS.Client.CAFiles })},

	{"ARANGO_HOSTS", listVar(func(c *Config) *[]string { return &c.Arango.Endpoints })},
	{"ARANGO_DB_NAME", stringVar(func(c *Config) *string { return &c.Arango.Database })},
	{"ARANGO_USERNAME", stringVar(func(c *Config) *string { return &c.Arango.Username })},
	{"ARANGO_PASSWORD", stringVar(func(c *Config) *string { return &c.Arango.Password })},
	{"ARANGO_DEFAULT_LIMIT", intVar(func(c *Config) *int { return &c.Arango.DefaultLimit })},
	{"ARANGO_CONNECT_RETRIES", intVar(func(c *Config) *int { return &c.Arango.ConnectRetries })},
	{"ARANGO_CONNECT_BACKOFF", durationVar(func(c *Config) *Duration { return &c.Arango.ConnectBackoff })},
	{"REQUEST_TIMEOUT", durationVar(func(c *Config) *Duration { return &c.Arango.RequestTimeout })},

	{"AUDIT_LOG", boolVar(func(c *Config) *bool { return &c.Audit.Log })},
	{"AUDIT_LOG_DB", boolVar(func(c *Config) *bool { return &c.Audit.LogDB })},
	{"AUDIT_VERSIONING", boolVar(func(c *Config) *bool { return &c.Audit.Versioning })},
	{"NO_DELETE", boolVar(func(c *Config) *bool { return &c.NoDelete })},

	{"ARANGO_SCHEMA_PATH", stringVar(func(c *Config) *string { return &c.Schemas.DBSchema })},
	{"DOMAIN_SCHEMA_DIR", stringVar(func(c *Config) *string { return &c.Schemas.DomainDir })},
	{"SEARCH_CONFIG_PATH", stringVar(func(c *Config) *string { return &c.Schemas.SearchConfig })},
	{"SERVICE_CONFIG_PATH", stringVar(func(c *Config) *string { return &c.Schemas.ServiceConfig })},
	{"RELOAD_SCHEMAS", boolVar(func(c *Config) *bool { return &c.Schemas.Reload })},

	{"NATS_URLS", func(c *Config, v string) error {
		if err := listVar(func(c *Config) *[]string { return &c.NATS.URLs })(c, v); err != nil {
			return err
		}
		c.NATS.Enabled = len(c.NATS.URLs) > 0
		return nil
	}},
	{"NATS_BUCKET", stringVar(func(c *Config) *string { return &c.NATS.Bucket })},
	{"NATS_USERNAME", stringVar(func(c *Config) *string { return &c.NATS.Username })},
	{"NATS_PASSWORD", stringVar(func(c *Config) *string { return &c.NATS.Password })},
	{"NATS_TOKEN", stringVar(func(c *Config) *string { return &c.NATS.Token })},

	{"WORKERS", intVar(func(c *Config) *int { return &c.Workers.Count })},
	{"HOOK_RATE_LIMIT", func(c *Config, v string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return err
		}
		c.Hooks.RateLimit = f
		return nil
	}},

	{"GRAPHQL", boolVar(func(c *Config) *bool { return &c.GraphQL.Enabled })},
	{"GRAPHQL_PLAYGROUND", boolVar(func(c *Config) *bool { return &c.GraphQL.Playground })},
	{"GRAPHQL_MAX_DEPTH", intVar(func(c *Config) *int { return &c.GraphQL.MaxQueryDepth })},

	{"LOG_LEVEL", stringVar(func(c *Config) *string { return &c.Logging.Level })},
	{"LOG_FORMAT", stringVar(func(c *Config) *string { return &c.Logging.Format })},
	{"AQL_LOG", boolVar(func(c *Config) *bool { return &c.Logging.Queries })},
}

func (l *Loader) applyEnvOverrides(cfg *Config) error {
	for _, binding := range envBindings {
		value, ok := l.lookupEnv(binding.key)
		if !ok {
			continue
		}
		if err := checkEnvValue(binding.key, value); err != nil {
			return err
		}
		if err := binding.apply(cfg, value); err != nil {
			return fmt.Errorf("environment variable %s: %w", binding.key, err)
		}
		l.logger.Debug("config override from environment", "key", binding.key)
	}
	return nil
}

// trueish accepts 1, true, yes, on and y in any case.
func trueish(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on", "y", "t":
		return true
	}
	return false
}
