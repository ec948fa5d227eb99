package graphql

import (
	"github.com/protojour/pymoriam/errors"
)

// Config holds configuration for the GraphQL surface
type Config struct {
	// EnablePlayground serves GraphiQL on GET /{domain}/graphql (default: true)
	EnablePlayground bool `json:"enable_playground" yaml:"enable_playground"`

	// MaxQueryDepth limits selection nesting (default: 10)
	MaxQueryDepth int `json:"max_query_depth,omitempty" yaml:"max_query_depth,omitempty"`

	// Concurrency bounds the root fields resolved at once (default: 4)
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`

	// QueryCacheSize is the number of parsed query documents kept (default: 1000)
	QueryCacheSize int `json:"query_cache_size,omitempty" yaml:"query_cache_size,omitempty"`
}

// Validate ensures the configuration is valid and fills defaults
func (c *Config) Validate() error {
	if c.MaxQueryDepth < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_query_depth cannot be negative")
	}
	if c.MaxQueryDepth == 0 {
		c.MaxQueryDepth = 10
	}
	if c.MaxQueryDepth > 50 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_query_depth cannot exceed 50")
	}

	if c.Concurrency < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"concurrency cannot be negative")
	}
	if c.Concurrency == 0 {
		c.Concurrency = 4
	}

	if c.QueryCacheSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"query_cache_size cannot be negative")
	}
	if c.QueryCacheSize == 0 {
		c.QueryCacheSize = 1000
	}
	return nil
}

// DefaultConfig returns default GraphQL configuration
func DefaultConfig() Config {
	return Config{
		EnablePlayground: true,
		MaxQueryDepth:    10,
		Concurrency:      4,
		QueryCacheSize:   1000,
	}
}
