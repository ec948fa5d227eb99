// Package search configures the text search view: which fields feed the
// _index field of each collection, the view the root search subset runs
// against, and the analyzers it needs.
package search

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/protojour/pymoriam/errors"
)

// IndexField is the storage field holding the searchable text of a document.
const IndexField = "_index"

// Analyzer is the text analyzer search tokens are produced with.
const Analyzer = "text_en"

//go:embed search_config.json
var configSchemaJSON []byte

// Config is the search configuration document.
type Config struct {
	ViewName    string              `yaml:"view_name" json:"view_name"`
	ViewProps   map[string]any      `yaml:"view_props" json:"view_props"`
	IndexFields map[string][]string `yaml:"index_fields" json:"index_fields"`
	Analyzers   []map[string]any    `yaml:"analyzers,omitempty" json:"analyzers,omitempty"`
}

// LoadConfig reads a search config file. An empty path disables search.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "search", "LoadConfig", "read "+path)
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates a search config document.
func ParseConfig(data []byte) (*Config, error) {
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, errors.Schemaf("Invalid search config: %v", err)
	}
	if _, err := json.Marshal(generic); err != nil {
		return nil, errors.Schemaf("Invalid search config: should be a map with string keys")
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(configSchemaJSON), gojsonschema.NewGoLoader(generic))
	if err != nil {
		return nil, errors.Schemaf("Invalid search config: %v", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
		}
		sort.Strings(msgs)
		return nil, errors.Schemaf("Invalid search config: %s", strings.Join(msgs, "; "))
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Schemaf("Invalid search config: %v", err)
	}
	if cfg.IndexFields == nil {
		cfg.IndexFields = map[string][]string{}
	}
	return &cfg, nil
}

// Enabled reports whether a view is configured.
func (c *Config) Enabled() bool {
	return c != nil && c.ViewName != ""
}

// Links returns the collections linked into the view, sorted by name.
func (c *Config) Links() []string {
	if c == nil {
		return nil
	}
	links, _ := c.ViewProps["links"].(map[string]any)
	out := make([]string, 0, len(links))
	for name := range links {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Collections returns the collections a search subset is restricted to:
// the resolver alone, or every linked collection when all is set.
func (c *Config) Collections(resolver string, all bool) []string {
	if all {
		return c.Links()
	}
	return []string{resolver}
}

// Indexed reports whether documents of collection carry an _index field.
func (c *Config) Indexed(collection string) bool {
	if c == nil {
		return false
	}
	_, ok := c.IndexFields[collection]
	return ok
}

// BuildIndex joins the configured index fields of obj into the text stored
// in _index.
func (c *Config) BuildIndex(collection string, obj map[string]any) string {
	if c == nil {
		return ""
	}
	fields := c.IndexFields[collection]
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, CleanString(obj[field]))
	}
	return strings.Join(parts, " ")
}

// CleanString renders a decoded JSON value as plain text: nil is empty,
// lists are joined with spaces and maps contribute their values in key
// order.
func CleanString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, CleanString(item))
		}
		return strings.Join(parts, " ")
	case []string:
		return strings.Join(val, " ")
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, CleanString(val[k]))
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprint(val)
	}
}
