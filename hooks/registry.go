// Package hooks maintains the channel to listener registry and calls hook
// listeners around mutations and reads.
//
// Channels are named
//
//	{pre|post}_{create|update|delete}_obj_{class}
//	{pre|post}_{create|update|delete}_rel_{class}_{relation}
//	pre_access_obj_{class}
//
// and map to an ordered list of listener URLs. Order is registration order:
// services in the order they were loaded or registered, and within a service
// classes, relations and operations in name order. Class names are
// snake_cased like domain class names.
package hooks

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/protojour/pymoriam/errors"
	"github.com/protojour/pymoriam/schema"
)

// Positions of a hook relative to the write.
const (
	Pre  = "pre"
	Post = "post"
)

//go:embed service_config.json
var serviceConfigSchema []byte

// ObjectChannel names the channel of an object operation.
func ObjectChannel(pos string, op schema.Operation, class string) string {
	return fmt.Sprintf("%s_%s_obj_%s", pos, op, class)
}

// RelationChannel names the channel of a relation operation.
func RelationChannel(pos string, op schema.Operation, class, relation string) string {
	return fmt.Sprintf("%s_%s_rel_%s_%s", pos, op, class, relation)
}

// AccessChannel names the channel read results pass through.
func AccessChannel(class string) string {
	return "pre_access_obj_" + class
}

// Endpoint holds the pre and post paths of one operation.
type Endpoint struct {
	Pre  string `json:"pre,omitempty"`
	Post string `json:"post,omitempty"`
}

// ClassRPC holds the hook paths a service registers for one class.
type ClassRPC struct {
	Operations map[string]Endpoint
	Relations  map[string]map[string]Endpoint
}

// UnmarshalJSON reads {op: endpoint, relations: {rel: {op: endpoint}}}.
func (c *ClassRPC) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Operations = map[string]Endpoint{}
	for key, value := range raw {
		if key == "relations" {
			if err := json.Unmarshal(value, &c.Relations); err != nil {
				return fmt.Errorf("relations: %w", err)
			}
			continue
		}
		var ep Endpoint
		if err := json.Unmarshal(value, &ep); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		c.Operations[key] = ep
	}
	return nil
}

// MarshalJSON is the inverse of UnmarshalJSON.
func (c ClassRPC) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Operations)+1)
	for op, ep := range c.Operations {
		out[op] = ep
	}
	if len(c.Relations) > 0 {
		out["relations"] = c.Relations
	}
	return json.Marshal(out)
}

// Service is a registered hook service.
type Service struct {
	Name   string              `json:"name"`
	Info   any                 `json:"info,omitempty"`
	Host   string              `json:"host,omitempty"`
	Health string              `json:"health,omitempty"`
	API    string              `json:"api,omitempty"`
	RPC    map[string]ClassRPC `json:"rpc,omitempty"`
}

// Key is the snake_case registry key of the service.
func (s Service) Key() string {
	return schema.SnakeCase(s.Name)
}

// HealthURL is the full health check URL, empty without host or path.
func (s Service) HealthURL() string {
	if s.Host == "" || s.Health == "" {
		return ""
	}
	return s.Host + s.Health
}

// APIURL is the full API URL, empty without host or path.
func (s Service) APIURL() string {
	if s.Host == "" || s.API == "" {
		return ""
	}
	return s.Host + s.API
}

// channels lists (channel, url) pairs in registration order.
func (s Service) channels() [][2]string {
	var out [][2]string
	add := func(channel, path string) {
		if path != "" {
			out = append(out, [2]string{channel, s.Host + path})
		}
	}
	for _, name := range sortedKeys(s.RPC) {
		spec, class := s.RPC[name], schema.SnakeCase(name)
		for _, op := range sortedKeys(spec.Operations) {
			ep := spec.Operations[op]
			add(fmt.Sprintf("%s_%s_obj_%s", Pre, op, class), ep.Pre)
			add(fmt.Sprintf("%s_%s_obj_%s", Post, op, class), ep.Post)
		}
		for _, rel := range sortedKeys(spec.Relations) {
			ops := spec.Relations[rel]
			for _, op := range sortedKeys(ops) {
				ep := ops[op]
				add(fmt.Sprintf("%s_%s_rel_%s_%s", Pre, op, class, rel), ep.Pre)
				add(fmt.Sprintf("%s_%s_rel_%s_%s", Post, op, class, rel), ep.Post)
			}
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// table is an immutable registry snapshot.
type table struct {
	services []Service
	channels map[string][]string
}

func buildTable(services []Service) *table {
	t := &table{services: services, channels: map[string][]string{}}
	for _, svc := range services {
		for _, pair := range svc.channels() {
			channel, url := pair[0], pair[1]
			if !contains(t.channels[channel], url) {
				t.channels[channel] = append(t.channels[channel], url)
			}
		}
	}
	return t
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Registry maps channels to listener URLs. Changes rebuild the whole table
// and swap it in, so lookups never see a partial update.
type Registry struct {
	mu      sync.Mutex // serializes writers
	current atomic.Pointer[table]
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{logger: logger.With("component", "hooks")}
	r.current.Store(buildTable(nil))
	return r
}

// Listeners returns the listener URLs of channel in call order.
func (r *Registry) Listeners(channel string) []string {
	return r.current.Load().channels[channel]
}

// Channels returns every channel with at least one listener, sorted.
func (r *Registry) Channels() []string {
	return sortedKeys(r.current.Load().channels)
}

// Services returns the registered services in registration order.
func (r *Registry) Services() []Service {
	return append([]Service(nil), r.current.Load().services...)
}

// Service looks up a service by registry key.
func (r *Registry) Service(key string) (Service, bool) {
	for _, svc := range r.current.Load().services {
		if svc.Key() == key {
			return svc, true
		}
	}
	return Service{}, false
}

// Load replaces every registered service.
func (r *Registry) Load(services []Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current.Store(buildTable(append([]Service(nil), services...)))
	for _, svc := range services {
		r.logger.Info("service registered", "service", svc.Name, "channels", len(svc.channels()))
	}
}

// Register adds a service, or replaces the service registered under the
// same key while keeping its position.
func (r *Registry) Register(svc Service) error {
	if svc.Name == "" || svc.Info == nil {
		return errors.Schemaf("name and info are required parameters")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	services := append([]Service(nil), r.current.Load().services...)
	replaced := false
	for i := range services {
		if services[i].Key() == svc.Key() {
			services[i] = svc
			replaced = true
			break
		}
	}
	if !replaced {
		services = append(services, svc)
	}
	r.current.Store(buildTable(services))
	r.logger.Info("service registered", "service", svc.Name, "channels", len(svc.channels()), "replaced", replaced)
	return nil
}

// Unregister removes the service registered under key together with its
// listeners.
func (r *Registry) Unregister(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.current.Load().services
	services := make([]Service, 0, len(current))
	var name string
	for _, svc := range current {
		if svc.Key() == key {
			name = svc.Name
			continue
		}
		services = append(services, svc)
	}
	if len(services) == len(current) {
		return errors.NotFoundf("Service %s is not registered", key)
	}
	r.current.Store(buildTable(services))
	r.logger.Info("service unregistered", "service", name)
	return nil
}

// LoadServiceConfig reads a service config file. An empty path yields no
// services.
func LoadServiceConfig(path string) ([]Service, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "hooks", "LoadServiceConfig", "read "+path)
	}
	return ParseServiceConfig(data)
}

// ParseServiceConfig validates a service config document and returns its
// services ordered by config key. A service without a name takes its key.
func ParseServiceConfig(data []byte) ([]Service, error) {
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, errors.Schemaf("Invalid service config: %v", err)
	}
	if generic == nil {
		return nil, nil
	}
	raw, err := json.Marshal(generic)
	if err != nil {
		return nil, errors.Schemaf("Invalid service config: should be a map with string keys")
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(serviceConfigSchema), gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, errors.Schemaf("Invalid service config: %v", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
		}
		sort.Strings(msgs)
		return nil, errors.Schemaf("Invalid service config: %s", strings.Join(msgs, "; "))
	}

	var doc struct {
		Services map[string]Service `json:"services"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Schemaf("Invalid service config: %v", err)
	}
	services := make([]Service, 0, len(doc.Services))
	for _, key := range sortedKeys(doc.Services) {
		svc := doc.Services[key]
		if svc.Name == "" {
			svc.Name = key
		}
		services = append(services, svc)
	}
	return services, nil
}
