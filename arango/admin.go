package arango

import (
	"context"
	"net/http"
	"net/url"
	"sort"

	"github.com/protojour/pymoriam/errors"
	"github.com/protojour/pymoriam/schema"
)

// Collection types as reported by the store.
const (
	DocumentCollection = 2
	EdgeCollection     = 3
)

// CollectionInfo describes an existing collection.
type CollectionInfo struct {
	Name     string `json:"name"`
	Type     int    `json:"type"`
	IsSystem bool   `json:"isSystem"`
}

// HasDatabase reports whether name exists.
func (c *Client) HasDatabase(ctx context.Context, name string) (bool, error) {
	var out struct {
		Result []string `json:"result"`
	}
	if err := c.do(ctx, http.MethodGet, "_db/_system/_api/database", nil, nil, "", &out); err != nil {
		return false, err
	}
	for _, db := range out.Result {
		if db == name {
			return true, nil
		}
	}
	return false, nil
}

// CreateDatabase creates a database.
func (c *Client) CreateDatabase(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "_db/_system/_api/database", nil, map[string]any{"name": name}, "", nil)
}

// Collections lists the collections of the selected database.
func (c *Client) Collections(ctx context.Context) ([]CollectionInfo, error) {
	var out struct {
		Result []CollectionInfo `json:"result"`
	}
	if err := c.do(ctx, http.MethodGet, c.dbPath("_api/collection"), nil, nil, "", &out); err != nil {
		return nil, err
	}
	return out.Result, nil
}

// CreateCollection creates a document or edge collection.
func (c *Client) CreateCollection(ctx context.Context, name string, edge bool) error {
	kind := DocumentCollection
	if edge {
		kind = EdgeCollection
	}
	return c.do(ctx, http.MethodPost, c.dbPath("_api/collection"), nil, map[string]any{"name": name, "type": kind}, "", nil)
}

// TruncateCollection removes every document of a collection.
func (c *Client) TruncateCollection(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPut, c.dbPath("_api/collection/%s/truncate", url.PathEscape(name)), nil, nil, "", nil)
}

// Views lists views by name.
func (c *Client) Views(ctx context.Context) (map[string]map[string]any, error) {
	var out struct {
		Result []map[string]any `json:"result"`
	}
	if err := c.do(ctx, http.MethodGet, c.dbPath("_api/view"), nil, nil, "", &out); err != nil {
		return nil, err
	}
	views := make(map[string]map[string]any, len(out.Result))
	for _, v := range out.Result {
		if name, ok := v["name"].(string); ok {
			views[name] = v
		}
	}
	return views, nil
}

// ViewProperties reads the properties of a view, including its links.
func (c *Client) ViewProperties(ctx context.Context, name string) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, c.dbPath("_api/view/%s/properties", url.PathEscape(name)), nil, nil, "", &out)
	return out, err
}

// CreateView creates an arangosearch view with props.
func (c *Client) CreateView(ctx context.Context, name string, props map[string]any) error {
	body := map[string]any{"name": name, "type": "arangosearch"}
	for k, v := range props {
		body[k] = v
	}
	return c.do(ctx, http.MethodPost, c.dbPath("_api/view"), nil, body, "", nil)
}

// UpdateView patches the properties of a view.
func (c *Client) UpdateView(ctx context.Context, name string, props map[string]any) error {
	return c.do(ctx, http.MethodPatch, c.dbPath("_api/view/%s/properties", url.PathEscape(name)), nil, props, "", nil)
}

// Analyzers lists analyzer names.
func (c *Client) Analyzers(ctx context.Context) ([]string, error) {
	var out struct {
		Result []struct {
			Name string `json:"name"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodGet, c.dbPath("_api/analyzer"), nil, nil, "", &out); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.Result))
	for _, a := range out.Result {
		names = append(names, a.Name)
	}
	return names, nil
}

// CreateAnalyzer creates an analyzer from its definition.
func (c *Client) CreateAnalyzer(ctx context.Context, def map[string]any) error {
	return c.do(ctx, http.MethodPost, c.dbPath("_api/analyzer"), nil, def, "", nil)
}

// Bootstrap creates the database and every collection of db that does not
// exist yet, plus the domain collection. It returns the
// names of the created collections.
func (c *Client) Bootstrap(ctx context.Context, db *schema.DBSchema) ([]string, error) {
	exists, err := c.HasDatabase(ctx, c.database)
	if err != nil {
		return nil, errors.Wrap(err, "arango", "Bootstrap", "list databases")
	}
	if !exists {
		if err := c.CreateDatabase(ctx, c.database); err != nil {
			return nil, errors.Wrap(err, "arango", "Bootstrap", "create database "+c.database)
		}
		c.logger.Info("Database created", "database", c.database)
	}

	existing, err := c.Collections(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "arango", "Bootstrap", "list collections")
	}
	have := make(map[string]bool, len(existing))
	for _, coll := range existing {
		have[coll.Name] = true
	}

	want := map[string]bool{DomainCollection: false}
	for name := range db.Collections {
		want[name] = false
	}
	for name := range db.EdgeCollections {
		want[name] = true
	}
	names := make([]string, 0, len(want))
	for name := range want {
		names = append(names, name)
	}
	sort.Strings(names)

	var created []string
	for _, name := range names {
		if have[name] {
			continue
		}
		if err := c.CreateCollection(ctx, name, want[name]); err != nil {
			return created, errors.Wrap(err, "arango", "Bootstrap", "create collection "+name)
		}
		c.logger.Info("Collection created", "collection", name, "edge", want[name])
		created = append(created, name)
	}
	return created, nil
}

// DomainCollection stores managed domain schemas.
const DomainCollection = "domain"
