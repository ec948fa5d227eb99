package search

import (
	"context"
	"log/slog"
	"slices"
	"sort"

	"github.com/protojour/pymoriam/arango"
	"github.com/protojour/pymoriam/errors"
)

// Admin is the part of the store client that manages views and analyzers.
type Admin interface {
	Analyzers(ctx context.Context) ([]string, error)
	CreateAnalyzer(ctx context.Context, def map[string]any) error
	Views(ctx context.Context) (map[string]map[string]any, error)
	ViewProperties(ctx context.Context, name string) (map[string]any, error)
	CreateView(ctx context.Context, name string, props map[string]any) error
	UpdateView(ctx context.Context, name string, props map[string]any) error
}

// EnsureAnalyzers creates the configured analyzers that do not exist yet.
func (c *Config) EnsureAnalyzers(ctx context.Context, admin Admin, logger *slog.Logger) error {
	if c == nil || len(c.Analyzers) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	existing, err := admin.Analyzers(ctx)
	if err != nil {
		return errors.Wrap(err, "search", "EnsureAnalyzers", "list analyzers")
	}
	have := make(map[string]bool, len(existing))
	for _, name := range existing {
		have[name] = true
	}

	for _, def := range c.Analyzers {
		name, _ := def["name"].(string)
		if have[name] {
			continue
		}
		if err := admin.CreateAnalyzer(ctx, def); err != nil {
			return errors.Wrap(err, "search", "EnsureAnalyzers", "create analyzer "+name)
		}
		logger.Info("Analyzer not found, created", "analyzer", name)
	}
	return nil
}

// EnsureView creates the view, or updates it when its linked collections
// differ from the configured ones.
func (c *Config) EnsureView(ctx context.Context, admin Admin, logger *slog.Logger) error {
	if !c.Enabled() {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	views, err := admin.Views(ctx)
	if err != nil {
		return errors.Wrap(err, "search", "EnsureView", "list views")
	}
	if _, ok := views[c.ViewName]; !ok {
		if err := admin.CreateView(ctx, c.ViewName, c.ViewProps); err != nil {
			return errors.Wrap(err, "search", "EnsureView", "create view "+c.ViewName)
		}
		logger.Info("Search view not found, created", "view", c.ViewName)
		return nil
	}

	props, err := admin.ViewProperties(ctx, c.ViewName)
	if err != nil {
		return errors.Wrap(err, "search", "EnsureView", "read view "+c.ViewName)
	}
	stored, _ := props["links"].(map[string]any)
	storedNames := make([]string, 0, len(stored))
	for name := range stored {
		storedNames = append(storedNames, name)
	}
	sort.Strings(storedNames)
	if slices.Equal(storedNames, c.Links()) {
		return nil
	}
	if err := admin.UpdateView(ctx, c.ViewName, c.ViewProps); err != nil {
		return errors.Wrap(err, "search", "EnsureView", "update view "+c.ViewName)
	}
	logger.Info("Search view updated", "view", c.ViewName)
	return nil
}

// Reindex recomputes _index for every document of the indexed collections
// and writes the ones that changed. It returns the number of updated
// documents.
func (c *Config) Reindex(ctx context.Context, store arango.Store, logger *slog.Logger) (int, error) {
	if c == nil {
		return 0, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	collections := make([]string, 0, len(c.IndexFields))
	for name := range c.IndexFields {
		collections = append(collections, name)
	}
	sort.Strings(collections)

	updated := 0
	for _, collection := range collections {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		logger.Info("Updating search indexes", "collection", collection)

		cursor, err := store.Query(ctx, "FOR object IN @@collection RETURN object",
			map[string]any{"@collection": collection}, arango.QueryOptions{Kind: "reindex"})
		if err != nil {
			return updated, errors.Wrap(err, "search", "Reindex", "read "+collection)
		}

		var changes []map[string]any
		for _, obj := range cursor.Result {
			index := c.BuildIndex(collection, obj)
			if current, _ := obj[IndexField].(string); current == index {
				continue
			}
			changes = append(changes, map[string]any{"_key": obj["_key"], IndexField: index})
		}
		if len(changes) == 0 {
			continue
		}

		opts := arango.DefaultUpdateOptions()
		opts.ReturnNew, opts.ReturnOld = false, false
		if _, err := store.BulkUpdate(ctx, collection, changes, opts); err != nil {
			return updated, errors.Wrap(err, "search", "Reindex", "update "+collection)
		}
		updated += len(changes)
	}
	return updated, nil
}
