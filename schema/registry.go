package schema

import "sync/atomic"

// Registry holds the current catalog. Rebuilds swap the whole catalog so
// readers never see a partial update.
type Registry struct {
	current atomic.Pointer[Catalog]
}

// NewRegistry creates a registry holding catalog, which may be nil.
func NewRegistry(catalog *Catalog) *Registry {
	r := &Registry{}
	if catalog != nil {
		r.current.Store(catalog)
	}
	return r
}

// Catalog returns the current catalog, or nil before the first build.
func (r *Registry) Catalog() *Catalog {
	return r.current.Load()
}

// Swap installs catalog and returns the previous one.
func (r *Registry) Swap(catalog *Catalog) *Catalog {
	return r.current.Swap(catalog)
}

// Domain resolves a domain label against the current catalog.
func (r *Registry) Domain(label string) (*Model, error) {
	return r.current.Load().Domain(label)
}
