// Package registry provides an id → annotation-type lookup shared by all
// reconciliation passes in a process. It exists so a mark that carries only
// an id can still be resolved to a type. Entries never expire; removal is
// always explicit, driven by annotation deletion.
package registry

import (
	gocache "github.com/patrickmn/go-cache"
)

// Registry is a process-local type cache. Construct one per application
// instance; independent instances do not share entries.
type Registry struct {
	cache *gocache.Cache
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{cache: gocache.New(gocache.NoExpiration, 0)}
}

// Set records or replaces the type for an annotation id.
func (r *Registry) Set(id, annotationType string) {
	if id == "" {
		return
	}
	r.cache.Set(id, annotationType, gocache.NoExpiration)
}

// Get returns the type for an id, or "" when unknown.
func (r *Registry) Get(id string) string {
	if value, found := r.cache.Get(id); found {
		return value.(string)
	}
	return ""
}

// Delete removes an id. Deleting an unknown id is a no-op.
func (r *Registry) Delete(id string) {
	r.cache.Delete(id)
}
