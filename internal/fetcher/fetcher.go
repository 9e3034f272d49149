// Package fetcher defines the data-fetching contract behind report data sources
// and the registry that maps a data source's dotted path to a constructor.
//
// Fetchers are registered once at process startup, either from code
// (typically an init function) or from configuration, and resolved lazily by
// models.DataSource on first use.
package fetcher

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Params carries the caller-supplied keyword arguments of a fetch.
type Params map[string]any

// Fetcher supplies keyed data for a report render.
type Fetcher interface {
	GetData(ctx context.Context, params Params) (map[string]any, error)
}

// FetcherFunc adapts an ordinary function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, params Params) (map[string]any, error)

// GetData calls f(ctx, params).
func (f FetcherFunc) GetData(ctx context.Context, params Params) (map[string]any, error) {
	return f(ctx, params)
}

// Factory constructs a Fetcher without arguments.
type Factory func() (Fetcher, error)

// Registry maps dotted paths to fetcher factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under path. Registering the same path twice is an error.
func (r *Registry) Register(path string, factory Factory) error {
	if path == "" {
		return fmt.Errorf("fetcher: empty path")
	}
	if factory == nil {
		return fmt.Errorf("fetcher: nil factory for %q", path)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[path]; exists {
		return fmt.Errorf("fetcher: %q already registered", path)
	}
	r.factories[path] = factory
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(path string, factory Factory) {
	if err := r.Register(path, factory); err != nil {
		panic(err)
	}
}

// Has reports whether path is registered.
func (r *Registry) Has(path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[path]
	return ok
}

// Paths returns the registered paths in sorted order.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	paths := make([]string, 0, len(r.factories))
	for p := range r.factories {
		paths = append(paths, p)
	}
	r.mu.RUnlock()

	sort.Strings(paths)
	return paths
}

// Resolve looks up path and constructs a new Fetcher from its factory.
// It returns a *ResolutionError for an unknown path and a *ConstructionError
// when the factory fails or panics.
func (r *Registry) Resolve(path string) (Fetcher, error) {
	r.mu.RLock()
	factory, ok := r.factories[path]
	r.mu.RUnlock()

	if !ok {
		return nil, &ResolutionError{Path: path}
	}
	return construct(path, factory)
}

func construct(path string, factory Factory) (f Fetcher, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			f = nil
			err = &ConstructionError{Path: path, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	f, err = factory()
	if err != nil {
		return nil, &ConstructionError{Path: path, Err: err}
	}
	if f == nil {
		return nil, &ConstructionError{Path: path, Err: fmt.Errorf("factory returned nil")}
	}
	return f, nil
}

// Default is the process-wide registry used by models.DataSource.
var Default = NewRegistry()

// Register adds a factory to the Default registry.
func Register(path string, factory Factory) error {
	return Default.Register(path, factory)
}

// MustRegister adds a factory to the Default registry and panics on error.
func MustRegister(path string, factory Factory) {
	Default.MustRegister(path, factory)
}
