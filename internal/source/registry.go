package source

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fxintel/collector/internal/config"
)

// WatermarkLookup resolves the stored cursor for a dataset. Incremental
// adapters use it to narrow enumeration and request only revisions past the
// last durable export. Returns false when no watermark exists yet.
type WatermarkLookup func(ctx context.Context, dataset string) (string, bool)

// FactoryOpts is what every adapter factory receives.
type FactoryOpts struct {
	Cfg       config.SourceConfig
	Log       *zap.SugaredLogger
	Watermark WatermarkLookup
}

// Factory creates an adapter instance from configuration.
type Factory func(opts FactoryOpts) (Adapter, error)

// Registry holds adapter factories indexed by source ID.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for the given source ID.
// Panics if the source ID is already registered.
func (r *Registry) Register(sourceID string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[sourceID]; exists {
		panic(fmt.Sprintf("adapter factory already registered: %s", sourceID))
	}
	r.factories[sourceID] = factory
}

// Get returns the factory for the given source ID.
func (r *Registry) Get(sourceID string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[sourceID]
	return factory, ok
}

// List returns all registered source IDs.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	return ids
}

// Create instantiates an adapter for the given source ID.
func (r *Registry) Create(sourceID string, opts FactoryOpts) (Adapter, error) {
	factory, ok := r.Get(sourceID)
	if !ok {
		return nil, fmt.Errorf("unknown source: %s", sourceID)
	}
	return factory(opts)
}

// --- Default Global Registry ---

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the global adapter registry.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Register adds a factory to the default registry.
func Register(sourceID string, factory Factory) {
	defaultRegistry.Register(sourceID, factory)
}
