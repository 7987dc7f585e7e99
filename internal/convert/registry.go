package convert

import (
	"sync"

	"go.uber.org/zap"
)

// Registry is an append-only collection of adapters.
type Registry struct {
	mu       sync.Mutex
	adapters []Adapter
	graph    *Graph
	logger   *zap.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{logger: zap.NewNop()}
}

// SetLogger sets the logger used by graphs built from now on. A nil logger
// disables logging.
func (r *Registry) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
	r.graph = nil
}

// Register adds an adapter. The next Graph call observes it.
func (r *Registry) Register(a Adapter) error {
	if err := a.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters = append(r.adapters, a)
	r.graph = nil
	return nil
}

// MustRegister is Register for package initialization.
func (r *Registry) MustRegister(adapters ...Adapter) {
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			panic(err)
		}
	}
}

// Adapters returns the registered adapters in registration order.
func (r *Registry) Adapters() []Adapter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Adapter(nil), r.adapters...)
}

// Graph returns a snapshot of the registry. Snapshots are cached until the
// next registration.
func (r *Registry) Graph() *Graph {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.graph == nil {
		r.graph = buildGraph(r.adapters, r.logger)
	}
	return r.graph
}

// Default is the process-wide registry.
var Default = NewRegistry()

// Register adds an adapter to the Default registry.
func Register(a Adapter) error {
	return Default.Register(a)
}

// DefaultGraph returns a snapshot of the Default registry.
func DefaultGraph() *Graph {
	return Default.Graph()
}
