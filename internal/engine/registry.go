package engine

import (
	"sort"
	"sync"

	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

// Registry is a thread-safe type-name keyed lookup table.
type Registry[T any] struct {
	kind  string
	mu    sync.RWMutex
	items map[string]T
}

// NewRegistry creates an empty registry; kind names the entries in errors.
func NewRegistry[T any](kind string) *Registry[T] {
	return &Registry[T]{kind: kind, items: make(map[string]T)}
}

// Register adds an entry. Duplicate types are rejected with CONFLICT.
func (r *Registry[T]) Register(typ string, item T) error {
	if typ == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s type is empty", r.kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[typ]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "%s %q already registered", r.kind, typ)
	}
	r.items[typ] = item
	return nil
}

// Get returns the entry for typ or a NOT_FOUND error.
func (r *Registry[T]) Get(typ string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[typ]
	if !ok {
		var zero T
		return zero, schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not registered", r.kind, typ)
	}
	return item, nil
}

// Has reports whether typ is registered.
func (r *Registry[T]) Has(typ string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[typ]
	return ok
}

// Types returns the registered type names, sorted.
func (r *Registry[T]) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.items))
	for k := range r.items {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type (
	FacilitatorRegistry = Registry[Facilitator]
	AdviserRegistry     = Registry[Adviser]
	StepRegistry        = Registry[Step]
)

// Registries bundles the three lookup tables the engine resolves plan nodes against.
type Registries struct {
	Facilitators *FacilitatorRegistry
	Advisers     *AdviserRegistry
	Steps        *StepRegistry
}

// NewRegistries returns empty registries.
func NewRegistries() *Registries {
	return &Registries{
		Facilitators: NewRegistry[Facilitator]("facilitator"),
		Advisers:     NewRegistry[Adviser]("adviser"),
		Steps:        NewRegistry[Step]("step"),
	}
}

// RegisterStep registers s under its own Type().
func (r *Registries) RegisterStep(s Step) error {
	if s == nil {
		return schema.NewError(schema.ErrCodeValidation, "step is nil")
	}
	return r.Steps.Register(s.Type(), s)
}

// CheckNode verifies that every type the node references is registered.
func (r *Registries) CheckNode(node *schema.PlanNode) error {
	if !r.Steps.Has(node.StepType) {
		return schema.NewErrorf(schema.ErrCodeConfiguration, "unknown step type %q", node.StepType).WithNode(node.ID)
	}
	if !r.Facilitators.Has(node.Facilitator.Type) {
		return schema.NewErrorf(schema.ErrCodeConfiguration, "unknown facilitator %q", node.Facilitator.Type).WithNode(node.ID)
	}
	for _, a := range node.Advisers {
		if !r.Advisers.Has(a.Type) {
			return schema.NewErrorf(schema.ErrCodeConfiguration, "unknown adviser %q", a.Type).WithNode(node.ID)
		}
	}
	return nil
}
