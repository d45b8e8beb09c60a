// Package capability evaluates executor requirements attached to tasks.
//
// Checks run on the candidate executor, never in the engine. The engine only
// consumes the aggregate Eligible verdict when routing TASK-mode nodes.
package capability

import (
	"context"
	"sort"
	"sync"

	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

// Response is the verdict for one capability.
type Response struct {
	Capability schema.Capability `json:"capability"`
	Validated  bool              `json:"validated"`
	Basis      string            `json:"basis"`
}

// Checker tests one kind of capability against the local environment.
type Checker interface {
	Check(ctx context.Context, c schema.Capability) (*Response, error)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, c schema.Capability) (*Response, error)

// Check implements Checker.
func (f CheckerFunc) Check(ctx context.Context, c schema.Capability) (*Response, error) {
	return f(ctx, c)
}

// Registry maps capability types to checkers. Build one per executor at
// startup and pass it explicitly.
type Registry struct {
	mu       sync.RWMutex
	checkers map[schema.CapabilityType]Checker
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{checkers: make(map[schema.CapabilityType]Checker)}
}

// NewDefaultRegistry registers the HTTP, BINARY, SOCKET and ENV checkers.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(schema.CapabilityHTTP, NewHTTPChecker(nil))
	_ = r.Register(schema.CapabilityBinary, BinaryChecker{})
	_ = r.Register(schema.CapabilitySocket, SocketChecker{})
	_ = r.Register(schema.CapabilityEnv, EnvChecker{})
	return r
}

// Register adds a checker. Returns CONFLICT on duplicate type.
func (r *Registry) Register(typ schema.CapabilityType, c Checker) error {
	if c == nil {
		return schema.NewError(schema.ErrCodeValidation, "checker is nil")
	}
	if typ == "" {
		return schema.NewError(schema.ErrCodeValidation, "capability type is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.checkers[typ]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "checker for %q already registered", typ)
	}
	r.checkers[typ] = c
	return nil
}

// Get returns the checker for typ.
func (r *Registry) Get(typ schema.CapabilityType) (Checker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.checkers[typ]
	return c, ok
}

// Types lists registered types, sorted.
func (r *Registry) Types() []schema.CapabilityType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]schema.CapabilityType, 0, len(r.checkers))
	for t := range r.checkers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Eligible reports whether every requirement was understood and validated.
func Eligible(responses []*Response) bool {
	for _, r := range responses {
		if r == nil || !r.Validated {
			return false
		}
	}
	return true
}
