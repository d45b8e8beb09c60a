// Package plancreation turns pipeline definitions into plans by negotiating
// with plan-creator services over bounded rounds. Each service expands the
// constructs it owns and hands nested constructs back as dependencies.
package plancreation

import (
	"context"
	"maps"
	"slices"
	"sort"

	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

// Construct kinds a plan creator may support.
const (
	KindPipeline = "pipeline"
	KindStage    = "stage"
	KindStep     = "step"
)

// AnyIdentifier in SupportedTypes matches every identifier of a kind.
const AnyIdentifier = "*"

// Dependency is a construct a service could not expand itself. NodeID is the
// id the expanded node must carry; a dependency is resolved once a node with
// that id exists.
type Dependency struct {
	Kind       string            `json:"kind"`
	Identifier string            `json:"identifier"`
	NodeID     string            `json:"node_id"`
	Definition map[string]any    `json:"definition,omitempty"`
	Context    map[string]string `json:"context,omitempty"`
}

// CreationRequest asks a service to expand dependencies.
type CreationRequest struct {
	PlanID       string                `json:"plan_id"`
	Depth        int                   `json:"depth"`
	Dependencies map[string]Dependency `json:"dependencies"`
	Context      map[string]string     `json:"context,omitempty"`
}

// Service expands pipeline constructs into plan nodes.
type Service interface {
	Name() string
	// SupportedTypes maps a construct kind to the identifiers the service
	// expands, e.g. {"stage": {"Deployment", "Approval"}}.
	SupportedTypes() map[string][]string
	Create(ctx context.Context, req CreationRequest) (*PartialResponse, error)
}

// Supports reports whether s declares support for dep.
func Supports(s Service, dep Dependency) bool {
	ids, ok := s.SupportedTypes()[dep.Kind]
	if !ok {
		return false
	}
	return slices.Contains(ids, AnyIdentifier) || slices.Contains(ids, dep.Identifier)
}

// PartialResponse is one service's contribution to a plan.
type PartialResponse struct {
	Nodes          map[string]*schema.PlanNode `json:"nodes,omitempty"`
	StartingNodeID string                      `json:"starting_node_id,omitempty"`
	Dependencies   map[string]Dependency       `json:"dependencies,omitempty"`
	Layout         map[string]any              `json:"layout,omitempty"`
	Context        map[string]string           `json:"context,omitempty"`
	Errors         []string                    `json:"errors,omitempty"`
}

// BlobResponse accumulates partial responses into one plan fragment.
type BlobResponse struct {
	Nodes          map[string]*schema.PlanNode
	StartingNodeID string
	Dependencies   map[string]Dependency
	Layout         map[string]any
	Context        map[string]string
	Errors         []string
}

// NewBlobResponse returns an empty accumulator.
func NewBlobResponse() *BlobResponse {
	return &BlobResponse{
		Nodes:        make(map[string]*schema.PlanNode),
		Dependencies: make(map[string]Dependency),
		Layout:       make(map[string]any),
		Context:      make(map[string]string),
	}
}

// Merge folds p into b. Nodes and dependencies are unioned (the first node
// seen for an id is kept) and dependencies resolved by a present node are
// dropped, so the resulting node and dependency sets do not depend on merge
// order. The first non-empty starting node id wins; context and layout are
// merged and errors appended.
func (b *BlobResponse) Merge(p *PartialResponse) {
	if p == nil {
		return
	}
	for id, n := range p.Nodes {
		if n == nil {
			b.Errors = append(b.Errors, "plan creator returned nil node "+id)
			continue
		}
		if _, ok := b.Nodes[id]; !ok {
			b.Nodes[id] = n
		}
	}
	for id, dep := range p.Dependencies {
		if dep.NodeID == "" {
			dep.NodeID = id
		}
		if _, ok := b.Dependencies[dep.NodeID]; !ok {
			b.Dependencies[dep.NodeID] = dep
		}
	}
	for id := range b.Dependencies {
		if _, ok := b.Nodes[id]; ok {
			delete(b.Dependencies, id)
		}
	}
	if b.StartingNodeID == "" {
		b.StartingNodeID = p.StartingNodeID
	}
	maps.Copy(b.Layout, p.Layout)
	for k, v := range p.Context {
		if _, ok := b.Context[k]; !ok {
			b.Context[k] = v
		}
	}
	b.Errors = append(b.Errors, p.Errors...)
}

// Unresolved returns the pending dependencies ordered by node id.
func (b *BlobResponse) Unresolved() []Dependency {
	ids := make([]string, 0, len(b.Dependencies))
	for id := range b.Dependencies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Dependency, 0, len(ids))
	for _, id := range ids {
		out = append(out, b.Dependencies[id])
	}
	return out
}
