package plancreation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/pranay-harness/harness-core-sub060/internal/engine"
	"github.com/pranay-harness/harness-core-sub060/internal/pipeline"
	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

const (
	defaultMaxDepth    = 10
	defaultConcurrency = 4
	defaultCallTimeout = 30 * time.Second
)

// MsgUnresolved leads the errors of a plan whose dependencies never resolved.
const MsgUnresolved = "Unable to resolve all dependencies"

// PlanStore persists created plans.
type PlanStore interface {
	CreatePlan(ctx context.Context, plan *schema.Plan) error
}

// Config wires a Coordinator.
type Config struct {
	Services []Service
	Store    PlanStore
	// MaxDepth bounds the number of negotiation rounds.
	MaxDepth int
	// Concurrency bounds service calls in flight within a round.
	Concurrency int
	// CallTimeout is the deadline of each service call.
	CallTimeout time.Duration
	Logger      *slog.Logger
	Tracer      trace.Tracer
	Now         func() time.Time
}

// Coordinator creates plans from pipeline definitions.
type Coordinator struct {
	services    []Service
	store       PlanStore
	maxDepth    int
	concurrency int
	callTimeout time.Duration
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewCoordinator creates a Coordinator. A store is required.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "plan creation requires a store")
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultMaxDepth
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("orchestrator/plancreation")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{
		services:    cfg.Services,
		store:       cfg.Store,
		maxDepth:    cfg.MaxDepth,
		concurrency: cfg.Concurrency,
		callTimeout: cfg.CallTimeout,
		logger:      cfg.Logger,
		tracer:      cfg.Tracer,
		now:         cfg.Now,
	}, nil
}

// RootDependency is the construct a definition enters negotiation as.
func RootDependency(def *pipeline.Definition) (Dependency, error) {
	m, err := pipeline.ToMap(def)
	if err != nil {
		return Dependency{}, schema.NewError(schema.ErrCodeValidation, "encode pipeline definition").WithCause(err)
	}
	return Dependency{
		Kind:       KindPipeline,
		Identifier: def.Identifier,
		NodeID:     def.Identifier,
		Definition: m,
	}, nil
}

// CreatePlan negotiates def into a plan and persists it. Creation problems
// never fail the call; they yield a persisted plan with Valid=false and the
// accumulated messages. Only persistence failures are returned as errors.
func (c *Coordinator) CreatePlan(ctx context.Context, def *pipeline.Definition) (*schema.Plan, error) {
	planID := uuid.NewString()
	ctx, span := c.tracer.Start(ctx, "plancreation.create", trace.WithAttributes(
		attribute.String("plan_id", planID),
	))
	defer span.End()

	blob := NewBlobResponse()
	if def == nil {
		blob.Errors = append(blob.Errors, "pipeline definition is nil")
	} else if root, err := RootDependency(def); err != nil {
		blob.Errors = append(blob.Errors, err.Error())
	} else {
		blob.Dependencies[root.NodeID] = root
		blob.Context["pipeline"] = def.Identifier
	}

	// Dependencies no service supports are parked here so they are not
	// re-sent every round.
	stuck := make(map[string]Dependency)
	depth := 0
	for ; depth < c.maxDepth && len(blob.Dependencies) > 0; depth++ {
		c.round(ctx, planID, depth, blob, stuck)
		if len(blob.Dependencies) == 0 {
			break
		}
	}

	var errs []string
	if len(blob.Dependencies) > 0 || len(stuck) > 0 {
		errs = append(errs, MsgUnresolved)
		for _, dep := range blob.Unresolved() {
			errs = append(errs, fmt.Sprintf("unresolved %s %q (%s)", dep.Kind, dep.NodeID, dep.Identifier))
		}
		for _, dep := range sortedDeps(stuck) {
			errs = append(errs, fmt.Sprintf("no plan creator supports %s %s (node %s)", dep.Kind, dep.Identifier, dep.NodeID))
		}
	}
	errs = append(errs, blob.Errors...)

	plan := schema.NewPlan(planID, blob.StartingNodeID, blob.Nodes)
	plan.CreatedAt = c.now()
	if len(errs) == 0 {
		if _, res := engine.BuildGraph(plan); !res.Valid() {
			errs = append(errs, res.Messages()...)
		}
	}
	if len(errs) > 0 {
		plan = schema.NewInvalidPlan(planID, blob.StartingNodeID, blob.Nodes, errs)
		plan.CreatedAt = c.now()
	}

	span.SetAttributes(
		attribute.Int("plan.nodes", len(plan.Nodes)),
		attribute.Int("plan.rounds", depth),
		attribute.Bool("plan.valid", plan.Valid),
	)
	if err := c.store.CreatePlan(ctx, plan); err != nil {
		span.RecordError(err)
		return nil, schema.NewErrorf(schema.ErrCodePlanCreation, "persist plan %s: %s", planID, err.Error()).WithCause(err)
	}

	log := c.logger.With(slog.String("plan_id", planID), slog.Int("nodes", len(plan.Nodes)), slog.Int("rounds", depth))
	if plan.Valid {
		log.Info("plan created")
	} else {
		log.Warn("plan created invalid", slog.Any("errors", plan.Errors))
	}
	return plan, nil
}

// round sends every unresolved dependency to each service that supports it
// and merges the replies into blob.
func (c *Coordinator) round(ctx context.Context, planID string, depth int, blob *BlobResponse, stuck map[string]Dependency) {
	batches := make([]map[string]Dependency, len(c.services))
	for _, dep := range blob.Unresolved() {
		supported := false
		for i, s := range c.services {
			if !Supports(s, dep) {
				continue
			}
			if batches[i] == nil {
				batches[i] = make(map[string]Dependency)
			}
			batches[i][dep.NodeID] = dep
			supported = true
		}
		if !supported {
			stuck[dep.NodeID] = dep
			delete(blob.Dependencies, dep.NodeID)
		}
	}

	replies := make([]*PartialResponse, len(c.services))
	var mu sync.Mutex
	var callErrs []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, s := range c.services {
		if len(batches[i]) == 0 {
			continue
		}
		req := CreationRequest{
			PlanID:       planID,
			Depth:        depth,
			Dependencies: batches[i],
			Context:      blob.Context,
		}
		g.Go(func() error {
			resp, err := c.call(gctx, s, req)
			if err != nil {
				mu.Lock()
				callErrs = append(callErrs, fmt.Sprintf("plan creator %s: %s", s.Name(), err.Error()))
				mu.Unlock()
				return nil
			}
			replies[i] = resp
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(callErrs)
	blob.Errors = append(blob.Errors, callErrs...)
	for i, resp := range replies {
		if resp == nil {
			continue
		}
		if err := safeMerge(blob, resp); err != nil {
			blob.Errors = append(blob.Errors, fmt.Sprintf("merge %s response: %s", c.services[i].Name(), err.Error()))
		}
	}

	c.logger.Debug("plan creation round",
		slog.String("plan_id", planID),
		slog.Int("depth", depth),
		slog.Int("nodes", len(blob.Nodes)),
		slog.Int("unresolved", len(blob.Dependencies)),
	)
}

func (c *Coordinator) call(ctx context.Context, s Service, req CreationRequest) (resp *PartialResponse, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	ctx, span := c.tracer.Start(ctx, "plancreation.call", trace.WithAttributes(
		attribute.String("service", s.Name()),
		attribute.Int("depth", req.Depth),
		attribute.Int("dependencies", len(req.Dependencies)),
	))
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panicked: %v", p)
		}
		if err != nil {
			span.RecordError(err)
		}
	}()
	resp, err = s.Create(ctx, req)
	if err == nil && ctx.Err() != nil {
		err = fmt.Errorf("deadline exceeded after %s", c.callTimeout)
	}
	return resp, err
}

func safeMerge(blob *BlobResponse, resp *PartialResponse) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panicked: %v", p)
		}
	}()
	blob.Merge(resp)
	return nil
}

func sortedDeps(m map[string]Dependency) []Dependency {
	out := make([]Dependency, 0, len(m))
	for _, d := range m {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}
