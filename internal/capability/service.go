package capability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

const (
	defaultMaxConcurrency = 8
	defaultCheckTimeout   = 5 * time.Second
)

// Config bounds capability evaluation.
type Config struct {
	MaxConcurrency int
	CheckTimeout   time.Duration
	Logger         *slog.Logger
	Tracer         trace.Tracer
}

// Service evaluates a task's requirements against a Registry.
type Service struct {
	registry *Registry
	limit    int
	timeout  time.Duration
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewService creates a Service over registry.
func NewService(registry *Registry, cfg Config) *Service {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = defaultCheckTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("capability")
	}
	return &Service{
		registry: registry,
		limit:    cfg.MaxConcurrency,
		timeout:  cfg.CheckTimeout,
		logger:   cfg.Logger,
		tracer:   cfg.Tracer,
	}
}

// Registry returns the underlying registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// CheckCapabilities evaluates every requirement concurrently. The result is
// index-aligned with reqs; an unknown type yields a nil entry.
func (s *Service) CheckCapabilities(ctx context.Context, reqs []schema.Capability) []*Response {
	ctx, span := s.tracer.Start(ctx, "capability.check_all",
		trace.WithAttributes(attribute.Int("capability.count", len(reqs))))
	defer span.End()

	out := make([]*Response, len(reqs))
	var g errgroup.Group
	g.SetLimit(s.limit)

	for i, req := range reqs {
		checker, ok := s.registry.Get(req.Type)
		if !ok {
			s.logger.Warn("capability type not supported", slog.String("type", string(req.Type)))
			continue
		}
		g.Go(func() error {
			out[i] = s.checkOne(ctx, checker, req)
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(attribute.Bool("capability.eligible", Eligible(out)))
	return out
}

// checkOne enforces the per-check deadline even when the checker ignores ctx.
func (s *Service) checkOne(ctx context.Context, checker Checker, req schema.Capability) *Response {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type result struct {
		resp *Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("checker panic: %v", r)}
			}
		}()
		resp, err := checker.Check(ctx, req)
		done <- result{resp: resp, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return &Response{Capability: req, Validated: false, Basis: r.err.Error()}
		}
		if r.resp == nil {
			return &Response{Capability: req, Validated: false, Basis: "checker returned no verdict"}
		}
		r.resp.Capability = req
		s.logger.Debug("capability checked",
			slog.String("type", string(req.Type)),
			slog.Bool("validated", r.resp.Validated),
			slog.String("basis", r.resp.Basis))
		return r.resp
	case <-ctx.Done():
		return &Response{Capability: req, Validated: false, Basis: fmt.Sprintf("check did not finish within %s", s.timeout)}
	}
}

// ErrNotEligible builds the error returned when an executor cannot take a task.
func ErrNotEligible(responses []*Response) error {
	var unmet []string
	for _, r := range responses {
		switch {
		case r == nil:
			unmet = append(unmet, "unsupported capability")
		case !r.Validated:
			unmet = append(unmet, fmt.Sprintf("%s: %s", r.Capability.Type, r.Basis))
		}
	}
	return schema.NewError(schema.ErrCodeDispatch, "executor not eligible").
		WithDetails(map[string]any{"unmet": unmet})
}
