package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/pranay-harness/harness-core-sub060/internal/audit"
	"github.com/pranay-harness/harness-core-sub060/internal/capability"
	"github.com/pranay-harness/harness-core-sub060/internal/delegate"
	"github.com/pranay-harness/harness-core-sub060/internal/engine"
	"github.com/pranay-harness/harness-core-sub060/internal/expressions"
	"github.com/pranay-harness/harness-core-sub060/internal/logging"
	"github.com/pranay-harness/harness-core-sub060/internal/notify"
	"github.com/pranay-harness/harness-core-sub060/internal/pipeline"
	"github.com/pranay-harness/harness-core-sub060/internal/plancreation"
	"github.com/pranay-harness/harness-core-sub060/internal/scheduler"
	"github.com/pranay-harness/harness-core-sub060/internal/store"
	"github.com/pranay-harness/harness-core-sub060/internal/streaming"
	"github.com/pranay-harness/harness-core-sub060/internal/telemetry"
	"github.com/pranay-harness/harness-core-sub060/internal/worker"
)

// runtime is the wired control plane.
type runtime struct {
	logger     *slog.Logger
	store      store.Store
	pool       *worker.Pool
	notify     *notify.Engine
	hub        *streaming.MemoryHub
	engine     *engine.Engine
	dispatcher *delegate.Dispatcher
	planner    *plancreation.Coordinator
	validator  *pipeline.Validator
	scheduler  *scheduler.Scheduler
	metrics    *telemetry.Metrics

	stopLoops func()
	closers   []func() error
}

// newLogger builds the process logger. It writes to stderr so stdout stays
// free for the MCP stdio transport.
func newLogger(level *slog.LevelVar) *slog.Logger {
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func openStore(ctx context.Context, cfg StoreConfig) (store.Store, func() error, error) {
	if cfg.Driver == "memory" {
		return store.NewMemoryStore(), func() error { return nil }, nil
	}
	driver := store.Driver(cfg.Driver)
	if driver != store.DriverPostgres {
		path := strings.TrimPrefix(cfg.DSN, "file:")
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create store dir: %w", err)
			}
		}
	}
	st, err := store.Open(driver, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, nil, fmt.Errorf("migrate store: %w", err)
	}
	return st, st.Close, nil
}

// buildRuntime wires every component from cfg. Call start before driving
// executions so waits can expire.
func buildRuntime(ctx context.Context, cfg Config, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{logger: logger}

	st, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	rt.store = st
	rt.closers = append(rt.closers, closeStore)

	rt.pool = worker.New("orchestrator", cfg.PoolSize, logger)
	rt.notify = notify.New(notify.Config{Pool: rt.pool, Logger: logger, SweepInterval: cfg.Engine.NotifySweep})
	rt.hub = streaming.NewMemoryHub()
	rt.metrics = telemetry.New(prometheus.NewRegistry())
	events := store.NewEventLog(st)

	rt.dispatcher, err = delegate.NewDispatcher(delegate.Config{
		Store:         st,
		Resolver:      rt.notify,
		Events:        events,
		Pool:          rt.pool,
		RatePerSecond: cfg.Dispatch.RatePerSecond,
		Burst:         cfg.Dispatch.Burst,
		Breaker: delegate.BreakerConfig{
			FailureThreshold: cfg.Dispatch.FailThreshold,
			Cooldown:         cfg.Dispatch.Cooldown,
			HalfOpenMax:      1,
		},
		Capability: capability.Config{Logger: logger, Tracer: otel.Tracer("orchestrator/capability")},
		OnDispatch: rt.metrics.ObserveDispatch,
		Logger:     logger,
		Tracer:     otel.Tracer("orchestrator/delegate"),
	})
	if err != nil {
		return nil, rt.abort(err)
	}
	if cfg.Dispatch.LocalExecutor {
		local := delegate.NewLocalExecutor(delegate.LocalConfig{
			ID:       cfg.Dispatch.ExecutorID,
			Reporter: rt.dispatcher,
			Logger:   logger,
		})
		if err := rt.dispatcher.Register(local); err != nil {
			return nil, rt.abort(err)
		}
	}

	cel, err := expressions.NewCELEngine()
	if err != nil {
		return nil, rt.abort(err)
	}
	reg := engine.NewRegistries()
	if err := engine.RegisterBuiltins(reg, engine.BuiltinConfig{Notifier: rt.notify, CEL: cel}); err != nil {
		return nil, rt.abort(err)
	}
	rt.validator = pipeline.NewValidator(reg.Steps)

	observers := []engine.Observer{rt.metrics.Observer()}
	if cfg.Audit.Enabled() {
		exporter, err := newAuditExporter(ctx, cfg.Audit)
		if err != nil {
			return nil, rt.abort(err)
		}
		observers = append(observers, exporter.Observer())
	}

	rt.engine, err = engine.New(engine.Config{
		Store:              st,
		Notify:             rt.notify,
		Pool:               rt.pool,
		Registries:         reg,
		Tasks:              rt.dispatcher,
		Hub:                rt.hub,
		Observers:          observers,
		Interpolator:       expressions.NewInterpolator(expressions.NewGoJQEngine()),
		Logger:             logger,
		Tracer:             otel.Tracer("orchestrator/engine"),
		DefaultTaskTimeout: cfg.Engine.DefaultTaskTimeout,
	})
	if err != nil {
		return nil, rt.abort(err)
	}

	services := plancreation.LocalServices()
	for _, rc := range cfg.PlanCreation.Remote {
		svc, err := newRemoteCreator(rc)
		if err != nil {
			return nil, rt.abort(err)
		}
		services = append(services, svc)
	}
	rt.planner, err = plancreation.NewCoordinator(plancreation.Config{
		Services:    services,
		Store:       st,
		MaxDepth:    cfg.PlanCreation.MaxDepth,
		CallTimeout: cfg.PlanCreation.CallTimeout,
		Logger:      logger,
		Tracer:      otel.Tracer("orchestrator/plancreation"),
	})
	if err != nil {
		return nil, rt.abort(err)
	}

	rt.scheduler = scheduler.New(scheduler.Config{
		Store:      st,
		Starter:    rt.engine,
		Expirer:    rt.engine,
		StaleAfter: cfg.Scheduler.StaleAfter,
		Events:     events,
		Interval:   cfg.Scheduler.Interval,
		Logger:     logger,
	})
	return rt, nil
}

func newAuditExporter(ctx context.Context, cfg AuditConfig) (*audit.Exporter, error) {
	ac := cfg.exporterConfig()
	client, err := audit.NewMinIOClient(ac)
	if err != nil {
		return nil, err
	}
	if err := audit.EnsureBucket(ctx, client, ac.Bucket, ac.Region); err != nil {
		return nil, err
	}
	return audit.NewExporter(client, ac.Bucket, ac.Prefix), nil
}

func newRemoteCreator(rc RemoteCreator) (*plancreation.HTTPService, error) {
	hc := plancreation.HTTPConfig{
		Name:      rc.Name,
		URL:       rc.URL,
		Supported: rc.Supported,
	}
	if rc.TokenURL != "" {
		hc.OAuth2 = &clientcredentials.Config{
			ClientID:     rc.ClientID,
			ClientSecret: rc.ClientSecret,
			TokenURL:     rc.TokenURL,
			Scopes:       rc.Scopes,
		}
	}
	return plancreation.NewHTTPService(hc)
}

// start launches the notify sweep, which fails timed-out waits. It runs
// until ctx is done or close is called.
func (rt *runtime) start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		rt.notify.Run(loopCtx)
	}()
	rt.stopLoops = func() {
		cancel()
		<-done
	}
}

// abort releases what was built so far and returns err.
func (rt *runtime) abort(err error) error {
	return errors.Join(err, rt.close())
}

// close stops every component in reverse dependency order.
func (rt *runtime) close() error {
	if rt.stopLoops != nil {
		rt.stopLoops()
		rt.stopLoops = nil
	}
	if rt.scheduler != nil {
		_ = rt.scheduler.Stop()
	}
	if rt.engine != nil {
		rt.engine.Shutdown()
	}
	if rt.pool != nil {
		rt.pool.Shutdown()
	}
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	rt.closers = nil
	return errors.Join(errs...)
}
