package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/pranay-harness/harness-core-sub060/pkg/mcp"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the control plane over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) (err error) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, rt.close()) }()
	rt.start(ctx)

	if a.cfg.Scheduler.Enabled {
		if n, recErr := rt.scheduler.RecoverMissed(ctx); recErr != nil {
			a.logger.Warn("recover missed triggers", slog.String("error", recErr.Error()))
		} else if n > 0 {
			a.logger.Info("recovered missed triggers", slog.Int("count", n))
		}
		if err := rt.scheduler.Start(ctx); err != nil {
			return err
		}
	}

	// Ops endpoint: health check and metrics.
	metrics := rt.metrics.Handler()
	swapper := newHandlerSwapper(opsMux(metrics, a.cfg.Metrics))
	httpSrv := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           swapper,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("ops server failed", slog.String("error", err.Error()))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	r := &reloader{
		current: a.cfg,
		level:   a.level,
		limiter: rt.dispatcher,
		swapper: swapper,
		metrics: metrics,
		logger:  a.logger,
	}
	if a.v.ConfigFileUsed() != "" {
		a.v.OnConfigChange(func(e fsnotify.Event) {
			next, loadErr := loadConfig(a.v)
			if loadErr != nil {
				a.logger.Warn("config reload rejected", slog.String("file", e.Name), slog.String("error", loadErr.Error()))
				return
			}
			r.apply(next)
		})
		a.v.WatchConfig()
	}

	srv := mcp.NewServer(mcp.ServerDeps{
		Executions: rt.engine,
		Plans:      rt.planner,
		Store:      rt.store,
		Validator:  rt.validator,
		Tasks:      rt.dispatcher,
		Resolver:   rt.notify,
		Triggers:   rt.scheduler,
		Metrics:    rt.metrics,
		Logger:     a.logger,
	})
	forwarder := mcp.NewEventForwarder(srv.MCPServer(), srv.Sessions(), a.logger)
	go func() {
		if err := forwarder.Run(ctx, rt.hub); err != nil {
			a.logger.Warn("event forwarding stopped", slog.String("error", err.Error()))
		}
	}()

	a.logger.Info("orchestrator serving",
		slog.String("version", version),
		slog.String("store", a.cfg.Store.Driver),
		slog.String("listen_addr", a.cfg.ListenAddr),
		slog.Bool("scheduler", a.cfg.Scheduler.Enabled),
	)
	return srv.Serve(ctx)
}
