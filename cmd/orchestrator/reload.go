package main

import (
	"log/slog"
	"net/http"
	"sync"
)

// rateLimiter is the dispatcher knob a reload can turn.
type rateLimiter interface {
	SetRateLimit(perSecond float64, burst int)
}

// reloader applies hot-reloadable config changes: log level, dispatch rate
// limit and the metrics endpoint. Everything else is logged as needing a
// restart.
type reloader struct {
	mu      sync.Mutex
	current Config

	level   *slog.LevelVar
	limiter rateLimiter
	swapper *handlerSwapper
	metrics http.Handler
	logger  *slog.Logger
}

func (r *reloader) apply(next Config) configDiff {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := diffConfigs(r.current, next)
	if d.LogLevelChanged {
		if lvl, err := parseLevel(next.LogLevel); err == nil {
			r.level.Set(lvl)
			r.logger.Info("log level changed", slog.String("level", next.LogLevel))
		}
	}
	if d.RateLimitChanged && r.limiter != nil {
		r.limiter.SetRateLimit(next.Dispatch.RatePerSecond, next.Dispatch.Burst)
		r.logger.Info("dispatch rate limit changed",
			slog.Float64("per_second", next.Dispatch.RatePerSecond),
			slog.Int("burst", next.Dispatch.Burst),
		)
	}
	if d.MetricsChanged && r.swapper != nil {
		r.swapper.Swap(opsMux(r.metrics, next.Metrics))
		r.logger.Info("metrics endpoint toggled", slog.Bool("enabled", next.Metrics))
	}
	if len(d.RestartNeeded) > 0 {
		r.logger.Warn("config change requires restart", slog.Any("fields", d.RestartNeeded))
	}
	r.current = next
	return d
}
