package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pranay-harness/harness-core-sub060/internal/audit"
	"github.com/pranay-harness/harness-core-sub060/internal/store"
)

// Config holds all orchestrator configuration.
// Priority: flags > ORCH_* env vars > config file > defaults.
type Config struct {
	LogLevel     string             `mapstructure:"log_level"`
	PoolSize     int                `mapstructure:"pool_size"`
	ListenAddr   string             `mapstructure:"listen_addr"`
	Metrics      bool               `mapstructure:"metrics"`
	Store        StoreConfig        `mapstructure:"store"`
	Engine       EngineConfig       `mapstructure:"engine"`
	Dispatch     DispatchConfig     `mapstructure:"dispatch"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	PlanCreation PlanCreationConfig `mapstructure:"plan_creation"`
	Audit        AuditConfig        `mapstructure:"audit"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type EngineConfig struct {
	DefaultTaskTimeout time.Duration `mapstructure:"default_task_timeout"`
	NotifySweep        time.Duration `mapstructure:"notify_sweep"`
}

type DispatchConfig struct {
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
	// LocalExecutor registers the in-process shell/http executor.
	LocalExecutor bool          `mapstructure:"local_executor"`
	ExecutorID    string        `mapstructure:"executor_id"`
	FailThreshold int           `mapstructure:"fail_threshold"`
	Cooldown      time.Duration `mapstructure:"cooldown"`
}

type SchedulerConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

type PlanCreationConfig struct {
	MaxDepth    int             `mapstructure:"max_depth"`
	CallTimeout time.Duration   `mapstructure:"call_timeout"`
	Remote      []RemoteCreator `mapstructure:"remote"`
}

// RemoteCreator is a plan creation service reached over HTTP.
type RemoteCreator struct {
	Name         string              `mapstructure:"name"`
	URL          string              `mapstructure:"url"`
	Supported    map[string][]string `mapstructure:"supported"`
	ClientID     string              `mapstructure:"client_id"`
	ClientSecret string              `mapstructure:"client_secret"`
	TokenURL     string              `mapstructure:"token_url"`
	Scopes       []string            `mapstructure:"scopes"`
}

type AuditConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// Enabled reports whether audit export is configured.
func (a AuditConfig) Enabled() bool { return a.Endpoint != "" }

func (a AuditConfig) exporterConfig() audit.Config {
	return audit.Config{
		Endpoint:  a.Endpoint,
		AccessKey: a.AccessKey,
		SecretKey: a.SecretKey,
		Region:    a.Region,
		Bucket:    a.Bucket,
		Prefix:    a.Prefix,
		UseSSL:    a.UseSSL,
	}
}

func orchestratorDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".orchestrator"
	}
	return filepath.Join(home, ".orchestrator")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("pool_size", 16)
	v.SetDefault("listen_addr", ":9464")
	v.SetDefault("metrics", true)

	v.SetDefault("store.driver", string(store.DriverLibSQL))
	v.SetDefault("store.dsn", "file:"+filepath.Join(orchestratorDir(), "orchestrator.db"))

	v.SetDefault("engine.default_task_timeout", 10*time.Minute)
	v.SetDefault("engine.notify_sweep", time.Second)

	v.SetDefault("dispatch.rate_per_second", 50.0)
	v.SetDefault("dispatch.burst", 100)
	v.SetDefault("dispatch.local_executor", true)
	v.SetDefault("dispatch.executor_id", "local")
	v.SetDefault("dispatch.fail_threshold", 5)
	v.SetDefault("dispatch.cooldown", 30*time.Second)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", time.Minute)
	v.SetDefault("scheduler.stale_after", 24*time.Hour)

	v.SetDefault("plan_creation.max_depth", 10)
	v.SetDefault("plan_creation.call_timeout", 30*time.Second)

	v.SetDefault("audit.endpoint", "")
	v.SetDefault("audit.access_key", "")
	v.SetDefault("audit.secret_key", "")
	v.SetDefault("audit.region", "")
	v.SetDefault("audit.bucket", "orchestrator-audit")
	v.SetDefault("audit.prefix", "executions")
	v.SetDefault("audit.use_ssl", false)
}

// newViper returns a viper instance with defaults, env binding and the
// optional config file applied.
func newViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(orchestratorDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ORCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

func loadConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return Config{}, err
	}
	switch store.Driver(cfg.Store.Driver) {
	case store.DriverLibSQL, store.DriverSQLite, store.DriverPostgres, "memory":
	default:
		return Config{}, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	return cfg, nil
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q", s)
	}
	return lvl, nil
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	LogLevelChanged  bool
	RateLimitChanged bool
	MetricsChanged   bool
	RestartNeeded    []string // fields that require a restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	if old.Dispatch.RatePerSecond != new.Dispatch.RatePerSecond || old.Dispatch.Burst != new.Dispatch.Burst {
		d.RateLimitChanged = true
	}
	if old.Metrics != new.Metrics {
		d.MetricsChanged = true
	}
	if old.ListenAddr != new.ListenAddr {
		d.RestartNeeded = append(d.RestartNeeded, "listen_addr")
	}
	if old.Store != new.Store {
		d.RestartNeeded = append(d.RestartNeeded, "store")
	}
	if old.PoolSize != new.PoolSize {
		d.RestartNeeded = append(d.RestartNeeded, "pool_size")
	}
	if old.Scheduler != new.Scheduler {
		d.RestartNeeded = append(d.RestartNeeded, "scheduler")
	}
	if old.Audit != new.Audit {
		d.RestartNeeded = append(d.RestartNeeded, "audit")
	}
	return d
}
