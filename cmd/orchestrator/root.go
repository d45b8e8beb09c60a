package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app carries the state shared by every command.
type app struct {
	configFile string

	v      *viper.Viper
	cfg    Config
	level  *slog.LevelVar
	logger *slog.Logger
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{level: new(slog.LevelVar)}

	root := &cobra.Command{
		Use:   "orchestrator",
		Short: "Pipeline orchestration control plane",
		Long: `orchestrator turns pipeline definitions into plans, executes them and
exposes the control plane as MCP tools over stdio.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.init,
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", "", "config file (default is $HOME/.orchestrator/config.yaml)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("store-driver", "", "store driver (libsql, sqlite, postgres, memory)")
	flags.String("store-dsn", "", "store data source name")

	root.AddCommand(
		newServeCmd(a),
		newPlanCmd(a),
		newRunCmd(a),
		newVersionCmd(),
	)
	return root
}

// init loads configuration and builds the logger before any command runs.
func (a *app) init(cmd *cobra.Command, _ []string) error {
	v, err := newViper(a.configFile)
	if err != nil {
		return err
	}
	flags := cmd.Root().PersistentFlags()
	for key, flag := range map[string]string{
		"log_level":    "log-level",
		"store.driver": "store-driver",
		"store.dsn":    "store-dsn",
	} {
		if f := flags.Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}

	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	lvl, _ := parseLevel(cfg.LogLevel)
	a.level.Set(lvl)

	a.v = v
	a.cfg = cfg
	a.logger = newLogger(a.level)
	slog.SetDefault(a.logger)
	return nil
}
