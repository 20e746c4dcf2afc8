package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/subvert/internal/config"
	"github.com/MimeLyc/subvert/internal/persistence"
	"github.com/MimeLyc/subvert/pkg/log"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var logLevelFlag string

	ctx := &commandContext{configFlag: &configFlag, logLevelFlag: &logLevelFlag}

	rootCmd := &cobra.Command{
		Use:           "subvert",
		Short:         "Extract embedded subtitles from a Stash library into sidecar SRT files",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", os.Getenv("SUBVERT_CONFIG"), "TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newScheduleCommand(ctx))
	rootCmd.AddCommand(newPluginCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))

	return rootCmd
}

type commandContext struct {
	configFlag   *string
	logLevelFlag *string
}

// loadConfig builds the configuration with command-specific options applied
// last, so flags win over the file and the environment.
func (c *commandContext) loadConfig(opts ...config.Option) (*config.Config, error) {
	if c.logLevelFlag != nil && *c.logLevelFlag != "" {
		opts = append(opts, config.WithLogLevel(*c.logLevelFlag))
	}
	path := ""
	if c.configFlag != nil {
		path = *c.configFlag
	}
	cfg, err := config.Load(path, opts...)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

// setupLogging installs the global logger described by cfg. Plugin format
// writes to stderr, which Stash reads as the plugin log stream, and is copied
// to the log file when one is configured.
func setupLogging(cfg *config.Config, stderr io.Writer) (func(), error) {
	level := log.ParseLevel(cfg.Log.Level)
	format := log.ParseFormat(cfg.Log.Format)

	if cfg.Log.File == "" {
		out := io.Writer(os.Stdout)
		if format == log.FormatPlugin {
			out = stderr
		}
		log.SetLogger(log.NewWriterLogger(out, level, format))
		return func() {}, nil
	}

	fileLogger, err := log.NewFileLogger(cfg.Log.File, level)
	if err != nil {
		return nil, err
	}
	if format == log.FormatPlugin {
		fileLogger.SetOutput(io.MultiWriter(stderr, fileLogger.File()))
	}
	fileLogger.SetFormat(format)
	log.SetLogger(fileLogger.Logger)
	return func() { _ = fileLogger.Close() }, nil
}

// openStore opens the run ledger. History is informational, so callers keep
// going without it when the database cannot be opened.
func openStore(cfg *config.Config) *persistence.SQLiteStore {
	store, err := persistence.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		log.Warn("Run history disabled: %v", err)
		return nil
	}
	return store
}
