package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"carelay/internal/config"
	"carelay/internal/models"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// options are the persistent flags shared by every subcommand.
type options struct {
	configPath string
	envFile    string
	verbose    bool
	ephemeral  bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "carelay",
		Short:         "Relay contract addresses from watched chats to forward targets",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadEnvFile(opts.envFile)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "path to configuration file (default ./config.json when present)")
	pf.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before configuration")
	pf.BoolVar(&opts.verbose, "verbose", false, "enable verbose logging (includes chat titles and message previews)")
	pf.BoolVar(&opts.ephemeral, "ephemeral", false, "use the in-memory store regardless of configuration")

	root.AddCommand(
		newServeCmd(opts),
		newSettingsCmd(opts),
		newQueueCmd(opts),
		newLedgerCmd(opts),
		newForwardsCmd(opts),
		newMigrateCmd(opts),
		newVersionCmd(),
	)
	return root
}

// loadEnvFile loads path into the environment. A missing file is fine;
// variables already set win.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func loadConfig(opts *options) (*models.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.ephemeral {
		cfg.Storage.Backend = "memory"
	}
	return cfg, nil
}

// newLogger builds the process logger. serve logs JSON; CLI subcommands log
// text to stderr so their stdout stays machine-readable.
func newLogger(cfg *models.Config, verbose, jsonFormat bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if jsonFormat {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	applyLogLevel(logger, cfg.LogLevel, verbose)
	return logger
}

// applyLogLevel caps the configured level at info; debug needs --verbose.
func applyLogLevel(logger *logrus.Logger, configured string, verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		return
	}
	if configured == "" {
		logger.SetLevel(logrus.InfoLevel)
		return
	}
	level, err := logrus.ParseLevel(configured)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", configured)
		logger.SetLevel(logrus.InfoLevel)
		return
	}
	if level > logrus.InfoLevel {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}
