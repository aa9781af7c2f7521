package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"carelay/internal/constants"
	"carelay/internal/models"
	"carelay/internal/service"
	"carelay/internal/storage"
	"carelay/internal/versioning"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// cliEnv is what a store-backed subcommand works with.
type cliEnv struct {
	cfg    *models.Config
	logger *logrus.Logger
	store  storage.Store
}

// withStore loads configuration, opens the store and runs fn. Subcommands
// talk to the store directly; a running relay picks up settings written
// here after its next config reload or a PUT /api/settings.
func withStore(cmd *cobra.Command, opts *options, fn func(ctx context.Context, env cliEnv) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, opts.verbose, false)

	ctx := cmd.Context()
	store, _, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close store")
		}
	}()
	return fn(ctx, cliEnv{cfg: cfg, logger: logger, store: store})
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSettingsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the watched chats and message age gate",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the stored runtime settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, opts, func(ctx context.Context, env cliEnv) error {
				settings, err := service.ReadSettings(ctx, env.store)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), toSettingsResponse(settings))
			})
		},
	})

	var (
		watch  []string
		maxAge int
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Replace the watched chats and/or the message age gate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			watchChanged := cmd.Flags().Changed("watch")
			ageChanged := cmd.Flags().Changed("max-age")
			if !watchChanged && !ageChanged {
				return fmt.Errorf("nothing to set: pass --watch and/or --max-age")
			}

			return withStore(cmd, opts, func(ctx context.Context, env cliEnv) error {
				update := models.SettingsUpdate{WatchedChats: watch}
				if !watchChanged {
					current, err := service.ReadSettings(ctx, env.store)
					if err != nil {
						return err
					}
					update.WatchedChats = current.WatchedChats
				}
				if ageChanged {
					update.MaxMessageAgeMinutes = &maxAge
				}

				settings, err := service.WriteSettings(ctx, env.store, update)
				if err != nil {
					return err
				}
				env.logger.WithField(service.LogFieldCount, len(settings.WatchedChats)).Info("Runtime settings updated")
				return printJSON(cmd.OutOrStdout(), toSettingsResponse(settings))
			})
		},
	}
	set.Flags().StringArrayVar(&watch, "watch", nil, "watched chat title (repeatable; replaces the list)")
	set.Flags().IntVar(&maxAge, "max-age", constants.DefaultMaxMessageAgeMinutes, "recent-message age gate in minutes")
	cmd.AddCommand(set)

	return cmd
}

func newQueueCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Print the persisted forward queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, opts, func(ctx context.Context, env cliEnv) error {
				queue := []models.ForwardRequest{}
				if _, err := storage.GetJSON(ctx, env.store, constants.KeyForwardQueue, &queue); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), queue)
			})
		},
	}
}

func newLedgerCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect or prune the processed-address ledger",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print every processed address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, opts, func(ctx context.Context, env cliEnv) error {
				ledger := service.NewLedger(env.store, env.logger, nil)
				if err := ledger.Load(ctx); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), ledger.Snapshot())
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Remove entries older than ledger.retentionHours",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, opts, func(ctx context.Context, env cliEnv) error {
				ledger := service.NewLedger(env.store, env.logger, nil)
				if err := ledger.Load(ctx); err != nil {
					return err
				}
				removed, err := ledger.Prune(ctx, time.Duration(env.cfg.Ledger.RetentionHours)*time.Hour)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "pruned %d entries, %d remain\n", removed, ledger.Len())
				return err
			})
		},
	})
	return cmd
}

func newForwardsCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "forwards",
		Short: "Print the most recent forward attempts (sqlite backend)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cfg.Storage.Backend != "sqlite" {
				return fmt.Errorf("forward audit requires the sqlite backend, configured backend is %q", cfg.Storage.Backend)
			}
			logger := newLogger(cfg, opts.verbose, false)
			_, db, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			rows, err := db.RecentForwards(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := make([]forwardAuditResponse, 0, len(rows))
			for _, a := range rows {
				out = append(out, forwardAuditResponse(a))
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", defaultForwardsLimit, "number of rows to print")
	return cmd
}

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending sqlite schema migrations and print the schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cfg.Storage.Backend != "sqlite" {
				return fmt.Errorf("migrations apply to the sqlite backend only, configured backend is %q", cfg.Storage.Backend)
			}
			logger := newLogger(cfg, opts.verbose, false)
			_, db, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			version, err := db.SchemaVersion()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
			return err
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versioning.Info()
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "carelay %s\nAPI: %s\nBuild Time: %s\nGit Commit: %s\nGo: %s\n",
				info.Version, info.API, info.BuildTime, info.Commit, info.GoVersion)
			return err
		},
	}
}
