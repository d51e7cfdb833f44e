package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/di"
	"github.com/mikey/mail-triage/internal/factory"
	"github.com/mikey/mail-triage/internal/mailsync"
	"github.com/mikey/mail-triage/internal/ports"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mail-triage",
		Short:         "Multi-account email ingestion and triage",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(
		serveCmd(),
		syncCmd(),
		renewWatchesCmd(),
		recategorizeCmd(),
		statusCmd(),
		statsCmd(),
		disconnectCmd(),
	)
	return root
}

// loadConfig reads the config file and binds the persistent flags that override it
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.NewFromFile(configPath)
	} else {
		cfg, err = config.New()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.GetViper().BindPFlag("logging.level", cmd.Flags().Lookup("log-level")); err != nil {
		return nil, fmt.Errorf("failed to bind log level flag: %w", err)
	}
	return cfg, nil
}

// withContainer builds the container and invokes fn, closing shared resources afterwards
func withContainer(cmd *cobra.Command, fn interface{}) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	container, err := di.BuildContainer(cfg)
	if err != nil {
		return fmt.Errorf("failed to build dependency container: %w", err)
	}
	defer closeResources(container)
	return container.Invoke(fn)
}

func closeResources(container *dig.Container) {
	_ = container.Invoke(func(logger *zap.Logger, cache core.CacheRepository, store factory.Store, notifier core.Notifier) {
		defer logger.Sync()

		if stopper, ok := cache.(interface{ Stop() }); ok {
			stopper.Stop()
		}
		if closer, ok := store.(interface{ Close() }); ok {
			closer.Close()
		}
		if closer, ok := notifier.(interface{ Close() }); ok {
			closer.Close()
		}
	})
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and the background scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, func(logger *zap.Logger, services []ports.BackgroundService) error {
				for _, s := range services {
					if err := s.Start(); err != nil {
						logger.Error("Failed to start service", zap.Error(err))
						return err
					}
				}

				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

				<-sigCh
				logger.Info("Shutting down...")

				for i := len(services) - 1; i >= 0; i-- {
					if err := services[i].Stop(); err != nil {
						logger.Error("Failed to stop service", zap.Error(err))
					}
				}

				logger.Info("Shutdown complete")
				return nil
			})
		},
	}
}

func syncCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "sync <user>",
		Short: "Sync every active account of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, func(orch *mailsync.Orchestrator) error {
				report, err := orch.SyncAll(cmd.Context(), args[0], force)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Ignore stored cursors and fetch the full lookback window")
	return cmd
}

func renewWatchesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "renew-watches",
		Short: "Renew push subscriptions that are about to expire",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, func(w *mailsync.WatchMaintainer, logger *zap.Logger) error {
				renewed, err := w.RenewExpiring(cmd.Context())
				logger.Info("Watch renewal finished", zap.Int("renewed", renewed))
				return err
			})
		},
	}
}

func recategorizeCmd() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "recategorize <user> <account-id>",
		Short: "Re-run categorization over stored messages of an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid account id %q: %w", args[1], err)
			}
			var filter core.Category
			if category != "" {
				c, ok := core.ParseCategory(category)
				if !ok {
					return fmt.Errorf("unknown category %q", category)
				}
				filter = c
			}
			return withContainer(cmd, func(orch *mailsync.Orchestrator) error {
				result, err := orch.RecategorizeAccount(cmd.Context(), args[0], accountID, filter)
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Only recategorize messages currently in this category")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <user>",
		Short: "Show per-account sync status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, func(orch *mailsync.Orchestrator) error {
				status, err := orch.Status(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, status)
			})
		},
	}
}

func statsCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "stats <user>",
		Short: "Show category distribution over recent messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, func(orch *mailsync.Orchestrator) error {
				stats, err := orch.CategoryStats(cmd.Context(), args[0], days)
				if err != nil {
					return err
				}
				return printJSON(cmd, stats)
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "Number of days to include")
	return cmd
}

func disconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <account-id>",
		Short: "Stop push notifications and deactivate an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid account id %q: %w", args[0], err)
			}
			return withContainer(cmd, func(w *mailsync.WatchMaintainer) error {
				return w.Disconnect(cmd.Context(), accountID)
			})
		},
	}
}
