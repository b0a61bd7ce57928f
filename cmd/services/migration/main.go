package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/studiobook/studiobook/internal/migration/app/bootstrap"
	"github.com/studiobook/studiobook/internal/migration/domain/model"
	"github.com/studiobook/studiobook/internal/platform/config"
	"github.com/studiobook/studiobook/internal/platform/logger"
)

const serviceName = "migration"

// Version information set via ldflags at build time
var Version = "dev"

func main() {
	os.Exit(execute(os.Args[1:]))
}

// execute runs the command line and returns the process exit code
func execute(args []string) int {
	exitCode := model.ExitOK
	root := newRootCmd(&exitCode)
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return model.ExitFailure
	}
	return exitCode
}

func newRootCmd(exitCode *int) *cobra.Command {
	var (
		configFile string
		output     string
	)

	run := func(cmd *cobra.Command, dryRun bool) error {
		cfg, err := config.Load(serviceName, configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.Version == "dev" {
			cfg.Version = Version
		}

		log, err := logger.New(cfg.Logger)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		defer func() { _ = log.Sync() }()

		log.Info("Starting Migration Service",
			"version", cfg.Version,
			"driver", cfg.Database.Driver,
			"source", cfg.Migration.Source,
			"dry_run", dryRun,
		)

		app, err := bootstrap.New(
			bootstrap.WithConfig(cfg),
			bootstrap.WithLogger(log),
		)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		report := app.Run(ctx, dryRun)
		*exitCode = report.ExitCode

		if dryRun || output != "" {
			format := output
			if format == "" {
				format = bootstrap.FormatText
			}
			if err := bootstrap.WriteStatus(cmd.OutOrStdout(), report, format); err != nil {
				log.Warn("failed to write status", "error", err)
			}
		}
		return nil
	}

	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Apply pending schema migrations to the studio booking database",
		Long:          `Reconciles the migration files against the ledger table and applies pending files in filename order, each in its own transaction.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, false)
		},
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to a config file (default: search ./configs and .)")
	root.PersistentFlags().StringVarP(&output, "output", "o", "", "print the run report as text or json")

	root.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, false)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied, pending and changed migrations without applying anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, true)
		},
	})

	return root
}
