package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/youthvoice/portal/config"
	"github.com/youthvoice/portal/internal/bootstrap"
)

const defaultCommandTimeout = 2 * time.Minute

// app carries what every subcommand needs. Tests replace the factories.
type app struct {
	logger *slog.Logger
	out    io.Writer
	cfg    config.AppConfig

	loadConfig   func() (config.AppConfig, error)
	openStores   func(ctx context.Context, a *app) (*stores, error)
	openPlatform func(ctx context.Context, a *app) (platformHandle, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := bootstrap.InitLogger(os.Getenv("LOG_LEVEL"))
	a := &app{
		logger:       logger,
		out:          os.Stdout,
		loadConfig:   bootstrap.LoadConfig,
		openStores:   openPostgresStores,
		openPlatform: openConfiguredPlatform,
	}
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		logger.ErrorContext(ctx, "command failed", "error", err)
		stop()
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "portal-admin",
		Short:         "Operator tooling for the admin console backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			a.cfg = cfg
			if a.out == nil {
				a.out = cmd.OutOrStdout()
			}
			return nil
		},
	}

	root.AddCommand(
		newMigrateCmd(a),
		newRolesCmd(a),
		newProfileCmd(a),
		newAuditCmd(a),
		newWhoamiCmd(a),
		newResetPasswordCmd(a),
	)
	return root
}

func newMigrateCmd(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			s, err := a.openStores(ctx, a)
			if err != nil {
				return err
			}
			defer s.close(a.logger)

			if s.db == nil {
				return errNoDatabase
			}
			return bootstrap.RunMigrations(ctx, s.db, a.logger)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "maximum time to wait for migrations")
	return cmd
}
