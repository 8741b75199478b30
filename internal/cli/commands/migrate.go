package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/splax/manifestor/internal/repository/postgres"
)

func newMigrateCmd(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the generation database schema",
		Long:  "Migrate runs the embedded goose migrations against DATABASE_URL.",
	}
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", time.Minute, "command timeout")

	run := func(cmd *cobra.Command, name string, fn func(context.Context, postgres.Runner) error) error {
		dsn := strings.TrimSpace(a.cfg.Storage.DatabaseURL)
		if dsn == "" {
			return errors.New("DATABASE_URL is not set")
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		runner, err := postgres.NewRunner(pool, dsn, a.logger)
		if err != nil {
			return err
		}
		if err := fn(ctx, runner); err != nil {
			return err
		}
		a.logger.Info("migration command completed", "command", name)
		return nil
	}

	var target int64
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations to --target (one step when unset)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, "down", func(ctx context.Context, r postgres.Runner) error { return r.Down(ctx, target) })
		},
	}
	down.Flags().Int64Var(&target, "target", 0, "target version")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd, "up", func(ctx context.Context, r postgres.Runner) error { return r.Ensure(ctx) })
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print migration status",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd, "status", func(ctx context.Context, r postgres.Runner) error { return r.Status(ctx) })
			},
		},
		down,
	)
	return cmd
}
