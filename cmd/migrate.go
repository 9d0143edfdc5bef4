package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/workfloww/fetchfloww/internal/storage/postgres"
)

func newMigrateCmd() *cobra.Command {
	var (
		databaseURL string
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Run database migrations",
		Long:      `Apply, roll back or list the PostgreSQL schema migrations. Defaults to "up".`,
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			command := "up"
			if len(args) == 1 {
				command = args[0]
			}
			if databaseURL == "" {
				databaseURL = os.Getenv("DATABASE_URL")
			}
			if databaseURL == "" {
				return fmt.Errorf("database url is required (--database-url or DATABASE_URL)")
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			store, err := postgres.New(ctx, databaseURL, postgres.Options{MaxConns: 1})
			if err != nil {
				return fmt.Errorf("failed to connect to postgres: %w", err)
			}
			defer func() { _ = store.Close() }()

			return postgres.Migrate(ctx, store.SQLDB(), command)
		},
	}

	cmd.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL. Can also use DATABASE_URL env var.")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Give up after this long (0 disables).")

	return cmd
}
