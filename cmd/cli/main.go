// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/craftline/production-tracker/internal/config"
	"github.com/craftline/production-tracker/internal/persistence/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// commandContext carries what subcommands share: config, logger and a lazily
// opened pool.
type commandContext struct {
	databaseURL *string
	cfg         config.Config
	logger      *slog.Logger

	poolOnce sync.Once
	pool     *pgxpool.Pool
	poolErr  error
}

func newRootCommand() *cobra.Command {
	var databaseURL string
	cfg := config.Load()
	ctx := &commandContext{
		databaseURL: &databaseURL,
		cfg:         cfg,
		logger:      newLogger(),
	}

	rootCmd := &cobra.Command{
		Use:           "tracker",
		Short:         "Production tracker admin CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", cfg.DatabaseURL, "Postgres connection string")

	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newSeedChecksCommand(ctx))
	rootCmd.AddCommand(newStagesCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newInitCommand(ctx))
	rootCmd.AddCommand(newValidateCommand(ctx))

	return rootCmd
}

func (c *commandContext) ensurePool(ctx context.Context) (*pgxpool.Pool, error) {
	c.poolOnce.Do(func() {
		url := strings.TrimSpace(*c.databaseURL)
		if url == "" {
			c.poolErr = errors.New("database url is required")
			return
		}
		c.pool, c.poolErr = postgres.NewPool(ctx, url)
	})
	return c.pool, c.poolErr
}

func (c *commandContext) close() {
	if c.pool != nil {
		c.pool.Close()
	}
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(os.Getenv("LOG_LEVEL")),
	}))
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
