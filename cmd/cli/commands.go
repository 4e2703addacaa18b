// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/craftline/production-tracker/internal/domain"
	"github.com/craftline/production-tracker/internal/persistence/postgres"
	"github.com/craftline/production-tracker/internal/repository"
	"github.com/craftline/production-tracker/internal/seed"
	"github.com/craftline/production-tracker/internal/workflow"
	"github.com/spf13/cobra"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply embedded schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := ctx.ensurePool(cmd.Context())
			if err != nil {
				return err
			}

			if status {
				states, err := postgres.MigrationStatus(cmd.Context(), pool)
				if err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderMigrationStatus(states))
				return nil
			}

			if err := postgres.EnsureSchema(cmd.Context(), pool, ctx.logger); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}

	cmd.Flags().BoolVar(&status, "status", false, "List embedded migrations and when they were applied")
	return cmd
}

func renderMigrationStatus(states []postgres.MigrationState) string {
	rows := make([][]string, 0, len(states))
	for _, st := range states {
		state := "pending"
		switch {
		case st.Changed:
			state = "modified"
		case st.AppliedAt != nil:
			state = "applied"
		}
		rows = append(rows, []string{st.Name, state, formatTime(st.AppliedAt), st.Checksum[:12]})
	}
	return renderTable([]string{"File", "State", "Applied", "Checksum"}, rows, nil)
}

func newSeedChecksCommand(ctx *commandContext) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed-checks",
		Short: "Upsert the check catalogue (embedded default or --file)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalogue := seed.Default()
			if file = strings.TrimSpace(file); file != "" {
				loaded, err := seed.Load(os.DirFS(filepath.Dir(file)), filepath.Base(file))
				if err != nil {
					return err
				}
				catalogue = loaded
			}

			pool, err := ctx.ensurePool(cmd.Context())
			if err != nil {
				return err
			}
			n, err := seed.Apply(cmd.Context(), repository.NewCheckRepository(pool, ctx.logger), catalogue, ctx.logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d checks\n", n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML check catalogue")
	return cmd
}

func newStagesCommand(ctx *commandContext) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "stages",
		Short: "Print the stage graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = ctx.cfg.StageGraphFile
			}
			graph, err := workflow.LoadGraphFile(file)
			if err != nil {
				return err
			}

			defs := graph.Definitions()
			rows := make([][]string, 0, len(defs))
			for i, def := range defs {
				rows = append(rows, []string{strconv.Itoa(i + 1), string(def.Stage), def.Label, def.Color})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"#", "Stage", "Label", "Color"},
				rows,
				[]columnAlignment{alignRight},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "graph", "", "YAML stage graph (defaults to STAGE_GRAPH_FILE or the built-in graph)")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <order-item-id>",
		Short: "Show the stage progress of an order item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseOrderItemID(args[0])
			if err != nil {
				return err
			}
			engine, err := ctx.engine(cmd.Context())
			if err != nil {
				return err
			}

			progress, err := engine.Progress(cmd.Context(), id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "order item %d: %s\n", progress.OrderItemID, progress.State)
			if progress.DeliveredAt != nil {
				fmt.Fprintf(out, "delivered at %s\n", progress.DeliveredAt.Format("2006-01-02 15:04"))
			}
			if len(progress.Stages) == 0 {
				return nil
			}

			rows := make([][]string, 0, len(progress.Stages))
			for _, rec := range progress.Stages {
				rows = append(rows, []string{
					string(rec.Stage),
					string(rec.Status),
					formatTime(rec.StartedAt),
					formatTime(rec.CompletedAt),
				})
			}
			fmt.Fprintln(out, renderTable([]string{"Stage", "Status", "Started", "Completed"}, rows, nil))
			return nil
		},
	}
}

func newInitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "init <order-item-id>",
		Short: "Initialize the stage rows of an order item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseOrderItemID(args[0])
			if err != nil {
				return err
			}
			engine, err := ctx.engine(cmd.Context())
			if err != nil {
				return err
			}
			if err := engine.Initialize(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "order item %d initialized at %s\n", id, engine.Graph().FirstStage())
			return nil
		},
	}
}

func (c *commandContext) engine(ctx context.Context) (*workflow.Engine, error) {
	pool, err := c.ensurePool(ctx)
	if err != nil {
		return nil, err
	}
	graph, err := workflow.LoadGraphFile(c.cfg.StageGraphFile)
	if err != nil {
		return nil, err
	}
	items := repository.NewOrderItemRepository(pool, c.logger)
	return workflow.New(workflow.Deps{
		Graph:              graph,
		OrderItems:         items,
		Stages:             repository.NewStageRepository(pool, c.logger),
		Checks:             repository.NewCheckRepository(pool, c.logger),
		Logger:             c.logger,
		StoreTimeout:       c.cfg.StoreTimeout,
		AllowEarlyDelivery: c.cfg.AllowEarlyDelivery,
	}), nil
}

func parseOrderItemID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid order item id %q", domain.ErrValidation, raw)
	}
	return id, nil
}
