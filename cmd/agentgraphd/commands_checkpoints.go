package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kairoscore/agentgraph/internal/checkpoint"
	"github.com/kairoscore/agentgraph/internal/config"
	"github.com/kairoscore/agentgraph/internal/orchestrator"
)

func openCheckpointer(ctx context.Context) (*checkpoint.Checkpointer, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	var backend checkpoint.Backend
	switch cfg.Checkpoint.Driver {
	case "postgres":
		backend, err = checkpoint.OpenPostgres(cfg.Checkpoint.DSN, checkpoint.DefaultPostgresConfig())
	default:
		backend, err = checkpoint.OpenSQLite(cfg.Checkpoint.DSN)
	}
	if err != nil {
		return nil, fmt.Errorf("open checkpoint backend: %w", err)
	}
	return checkpoint.New(ctx, backend)
}

func buildCheckpointsCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "checkpoints",
		Short: "Inspect the durable checkpoint store",
	}
	root.AddCommand(buildCheckpointsListCmd(), buildCheckpointsShowCmd())
	return root
}

func buildCheckpointsListCmd() *cobra.Command {
	var thread string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List checkpoints recorded for a thread",
		RunE: func(cmd *cobra.Command, args []string) error {
			cp, err := openCheckpointer(cmd.Context())
			if err != nil {
				return err
			}
			checkpoints, err := cp.List(cmd.Context(), thread, orchestrator.Namespace, limit)
			if err != nil {
				return err
			}
			for _, c := range checkpoints {
				fmt.Printf("%s\t%s\t%s\n", c.ID, c.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), c.ParentID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&thread, "thread", "", "thread ID")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum checkpoints to list")
	cmd.MarkFlagRequired("thread")
	return cmd
}

func buildCheckpointsShowCmd() *cobra.Command {
	var thread, id string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a single checkpoint's decoded state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cp, err := openCheckpointer(cmd.Context())
			if err != nil {
				return err
			}
			tuple, err := cp.GetTuple(cmd.Context(), thread, orchestrator.Namespace, id)
			if err != nil {
				return err
			}
			if tuple == nil {
				return fmt.Errorf("no checkpoint found for thread %q", thread)
			}
			var state json.RawMessage = tuple.Checkpoint.State
			out, _ := json.MarshalIndent(state, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&thread, "thread", "", "thread ID")
	cmd.Flags().StringVar(&id, "id", "", "checkpoint ID (defaults to the most recent)")
	cmd.MarkFlagRequired("thread")
	return cmd
}
