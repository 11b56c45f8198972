package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kairoscore/agentgraph/internal/config"
	"github.com/kairoscore/agentgraph/internal/observability"
	"github.com/kairoscore/agentgraph/internal/orchestrator"
)

func loadOrchestrator(ctx context.Context) (*orchestrator.Orchestrator, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	orch, err := orchestrator.BuildFromConfig(ctx, cfg, cfg.LLM.DefaultModel, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build orchestrator: %w", err)
	}
	return orch, cfg, nil
}

func printResult(res *orchestrator.Result) {
	out, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(out))
}

// printTimeline prints the events this process recorded for threadID, if
// orch has an EventStore configured and any were recorded. It is silent
// otherwise, since a process with no --timeline flag set should produce no
// extra output.
func printTimeline(orch *orchestrator.Orchestrator, threadID string) {
	tl, err := orch.Timeline(threadID)
	if err != nil || tl == nil || len(tl.Events) == 0 {
		return
	}
	fmt.Println(observability.FormatTimeline(tl))
}

func buildAskCmd() *cobra.Command {
	var thread string
	var showTimeline bool

	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Send a message to a thread, creating it if --thread is omitted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, _, err := loadOrchestrator(cmd.Context())
			if err != nil {
				return err
			}
			res, err := orch.Ask(cmd.Context(), thread, args[0])
			if err != nil {
				return err
			}
			printResult(res)
			if showTimeline {
				printTimeline(orch, res.ThreadID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&thread, "thread", "", "thread ID to continue (creates a new one if empty)")
	cmd.Flags().BoolVar(&showTimeline, "timeline", false, "print the recorded event timeline for this run")
	return cmd
}

func buildApproveCmd() *cobra.Command {
	var thread string
	var showTimeline bool
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Approve the thread's pending sensitive tool call",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, _, err := loadOrchestrator(cmd.Context())
			if err != nil {
				return err
			}
			res, err := orch.ApproveAction(cmd.Context(), thread)
			if err != nil {
				return err
			}
			printResult(res)
			if showTimeline {
				printTimeline(orch, thread)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&thread, "thread", "", "thread ID with a pending action")
	cmd.Flags().BoolVar(&showTimeline, "timeline", false, "print the recorded event timeline for this run")
	cmd.MarkFlagRequired("thread")
	return cmd
}

func buildDenyCmd() *cobra.Command {
	var thread string
	var showTimeline bool
	cmd := &cobra.Command{
		Use:   "deny",
		Short: "Deny the thread's pending sensitive tool call",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, _, err := loadOrchestrator(cmd.Context())
			if err != nil {
				return err
			}
			res, err := orch.DenyAction(cmd.Context(), thread)
			if err != nil {
				return err
			}
			printResult(res)
			if showTimeline {
				printTimeline(orch, thread)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&thread, "thread", "", "thread ID with a pending action")
	cmd.Flags().BoolVar(&showTimeline, "timeline", false, "print the recorded event timeline for this run")
	cmd.MarkFlagRequired("thread")
	return cmd
}
