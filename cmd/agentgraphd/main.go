// Package main provides the CLI entry point for the agentgraph orchestration
// engine: run a thread to completion or pause, resolve pending tool
// approvals, and inspect the durable checkpoint store.
//
// # Basic usage
//
//	agentgraphd ask --thread t1 "summarize the open issues"
//	agentgraphd approve --thread t1
//	agentgraphd checkpoints list --thread t1
//
// # Environment variables
//
//   - AGENTGRAPH_CONFIG: path to the YAML config file (default: agentgraph.yaml)
//   - ANTHROPIC_API_KEY / OPENAI_API_KEY: LLM provider credentials
//   - AGENTGRAPH_CHECKPOINT_DSN / AGENTGRAPH_CHECKPOINT_DRIVER: checkpoint store overrides
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kairoscore/agentgraph/internal/observability"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var logger *observability.Logger

func main() {
	logger = observability.NewLogger(observability.LogConfig{
		Level:  os.Getenv("AGENTGRAPH_LOG_LEVEL"),
		Format: "json",
		Output: os.Stderr,
	})

	if err := buildRootCmd().Execute(); err != nil {
		logger.Error(context.Background(), "command failed", "error", err)
		os.Exit(1)
	}
}

var configPath string

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "agentgraphd",
		Short:        "agentgraphd drives the agent orchestration engine",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("AGENTGRAPH_CONFIG"), "path to agentgraph.yaml")

	root.AddCommand(
		buildAskCmd(),
		buildApproveCmd(),
		buildDenyCmd(),
		buildCheckpointsCmd(),
		buildReplayCmd(),
	)
	return root
}
