package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kairoscore/agentgraph/internal/llm/tape"
)

// buildReplayCmd replays a recorded tape against no live provider, printing
// each turn's accumulated text and tool calls as it would have been fed to
// the worker loop. It exists to let a deployer inspect or debug a tape
// captured by internal/llm/tape.Recorder without spending real API calls.
func buildReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay [tape-file]",
		Short: "Replay a recorded tape and print each turn",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), args[0])
		},
	}
	return cmd
}

func runReplay(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read tape: %w", err)
	}
	tp, err := tape.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("parse tape: %w", err)
	}

	replayer := tape.NewReplayer(tp)
	for i := 0; i < tp.TotalTurns(); i++ {
		turn, _ := tp.GetTurn(i)
		chunks, err := replayer.Complete(ctx, turn.Request)
		if err != nil {
			return fmt.Errorf("replay turn %d: %w", i, err)
		}
		var text string
		var toolCalls int
		for chunk := range chunks {
			if chunk.Error != nil {
				return fmt.Errorf("replay turn %d: %w", i, chunk.Error)
			}
			text += chunk.Text
			if chunk.ToolCall != nil {
				toolCalls++
			}
		}
		fmt.Printf("turn %d: %q (%d tool call(s))\n", i, text, toolCalls)
		for _, run := range tp.GetToolRuns(i) {
			if run.Error != "" {
				fmt.Printf("  tool %s: error: %s\n", run.Call.Name, run.Error)
				continue
			}
			fmt.Printf("  tool %s: %s\n", run.Call.Name, run.Result.Content)
		}
	}
	return nil
}
