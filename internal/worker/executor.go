package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kairoscore/agentgraph/internal/llm"
	"github.com/kairoscore/agentgraph/internal/retry"
)

// ExecutorConfig tunes how a single tool invocation is run: how long it may
// take, how many times a failure is retried, and the backoff between
// attempts.
type ExecutorConfig struct {
	Timeout         time.Duration
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
}

// DefaultExecutorConfig matches the defaults used elsewhere in this module
// for bounded, retried background work.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Timeout:        30 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

// Executor runs a Tool's Execute method under a timeout, with retries on
// transient failure and panic recovery so a single misbehaving tool can
// never take down the worker's step loop.
type Executor struct {
	cfg ExecutorConfig
}

// NewExecutor creates an Executor with the given configuration. A zero value
// Config falls back to DefaultExecutorConfig.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Timeout <= 0 {
		cfg = DefaultExecutorConfig()
	}
	return &Executor{cfg: cfg}
}

// Run executes tool with params, applying the executor's timeout and retry
// policy. Execution happens in its own goroutine so a tool that panics or
// ignores context cancellation cannot block the caller past the timeout;
// the goroutine result is delivered over a buffered channel so it is never
// leaked even if Run returns early on context cancellation.
func (e *Executor) Run(ctx context.Context, tool llm.Tool, params json.RawMessage) (*llm.ToolResult, error) {
	cfg := retry.Config{
		MaxAttempts:  e.cfg.MaxAttempts,
		InitialDelay: e.cfg.InitialBackoff,
		MaxDelay:     e.cfg.MaxBackoff,
		Factor:       2.0,
		Jitter:       true,
	}

	var lastResult *llm.ToolResult
	result := retry.Do(ctx, cfg, func() error {
		res, err := e.runOnce(ctx, tool, params)
		if err != nil {
			return err
		}
		lastResult = res
		if res.IsError {
			return fmt.Errorf("tool %q reported an error: %s", tool.Name(), res.Content)
		}
		return nil
	})

	if result.Err != nil {
		if lastResult != nil {
			return lastResult, nil
		}
		return nil, fmt.Errorf("tool %q failed after %d attempt(s): %w", tool.Name(), result.Attempts, result.Err)
	}
	return lastResult, nil
}

// runOnce runs a single attempt with a timeout and panic recovery.
func (e *Executor) runOnce(ctx context.Context, tool llm.Tool, params json.RawMessage) (*llm.ToolResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	type outcome struct {
		result *llm.ToolResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool %q panicked: %v", tool.Name(), r)}
			}
		}()
		res, err := tool.Execute(runCtx, params)
		done <- outcome{result: res, err: err}
	}()

	select {
	case <-runCtx.Done():
		return nil, fmt.Errorf("tool %q timed out after %s: %w", tool.Name(), e.cfg.Timeout, runCtx.Err())
	case o := <-done:
		return o.result, o.err
	}
}
