// Package system provides system-level tools workers can call to inspect
// the health of the orchestration engine's own dependencies.
package system

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kairoscore/agentgraph/internal/llm"
)

// Check is one component probed by a health check: an LLM provider, the
// checkpoint backend, or anything else a deployment wants workers able to
// introspect.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Summary is the result of running every registered Check.
type Summary struct {
	Healthy bool          `json:"healthy"`
	Checks  []CheckResult `json:"checks"`
}

// CheckResult is the outcome of a single Check.
type CheckResult struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

// HealthTool lets a worker ask whether the engine's own dependencies are
// reachable before relying on them for a multi-step plan.
type HealthTool struct {
	checks []Check
}

// NewHealthTool creates a health tool over the given checks. With no checks
// registered it always reports healthy.
func NewHealthTool(checks ...Check) *HealthTool {
	return &HealthTool{checks: checks}
}

func (t *HealthTool) Name() string { return "system_health" }

func (t *HealthTool) Description() string {
	return "Check whether the orchestration engine's dependencies (LLM providers, checkpoint storage) are reachable."
}

func (t *HealthTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"timeout_ms": {"type": "integer", "description": "Timeout in milliseconds per check.", "default": 5000}
		},
		"required": []
	}`)
}

func (t *HealthTool) Execute(ctx context.Context, params json.RawMessage) (*llm.ToolResult, error) {
	var input struct {
		TimeoutMs int64 `json:"timeout_ms"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
		}
	}
	timeout := time.Duration(input.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	summary := Summary{Healthy: true}
	for _, c := range t.checks {
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		err := c.Probe(checkCtx)
		cancel()

		result := CheckResult{Name: c.Name, OK: err == nil, Latency: time.Since(start).String()}
		if err != nil {
			result.Error = err.Error()
			summary.Healthy = false
		}
		summary.Checks = append(summary.Checks, result)
	}

	payload, err := json.Marshal(summary)
	if err != nil {
		return toolError(err.Error()), nil
	}
	return &llm.ToolResult{Content: string(payload), IsError: !summary.Healthy}, nil
}

func toolError(message string) *llm.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &llm.ToolResult{Content: message, IsError: true}
	}
	return &llm.ToolResult{Content: string(payload), IsError: true}
}
