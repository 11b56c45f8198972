// Package toolsensitivity classifies tool calls into the three bands a
// worker's step protocol uses to decide what can run inline versus what must
// wait for human approval.
package toolsensitivity

import (
	"encoding/json"
	"strings"

	"github.com/kairoscore/agentgraph/internal/tools/security"
)

// Level is the sensitivity band assigned to a tool call.
type Level string

const (
	// Safe calls execute inline with no restriction: reads, lookups, pure
	// computation.
	Safe Level = "safe"

	// Moderate calls execute inline but are recorded for audit: writes
	// scoped to a sandboxed workspace, non-destructive network calls.
	Moderate Level = "moderate"

	// Sensitive calls must be deferred for human approval before they run:
	// anything that can affect state outside the sandbox, spend money, or
	// send outbound communication on the user's behalf.
	Sensitive Level = "sensitive"
)

// Rule decides the sensitivity of a tool call by name and, for tools whose
// risk depends on arguments (like a shell command), by inspecting its input.
type Rule struct {
	// ToolName is matched exactly. Empty matches any tool not matched by a
	// more specific rule.
	ToolName string

	// Level is returned when Classify is nil, or as the default when
	// Classify declines to override it.
	Level Level

	// Classify optionally inspects the raw JSON input to refine the verdict,
	// e.g. promoting a shell command with a redirect or subshell from
	// moderate to sensitive. Returning "" keeps Level.
	Classify func(input json.RawMessage) Level
}

// Classifier applies an ordered list of rules, first match wins, falling
// back to Sensitive for anything unrecognized so new or third-party tools
// fail closed rather than open.
type Classifier struct {
	rules []Rule
}

// New builds a classifier with the given rules, tried in order.
func New(rules ...Rule) *Classifier {
	return &Classifier{rules: rules}
}

// Default returns a classifier covering the worker toolset shipped with this
// module: filesystem reads and health checks are safe, sandboxed writes and
// model introspection are moderate, and shell execution is sensitive unless
// the command is free of chaining, redirection, and subshell metacharacters
// (in which case it is still moderate, never safe, because arbitrary binary
// invocation always carries some risk).
func Default() *Classifier {
	return New(
		Rule{ToolName: "read_file", Level: Safe},
		Rule{ToolName: "system_health", Level: Safe},
		Rule{ToolName: "models", Level: Safe},
		Rule{ToolName: "write_file", Level: Moderate},
		Rule{ToolName: "process", Level: Sensitive},
		Rule{
			ToolName: "exec",
			Level:    Moderate,
			Classify: func(input json.RawMessage) Level {
				cmd := extractCommand(input)
				if cmd == "" {
					return Sensitive
				}
				analysis := security.AnalyzeCommand(cmd)
				if !analysis.IsSafe {
					return Sensitive
				}
				return Moderate
			},
		},
	)
}

// Classify returns the sensitivity level for a tool call.
func (c *Classifier) Classify(toolName string, input json.RawMessage) Level {
	var fallback Rule
	hasFallback := false
	for _, r := range c.rules {
		if r.ToolName == "" {
			fallback = r
			hasFallback = true
			continue
		}
		if r.ToolName != toolName {
			continue
		}
		if r.Classify != nil {
			if lvl := r.Classify(input); lvl != "" {
				return lvl
			}
		}
		return r.Level
	}
	if hasFallback {
		return fallback.Level
	}
	return Sensitive
}

func extractCommand(input json.RawMessage) string {
	var v struct {
		Command string `json:"command"`
		Cmd     string `json:"cmd"`
	}
	if err := json.Unmarshal(input, &v); err != nil {
		return ""
	}
	if v.Command != "" {
		return strings.TrimSpace(v.Command)
	}
	return strings.TrimSpace(v.Cmd)
}
