package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/kairoscore/agentgraph/internal/checkpoint"
	"github.com/kairoscore/agentgraph/internal/config"
	"github.com/kairoscore/agentgraph/internal/events"
	"github.com/kairoscore/agentgraph/internal/graph"
	"github.com/kairoscore/agentgraph/internal/llm"
	"github.com/kairoscore/agentgraph/internal/llm/providers"
	"github.com/kairoscore/agentgraph/internal/llm/routing"
	modelcatalog "github.com/kairoscore/agentgraph/internal/models"
	"github.com/kairoscore/agentgraph/internal/observability"
	"github.com/kairoscore/agentgraph/internal/state"
	"github.com/kairoscore/agentgraph/internal/supervisor"
	"github.com/kairoscore/agentgraph/internal/tools/exec"
	"github.com/kairoscore/agentgraph/internal/tools/files"
	modelstool "github.com/kairoscore/agentgraph/internal/tools/models"
	"github.com/kairoscore/agentgraph/internal/tools/naming"
	"github.com/kairoscore/agentgraph/internal/tools/system"
	"github.com/kairoscore/agentgraph/internal/worker"
)

// WorkerSpec names one fixed worker and the system prompt it runs with.
// The four roles below cover the general shapes a task decomposes into:
// researching, writing, running code, and reviewing the result.
type WorkerSpec struct {
	Name         state.WorkerName
	SystemPrompt string
}

// DefaultWorkers is the fixed worker set this module ships with.
var DefaultWorkers = []WorkerSpec{
	{Name: "researcher", SystemPrompt: "You gather information needed to complete the task. Use read_file and system_health as needed. Report findings concisely."},
	{Name: "coder", SystemPrompt: "You write and run code to accomplish the task. Use write_file and exec. Prefer small, verifiable steps."},
	{Name: "reviewer", SystemPrompt: "You check the work done so far for correctness and completeness before the task is marked done."},
	{Name: "responder", SystemPrompt: "You compose the final natural-language answer to the user from the work done so far."},
}

// DefaultProvider builds an LLM provider from ANTHROPIC_API_KEY and/or
// OPENAI_API_KEY. With both set it returns a Router that sends code and
// reasoning-heavy requests to Anthropic and short factual ones to OpenAI,
// falling over to whichever provider is healthy; with only one key set it
// returns that provider directly. It errors if neither is configured.
func DefaultProvider() (llm.LLMProvider, error) {
	anthropicKey := os.Getenv("ANTHROPIC_API_KEY")
	openaiKey := os.Getenv("OPENAI_API_KEY")

	var anthropic llm.LLMProvider
	var err error
	if anthropicKey != "" {
		anthropic, err = providers.NewAnthropicProvider(providers.AnthropicConfig{APIKey: anthropicKey})
		if err != nil {
			return nil, err
		}
	}
	var openai llm.LLMProvider
	if openaiKey != "" {
		openai = providers.NewOpenAIProvider(openaiKey)
	}

	switch {
	case anthropic != nil && openai != nil:
		return routing.NewRouter(routing.Config{
			DefaultProvider: anthropic.Name(),
			Rules: []routing.Rule{
				{Name: "code-and-reasoning", Match: routing.Match{Tags: []string{"code", "reasoning"}}, Target: routing.Target{Provider: anthropic.Name()}},
				{Name: "quick-lookup", Match: routing.Match{Tags: []string{"quick"}}, Target: routing.Target{Provider: openai.Name()}},
			},
			Fallback: routing.Target{Provider: anthropic.Name()},
		}, map[string]llm.LLMProvider{anthropic.Name(): anthropic, openai.Name(): openai}), nil
	case anthropic != nil:
		return anthropic, nil
	case openai != nil:
		return openai, nil
	default:
		return nil, fmt.Errorf("orchestrator: no LLM provider configured (set ANTHROPIC_API_KEY or OPENAI_API_KEY)")
	}
}

var toolRegistry = buildToolRegistry()

// buildToolRegistry registers the canonical identity of every core tool this
// module ships so a name collision is caught at startup rather than surfacing
// as a confusing duplicate-tool error to the model.
func buildToolRegistry() *naming.ToolRegistry {
	reg := naming.NewToolRegistry()
	for _, n := range []string{"read_file", "write_file", "system_health", "exec", "models"} {
		if err := reg.Register(naming.CoreTool(n)); err != nil {
			panic(fmt.Sprintf("orchestrator: tool name collision: %v", err))
		}
	}
	return reg
}

// toolsFor returns the tool set a given worker role is allowed to use.
// Sensitivity classification (internal/toolsensitivity) still governs
// whether any individual call executes inline or waits for approval; this
// only controls which tools are offered to the model in the first place.
func toolsFor(name state.WorkerName) []llm.Tool {
	workspace := files.Config{Workspace: "."}
	reader := files.NewReadTool(workspace)
	writer := files.NewWriteTool(workspace)
	health := system.NewHealthTool()
	execTool := exec.NewExecTool("exec", exec.NewManager("."))
	models := modelstool.NewTool(modelcatalog.NewCatalog(), nil)

	switch name {
	case "researcher":
		return []llm.Tool{reader, health, models}
	case "coder":
		return []llm.Tool{reader, writer, execTool}
	case "reviewer":
		return []llm.Tool{reader, health}
	default:
		return nil
	}
}

// Build assembles a Graph over DefaultWorkers using provider for every
// worker and for the supervisor's routing calls, plus a Checkpointer over
// backend and an Orchestrator tying them together.
func Build(ctx context.Context, provider llm.LLMProvider, model string, backend checkpoint.Backend, history HistoryStore) (*Orchestrator, error) {
	names := make([]state.WorkerName, 0, len(DefaultWorkers))
	for _, w := range DefaultWorkers {
		names = append(names, w.Name)
	}

	sup := supervisor.New(provider, model, names)

	workers := make(map[state.WorkerName]*worker.Worker, len(DefaultWorkers))
	for _, spec := range DefaultWorkers {
		workers[spec.Name] = worker.New(spec.Name, provider, spec.SystemPrompt, toolsFor(spec.Name))
		workers[spec.Name].Model = model
	}

	g := graph.New(sup, workers)
	g.Sink = events.Discard

	cp, err := checkpoint.New(ctx, backend)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: build checkpointer: %w", err)
	}

	orch := New(g, cp, history)
	orch.Events = observability.NewMemoryEventStore(1000)
	return orch, nil
}

// providerFromConfig builds an llm.LLMProvider from a loaded Config: a
// single provider when only one is credentialed, or a routing.Router over
// every credentialed provider when cfg.LLM.Routing names rules.
func providerFromConfig(cfg *config.Config) (llm.LLMProvider, error) {
	built := map[string]llm.LLMProvider{}
	for name, p := range cfg.LLM.Providers {
		if p.APIKey == "" {
			continue
		}
		switch name {
		case "anthropic":
			ap, err := providers.NewAnthropicProvider(providers.AnthropicConfig{APIKey: p.APIKey, BaseURL: p.BaseURL})
			if err != nil {
				return nil, fmt.Errorf("orchestrator: build anthropic provider: %w", err)
			}
			built["anthropic"] = ap
		case "openai":
			built["openai"] = providers.NewOpenAIProvider(p.APIKey)
		}
	}

	if len(built) == 0 {
		return DefaultProvider()
	}
	if len(built) == 1 || !cfg.LLM.Routing.Enabled {
		if p, ok := built[cfg.LLM.DefaultProvider]; ok {
			return p, nil
		}
		for _, p := range built {
			return p, nil
		}
	}

	rules := make([]routing.Rule, 0, len(cfg.LLM.Routing.Rules))
	for _, r := range cfg.LLM.Routing.Rules {
		rules = append(rules, routing.Rule{
			Name:   r.Name,
			Match:  routing.Match{Tags: r.Match.Tags},
			Target: routing.Target{Provider: r.Target.Provider, Model: r.Target.Model},
		})
	}
	return routing.NewRouter(routing.Config{
		DefaultProvider: cfg.LLM.DefaultProvider,
		PreferLocal:     cfg.LLM.Routing.PreferLocal,
		LocalProviders:  cfg.LLM.Routing.LocalProviders,
		Rules:           rules,
		Fallback:        routing.Target{Provider: cfg.LLM.Routing.Fallback.Provider, Model: cfg.LLM.Routing.Fallback.Model},
		FailureCooldown: cfg.LLM.Routing.FailureCooldown,
	}, built), nil
}

// BuildFromConfig is Build driven entirely by a loaded Config: it selects
// and constructs the LLM provider, opens the checkpoint backend named by
// cfg.Checkpoint, and applies cfg.Graph's iteration ceilings to the
// supervisor and graph it assembles.
func BuildFromConfig(ctx context.Context, cfg *config.Config, model string, history HistoryStore) (*Orchestrator, error) {
	provider, err := providerFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	var backend checkpoint.Backend
	switch cfg.Checkpoint.Driver {
	case "postgres":
		backend, err = checkpoint.OpenPostgres(cfg.Checkpoint.DSN, checkpoint.DefaultPostgresConfig())
	default:
		backend, err = checkpoint.OpenSQLite(cfg.Checkpoint.DSN)
	}
	if err != nil {
		return nil, fmt.Errorf("orchestrator: open checkpoint backend: %w", err)
	}

	names := make([]state.WorkerName, 0, len(DefaultWorkers))
	for _, w := range DefaultWorkers {
		names = append(names, w.Name)
	}

	sup := supervisor.New(provider, model, names)
	if cfg.Graph.MaxMessagesForSupervisor > 0 {
		sup.MaxMessages = cfg.Graph.MaxMessagesForSupervisor
	}
	if cfg.Graph.MaxToolOutputLength > 0 {
		sup.MaxToolOutputLen = cfg.Graph.MaxToolOutputLength
	}

	workers := make(map[state.WorkerName]*worker.Worker, len(DefaultWorkers))
	for _, spec := range DefaultWorkers {
		workers[spec.Name] = worker.New(spec.Name, provider, spec.SystemPrompt, toolsFor(spec.Name))
		workers[spec.Name].Model = model
	}

	g := graph.New(sup, workers)
	g.Sink = events.Discard
	if cfg.Graph.RecursionLimit > 0 {
		g.RecursionLimit = cfg.Graph.RecursionLimit
	}

	cp, err := checkpoint.New(ctx, backend)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: build checkpointer: %w", err)
	}

	orch := New(g, cp, history)
	orch.Logger = observability.NewLogger(observability.LogConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	orch.Metrics = sharedMetrics()
	orch.Events = observability.NewMemoryEventStore(1000)
	return orch, nil
}

// sharedMetrics lazily constructs the process-wide Metrics instance.
// Prometheus collectors panic on duplicate registration against the default
// registry, so every BuildFromConfig call in one process must share a single
// Metrics rather than each registering its own.
var (
	metricsOnce sync.Once
	metrics     *observability.Metrics
)

func sharedMetrics() *observability.Metrics {
	metricsOnce.Do(func() { metrics = observability.NewMetrics() })
	return metrics
}
