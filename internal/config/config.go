// Package config loads and validates the orchestration engine's
// configuration: which LLM providers and models workers use, how the
// checkpoint store connects, logging and tracing, and the graph's
// iteration ceilings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration loaded from YAML, with environment
// variable overrides applied on top.
type Config struct {
	LLM          LLMConfig          `yaml:"llm"`
	Checkpoint   CheckpointConfig   `yaml:"checkpoint"`
	Graph        GraphConfig        `yaml:"graph"`
	Logging      LoggingConfig      `yaml:"logging"`
	Tracing      TracingConfig      `yaml:"tracing"`
	ToolApproval ToolApprovalConfig `yaml:"tool_approval"`
}

// Default returns a Config populated with the engine's baked-in defaults.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			DefaultProvider: "anthropic",
			DefaultModel:    "claude-sonnet-4-20250514",
			Providers:       map[string]LLMProviderConfig{},
			Routing:         LLMRoutingConfig{FailureCooldown: 30 * time.Second},
		},
		Checkpoint: CheckpointConfig{Driver: "sqlite", DSN: "agentgraph.db"},
		Graph:      GraphConfig{RecursionLimit: 50, MaxToolOutputLength: 500, MaxMessagesForSupervisor: 20},
		Logging:    LoggingConfig{Level: "info", Format: "json"},
		Tracing:    TracingConfig{Enabled: false, ServiceName: "agentgraph"},
	}
}

// LLMConfig configures provider credentials, default models, and routing.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	DefaultModel    string                       `yaml:"default_model"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
	FallbackChain   []string                     `yaml:"fallback_chain"`
	Routing         LLMRoutingConfig             `yaml:"routing"`
}

// LLMProviderConfig holds one provider's credentials and default model.
type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}

// LLMRoutingConfig mirrors internal/llm/routing.Config so a deployment can
// describe its routing rules declaratively instead of wiring them in Go.
type LLMRoutingConfig struct {
	Enabled         bool            `yaml:"enabled"`
	PreferLocal     bool            `yaml:"prefer_local"`
	LocalProviders  []string        `yaml:"local_providers"`
	Rules           []RoutingRule   `yaml:"rules"`
	Fallback        RoutingTarget   `yaml:"fallback"`
	FailureCooldown time.Duration   `yaml:"failure_cooldown"`
}

// RoutingRule matches request tags to a routing target.
type RoutingRule struct {
	Name   string        `yaml:"name"`
	Match  RoutingMatch  `yaml:"match"`
	Target RoutingTarget `yaml:"target"`
}

// RoutingMatch lists the tags a rule fires on.
type RoutingMatch struct {
	Tags []string `yaml:"tags"`
}

// RoutingTarget names the provider (and optionally model) a match routes to.
type RoutingTarget struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// CheckpointConfig selects and configures the durable checkpoint backend.
type CheckpointConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// GraphConfig bounds how far a single run is allowed to progress before the
// engine gives up rather than loop forever.
type GraphConfig struct {
	RecursionLimit           int `yaml:"recursion_limit"`
	MaxToolOutputLength      int `yaml:"max_tool_output_length"`
	MaxMessagesForSupervisor int `yaml:"max_messages_for_supervisor"`
}

// LoggingConfig controls the structured logger's verbosity and encoding.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls OpenTelemetry export of graph runs.
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Endpoint       string  `yaml:"endpoint"`
	ServiceName    string  `yaml:"service_name"`
	Environment    string  `yaml:"environment"`
	SamplingRate   float64 `yaml:"sampling_rate"`
	Insecure       bool    `yaml:"insecure"`
}

// ToolApprovalConfig lets a deployment reclassify tool sensitivity beyond
// the built-in default rules, e.g. to always require approval for a given
// tool regardless of its arguments.
type ToolApprovalConfig struct {
	AlwaysSensitive []string `yaml:"always_sensitive"`
	AlwaysSafe      []string `yaml:"always_safe"`
}

// Load reads a YAML config file, expanding ${VAR} references against the
// process environment, applies AGENTGRAPH_* environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); v != "" {
		setProviderKey(cfg, "anthropic", v)
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		setProviderKey(cfg, "openai", v)
	}
	if v := strings.TrimSpace(os.Getenv("AGENTGRAPH_CHECKPOINT_DSN")); v != "" {
		cfg.Checkpoint.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENTGRAPH_CHECKPOINT_DRIVER")); v != "" {
		cfg.Checkpoint.Driver = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENTGRAPH_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENTGRAPH_RECURSION_LIMIT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Graph.RecursionLimit = n
		}
	}
}

func setProviderKey(cfg *Config, name, key string) {
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]LLMProviderConfig{}
	}
	p := cfg.LLM.Providers[name]
	p.APIKey = key
	cfg.LLM.Providers[name] = p
}

// ValidationError aggregates every problem found in a Config so a deployer
// fixes them all in one pass instead of one `config: ...: error` at a time.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validate(cfg *Config) error {
	var issues []string

	if cfg.Checkpoint.Driver != "sqlite" && cfg.Checkpoint.Driver != "postgres" {
		issues = append(issues, fmt.Sprintf("checkpoint.driver: must be \"sqlite\" or \"postgres\", got %q", cfg.Checkpoint.Driver))
	}
	if strings.TrimSpace(cfg.Checkpoint.DSN) == "" {
		issues = append(issues, "checkpoint.dsn: must not be empty")
	}
	if cfg.Graph.RecursionLimit <= 0 {
		issues = append(issues, "graph.recursion_limit: must be positive")
	}
	if cfg.Graph.MaxMessagesForSupervisor <= 0 {
		issues = append(issues, "graph.max_messages_for_supervisor: must be positive")
	}
	if cfg.LLM.DefaultProvider == "" {
		issues = append(issues, "llm.default_provider: must not be empty")
	}
	for name := range cfg.LLM.Providers {
		if name != "anthropic" && name != "openai" {
			issues = append(issues, fmt.Sprintf("llm.providers: unknown provider %q", name))
		}
	}
	for i, rule := range cfg.LLM.Routing.Rules {
		if rule.Target.Provider == "" {
			issues = append(issues, fmt.Sprintf("llm.routing.rules[%d]: target.provider must not be empty", i))
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
