package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Checkpoint.Driver != "sqlite" {
		t.Fatalf("expected sqlite default driver, got %q", cfg.Checkpoint.Driver)
	}
	if cfg.Graph.RecursionLimit != 50 {
		t.Fatalf("expected default recursion limit 50, got %d", cfg.Graph.RecursionLimit)
	}
}

func TestLoadValidatesCheckpointDriver(t *testing.T) {
	path := writeConfig(t, `
checkpoint:
  driver: mongodb
  dsn: whatever
`)
	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error for unsupported checkpoint driver")
	}
	if !strings.Contains(err.Error(), "checkpoint.driver") {
		t.Fatalf("expected checkpoint.driver error, got %v", err)
	}
}

func TestLoadValidatesRoutingRuleTarget(t *testing.T) {
	path := writeConfig(t, `
llm:
  routing:
    rules:
      - name: no-target
        match:
          tags: ["quick"]
`)
	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error for routing rule with no target provider")
	}
	if !strings.Contains(err.Error(), "routing.rules[0]") {
		t.Fatalf("expected routing.rules[0] error, got %v", err)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_DSN", "/tmp/agentgraph-test.db")
	path := writeConfig(t, `
checkpoint:
  driver: sqlite
  dsn: ${TEST_DSN}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Checkpoint.DSN != "/tmp/agentgraph-test.db" {
		t.Fatalf("expected expanded dsn, got %q", cfg.Checkpoint.DSN)
	}
}

func TestApplyEnvOverridesSetsProviderKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-key")
	path := writeConfig(t, `
checkpoint:
  driver: sqlite
  dsn: agentgraph.db
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLM.Providers["anthropic"].APIKey != "sk-test-key" {
		t.Fatalf("expected env override to set anthropic api key")
	}
}

func TestJSONSchemaIsValidJSON(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected non-empty schema")
	}
}
