package toolsensitivity

import (
	"encoding/json"
	"testing"
)

func TestDefault_KnownTools(t *testing.T) {
	c := Default()

	cases := []struct {
		tool  string
		input string
		want  Level
	}{
		{"read_file", `{"path":"a.txt"}`, Safe},
		{"system_health", `{}`, Safe},
		{"models", `{}`, Safe},
		{"write_file", `{"path":"a.txt","content":"x"}`, Moderate},
		{"process", `{}`, Sensitive},
	}
	for _, tc := range cases {
		got := c.Classify(tc.tool, json.RawMessage(tc.input))
		if got != tc.want {
			t.Errorf("Classify(%q): got %v, want %v", tc.tool, got, tc.want)
		}
	}
}

func TestDefault_UnknownToolFailsClosed(t *testing.T) {
	c := Default()
	got := c.Classify("unregistered_tool", json.RawMessage(`{}`))
	if got != Sensitive {
		t.Errorf("expected unrecognized tool to classify as Sensitive, got %v", got)
	}
}

func TestDefault_ExecSimpleCommandIsModerate(t *testing.T) {
	c := Default()
	got := c.Classify("exec", json.RawMessage(`{"command":"ls -la"}`))
	if got != Moderate {
		t.Errorf("expected a plain command to classify as Moderate, got %v", got)
	}
}

func TestDefault_ExecChainedCommandIsSensitive(t *testing.T) {
	c := Default()
	got := c.Classify("exec", json.RawMessage(`{"command":"ls && rm -rf /tmp/x"}`))
	if got != Sensitive {
		t.Errorf("expected a chained command to classify as Sensitive, got %v", got)
	}
}

func TestDefault_ExecMissingCommandIsSensitive(t *testing.T) {
	c := Default()
	got := c.Classify("exec", json.RawMessage(`{}`))
	if got != Sensitive {
		t.Errorf("expected a call with no extractable command to fail closed as Sensitive, got %v", got)
	}
}

func TestClassifier_FallbackRule(t *testing.T) {
	c := New(
		Rule{ToolName: "read_file", Level: Safe},
		Rule{ToolName: "", Level: Moderate},
	)
	got := c.Classify("anything_else", json.RawMessage(`{}`))
	if got != Moderate {
		t.Errorf("expected fallback rule to apply, got %v", got)
	}
}
