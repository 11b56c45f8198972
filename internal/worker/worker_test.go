package worker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/kairoscore/agentgraph/internal/llm"
	"github.com/kairoscore/agentgraph/internal/state"
	"github.com/kairoscore/agentgraph/pkg/models"
)

// scriptedProvider returns a fixed set of chunks regardless of the request,
// letting tests drive a worker's step protocol without a real model call.
type scriptedProvider struct {
	chunks []llm.CompletionChunk
}

func (p *scriptedProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.CompletionChunk, error) {
	out := make(chan *llm.CompletionChunk, len(p.chunks))
	for i := range p.chunks {
		out <- &p.chunks[i]
	}
	close(out)
	return out, nil
}

func (p *scriptedProvider) Name() string        { return "scripted" }
func (p *scriptedProvider) Models() []llm.Model { return nil }
func (p *scriptedProvider) SupportsTools() bool { return true }

func TestWorker_Step_SetsTaskCompleteAndSummaryWithNoToolCalls(t *testing.T) {
	w := New("researcher", &scriptedProvider{chunks: []llm.CompletionChunk{{Text: "all done here"}}}, "you research", nil)

	st := state.New()
	st.Apply(state.Update{Messages: []models.Message{{Role: models.RoleUser, Content: "look into X"}}})

	update, err := w.Step(context.Background(), st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if update.TaskComplete == nil || !*update.TaskComplete {
		t.Fatalf("expected TaskComplete to be set true when the worker made no tool calls")
	}
	if update.TaskSummary == nil || *update.TaskSummary != "[researcher] Processed request" {
		t.Fatalf("expected a generic task summary, got %v", update.TaskSummary)
	}
}

func TestWorker_Step_SetsTaskSummaryFromToolCalls(t *testing.T) {
	w := New("researcher", &scriptedProvider{chunks: []llm.CompletionChunk{
		{ToolCall: &models.ToolCall{ID: "call-1", Name: "read_file", Input: json.RawMessage(`{"path":"/tmp/x"}`)}},
	}}, "you research", nil)

	st := state.New()
	update, err := w.Step(context.Background(), st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if update.TaskComplete == nil || *update.TaskComplete {
		t.Fatalf("expected TaskComplete to be false when a tool call was made")
	}
	if update.TaskSummary == nil {
		t.Fatalf("expected a task summary to be set")
	}
	if !contains(*update.TaskSummary, "read_file") {
		t.Fatalf("expected the task summary to mention the tool called, got %q", *update.TaskSummary)
	}
}

func TestWorker_Step_SensitiveToolCallDoesNotSetTaskComplete(t *testing.T) {
	w := New("coder", &scriptedProvider{chunks: []llm.CompletionChunk{
		{ToolCall: &models.ToolCall{ID: "call-1", Name: "process", Input: json.RawMessage(`{}`)}},
	}}, "you code", nil)

	st := state.New()
	update, err := w.Step(context.Background(), st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if update.AwaitingApproval == nil || !*update.AwaitingApproval {
		t.Fatalf("expected a sensitive tool call to set AwaitingApproval")
	}
	if update.TaskComplete != nil {
		t.Fatalf("expected TaskComplete to be left unset while a decision is pending, got %v", *update.TaskComplete)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
