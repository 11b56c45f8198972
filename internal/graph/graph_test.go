package graph

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/kairoscore/agentgraph/internal/llm"
	"github.com/kairoscore/agentgraph/internal/state"
	"github.com/kairoscore/agentgraph/internal/supervisor"
	"github.com/kairoscore/agentgraph/internal/worker"
	"github.com/kairoscore/agentgraph/pkg/models"
)

// scriptedProvider returns a fixed decision/response regardless of the
// request, letting tests drive the graph's control flow deterministically.
type scriptedProvider struct {
	response string
}

func (p *scriptedProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.CompletionChunk, error) {
	out := make(chan *llm.CompletionChunk, 1)
	out <- &llm.CompletionChunk{Text: p.response}
	close(out)
	return out, nil
}

func (p *scriptedProvider) Name() string        { return "scripted" }
func (p *scriptedProvider) Models() []llm.Model { return nil }
func (p *scriptedProvider) SupportsTools() bool { return false }

func TestGraph_RunEndsImmediately(t *testing.T) {
	sup := supervisor.New(&scriptedProvider{response: `{"reasoning":"nothing to do","next":"END","final_response":"all done"}`}, "test-model", []state.WorkerName{"researcher"})
	g := New(sup, map[state.WorkerName]*worker.Worker{
		"researcher": worker.New("researcher", &scriptedProvider{response: "should not be called"}, "you research", nil),
	})

	st := state.New()
	if err := g.Run(context.Background(), st); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !st.TaskComplete {
		t.Fatalf("expected task to complete")
	}
	if st.FinalResponse != "all done" {
		t.Fatalf("expected final response %q, got %q", "all done", st.FinalResponse)
	}
}

func TestGraph_RunRoutesToWorkerThenEnds(t *testing.T) {
	supProvider := &roundRobinProvider{
		responses: []string{
			`{"reasoning":"needs research","next":"researcher"}`,
			`{"reasoning":"done now","next":"END","final_response":"finished"}`,
		},
	}
	sup := supervisor.New(supProvider, "test-model", []state.WorkerName{"researcher"})
	g := New(sup, map[state.WorkerName]*worker.Worker{
		"researcher": worker.New("researcher", &scriptedProvider{response: "research complete"}, "you research", nil),
	})

	st := state.New()
	st.Apply(state.Update{Messages: nil})

	if err := g.Run(context.Background(), st); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !st.TaskComplete {
		t.Fatalf("expected task to complete")
	}

	foundAssistant := false
	for _, m := range st.Messages {
		if m.Content == "research complete" {
			foundAssistant = true
		}
	}
	if !foundAssistant {
		t.Fatalf("expected the researcher's output to appear in the message history, got %+v", st.Messages)
	}
}

func TestGraph_RunEnforcesRecursionLimit(t *testing.T) {
	sup := supervisor.New(&scriptedProvider{response: `{"reasoning":"keep going","next":"researcher"}`}, "test-model", []state.WorkerName{"researcher"})
	sup.MaxIterations = 1000
	sup.MaxWorkerIterations = 1000

	g := New(sup, map[state.WorkerName]*worker.Worker{
		"researcher": worker.New("researcher", &scriptedProvider{response: "looping"}, "you research", nil),
	})
	g.RecursionLimit = 4

	st := state.New()
	err := g.Run(context.Background(), st)
	if err == nil {
		t.Fatalf("expected the recursion limit to trip an error")
	}
	if st.Error == "" {
		t.Fatalf("expected st.Error to be set")
	}
}

// toolLoopingProvider always answers with a single safe tool call and no
// text, so the worker never sets taskComplete and keeps self-looping until
// something external (the iteration ceiling) forces it back to the
// supervisor.
type toolLoopingProvider struct {
	calls int
}

func (p *toolLoopingProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.CompletionChunk, error) {
	p.calls++
	out := make(chan *llm.CompletionChunk, 1)
	out <- &llm.CompletionChunk{ToolCall: &models.ToolCall{
		ID:    "call-1",
		Name:  "read_file",
		Input: json.RawMessage(`{"path":"/tmp/x"}`),
	}}
	close(out)
	return out, nil
}

func (p *toolLoopingProvider) Name() string        { return "tool-looping" }
func (p *toolLoopingProvider) Models() []llm.Model { return nil }
func (p *toolLoopingProvider) SupportsTools() bool { return true }

// TestGraph_WorkerSelfLoopsUntilIterationCeiling reproduces the worker
// self-loop discipline: a worker that never sets taskComplete runs up to
// MaxWorkerIterations steps on its own edge before the graph forces control
// back to the supervisor, which resets the counter on entry.
func TestGraph_WorkerSelfLoopsUntilIterationCeiling(t *testing.T) {
	supProvider := &roundRobinProvider{
		responses: []string{
			`{"reasoning":"needs research","next":"researcher"}`,
			`{"reasoning":"try someone else","next":"END","final_response":"gave up on researcher"}`,
		},
	}
	sup := supervisor.New(supProvider, "test-model", []state.WorkerName{"researcher"})
	sup.MaxWorkerIterations = 5

	toolProvider := &toolLoopingProvider{}
	g := New(sup, map[state.WorkerName]*worker.Worker{
		"researcher": worker.New("researcher", toolProvider, "you research", nil),
	})

	st := state.New()
	if err := g.Run(context.Background(), st); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if toolProvider.calls != 5 {
		t.Fatalf("expected the worker to self-loop exactly 5 times before the ceiling forced a return, got %d", toolProvider.calls)
	}
	if st.WorkerIterationCount != 0 {
		t.Fatalf("expected the worker iteration counter to reset on supervisor entry, got %d", st.WorkerIterationCount)
	}
	if !st.TaskComplete {
		t.Fatalf("expected the run to complete once the supervisor routed away from the looping worker")
	}
}

// roundRobinProvider returns its scripted responses in order, repeating the
// last one once exhausted, for tests whose graph takes more than one
// supervisor pass.
type roundRobinProvider struct {
	responses []string
	calls     int
}

func (p *roundRobinProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.CompletionChunk, error) {
	idx := p.calls
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	p.calls++
	out := make(chan *llm.CompletionChunk, 1)
	out <- &llm.CompletionChunk{Text: p.responses[idx]}
	close(out)
	return out, nil
}

func (p *roundRobinProvider) Name() string        { return "round-robin" }
func (p *roundRobinProvider) Models() []llm.Model { return nil }
func (p *roundRobinProvider) SupportsTools() bool { return false }
