// Package supervisor implements the deterministic routing node of an
// orchestration graph: it inspects the current state, asks an LLM for a
// structured routing decision, and validates that decision against the
// graph's actual worker set before handing it back.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	jsonschemaval "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kairoscore/agentgraph/internal/events"
	"github.com/kairoscore/agentgraph/internal/llm"
	"github.com/kairoscore/agentgraph/internal/state"
	"github.com/kairoscore/agentgraph/pkg/models"
)

// Limits on the context window handed to the routing model, kept small
// because the supervisor only needs enough of the conversation to decide
// where to go next, not to carry on the conversation itself.
const (
	MaxMessagesForSupervisor = 20
	MaxToolOutputLength      = 500
)

// Decision is the structured output the routing model must produce.
type Decision struct {
	Reasoning     string `json:"reasoning"`
	Next          string `json:"next"`
	FinalResponse string `json:"final_response,omitempty"`
}

// Supervisor routes a thread to the next worker, to human_approval, or ends
// the run, using rule-based checks first and an LLM call only when no rule
// applies.
type Supervisor struct {
	Provider llm.LLMProvider
	Model    string
	Workers  []state.WorkerName
	Sink     events.Sink

	MaxIterations       int
	MaxWorkerIterations int

	// MaxMessages and MaxToolOutputLen bound the context window handed to
	// the routing model. They default to MaxMessagesForSupervisor and
	// MaxToolOutputLength but can be tightened or loosened per deployment.
	MaxMessages      int
	MaxToolOutputLen int
}

// New constructs a Supervisor over the given worker set.
func New(provider llm.LLMProvider, model string, workers []state.WorkerName) *Supervisor {
	return &Supervisor{
		Provider:            provider,
		Model:               model,
		Workers:             workers,
		Sink:                events.Discard,
		MaxIterations:       15,
		MaxWorkerIterations: 5,
		MaxMessages:         MaxMessagesForSupervisor,
		MaxToolOutputLen:    MaxToolOutputLength,
	}
}

func (s *Supervisor) sink() events.Sink {
	if s.Sink == nil {
		return events.Discard
	}
	return s.Sink
}

// Route decides where the thread goes next. Rule-based checks run first and
// always win over the model's opinion: an exhausted iteration ceiling always
// ends the run, and a pending approval always routes to human_approval,
// regardless of what a routing call would have said.
func (s *Supervisor) Route(ctx context.Context, st *state.State) (state.Update, error) {
	if st.AwaitingApproval {
		return s.routeTo("human_approval", "a tool call is awaiting human approval"), nil
	}

	if st.Error != "" {
		return s.routeTo(string(state.RouteError), "a worker reported an unrecoverable error"), nil
	}

	if st.IterationCount >= s.MaxIterations {
		resp := "The task could not be completed within the allotted number of supervisor passes."
		u := s.routeTo(string(state.RouteEnd), "supervisor iteration ceiling reached")
		u.FinalResponse = &resp
		tc := true
		u.TaskComplete = &tc
		return u, nil
	}

	if st.WorkerIterationCount >= s.MaxWorkerIterations && st.CurrentWorker != "" {
		// The active worker has looped on itself too many times; force a
		// re-route away from it rather than letting it run again unchanged.
		decision, err := s.ask(ctx, st, string(st.CurrentWorker))
		if err != nil {
			return state.Update{}, err
		}
		if state.WorkerName(decision.Next) == st.CurrentWorker {
			return state.Update{}, fmt.Errorf("supervisor: worker %s exceeded its iteration ceiling and the routing model re-selected it", st.CurrentWorker)
		}
		return s.applyDecision(decision), nil
	}

	decision, err := s.ask(ctx, st, "")
	if err != nil {
		return state.Update{}, err
	}
	return s.applyDecision(decision), nil
}

func (s *Supervisor) routeTo(next, reason string) state.Update {
	s.sink().Emit(events.Event{Type: events.Routing, Next: next, Reason: reason})
	n := state.WorkerName(next)
	return state.Update{Next: &n, ResetWorkerIteration: true}
}

func (s *Supervisor) applyDecision(d *Decision) state.Update {
	s.sink().Emit(events.Event{Type: events.Routing, Next: d.Next, Reason: d.Reasoning})
	n := state.WorkerName(d.Next)
	u := state.Update{Next: &n, ResetWorkerIteration: true}
	if n == state.RouteEnd {
		tc := true
		u.TaskComplete = &tc
		if d.FinalResponse != "" {
			u.FinalResponse = &d.FinalResponse
		}
	}
	return u
}

// ask issues the structured-output routing call and validates the result
// against the known worker set, treating an invalid or unparseable response
// identically to a parse failure: end the run with a generic message rather
// than routing somewhere the graph doesn't recognize.
func (s *Supervisor) ask(ctx context.Context, st *state.State, excludeWorker string) (*Decision, error) {
	req := &llm.CompletionRequest{
		Model:  s.Model,
		System: s.systemPrompt(excludeWorker),
		Messages: []llm.CompletionMessage{{
			Role:    "user",
			Content: s.renderWindow(st),
		}},
		MaxTokens: 1024,
	}

	chunks, err := s.Provider.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("supervisor: routing request: %w", err)
	}

	var raw strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return nil, fmt.Errorf("supervisor: routing stream: %w", chunk.Error)
		}
		raw.WriteString(chunk.Text)
	}

	payload := extractJSON(raw.String())

	var decoded any
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return &Decision{Next: string(state.RouteEnd), Reasoning: "routing response could not be parsed", FinalResponse: genericFailureResponse}, nil
	}
	// The provider has no native structured-output enforcement on this path,
	// so the decision schema is validated after the fact rather than trusted;
	// a shape violation is treated the same as an unparseable response.
	if schema, err := decisionSchema(); err == nil {
		if err := schema.Validate(decoded); err != nil {
			return &Decision{Next: string(state.RouteEnd), Reasoning: fmt.Sprintf("routing response failed schema validation: %v", err), FinalResponse: genericFailureResponse}, nil
		}
	}

	var d Decision
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return &Decision{Next: string(state.RouteEnd), Reasoning: "routing response could not be parsed", FinalResponse: genericFailureResponse}, nil
	}
	if !s.validNext(d.Next) {
		return &Decision{Next: string(state.RouteEnd), Reasoning: fmt.Sprintf("routing response named an unknown node %q", d.Next), FinalResponse: genericFailureResponse}, nil
	}
	return &d, nil
}

const genericFailureResponse = "Something went wrong while deciding how to continue; the task could not be completed."

func (s *Supervisor) validNext(next string) bool {
	if next == string(state.RouteEnd) {
		return true
	}
	for _, w := range s.Workers {
		if string(w) == next {
			return true
		}
	}
	return false
}

func (s *Supervisor) systemPrompt(excludeWorker string) string {
	var names []string
	for _, w := range s.Workers {
		if string(w) == excludeWorker {
			continue
		}
		names = append(names, string(w))
	}
	list := strings.Join(names, ", ")
	return fmt.Sprintf(
		"You are a routing supervisor. Given the conversation so far, decide which worker should act next, "+
			"or whether the task is complete. Available workers: %s. "+
			"Respond with a single JSON object: {\"reasoning\": string, \"next\": one of [%s, END], \"final_response\": string (only when next is END)}.",
		list, list,
	)
}

// renderWindow builds the truncated view of the conversation the routing
// model sees: the most recent MaxMessagesForSupervisor messages, with any
// tool output longer than MaxToolOutputLength clipped.
func (s *Supervisor) renderWindow(st *state.State) string {
	maxMessages := s.MaxMessages
	if maxMessages <= 0 {
		maxMessages = MaxMessagesForSupervisor
	}
	maxToolOutput := s.MaxToolOutputLen
	if maxToolOutput <= 0 {
		maxToolOutput = MaxToolOutputLength
	}

	msgs := st.Messages
	if len(msgs) > maxMessages {
		msgs = msgs[len(msgs)-maxMessages:]
	}

	var b strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case models.RoleTool:
			for _, tr := range m.ToolResults {
				b.WriteString(fmt.Sprintf("[tool result %s]: %s\n", tr.ToolCallID, truncate(tr.Content, maxToolOutput)))
			}
		default:
			b.WriteString(fmt.Sprintf("[%s]: %s\n", m.Role, m.Content))
		}
	}

	if st.TaskSummary != "" {
		b.WriteString(fmt.Sprintf("[user]: %s\n", st.TaskSummary))
	}
	b.WriteString("[user]: Decide the next action, or FINISH if the task is complete.\n")

	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "… [truncated]"
}

var (
	decisionSchemaOnce     sync.Once
	decisionSchemaCompiled *jsonschemaval.Schema
	decisionSchemaErr      error
)

// decisionSchema compiles the JSON Schema reflected from Decision once and
// reuses it for every routing call. The schema itself is generated the same
// way the config package generates its own (struct tags via
// invopop/jsonschema); compiling it with a separate validator library lets a
// raw model response be checked against it without round-tripping through a
// Go type first.
func decisionSchema() (*jsonschemaval.Schema, error) {
	decisionSchemaOnce.Do(func() {
		raw, err := json.Marshal((&jsonschema.Reflector{}).Reflect(&Decision{}))
		if err != nil {
			decisionSchemaErr = fmt.Errorf("supervisor: marshal decision schema: %w", err)
			return
		}
		decisionSchemaCompiled, decisionSchemaErr = jsonschemaval.CompileString("decision.schema.json", string(raw))
	})
	return decisionSchemaCompiled, decisionSchemaErr
}

// extractJSON trims any leading/trailing prose a model adds around the JSON
// object, returning the first balanced {...} span found.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
