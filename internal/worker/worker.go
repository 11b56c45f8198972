// Package worker implements the per-node step protocol run by each worker in
// the orchestration graph: bind tools to the LLM, classify every requested
// tool call's sensitivity, execute safe and moderate calls inline, and defer
// at most one sensitive call per step for human approval.
package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	ctxwindow "github.com/kairoscore/agentgraph/internal/context"
	"github.com/kairoscore/agentgraph/internal/events"
	"github.com/kairoscore/agentgraph/internal/llm"
	"github.com/kairoscore/agentgraph/internal/state"
	"github.com/kairoscore/agentgraph/internal/toolsensitivity"
	"github.com/kairoscore/agentgraph/pkg/models"
)

// Placeholder content used in place of a real tool result while a sensitive
// call (or a call queued behind one) is still waiting on a decision. These
// strings preserve the invariant that every tool_call on an assistant
// message has a matching tool_result message before the next LLM call, even
// though the real result doesn't exist yet.
const (
	PlaceholderAwaitingApproval = "[Awaiting user approval]"
	PlaceholderQueuedBehind     = "[Queued — previous action awaiting approval]"
)

// Worker runs the step protocol for one named node in the graph.
type Worker struct {
	Name         state.WorkerName
	Provider     llm.LLMProvider
	SystemPrompt string
	Model        string
	Tools        []llm.Tool
	Classifier   *toolsensitivity.Classifier
	Executor     *Executor
	Sink         events.Sink

	// Pruning controls how stale tool results are trimmed from the message
	// history before it is sent to the model. It never touches st.Messages
	// itself, only the copy handed to the completion request.
	Pruning ctxwindow.ContextPruningSettings
}

// New constructs a Worker with sensible defaults for the classifier,
// executor, and event sink when not supplied.
func New(name state.WorkerName, provider llm.LLMProvider, systemPrompt string, tools []llm.Tool) *Worker {
	return &Worker{
		Name:         name,
		Provider:     provider,
		SystemPrompt: systemPrompt,
		Tools:        tools,
		Classifier:   toolsensitivity.Default(),
		Executor:     NewExecutor(DefaultExecutorConfig()),
		Sink:         events.Discard,
		Pruning:      ctxwindow.DefaultContextPruningSettings(),
	}
}

// charWindow returns the model's context window translated to a character
// budget, falling back to the default window for unrecognized models.
func (w *Worker) charWindow() int {
	tokens, ok := ctxwindow.GetModelContextWindow(w.Model)
	if !ok {
		tokens = ctxwindow.DefaultContextWindow
	}
	return int(float64(tokens) / ctxwindow.TokensPerChar)
}

func (w *Worker) sink() events.Sink {
	if w.Sink == nil {
		return events.Discard
	}
	return w.Sink
}

func (w *Worker) toolByName(name string) llm.Tool {
	for _, t := range w.Tools {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

// Step runs one worker turn: it calls the LLM with the current message
// history, then walks any requested tool calls in order, executing safe and
// moderate ones inline and stopping at the first sensitive one.
//
// Emission order matches the contract every caller of a graph run relies on:
// worker_started, then (tool_call, tool_result)* for each call resolved this
// step, then exactly one of approval_required (a sensitive call was hit) or
// nothing further (the caller inspects the returned Update for routing).
func (w *Worker) Step(ctx context.Context, st *state.State) (state.Update, error) {
	w.sink().Emit(events.Event{Type: events.WorkerStarted, Worker: string(w.Name)})

	req := &llm.CompletionRequest{
		Model:    w.Model,
		System:   w.SystemPrompt,
		Messages: toCompletionMessages(w.pruned(st.Messages)),
		Tools:    w.Tools,
	}

	chunks, err := w.Provider.Complete(ctx, req)
	if err != nil {
		return state.Update{}, fmt.Errorf("worker %s: completion request: %w", w.Name, err)
	}

	assistant := models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleAssistant,
		CreatedAt: time.Now(),
	}
	for chunk := range chunks {
		if chunk.Error != nil {
			return state.Update{}, fmt.Errorf("worker %s: stream: %w", w.Name, chunk.Error)
		}
		if chunk.Text != "" {
			assistant.Content += chunk.Text
			w.sink().Emit(events.Event{Type: events.Token, Worker: string(w.Name), Text: chunk.Text})
		}
		if chunk.ToolCall != nil {
			assistant.ToolCalls = append(assistant.ToolCalls, *chunk.ToolCall)
		}
	}

	cw := w.Name
	newMessages := []models.Message{assistant}
	update := state.Update{
		CurrentWorker:            &cw,
		IncrementWorkerIteration: true,
	}

	if len(assistant.ToolCalls) == 0 {
		update.Messages = newMessages
		tc := true
		update.TaskComplete = &tc
		summary := fmt.Sprintf("[%s] Processed request", w.Name)
		update.TaskSummary = &summary
		return update, nil
	}

	results, pending := w.processToolCalls(ctx, assistant.ToolCalls, 0)
	newMessages = append(newMessages, wrapResults(assistant.ID, results)...)
	update.Messages = newMessages

	if pending != nil {
		pending.Worker = w.Name
		pending.CreatedAt = time.Now()
		aw := true
		update.PendingAction = pending
		update.AwaitingApproval = &aw
		w.sink().Emit(events.Event{
			Type:       events.ApprovalRequired,
			Worker:     string(w.Name),
			ToolCallID: pending.ToolCallID,
			ToolName:   pending.ToolName,
			ToolInput:  pending.Input,
		})
		return update, nil
	}

	tc := false
	update.TaskComplete = &tc
	summary := summarizeToolCalls(w.Name, assistant.ToolCalls, results)
	update.TaskSummary = &summary

	return update, nil
}

// summarizeToolCalls builds the compressed handoff the supervisor sees in
// place of the raw tool traffic: one line per call naming the tool, its
// truncated arguments, and its truncated result.
func summarizeToolCalls(worker state.WorkerName, calls []models.ToolCall, results []models.ToolResult) string {
	resultByID := make(map[string]models.ToolResult, len(results))
	for _, r := range results {
		resultByID[r.ToolCallID] = r
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] ", worker)
	for i, call := range calls {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s(%s)", call.Name, truncateSummary(string(call.Input), summaryFieldLength))
		if r, ok := resultByID[call.ID]; ok {
			fmt.Fprintf(&b, " -> %s", truncateSummary(r.Content, summaryFieldLength))
		}
	}
	return b.String()
}

// summaryFieldLength bounds each argument/result fragment folded into a
// taskSummary, keeping the supervisor's synthetic handoff message short
// regardless of how much a tool actually returned.
const summaryFieldLength = 200

func truncateSummary(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// Resume continues processing the tool calls on the most recent assistant
// message after a human has approved or denied the deferred call named in
// st.PendingAction. It replaces the placeholder tool result for that call
// with the real outcome (or a denial notice) and then continues the loop
// over any remaining calls, which may itself defer a further sensitive call.
func (w *Worker) Resume(ctx context.Context, st *state.State, decision state.ApprovalDecision) (state.Update, error) {
	if st.PendingAction == nil {
		return state.Update{}, fmt.Errorf("worker %s: resume called with no pending action", w.Name)
	}
	pa := st.PendingAction
	if len(st.Messages) == 0 {
		return state.Update{}, fmt.Errorf("worker %s: resume called with empty message history", w.Name)
	}
	var assistant *models.Message
	for i := len(st.Messages) - 1; i >= 0; i-- {
		if st.Messages[i].Role == models.RoleAssistant && len(st.Messages[i].ToolCalls) > 0 {
			assistant = &st.Messages[i]
			break
		}
	}
	if assistant == nil {
		return state.Update{}, fmt.Errorf("worker %s: resume found no assistant tool calls to continue", w.Name)
	}

	var resolved models.ToolResult
	if decision == state.ApprovalApproved {
		tool := w.toolByName(pa.ToolName)
		if tool == nil {
			resolved = models.ToolResult{ToolCallID: pa.ToolCallID, Content: fmt.Sprintf("unknown tool %q", pa.ToolName), IsError: true}
		} else {
			res, err := w.Executor.Run(ctx, tool, pa.Input)
			if err != nil {
				resolved = models.ToolResult{ToolCallID: pa.ToolCallID, Content: err.Error(), IsError: true}
			} else {
				resolved = models.ToolResult{ToolCallID: pa.ToolCallID, Content: res.Content, IsError: res.IsError}
			}
		}
	} else {
		resolved = models.ToolResult{ToolCallID: pa.ToolCallID, Content: "tool call denied by reviewer", IsError: true}
	}
	w.sink().Emit(events.Event{
		Type: events.ToolResult, Worker: string(w.Name),
		ToolCallID: resolved.ToolCallID, ToolName: pa.ToolName,
		ToolOutput: resolved.Content, IsError: resolved.IsError,
	})

	results, pending := w.processToolCalls(ctx, assistant.ToolCalls, pa.ToolCallIndex+1)
	results = append([]models.ToolResult{resolved}, results...)

	update := state.Update{
		Messages:           wrapResults(assistant.ID, results),
		ClearPendingAction: true,
	}
	falseVal := false
	update.AwaitingApproval = &falseVal

	if pending != nil {
		pending.Worker = w.Name
		pending.CreatedAt = time.Now()
		aw := true
		update.PendingAction = pending
		update.AwaitingApproval = &aw
		update.ClearPendingAction = false
		w.sink().Emit(events.Event{
			Type:       events.ApprovalRequired,
			Worker:     string(w.Name),
			ToolCallID: pending.ToolCallID,
			ToolName:   pending.ToolName,
			ToolInput:  pending.Input,
		})
	}
	return update, nil
}

// processToolCalls executes calls[from:] in order, running safe and
// moderate calls inline and stopping at the first sensitive one. It returns
// the results gathered so far (including placeholders for the sensitive call
// and everything queued behind it) and, if a sensitive call was hit, the
// PendingAction describing it.
func (w *Worker) processToolCalls(ctx context.Context, calls []models.ToolCall, from int) ([]models.ToolResult, *state.PendingAction) {
	var results []models.ToolResult
	var pending *state.PendingAction

	for i := from; i < len(calls); i++ {
		call := calls[i]

		if pending != nil {
			results = append(results, models.ToolResult{
				ToolCallID: call.ID,
				Content:    PlaceholderQueuedBehind,
			})
			continue
		}

		level := w.Classifier.Classify(call.Name, call.Input)
		if level == toolsensitivity.Sensitive {
			pending = &state.PendingAction{
				ToolCallID:    call.ID,
				ToolName:      call.Name,
				Input:         call.Input,
				Decision:      state.ApprovalPending,
				ToolCallIndex: i,
			}
			results = append(results, models.ToolResult{
				ToolCallID: call.ID,
				Content:    PlaceholderAwaitingApproval,
			})
			continue
		}

		w.sink().Emit(events.Event{Type: events.ToolCall, Worker: string(w.Name), ToolCallID: call.ID, ToolName: call.Name, ToolInput: call.Input})

		tool := w.toolByName(call.Name)
		var tr models.ToolResult
		if tool == nil {
			tr = models.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("unknown tool %q", call.Name), IsError: true}
		} else if res, err := w.Executor.Run(ctx, tool, call.Input); err != nil {
			tr = models.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
		} else {
			tr = models.ToolResult{ToolCallID: call.ID, Content: res.Content, IsError: res.IsError}
		}

		w.sink().Emit(events.Event{Type: events.ToolResult, Worker: string(w.Name), ToolCallID: tr.ToolCallID, ToolName: call.Name, ToolOutput: tr.Content, IsError: tr.IsError})
		results = append(results, tr)
	}

	return results, pending
}

// wrapResults bundles tool results into a single tool-role message, the
// shape expected immediately following the assistant message that requested
// them.
func wrapResults(inResponseTo string, results []models.ToolResult) []models.Message {
	if len(results) == 0 {
		return nil
	}
	return []models.Message{{
		ID:          uuid.NewString(),
		Role:        models.RoleTool,
		ToolResults: results,
		Metadata:    map[string]any{"in_response_to": inResponseTo},
		CreatedAt:   time.Now(),
	}}
}

// pruned returns msgs with stale tool results trimmed or cleared for the
// prompt sent to the model. The canonical history in st.Messages is never
// modified; this view exists only for the duration of one completion call.
func (w *Worker) pruned(msgs []models.Message) []models.Message {
	if w.Pruning.Mode == ctxwindow.ContextPruningOff {
		return msgs
	}
	ptrs := make([]*models.Message, len(msgs))
	for i := range msgs {
		ptrs[i] = &msgs[i]
	}
	pruned := ctxwindow.PruneContextMessages(ptrs, w.Pruning, w.charWindow())
	out := make([]models.Message, len(pruned))
	for i, m := range pruned {
		out[i] = *m
	}
	return out
}

func toCompletionMessages(msgs []models.Message) []llm.CompletionMessage {
	out := make([]llm.CompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llm.CompletionMessage{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
			Attachments: m.Attachments,
		})
	}
	return out
}
