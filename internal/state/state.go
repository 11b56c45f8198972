// Package state defines the shared graph state threaded through every node
// of an orchestration run: the channel schema, its reducers, and the message
// and pending-action types that flow through it.
package state

import (
	"encoding/json"
	"time"

	"github.com/kairoscore/agentgraph/pkg/models"
)

// WorkerName identifies one of the fixed worker nodes a supervisor can route to.
type WorkerName string

// Sentinel routing targets recognized by the graph in addition to worker names.
const (
	RouteEnd   WorkerName = "END"
	RouteError WorkerName = "ERROR"
)

// ApprovalDecision records what a human reviewer decided about a deferred
// sensitive tool call.
type ApprovalDecision string

const (
	ApprovalPending  ApprovalDecision = "pending"
	ApprovalApproved ApprovalDecision = "approved"
	ApprovalDenied   ApprovalDecision = "denied"
)

// PendingAction describes a single sensitive tool call that has been deferred
// for human approval. Exactly one pending action may exist at a time; the
// worker step protocol enforces this by stopping its tool-call loop as soon
// as a sensitive call is encountered.
type PendingAction struct {
	ToolCallID string           `json:"tool_call_id"`
	ToolName   string           `json:"tool_name"`
	Input      json.RawMessage  `json:"input"`
	Worker     WorkerName       `json:"worker"`
	Decision   ApprovalDecision `json:"decision"`
	Reason     string           `json:"reason,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	ResolvedAt time.Time        `json:"resolved_at,omitempty"`

	// ToolCallIndex is the position of this call within the triggering
	// assistant message's ToolCalls slice. It lets the worker resume
	// processing the remaining calls in order once a decision is made.
	ToolCallIndex int `json:"tool_call_index"`
}

// State is the full graph state for one thread. Every node reads a subset of
// these channels and returns a partial update; Apply merges that update using
// the per-channel reducers below.
type State struct {
	Messages             []models.Message `json:"messages"`
	CurrentWorker        WorkerName       `json:"current_worker,omitempty"`
	Next                 WorkerName       `json:"next,omitempty"`
	PendingAction        *PendingAction   `json:"pending_action,omitempty"`
	AwaitingApproval     bool             `json:"awaiting_approval"`
	FinalResponse        string           `json:"final_response,omitempty"`
	Error                string           `json:"error,omitempty"`
	IterationCount       int              `json:"iteration_count"`
	WorkerIterationCount int              `json:"worker_iteration_count"`
	TaskComplete         bool             `json:"task_complete"`
	TaskSummary          string           `json:"task_summary,omitempty"`
}

// Update is a partial state produced by a node. Nil fields/zero values mean
// "no change" for channels with a keep-previous reducer, and Clear* flags
// exist for channels where the zero value is itself meaningful data.
type Update struct {
	Messages                []models.Message
	CurrentWorker           *WorkerName
	Next                    *WorkerName
	PendingAction           *PendingAction
	ClearPendingAction      bool
	AwaitingApproval        *bool
	FinalResponse           *string
	Error                   *string
	ResetIterationCount     bool
	IncrementWorkerIteration bool
	ResetWorkerIteration    bool
	TaskComplete            *bool
	TaskSummary             *string
	ClearTaskSummary        bool
}

// New returns a fresh, zeroed state for a new thread.
func New() *State {
	return &State{Messages: []models.Message{}}
}

// Clone makes a deep-enough copy of the state for safe concurrent reads
// while a node is computing its next update.
func (s *State) Clone() *State {
	out := *s
	out.Messages = append([]models.Message(nil), s.Messages...)
	if s.PendingAction != nil {
		pa := *s.PendingAction
		out.PendingAction = &pa
	}
	return &out
}

// Apply merges an Update into the state using the reducer appropriate to
// each channel:
//
//   - messages: append, de-duplicating by message ID
//   - currentWorker, next, pendingAction, awaitingApproval, finalResponse,
//     error, taskComplete: replace
//   - iterationCount: increments by one on every supervisor pass unless the
//     update explicitly resets it
//   - workerIterationCount: increments on a worker self-loop, resets when a
//     different worker is entered
//   - taskSummary: keeps the previous value when the update doesn't set one
func (s *State) Apply(u Update) {
	if len(u.Messages) > 0 {
		s.Messages = appendDedup(s.Messages, u.Messages)
	}
	if u.CurrentWorker != nil {
		s.CurrentWorker = *u.CurrentWorker
	}
	if u.Next != nil {
		s.Next = *u.Next
	}
	if u.ClearPendingAction {
		s.PendingAction = nil
	} else if u.PendingAction != nil {
		s.PendingAction = u.PendingAction
	}
	if u.AwaitingApproval != nil {
		s.AwaitingApproval = *u.AwaitingApproval
	}
	if u.FinalResponse != nil {
		s.FinalResponse = *u.FinalResponse
	}
	if u.Error != nil {
		s.Error = *u.Error
	}
	if u.TaskComplete != nil {
		s.TaskComplete = *u.TaskComplete
	}
	if u.ClearTaskSummary {
		s.TaskSummary = ""
	} else if u.TaskSummary != nil {
		s.TaskSummary = *u.TaskSummary
	}

	if u.ResetIterationCount {
		s.IterationCount = 0
	} else {
		s.IterationCount++
	}

	switch {
	case u.ResetWorkerIteration:
		s.WorkerIterationCount = 0
	case u.IncrementWorkerIteration:
		s.WorkerIterationCount++
	}
}

// appendDedup appends new messages to existing ones, skipping any whose ID
// already appears in existing. Messages without an ID are always appended.
func appendDedup(existing, incoming []models.Message) []models.Message {
	seen := make(map[string]bool, len(existing))
	for _, m := range existing {
		if m.ID != "" {
			seen[m.ID] = true
		}
	}
	out := existing
	for _, m := range incoming {
		if m.ID != "" && seen[m.ID] {
			continue
		}
		if m.ID != "" {
			seen[m.ID] = true
		}
		out = append(out, m)
	}
	return out
}

// LastToolCallIDs returns the IDs of tool calls on the most recent assistant
// message that do not yet have a corresponding tool-result message. The
// worker step protocol uses this to decide which calls still need results
// (including placeholders) before the turn can end.
func (s *State) LastToolCallIDs() []string {
	if len(s.Messages) == 0 {
		return nil
	}
	last := s.Messages[len(s.Messages)-1]
	if last.Role != models.RoleAssistant || len(last.ToolCalls) == 0 {
		return nil
	}
	answered := make(map[string]bool)
	for _, m := range s.Messages {
		for _, tr := range m.ToolResults {
			answered[tr.ToolCallID] = true
		}
	}
	var pending []string
	for _, tc := range last.ToolCalls {
		if !answered[tc.ID] {
			pending = append(pending, tc.ID)
		}
	}
	return pending
}
