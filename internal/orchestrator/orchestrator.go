// Package orchestrator is the façade a host application drives: it turns
// user turns into graph runs or resumes, multiplexes the resulting event
// stream, and persists both the durable graph checkpoint and the host-visible
// chat history after every turn.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kairoscore/agentgraph/internal/checkpoint"
	"github.com/kairoscore/agentgraph/internal/events"
	"github.com/kairoscore/agentgraph/internal/graph"
	"github.com/kairoscore/agentgraph/internal/observability"
	"github.com/kairoscore/agentgraph/internal/state"
	"github.com/kairoscore/agentgraph/pkg/models"
)

// Namespace is the checkpoint namespace this module uses; hosts embedding
// multiple independent graphs in one checkpoint store can use other values
// to keep their state partitioned.
const Namespace = "default"

// Result summarizes the outcome of a single turn.
type Result struct {
	ThreadID         string
	FinalResponse    string
	TaskComplete     bool
	AwaitingApproval bool
	PendingAction    *state.PendingAction
}

// Orchestrator drives one Graph over many concurrent threads, each
// serialized against itself but independent of the others.
type Orchestrator struct {
	Graph        *graph.Graph
	Checkpointer *checkpoint.Checkpointer
	History      HistoryStore
	Sink         events.Sink

	// Metrics, Logger, and Events are optional observability hooks; a nil
	// value disables the corresponding instrumentation rather than
	// panicking, so callers that don't care about metrics, structured logs,
	// or a replayable run timeline can ignore any of the three entirely.
	Metrics *observability.Metrics
	Logger  *observability.Logger
	Events  observability.EventStore

	locks lockTable
}

// New constructs an Orchestrator. If history is nil, a MemoryHistoryStore is
// used; real deployments should supply their own.
func New(g *graph.Graph, cp *checkpoint.Checkpointer, history HistoryStore) *Orchestrator {
	if history == nil {
		history = NewMemoryHistoryStore()
	}
	return &Orchestrator{
		Graph:        g,
		Checkpointer: cp,
		History:      history,
		Sink:         events.Discard,
		locks:        newLockTable(),
	}
}

// Ask starts or continues a thread with a new user message, running the
// graph until it completes, errors, or pauses for approval.
func (o *Orchestrator) Ask(ctx context.Context, threadID, userMessage string) (*Result, error) {
	if threadID == "" {
		threadID = uuid.NewString()
	}
	unlock := o.locks.Lock(threadID)
	defer unlock()

	st, err := o.load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if st.AwaitingApproval {
		return nil, fmt.Errorf("orchestrator: thread %s has a pending action; approve or deny it before asking again", threadID)
	}

	userMsg := models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Content:   userMessage,
		CreatedAt: time.Now(),
	}
	st.Apply(state.Update{Messages: []models.Message{userMsg}, ResetIterationCount: true})
	if err := o.History.AppendMessage(ctx, threadID, userMsg); err != nil {
		return nil, fmt.Errorf("orchestrator: append history: %w", err)
	}

	ctx, start := o.recordRunStart(ctx, threadID, "ask")
	runErr := o.Graph.Run(ctx, st)
	o.recordRunEnd(ctx, start, runErr)
	return o.finish(ctx, threadID, st, runErr)
}

// ApproveAction approves the thread's currently pending sensitive tool call
// and resumes the worker that requested it.
func (o *Orchestrator) ApproveAction(ctx context.Context, threadID string) (*Result, error) {
	return o.resolveApproval(ctx, threadID, state.ApprovalApproved)
}

// DenyAction denies the thread's currently pending sensitive tool call and
// resumes the worker that requested it with a denial result.
func (o *Orchestrator) DenyAction(ctx context.Context, threadID string) (*Result, error) {
	return o.resolveApproval(ctx, threadID, state.ApprovalDenied)
}

func (o *Orchestrator) resolveApproval(ctx context.Context, threadID string, decision state.ApprovalDecision) (*Result, error) {
	unlock := o.locks.Lock(threadID)
	defer unlock()

	st, err := o.load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !st.AwaitingApproval || st.PendingAction == nil {
		return nil, fmt.Errorf("orchestrator: thread %s has no pending action", threadID)
	}

	ctx, start := o.recordRunStart(ctx, threadID, string(decision))
	runErr := o.Graph.ResumeApproval(ctx, st, decision)
	o.recordRunEnd(ctx, start, runErr)
	return o.finish(ctx, threadID, st, runErr)
}

// ResumeAgent re-enters the graph for a thread that is neither awaiting
// approval nor complete, e.g. after a process restart found a checkpoint
// mid-run. It is a no-op if the thread is already finished or paused.
func (o *Orchestrator) ResumeAgent(ctx context.Context, threadID string) (*Result, error) {
	unlock := o.locks.Lock(threadID)
	defer unlock()

	st, err := o.load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if st.AwaitingApproval || st.TaskComplete {
		return o.finish(ctx, threadID, st, nil)
	}

	ctx, start := o.recordRunStart(ctx, threadID, "resume")
	runErr := o.Graph.Run(ctx, st)
	o.recordRunEnd(ctx, start, runErr)
	return o.finish(ctx, threadID, st, runErr)
}

func (o *Orchestrator) finish(ctx context.Context, threadID string, st *state.State, runErr error) (*Result, error) {
	if err := o.persist(ctx, threadID, st); err != nil {
		o.recordRunAttempt(ctx, "persist_error", threadID, err)
		return nil, err
	}
	if runErr != nil && !st.AwaitingApproval {
		o.recordRunAttempt(ctx, "error", threadID, runErr)
		return nil, runErr
	}

	status := "running"
	switch {
	case st.TaskComplete:
		status = "complete"
	case st.AwaitingApproval:
		status = "awaiting_approval"
	}
	o.recordRunAttempt(ctx, status, threadID, nil)

	return &Result{
		ThreadID:         threadID,
		FinalResponse:    st.FinalResponse,
		TaskComplete:     st.TaskComplete,
		AwaitingApproval: st.AwaitingApproval,
		PendingAction:    st.PendingAction,
	}, nil
}

// recordRunAttempt reports the outcome of a turn to the optional Metrics and
// Logger hooks. Both are nil-safe so a caller that never set them pays no
// cost and gets no instrumentation.
func (o *Orchestrator) recordRunAttempt(ctx context.Context, status, threadID string, err error) {
	if o.Metrics != nil {
		o.Metrics.RecordRunAttempt(status)
	}
	if o.Logger == nil {
		return
	}
	if err != nil {
		o.Logger.Error(ctx, "orchestrator turn failed", "thread_id", threadID, "status", status, "error", err)
		return
	}
	o.Logger.Debug(ctx, "orchestrator turn finished", "thread_id", threadID, "status", status)
}

// recordRunStart tags ctx with threadID as the observability run ID and
// records a run.start event, returning the tagged context and a start time
// for recordRunEnd to compute a duration from. Both are no-ops when Events
// is nil, so the timeline is purely additive instrumentation.
func (o *Orchestrator) recordRunStart(ctx context.Context, threadID, kind string) (context.Context, time.Time) {
	ctx = observability.AddRunID(ctx, threadID)
	start := time.Now()
	if o.Events == nil {
		return ctx, start
	}
	rec := observability.NewEventRecorder(o.Events, o.Logger)
	_ = rec.RecordRunStart(ctx, threadID, map[string]interface{}{"kind": kind})
	return ctx, start
}

// recordRunEnd closes out the run.start event pair recorded by
// recordRunStart. Callers should pass the same ctx returned by
// recordRunStart so the two events share a run ID.
func (o *Orchestrator) recordRunEnd(ctx context.Context, start time.Time, runErr error) {
	if o.Events == nil {
		return
	}
	rec := observability.NewEventRecorder(o.Events, o.Logger)
	_ = rec.RecordRunEnd(ctx, time.Since(start), runErr)
}

// Timeline returns the recorded event timeline for a thread's most recent
// turns, or nil if no EventStore is configured. Since the default
// MemoryEventStore does not persist across process restarts, this only
// covers runs recorded by this process.
func (o *Orchestrator) Timeline(threadID string) (*observability.Timeline, error) {
	if o.Events == nil {
		return nil, nil
	}
	evts, err := o.Events.GetByRunID(threadID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load timeline: %w", err)
	}
	return observability.BuildTimeline(evts), nil
}

func (o *Orchestrator) load(ctx context.Context, threadID string) (*state.State, error) {
	tuple, err := o.Checkpointer.GetTuple(ctx, threadID, Namespace, "")
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load checkpoint: %w", err)
	}
	if tuple == nil {
		return state.New(), nil
	}
	var st state.State
	if err := json.Unmarshal(tuple.Checkpoint.State, &st); err != nil {
		return nil, fmt.Errorf("orchestrator: decode checkpoint: %w", err)
	}
	return &st, nil
}

func (o *Orchestrator) persist(ctx context.Context, threadID string, st *state.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("orchestrator: encode checkpoint: %w", err)
	}
	cp := checkpoint.Checkpoint{
		ThreadID:  threadID,
		Namespace: Namespace,
		ID:        uuid.NewString(),
		State:     data,
		Metadata:  []byte("{}"),
	}
	if err := o.Checkpointer.Put(ctx, cp); err != nil {
		return fmt.Errorf("orchestrator: persist checkpoint: %w", err)
	}
	return nil
}

// lockTable hands out per-thread mutexes, reference-counted so idle threads
// don't accumulate forever.
type lockTable struct {
	mu    *sync.Mutex
	locks map[string]*refCountedMutex
}

type refCountedMutex struct {
	mu  sync.Mutex
	ref int
}

func newLockTable() lockTable {
	return lockTable{mu: &sync.Mutex{}, locks: make(map[string]*refCountedMutex)}
}

// Lock acquires the mutex for id, creating it if necessary, and returns an
// unlock function that releases it and cleans up the entry once nothing else
// holds a reference.
func (t lockTable) Lock(id string) func() {
	t.mu.Lock()
	l, ok := t.locks[id]
	if !ok {
		l = &refCountedMutex{}
		t.locks[id] = l
	}
	l.ref++
	t.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		t.mu.Lock()
		l.ref--
		if l.ref == 0 {
			delete(t.locks, id)
		}
		t.mu.Unlock()
	}
}
