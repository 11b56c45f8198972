// Package graph assembles the supervisor and worker nodes into the
// conditional-edge finite-state machine that drives one thread: supervisor
// decides where to go, workers act and may request an approval, and the
// whole run pauses rather than entering human_approval automatically.
package graph

import (
	"context"
	"fmt"

	"github.com/kairoscore/agentgraph/internal/events"
	"github.com/kairoscore/agentgraph/internal/state"
	"github.com/kairoscore/agentgraph/internal/supervisor"
	"github.com/kairoscore/agentgraph/internal/worker"
)

// DefaultRecursionLimit bounds total node visits in a single Run call,
// guarding against a pathological routing loop that would otherwise spin
// forever even though MaxIterations/MaxWorkerIterations bound the intended
// control flow.
const DefaultRecursionLimit = 50

// Graph wires one Supervisor to a fixed set of named Workers.
type Graph struct {
	Supervisor     *supervisor.Supervisor
	Workers        map[state.WorkerName]*worker.Worker
	Sink           events.Sink
	RecursionLimit int
}

// New builds a Graph. workers must include every name the supervisor can
// route to; Route validates against the same set, so a mismatch here would
// otherwise surface confusingly deep inside a run.
func New(sup *supervisor.Supervisor, workers map[state.WorkerName]*worker.Worker) *Graph {
	g := &Graph{
		Supervisor:     sup,
		Workers:        workers,
		Sink:           events.Discard,
		RecursionLimit: DefaultRecursionLimit,
	}
	g.wireSink()
	return g
}

func (g *Graph) wireSink() {
	if g.Sink == nil {
		g.Sink = events.Discard
	}
	g.Supervisor.Sink = g.Sink
	for _, w := range g.Workers {
		w.Sink = g.Sink
	}
}

// Run drives the graph from its current state until the run completes,
// errors, or pauses awaiting human approval. It always re-enters at the
// supervisor node; resuming after an approval decision is handled by
// ResumeApproval, which applies the decision and then calls Run again.
func (g *Graph) Run(ctx context.Context, st *state.State) error {
	if st.AwaitingApproval {
		return fmt.Errorf("graph: Run called while a pending action awaits approval; call ResumeApproval first")
	}

	current := state.WorkerName("supervisor")
	for steps := 0; ; steps++ {
		if steps >= g.RecursionLimit {
			errMsg := "recursion limit reached without the task completing"
			st.Apply(state.Update{Error: &errMsg})
			g.Sink.Emit(events.Event{Type: events.Error, ErrorMessage: errMsg})
			return fmt.Errorf("graph: %s", errMsg)
		}

		if current == "supervisor" {
			u, err := g.Supervisor.Route(ctx, st)
			if err != nil {
				errMsg := err.Error()
				st.Apply(state.Update{Error: &errMsg})
				g.Sink.Emit(events.Event{Type: events.Error, ErrorMessage: errMsg})
				return err
			}
			st.Apply(u)

			if st.Error != "" {
				g.Sink.Emit(events.Event{Type: events.Error, ErrorMessage: st.Error})
				return fmt.Errorf("graph: %s", st.Error)
			}
			if st.TaskComplete {
				g.Sink.Emit(events.Event{Type: events.Complete, FinalResponse: st.FinalResponse})
				return nil
			}
			if st.AwaitingApproval {
				// A worker already set this before the supervisor ever saw
				// it; routeTo("human_approval", ...) just confirmed it.
				return nil
			}
			current = st.Next
			continue
		}

		w, ok := g.Workers[current]
		if !ok {
			errMsg := fmt.Sprintf("no worker registered for node %q", current)
			st.Apply(state.Update{Error: &errMsg})
			g.Sink.Emit(events.Event{Type: events.Error, ErrorMessage: errMsg})
			return fmt.Errorf("graph: %s", errMsg)
		}

		u, err := w.Step(ctx, st)
		if err != nil {
			errMsg := err.Error()
			st.Apply(state.Update{Error: &errMsg})
			g.Sink.Emit(events.Event{Type: events.Error, ErrorMessage: errMsg})
			return err
		}
		st.Apply(u)

		if st.AwaitingApproval {
			// Interrupt before human_approval: the conditional edge out of
			// this worker would go to human_approval, but the run pauses
			// here instead of entering that node.
			return nil
		}
		if st.TaskComplete || st.WorkerIterationCount >= g.Supervisor.MaxWorkerIterations {
			current = "supervisor"
			continue
		}
		// Neither finished nor over its iteration ceiling: self-loop back to
		// the same worker node rather than returning to the supervisor.
	}
}

// ResumeApproval applies a human decision to the thread's pending action and
// continues the run. The worker that raised the pending action resumes its
// own tool-call loop; once it finishes, control returns to the supervisor as
// usual.
func (g *Graph) ResumeApproval(ctx context.Context, st *state.State, decision state.ApprovalDecision) error {
	if st.PendingAction == nil {
		return fmt.Errorf("graph: ResumeApproval called with no pending action")
	}
	w, ok := g.Workers[st.PendingAction.Worker]
	if !ok {
		return fmt.Errorf("graph: no worker registered for node %q", st.PendingAction.Worker)
	}

	u, err := w.Resume(ctx, st, decision)
	if err != nil {
		errMsg := err.Error()
		st.Apply(state.Update{Error: &errMsg})
		g.Sink.Emit(events.Event{Type: events.Error, ErrorMessage: errMsg})
		return err
	}
	st.Apply(u)

	if st.AwaitingApproval {
		return nil
	}
	return g.Run(ctx, st)
}
