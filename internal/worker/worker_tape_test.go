package worker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kairoscore/agentgraph/internal/llm"
	"github.com/kairoscore/agentgraph/internal/llm/tape"
	"github.com/kairoscore/agentgraph/internal/state"
	"github.com/kairoscore/agentgraph/pkg/models"
)

// echoTool is a trivial safe tool used only to exercise the inline tool-call
// path against a replayed conversation.
type echoTool struct{}

func (echoTool) Name() string            { return "echo" }
func (echoTool) Description() string     { return "echoes its input" }
func (echoTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (echoTool) Execute(_ context.Context, params json.RawMessage) (*llm.ToolResult, error) {
	return &llm.ToolResult{Content: string(params)}, nil
}

func TestWorker_Step_ReplayedTape(t *testing.T) {
	tp := tape.NewTape()
	tp.AddTurn(tape.Turn{
		Index: 0,
		Chunks: []llm.CompletionChunk{
			{Text: "looking into it"},
			{ToolCall: &models.ToolCall{ID: "call-1", Name: "echo", Input: json.RawMessage(`{"msg":"hi"}`)}},
		},
	})

	replayer := tape.NewReplayer(tp)
	w := New("researcher", replayer, "you are a researcher", []llm.Tool{echoTool{}})

	st := state.New()
	st.Apply(state.Update{Messages: []models.Message{{Role: models.RoleUser, Content: "look into X"}}})

	update, err := w.Step(context.Background(), st)
	require.NoError(t, err)
	require.Len(t, update.Messages, 2)

	assistant := update.Messages[0]
	assert.Equal(t, models.RoleAssistant, assistant.Role)
	assert.Equal(t, "looking into it", assistant.Content)
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "echo", assistant.ToolCalls[0].Name)

	toolMsg := update.Messages[1]
	require.Len(t, toolMsg.ToolResults, 1)
	assert.False(t, toolMsg.ToolResults[0].IsError)
}
