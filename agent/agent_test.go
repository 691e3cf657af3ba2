package agent

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpetrakis/vesper/errors"
	"github.com/fpetrakis/vesper/llm"
	"github.com/fpetrakis/vesper/session"
	"github.com/fpetrakis/vesper/tools"
)

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	dir := t.TempDir()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(old) })

	sess, err := session.New("test")
	require.NoError(t, err)
	return sess
}

// echoTool returns its "value" argument as output.
type echoTool struct{ kind tools.Kind }

func (e *echoTool) Name() string        { return "echo" }
func (e *echoTool) Description() string { return "Echoes its argument" }
func (e *echoTool) Kind() tools.Kind {
	if e.kind == "" {
		return tools.KindRead
	}
	return e.kind
}
func (e *echoTool) Parameters() map[string]interface{} {
	return tools.ObjectSchema(map[string]interface{}{
		"value": map[string]interface{}{"type": "string"},
	}, "value")
}
func (e *echoTool) Execute(ctx context.Context, inv tools.Invocation) (tools.Result, error) {
	v, _ := inv.Args["value"].(string)
	return tools.SuccessResult(v), nil
}

// faultyTool always fails.
type faultyTool struct{}

func (f *faultyTool) Name() string                       { return "faulty" }
func (f *faultyTool) Description() string                { return "Always fails" }
func (f *faultyTool) Kind() tools.Kind                   { return tools.KindRead }
func (f *faultyTool) Parameters() map[string]interface{} { return tools.ObjectSchema(nil) }
func (f *faultyTool) Execute(ctx context.Context, inv tools.Invocation) (tools.Result, error) {
	return tools.Result{}, errors.New("backend unavailable")
}

func newTestAgent(t *testing.T, client llm.Client, ts ...tools.Tool) *Agent {
	t.Helper()
	return &Agent{
		Session:  newTestSession(t),
		Client:   client,
		Executor: tools.NewExecutor(ts),
		Mode:     ModeAuto,
	}
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func typesOf(events []Event) []EventType {
	types := make([]EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func streamed(chunks ...llm.Chunk) llm.EventStream {
	return llm.NewDecoder(llm.NewChunkSlice(chunks, nil))
}

func TestTextOnlyTurn(t *testing.T) {
	client := &llm.MockClient{Scripted: []llm.EventStream{
		streamed(
			llm.Chunk{Text: "Hello "},
			llm.Chunk{Text: "there."},
			llm.Chunk{FinishReason: "stop", Usage: &llm.TokenUsage{TotalTokens: 11}},
		),
	}}
	a := newTestAgent(t, client)

	events := collect(t, a.Run(context.Background(), "hi"))
	assert.Equal(t, []EventType{
		EventTurnStarted,
		EventTextDelta,
		EventTextDelta,
		EventTextFinished,
		EventTurnFinished,
	}, typesOf(events))

	// The finished text equals the concatenated deltas.
	var concat string
	for _, ev := range events {
		if ev.Type == EventTextDelta {
			concat += ev.Text
		}
	}
	final := events[len(events)-1]
	assert.Equal(t, "Hello there.", concat)
	assert.Equal(t, concat, final.Text)
	require.NotNil(t, final.Usage)
	assert.Equal(t, 11, final.Usage.TotalTokens)

	// One user message in, one assistant message out.
	require.Equal(t, 2, a.Session.Len())
	assert.Equal(t, session.RoleUser, a.Session.Messages[0].Role)
	assert.Equal(t, session.RoleAssistant, a.Session.Messages[1].Role)
	assert.Equal(t, "Hello there.", a.Session.Messages[1].Content)
}

func TestToolCallTurn(t *testing.T) {
	client := &llm.MockClient{Scripted: []llm.EventStream{
		streamed(
			llm.Chunk{Text: "Running echo."},
			llm.Chunk{ToolCalls: []llm.ToolCallChunk{{
				Index: 0, ID: "call_1", Name: "echo", Arguments: `{"value":"pong"}`,
			}}},
			llm.Chunk{FinishReason: "tool_calls"},
		),
	}}
	a := newTestAgent(t, client, &echoTool{})

	events := collect(t, a.Run(context.Background(), "ping"))
	assert.Equal(t, []EventType{
		EventTurnStarted,
		EventTextDelta,
		EventTextFinished,
		EventToolInvocationStarted,
		EventToolInvocationFinished,
		EventTurnFinished,
	}, typesOf(events))

	finished := events[4]
	require.NotNil(t, finished.Result)
	assert.True(t, finished.Result.Success)
	assert.Equal(t, "pong", finished.Result.Output)

	// user, assistant-with-call, tool result.
	require.Equal(t, 3, a.Session.Len())
	assistant := a.Session.Messages[1]
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "call_1", assistant.ToolCalls[0].ToolCallID)

	toolMsg := a.Session.Messages[2]
	assert.Equal(t, session.RoleTool, toolMsg.Role)
	assert.Equal(t, "call_1", toolMsg.ToolCallID)
	assert.Equal(t, "pong", toolMsg.Content)
}

func TestToolFaultAbsorbed(t *testing.T) {
	client := &llm.MockClient{Scripted: []llm.EventStream{
		streamed(
			llm.Chunk{ToolCalls: []llm.ToolCallChunk{{
				Index: 0, ID: "call_1", Name: "faulty", Arguments: `{}`,
			}}},
			llm.Chunk{FinishReason: "tool_calls"},
		),
	}}
	a := newTestAgent(t, client, &faultyTool{})

	events := collect(t, a.Run(context.Background(), "break"))

	// The turn still finishes; the failure is recorded, not raised.
	last := events[len(events)-1]
	assert.Equal(t, EventTurnFinished, last.Type)

	toolMsg := a.Session.Messages[a.Session.Len()-1]
	assert.Equal(t, session.RoleTool, toolMsg.Role)
	assert.Contains(t, toolMsg.Content, "Error: ")
	assert.Contains(t, toolMsg.Content, "backend unavailable")
	assert.Contains(t, toolMsg.Content, "\nOutput: ")
}

func TestTwoToolCallsExecuteInOrder(t *testing.T) {
	client := &llm.MockClient{Scripted: []llm.EventStream{
		streamed(
			// Argument fragments interleave across the two calls.
			llm.Chunk{ToolCalls: []llm.ToolCallChunk{{Index: 0, ID: "call_a", Name: "echo"}}},
			llm.Chunk{ToolCalls: []llm.ToolCallChunk{{Index: 1, ID: "call_b", Name: "echo"}}},
			llm.Chunk{ToolCalls: []llm.ToolCallChunk{{Index: 1, Arguments: `{"value":"second"}`}}},
			llm.Chunk{ToolCalls: []llm.ToolCallChunk{{Index: 0, Arguments: `{"value":"first"}`}}},
			llm.Chunk{FinishReason: "tool_calls"},
		),
	}}
	a := newTestAgent(t, client, &echoTool{})

	events := collect(t, a.Run(context.Background(), "go"))

	var order []string
	for _, ev := range events {
		if ev.Type == EventToolInvocationFinished {
			order = append(order, ev.Result.Output)
		}
	}
	assert.Equal(t, []string{"first", "second"}, order)

	// Both results recorded after the assistant message, in the same order.
	require.Equal(t, 4, a.Session.Len())
	assert.Equal(t, "first", a.Session.Messages[2].Content)
	assert.Equal(t, "second", a.Session.Messages[3].Content)
}

func TestTransportErrorDropsTurn(t *testing.T) {
	cause := errors.Classify(errors.New("rate limited"), errors.KindRateLimited)
	client := &llm.MockClient{Scripted: []llm.EventStream{
		llm.NewErrorStream(errors.Wrapf(cause, "retry budget exhausted after 4 attempts")),
	}}
	a := newTestAgent(t, client)

	events := collect(t, a.Run(context.Background(), "hello"))
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	assert.Equal(t, EventTurnError, last.Type)
	assert.Contains(t, last.Err, "rate limited")

	errorCount := 0
	for _, ev := range events {
		if ev.Type == EventTurnError {
			errorCount++
		}
	}
	assert.Equal(t, 1, errorCount)

	// No assistant message is recorded for a failed turn.
	require.Equal(t, 1, a.Session.Len())
	assert.Equal(t, session.RoleUser, a.Session.Messages[0].Role)
}

func TestPartialTextDiscardedOnMidStreamFailure(t *testing.T) {
	cause := errors.Classify(errors.New("connection reset"), errors.KindConnectivity)
	client := &llm.MockClient{Scripted: []llm.EventStream{
		llm.NewDecoder(llm.NewChunkSlice([]llm.Chunk{{Text: "partial answ"}}, cause)),
	}}
	a := newTestAgent(t, client)

	events := collect(t, a.Run(context.Background(), "hello"))
	last := events[len(events)-1]
	assert.Equal(t, EventTurnError, last.Type)

	// Deltas were observed live but the session keeps none of them.
	assert.Equal(t, EventTextDelta, events[1].Type)
	require.Equal(t, 1, a.Session.Len())
}

func TestPromptModeDeniesMutatingTool(t *testing.T) {
	client := &llm.MockClient{Scripted: []llm.EventStream{
		streamed(
			llm.Chunk{ToolCalls: []llm.ToolCallChunk{{
				Index: 0, ID: "call_1", Name: "echo", Arguments: `{"value":"x"}`,
			}}},
			llm.Chunk{FinishReason: "tool_calls"},
		),
	}}
	a := newTestAgent(t, client, &echoTool{kind: tools.KindShell})
	a.Mode = ModePrompt
	var asked bool
	a.Confirm = func(tc llm.ToolCall) bool {
		asked = true
		return false
	}

	collect(t, a.Run(context.Background(), "run it"))
	assert.True(t, asked)

	toolMsg := a.Session.Messages[a.Session.Len()-1]
	assert.Equal(t, session.RoleTool, toolMsg.Role)
	assert.Contains(t, toolMsg.Content, "denied by user")
}

func TestNoToolsOmitsSchemas(t *testing.T) {
	client := &llm.MockClient{}
	a := newTestAgent(t, client)

	collect(t, a.Run(context.Background(), "hello"))
	require.Len(t, client.Calls, 1)
	// The snapshot carries the user message.
	msgs := client.Calls[0]
	require.NotEmpty(t, msgs)
	assert.Equal(t, "hello", msgs[len(msgs)-1].Content)
}
