package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpetrakis/vesper/errors"
)

func drain(t *testing.T, s EventStream) []StreamEvent {
	t.Helper()
	var events []StreamEvent
	for {
		ev, ok := s.Recv()
		if !ok {
			break
		}
		events = append(events, ev)
	}
	return events
}

func eventTypes(events []StreamEvent) []StreamEventType {
	types := make([]StreamEventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestDecoderTextOnly(t *testing.T) {
	src := NewChunkSlice([]Chunk{
		{Text: "Hel"},
		{Text: "lo"},
		{FinishReason: "stop", Usage: &TokenUsage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7}},
	}, nil)

	events := drain(t, NewDecoder(src))
	assert.Equal(t, []StreamEventType{
		StreamTextFragment,
		StreamTextFragment,
		StreamMessageFinished,
	}, eventTypes(events))

	assert.Equal(t, "Hel", events[0].Text)
	assert.Equal(t, "lo", events[1].Text)

	final := events[2]
	assert.Equal(t, "stop", final.FinishReason)
	require.NotNil(t, final.Usage)
	assert.Equal(t, 7, final.Usage.TotalTokens)
}

// Splitting the same payload into different chunk boundaries must produce
// identical assembled tool calls.
func TestDecoderConcatenationInvariance(t *testing.T) {
	coarse := NewChunkSlice([]Chunk{
		{ToolCalls: []ToolCallChunk{{Index: 0, ID: "call_1", Name: "read_file", Arguments: `{"path":"a.txt"}`}}},
		{FinishReason: "tool_calls"},
	}, nil)
	fine := NewChunkSlice([]Chunk{
		{ToolCalls: []ToolCallChunk{{Index: 0, ID: "call_1", Name: "read_file"}}},
		{ToolCalls: []ToolCallChunk{{Index: 0, Arguments: `{"path"`}}},
		{ToolCalls: []ToolCallChunk{{Index: 0, Arguments: `:"a.txt"}`}}},
		{FinishReason: "tool_calls"},
	}, nil)

	finishedOf := func(events []StreamEvent) *ToolCall {
		for _, ev := range events {
			if ev.Type == StreamToolCallFinished {
				return ev.ToolCall
			}
		}
		return nil
	}

	a := finishedOf(drain(t, NewDecoder(coarse)))
	b := finishedOf(drain(t, NewDecoder(fine)))
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.Equal(t, a, b)
	assert.Equal(t, map[string]interface{}{"path": "a.txt"}, a.Arguments)
}

func TestDecoderInterleavedCalls(t *testing.T) {
	src := NewChunkSlice([]Chunk{
		{ToolCalls: []ToolCallChunk{{Index: 0, ID: "call_x", Name: "x"}}},
		{ToolCalls: []ToolCallChunk{{Index: 1, ID: "call_y", Name: "y"}}},
		{ToolCalls: []ToolCallChunk{{Index: 0, Arguments: `{"a":`}}},
		{ToolCalls: []ToolCallChunk{{Index: 1, Arguments: `{}`}}},
		{ToolCalls: []ToolCallChunk{{Index: 0, Arguments: `1`}}},
		{ToolCalls: []ToolCallChunk{{Index: 0, Arguments: `}`}}},
		{FinishReason: "tool_calls"},
	}, nil)

	events := drain(t, NewDecoder(src))
	assert.Equal(t, []StreamEventType{
		StreamToolCallStarted,
		StreamToolCallStarted,
		StreamToolCallArgumentsDelta,
		StreamToolCallArgumentsDelta,
		StreamToolCallArgumentsDelta,
		StreamToolCallArgumentsDelta,
		StreamToolCallFinished,
		StreamToolCallFinished,
		StreamMessageFinished,
	}, eventTypes(events))

	assert.Equal(t, "x", events[0].ToolDelta.Name)
	assert.Equal(t, "y", events[1].ToolDelta.Name)

	// Finalization follows index order, not completion order.
	first, second := events[6].ToolCall, events[7].ToolCall
	assert.Equal(t, "x", first.Name)
	assert.Equal(t, map[string]interface{}{"a": float64(1)}, first.Arguments)
	assert.Equal(t, "y", second.Name)
	assert.Equal(t, map[string]interface{}{}, second.Arguments)
}

func TestDecoderStartedOnceDespiteRepeatedName(t *testing.T) {
	src := NewChunkSlice([]Chunk{
		{ToolCalls: []ToolCallChunk{{Index: 0, Name: "grep"}}},
		{ToolCalls: []ToolCallChunk{{Index: 0, Name: "grep", Arguments: `{}`}}},
		{FinishReason: "tool_calls"},
	}, nil)

	events := drain(t, NewDecoder(src))
	started := 0
	for _, ev := range events {
		if ev.Type == StreamToolCallStarted {
			started++
		}
	}
	assert.Equal(t, 1, started)
}

func TestDecoderMalformedArgumentsFallback(t *testing.T) {
	src := NewChunkSlice([]Chunk{
		{ToolCalls: []ToolCallChunk{{Index: 0, ID: "call_1", Name: "shell", Arguments: `{"cmd": unterminated`}}},
		{FinishReason: "tool_calls"},
	}, nil)

	events := drain(t, NewDecoder(src))
	var finished *ToolCall
	for _, ev := range events {
		if ev.Type == StreamToolCallFinished {
			finished = ev.ToolCall
		}
	}
	require.NotNil(t, finished)
	assert.Equal(t, map[string]interface{}{"raw_arguments": `{"cmd": unterminated`}, finished.Arguments)
}

func TestDecoderTransportFailureMidStream(t *testing.T) {
	cause := errors.Classify(errors.New("connection reset"), errors.KindConnectivity)
	src := NewChunkSlice([]Chunk{
		{Text: "partial "},
		{ToolCalls: []ToolCallChunk{{Index: 0, Name: "x", Arguments: `{"a"`}}},
	}, cause)

	events := drain(t, NewDecoder(src))
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	assert.Equal(t, StreamTransportError, last.Type)
	assert.Contains(t, last.Err, "connection reset")

	// The failure terminates the pass; no synthetic completion of the
	// half-assembled call.
	for _, ev := range events[:len(events)-1] {
		assert.NotEqual(t, StreamToolCallFinished, ev.Type)
		assert.NotEqual(t, StreamMessageFinished, ev.Type)
	}
}

// Exactly one terminal event, and Recv keeps reporting exhaustion after it.
func TestDecoderSingleTerminalEvent(t *testing.T) {
	src := NewChunkSlice([]Chunk{{Text: "hi"}, {FinishReason: "stop"}}, nil)
	d := NewDecoder(src)

	terminal := 0
	for {
		ev, ok := d.Recv()
		if !ok {
			break
		}
		if ev.Type == StreamMessageFinished || ev.Type == StreamTransportError {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)

	_, ok := d.Recv()
	assert.False(t, ok)
}

func TestDecoderUsageAccumulates(t *testing.T) {
	src := NewChunkSlice([]Chunk{
		{Text: "a", Usage: &TokenUsage{PromptTokens: 10}},
		{Text: "b", Usage: &TokenUsage{CompletionTokens: 3, TotalTokens: 13, CachedTokens: 4}},
		{FinishReason: "stop"},
	}, nil)

	events := drain(t, NewDecoder(src))
	final := events[len(events)-1]
	require.Equal(t, StreamMessageFinished, final.Type)
	require.NotNil(t, final.Usage)
	assert.Equal(t, 10, final.Usage.PromptTokens)
	assert.Equal(t, 3, final.Usage.CompletionTokens)
	assert.Equal(t, 13, final.Usage.TotalTokens)
	assert.Equal(t, 4, final.Usage.CachedTokens)
}

func TestParseToolCallArguments(t *testing.T) {
	assert.Equal(t, map[string]interface{}{}, ParseToolCallArguments(""))
	assert.Equal(t, map[string]interface{}{"k": "v"}, ParseToolCallArguments(`{"k":"v"}`))
	assert.Equal(t, map[string]interface{}{"raw_arguments": "[1,2]"}, ParseToolCallArguments("[1,2]"))
}

func TestCompletedStream(t *testing.T) {
	s := NewCompletedStream(CompletedResponse{
		Text: "done",
		ToolCalls: []ToolCall{{
			ID: "call_1", Name: "x", Arguments: map[string]interface{}{},
		}},
		FinishReason: "tool_calls",
		Usage:        &TokenUsage{TotalTokens: 9},
	})

	events := drain(t, s)
	assert.Equal(t, []StreamEventType{
		StreamTextFragment,
		StreamToolCallFinished,
		StreamMessageFinished,
	}, eventTypes(events))
	assert.Equal(t, "done", events[0].Text)
	assert.Equal(t, "x", events[1].ToolCall.Name)
	assert.Equal(t, 9, events[2].Usage.TotalTokens)
}
