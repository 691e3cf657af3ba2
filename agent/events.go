package agent

import (
	"github.com/fpetrakis/vesper/llm"
	"github.com/fpetrakis/vesper/tools"
)

// EventType identifies one lifecycle moment of a conversation turn.
type EventType string

const (
	// EventTurnStarted opens a turn, after the user message has been
	// recorded.
	EventTurnStarted EventType = "turn_started"
	// EventTextDelta carries one increment of assistant prose.
	EventTextDelta EventType = "text_delta"
	// EventTextFinished closes the assistant's prose for the turn.
	EventTextFinished EventType = "text_finished"
	// EventToolInvocationStarted precedes one tool execution.
	EventToolInvocationStarted EventType = "tool_invocation_started"
	// EventToolInvocationFinished carries one tool execution's outcome.
	EventToolInvocationFinished EventType = "tool_invocation_finished"
	// EventTurnError terminates a failed turn. No further events follow.
	EventTurnError EventType = "turn_error"
	// EventTurnFinished terminates a successful turn. No further events
	// follow.
	EventTurnFinished EventType = "turn_finished"
)

// Event is one lifecycle notification from a running turn. Observers
// receive the full ordered sequence for a turn on the channel Run returns.
type Event struct {
	Type EventType

	// Text is the delta for EventTextDelta and the whole assistant text
	// for EventTextFinished and EventTurnFinished.
	Text string

	// ToolCall identifies the call for the two tool invocation events.
	ToolCall *llm.ToolCall
	// Result is set on EventToolInvocationFinished.
	Result *tools.Result

	// Err is set on EventTurnError.
	Err string

	// Usage is set on EventTurnFinished when the backend reported token
	// accounting.
	Usage *llm.TokenUsage
}

func turnStarted() Event          { return Event{Type: EventTurnStarted} }
func textDelta(text string) Event { return Event{Type: EventTextDelta, Text: text} }
func textFinished(text string) Event {
	return Event{Type: EventTextFinished, Text: text}
}
func toolStarted(tc *llm.ToolCall) Event {
	return Event{Type: EventToolInvocationStarted, ToolCall: tc}
}
func toolFinished(tc *llm.ToolCall, res tools.Result) Event {
	return Event{Type: EventToolInvocationFinished, ToolCall: tc, Result: &res}
}
func turnError(msg string) Event { return Event{Type: EventTurnError, Err: msg} }
func turnFinished(text string, usage *llm.TokenUsage) Event {
	return Event{Type: EventTurnFinished, Text: text, Usage: usage}
}
