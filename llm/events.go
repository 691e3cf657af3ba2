package llm

import "encoding/json"

// StreamEventType tags the events produced by a decoding pass.
type StreamEventType string

const (
	// StreamTextFragment carries an incremental piece of assistant text.
	StreamTextFragment StreamEventType = "text_fragment"
	// StreamToolCallStarted fires as soon as a tool call's name is known,
	// before its arguments have fully arrived.
	StreamToolCallStarted StreamEventType = "tool_call_started"
	// StreamToolCallArgumentsDelta carries an increment of a tool call's
	// argument text.
	StreamToolCallArgumentsDelta StreamEventType = "tool_call_arguments_delta"
	// StreamToolCallFinished carries a fully assembled tool call.
	StreamToolCallFinished StreamEventType = "tool_call_finished"
	// StreamMessageFinished terminates a successful decoding pass.
	StreamMessageFinished StreamEventType = "message_finished"
	// StreamTransportError terminates a failed decoding pass.
	StreamTransportError StreamEventType = "transport_error"
)

// ToolCall is a fully assembled tool invocation request. Immutable once
// produced.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// ToolCallDelta is an incremental piece of a tool call still being
// assembled.
type ToolCallDelta struct {
	CallID         string
	Name           string
	ArgumentsDelta string
}

// TokenUsage is the backend's token accounting for one completion. Absent
// (nil) when the backend omits it.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	CachedTokens     int `json:"cached_tokens"`
}

// Add returns the component-wise sum of two usages.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
		CachedTokens:     u.CachedTokens + other.CachedTokens,
	}
}

// StreamEvent is one event of a decoding pass. Type selects which of the
// payload fields are set. Exactly one terminal event (StreamMessageFinished
// or StreamTransportError) ends every pass.
type StreamEvent struct {
	Type         StreamEventType
	Text         string         // StreamTextFragment
	ToolDelta    *ToolCallDelta // StreamToolCallStarted, StreamToolCallArgumentsDelta
	ToolCall     *ToolCall      // StreamToolCallFinished
	FinishReason string         // StreamMessageFinished
	Usage        *TokenUsage    // StreamMessageFinished
	Err          string         // StreamTransportError
}

// EventStream is a lazily consumed, finite, forward-only sequence of stream
// events. The second return value is false once the sequence is exhausted,
// which happens right after the terminal event.
type EventStream interface {
	Recv() (StreamEvent, bool)
	Close() error
}

// ParseToolCallArguments decodes the argument text the backend streamed for
// a tool call. Backends serialize arguments as a JSON object; when the
// concatenated text does not parse, the raw text is preserved under
// "raw_arguments" so a malformed call still reaches the loop as data.
func ParseToolCallArguments(text string) map[string]interface{} {
	if text == "" {
		return map[string]interface{}{}
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(text), &args); err != nil || args == nil {
		return map[string]interface{}{"raw_arguments": text}
	}
	return args
}
