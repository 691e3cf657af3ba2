package llm

// CompletedResponse is a whole, already-finished completion as returned by
// a non-streaming backend call. It is replayed through the same event
// contract as a streamed response: at most one text fragment, pre-finished
// tool calls, one message-finished terminal event, zero partial events.
type CompletedResponse struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        *TokenUsage
}

type completedStream struct {
	events []StreamEvent
	pos    int
}

// NewCompletedStream converts a finished response into an event stream
// without going through the incremental assembler.
func NewCompletedStream(resp CompletedResponse) EventStream {
	var events []StreamEvent
	if resp.Text != "" {
		events = append(events, StreamEvent{Type: StreamTextFragment, Text: resp.Text})
	}
	for i := range resp.ToolCalls {
		tc := resp.ToolCalls[i]
		events = append(events, StreamEvent{Type: StreamToolCallFinished, ToolCall: &tc})
	}
	events = append(events, StreamEvent{
		Type:         StreamMessageFinished,
		FinishReason: resp.FinishReason,
		Usage:        resp.Usage,
	})
	return &completedStream{events: events}
}

// NewErrorStream yields a single transport-error terminal event. Used when
// a request could not be opened at all, including after retry exhaustion.
func NewErrorStream(err error) EventStream {
	return &completedStream{events: []StreamEvent{{Type: StreamTransportError, Err: err.Error()}}}
}

func (s *completedStream) Recv() (StreamEvent, bool) {
	if s.pos >= len(s.events) {
		return StreamEvent{}, false
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, true
}

func (s *completedStream) Close() error { return nil }
