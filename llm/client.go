package llm

import (
	"context"
	"fmt"

	"github.com/fpetrakis/vesper/session"
	"github.com/fpetrakis/vesper/tools"
)

// Client is the interface for interacting with a model provider. Stream
// issues one completion request for the given conversation and returns the
// normalized event stream for it. Implementations handle transport retries
// internally; the returned stream reports unrecoverable failures as a
// terminal transport error event.
type Client interface {
	Stream(ctx context.Context, messages []session.Message, toolSchemas []tools.Schema) EventStream
	Close() error
}

// MockClient is a canned-response client for tests and offline runs. Each
// call to Stream pops the next scripted stream; once the script is exhausted
// it parrots the last user message.
type MockClient struct {
	Scripted []EventStream
	// Calls records the message snapshot passed to each Stream call.
	Calls [][]session.Message
}

func (m *MockClient) Stream(ctx context.Context, messages []session.Message, toolSchemas []tools.Schema) EventStream {
	m.Calls = append(m.Calls, messages)
	if len(m.Scripted) > 0 {
		s := m.Scripted[0]
		m.Scripted = m.Scripted[1:]
		return s
	}

	lastUser := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == session.RoleUser {
			lastUser = messages[i].Content
			break
		}
	}
	return NewCompletedStream(CompletedResponse{
		Text:         fmt.Sprintf("I am a mock model. You said: '%s'.", lastUser),
		FinishReason: "stop",
	})
}

func (m *MockClient) Close() error { return nil }
