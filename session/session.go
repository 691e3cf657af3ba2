package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fpetrakis/vesper/textutil"
)

// Message roles. The log is ordered and append-only; a message is never
// mutated after it is appended.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall records a tool invocation an assistant message requested. It is
// kept on the message so provider adapters can replay tool-use turns
// wire-faithfully.
type ToolCall struct {
	ToolCallID string                 `json:"tool_call_id"`
	Name       string                 `json:"name"`
	Args       map[string]interface{} `json:"args"`
}

type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set on tool-role messages
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // set on assistant messages
	TokenCount int        `json:"token_count,omitempty"`
}

type Session struct {
	Name          string    `json:"name"`
	SystemPrompt  string    `json:"system_prompt,omitempty"`
	Messages      []Message `json:"messages"`
	Mode          string    `json:"mode,omitempty"`
	Toolset       string    `json:"toolset,omitempty"`
	ToolVerbosity string    `json:"tool_verbosity,omitempty"`
	Acp           bool      `json:"acp,omitempty"`
	path          string
}

// New creates a new session.
func New(name string) (*Session, error) {
	path, err := getSessionPath(name)
	if err != nil {
		return nil, err
	}
	return &Session{
		Name:     name,
		Messages: []Message{},
		path:     path,
	}, nil
}

// Load loads an existing session from disk.
func Load(name string) (*Session, error) {
	path, err := getSessionPath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read session file %s: %w", path, err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("could not parse session file %s: %w", path, err)
	}
	s.path = path
	return &s, nil
}

// Save writes the current session state to disk.
func (s *Session) Save() error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}
	return os.WriteFile(s.path, data, 0644)
}

// AddMessage appends a message to the session history, stamping it with a
// token count for later context budgeting.
func (s *Session) AddMessage(msg Message) {
	if msg.TokenCount == 0 && msg.Content != "" {
		msg.TokenCount = textutil.CountTokens(msg.Content)
	}
	s.Messages = append(s.Messages, msg)
}

// Snapshot returns the ordered message log as it should be sent to the
// model. When a system prompt is configured, a synthesized leading system
// message is prepended; the stored log itself never contains it.
func (s *Session) Snapshot() []Message {
	if s.SystemPrompt == "" {
		return append([]Message(nil), s.Messages...)
	}
	out := make([]Message, 0, len(s.Messages)+1)
	out = append(out, Message{Role: RoleSystem, Content: s.SystemPrompt})
	return append(out, s.Messages...)
}

// Len returns the number of messages in the log, excluding the synthesized
// system message.
func (s *Session) Len() int { return len(s.Messages) }

func getSessionPath(name string) (string, error) {
	sessionDir := filepath.Join(".vesper", "sessions")
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return "", fmt.Errorf("could not create session directory: %w", err)
	}
	return filepath.Join(sessionDir, fmt.Sprintf("%s.json", name)), nil
}
