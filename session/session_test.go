package session

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSnapshotPrependsSystemPrompt(t *testing.T) {
	s := &Session{Name: "t", SystemPrompt: "be helpful"}
	s.AddMessage(Message{Role: RoleUser, Content: "hi"})

	snap := s.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d messages, want 2", len(snap))
	}
	if snap[0].Role != RoleSystem || snap[0].Content != "be helpful" {
		t.Errorf("leading message = %+v, want synthesized system prompt", snap[0])
	}
	if s.Len() != 1 {
		t.Errorf("stored log has %d messages, want 1 (system prompt must not be stored)", s.Len())
	}
}

func TestSnapshotWithoutSystemPrompt(t *testing.T) {
	s := &Session{Name: "t"}
	s.AddMessage(Message{Role: RoleUser, Content: "hi"})

	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].Role != RoleUser {
		t.Errorf("snapshot = %+v, want just the user message", snap)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := &Session{Name: "t"}
	s.AddMessage(Message{Role: RoleUser, Content: "one"})
	snap := s.Snapshot()
	snap[0].Content = "mutated"
	if s.Messages[0].Content != "one" {
		t.Error("mutating a snapshot changed the stored log")
	}
}

func TestAddMessageStampsTokenCount(t *testing.T) {
	s := &Session{Name: "t"}
	s.AddMessage(Message{Role: RoleUser, Content: "hello there, world"})
	if s.Messages[0].TokenCount < 1 {
		t.Errorf("token count = %d, want >= 1", s.Messages[0].TokenCount)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	oldWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(oldWd) }()

	s, err := New("roundtrip")
	if err != nil {
		t.Fatal(err)
	}
	s.SystemPrompt = "sp"
	s.AddMessage(Message{Role: RoleUser, Content: "hello"})
	s.AddMessage(Message{
		Role:    RoleAssistant,
		Content: "calling a tool",
		ToolCalls: []ToolCall{
			{ToolCallID: "call_1", Name: "read_file", Args: map[string]interface{}{"path": "a.txt"}},
		},
	})
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(".vesper", "sessions", "roundtrip.json")); err != nil {
		t.Fatalf("session file not written: %v", err)
	}

	loaded, err := Load("roundtrip")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.SystemPrompt != "sp" || loaded.Len() != 2 {
		t.Errorf("loaded session = %+v", loaded)
	}
	if loaded.Messages[1].ToolCalls[0].Name != "read_file" {
		t.Errorf("tool call not round-tripped: %+v", loaded.Messages[1])
	}
}
