package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpetrakis/vesper/errors"
	"github.com/fpetrakis/vesper/session"
	"github.com/fpetrakis/vesper/tools"
)

func TestConvertMessagesToBedrockFormat(t *testing.T) {
	messages := []session.Message{
		{Role: session.RoleSystem, Content: "Be terse."},
		{Role: session.RoleUser, Content: "Hello, world!"},
		{
			Role:    session.RoleAssistant,
			Content: "Let me check.",
			ToolCalls: []session.ToolCall{{
				ToolCallID: "call_1",
				Name:       "read_file",
				Args:       map[string]interface{}{"path": "a.txt"},
			}},
		},
		{Role: session.RoleTool, Content: "file contents", ToolCallID: "call_1"},
	}

	result, systemPrompt := convertMessagesToBedrockFormat(messages)
	assert.Equal(t, "Be terse.", systemPrompt)
	require.Len(t, result, 3)

	assert.Equal(t, "user", result[0]["role"])
	assert.Equal(t, "assistant", result[1]["role"])

	// Tool results go back as user-role tool_result blocks.
	assert.Equal(t, "user", result[2]["role"])
	content := result[2]["content"].([]map[string]interface{})
	require.Len(t, content, 1)
	assert.Equal(t, "tool_result", content[0]["type"])
	assert.Equal(t, "call_1", content[0]["tool_use_id"])
}

func TestCreateBedrockRequest(t *testing.T) {
	messages := []map[string]interface{}{
		{
			"role": "user",
			"content": []map[string]interface{}{
				{"type": "text", "text": "Hello!"},
			},
		},
	}

	body, err := createBedrockRequest(messages, "", nil)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.NotContains(t, decoded, "tools")
	assert.NotContains(t, decoded, "system")
	assert.Equal(t, "bedrock-2023-05-31", decoded["anthropic_version"])

	schemas := []tools.Schema{{
		Name:        "read_file",
		Description: "Reads a file",
		Parameters: tools.ObjectSchema(map[string]interface{}{
			"path": map[string]interface{}{"type": "string"},
		}, "path"),
	}}

	body, err = createBedrockRequest(messages, "Be terse.", schemas)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "Be terse.", decoded["system"])

	decls := decoded["tools"].([]interface{})
	require.Len(t, decls, 1)
	decl := decls[0].(map[string]interface{})
	assert.Equal(t, "read_file", decl["name"])
	schema := decl["input_schema"].(map[string]interface{})
	assert.Equal(t, "object", schema["type"])
}

func TestBedrockResponseToChunks(t *testing.T) {
	body := []byte(`{
		"content": [
			{"type": "text", "text": "Reading it now."},
			{"type": "tool_use", "id": "toolu_01", "name": "read_file", "input": {"path": "a.txt"}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 12, "output_tokens": 34}
	}`)

	chunks, err := bedrockResponseToChunks(body)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	c := chunks[0]
	assert.Equal(t, "Reading it now.", c.Text)
	assert.Equal(t, "tool_use", c.FinishReason)
	require.NotNil(t, c.Usage)
	assert.Equal(t, 12, c.Usage.PromptTokens)
	assert.Equal(t, 46, c.Usage.TotalTokens)

	require.Len(t, c.ToolCalls, 1)
	assert.Equal(t, "toolu_01", c.ToolCalls[0].ID)
	assert.Equal(t, "read_file", c.ToolCalls[0].Name)
	assert.JSONEq(t, `{"path":"a.txt"}`, c.ToolCalls[0].Arguments)
}

func TestBedrockResponseError(t *testing.T) {
	_, err := bedrockResponseToChunks([]byte(`{"error": "model not found"}`))
	require.Error(t, err)
	assert.Equal(t, errors.KindProtocol, errors.KindOf(err))
}
