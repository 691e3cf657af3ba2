package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/fpetrakis/vesper/config"
	"github.com/fpetrakis/vesper/errors"
	"github.com/fpetrakis/vesper/session"
	"github.com/fpetrakis/vesper/tools"
)

// GeminiClient is a client for the Google Gemini API. Responses come back
// whole from SendMessage and are replayed as completed streams.
type GeminiClient struct {
	client *genai.Client
	model  *genai.GenerativeModel
	retry  RetryPolicy
}

// NewGeminiClient creates a new GeminiClient.
// It requires the GEMINI_API_KEY environment variable to be set.
func NewGeminiClient(ctx context.Context, cfg *config.Config, modelName string) (*GeminiClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}

	return &GeminiClient{
		client: client,
		model:  client.GenerativeModel(modelName),
		retry:  NewRetryPolicy(cfg.MaxRetries(), cfg.BaseDelay()),
	}, nil
}

// Stream sends the conversation to Gemini and replays the response as an
// event stream.
func (g *GeminiClient) Stream(ctx context.Context, messages []session.Message, toolSchemas []tools.Schema) EventStream {
	history, systemPrompt := convertMessagesToGeminiContent(messages)
	if len(history) == 0 {
		return NewErrorStream(errors.New("no messages to send to Gemini"))
	}

	g.model.Tools = convertSchemasToGeminiTools(toolSchemas)
	if systemPrompt != "" {
		g.model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemPrompt)},
		}
	}

	// The last message is the new prompt.
	lastMessage := history[len(history)-1]
	priorHistory := history[:len(history)-1]

	return g.retry.Stream(ctx, func(ctx context.Context) (ChunkStream, error) {
		chatSession := g.model.StartChat()
		chatSession.History = priorHistory
		resp, err := chatSession.SendMessage(ctx, lastMessage.Parts...)
		if err != nil {
			return nil, classifyGeminiError(err)
		}
		chunks, err := geminiResponseToChunks(resp)
		if err != nil {
			return nil, err
		}
		return NewChunkSlice(chunks, nil), nil
	})
}

func (g *GeminiClient) Close() error { return g.client.Close() }

func classifyGeminiError(err error) error {
	var apierr *googleapi.Error
	if errors.As(err, &apierr) {
		if apierr.Code == 429 {
			return errors.Classify(err, errors.KindRateLimited)
		}
		return errors.Classify(err, errors.KindProtocol)
	}
	return errors.Classify(err, errors.KindConnectivity)
}

// convertMessagesToGeminiContent converts conversation messages to Gemini
// content. Tool results become functionResponse parts in a user-role turn.
func convertMessagesToGeminiContent(messages []session.Message) ([]*genai.Content, string) {
	var contents []*genai.Content
	var systemPrompt string

	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			systemPrompt = msg.Content
		case session.RoleAssistant:
			var parts []genai.Part
			if msg.Content != "" {
				parts = append(parts, genai.Text(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, genai.FunctionCall{
					Name: tc.Name,
					Args: tc.Args,
				})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: "model", Parts: parts})
		case session.RoleTool:
			// Synthesized call IDs look like "call_<slot>_<tool name>".
			name := msg.ToolCallID
			if parts := strings.SplitN(name, "_", 3); len(parts) == 3 && parts[0] == "call" {
				name = parts[2]
			}
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []genai.Part{genai.FunctionResponse{
					Name:     name,
					Response: map[string]interface{}{"output": msg.Content},
				}},
			})
		case session.RoleUser:
			fallthrough
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(msg.Content)},
			})
		}
	}
	return contents, systemPrompt
}

// convertSchemasToGeminiTools converts tool schemas to Gemini function
// declarations.
func convertSchemasToGeminiTools(schemas []tools.Schema) []*genai.Tool {
	if len(schemas) == 0 {
		return nil
	}
	var funcDecls []*genai.FunctionDeclaration
	for _, s := range schemas {
		funcDecls = append(funcDecls, &genai.FunctionDeclaration{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  jsonSchemaToGenai(s.Parameters),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: funcDecls}}
}

// jsonSchemaToGenai maps a JSON-Schema-shaped map onto the genai schema
// type. Unknown types fall back to string.
func jsonSchemaToGenai(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}

	out := &genai.Schema{}
	switch schema["type"] {
	case "object":
		out.Type = genai.TypeObject
		if props, ok := schema["properties"].(map[string]interface{}); ok {
			out.Properties = make(map[string]*genai.Schema, len(props))
			for name, raw := range props {
				if sub, ok := raw.(map[string]interface{}); ok {
					out.Properties[name] = jsonSchemaToGenai(sub)
				}
			}
		}
		switch req := schema["required"].(type) {
		case []string:
			out.Required = req
		case []interface{}:
			for _, r := range req {
				if name, ok := r.(string); ok {
					out.Required = append(out.Required, name)
				}
			}
		}
	case "integer":
		out.Type = genai.TypeInteger
	case "number":
		out.Type = genai.TypeNumber
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
		if items, ok := schema["items"].(map[string]interface{}); ok {
			out.Items = jsonSchemaToGenai(items)
		}
	default:
		out.Type = genai.TypeString
	}
	if desc, ok := schema["description"].(string); ok {
		out.Description = desc
	}
	return out
}

// geminiResponseToChunks converts one whole Gemini response to the
// provider-neutral chunk sequence. Gemini does not assign call IDs, so they
// are synthesized from the call's position and name.
func geminiResponseToChunks(resp *genai.GenerateContentResponse) ([]Chunk, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.Classify(errors.New("received an empty response from Gemini"), errors.KindProtocol)
	}

	candidate := resp.Candidates[0]
	c := Chunk{FinishReason: geminiFinishReason(candidate.FinishReason)}

	if resp.UsageMetadata != nil {
		c.Usage = &TokenUsage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	slot := 0
	for _, part := range candidate.Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			c.Text += string(v)
		case genai.FunctionCall:
			args := "{}"
			if raw, err := json.Marshal(v.Args); err == nil {
				args = string(raw)
			}
			c.ToolCalls = append(c.ToolCalls, ToolCallChunk{
				Index:     slot,
				ID:        fmt.Sprintf("call_%d_%s", slot, v.Name),
				Name:      v.Name,
				Arguments: args,
			})
			slot++
		}
	}
	return []Chunk{c}, nil
}

func geminiFinishReason(r genai.FinishReason) string {
	switch r {
	case genai.FinishReasonStop, genai.FinishReasonUnspecified:
		return "stop"
	case genai.FinishReasonMaxTokens:
		return "length"
	default:
		return strings.ToLower(r.String())
	}
}
