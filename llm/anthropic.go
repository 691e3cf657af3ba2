package llm

import (
	"context"
	"encoding/json"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/rs/zerolog/log"

	"github.com/fpetrakis/vesper/config"
	"github.com/fpetrakis/vesper/errors"
	"github.com/fpetrakis/vesper/session"
	"github.com/fpetrakis/vesper/tools"
)

const anthropicMaxTokens = 4096

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	client    *anthropic.Client
	model     string
	streaming bool
	retry     RetryPolicy
}

// NewAnthropicClient creates a new AnthropicClient.
// It requires the ANTHROPIC_API_KEY environment variable to be set.
func NewAnthropicClient(ctx context.Context, cfg *config.Config, modelName string) (*AnthropicClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
	}

	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(options...)

	return &AnthropicClient{
		client:    &client,
		model:     modelName,
		streaming: cfg.Streaming(),
		retry:     NewRetryPolicy(cfg.MaxRetries(), cfg.BaseDelay()),
	}, nil
}

// Stream issues one Messages request and returns the normalized event
// stream.
func (a *AnthropicClient) Stream(ctx context.Context, messages []session.Message, toolSchemas []tools.Schema) EventStream {
	anthropicMessages, systemPrompt := convertMessagesToAnthropicMessages(messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: anthropicMaxTokens,
		Messages:  anthropicMessages,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: systemPrompt},
		}
	}
	if anthropicTools := convertSchemasToAnthropicTools(toolSchemas); len(anthropicTools) > 0 {
		params.Tools = make([]anthropic.ToolUnionParam, len(anthropicTools))
		for i := range anthropicTools {
			params.Tools[i] = anthropic.ToolUnionParam{OfTool: &anthropicTools[i]}
		}
	}

	if !a.streaming {
		return a.retry.Stream(ctx, func(ctx context.Context) (ChunkStream, error) {
			resp, err := a.client.Messages.New(ctx, params)
			if err != nil {
				return nil, classifyAnthropicError(err)
			}
			return NewChunkSlice(anthropicMessageToChunks(resp), nil), nil
		})
	}

	return a.retry.Stream(ctx, func(ctx context.Context) (ChunkStream, error) {
		s := a.client.Messages.NewStreaming(ctx, params)
		if err := s.Err(); err != nil {
			s.Close()
			return nil, classifyAnthropicError(err)
		}
		return &anthropicChunkStream{stream: s}, nil
	})
}

func (a *AnthropicClient) Close() error { return nil }

// anthropicChunkStream translates Messages API events to the
// provider-neutral chunk sequence. Anthropic identifies content blocks by
// stream index, so tool blocks keep their index as the chunk slot.
type anthropicChunkStream struct {
	stream      *ssestream.Stream[anthropic.MessageStreamEventUnion]
	inputTokens int
}

func (s *anthropicChunkStream) Next() (Chunk, bool) {
	for s.stream.Next() {
		event := s.stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			s.inputTokens = int(ev.Message.Usage.InputTokens)
		case anthropic.ContentBlockStartEvent:
			if block, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				return Chunk{ToolCalls: []ToolCallChunk{{
					Index: int(ev.Index),
					ID:    block.ID,
					Name:  block.Name,
				}}}, true
			}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				return Chunk{Text: delta.Text}, true
			case anthropic.InputJSONDelta:
				return Chunk{ToolCalls: []ToolCallChunk{{
					Index:     int(ev.Index),
					Arguments: delta.PartialJSON,
				}}}, true
			}
		case anthropic.MessageDeltaEvent:
			out := int(ev.Usage.OutputTokens)
			return Chunk{
				FinishReason: string(ev.Delta.StopReason),
				Usage: &TokenUsage{
					PromptTokens:     s.inputTokens,
					CompletionTokens: out,
					TotalTokens:      s.inputTokens + out,
				},
			}, true
		case anthropic.MessageStopEvent:
			// Terminal frame carries nothing the decoder needs.
		}
	}
	return Chunk{}, false
}

func (s *anthropicChunkStream) Err() error {
	if err := s.stream.Err(); err != nil {
		return classifyAnthropicError(err)
	}
	return nil
}

func (s *anthropicChunkStream) Close() error { return s.stream.Close() }

func classifyAnthropicError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		if apierr.StatusCode == 429 {
			return errors.Classify(err, errors.KindRateLimited)
		}
		return errors.Classify(err, errors.KindProtocol)
	}
	return errors.Classify(err, errors.KindConnectivity)
}

// anthropicMessageToChunks replays a non-streaming response as a single
// chunk.
func anthropicMessageToChunks(resp *anthropic.Message) []Chunk {
	c := Chunk{
		FinishReason: string(resp.StopReason),
		Usage: &TokenUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}

	slot := 0
	for _, content := range resp.Content {
		switch block := content.AsAny().(type) {
		case anthropic.TextBlock:
			c.Text += block.Text
		case anthropic.ToolUseBlock:
			c.ToolCalls = append(c.ToolCalls, ToolCallChunk{
				Index:     slot,
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(block.Input),
			})
			slot++
		}
	}
	return []Chunk{c}
}

// convertMessagesToAnthropicMessages converts conversation messages to the
// Anthropic wire format. System messages become the system prompt; the last
// one wins.
func convertMessagesToAnthropicMessages(messages []session.Message) ([]anthropic.MessageParam, string) {
	var anthropicMessages []anthropic.MessageParam
	var systemPrompt string

	for _, msg := range messages {
		switch msg.Role {
		case session.RoleUser:
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		case session.RoleAssistant:
			var contentItems []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				contentItems = append(contentItems, anthropic.ContentBlockParamUnion{
					OfText: &anthropic.TextBlockParam{
						Text: msg.Content,
					},
				})
			}
			for _, tc := range msg.ToolCalls {
				argsBytes, err := json.Marshal(tc.Args)
				if err != nil {
					log.Warn().Str("tool", tc.Name).Err(err).Msg("could not marshal tool call arguments, dropping call from history")
					continue
				}
				contentItems = append(contentItems, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						Type:  "tool_use",
						ID:    tc.ToolCallID,
						Name:  tc.Name,
						Input: argsBytes,
					}})
			}
			if len(contentItems) == 0 {
				continue
			}
			anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: contentItems,
			})
		case session.RoleTool:
			if msg.ToolCallID == "" {
				continue
			}
			anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{{
					OfToolResult: &anthropic.ToolResultBlockParam{
						ToolUseID: msg.ToolCallID,
						Content: []anthropic.ToolResultBlockParamContentUnion{{
							OfText: &anthropic.TextBlockParam{
								Text: msg.Content,
							},
						}},
					},
				},
				}})
		case session.RoleSystem:
			systemPrompt = msg.Content
		}
	}

	return anthropicMessages, systemPrompt
}

// convertSchemasToAnthropicTools converts tool schemas to the Anthropic tool
// declaration format.
func convertSchemasToAnthropicTools(schemas []tools.Schema) []anthropic.ToolParam {
	if len(schemas) == 0 {
		return nil
	}

	var anthropicTools []anthropic.ToolParam
	for _, s := range schemas {
		inputSchema := anthropic.ToolInputSchemaParam{
			Properties: map[string]interface{}{},
		}
		if props, ok := s.Parameters["properties"].(map[string]interface{}); ok {
			inputSchema.Properties = props
		}
		if req, ok := s.Parameters["required"].([]string); ok {
			inputSchema.Required = req
		}
		anthropicTools = append(anthropicTools, anthropic.ToolParam{
			Name:        s.Name,
			Description: anthropic.String(s.Description),
			InputSchema: inputSchema,
		})
	}
	return anthropicTools
}
