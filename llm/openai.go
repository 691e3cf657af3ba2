package llm

import (
	"context"
	"encoding/json"
	"os"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/ssestream"
	"github.com/rs/zerolog/log"

	"github.com/fpetrakis/vesper/config"
	"github.com/fpetrakis/vesper/errors"
	"github.com/fpetrakis/vesper/session"
	"github.com/fpetrakis/vesper/tools"
)

// OpenAIClient is a client for the OpenAI Chat Completion API.
type OpenAIClient struct {
	client    *openai.Client
	model     string
	streaming bool
	retry     RetryPolicy
}

// NewOpenAIClient creates a new OpenAIClient. It requires the OPENAI_API_KEY
// environment variable to be set. A custom endpoint can come from the
// base_url config key or the OPENAI_BASE_URL environment variable.
func NewOpenAIClient(ctx context.Context, cfg *config.Config, modelName string) (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}

	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	// The v2 SDK uses functional options for configuration.
	c := openai.NewClient(options...)
	// The &c is required, dn not replace and just use c
	return &OpenAIClient{
		client:    &c,
		model:     modelName,
		streaming: cfg.Streaming(),
		retry:     NewRetryPolicy(cfg.MaxRetries(), cfg.BaseDelay()),
	}, nil
}

// Stream issues one completion request and returns the normalized event
// stream. Request opens are retried per the configured policy.
func (o *OpenAIClient) Stream(ctx context.Context, messages []session.Message, toolSchemas []tools.Schema) EventStream {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: convertMessagesToOpenaiContent(messages),
		Tools:    convertSchemasToOpenAITools(toolSchemas),
	}

	if !o.streaming {
		return o.retry.Stream(ctx, func(ctx context.Context) (ChunkStream, error) {
			resp, err := o.client.Chat.Completions.New(ctx, params)
			if err != nil {
				return nil, classifyOpenAIError(err)
			}
			return NewChunkSlice(completionToChunks(resp), nil), nil
		})
	}

	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}
	return o.retry.Stream(ctx, func(ctx context.Context) (ChunkStream, error) {
		s := o.client.Chat.Completions.NewStreaming(ctx, params)
		// The SDK surfaces request failures through Err before the first
		// chunk; probe here so the retry policy sees them.
		if err := s.Err(); err != nil {
			s.Close()
			return nil, classifyOpenAIError(err)
		}
		return &openaiChunkStream{stream: s}, nil
	})
}

func (o *OpenAIClient) Close() error { return nil }

// openaiChunkStream adapts the SDK's SSE decoder to the provider-neutral
// chunk sequence.
type openaiChunkStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
}

func (s *openaiChunkStream) Next() (Chunk, bool) {
	for s.stream.Next() {
		raw := s.stream.Current()
		c := Chunk{}

		if raw.Usage.TotalTokens > 0 || raw.Usage.PromptTokens > 0 {
			c.Usage = &TokenUsage{
				PromptTokens:     int(raw.Usage.PromptTokens),
				CompletionTokens: int(raw.Usage.CompletionTokens),
				TotalTokens:      int(raw.Usage.TotalTokens),
				CachedTokens:     int(raw.Usage.PromptTokensDetails.CachedTokens),
			}
		}

		if len(raw.Choices) == 0 {
			// Usage-only frames arrive with an empty choice list when
			// include_usage is set.
			if c.Usage != nil {
				return c, true
			}
			continue
		}

		choice := raw.Choices[0]
		c.Text = choice.Delta.Content
		c.FinishReason = choice.FinishReason
		for _, tc := range choice.Delta.ToolCalls {
			c.ToolCalls = append(c.ToolCalls, ToolCallChunk{
				Index:     int(tc.Index),
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		return c, true
	}
	return Chunk{}, false
}

func (s *openaiChunkStream) Err() error {
	if err := s.stream.Err(); err != nil {
		return classifyOpenAIError(err)
	}
	return nil
}

func (s *openaiChunkStream) Close() error { return s.stream.Close() }

// classifyOpenAIError maps SDK errors onto the retry taxonomy. HTTP 429 is
// rate limiting, other API status codes are protocol faults, anything else
// is connectivity.
func classifyOpenAIError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		if apierr.StatusCode == 429 {
			return errors.Classify(err, errors.KindRateLimited)
		}
		return errors.Classify(err, errors.KindProtocol)
	}
	return errors.Classify(err, errors.KindConnectivity)
}

// completionToChunks replays a non-streaming completion as a single chunk so
// both request modes feed the same decoder.
func completionToChunks(resp *openai.ChatCompletion) []Chunk {
	c := Chunk{
		Usage: &TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
			CachedTokens:     int(resp.Usage.PromptTokensDetails.CachedTokens),
		},
	}
	if len(resp.Choices) == 0 {
		c.FinishReason = "stop"
		return []Chunk{c}
	}

	choice := resp.Choices[0]
	c.Text = choice.Message.Content
	c.FinishReason = choice.FinishReason
	for i, tc := range choice.Message.ToolCalls {
		c.ToolCalls = append(c.ToolCalls, ToolCallChunk{
			Index:     i,
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return []Chunk{c}
}

// convertMessagesToOpenaiContent converts conversation messages to the
// OpenAI wire format.
func convertMessagesToOpenaiContent(messages []session.Message) []openai.ChatCompletionMessageParamUnion {
	var chatMessages []openai.ChatCompletionMessageParamUnion
	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			chatMessages = append(chatMessages, openai.SystemMessage(msg.Content))
		case session.RoleAssistant:
			assistantMessage := openai.ChatCompletionMessage{
				Role:    "assistant",
				Content: msg.Content,
			}
			if len(msg.ToolCalls) > 0 {
				var toolCalls []openai.ChatCompletionMessageToolCallUnion
				for _, tc := range msg.ToolCalls {
					argsBytes, err := json.Marshal(tc.Args)
					if err != nil {
						log.Warn().Str("tool", tc.Name).Err(err).Msg("could not marshal tool call arguments, dropping call from history")
						continue
					}
					toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallUnion{
						ID:   tc.ToolCallID,
						Type: "function",
						Function: openai.ChatCompletionMessageFunctionToolCallFunction{
							Name:      tc.Name,
							Arguments: string(argsBytes),
						},
					})
				}
				assistantMessage.ToolCalls = toolCalls
			}
			chatMessages = append(chatMessages, assistantMessage.ToParam())
		case session.RoleTool:
			if msg.ToolCallID == "" {
				log.Warn().Msg("tool message without a tool call id, skipping")
				continue
			}
			chatMessages = append(chatMessages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		case session.RoleUser:
			fallthrough
		default:
			chatMessages = append(chatMessages, openai.UserMessage(msg.Content))
		}
	}
	return chatMessages
}

// convertSchemasToOpenAITools converts tool schemas to the OpenAI tool
// declaration format.
func convertSchemasToOpenAITools(schemas []tools.Schema) []openai.ChatCompletionToolUnionParam {
	if len(schemas) == 0 {
		return nil
	}
	var openAITools []openai.ChatCompletionToolUnionParam
	for _, s := range schemas {
		params := openai.FunctionParameters(s.Parameters)
		if params == nil {
			params = openai.FunctionParameters{
				"type":       "object",
				"properties": map[string]any{},
			}
		}
		openAITools = append(openAITools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        s.Name,
			Description: openai.String(s.Description),
			Parameters:  params,
		}))
	}
	return openAITools
}
