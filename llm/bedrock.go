package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"

	"github.com/fpetrakis/vesper/config"
	"github.com/fpetrakis/vesper/errors"
	"github.com/fpetrakis/vesper/session"
	"github.com/fpetrakis/vesper/tools"
)

// BedrockClient is a client for Anthropic models on AWS Bedrock. Bedrock
// requests go through InvokeModel, so responses are always replayed as
// completed streams.
type BedrockClient struct {
	client  *bedrockruntime.Client
	modelID string
	region  string
	retry   RetryPolicy
}

// NewBedrockClient creates a new BedrockClient.
// It requires AWS credentials to be configured in the environment.
func NewBedrockClient(ctx context.Context, cfg *config.Config, modelID string) (*BedrockClient, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}

	client := bedrockruntime.NewFromConfig(awsCfg)

	region := awsCfg.Region
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	return &BedrockClient{
		client:  client,
		modelID: modelID,
		region:  region,
		retry:   NewRetryPolicy(cfg.MaxRetries(), cfg.BaseDelay()),
	}, nil
}

// Stream invokes the model once and replays the whole response as an event
// stream.
func (b *BedrockClient) Stream(ctx context.Context, messages []session.Message, toolSchemas []tools.Schema) EventStream {
	anthropicMessages, systemPrompt := convertMessagesToBedrockFormat(messages)

	requestBody, err := createBedrockRequest(anthropicMessages, systemPrompt, toolSchemas)
	if err != nil {
		return NewErrorStream(errors.Wrapf(err, "failed to create Bedrock request"))
	}

	return b.retry.Stream(ctx, func(ctx context.Context) (ChunkStream, error) {
		resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(b.modelID),
			ContentType: aws.String("application/json"),
			Body:        requestBody,
		})
		if err != nil {
			return nil, classifyBedrockError(err)
		}
		chunks, err := bedrockResponseToChunks(resp.Body)
		if err != nil {
			return nil, err
		}
		return NewChunkSlice(chunks, nil), nil
	})
}

func (b *BedrockClient) Close() error { return nil }

// classifyBedrockError maps AWS SDK errors onto the retry taxonomy.
// Throttling is rate limiting, other modeled service errors are protocol
// faults, everything else is connectivity.
func classifyBedrockError(err error) error {
	var apierr smithy.APIError
	if errors.As(err, &apierr) {
		switch apierr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return errors.Classify(err, errors.KindRateLimited)
		}
		return errors.Classify(err, errors.KindProtocol)
	}
	return errors.Classify(err, errors.KindConnectivity)
}

// convertMessagesToBedrockFormat converts conversation messages to the
// Anthropic-on-Bedrock JSON shape.
func convertMessagesToBedrockFormat(messages []session.Message) ([]map[string]interface{}, string) {
	var anthropicMessages []map[string]interface{}
	var systemPrompt string

	for _, msg := range messages {
		switch msg.Role {
		case session.RoleUser:
			anthropicMessages = append(anthropicMessages, map[string]interface{}{
				"role": "user",
				"content": []map[string]interface{}{
					{
						"type": "text",
						"text": msg.Content,
					},
				},
			})
		case session.RoleAssistant:
			var content []map[string]interface{}
			if msg.Content != "" {
				content = append(content, map[string]interface{}{
					"type": "text",
					"text": msg.Content,
				})
			}
			for _, tc := range msg.ToolCalls {
				content = append(content, map[string]interface{}{
					"type":  "tool_use",
					"id":    tc.ToolCallID,
					"name":  tc.Name,
					"input": tc.Args,
				})
			}
			if len(content) == 0 {
				continue
			}
			anthropicMessages = append(anthropicMessages, map[string]interface{}{
				"role":    "assistant",
				"content": content,
			})
		case session.RoleTool:
			if msg.ToolCallID == "" {
				continue
			}
			anthropicMessages = append(anthropicMessages, map[string]interface{}{
				"role": "user",
				"content": []map[string]interface{}{
					{
						"type":        "tool_result",
						"tool_use_id": msg.ToolCallID,
						"content":     msg.Content,
					},
				},
			})
		case session.RoleSystem:
			systemPrompt = msg.Content
		}
	}

	return anthropicMessages, systemPrompt
}

// createBedrockRequest builds the request body for Anthropic models on
// Bedrock.
func createBedrockRequest(messages []map[string]interface{}, systemPrompt string, toolSchemas []tools.Schema) ([]byte, error) {
	request := map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        anthropicMaxTokens,
		"messages":          messages,
	}

	if systemPrompt != "" {
		request["system"] = systemPrompt
	}

	if len(toolSchemas) > 0 {
		var decls []map[string]interface{}
		for _, s := range toolSchemas {
			schema := s.Parameters
			if schema == nil {
				schema = map[string]interface{}{
					"type":       "object",
					"properties": map[string]interface{}{},
				}
			}
			decls = append(decls, map[string]interface{}{
				"name":         s.Name,
				"description":  s.Description,
				"input_schema": schema,
			})
		}
		request["tools"] = decls
	}

	return json.Marshal(request)
}

// bedrockResponseToChunks converts an InvokeModel response body to the
// provider-neutral chunk sequence.
func bedrockResponseToChunks(body []byte) ([]Chunk, error) {
	var response map[string]interface{}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Classify(errors.Wrapf(err, "failed to unmarshal Bedrock response"), errors.KindProtocol)
	}

	if errMsg, ok := response["error"]; ok {
		return nil, errors.Classify(errors.New("Bedrock API error: %v", errMsg), errors.KindProtocol)
	}

	c := Chunk{}
	if reason, ok := response["stop_reason"].(string); ok {
		c.FinishReason = reason
	}
	if usage, ok := response["usage"].(map[string]interface{}); ok {
		in, _ := usage["input_tokens"].(float64)
		out, _ := usage["output_tokens"].(float64)
		c.Usage = &TokenUsage{
			PromptTokens:     int(in),
			CompletionTokens: int(out),
			TotalTokens:      int(in) + int(out),
		}
	}

	contentArray, _ := response["content"].([]interface{})
	slot := 0
	for _, item := range contentArray {
		itemMap, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		switch itemMap["type"] {
		case "text":
			if text, ok := itemMap["text"].(string); ok {
				c.Text += text
			}
		case "tool_use":
			name, ok := itemMap["name"].(string)
			if !ok {
				continue
			}
			id := fmt.Sprintf("call_%d_%s", slot, name)
			if toolID, ok := itemMap["id"].(string); ok {
				id = toolID
			}
			args := "{}"
			if input, ok := itemMap["input"]; ok {
				if raw, err := json.Marshal(input); err == nil {
					args = string(raw)
				}
			}
			c.ToolCalls = append(c.ToolCalls, ToolCallChunk{
				Index:     slot,
				ID:        id,
				Name:      name,
				Arguments: args,
			})
			slot++
		}
	}
	return []Chunk{c}, nil
}
