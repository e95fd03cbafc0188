package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/go-logr/logr"

	apperrors "github.com/parley-ai/parley/pkg/errors"
	"github.com/parley-ai/parley/pkg/session"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicClient implements Client for the Anthropic Messages API.
type AnthropicClient struct {
	client anthropic.Client
	model  string
	log    logr.Logger
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey, model string, log logr.Logger) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidConfig, "anthropic api key is required", nil)
	}
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		log:    log.WithName("anthropic"),
	}, nil
}

func (c *AnthropicClient) ModelName() string {
	return c.model
}

func (c *AnthropicClient) Generate(ctx context.Context, messages []*session.Content, config *GenerateConfig) (*Response, error) {
	params, err := c.buildParams(messages, config)
	if err != nil {
		return nil, err
	}
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyAnthropicErr(err)
	}
	return anthropicMessageToResponse(msg), nil
}

func (c *AnthropicClient) GenerateStream(ctx context.Context, messages []*session.Content, config *GenerateConfig, emit func(delta string)) (*Response, error) {
	params, err := c.buildParams(messages, config)
	if err != nil {
		return nil, err
	}
	stream := c.client.Messages.NewStreaming(ctx, params)
	acc := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := acc.Accumulate(event); err != nil {
			return nil, apperrors.New(apperrors.ErrCodeModelRequest, "accumulating stream event", err)
		}
		if emit != nil {
			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if ev.Delta.Text != "" {
					emit(ev.Delta.Text)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, classifyAnthropicErr(err)
	}
	return anthropicMessageToResponse(&acc), nil
}

func (c *AnthropicClient) buildParams(messages []*session.Content, config *GenerateConfig) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: defaultAnthropicMaxTokens,
	}
	if config != nil {
		if config.MaxTokens != nil {
			params.MaxTokens = int64(*config.MaxTokens)
		}
		if config.Temperature != nil {
			params.Temperature = anthropic.Float(*config.Temperature)
		}
		if len(config.StopSequences) > 0 {
			params.StopSequences = config.StopSequences
		}
		if config.System != "" {
			params.System = []anthropic.TextBlockParam{{Text: config.System}}
		}
		for _, tool := range config.Tools {
			params.Tools = append(params.Tools, anthropic.ToolUnionParam{
				OfTool: &anthropic.ToolParam{
					Name:        tool.Name,
					Description: anthropic.String(tool.Description),
					InputSchema: anthropic.ToolInputSchemaParam{
						Properties: tool.Parameters["properties"],
					},
				},
			})
		}
	}

	for _, content := range messages {
		var blocks []anthropic.ContentBlockParamUnion
		for _, part := range content.Parts {
			switch {
			case part.FunctionCall != nil:
				input, err := json.Marshal(part.FunctionCall.Args)
				if err != nil {
					return params, apperrors.New(apperrors.ErrCodeModelRequest, "encoding tool call args", err)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(part.FunctionCall.ID, json.RawMessage(input), part.FunctionCall.Name))
			case part.FunctionResponse != nil:
				payload, err := json.Marshal(part.FunctionResponse.Response)
				if err != nil {
					return params, apperrors.New(apperrors.ErrCodeModelRequest, "encoding tool response", err)
				}
				blocks = append(blocks, anthropic.NewToolResultBlock(part.FunctionResponse.ID, string(payload), false))
			case part.Text != "":
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		role := anthropic.MessageParamRoleUser
		if content.Role == session.RoleModel {
			role = anthropic.MessageParamRoleAssistant
		}
		params.Messages = append(params.Messages, anthropic.MessageParam{Role: role, Content: blocks})
	}
	return params, nil
}

func anthropicMessageToResponse(msg *anthropic.Message) *Response {
	resp := &Response{
		Content:    &session.Content{Role: session.RoleModel},
		StopReason: string(msg.StopReason),
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
			resp.Content.Parts = append(resp.Content.Parts, &session.Part{Text: b.Text})
		case anthropic.ToolUseBlock:
			args := map[string]any{}
			if err := json.Unmarshal([]byte(b.JSON.Input.Raw()), &args); err != nil {
				args = map[string]any{}
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: b.ID, Name: b.Name, Args: args})
			resp.Content.Parts = append(resp.Content.Parts, &session.Part{
				FunctionCall: &session.FunctionCall{ID: b.ID, Name: b.Name, Args: args},
			})
		}
	}
	resp.Text = text.String()
	return resp
}

func classifyAnthropicErr(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		msg := strings.ToLower(apiErr.Error())
		if strings.Contains(msg, "prompt is too long") || strings.Contains(msg, "context window") {
			return apperrors.New(apperrors.ErrCodeContextWindow, "anthropic context window exceeded", err)
		}
	}
	return apperrors.New(apperrors.ErrCodeModelRequest, fmt.Sprintf("anthropic request failed: %v", err), err)
}
