package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	apperrors "github.com/parley-ai/parley/pkg/errors"
	"github.com/parley-ai/parley/pkg/session"
)

// OpenAIClient implements Client for the OpenAI Chat Completions API.
type OpenAIClient struct {
	client openai.Client
	model  string
	log    logr.Logger
}

// NewOpenAIClient creates a new OpenAI client. baseURL is optional and
// allows pointing at OpenAI-compatible endpoints.
func NewOpenAIClient(apiKey, model, baseURL string, log logr.Logger) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidConfig, "openai api key is required", nil)
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIClient{
		client: openai.NewClient(opts...),
		model:  model,
		log:    log.WithName("openai"),
	}, nil
}

func (c *OpenAIClient) ModelName() string {
	return c.model
}

func (c *OpenAIClient) Generate(ctx context.Context, messages []*session.Content, config *GenerateConfig) (*Response, error) {
	params, err := c.buildParams(messages, config)
	if err != nil {
		return nil, err
	}
	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classifyOpenAIErr(err)
	}
	if len(completion.Choices) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeModelRequest, "openai returned no choices", nil)
	}
	return openaiMessageToResponse(completion.Choices[0].Message, string(completion.Choices[0].FinishReason)), nil
}

func (c *OpenAIClient) GenerateStream(ctx context.Context, messages []*session.Content, config *GenerateConfig, emit func(delta string)) (*Response, error) {
	params, err := c.buildParams(messages, config)
	if err != nil {
		return nil, err
	}
	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if emit != nil && len(chunk.Choices) > 0 {
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				emit(delta)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, classifyOpenAIErr(err)
	}
	if len(acc.Choices) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeModelRequest, "openai stream returned no choices", nil)
	}
	return openaiMessageToResponse(acc.Choices[0].Message, string(acc.Choices[0].FinishReason)), nil
}

func (c *OpenAIClient) buildParams(messages []*session.Content, config *GenerateConfig) (openai.ChatCompletionNewParams, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
	}
	if config != nil {
		if config.System != "" {
			params.Messages = append(params.Messages, openai.SystemMessage(config.System))
		}
		if config.Temperature != nil {
			params.Temperature = openai.Float(*config.Temperature)
		}
		if config.MaxTokens != nil {
			params.MaxCompletionTokens = openai.Int(int64(*config.MaxTokens))
		}
		for _, tool := range config.Tools {
			params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  openai.FunctionParameters(tool.Parameters),
				},
			})
		}
	}

	for _, content := range messages {
		if err := appendOpenAIMessages(&params, content); err != nil {
			return params, err
		}
	}
	return params, nil
}

func appendOpenAIMessages(params *openai.ChatCompletionNewParams, content *session.Content) error {
	// Tool responses become standalone tool-role messages; assistant tool
	// calls ride on the assistant message itself.
	if content.Role == session.RoleModel {
		assistant := openai.ChatCompletionAssistantMessageParam{}
		if text := content.CombinedText(); text != "" {
			assistant.Content.OfString = openai.String(text)
		}
		for _, part := range content.Parts {
			if part.FunctionCall == nil {
				continue
			}
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				return apperrors.New(apperrors.ErrCodeModelRequest, "encoding tool call args", err)
			}
			assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
				ID: part.FunctionCall.ID,
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      part.FunctionCall.Name,
					Arguments: string(args),
				},
			})
		}
		params.Messages = append(params.Messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		return nil
	}

	for _, part := range content.Parts {
		if part.FunctionResponse == nil {
			continue
		}
		payload, err := json.Marshal(part.FunctionResponse.Response)
		if err != nil {
			return apperrors.New(apperrors.ErrCodeModelRequest, "encoding tool response", err)
		}
		params.Messages = append(params.Messages, openai.ToolMessage(string(payload), part.FunctionResponse.ID))
	}
	if text := content.CombinedText(); text != "" {
		params.Messages = append(params.Messages, openai.UserMessage(text))
	}
	return nil
}

func openaiMessageToResponse(msg openai.ChatCompletionMessage, finishReason string) *Response {
	resp := &Response{
		Content:    &session.Content{Role: session.RoleModel},
		Text:       msg.Content,
		StopReason: finishReason,
	}
	if msg.Content != "" {
		resp.Content.Parts = append(resp.Content.Parts, &session.Part{Text: msg.Content})
	}
	for _, call := range msg.ToolCalls {
		args := map[string]any{}
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			args = map[string]any{}
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: call.ID, Name: call.Function.Name, Args: args})
		resp.Content.Parts = append(resp.Content.Parts, &session.Part{
			FunctionCall: &session.FunctionCall{ID: call.ID, Name: call.Function.Name, Args: args},
		})
	}
	return resp
}

func classifyOpenAIErr(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := strings.ToLower(apiErr.Error())
		if strings.Contains(msg, "maximum context length") || strings.Contains(msg, "context_length_exceeded") {
			return apperrors.New(apperrors.ErrCodeContextWindow, "openai context window exceeded", err)
		}
	}
	return apperrors.New(apperrors.ErrCodeModelRequest, fmt.Sprintf("openai request failed: %v", err), err)
}
