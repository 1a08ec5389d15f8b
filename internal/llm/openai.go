package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAICaller talks to the OpenAI chat completion API. It also serves
// OpenAI-compatible endpoints (DeepSeek, local gateways) via baseURL.
type OpenAICaller struct {
	client *openai.Client
	name   string
	logger *zap.Logger
}

// NewOpenAICaller creates an OpenAI-backed Caller. baseURL is optional;
// when set, requests go to that endpoint instead of api.openai.com.
func NewOpenAICaller(apiKey, baseURL string, logger *zap.Logger) (*OpenAICaller, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	name := "openai"
	var client *openai.Client
	if baseURL != "" {
		cfg := openai.DefaultConfig(apiKey)
		cfg.BaseURL = baseURL
		client = openai.NewClientWithConfig(cfg)
		name = "openai-compatible"
	} else {
		client = openai.NewClient(apiKey)
	}
	return &OpenAICaller{client: client, name: name, logger: logger}, nil
}

func (o *OpenAICaller) Name() string { return o.name }

// Call sends one chat completion request. The request's Model must be set.
func (o *OpenAICaller) Call(ctx context.Context, req Request) (Response, error) {
	if req.Model == "" {
		return Response{}, fmt.Errorf("model id is required")
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
	}
	if req.MaxOutputTokens > 0 {
		chatReq.MaxCompletionTokens = req.MaxOutputTokens
	}

	result, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return Response{}, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(result.Choices) == 0 {
		return Response{}, ErrEmptyCompletion
	}

	text := strings.TrimSpace(result.Choices[0].Message.Content)
	if text == "" {
		return Response{}, ErrEmptyCompletion
	}

	resp := Response{
		Text:         text,
		InputTokens:  result.Usage.PromptTokens,
		OutputTokens: result.Usage.CompletionTokens,
		Model:        req.Model,
	}
	o.logger.Debug("chat completion finished",
		zap.String("provider", o.name),
		zap.String("model", req.Model),
		zap.String("finish_reason", string(result.Choices[0].FinishReason)),
		zap.Int("input_tokens", resp.InputTokens),
		zap.Int("output_tokens", resp.OutputTokens))
	return resp, nil
}
