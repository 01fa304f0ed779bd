package llm

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient talks to OpenAI or any OpenAI-compatible server such as Ollama.
type OpenAIClient struct {
	client    *openai.Client
	model     string
	provider  string
	maxTokens int
}

// NewOpenAIClient creates a client. baseURL overrides the API endpoint.
func NewOpenAIClient(apiKey, model, baseURL string, maxTokens int) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		provider:  "openai",
		maxTokens: maxTokens,
	}
}

// Complete sends one user message and returns the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	model := ModelFor(c, req)
	chat := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: req.Temperature,
		MaxTokens:   firstPositive(req.MaxTokens, c.maxTokens),
	}
	if req.JSONMode {
		chat.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	resp, err := c.client.CreateChatCompletion(ctx, chat)
	if err != nil {
		return nil, fmt.Errorf("%s completion: %w", c.provider, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, ErrEmptyResponse
	}
	return &Response{
		Text:      resp.Choices[0].Message.Content,
		Model:     model,
		Provider:  c.provider,
		TokensIn:  int64(resp.Usage.PromptTokens),
		TokensOut: int64(resp.Usage.CompletionTokens),
	}, nil
}

// Provider returns "openai" or "ollama".
func (c *OpenAIClient) Provider() string { return c.provider }

// DefaultModel returns the configured model.
func (c *OpenAIClient) DefaultModel() string { return c.model }

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
