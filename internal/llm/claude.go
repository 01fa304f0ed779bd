package llm

import (
	"context"
	"fmt"

	"github.com/liushuangls/go-anthropic/v2"
)

const jsonOnlySystem = "Respond with a single JSON object and nothing else."

// ClaudeClient calls Anthropic Claude models.
type ClaudeClient struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

// NewClaudeClient creates a client. baseURL is optional.
func NewClaudeClient(apiKey, model, baseURL string, maxTokens int) *ClaudeClient {
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return &ClaudeClient{
		client:    anthropic.NewClient(apiKey, opts...),
		model:     model,
		maxTokens: maxTokens,
	}
}

// Complete sends one user message. JSON mode is requested through the system prompt.
func (c *ClaudeClient) Complete(ctx context.Context, req Request) (*Response, error) {
	model := ModelFor(c, req)
	msg := anthropic.MessagesRequest{
		Model: anthropic.Model(model),
		Messages: []anthropic.Message{
			{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(req.Prompt)},
			},
		},
		MaxTokens: firstPositive(req.MaxTokens, c.maxTokens, 1024),
	}
	if req.Temperature > 0 {
		t := req.Temperature
		msg.Temperature = &t
	}
	if req.JSONMode {
		msg.System = jsonOnlySystem
	}
	resp, err := c.client.CreateMessages(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("claude completion: %w", err)
	}
	if len(resp.Content) == 0 || resp.Content[0].Text == nil || *resp.Content[0].Text == "" {
		return nil, ErrEmptyResponse
	}
	return &Response{
		Text:      *resp.Content[0].Text,
		Model:     model,
		Provider:  c.Provider(),
		TokensIn:  int64(resp.Usage.InputTokens),
		TokensOut: int64(resp.Usage.OutputTokens),
	}, nil
}

// Provider returns "claude".
func (c *ClaudeClient) Provider() string { return "claude" }

// DefaultModel returns the configured model.
func (c *ClaudeClient) DefaultModel() string { return c.model }
