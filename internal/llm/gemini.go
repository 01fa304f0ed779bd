package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiClient calls Google Gemini models.
type GeminiClient struct {
	client    *genai.Client
	model     string
	maxTokens int
}

// NewGeminiClient creates a client authenticated with apiKey.
func NewGeminiClient(ctx context.Context, apiKey, model string, maxTokens int) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: model, maxTokens: maxTokens}, nil
}

// Complete generates content and joins the text parts of the first candidate.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (*Response, error) {
	name := ModelFor(c, req)
	model := c.client.GenerativeModel(name)
	model.SetTemperature(req.Temperature)
	if n := firstPositive(req.MaxTokens, c.maxTokens); n > 0 {
		model.SetMaxOutputTokens(int32(n))
	}
	if req.JSONMode {
		model.ResponseMIMEType = "application/json"
	}
	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return nil, fmt.Errorf("gemini completion: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ErrEmptyResponse
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	if sb.Len() == 0 {
		return nil, ErrEmptyResponse
	}
	out := &Response{Text: sb.String(), Model: name, Provider: c.Provider()}
	if resp.UsageMetadata != nil {
		out.TokensIn = int64(resp.UsageMetadata.PromptTokenCount)
		out.TokensOut = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

// Provider returns "gemini".
func (c *GeminiClient) Provider() string { return "gemini" }

// DefaultModel returns the configured model.
func (c *GeminiClient) DefaultModel() string { return c.model }

// Close releases the underlying client.
func (c *GeminiClient) Close() error {
	return c.client.Close()
}
