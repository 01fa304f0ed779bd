// Package llm provides completion clients for the providers the engine can
// call (OpenAI-compatible, Gemini, Claude) behind one interface.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when a provider answers without any text.
var ErrEmptyResponse = errors.New("llm: empty response")

// Request is a single prompt completion. An empty Model uses the client default.
// JSONMode asks the provider to constrain output to a JSON object.
type Request struct {
	Prompt      string
	Model       string
	JSONMode    bool
	MaxTokens   int
	Temperature float32
}

// Response is the completion text plus usage for budget accounting.
type Response struct {
	Text      string
	Model     string
	Provider  string
	TokensIn  int64
	TokensOut int64
}

// Client completes prompts.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	// Provider names the backend, e.g. "openai".
	Provider() string
	// DefaultModel is the model used when Request.Model is empty.
	DefaultModel() string
}

// ModelFor returns req.Model, or the client's default when it is empty.
func ModelFor(c Client, req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return c.DefaultModel()
}
