package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/taleweave/internal/config"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose", "Here you go: {\"a\":{\"b\":2}} hope it helps", `{"a":{"b":2}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ExtractJSON("no json here")
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		Scenes []struct {
			Summary string `json:"summary"`
		} `json:"scenes"`
	}
	require.NoError(t, DecodeJSON("```\n{\"scenes\":[{\"summary\":\"x\"}]}\n```", &out))
	require.Len(t, out.Scenes, 1)
	assert.Equal(t, "x", out.Scenes[0].Summary)
}

func TestMockClient_QueueThenHandler(t *testing.T) {
	m := NewMockClient("first")
	m.EnqueueError(errors.New("boom"))
	m.Handler = func(req Request) (string, error) { return "handled:" + req.Prompt, nil }
	ctx := context.Background()

	resp, err := m.Complete(ctx, Request{Prompt: "p1"})
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Text)
	assert.Equal(t, "mock-model", resp.Model)

	_, err = m.Complete(ctx, Request{Prompt: "p2"})
	assert.EqualError(t, err, "boom")

	resp, err = m.Complete(ctx, Request{Prompt: "p3", Model: "other"})
	require.NoError(t, err)
	assert.Equal(t, "handled:p3", resp.Text)
	assert.Equal(t, "other", resp.Model)

	assert.Equal(t, 3, m.Calls())
	assert.Equal(t, "p2", m.Requests()[1].Prompt)
}

func TestMockClient_EmptyQueue(t *testing.T) {
	_, err := NewMockClient().Complete(context.Background(), Request{Prompt: "x"})
	assert.ErrorIs(t, err, ErrNoScriptedResponse)
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, config.LLMConfig{Provider: "ollama", Model: "llama3"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", c.Provider())
	assert.Equal(t, "llama3", c.DefaultModel())

	c, err = New(ctx, config.LLMConfig{Provider: "claude", Model: "claude-3-5-haiku-latest"})
	require.NoError(t, err)
	assert.Equal(t, "claude", c.Provider())

	_, err = New(ctx, config.LLMConfig{Provider: "nope"})
	assert.Error(t, err)
}
