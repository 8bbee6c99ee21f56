package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenAIProvider_Chat(t *testing.T) {
	var captured openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		json.NewEncoder(w).Encode(map[string]any{
			"id":    "chatcmpl-1",
			"model": "llama-3.1-8b-instant",
			"choices": []map[string]any{
				{
					"message":       map[string]string{"role": "assistant", "content": `{"command": "wait"}`},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17},
		})
	}))
	defer srv.Close()

	p := NewOpenAIProvider(Config{
		ID: "groq", Type: "openai", Endpoint: srv.URL,
		APIKey: "sk-test", Model: "llama-3.1-8b-instant",
	}, zap.NewNop())

	resp, err := p.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "user", Content: "decide"}},
		JSONMode: true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"command": "wait"}`, resp.Content)
	assert.Equal(t, 17, resp.Usage.TotalTokens)

	// Model falls back to the configured one and JSON mode is requested.
	assert.Equal(t, "llama-3.1-8b-instant", captured.Model)
	require.NotNil(t, captured.ResponseFormat)
	assert.Equal(t, "json_object", captured.ResponseFormat.Type)
}

func TestOpenAIProvider_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "rate limit exceeded"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(Config{ID: "groq", Endpoint: srv.URL}, zap.NewNop())
	_, err := p.Chat(context.Background(), &ChatRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestAnthropicProvider_Chat(t *testing.T) {
	var captured anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test", r.Header.Get("x-api-key"))
		assert.NotEmpty(t, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		json.NewEncoder(w).Encode(map[string]any{
			"id":    "msg-1",
			"model": "claude-sonnet-4-20250514",
			"content": []map[string]string{
				{"type": "text", "text": `{"command": "wait"}`},
			},
			"stop_reason": "end_turn",
			"usage":       map[string]int{"input_tokens": 10, "output_tokens": 4},
		})
	}))
	defer srv.Close()

	p := NewAnthropicProvider(Config{
		ID: "claude", Type: "anthropic", Endpoint: srv.URL,
		APIKey: "sk-ant-test", Model: "claude-sonnet-4-20250514",
	}, zap.NewNop())

	resp, err := p.Chat(context.Background(), &ChatRequest{
		Messages: []Message{
			{Role: "system", Content: "You are a trader."},
			{Role: "user", Content: "decide"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"command": "wait"}`, resp.Content)
	assert.Equal(t, 14, resp.Usage.TotalTokens)

	// System messages are lifted out of the message list.
	assert.Equal(t, "You are a trader.", captured.System)
	require.Len(t, captured.Messages, 1)
	assert.Equal(t, "user", captured.Messages[0].Role)
}
