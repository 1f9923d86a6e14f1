package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aescanero/dago-wrap/pkg/controls"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	require.Error(t, err)
}

func TestComplete(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "test-model",
			"content": [
				{"type": "text", "text": "hello "},
				{"type": "text", "text": "world"}
			],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 3, "output_tokens": 2}
		}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{APIKey: "test-key", Model: "test-model"}, nil,
		option.WithBaseURL(server.URL),
		option.WithMaxRetries(0))
	require.NoError(t, err)

	text, err := client.Complete(context.Background(), controls.CompletionRequest{Prompt: "greet"})

	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
	assert.Equal(t, "test-model", got["model"])
	assert.EqualValues(t, defaultMaxTokens, got["max_tokens"])
}

func TestCompleteError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{APIKey: "k"}, nil,
		option.WithBaseURL(server.URL),
		option.WithMaxRetries(0))
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), controls.CompletionRequest{Prompt: "x"})
	require.Error(t, err)
}
