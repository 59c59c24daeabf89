// Copyright 2024 CarbonAI Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/carbonai/internal/resilience"
)

const testAPIKey = "sk-test1234567890abcdef" // pragma: allowlist secret

// mockOpenAIServer serves a fixed status and body for chat completions and
// counts the requests it receives
func mockOpenAIServer(t testing.TB, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/v1/chat/completions" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func createMockChatResponse(content string) string {
	payload := map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "gpt-4",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 30, "total_tokens": 42},
	}
	data, _ := json.Marshal(payload)
	return string(data)
}

func errorBody(message string) string {
	return `{"error": {"message": "` + message + `", "type": "invalid_request_error"}}`
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(Config{APIKey: testAPIKey, BaseURL: baseURL + "/v1"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return client
}

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want error
	}{
		{"valid", testAPIKey, nil},
		{"empty", "", ErrMissingAPIKey},
		{"whitespace", "   ", ErrMissingAPIKey},
		{"wrong prefix", "pk-test1234567890abcdef", ErrInvalidAPIKey},
		{"too short", "sk-short", ErrInvalidAPIKey},
		{"exactly minimum length", "sk-12345678901234567", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAPIKey(tt.key)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewClient(t *testing.T) {
	server, hits := mockOpenAIServer(t, http.StatusOK, createMockChatResponse("{}"))

	client, err := NewClient(Config{APIKey: testAPIKey, BaseURL: server.URL + "/v1/"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, client.Model())
	assert.Zero(t, hits.Load(), "construction must not call the provider")

	_, err = NewClient(Config{APIKey: "bad"}, nil)
	require.Error(t, err)
	aiErr, ok := resilience.AsAIError(err)
	require.True(t, ok)
	assert.Equal(t, resilience.KindConfiguration, aiErr.Kind)
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestCreateChatCompletion(t *testing.T) {
	var received openai.ChatCompletionRequest
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(createMockChatResponse(`[{"title": "Walk"}]`)))
	}))
	defer server.Close()

	client, err := NewClient(Config{
		APIKey:      testAPIKey,
		BaseURL:     server.URL + "/v1",
		Model:       "gpt-4o",
		Temperature: 0.3,
		MaxTokens:   500,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	resp, err := client.CreateChatCompletion(context.Background(), ChatCompletionRequest{
		Messages: []openai.ChatCompletionMessage{SystemMessage("system"), UserMessage("user")},
	})
	require.NoError(t, err)

	assert.Equal(t, `[{"title": "Walk"}]`, resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 42, resp.Usage.TotalTokens)

	assert.Equal(t, "Bearer "+testAPIKey, auth)
	assert.Equal(t, "gpt-4o", received.Model)
	assert.Equal(t, 500, received.MaxTokens)
	assert.InDelta(t, 0.3, received.Temperature, 0.0001)
	require.Len(t, received.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, received.Messages[0].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, received.Messages[1].Role)
}

func TestErrorHandling(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantKind   resilience.ErrorKind
		wantStatus int
	}{
		{"unauthorized", http.StatusUnauthorized, errorBody("Incorrect API key provided"), resilience.KindAuthentication, 401},
		{"rate limited", http.StatusTooManyRequests, errorBody("Rate limit reached"), resilience.KindRateLimit, 429},
		{"forbidden", http.StatusForbidden, errorBody("Country not supported"), resilience.KindAuthorization, 403},
		{"model not found", http.StatusNotFound, errorBody("The model `gpt-9` does not exist"), resilience.KindModelUnavailable, 404},
		{"server error", http.StatusInternalServerError, errorBody("Internal error"), resilience.KindUpstreamService, 500},
		{"bad gateway without json", http.StatusBadGateway, "<html>bad gateway</html>", resilience.KindUpstreamService, 502},
		{"missing choices", http.StatusOK, `{"id": "x", "choices": []}`, resilience.KindMalformedResponse, 200},
		{"invalid json body", http.StatusOK, `not json`, resilience.KindMalformedResponse, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, hits := mockOpenAIServer(t, tt.status, tt.body)
			client := newTestClient(t, server.URL)

			_, err := client.CreateChatCompletion(context.Background(), ChatCompletionRequest{
				Messages: []openai.ChatCompletionMessage{UserMessage("hello")},
			})
			require.Error(t, err)

			aiErr, ok := resilience.AsAIError(err)
			require.True(t, ok, "error must be an AIError: %v", err)
			assert.Equal(t, tt.wantKind, aiErr.Kind)
			assert.Equal(t, tt.wantStatus, aiErr.StatusCode)
			assert.Equal(t, int32(1), hits.Load(), "a failed call is never retried")
		})
	}
}

func TestModelUnavailableSuggestsAlternate(t *testing.T) {
	server, _ := mockOpenAIServer(t, http.StatusNotFound, errorBody("The model `gpt-9` does not exist"))
	client := newTestClient(t, server.URL)

	_, err := client.CreateChatCompletion(context.Background(), ChatCompletionRequest{
		Messages: []openai.ChatCompletionMessage{UserMessage("hello")},
	})
	aiErr, ok := resilience.AsAIError(err)
	require.True(t, ok)
	assert.Contains(t, aiErr.UserMessage(), resilience.DefaultAlternateModel)
}

func TestNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	client := newTestClient(t, url)
	_, err := client.CreateChatCompletion(context.Background(), ChatCompletionRequest{
		Messages: []openai.ChatCompletionMessage{UserMessage("hello")},
	})

	aiErr, ok := resilience.AsAIError(err)
	require.True(t, ok)
	assert.Equal(t, resilience.KindNetwork, aiErr.Kind)
	assert.Zero(t, aiErr.StatusCode)
}

func TestContextCancellation(t *testing.T) {
	server, _ := mockOpenAIServer(t, http.StatusOK, createMockChatResponse("{}"))
	client := newTestClient(t, server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.CreateChatCompletion(ctx, ChatCompletionRequest{
		Messages: []openai.ChatCompletionMessage{UserMessage("hello")},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTruncateText(t *testing.T) {
	assert.Equal(t, "short", truncateText("short", 10))
	assert.Equal(t, "exact", truncateText("exact", 5))
	assert.Equal(t, "trunc...", truncateText("truncated", 5))
	assert.LessOrEqual(t, len(Preview(string(make([]byte, 1000)))), 203)
}
